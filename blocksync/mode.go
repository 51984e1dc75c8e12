package blocksync

import "fmt"

// Mode is the catch-up strategy of the manager. Exactly one of Synced,
// FastSync, FullSync or BlockSync.
type Mode interface {
	Name() string
	String() string
	isMode()
}

const (
	ModeSynced    = "synced"
	ModeFastSync  = "fast_sync"
	ModeFullSync  = "full_sync"
	ModeBlockSync = "block_sync"
)

// ModeNames lists every mode name, for per-mode gauges.
var ModeNames = []string{ModeSynced, ModeFastSync, ModeFullSync, ModeBlockSync}

type Synced struct{}

// FastSync jumps to a checkpoint near the target before backfilling.
type FastSync struct {
	CheckpointHeight uint64
}

type FullSync struct {
	StartHeight uint64
}

// BlockSync fetches the exact inclusive range From..To.
type BlockSync struct {
	From uint64
	To   uint64
}

func (Synced) isMode()    {}
func (FastSync) isMode()  {}
func (FullSync) isMode()  {}
func (BlockSync) isMode() {}

func (Synced) Name() string    { return ModeSynced }
func (FastSync) Name() string  { return ModeFastSync }
func (FullSync) Name() string  { return ModeFullSync }
func (BlockSync) Name() string { return ModeBlockSync }

func (Synced) String() string { return ModeSynced }

func (m FastSync) String() string {
	return fmt.Sprintf("%s(checkpoint=%d)", ModeFastSync, m.CheckpointHeight)
}

func (m FullSync) String() string {
	return fmt.Sprintf("%s(start=%d)", ModeFullSync, m.StartHeight)
}

func (m BlockSync) String() string {
	return fmt.Sprintf("%s(%d..%d)", ModeBlockSync, m.From, m.To)
}
