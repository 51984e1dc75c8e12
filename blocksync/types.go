package blocksync

import (
	"time"

	"github.com/triunity/node/block"
)

// Peer is the manager's view of a remote node.
type Peer struct {
	ID          string
	Height      uint64
	Speed       float64 // blocks per second
	Reliability float64
	Syncing     bool
	LastSeen    time.Time
	AssignedAt  time.Time
}

// PeerHeight is one entry of the periodic peer height feed.
type PeerHeight struct {
	PeerID string `json:"peer_id"`
	Height uint64 `json:"height"`
}

type SyncRequest struct {
	StartHeight uint64 `json:"start_height"`
	EndHeight   uint64 `json:"end_height"`
	MaxBlocks   uint32 `json:"max_blocks"`
}

// Count is the number of heights the request covers.
func (r SyncRequest) Count() uint64 {
	if r.EndHeight < r.StartHeight {
		return 0
	}
	return r.EndHeight - r.StartHeight + 1
}

type SyncResponse struct {
	Blocks      []*block.Block `json:"blocks"`
	StartHeight uint64         `json:"start_height"`
	IsFinal     bool           `json:"is_final"`
	PeerHeight  uint64         `json:"peer_height"`
}

// Assignment pairs a request with the peer chosen to serve it.
type Assignment struct {
	PeerID  string
	Request SyncRequest
}

type Progress struct {
	CurrentHeight uint64
	TargetHeight  uint64
	Percentage    float64
	Mode          string
	ActivePeers   int
	SyncSpeed     float64
	ETA           time.Duration
	PendingBlocks int
}
