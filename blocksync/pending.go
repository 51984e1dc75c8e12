package blocksync

import (
	"time"

	"github.com/google/btree"
	"github.com/triunity/node/block"
)

type pendingBlock struct {
	height   uint64
	block    *block.Block
	peerID   string
	received time.Time
}

// pendingBuffer holds validated blocks ordered by height until their
// predecessor has been applied.
type pendingBuffer struct {
	tree *btree.BTreeG[*pendingBlock]
}

func newPendingBuffer() *pendingBuffer {
	return &pendingBuffer{
		tree: btree.NewG(16, func(a, b *pendingBlock) bool { return a.height < b.height }),
	}
}

func (p *pendingBuffer) Len() int {
	return p.tree.Len()
}

func (p *pendingBuffer) Has(height uint64) bool {
	return p.tree.Has(&pendingBlock{height: height})
}

func (p *pendingBuffer) Put(pb *pendingBlock) {
	p.tree.ReplaceOrInsert(pb)
}

func (p *pendingBuffer) Min() (*pendingBlock, bool) {
	return p.tree.Min()
}

func (p *pendingBuffer) Delete(height uint64) {
	p.tree.Delete(&pendingBlock{height: height})
}

// DropThrough removes every entry at or below height.
func (p *pendingBuffer) DropThrough(height uint64) int {
	dropped := 0
	for {
		pb, ok := p.tree.Min()
		if !ok || pb.height > height {
			return dropped
		}
		p.tree.DeleteMin()
		dropped++
	}
}

// DropBefore removes entries received before cutoff and returns their heights.
func (p *pendingBuffer) DropBefore(cutoff time.Time) []uint64 {
	var stale []uint64
	p.tree.Ascend(func(pb *pendingBlock) bool {
		if pb.received.Before(cutoff) {
			stale = append(stale, pb.height)
		}
		return true
	})
	for _, h := range stale {
		p.Delete(h)
	}
	return stale
}
