package merkle

import (
	"github.com/triunity/node/transaction"
	"github.com/triunity/node/types"
)

// Step is one level of an inclusion proof.
type Step struct {
	Hash    types.Hash `json:"hash"`
	IsRight bool       `json:"is_right"`
}

// Proof proves LeafHash is committed under Root.
type Proof struct {
	LeafHash types.Hash `json:"leaf_hash"`
	Path     []Step     `json:"path"`
	Root     types.Hash `json:"root"`
}

// Tree keeps every level so proofs can be read off without rehashing.
// levels[0] holds the leaves, the last level holds the root.
type Tree struct {
	levels [][]types.Hash
}

// New builds a tree over leaves. Odd levels pair their last node with itself.
func New(leaves []types.Hash) *Tree {
	if len(leaves) == 0 {
		return &Tree{}
	}
	level := make([]types.Hash, len(leaves))
	copy(level, leaves)
	levels := [][]types.Hash{level}
	for len(level) > 1 {
		next := make([]types.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, types.HashConcat(left, right))
		}
		levels = append(levels, next)
		level = next
	}
	return &Tree{levels: levels}
}

func LeafHashes(txs []*transaction.Transaction) []types.Hash {
	leaves := make([]types.Hash, len(txs))
	for i, tx := range txs {
		leaves[i] = tx.Hash()
	}
	return leaves
}

func FromTransactions(txs []*transaction.Transaction) *Tree {
	return New(LeafHashes(txs))
}

// Root is the commitment over txs; all zeros for an empty list.
func Root(txs []*transaction.Transaction) types.Hash {
	return FromTransactions(txs).Root()
}

func (t *Tree) Root() types.Hash {
	if len(t.levels) == 0 {
		return types.ZeroHash
	}
	return t.levels[len(t.levels)-1][0]
}

func (t *Tree) Len() int {
	if len(t.levels) == 0 {
		return 0
	}
	return len(t.levels[0])
}

func (t *Tree) Leaves() []types.Hash {
	if len(t.levels) == 0 {
		return nil
	}
	out := make([]types.Hash, len(t.levels[0]))
	copy(out, t.levels[0])
	return out
}

// Proof returns the inclusion proof for leaf index, or false when index is out of range.
func (t *Tree) Proof(index int) (*Proof, bool) {
	if index < 0 || index >= t.Len() {
		return nil, false
	}
	proof := &Proof{
		LeafHash: t.levels[0][index],
		Path:     make([]Step, 0, len(t.levels)-1),
		Root:     t.Root(),
	}
	idx := index
	for _, level := range t.levels[:len(t.levels)-1] {
		if idx%2 == 0 {
			sibling := level[idx]
			if idx+1 < len(level) {
				sibling = level[idx+1]
			}
			proof.Path = append(proof.Path, Step{Hash: sibling, IsRight: true})
		} else {
			proof.Path = append(proof.Path, Step{Hash: level[idx-1], IsRight: false})
		}
		idx /= 2
	}
	return proof, true
}

// VerifyProof folds the leaf through the path and compares against the claimed root.
func VerifyProof(p *Proof) bool {
	if p == nil {
		return false
	}
	current := p.LeafHash
	for _, step := range p.Path {
		if step.IsRight {
			current = types.HashConcat(current, step.Hash)
		} else {
			current = types.HashConcat(step.Hash, current)
		}
	}
	return current == p.Root
}
