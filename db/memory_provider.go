package db

import (
	"bytes"
	"sync"

	"github.com/google/btree"
)

type memEntry struct {
	key   []byte
	value []byte
}

func memLess(a, b memEntry) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// MemoryProvider is an ordered in-process DatabaseProvider for tests and
// ephemeral nodes.
type MemoryProvider struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[memEntry]
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{tree: btree.NewG(32, memLess)}
}

func (p *MemoryProvider) Get(key []byte) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.tree.Get(memEntry{key: key})
	if !ok {
		return nil, nil
	}
	return copyBytes(e.value), nil
}

func (p *MemoryProvider) GetBatch(keys [][]byte) (map[string][]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	result := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if e, ok := p.tree.Get(memEntry{key: key}); ok {
			result[string(key)] = copyBytes(e.value)
		}
	}
	return result, nil
}

func (p *MemoryProvider) Put(key, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tree.ReplaceOrInsert(memEntry{key: copyBytes(key), value: copyBytes(value)})
	return nil
}

func (p *MemoryProvider) Delete(key []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tree.Delete(memEntry{key: key})
	return nil
}

func (p *MemoryProvider) Has(key []byte) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tree.Has(memEntry{key: key}), nil
}

func (p *MemoryProvider) Close() error {
	return nil
}

func (p *MemoryProvider) Batch() DatabaseBatch {
	return &MemoryBatch{provider: p}
}

func (p *MemoryProvider) IteratePrefix(prefix []byte, callback func(key, value []byte) bool) error {
	p.mu.RLock()
	var matched []memEntry
	p.tree.AscendGreaterOrEqual(memEntry{key: prefix}, func(e memEntry) bool {
		if !bytes.HasPrefix(e.key, prefix) {
			return false
		}
		matched = append(matched, e)
		return true
	})
	p.mu.RUnlock()

	for _, e := range matched {
		if !callback(copyBytes(e.key), copyBytes(e.value)) {
			break
		}
	}
	return nil
}

type MemoryBatch struct {
	provider *MemoryProvider
	ops      []batchOp
}

func (b *MemoryBatch) Put(key, value []byte) {
	b.ops = append(b.ops, batchOp{key: copyBytes(key), value: copyBytes(value)})
}

func (b *MemoryBatch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{key: copyBytes(key), delete: true})
}

func (b *MemoryBatch) Write() error {
	b.provider.mu.Lock()
	defer b.provider.mu.Unlock()
	for _, op := range b.ops {
		if op.delete {
			b.provider.tree.Delete(memEntry{key: op.key})
		} else {
			b.provider.tree.ReplaceOrInsert(memEntry{key: op.key, value: op.value})
		}
	}
	return nil
}

func (b *MemoryBatch) Reset() {
	b.ops = b.ops[:0]
}

func (b *MemoryBatch) Close() {
	b.ops = nil
}
