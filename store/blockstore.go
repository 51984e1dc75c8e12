package store

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/triunity/node/block"
	"github.com/triunity/node/db"
	"github.com/triunity/node/jsonx"
	"github.com/triunity/node/logx"
)

const defaultBlockCacheSize = 512

// BlockStore persists blocks by height.
type BlockStore interface {
	// GetBlock returns nil, nil when no block is stored at height.
	GetBlock(height uint64) (*block.Block, error)
	StoreBlock(blk *block.Block) error
	GetLatestHeight() uint64
	HasBlock(height uint64) bool
	GetRange(from, to uint64, limit int) ([]*block.Block, error)
	Close() error
}

// GenericBlockStore is a database-agnostic implementation that uses DatabaseProvider
type GenericBlockStore struct {
	provider db.DatabaseProvider
	mu       sync.RWMutex
	latest   uint64
	cache    *lru.Cache
}

func NewGenericBlockStore(provider db.DatabaseProvider, cacheSize int) (*GenericBlockStore, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}
	if cacheSize <= 0 {
		cacheSize = defaultBlockCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create block cache: %w", err)
	}

	s := &GenericBlockStore{provider: provider, cache: cache}
	if err := s.loadLatest(); err != nil {
		return nil, fmt.Errorf("failed to load metadata: %w", err)
	}
	return s, nil
}

func (s *GenericBlockStore) loadLatest() error {
	value, err := s.provider.Get([]byte(PrefixBlockMeta + BlockMetaKeyLatest))
	if err != nil {
		return fmt.Errorf("failed to get latest height: %w", err)
	}
	s.latest, err = decodeUint64(value)
	return err
}

func (s *GenericBlockStore) GetBlock(height uint64) (*block.Block, error) {
	if cached, ok := s.cache.Get(height); ok {
		return cached.(*block.Block), nil
	}

	s.mu.RLock()
	value, err := s.provider.Get(heightKey(PrefixBlock, height))
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("failed to get block %d: %w", height, err)
	}
	if value == nil {
		return nil, nil
	}

	var blk block.Block
	if err := jsonx.Unmarshal(value, &blk); err != nil {
		return nil, fmt.Errorf("failed to unmarshal block %d: %w", height, err)
	}
	s.cache.Add(height, &blk)
	return &blk, nil
}

// StoreBlock writes the block and, when it extends the store, the latest
// height marker in one batch. Rewriting an existing height replaces it.
func (s *GenericBlockStore) StoreBlock(blk *block.Block) error {
	if blk == nil {
		return fmt.Errorf("block cannot be nil")
	}
	value, err := jsonx.Marshal(blk)
	if err != nil {
		return fmt.Errorf("failed to marshal block: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	height := blk.Height()
	batch := s.provider.Batch()
	defer batch.Close()
	batch.Put(heightKey(PrefixBlock, height), value)
	if height > s.latest {
		batch.Put([]byte(PrefixBlockMeta+BlockMetaKeyLatest), encodeUint64(height))
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("failed to store block %d: %w", height, err)
	}

	s.latest = max(s.latest, height)
	s.cache.Add(height, blk)
	logx.Debug("BLOCKSTORE", "Stored block at height", height)
	return nil
}

func (s *GenericBlockStore) GetLatestHeight() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

func (s *GenericBlockStore) HasBlock(height uint64) bool {
	if s.cache.Contains(height) {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ok, err := s.provider.Has(heightKey(PrefixBlock, height))
	if err != nil {
		logx.Error("BLOCKSTORE", "Failed to check block existence", height, "error:", err)
		return false
	}
	return ok
}

// GetRange returns the stored blocks in [from, to], stopping at the first gap
// or after limit blocks.
func (s *GenericBlockStore) GetRange(from, to uint64, limit int) ([]*block.Block, error) {
	var out []*block.Block
	for h := from; h <= to && len(out) < limit; h++ {
		blk, err := s.GetBlock(h)
		if err != nil {
			return nil, err
		}
		if blk == nil {
			break
		}
		out = append(out, blk)
	}
	return out, nil
}

func (s *GenericBlockStore) Close() error {
	s.cache.Purge()
	return s.provider.Close()
}
