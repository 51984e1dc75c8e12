package db

import (
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	levelBlockCacheMiB  = 32
	levelWriteBufferMiB = 16
)

// LevelDBProvider stores blocks and state in a LevelDB directory. Batch writes
// are fsynced; single puts are not.
type LevelDBProvider struct {
	db      *leveldb.DB
	syncWO  *opt.WriteOptions
	closeMu sync.Once
}

func NewLevelDBProvider(directory string) (*LevelDBProvider, error) {
	ldb, err := leveldb.OpenFile(directory, &opt.Options{
		BlockCacheCapacity: levelBlockCacheMiB * opt.MiB,
		WriteBuffer:        levelWriteBufferMiB * opt.MiB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open LevelDB at %s: %w", directory, err)
	}
	return &LevelDBProvider{db: ldb, syncWO: &opt.WriteOptions{Sync: true}}, nil
}

func notFound(err error) bool {
	return errors.Is(err, leveldb.ErrNotFound)
}

func (p *LevelDBProvider) Get(key []byte) ([]byte, error) {
	value, err := p.db.Get(key, nil)
	if notFound(err) {
		return nil, nil
	}
	return value, err
}

// GetBatch reads every key from one snapshot so the values are mutually consistent.
func (p *LevelDBProvider) GetBatch(keys [][]byte) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return result, nil
	}
	snap, err := p.db.GetSnapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to take snapshot: %w", err)
	}
	defer snap.Release()

	for _, key := range keys {
		switch value, err := snap.Get(key, nil); {
		case notFound(err):
		case err != nil:
			return nil, fmt.Errorf("snapshot get %x: %w", key, err)
		default:
			result[string(key)] = value
		}
	}
	return result, nil
}

func (p *LevelDBProvider) Put(key, value []byte) error  { return p.db.Put(key, value, nil) }
func (p *LevelDBProvider) Delete(key []byte) error      { return p.db.Delete(key, nil) }
func (p *LevelDBProvider) Has(key []byte) (bool, error) { return p.db.Has(key, nil) }

// Close is safe to call from every store sharing the provider.
func (p *LevelDBProvider) Close() (err error) {
	p.closeMu.Do(func() { err = p.db.Close() })
	return err
}

func (p *LevelDBProvider) Batch() DatabaseBatch {
	return &levelBatch{provider: p}
}

// IteratePrefix walks a snapshot, so writes made from the callback are not observed.
func (p *LevelDBProvider) IteratePrefix(prefix []byte, callback func(key, value []byte) bool) error {
	snap, err := p.db.GetSnapshot()
	if err != nil {
		return fmt.Errorf("failed to take snapshot: %w", err)
	}
	defer snap.Release()

	iter := snap.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() && callback(iter.Key(), iter.Value()) {
	}
	return iter.Error()
}

type levelBatch struct {
	provider *LevelDBProvider
	batch    leveldb.Batch
}

func (b *levelBatch) Put(key, value []byte) { b.batch.Put(key, value) }
func (b *levelBatch) Delete(key []byte)     { b.batch.Delete(key) }
func (b *levelBatch) Reset()                { b.batch.Reset() }
func (b *levelBatch) Close()                {}

func (b *levelBatch) Write() error {
	if b.batch.Len() == 0 {
		return nil
	}
	return b.provider.db.Write(&b.batch, b.provider.syncWO)
}
