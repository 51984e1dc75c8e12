package store

import (
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/triunity/node/db"
	"github.com/triunity/node/jsonx"
	"github.com/triunity/node/types"
)

type AccountStore interface {
	// GetByAddr returns nil, nil for an unknown address.
	GetByAddr(addr string) (*types.Account, error)
	GetBatch(addrs []string) (map[string]*types.Account, error)
	StoreBatch(accounts []*types.Account) error
	// CommitBlock writes accounts and the applied height atomically.
	CommitBlock(accounts []*types.Account, height uint64) error
	AppliedHeight() (uint64, error)
	// ForEach visits stored accounts in key order until fn returns false.
	ForEach(fn func(*types.Account) bool) error
	Close() error
}

type accountRecord struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

type GenericAccountStore struct {
	mu         sync.RWMutex
	dbProvider db.DatabaseProvider
}

func NewGenericAccountStore(dbProvider db.DatabaseProvider) (*GenericAccountStore, error) {
	if dbProvider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}
	return &GenericAccountStore{dbProvider: dbProvider}, nil
}

func (as *GenericAccountStore) getDbKey(addr string) []byte {
	return []byte(PrefixAccount + addr)
}

func encodeAccount(acc *types.Account) ([]byte, error) {
	balance := acc.Balance
	if balance == nil {
		balance = uint256.NewInt(0)
	}
	data, err := jsonx.Marshal(accountRecord{Address: acc.Address, Balance: balance.Dec(), Nonce: acc.Nonce})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal account %s: %w", acc.Address, err)
	}
	return data, nil
}

func decodeAccount(addr string, data []byte) (*types.Account, error) {
	var rec accountRecord
	if err := jsonx.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account %s: %w", addr, err)
	}
	balance, err := uint256.FromDecimal(rec.Balance)
	if err != nil {
		return nil, fmt.Errorf("invalid balance for account %s: %w", addr, err)
	}
	return &types.Account{Address: rec.Address, Balance: balance, Nonce: rec.Nonce}, nil
}

func (as *GenericAccountStore) GetByAddr(addr string) (*types.Account, error) {
	as.mu.RLock()
	defer as.mu.RUnlock()

	data, err := as.dbProvider.Get(as.getDbKey(addr))
	if err != nil {
		return nil, fmt.Errorf("could not get account %s from db: %w", addr, err)
	}
	if data == nil {
		return nil, nil
	}
	return decodeAccount(addr, data)
}

// GetBatch maps every requested address to its account, nil when missing.
func (as *GenericAccountStore) GetBatch(addrs []string) (map[string]*types.Account, error) {
	as.mu.RLock()
	defer as.mu.RUnlock()

	keys := make([][]byte, 0, len(addrs))
	for _, addr := range addrs {
		keys = append(keys, as.getDbKey(addr))
	}
	raw, err := as.dbProvider.GetBatch(keys)
	if err != nil {
		return nil, fmt.Errorf("could not get accounts from db: %w", err)
	}

	result := make(map[string]*types.Account, len(addrs))
	for i, addr := range addrs {
		data, ok := raw[string(keys[i])]
		if !ok {
			result[addr] = nil
			continue
		}
		acc, err := decodeAccount(addr, data)
		if err != nil {
			return nil, err
		}
		result[addr] = acc
	}
	return result, nil
}

func (as *GenericAccountStore) StoreBatch(accounts []*types.Account) error {
	return as.write(accounts, nil)
}

func (as *GenericAccountStore) CommitBlock(accounts []*types.Account, height uint64) error {
	return as.write(accounts, &height)
}

func (as *GenericAccountStore) write(accounts []*types.Account, height *uint64) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	batch := as.dbProvider.Batch()
	defer batch.Close()
	for _, acc := range accounts {
		data, err := encodeAccount(acc)
		if err != nil {
			return err
		}
		batch.Put(as.getDbKey(acc.Address), data)
	}
	if height != nil {
		batch.Put([]byte(PrefixStateMeta+StateMetaKeyApplied), encodeUint64(*height))
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("failed to write batch of accounts to database: %w", err)
	}
	return nil
}

func (as *GenericAccountStore) AppliedHeight() (uint64, error) {
	as.mu.RLock()
	defer as.mu.RUnlock()
	value, err := as.dbProvider.Get([]byte(PrefixStateMeta + StateMetaKeyApplied))
	if err != nil {
		return 0, fmt.Errorf("failed to read applied height: %w", err)
	}
	return decodeUint64(value)
}

func (as *GenericAccountStore) ForEach(fn func(*types.Account) bool) error {
	as.mu.RLock()
	defer as.mu.RUnlock()

	var decodeErr error
	err := as.dbProvider.IteratePrefix([]byte(PrefixAccount), func(key, value []byte) bool {
		acc, err := decodeAccount(string(key[len(PrefixAccount):]), value)
		if err != nil {
			decodeErr = err
			return false
		}
		return fn(acc)
	})
	if err != nil {
		return fmt.Errorf("failed to iterate accounts: %w", err)
	}
	return decodeErr
}

func (as *GenericAccountStore) Close() error {
	return as.dbProvider.Close()
}
