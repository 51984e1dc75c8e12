package db

// DatabaseProvider abstracts the key-value backend under the stores.
// Get returns nil, nil for a missing key.
type DatabaseProvider interface {
	Get(key []byte) ([]byte, error)

	// GetBatch returns the values of the keys that exist, keyed by string(key).
	GetBatch(keys [][]byte) (map[string][]byte, error)

	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	Close() error

	// Batch returns a new batch for atomic operations
	Batch() DatabaseBatch

	// IteratePrefix visits keys with the given prefix in ascending order until
	// the callback returns false.
	IteratePrefix(prefix []byte, callback func(key, value []byte) bool) error
}

// DatabaseBatch collects writes that are committed atomically by Write.
type DatabaseBatch interface {
	Put(key, value []byte)
	Delete(key []byte)
	Write() error
	Reset()
	Close()
}

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
