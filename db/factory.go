package db

import (
	"fmt"
	"os"
)

type Backend string

const (
	BackendLevelDB Backend = "leveldb"
	BackendBolt    Backend = "bolt"
	BackendMemory  Backend = "memory"
)

// NewProvider opens the backend rooted at dir. The memory backend ignores dir.
func NewProvider(backend Backend, dir string) (DatabaseProvider, error) {
	if backend != BackendMemory {
		if dir == "" {
			return nil, fmt.Errorf("directory cannot be empty for %s", backend)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir %s: %w", dir, err)
		}
	}

	switch backend {
	case BackendLevelDB:
		p, err := NewLevelDBProvider(dir)
		if err != nil {
			return nil, err
		}
		return p, nil
	case BackendBolt:
		p, err := NewBoltProvider(dir)
		if err != nil {
			return nil, err
		}
		return p, nil
	case BackendMemory:
		return NewMemoryProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported db backend: %s", backend)
	}
}
