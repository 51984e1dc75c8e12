package store

import (
	"encoding/binary"
	"fmt"
)

func putUint64(dst []byte, v uint64) {
	binary.BigEndian.PutUint64(dst, v)
}

func encodeUint64(v uint64) []byte {
	out := make([]byte, 8)
	putUint64(out, v)
	return out
}

// decodeUint64 treats a missing value as zero.
func decodeUint64(value []byte) (uint64, error) {
	if value == nil {
		return 0, nil
	}
	if len(value) != 8 {
		return 0, fmt.Errorf("invalid uint64 value length: %d", len(value))
	}
	return binary.BigEndian.Uint64(value), nil
}
