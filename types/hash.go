package types

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

const HashSize = 32

// Hash is a SHA3-256 digest.
type Hash [HashSize]byte

// ZeroHash is the commitment of an empty transaction list and the parent of genesis.
var ZeroHash Hash

func HashBytes(data ...[]byte) Hash {
	h := sha3.New256()
	for _, d := range data {
		h.Write(d)
	}
	var out Hash
	h.Sum(out[:0])
	return out
}

// HashConcat hashes left||right.
func HashConcat(left, right Hash) Hash {
	return HashBytes(left[:], right[:])
}

func (h Hash) IsZero() bool {
	return h == ZeroHash
}

func (h Hash) Bytes() []byte {
	return h[:]
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := HashFromHex(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func HashFromHex(s string) (Hash, error) {
	var h Hash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash hex: %w", err)
	}
	if len(raw) != HashSize {
		return h, fmt.Errorf("invalid hash length %d", len(raw))
	}
	copy(h[:], raw)
	return h, nil
}
