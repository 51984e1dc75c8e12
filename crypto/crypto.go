package crypto

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/cloudflare/circl/sign/dilithium/mode2"
	"github.com/triunity/node/common"
	"github.com/triunity/node/types"
)

const (
	SeedSize      = 32
	PublicKeySize = mode2.PublicKeySize
	SignatureSize = mode2.SignatureSize
)

// Signature is an opaque post-quantum signature.
type Signature []byte

// Verify checks s over message using the default scheme.
func (s Signature) Verify(message, publicKey []byte) bool {
	return DefaultScheme().Verify(publicKey, message, s)
}

// Scheme is the sign/verify capability consumed by validation.
type Scheme interface {
	Name() string
	Verify(publicKey, message []byte, sig Signature) bool
}

// Dilithium2 verifies CRYSTALS-Dilithium (NIST level 2) signatures.
type Dilithium2 struct{}

func (Dilithium2) Name() string { return "dilithium2" }

func (Dilithium2) Verify(publicKey, message []byte, sig Signature) bool {
	if len(publicKey) != PublicKeySize || len(sig) != SignatureSize {
		return false
	}
	var buf [PublicKeySize]byte
	copy(buf[:], publicKey)
	var pk mode2.PublicKey
	pk.Unpack(&buf)
	return mode2.Verify(&pk, message, sig)
}

type schemeHolder struct{ Scheme }

var defaultScheme atomic.Pointer[schemeHolder]

func init() {
	defaultScheme.Store(&schemeHolder{Dilithium2{}})
}

func DefaultScheme() Scheme {
	return defaultScheme.Load().Scheme
}

// SetDefaultScheme swaps the scheme used by Signature.Verify. Verifications
// already running keep the scheme they loaded.
func SetDefaultScheme(s Scheme) {
	if s != nil {
		defaultScheme.Store(&schemeHolder{s})
	}
}

// KeyPair is a Dilithium2 signing identity. The public key is the node or account identity.
type KeyPair struct {
	seed [SeedSize]byte
	pub  *mode2.PublicKey
	priv *mode2.PrivateKey
}

func GenerateKeyPair(r io.Reader) (*KeyPair, error) {
	if r == nil {
		r = rand.Reader
	}
	var seed [SeedSize]byte
	if _, err := io.ReadFull(r, seed[:]); err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	return KeyPairFromSeed(seed), nil
}

func KeyPairFromSeed(seed [SeedSize]byte) *KeyPair {
	pub, priv := mode2.NewKeyFromSeed(&seed)
	return &KeyPair{seed: seed, pub: pub, priv: priv}
}

// KeyPairFromBase58 restores a key pair from its encoded seed.
func KeyPairFromBase58(s string) (*KeyPair, error) {
	raw, err := common.DecodeBase58Fixed(s, SeedSize)
	if err != nil {
		return nil, fmt.Errorf("invalid key seed: %w", err)
	}
	var seed [SeedSize]byte
	copy(seed[:], raw)
	return KeyPairFromSeed(seed), nil
}

func (kp *KeyPair) Seed() []byte {
	return append([]byte(nil), kp.seed[:]...)
}

func (kp *KeyPair) SeedBase58() string {
	return common.EncodeBytesToBase58(kp.seed[:])
}

func (kp *KeyPair) PublicKey() []byte {
	var buf [PublicKeySize]byte
	kp.pub.Pack(&buf)
	return buf[:]
}

func (kp *KeyPair) Sign(message []byte) Signature {
	sig := make([]byte, SignatureSize)
	mode2.SignTo(kp.priv, message, sig)
	return sig
}

// Address is the 20-byte account address derived from the public key.
func (kp *KeyPair) Address() []byte {
	return types.AddressFromIdentity(kp.PublicKey())
}

func (kp *KeyPair) AddressBase58() string {
	return common.EncodeBytesToBase58(kp.Address())
}
