package types

import (
	"github.com/holiman/uint256"
	"github.com/triunity/node/common"
)

const AddressSize = 20

type Account struct {
	Address string       `json:"address"`
	Balance *uint256.Int `json:"balance"`
	Nonce   uint64       `json:"nonce"`
}

func NewAccount(addr string, balance *uint256.Int) *Account {
	if balance == nil {
		balance = uint256.NewInt(0)
	}
	return &Account{Address: addr, Balance: balance}
}

func (a *Account) Clone() *Account {
	return &Account{Address: a.Address, Balance: new(uint256.Int).Set(a.Balance), Nonce: a.Nonce}
}

// AddressFromIdentity maps a sender or recipient identity to its account address.
// A 20-byte identity is already an address; anything else (a public key) is hashed.
func AddressFromIdentity(id []byte) []byte {
	if len(id) == AddressSize {
		out := make([]byte, AddressSize)
		copy(out, id)
		return out
	}
	h := HashBytes(id)
	return h[:AddressSize]
}

// AccountKey is the base58 form of an identity's address.
func AccountKey(id []byte) string {
	return common.EncodeBytesToBase58(AddressFromIdentity(id))
}
