package transaction

import (
	"encoding/binary"

	"github.com/holiman/uint256"
	"github.com/triunity/node/crypto"
	nodeerrors "github.com/triunity/node/errors"
	"github.com/triunity/node/types"
)

// Limits to prevent DoS via oversized inputs
const (
	MaxIdentityLen = 4096
	MaxPayloadLen  = 64 * 1024
)

type Transaction struct {
	Sender    []byte           `json:"sender"`
	Recipient []byte           `json:"recipient"`
	Amount    *uint256.Int     `json:"amount"`
	Fee       *uint256.Int     `json:"fee"`
	Nonce     uint64           `json:"nonce"`
	Payload   []byte           `json:"payload,omitempty"`
	Signature crypto.Signature `json:"signature,omitempty"`
}

func NewTransfer(sender, recipient []byte, amount, fee uint64, nonce uint64) *Transaction {
	return &Transaction{
		Sender:    sender,
		Recipient: recipient,
		Amount:    uint256.NewInt(amount),
		Fee:       uint256.NewInt(fee),
		Nonce:     nonce,
	}
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

func (tx *Transaction) AmountOrZero() *uint256.Int {
	return orZero(tx.Amount)
}

func (tx *Transaction) FeeOrZero() *uint256.Int {
	return orZero(tx.Fee)
}

func appendBytes(buf, b []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

// SigningBytes is the canonical encoding of every field except the signature:
// length-prefixed sender and recipient, 32-byte amount and fee, 8-byte nonce,
// length-prefixed payload. All integers are big-endian.
func (tx *Transaction) SigningBytes() []byte {
	buf := make([]byte, 0, 4+len(tx.Sender)+4+len(tx.Recipient)+32+32+8+4+len(tx.Payload))
	buf = appendBytes(buf, tx.Sender)
	buf = appendBytes(buf, tx.Recipient)
	amount := tx.AmountOrZero().Bytes32()
	buf = append(buf, amount[:]...)
	fee := tx.FeeOrZero().Bytes32()
	buf = append(buf, fee[:]...)
	buf = binary.BigEndian.AppendUint64(buf, tx.Nonce)
	buf = appendBytes(buf, tx.Payload)
	return buf
}

// Bytes is the signing encoding followed by the length-prefixed signature.
func (tx *Transaction) Bytes() []byte {
	return appendBytes(tx.SigningBytes(), tx.Signature)
}

// Hash commits to the full transaction, signature included.
func (tx *Transaction) Hash() types.Hash {
	return types.HashBytes(tx.Bytes())
}

func (tx *Transaction) Sign(kp *crypto.KeyPair) {
	tx.Signature = kp.Sign(tx.SigningBytes())
}

func (tx *Transaction) Size() int {
	return len(tx.Bytes())
}

func (tx *Transaction) IsTransfer() bool {
	return !tx.AmountOrZero().IsZero()
}

func (tx *Transaction) IsContractCall() bool {
	return len(tx.Payload) > 0
}

// Validate checks structure and signature with the default scheme.
func (tx *Transaction) Validate() error {
	return tx.ValidateWith(crypto.DefaultScheme())
}

func (tx *Transaction) ValidateWith(scheme crypto.Scheme) error {
	if tx == nil {
		return nodeerrors.New(nodeerrors.CodeInvalidTransaction, "transaction is nil")
	}
	if len(tx.Sender) == 0 {
		return nodeerrors.New(nodeerrors.CodeInvalidTransaction, nodeerrors.MsgEmptySender)
	}
	if len(tx.Recipient) == 0 {
		return nodeerrors.New(nodeerrors.CodeInvalidTransaction, nodeerrors.MsgEmptyRecipient)
	}
	if len(tx.Sender) > MaxIdentityLen || len(tx.Recipient) > MaxIdentityLen || len(tx.Payload) > MaxPayloadLen {
		return nodeerrors.New(nodeerrors.CodeInvalidTransaction, "transaction field exceeds size limit")
	}
	if !tx.IsTransfer() && !tx.IsContractCall() {
		return nodeerrors.New(nodeerrors.CodeInvalidTransaction, nodeerrors.MsgEmptyTransfer)
	}
	if !scheme.Verify(tx.Sender, tx.SigningBytes(), tx.Signature) {
		return nodeerrors.New(nodeerrors.CodeInvalidSignature, nodeerrors.MsgBadSignature)
	}
	return nil
}
