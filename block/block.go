package block

import (
	"encoding/binary"
	"fmt"

	"github.com/holiman/uint256"
	nodeerrors "github.com/triunity/node/errors"
	"github.com/triunity/node/jsonx"
	"github.com/triunity/node/merkle"
	"github.com/triunity/node/transaction"
	"github.com/triunity/node/types"
	"github.com/triunity/node/utils"
)

const CurrentVersion uint32 = 1

type Header struct {
	Version    uint32        `json:"version"`
	PrevHash   types.Hash    `json:"prev_hash"`
	MerkleRoot types.Hash    `json:"merkle_root"`
	Timestamp  uint64        `json:"timestamp"` // unix millis
	Height     uint64        `json:"height"`
	Consensus  ConsensusData `json:"-"`
}

type headerJSON struct {
	Version    uint32           `json:"version"`
	PrevHash   types.Hash       `json:"prev_hash"`
	MerkleRoot types.Hash       `json:"merkle_root"`
	Timestamp  uint64           `json:"timestamp"`
	Height     uint64           `json:"height"`
	Consensus  jsonx.RawMessage `json:"consensus"`
}

func (h Header) MarshalJSON() ([]byte, error) {
	cd, err := marshalConsensus(h.Consensus)
	if err != nil {
		return nil, err
	}
	return jsonx.Marshal(headerJSON{
		Version:    h.Version,
		PrevHash:   h.PrevHash,
		MerkleRoot: h.MerkleRoot,
		Timestamp:  h.Timestamp,
		Height:     h.Height,
		Consensus:  cd,
	})
}

func (h *Header) UnmarshalJSON(data []byte) error {
	var raw headerJSON
	if err := jsonx.Unmarshal(data, &raw); err != nil {
		return err
	}
	cd, err := unmarshalConsensus(raw.Consensus)
	if err != nil {
		return err
	}
	*h = Header{
		Version:    raw.Version,
		PrevHash:   raw.PrevHash,
		MerkleRoot: raw.MerkleRoot,
		Timestamp:  raw.Timestamp,
		Height:     raw.Height,
		Consensus:  cd,
	}
	return nil
}

// Bytes is the canonical header encoding hashed into the block id.
func (h *Header) Bytes() []byte {
	buf := make([]byte, 0, 4+32+32+8+8+64)
	buf = binary.BigEndian.AppendUint32(buf, h.Version)
	buf = append(buf, h.PrevHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = binary.BigEndian.AppendUint64(buf, h.Timestamp)
	buf = binary.BigEndian.AppendUint64(buf, h.Height)
	if h.Consensus != nil {
		buf = h.Consensus.appendTo(buf)
	}
	return buf
}

type Block struct {
	Header       Header                     `json:"header"`
	Transactions []*transaction.Transaction `json:"transactions"`
}

// Assemble builds a block on top of prevHash, committing txs and stamping the clock time.
func Assemble(prevHash types.Hash, txs []*transaction.Transaction, height uint64, data ConsensusData, clock utils.Clock) *Block {
	if data == nil {
		data = DefaultConsensusData()
	}
	return &Block{
		Header: Header{
			Version:    CurrentVersion,
			PrevHash:   prevHash,
			MerkleRoot: merkle.Root(txs),
			Timestamp:  utils.UnixMillis(utils.OrSystem(clock).Now()),
			Height:     height,
			Consensus:  data,
		},
		Transactions: txs,
	}
}

// Genesis is the empty block at height with a zero parent.
func Genesis(height, timestamp uint64) *Block {
	return &Block{
		Header: Header{
			Version:   CurrentVersion,
			Timestamp: timestamp,
			Height:    height,
			Consensus: DefaultConsensusData(),
		},
	}
}

func (b *Block) Hash() types.Hash {
	return types.HashBytes(b.Header.Bytes())
}

func (b *Block) Height() uint64 {
	return b.Header.Height
}

func (b *Block) PrevHash() types.Hash {
	return b.Header.PrevHash
}

// Validate checks the block in isolation: version, commitment, every transaction.
// Linkage to the local chain tip is checked by the sync manager.
func (b *Block) Validate() error {
	if b == nil {
		return nodeerrors.New(nodeerrors.CodeMalformedBlock, "block is nil")
	}
	if b.Header.Version == 0 {
		return nodeerrors.New(nodeerrors.CodeInvalidVersion, nodeerrors.MsgZeroVersion)
	}
	if b.Header.Consensus == nil {
		return nodeerrors.New(nodeerrors.CodeMalformedBlock, "consensus data missing")
	}
	for i, tx := range b.Transactions {
		if tx == nil {
			return nodeerrors.New(nodeerrors.CodeMalformedBlock, fmt.Sprintf("transaction %d is nil", i))
		}
	}
	if merkle.Root(b.Transactions) != b.Header.MerkleRoot {
		return nodeerrors.New(nodeerrors.CodeMerkleMismatch, nodeerrors.MsgMerkleMismatch)
	}
	for i, tx := range b.Transactions {
		if err := tx.Validate(); err != nil {
			return fmt.Errorf("transaction %d: %w", i, err)
		}
	}
	return nil
}

func (b *Block) TxCount() int {
	return len(b.Transactions)
}

func (b *Block) TotalFees() *uint256.Int {
	total := new(uint256.Int)
	for _, tx := range b.Transactions {
		total.Add(total, tx.FeeOrZero())
	}
	return total
}

func (b *Block) TotalAmount() *uint256.Int {
	total := new(uint256.Int)
	for _, tx := range b.Transactions {
		total.Add(total, tx.AmountOrZero())
	}
	return total
}

// Size is the encoded size of header and transactions.
func (b *Block) Size() int {
	size := len(b.Header.Bytes())
	for _, tx := range b.Transactions {
		size += tx.Size()
	}
	return size
}
