package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/triunity/node/block"
	"github.com/triunity/node/config"
	"github.com/triunity/node/logx"
	"github.com/triunity/node/store"
	"github.com/triunity/node/transaction"
	"github.com/triunity/node/types"
)

var (
	ErrAccountExisted = errors.New("account existed")
)

// TxFailure records a transaction that was included in a block but not applied.
type TxFailure struct {
	Index  int
	Hash   types.Hash
	Reason string
}

// Receipt summarizes the effect of one block on state.
type Receipt struct {
	Height  uint64
	Skipped bool
	Applied int
	Failed  []TxFailure
	Burned  *uint256.Int
}

type Ledger struct {
	mu           sync.RWMutex
	accountStore store.AccountStore
}

func NewLedger(accountStore store.AccountStore) *Ledger {
	return &Ledger{accountStore: accountStore}
}

// CreateGenesisAccounts stores the initial allocations. It fails if any
// account already exists.
func (l *Ledger) CreateGenesisAccounts(allocs []config.GenesisAccount) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	addrs := make([]string, 0, len(allocs))
	for _, a := range allocs {
		addrs = append(addrs, a.Address)
	}
	existing, err := l.accountStore.GetBatch(addrs)
	if err != nil {
		return fmt.Errorf("could not check existence of accounts: %w", err)
	}

	accounts := make([]*types.Account, 0, len(allocs))
	for _, a := range allocs {
		if existing[a.Address] != nil {
			return fmt.Errorf("could not create genesis account %s: %w", a.Address, ErrAccountExisted)
		}
		accounts = append(accounts, types.NewAccount(a.Address, uint256.NewInt(a.Amount)))
	}
	if err := l.accountStore.StoreBatch(accounts); err != nil {
		return fmt.Errorf("failed to store genesis accounts: %w", err)
	}
	logx.Info("LEDGER", "Created", len(accounts), "genesis accounts")
	return nil
}

// Balance returns the balance of addr, zero for an unknown account.
func (l *Ledger) Balance(addr string) (*uint256.Int, error) {
	acc, err := l.Account(addr)
	if err != nil {
		return uint256.NewInt(0), err
	}
	if acc == nil {
		return uint256.NewInt(0), nil
	}
	return acc.Balance, nil
}

// Account returns the account with addr (nil if not exist)
func (l *Ledger) Account(addr string) (*types.Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.accountStore.GetByAddr(addr)
}

// TotalSupply sums every account balance. Fees are burned, so it only shrinks
// after genesis.
func (l *Ledger) TotalSupply() (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := uint256.NewInt(0)
	err := l.accountStore.ForEach(func(acc *types.Account) bool {
		total.Add(total, acc.Balance)
		return true
	})
	if err != nil {
		return nil, err
	}
	return total, nil
}

func (l *Ledger) AppliedHeight() (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.accountStore.AppliedHeight()
}

// Apply implements the state collaborator of the sync manager.
func (l *Ledger) Apply(blk *block.Block) error {
	_, err := l.ApplyBlock(blk)
	return err
}

// ApplyBlock executes every transaction of blk in order and commits all
// touched accounts together with the new applied height. Blocks at or below
// the applied height are skipped.
func (l *Ledger) ApplyBlock(blk *block.Block) (*Receipt, error) {
	if blk == nil {
		return nil, fmt.Errorf("block cannot be nil")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	height := blk.Height()
	receipt := &Receipt{Height: height, Burned: uint256.NewInt(0)}

	applied, err := l.accountStore.AppliedHeight()
	if err != nil {
		return nil, err
	}
	if height <= applied && applied > 0 {
		logx.Debug("LEDGER", "Block", height, "already applied, skipping")
		receipt.Skipped = true
		return receipt, nil
	}

	state, err := l.loadState(blk.Transactions)
	if err != nil {
		return nil, err
	}

	for i, tx := range blk.Transactions {
		fee, err := applyTx(state, tx)
		if err != nil {
			logx.Warn("LEDGER", fmt.Sprintf("Apply fail at block %d tx %d: %v", height, i, err))
			receipt.Failed = append(receipt.Failed, TxFailure{Index: i, Hash: tx.Hash(), Reason: err.Error()})
			continue
		}
		receipt.Burned.Add(receipt.Burned, fee)
		receipt.Applied++
	}

	accounts := make([]*types.Account, 0, len(state))
	for _, acc := range state {
		accounts = append(accounts, acc)
	}
	if err := l.accountStore.CommitBlock(accounts, height); err != nil {
		return nil, fmt.Errorf("failed to commit block %d: %w", height, err)
	}

	logx.Info("LEDGER", fmt.Sprintf("Block %d applied: %d ok, %d failed", height, receipt.Applied, len(receipt.Failed)))
	return receipt, nil
}

func (l *Ledger) loadState(txs []*transaction.Transaction) (map[string]*types.Account, error) {
	seen := make(map[string]struct{})
	var addrs []string
	for _, tx := range txs {
		for _, id := range [][]byte{tx.Sender, tx.Recipient} {
			addr := types.AccountKey(id)
			if _, ok := seen[addr]; !ok {
				seen[addr] = struct{}{}
				addrs = append(addrs, addr)
			}
		}
	}

	loaded, err := l.accountStore.GetBatch(addrs)
	if err != nil {
		return nil, err
	}
	state := make(map[string]*types.Account, len(addrs))
	for _, addr := range addrs {
		if acc := loaded[addr]; acc != nil {
			state[addr] = acc
		} else {
			state[addr] = types.NewAccount(addr, nil)
		}
	}
	return state, nil
}

// applyTx moves amount from sender to recipient and burns the fee. The nonce
// must be exactly sender.Nonce+1; once it matches it is consumed even when the
// transfer fails.
func applyTx(state map[string]*types.Account, tx *transaction.Transaction) (*uint256.Int, error) {
	sender := state[types.AccountKey(tx.Sender)]
	recipient := state[types.AccountKey(tx.Recipient)]

	if tx.Nonce != sender.Nonce+1 {
		return nil, fmt.Errorf("invalid nonce: expected %d, got %d", sender.Nonce+1, tx.Nonce)
	}
	sender.Nonce = tx.Nonce

	amount, fee := tx.AmountOrZero(), tx.FeeOrZero()
	total, overflow := new(uint256.Int).AddOverflow(amount, fee)
	if overflow {
		return nil, fmt.Errorf("amount plus fee overflows")
	}
	if sender.Balance.Cmp(total) < 0 {
		return nil, fmt.Errorf("insufficient balance: have %s, need %s", sender.Balance.Dec(), total.Dec())
	}

	sender.Balance.Sub(sender.Balance, total)
	recipient.Balance.Add(recipient.Balance, amount)
	return fee, nil
}
