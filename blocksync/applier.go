package blocksync

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/triunity/node/block"
	"github.com/triunity/node/errors"
	"github.com/triunity/node/logx"
)

// Applier commits one height-ordered block to local storage and state.
type Applier interface {
	Apply(blk *block.Block) error
}

type BlockWriter interface {
	StoreBlock(blk *block.Block) error
}

type StateWriter interface {
	Apply(blk *block.Block) error
}

// ChainApplier stores a block and then applies it to state, retrying each
// step with exponential backoff before surfacing the failure.
type ChainApplier struct {
	Store BlockWriter
	State StateWriter

	RetryInterval time.Duration
	MaxRetries    uint64
}

func NewChainApplier(store BlockWriter, state StateWriter, cfg Config) *ChainApplier {
	cfg = cfg.withDefaults()
	return &ChainApplier{
		Store:         store,
		State:         state,
		RetryInterval: cfg.ApplyRetryInterval,
		MaxRetries:    cfg.ApplyMaxRetries,
	}
}

func (a *ChainApplier) retryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.RetryInterval
	b.MaxInterval = 20 * a.RetryInterval
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, a.MaxRetries)
}

func (a *ChainApplier) Apply(blk *block.Block) error {
	if a.Store != nil {
		err := backoff.Retry(func() error {
			return a.Store.StoreBlock(blk)
		}, a.retryPolicy())
		if err != nil {
			logx.Error("SYNC:APPLY", "store block", blk.Height(), "failed:", err)
			return errors.Wrap(errors.CodeStorage, errors.MsgStorageWriteBlock, err)
		}
	}
	if a.State != nil {
		err := backoff.Retry(func() error {
			return a.State.Apply(blk)
		}, a.retryPolicy())
		if err != nil {
			logx.Error("SYNC:APPLY", "apply block", blk.Height(), "to state failed:", err)
			return errors.Wrap(errors.CodeState, errors.MsgStateApply, err)
		}
	}
	return nil
}
