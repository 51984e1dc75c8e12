package node

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/triunity/node/errors"
	"github.com/triunity/node/events"
	"github.com/triunity/node/exception"
	"github.com/triunity/node/logx"
	"golang.org/x/sync/errgroup"
)

// Run drives sync rounds, metric refreshes and event folding until ctx is
// done. A panic in any loop is returned as an error.
func (n *Node) Run(ctx context.Context) error {
	subID, ch := n.bus.Subscribe(events.EventBlockApplied, events.EventPeerPenalized)
	defer n.bus.Unsubscribe(subID)

	n.RefreshMetrics()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(exception.Guard("sync-loop", func() error {
		return n.tick(gctx, n.cfg.SyncInterval, func() {
			err := n.SyncOnce(gctx)
			switch {
			case err == nil || gctx.Err() != nil:
			case stderrors.Is(err, errors.Sentinel(errors.CodeSyncStall)):
				logx.Debug("SYNC", "No peer can serve yet:", err)
			default:
				logx.Warn("SYNC", "Sync round failed:", err)
			}
		})
	}))
	g.Go(exception.Guard("metrics-loop", func() error {
		return n.tick(gctx, n.cfg.MetricsInterval, func() { n.RefreshMetrics() })
	}))
	g.Go(exception.Guard("event-loop", func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-ch:
				if !ok {
					return nil
				}
				n.HandleEvent(ev)
			}
		}
	}))

	err := g.Wait()
	logx.Info("NODE", "Stopped at height", n.manager.CurrentHeight())
	return err
}

func (n *Node) tick(ctx context.Context, every time.Duration, fn func()) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn()
		}
	}
}
