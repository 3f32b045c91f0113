// Package reconciler retries on-chain mirroring for positions whose last
// sync did not complete.
package reconciler

import (
	"context"
	"sort"
	"time"

	"perpx/infra/outbox"

	"go.uber.org/zap"
)

type PendingSource interface {
	Pending() ([]outbox.Entry, error)
}

type Resyncer interface {
	Resync(ctx context.Context, marketID string, traders []string) error
}

type Reconciler struct {
	pending  PendingSource
	engine   Resyncer
	interval time.Duration
	log      *zap.Logger
}

func New(pending PendingSource, engine Resyncer, interval time.Duration, log *zap.Logger) *Reconciler {
	return &Reconciler{
		pending:  pending,
		engine:   engine,
		interval: interval,
		log:      log.Named("reconciler"),
	}
}

func (r *Reconciler) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if _, err := r.Once(ctx); err != nil {
				r.log.Error("reading pending syncs failed", zap.Error(err))
			}
		}
	}
}

// Once resyncs every market that has pending entries and returns how many
// markets converged.
func (r *Reconciler) Once(ctx context.Context) (int, error) {
	entries, err := r.pending.Pending()
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	byMarket := make(map[string][]string)
	for _, e := range entries {
		byMarket[e.Market] = append(byMarket[e.Market], e.Trader)
	}
	markets := make([]string, 0, len(byMarket))
	for m := range byMarket {
		markets = append(markets, m)
	}
	sort.Strings(markets)

	ok := 0
	for _, m := range markets {
		if ctx.Err() != nil {
			break
		}
		traders := byMarket[m]
		sort.Strings(traders)
		if err := r.engine.Resync(ctx, m, traders); err != nil {
			r.log.Warn("resync failed",
				zap.String("market", m),
				zap.Int("traders", len(traders)),
				zap.Error(err),
			)
			continue
		}
		ok++
		r.log.Info("positions resynced", zap.String("market", m), zap.Strings("traders", traders))
	}
	return ok, nil
}
