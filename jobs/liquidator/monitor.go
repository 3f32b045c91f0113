// Package liquidator periodically scans open positions against fresh mark
// prices and closes those at or below maintenance.
package liquidator

import (
	"context"
	"errors"
	"sync"
	"time"

	"perpx/domain/ledger"
	"perpx/domain/market"
	"perpx/domain/markprice"
	"perpx/service"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Engine is the part of the matching engine the monitor drives.
type Engine interface {
	Markets() []market.Market
	OpenPositions(marketID string) ([]ledger.Position, error)
	Liquidate(ctx context.Context, marketID, trader string) (*service.LiquidationResult, error)
}

type Marks interface {
	Fresh(market string) (markprice.Tick, error)
}

// Report summarizes one cycle.
type Report struct {
	Markets    int
	Scanned    int
	Liquidated int
	Stale      int // markets skipped for lack of a fresh mark
	Failed     int
}

func (r *Report) add(o Report) {
	r.Markets += o.Markets
	r.Scanned += o.Scanned
	r.Liquidated += o.Liquidated
	r.Stale += o.Stale
	r.Failed += o.Failed
}

type Monitor struct {
	engine   Engine
	marks    Marks
	interval time.Duration
	log      *zap.Logger

	// held for the duration of a cycle
	cycle sync.Mutex
}

func New(engine Engine, marks Marks, interval time.Duration, log *zap.Logger) *Monitor {
	return &Monitor{
		engine:   engine,
		marks:    marks,
		interval: interval,
		log:      log.Named("liquidator"),
	}
}

// Run evaluates positions every interval until ctx is done. A cycle that
// overruns the interval delays the next one instead of overlapping it.
func (m *Monitor) Run(ctx context.Context) error {
	t := time.NewTicker(m.interval)
	defer t.Stop()

	m.log.Info("liquidation monitor started", zap.Duration("interval", m.interval))

	for {
		select {
		case <-ctx.Done():
			m.log.Info("liquidation monitor stopped")
			return ctx.Err()
		case <-t.C:
			r := m.Cycle(ctx)
			if r.Liquidated > 0 || r.Failed > 0 {
				m.log.Info("liquidation cycle",
					zap.Int("scanned", r.Scanned),
					zap.Int("liquidated", r.Liquidated),
					zap.Int("stale", r.Stale),
					zap.Int("failed", r.Failed),
				)
			}
		}
	}
}

// Cycle runs one evaluation pass over every market, markets in parallel.
func (m *Monitor) Cycle(ctx context.Context) Report {
	m.cycle.Lock()
	defer m.cycle.Unlock()

	var (
		mu    sync.Mutex
		total Report
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, mk := range m.engine.Markets() {
		mk := mk
		g.Go(func() error {
			r := m.scan(gctx, mk)
			mu.Lock()
			total.add(r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return total
}

func (m *Monitor) scan(ctx context.Context, mk market.Market) Report {
	r := Report{Markets: 1}

	tick, err := m.marks.Fresh(mk.ID)
	if err != nil {
		m.log.Warn("skipping market without fresh mark", zap.String("market", mk.ID), zap.Error(err))
		r.Stale = 1
		return r
	}

	positions, err := m.engine.OpenPositions(mk.ID)
	if err != nil {
		m.log.Error("listing positions failed", zap.String("market", mk.ID), zap.Error(err))
		r.Failed++
		return r
	}

	for _, p := range positions {
		if ctx.Err() != nil {
			return r
		}
		r.Scanned++
		if !p.Liquidatable(tick.Price, mk.MaintenanceMarginRatio) {
			continue
		}

		// The engine re-checks against its own fresh mark; the position may
		// have been topped up or closed since the scan.
		_, err := m.engine.Liquidate(ctx, mk.ID, p.Trader)
		switch {
		case err == nil:
			r.Liquidated++
		case errors.Is(err, service.ErrNotLiquidatable):
		case service.KindOf(err) == service.KindStale:
			r.Stale++
			return r
		default:
			r.Failed++
			m.log.Warn("liquidation failed",
				zap.String("market", mk.ID),
				zap.String("trader", p.Trader),
				zap.Error(err),
			)
		}
	}
	return r
}
