package onchain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"perpx/domain/ledger"
	"perpx/infra/outbox"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrSyncFailed = errors.New("onchain: position sync failed")

type CoordinatorConfig struct {
	Vault           string
	CollateralAsset string
	CallTimeout     time.Duration
}

// Batch is the post-commit state of every position one operation touched.
// Flat positions are closed on chain, the rest are upserted.
type Batch struct {
	Market    string
	Seq       uint64
	Positions []ledger.Position
}

func (b Batch) Traders() []string {
	out := make([]string, 0, len(b.Positions))
	for _, p := range b.Positions {
		out = append(out, p.Trader)
	}
	return out
}

/*
Coordinator mirrors committed positions to the escrow ledger and admits
verified collateral transactions.

Every trader of a batch is written to the outbox before the first call and
removed only after all calls succeed, so a failed batch is never forgotten:
the reconciler finds it there and re-mirrors the local state.
*/
type Coordinator struct {
	ledger Ledger
	outbox *outbox.Outbox
	cfg    CoordinatorConfig
	log    *zap.Logger
}

func NewCoordinator(l Ledger, ob *outbox.Outbox, cfg CoordinatorConfig, log *zap.Logger) *Coordinator {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 3 * time.Second
	}
	return &Coordinator{ledger: l, outbox: ob, cfg: cfg, log: log.Named("sync")}
}

//
// ──────────────────────────────────────────────────────────
// Position sync
// ──────────────────────────────────────────────────────────
//

// Sync issues one upsert per open position and one close per flat one.
// It stops at the first failure; calls that already succeeded stay applied
// on chain and converge on the next attempt.
func (c *Coordinator) Sync(ctx context.Context, b Batch) error {
	if len(b.Positions) == 0 {
		return nil
	}

	positions := append([]ledger.Position(nil), b.Positions...)
	sort.Slice(positions, func(i, j int) bool { return positions[i].Trader < positions[j].Trader })
	traders := b.Traders()

	if err := c.outbox.MarkPending(b.Market, traders); err != nil {
		return fmt.Errorf("%w: outbox: %v", ErrSyncFailed, err)
	}

	for _, p := range positions {
		if err := c.mirror(ctx, b, p); err != nil {
			if markErr := c.outbox.MarkFailed(b.Market, traders); markErr != nil {
				c.log.Error("outbox mark failed", zap.String("market", b.Market), zap.Error(markErr))
			}
			c.log.Warn("position sync failed",
				zap.String("market", b.Market),
				zap.String("trader", p.Trader),
				zap.Uint64("seq", b.Seq),
				zap.Error(err),
			)
			return fmt.Errorf("%w: market=%s trader=%s: %w", ErrSyncFailed, b.Market, p.Trader, err)
		}
	}

	if err := c.outbox.Clear(b.Market, traders); err != nil {
		// Positions are mirrored; a stale pending entry only costs a redundant resync.
		c.log.Error("outbox clear failed", zap.String("market", b.Market), zap.Error(err))
	}
	return nil
}

func (c *Coordinator) mirror(ctx context.Context, b Batch, p ledger.Position) error {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	if p.IsFlat() {
		return c.ledger.ClosePosition(callCtx, c.cfg.Vault, b.Market, p.Trader)
	}
	return c.ledger.UpsertPosition(callCtx, PositionRecord{
		Vault:      c.cfg.Vault,
		Market:     b.Market,
		Trader:     p.Trader,
		Size:       p.Size,
		EntryPrice: p.EntryPrice,
		Margin:     p.Margin,
		Timestamp:  p.UpdatedAt,
		Seq:        b.Seq,
	})
}

// Pending lists outbox entries still waiting for a successful sync.
func (c *Coordinator) Pending() ([]outbox.Entry, error) {
	return c.outbox.Pending()
}

//
// ──────────────────────────────────────────────────────────
// Collateral transactions
// ──────────────────────────────────────────────────────────
//

// Settle verifies a deposit or withdrawal on chain and, exactly once per
// transaction hash, hands the verified amount to apply. If apply fails the
// hash is released so the caller may retry.
func (c *Coordinator) Settle(
	ctx context.Context,
	function string,
	trader string,
	txHash string,
	apply func(decimal.Decimal) error,
) (decimal.Decimal, error) {
	r, err := c.verify(ctx, function, txHash)
	if err != nil {
		return decimal.Zero, err
	}
	if err := c.check(function, trader, r); err != nil {
		return decimal.Zero, err
	}

	if err := c.outbox.Claim(txHash, function); err != nil {
		return decimal.Zero, err
	}
	if err := apply(r.Amount); err != nil {
		if relErr := c.outbox.Release(txHash); relErr != nil {
			c.log.Error("release tx claim", zap.String("tx", txHash), zap.Error(relErr))
		}
		return decimal.Zero, err
	}
	return r.Amount, nil
}

func (c *Coordinator) verify(ctx context.Context, function, txHash string) (Receipt, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	switch function {
	case FuncDeposit:
		return c.ledger.VerifyDeposit(callCtx, txHash)
	case FuncWithdraw:
		return c.ledger.VerifyWithdraw(callCtx, txHash)
	}
	return Receipt{}, fmt.Errorf("%w: function %q", ErrTxMismatch, function)
}

func (c *Coordinator) check(function, trader string, r Receipt) error {
	switch {
	case !r.Success:
		return fmt.Errorf("%w: %s", ErrTxRejected, r.TxHash)
	case r.Function != function:
		return fmt.Errorf("%w: function %q, want %q", ErrTxMismatch, r.Function, function)
	case !sameAddress(r.Sender, trader):
		return fmt.Errorf("%w: sender %s, want %s", ErrTxMismatch, r.Sender, trader)
	case !sameAddress(r.Target, c.cfg.Vault):
		return fmt.Errorf("%w: target %s, want vault %s", ErrTxMismatch, r.Target, c.cfg.Vault)
	case r.Asset != c.cfg.CollateralAsset:
		return fmt.Errorf("%w: asset %q, want %q", ErrTxMismatch, r.Asset, c.cfg.CollateralAsset)
	case !r.Amount.IsPositive():
		return fmt.Errorf("%w: amount %s", ErrTxMismatch, r.Amount)
	}
	return nil
}

// sameAddress compares hex addresses case-insensitively.
func sameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}
