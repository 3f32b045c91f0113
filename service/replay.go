package service

import (
	"context"
	"encoding/json"
	"fmt"

	"perpx/domain/ledger"
	"perpx/infra/journal"

	"go.uber.org/zap"
)

/*
Replay rebuilds in-memory state from the operation journal.

IMPORTANT:
- This MUST run before Start and before accepting traffic
- Nothing is synced, journaled or published while replaying
- Records carry outcomes that already passed every check; margin and
  collateral bounds are not re-evaluated, since journal order across
  markets may differ from the order accounts saw the changes
- Sequence numbers resume after the highest replayed one
*/
func (e *Engine) Replay(dir string) (uint64, error) {
	ctx := context.Background()
	n := uint64(0)

	last, err := journal.Replay(dir, func(r *journal.Record) error {
		n++
		return e.apply(ctx, r)
	})
	if err != nil {
		return last, err
	}

	e.log.Info("journal replayed", zap.Uint64("records", n), zap.Uint64("lastSeq", last))
	return last, nil
}

func (e *Engine) apply(ctx context.Context, r *journal.Record) error {
	switch r.Type {
	case journal.RecordPlace:
		var rec placeRecord
		if err := json.Unmarshal(r.Data, &rec); err != nil {
			return fmt.Errorf("journal seq %d: %w", r.Seq, err)
		}
		s, serr := e.shard("replay", rec.Market)
		if serr != nil {
			return serr
		}
		e.seq.Observe(rec.Seq)
		if _, err := e.place(ctx, s, rec, false); err != nil {
			return fmt.Errorf("journal seq %d: %w", r.Seq, err)
		}

	case journal.RecordCancel:
		var rec cancelRecord
		if err := json.Unmarshal(r.Data, &rec); err != nil {
			return fmt.Errorf("journal seq %d: %w", r.Seq, err)
		}
		s, serr := e.shard("replay", rec.Market)
		if serr != nil {
			return serr
		}
		e.seq.Observe(rec.Seq)
		if _, err := e.cancel(s, rec, false); err != nil {
			return fmt.Errorf("journal seq %d: %w", r.Seq, err)
		}

	case journal.RecordLiquidate:
		var rec liquidateRecord
		if err := json.Unmarshal(r.Data, &rec); err != nil {
			return fmt.Errorf("journal seq %d: %w", r.Seq, err)
		}
		s, serr := e.shard("replay", rec.Market)
		if serr != nil {
			return serr
		}
		e.seq.Observe(rec.Seq)
		if _, err := e.liquidate(ctx, s, rec, false); err != nil {
			return fmt.Errorf("journal seq %d: %w", r.Seq, err)
		}

	case journal.RecordDeposit, journal.RecordWithdraw:
		var rec collateralRecord
		if err := json.Unmarshal(r.Data, &rec); err != nil {
			return fmt.Errorf("journal seq %d: %w", r.Seq, err)
		}
		if !rec.Amount.IsPositive() {
			return fmt.Errorf("journal seq %d: amount %s", r.Seq, rec.Amount)
		}
		amount := rec.Amount
		if r.Type == journal.RecordWithdraw {
			amount = amount.Neg()
		}
		e.accounts.ApplyUnchecked(ledger.Deltas{rec.Trader: {Total: amount}})

	default:
		return fmt.Errorf("journal seq %d: unknown record type %d", r.Seq, r.Type)
	}
	return nil
}
