package service

import (
	"context"
	"time"

	"perpx/domain/ledger"
	"perpx/events"
	"perpx/infra/journal"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type liquidateRecord struct {
	Market string          `json:"market"`
	Trader string          `json:"trader"`
	Mark   decimal.Decimal `json:"mark"`
	Seq    uint64          `json:"seq"`
	At     time.Time       `json:"at"`
}

// Liquidate closes the trader's whole position at the current mark if it is
// at or below maintenance. The close runs through the same commit path as
// a trade: snapshot, account deltas, on-chain close, rollback on failure.
//
// A position that is flat or healthy by the time the market worker gets to
// it yields ErrNotLiquidatable.
func (e *Engine) Liquidate(ctx context.Context, marketID, trader string) (*LiquidationResult, error) {
	const op = "liquidate"

	s, serr := e.shard(op, marketID)
	if serr != nil {
		return nil, serr
	}

	var (
		res  *LiquidationResult
		lerr *Error
	)
	err := e.do(ctx, s, func() {
		tick, err := e.marks.Fresh(marketID)
		if err != nil {
			lerr = newError(KindStale, op, marketID, err)
			return
		}
		rec := liquidateRecord{
			Market: marketID,
			Trader: trader,
			Mark:   tick.Price,
			Seq:    e.seq.Next(),
			At:     e.now(),
		}
		res, lerr = e.liquidate(ctx, s, rec, true)
	})
	if err != nil {
		return nil, err
	}
	if lerr != nil {
		return nil, lerr
	}
	return res, nil
}

// liquidate runs on the market worker. The trader's loss (realized PnL plus
// penalty) is capped at the position's margin; the uncovered part is
// reported as bad debt.
func (e *Engine) liquidate(ctx context.Context, s *shard, rec liquidateRecord, live bool) (*LiquidationResult, *Error) {
	const op = "liquidate"
	mk := s.market

	s.mu.Lock()

	pos, ok := s.positions[rec.Trader]
	if !ok || !pos.Liquidatable(rec.Mark, mk.MaintenanceMarginRatio) {
		s.mu.Unlock()
		return nil, errorf(KindValidation, op, mk.ID, "%w: trader %s", ErrNotLiquidatable, rec.Trader)
	}

	b := newBatch(op, rec.Seq, rec.At, s.capture(rec.Seq))

	closeQty := pos.Size.Abs()
	res := ledger.ApplyFill(pos, pos.Size.Neg(), rec.Mark, decimal.NewFromInt(1))
	penalty := pos.Notional(rec.Mark).Mul(mk.LiquidationPenaltyRatio)

	change := res.RealizedPnL.Sub(penalty)
	badDebt := decimal.Zero
	if floor := pos.Margin.Neg(); change.LessThan(floor) {
		badDebt = floor.Sub(change)
		change = floor
	}

	flat := res.Position
	flat.SyncSeq = rec.Seq
	flat.UpdatedAt = rec.At
	s.setPosition(flat)

	b.deltas.Add(rec.Trader, ledger.Delta{Total: change, Locked: pos.Margin.Neg()})
	b.touch(rec.Trader)
	b.trades = append(b.trades, Trade{
		ID:           uuid.NewString(),
		Market:       mk.ID,
		Price:        rec.Mark,
		Size:         closeQty,
		TakerOrderID: "liquidation-" + rec.Trader,
		TakerTrader:  rec.Trader,
		Liquidation:  true,
		Timestamp:    rec.At,
	})

	positions, cerr := e.commit(ctx, s, b, live)
	if cerr != nil {
		return nil, cerr
	}

	out := &LiquidationResult{
		Market:      mk.ID,
		Trader:      rec.Trader,
		Size:        pos.Size,
		MarkPrice:   rec.Mark,
		RealizedPnL: res.RealizedPnL,
		Penalty:     penalty,
		BadDebt:     badDebt,
		Seq:         rec.Seq,
	}

	if live {
		e.record(journal.RecordLiquidate, rec)

		evs := e.marketEvents(s, b, positions)
		evs = append(evs, events.Event{
			Kind:      events.KindLiquidation,
			Market:    mk.ID,
			Seq:       rec.Seq,
			Timestamp: rec.At,
			Liquidation: &events.Liquidation{
				Trader:      rec.Trader,
				Size:        pos.Size,
				MarkPrice:   rec.Mark,
				Penalty:     penalty,
				RealizedPnL: res.RealizedPnL,
				BadDebt:     badDebt,
			},
		})
		e.publish(evs...)

		e.log.Info("position liquidated",
			zap.String("market", mk.ID),
			zap.String("trader", rec.Trader),
			zap.Stringer("size", pos.Size),
			zap.Stringer("mark", rec.Mark),
			zap.Stringer("penalty", penalty),
			zap.Stringer("badDebt", badDebt),
		)
	}
	return out, nil
}
