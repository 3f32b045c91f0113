package service

import (
	"context"

	"perpx/domain/ledger"
	"perpx/infra/journal"
)

type cancelRecord struct {
	Market  string `json:"market"`
	Trader  string `json:"trader"`
	OrderID string `json:"orderId"`
	Seq     uint64 `json:"seq"`
}

// CancelOrder removes a resting order of trader and releases its reservation.
// An order that already left the book by filling reports alreadyFilled; an
// unknown order, or one owned by someone else, reports notFound.
func (e *Engine) CancelOrder(ctx context.Context, trader, orderID string) (CancelStatus, error) {
	route, ok := e.orders.lookup(orderID)
	if !ok || route.Trader != trader {
		return CancelNotFound, nil
	}
	s, serr := e.shard("cancel", route.Market)
	if serr != nil {
		return CancelNotFound, serr
	}

	var (
		status CancelStatus
		cerr   *Error
	)
	err := e.do(ctx, s, func() {
		rec := cancelRecord{Market: route.Market, Trader: trader, OrderID: orderID, Seq: e.seq.Next()}
		status, cerr = e.cancel(s, rec, true)
	})
	if err != nil {
		return CancelNotFound, err
	}
	if cerr != nil {
		return CancelNotFound, cerr
	}
	return status, nil
}

// cancel runs on the market worker. Cancels never touch positions, so there
// is nothing to mirror on chain.
func (e *Engine) cancel(s *shard, rec cancelRecord, live bool) (CancelStatus, *Error) {
	s.mu.Lock()

	o, ok := s.book.Get(rec.OrderID)
	if !ok || o.Trader != rec.Trader {
		s.mu.Unlock()
		if r, filled := e.orders.filledBy(rec.OrderID); filled && r.Trader == rec.Trader {
			return CancelAlreadyFilled, nil
		}
		return CancelNotFound, nil
	}

	reserved := o.Margin
	s.book.Cancel(rec.OrderID)

	release := ledger.Deltas{rec.Trader: {Locked: reserved.Neg()}}
	if !live {
		e.accounts.ApplyUnchecked(release)
	} else if err := e.accounts.Apply(release); err != nil {
		// Put the order back exactly where it was.
		_ = s.book.Submit(o)
		s.mu.Unlock()
		return CancelNotFound, newError(KindInvariant, "cancel", s.market.ID, err)
	}
	s.mu.Unlock()
	e.orders.drop(rec.OrderID)

	if live {
		e.record(journal.RecordCancel, rec)
		if ev, ok := e.bookEvent(s, rec.Seq, e.now(), []levelRef{{side: o.Side, price: o.Price}}); ok {
			e.publish(ev)
		}
	}
	return CancelCancelled, nil
}
