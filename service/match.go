package service

import (
	"fmt"

	"perpx/domain/ledger"
	"perpx/domain/orderbook"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// match crosses taker against the opposite side while prices cross. Every
// fill executes at the maker's price for min(maker, taker) remaining and
// updates both positions. Caller holds s.mu.
//
// A maker whose owner can no longer margin the fill is pulled from the book
// and matching goes on; a taker that cannot fails the whole order. Replay
// pulls exactly the makers listed in pulled and checks nothing.
func (e *Engine) match(s *shard, b *batch, taker *orderbook.Order, live bool, pulled map[string]bool) error {
	for taker.Remaining.IsPositive() {
		maker := s.book.Best(taker.Side.Opposite())
		if maker == nil || !crosses(taker, maker.Price) {
			return nil
		}

		qty := decimal.Min(taker.Remaining, maker.Remaining)
		price := maker.Price

		if (live && !e.funds(s, b, maker, qty, price)) || (!live && pulled[maker.ID]) {
			e.pull(s, b, maker)
			continue
		}
		e.fill(s, b, maker, qty, price)
		if live && !e.funds(s, b, taker, qty, price) {
			return fmt.Errorf("%w: fill of %s at %s", ErrInsufficientMargin, qty, price)
		}
		e.fill(s, b, taker, qty, price)

		b.trades = append(b.trades, Trade{
			ID:           uuid.NewString(),
			Market:       s.market.ID,
			Price:        price,
			Size:         qty,
			MakerOrderID: maker.ID,
			TakerOrderID: taker.ID,
			MakerTrader:  maker.Trader,
			TakerTrader:  taker.Trader,
			Timestamp:    b.at,
		})
		b.touchLevel(maker.Side, price)

		makerID, makerTrader := maker.ID, maker.Trader
		gone, err := s.book.Reduce(makerID, qty)
		if err != nil {
			return err
		}
		if gone {
			b.filled[makerID] = makerTrader
		}
		taker.Remaining = taker.Remaining.Sub(qty)
	}
	return nil
}

func crosses(taker *orderbook.Order, price decimal.Decimal) bool {
	if taker.Side == orderbook.Buy {
		return taker.Price.GreaterThanOrEqual(price)
	}
	return taker.Price.LessThanOrEqual(price)
}

// share is the part of o's reservation that backs qty of its remaining size.
func share(o *orderbook.Order, qty decimal.Decimal) decimal.Decimal {
	if qty.GreaterThanOrEqual(o.Remaining) {
		return o.Margin
	}
	return o.Margin.Mul(qty).Div(o.Remaining)
}

// funds reports whether o's owner can take a fill of qty at price: the
// order's reservation share plus free collateral, counting what the batch
// already did to the account, must cover the margin the fill adds.
func (e *Engine) funds(s *shard, b *batch, o *orderbook.Order, qty, price decimal.Decimal) bool {
	res := ledger.ApplyFill(s.position(o.Trader), qty.Mul(o.Side.Sign()), price, o.Leverage)
	change := ledger.Delta{
		Total:  res.RealizedPnL,
		Locked: res.MarginAdded.Sub(res.MarginReleased).Sub(share(o, qty)),
	}
	free := e.accounts.Balance(o.Trader).Free.Add(b.deltas[o.Trader].Free())
	return !free.Add(change.Free()).IsNegative()
}

// fill applies qty of o at price to its owner's position. The filled share
// of the reservation, taken at the limit price, is released; the position
// margins at the trade price. Call before o.Remaining is reduced.
func (e *Engine) fill(s *shard, b *batch, o *orderbook.Order, qty, price decimal.Decimal) {
	res := ledger.ApplyFill(s.position(o.Trader), qty.Mul(o.Side.Sign()), price, o.Leverage)

	p := res.Position
	p.SyncSeq = b.seq
	p.UpdatedAt = b.at
	s.setPosition(p)

	released := share(o, qty)
	o.Margin = o.Margin.Sub(released)

	b.deltas.Add(o.Trader, ledger.Delta{
		Total:  res.RealizedPnL,
		Locked: res.MarginAdded.Sub(res.MarginReleased).Sub(released),
	})
	b.touch(o.Trader)
}

// pull takes a resting order out of the book and returns its reservation.
func (e *Engine) pull(s *shard, b *batch, o *orderbook.Order) {
	s.book.Cancel(o.ID)
	b.deltas.Add(o.Trader, ledger.Delta{Locked: o.Margin.Neg()})
	b.pulled = append(b.pulled, o.ID)
	b.touchLevel(o.Side, o.Price)
}
