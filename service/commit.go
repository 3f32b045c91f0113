package service

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"perpx/domain/ledger"
	"perpx/domain/orderbook"
	"perpx/events"
	"perpx/infra/journal"
	"perpx/onchain"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// batch collects the effects of one market operation until commit.
type batch struct {
	op   string
	seq  uint64
	at   time.Time
	snap Snapshot

	deltas  ledger.Deltas
	touched []string
	seen    map[string]bool
	trades  []Trade

	// orders that left the book fully filled, id -> trader
	filled map[string]string
	// resting orders pulled because their owner could not margin a fill
	pulled []string
	// book levels changed by the operation
	levels []levelRef
}

type levelRef struct {
	side  orderbook.Side
	price decimal.Decimal
}

func newBatch(op string, seq uint64, at time.Time, snap Snapshot) *batch {
	return &batch{
		op:     op,
		seq:    seq,
		at:     at,
		snap:   snap,
		deltas: make(ledger.Deltas),
		seen:   make(map[string]bool),
		filled: make(map[string]string),
	}
}

func (b *batch) touch(trader string) {
	if !b.seen[trader] {
		b.seen[trader] = true
		b.touched = append(b.touched, trader)
	}
}

func (b *batch) touchLevel(side orderbook.Side, price decimal.Decimal) {
	for _, l := range b.levels {
		if l.side == side && l.price.Equal(price) {
			return
		}
	}
	b.levels = append(b.levels, levelRef{side: side, price: price})
}

// commit applies the batch's account deltas and mirrors touched positions.
// The caller holds s.mu for writing; commit releases it. On any failure the
// shard is back at the snapshot and accounts carry no trace of the batch.
//
// While the sync is in flight accounts hold the batch's deltas with any
// collateral they free still locked, so other markets cannot spend it
// before the chain confirms. Replay applies journaled outcomes without
// bounds checks: journal order across markets is not commit order.
func (e *Engine) commit(ctx context.Context, s *shard, b *batch, live bool) ([]ledger.Position, *Error) {
	positions := make([]ledger.Position, 0, len(b.touched))
	for _, trader := range b.touched {
		positions = append(positions, s.position(trader))
	}
	if !live {
		e.accounts.ApplyUnchecked(b.deltas)
		s.mu.Unlock()
		e.index(s, b)
		return positions, nil
	}

	syncing := len(positions) > 0
	hold, release := b.deltas, ledger.Deltas(nil)
	if syncing {
		hold, release = b.deltas.Staged()
	}
	if err := e.accounts.Apply(hold); err != nil {
		e.restore(s, b)
		s.mu.Unlock()
		e.log.Error("commit rejected",
			zap.String("op", b.op),
			zap.String("market", s.market.ID),
			zap.Uint64("seq", b.seq),
			zap.Error(err),
		)
		return nil, newError(KindInvariant, b.op, s.market.ID, err)
	}
	s.mu.Unlock()

	if syncing {
		err := e.syncer.Sync(ctx, onchain.Batch{Market: s.market.ID, Seq: b.seq, Positions: positions})
		if err != nil {
			s.mu.Lock()
			e.restore(s, b)
			s.mu.Unlock()
			// The held stage never raised free collateral, so undoing it
			// only returns collateral and cannot break the bounds.
			e.accounts.ApplyUnchecked(hold.Inverse())

			e.log.Warn("batch rolled back",
				zap.String("op", b.op),
				zap.String("market", s.market.ID),
				zap.Uint64("seq", b.seq),
				zap.Error(err),
			)
			return nil, newError(KindSync, b.op, s.market.ID, err)
		}
		e.accounts.ApplyUnchecked(release)
	}

	e.index(s, b)
	return positions, nil
}

// index moves filled and pulled orders out of the resting index.
func (e *Engine) index(s *shard, b *batch) {
	for id, trader := range b.filled {
		e.orders.fill(id, orderRoute{Market: s.market.ID, Trader: trader})
	}
	for _, id := range b.pulled {
		e.orders.drop(id)
	}
}

func (e *Engine) restore(s *shard, b *batch) {
	if err := s.restore(b.snap); err != nil {
		e.log.Error("snapshot restore failed", zap.String("market", s.market.ID), zap.Error(err))
	}
}

// record journals a committed operation. The operation already took effect
// on chain, so a journal failure is logged rather than undone.
func (e *Engine) record(t journal.RecordType, v any) {
	if e.journal == nil {
		return
	}
	data, err := json.Marshal(v)
	if err == nil {
		_, err = e.journal.Append(t, data)
	}
	if err != nil {
		e.log.Error("journal append failed", zap.Stringer("type", t), zap.Error(err))
	}
}

func (e *Engine) publish(evs ...events.Event) {
	if e.events == nil || len(evs) == 0 {
		return
	}
	e.events.Publish(evs...)
}

// marketEvents builds the trade, position and book events of a committed batch.
func (e *Engine) marketEvents(s *shard, b *batch, positions []ledger.Position) []events.Event {
	out := make([]events.Event, 0, len(b.trades)+len(positions)+1)
	base := events.Event{Market: s.market.ID, Seq: b.seq, Timestamp: b.at}

	for _, t := range b.trades {
		ev := base
		ev.Kind = events.KindTrade
		ev.Trade = &events.Trade{
			ID:           t.ID,
			Price:        t.Price,
			Size:         t.Size,
			MakerOrderID: t.MakerOrderID,
			TakerOrderID: t.TakerOrderID,
			MakerTrader:  t.MakerTrader,
			TakerTrader:  t.TakerTrader,
			Liquidation:  t.Liquidation,
		}
		out = append(out, ev)
	}
	for i := range positions {
		ev := base
		ev.Kind = events.KindPosition
		ev.Position = &positions[i]
		out = append(out, ev)
	}
	if ev, ok := e.bookEvent(s, b.seq, b.at, b.levels); ok {
		out = append(out, ev)
	}
	return out
}

// bookEvent reports the levels the operation changed with their new
// aggregate size; a zero size means the level is gone.
func (e *Engine) bookEvent(s *shard, seq uint64, at time.Time, levels []levelRef) (events.Event, bool) {
	if len(levels) == 0 {
		return events.Event{}, false
	}
	book := &events.Book{}
	s.mu.RLock()
	for _, l := range levels {
		lvl := s.book.LevelAt(l.side, l.price)
		if l.side == orderbook.Buy {
			book.Bids = append(book.Bids, lvl)
		} else {
			book.Asks = append(book.Asks, lvl)
		}
	}
	s.mu.RUnlock()

	sort.Slice(book.Bids, func(i, j int) bool { return book.Bids[i].Price.GreaterThan(book.Bids[j].Price) })
	sort.Slice(book.Asks, func(i, j int) bool { return book.Asks[i].Price.LessThan(book.Asks[j].Price) })
	return events.Event{
		Kind:      events.KindBook,
		Market:    s.market.ID,
		Seq:       seq,
		Timestamp: at,
		Book:      book,
	}, true
}
