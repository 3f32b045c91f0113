package service

import (
	"sort"
	"sync"

	"perpx/domain/ledger"
	"perpx/domain/market"
	"perpx/domain/orderbook"
)

// shard owns one market: its book and every position in it.
//
// The worker goroutine is the serialization token. mu guards the state
// against concurrent readers and is held by the worker only while it reads
// or mutates state, never across ledger I/O.
type shard struct {
	market market.Market

	mu        sync.RWMutex
	book      *orderbook.OrderBook
	positions map[string]ledger.Position

	inbox chan *task
}

type task struct {
	fn   func()
	ran  bool
	done chan struct{}
}

func newShard(m market.Market, inboxSize int) *shard {
	return &shard{
		market:    m,
		book:      orderbook.NewOrderBook(m.ID),
		positions: make(map[string]ledger.Position),
		inbox:     make(chan *task, inboxSize),
	}
}

func (s *shard) run(quit <-chan struct{}) {
	for {
		select {
		case t := <-s.inbox:
			t.fn()
			t.ran = true
			close(t.done)
		case <-quit:
			// Nothing can be enqueued once quit is closed; release the waiters.
			for {
				select {
				case t := <-s.inbox:
					close(t.done)
				default:
					return
				}
			}
		}
	}
}

// position returns the trader's position, flat if none. Caller holds mu.
func (s *shard) position(trader string) ledger.Position {
	if p, ok := s.positions[trader]; ok {
		return p
	}
	return ledger.Position{Trader: trader, Market: s.market.ID}
}

// setPosition stores p, dropping flat positions from the map. Caller holds mu.
func (s *shard) setPosition(p ledger.Position) {
	if p.IsFlat() {
		delete(s.positions, p.Trader)
		return
	}
	s.positions[p.Trader] = p
}

// openPositions returns non-flat positions sorted by trader. Caller holds mu.
func (s *shard) openPositions() []ledger.Position {
	out := make([]ledger.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Trader < out[j].Trader })
	return out
}
