package orderbook

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidOrder   = errors.New("orderbook: malformed order")
	ErrDuplicateOrder = errors.New("orderbook: duplicate order id")
	ErrOrderNotFound  = errors.New("orderbook: order not found")
	ErrOverReduce     = errors.New("orderbook: reduce exceeds remaining")
)

// OrderBook is the price-time priority book of one market.
// It is single-writer: the owning market worker serializes all mutations.
type OrderBook struct {
	Market string

	Bids *RBTree
	Asks *RBTree

	orders map[string]*Order

	// resting size per trader and side
	working map[workKey]decimal.Decimal
}

type workKey struct {
	trader string
	side   Side
}

func NewOrderBook(market string) *OrderBook {
	return &OrderBook{
		Market:  market,
		Bids:    NewRBTree(),
		Asks:    NewRBTree(),
		orders:  make(map[string]*Order),
		working: make(map[workKey]decimal.Decimal),
	}
}

func (b *OrderBook) side(s Side) *RBTree {
	if s == Buy {
		return b.Bids
	}
	return b.Asks
}

// Submit rests o at its price-time rank. It does not match.
func (b *OrderBook) Submit(o *Order) error {
	if !o.wellFormed() {
		return fmt.Errorf("%w: id=%q price=%s size=%s remaining=%s", ErrInvalidOrder, o.ID, o.Price, o.Size, o.Remaining)
	}
	if _, dup := b.orders[o.ID]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateOrder, o.ID)
	}

	b.side(o.Side).UpsertLevel(o.Price).insert(o)
	b.orders[o.ID] = o
	b.work(o, o.Remaining)
	return nil
}

// BestBid is the highest-priced, oldest bid, or nil.
func (b *OrderBook) BestBid() *Order {
	if lvl := b.Bids.MaxLevel(); lvl != nil {
		return lvl.Head()
	}
	return nil
}

// BestAsk is the lowest-priced, oldest ask, or nil.
func (b *OrderBook) BestAsk() *Order {
	if lvl := b.Asks.MinLevel(); lvl != nil {
		return lvl.Head()
	}
	return nil
}

// Best returns the top of the given side.
func (b *OrderBook) Best(s Side) *Order {
	if s == Buy {
		return b.BestBid()
	}
	return b.BestAsk()
}

// Reduce decrements an order's remaining size and removes it at zero.
// It reports whether the order left the book.
func (b *OrderBook) Reduce(id string, amount decimal.Decimal) (bool, error) {
	o, ok := b.orders[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if !amount.IsPositive() {
		return false, fmt.Errorf("%w: reduce by %s", ErrInvalidOrder, amount)
	}
	if amount.GreaterThan(o.Remaining) {
		return false, fmt.Errorf("%w: %s remaining=%s amount=%s", ErrOverReduce, id, o.Remaining, amount)
	}

	o.Remaining = o.Remaining.Sub(amount)
	o.level.TotalQty = o.level.TotalQty.Sub(amount)
	b.work(o, amount.Neg())

	if o.Remaining.IsZero() {
		b.unlink(o)
		return true, nil
	}
	return false, nil
}

// Cancel removes an order if present.
func (b *OrderBook) Cancel(id string) (*Order, bool) {
	o, ok := b.orders[id]
	if !ok {
		return nil, false
	}
	b.unlink(o)
	return o, true
}

func (b *OrderBook) unlink(o *Order) {
	b.work(o, o.Remaining.Neg())
	lvl := o.level
	lvl.remove(o)
	if lvl.Empty() {
		b.side(o.Side).DeleteLevel(lvl.Price)
	}
	delete(b.orders, o.ID)
}

func (b *OrderBook) work(o *Order, by decimal.Decimal) {
	k := workKey{trader: o.Trader, side: o.Side}
	if v := b.working[k].Add(by); v.IsPositive() {
		b.working[k] = v
	} else {
		delete(b.working, k)
	}
}

// Working is the total remaining size trader has resting on side.
func (b *OrderBook) Working(trader string, side Side) decimal.Decimal {
	return b.working[workKey{trader: trader, side: side}]
}

func (b *OrderBook) Get(id string) (*Order, bool) {
	o, ok := b.orders[id]
	return o, ok
}

// Len is the number of resting orders.
func (b *OrderBook) Len() int { return len(b.orders) }

// Crossed reports whether the best bid meets or exceeds the best ask.
func (b *OrderBook) Crossed() bool {
	bid, ask := b.BestBid(), b.BestAsk()
	return bid != nil && ask != nil && bid.Price.GreaterThanOrEqual(ask.Price)
}

// ---- traversal helpers ----

func (b *OrderBook) BidsWalk(fn func(*PriceLevel) bool) {
	b.Bids.ForEachDescending(fn)
}

func (b *OrderBook) AsksWalk(fn func(*PriceLevel) bool) {
	b.Asks.ForEachAscending(fn)
}

// Orders returns detached copies of every resting order in rank order:
// bids best to worst, then asks best to worst.
func (b *OrderBook) Orders() []Order {
	out := make([]Order, 0, len(b.orders))
	collect := func(lvl *PriceLevel) bool {
		for o := lvl.Head(); o != nil; o = o.Next() {
			out = append(out, o.Copy())
		}
		return true
	}
	b.BidsWalk(collect)
	b.AsksWalk(collect)
	return out
}

// Restore discards the current contents and rests the given orders.
func (b *OrderBook) Restore(orders []Order) error {
	b.Bids = NewRBTree()
	b.Asks = NewRBTree()
	b.orders = make(map[string]*Order, len(orders))
	b.working = make(map[workKey]decimal.Decimal)

	for i := range orders {
		o := orders[i]
		o.level, o.next, o.prev = nil, nil, nil
		if err := b.Submit(&o); err != nil {
			return err
		}
	}
	return nil
}

// Level is an aggregated price level.
type Level struct {
	Price  decimal.Decimal `json:"price"`
	Size   decimal.Decimal `json:"size"`
	Orders int             `json:"orders"`
}

// LevelAt aggregates the level at price on side; Size is zero when no
// order rests there.
func (b *OrderBook) LevelAt(s Side, price decimal.Decimal) Level {
	if lvl := b.side(s).FindLevel(price); lvl != nil {
		return Level{Price: lvl.Price, Size: lvl.TotalQty, Orders: lvl.OrderCount}
	}
	return Level{Price: price, Size: decimal.Zero}
}

// Depth aggregates up to n levels per side (n <= 0 means all).
func (b *OrderBook) Depth(n int) (bids, asks []Level) {
	take := func(dst *[]Level) func(*PriceLevel) bool {
		return func(lvl *PriceLevel) bool {
			*dst = append(*dst, Level{Price: lvl.Price, Size: lvl.TotalQty, Orders: lvl.OrderCount})
			return n <= 0 || len(*dst) < n
		}
	}
	b.BidsWalk(take(&bids))
	b.AsksWalk(take(&asks))
	return bids, asks
}
