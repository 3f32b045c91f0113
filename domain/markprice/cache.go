// Package markprice caches the latest external mark price per market.
package markprice

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownMarket = errors.New("markprice: unknown market")
	ErrOutOfOrder    = errors.New("markprice: tick older than cached")
	ErrNoPrice       = errors.New("markprice: no price yet")
	ErrStale         = errors.New("markprice: price is stale")
	ErrInvalidTick   = errors.New("markprice: invalid tick")
)

// Tick is one feed observation. Bid and Ask are optional.
type Tick struct {
	Market    string
	Price     decimal.Decimal
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Timestamp time.Time
}

// Cache holds one atomically swapped tick per market. The set of markets is
// fixed at construction, so the map itself is never written again and
// readers never take a lock.
type Cache struct {
	slots      map[string]*atomic.Pointer[Tick]
	staleAfter time.Duration
	now        func() time.Time
}

func NewCache(markets []string, staleAfter time.Duration) *Cache {
	c := &Cache{
		slots:      make(map[string]*atomic.Pointer[Tick], len(markets)),
		staleAfter: staleAfter,
		now:        time.Now,
	}
	for _, m := range markets {
		c.slots[m] = new(atomic.Pointer[Tick])
	}
	return c
}

// WithClock replaces the staleness clock. Intended for tests.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

func (c *Cache) StaleAfter() time.Duration { return c.staleAfter }

// Update publishes a tick. Timestamps must not go backwards per market;
// equal timestamps replace the cached tick.
func (c *Cache) Update(t Tick) error {
	slot, ok := c.slots[t.Market]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMarket, t.Market)
	}
	if !t.Price.IsPositive() || t.Timestamp.IsZero() {
		return fmt.Errorf("%w: market=%s price=%s", ErrInvalidTick, t.Market, t.Price)
	}

	for {
		cur := slot.Load()
		if cur != nil && t.Timestamp.Before(cur.Timestamp) {
			return fmt.Errorf("%w: market=%s ts=%s cached=%s", ErrOutOfOrder, t.Market, t.Timestamp, cur.Timestamp)
		}
		next := t
		if slot.CompareAndSwap(cur, &next) {
			return nil
		}
	}
}

// Latest returns the cached tick regardless of age.
func (c *Cache) Latest(market string) (Tick, bool) {
	slot, ok := c.slots[market]
	if !ok {
		return Tick{}, false
	}
	t := slot.Load()
	if t == nil {
		return Tick{}, false
	}
	return *t, true
}

// Fresh returns the cached tick if it is younger than the staleness threshold.
func (c *Cache) Fresh(market string) (Tick, error) {
	slot, ok := c.slots[market]
	if !ok {
		return Tick{}, fmt.Errorf("%w: %q", ErrUnknownMarket, market)
	}
	t := slot.Load()
	if t == nil {
		return Tick{}, fmt.Errorf("%w: %s", ErrNoPrice, market)
	}
	if age := c.now().Sub(t.Timestamp); c.staleAfter > 0 && age > c.staleAfter {
		return *t, fmt.Errorf("%w: %s age=%s", ErrStale, market, age)
	}
	return *t, nil
}
