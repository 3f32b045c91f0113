package events

import (
	"sync"
	"sync/atomic"
)

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event and the drop is counted.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  uint64
	bufSize int
	closed  bool

	dropped atomic.Uint64
}

type Subscription struct {
	id     uint64
	market string
	ch     chan Event
	bus    *Bus
	once   sync.Once
}

func NewBus(bufSize int) *Bus {
	if bufSize < 1 {
		bufSize = 1
	}
	return &Bus{subs: make(map[uint64]*Subscription), bufSize: bufSize}
}

// Subscribe returns a subscription for one market, or all markets when market is "".
func (b *Bus) Subscribe(market string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	s := &Subscription{
		id:     b.nextID,
		market: market,
		ch:     make(chan Event, b.bufSize),
		bus:    b,
	}
	if b.closed {
		close(s.ch)
		return s
	}
	b.subs[s.id] = s
	return s
}

func (s *Subscription) Events() <-chan Event { return s.ch }

// Close unsubscribes and closes the channel. Safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(func() {
		b := s.bus
		b.mu.Lock()
		if _, ok := b.subs[s.id]; ok {
			delete(b.subs, s.id)
			close(s.ch)
		}
		b.mu.Unlock()
	})
}

func (b *Bus) Publish(evs ...Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ev := range evs {
		for _, s := range b.subs {
			if s.market != "" && s.market != ev.Market {
				continue
			}
			select {
			case s.ch <- ev:
			default:
				b.dropped.Add(1)
			}
		}
	}
}

// Dropped counts events not delivered to a full subscriber.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close ends every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
}
