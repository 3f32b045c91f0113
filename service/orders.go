package service

import (
	"sync"

	"perpx/infra/memory"
)

type orderRoute struct {
	Market string
	Trader string
}

// orderIndex routes order ids to their market. Resting orders stay indexed
// until they leave the book; filled ones move to a bounded ring so a late
// cancel still learns alreadyFilled. Market workers write, callers read.
type orderIndex struct {
	mu      sync.RWMutex
	resting map[string]orderRoute
	filled  *memory.Recent[orderRoute]
}

func newOrderIndex(recent int) *orderIndex {
	return &orderIndex{
		resting: make(map[string]orderRoute),
		filled:  memory.NewRecent[orderRoute](uint64(recent)),
	}
}

func (x *orderIndex) rest(id string, r orderRoute) {
	x.mu.Lock()
	x.resting[id] = r
	x.mu.Unlock()
}

func (x *orderIndex) fill(id string, r orderRoute) {
	x.mu.Lock()
	delete(x.resting, id)
	x.filled.Add(id, r)
	x.mu.Unlock()
}

func (x *orderIndex) drop(id string) {
	x.mu.Lock()
	delete(x.resting, id)
	x.mu.Unlock()
}

// lookup finds a resting or recently filled order.
func (x *orderIndex) lookup(id string) (orderRoute, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if r, ok := x.resting[id]; ok {
		return r, true
	}
	return x.filled.Get(id)
}

func (x *orderIndex) filledBy(id string) (orderRoute, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.filled.Get(id)
}
