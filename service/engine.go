package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"perpx/domain/ledger"
	"perpx/domain/market"
	"perpx/domain/markprice"
	"perpx/events"
	"perpx/infra/journal"
	"perpx/infra/sequence"
	"perpx/onchain"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Syncer mirrors committed positions to the external ledger.
type Syncer interface {
	Sync(ctx context.Context, b onchain.Batch) error
}

// Settler admits verified collateral transactions exactly once.
type Settler interface {
	Settle(ctx context.Context, function, trader, txHash string, apply func(decimal.Decimal) error) (decimal.Decimal, error)
}

// MarkSource is the read side of the mark price cache.
type MarkSource interface {
	Fresh(market string) (markprice.Tick, error)
}

type Journal interface {
	Append(t journal.RecordType, data []byte) (uint64, error)
}

type Publisher interface {
	Publish(evs ...events.Event)
}

type Config struct {
	InboxSize    int
	RecentOrders int
}

type Deps struct {
	Markets   *market.Registry
	Accounts  *ledger.Accounts
	Marks     MarkSource
	Syncer    Syncer
	Settler   Settler
	Journal   Journal   // optional
	Events    Publisher // optional
	Sequencer *sequence.Sequencer
}

/*
Engine is the ONLY write entry point into trading state.

Every market is a shard served by one worker goroutine; all operations of a
market run on that worker one at a time, in arrival order. Accounts are
shared across markets and locked per trader.

Write path of a market operation:
- snapshot the shard
- match / close and compute account deltas
- apply deltas to accounts (all or none), holding freed collateral
- release the shard lock and mirror touched positions on chain
- on sync failure restore the snapshot and undo the held deltas
- on success release the held collateral
- journal the operation and publish events
*/
type Engine struct {
	cfg      Config
	markets  *market.Registry
	accounts *ledger.Accounts
	marks    MarkSource
	syncer   Syncer
	settler  Settler
	journal  Journal
	events   Publisher
	seq      *sequence.Sequencer
	log      *zap.Logger

	shards map[string]*shard
	orders *orderIndex

	runMu   sync.RWMutex
	running bool
	quit    chan struct{}
	wg      sync.WaitGroup

	now func() time.Time
}

func New(cfg Config, deps Deps, log *zap.Logger) *Engine {
	if cfg.InboxSize < 1 {
		cfg.InboxSize = 1024
	}
	if cfg.RecentOrders < 1 {
		cfg.RecentOrders = 4096
	}
	if deps.Sequencer == nil {
		deps.Sequencer = sequence.New(0)
	}

	e := &Engine{
		cfg:      cfg,
		markets:  deps.Markets,
		accounts: deps.Accounts,
		marks:    deps.Marks,
		syncer:   deps.Syncer,
		settler:  deps.Settler,
		journal:  deps.Journal,
		events:   deps.Events,
		seq:      deps.Sequencer,
		log:      log.Named("engine"),
		shards:   make(map[string]*shard, deps.Markets.Len()),
		orders:   newOrderIndex(cfg.RecentOrders),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, id := range deps.Markets.IDs() {
		m, _ := deps.Markets.Get(id)
		e.shards[id] = newShard(m, cfg.InboxSize)
	}
	return e
}

// SetJournal attaches the journal after replay, so replayed operations are
// not written twice.
func (e *Engine) SetJournal(j Journal) {
	e.journal = j
}

//
// ──────────────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────────────
//

// Start launches one worker per market.
func (e *Engine) Start() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.quit = make(chan struct{})
	quit := e.quit

	for _, s := range e.shards {
		e.wg.Add(1)
		go func(s *shard) {
			defer e.wg.Done()
			s.run(quit)
		}(s)
	}
	e.log.Info("engine started", zap.Int("markets", len(e.shards)))
}

// Stop lets the operation in flight on each market finish and stops the
// workers. Queued operations that have not started fail with ErrStopped.
func (e *Engine) Stop() {
	e.runMu.Lock()
	if !e.running {
		e.runMu.Unlock()
		return
	}
	e.running = false
	close(e.quit)
	e.runMu.Unlock()

	e.wg.Wait()
	e.log.Info("engine stopped")
}

// do runs fn on the market's worker and waits for it. Once enqueued, fn runs
// to completion even if ctx is cancelled, so callers always learn the outcome.
func (e *Engine) do(ctx context.Context, s *shard, fn func()) error {
	e.runMu.RLock()
	if !e.running {
		e.runMu.RUnlock()
		return ErrStopped
	}
	t := &task{fn: fn, done: make(chan struct{})}
	select {
	case s.inbox <- t:
	case <-ctx.Done():
		e.runMu.RUnlock()
		return ctx.Err()
	}
	e.runMu.RUnlock()

	<-t.done
	if !t.ran {
		return ErrStopped
	}
	return nil
}

func (e *Engine) shard(op, id string) (*shard, *Error) {
	s, ok := e.shards[id]
	if !ok {
		return nil, errorf(KindValidation, op, id, "%w: %q", market.ErrUnknownMarket, id)
	}
	return s, nil
}

//
// ──────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────
//

func (e *Engine) Markets() []market.Market {
	ids := e.markets.IDs()
	out := make([]market.Market, 0, len(ids))
	for _, id := range ids {
		m, _ := e.markets.Get(id)
		out = append(out, m)
	}
	return out
}

// Book aggregates up to levels price levels per side (all when levels <= 0).
func (e *Engine) Book(marketID string, levels int) (BookView, error) {
	s, err := e.shard("book", marketID)
	if err != nil {
		return BookView{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	bids, asks := s.book.Depth(levels)
	return BookView{Market: marketID, Bids: bids, Asks: asks}, nil
}

func (e *Engine) Position(marketID, trader string) (ledger.Position, bool, error) {
	s, err := e.shard("position", marketID)
	if err != nil {
		return ledger.Position{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[trader]
	return p, ok, nil
}

// OpenPositions lists every non-flat position of a market, sorted by trader.
func (e *Engine) OpenPositions(marketID string) ([]ledger.Position, error) {
	s, err := e.shard("positions", marketID)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openPositions(), nil
}

// Account returns the trader's balance and open positions across markets.
func (e *Engine) Account(trader string) AccountView {
	view := AccountView{Balance: e.accounts.Balance(trader)}
	for _, id := range e.markets.IDs() {
		s := e.shards[id]
		s.mu.RLock()
		if p, ok := s.positions[trader]; ok {
			view.Positions = append(view.Positions, p)
		}
		s.mu.RUnlock()
	}
	sort.Slice(view.Positions, func(i, j int) bool { return view.Positions[i].Market < view.Positions[j].Market })
	return view
}
