package service

import (
	"context"
	"testing"
	"time"

	"perpx/domain/ledger"
	"perpx/domain/market"
	"perpx/domain/markprice"
	"perpx/domain/orderbook"
	"perpx/events"
	"perpx/infra/outbox"
	"perpx/onchain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	gold  = "GOLD-PERP"
	oil   = "OIL-PERP"
	vault = "0xvault"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testMarkets(t testing.TB) *market.Registry {
	t.Helper()
	mk := func(id string) market.Market {
		return market.Market{
			ID:                      id,
			MaxLeverage:             dec("10"),
			InitialMarginRatio:      dec("0.2"),
			MaintenanceMarginRatio:  dec("0.1"),
			LiquidationPenaltyRatio: dec("0.02"),
		}
	}
	reg, err := market.New(mk(gold), mk(oil))
	require.NoError(t, err)
	return reg
}

type fixture struct {
	t        testing.TB
	engine   *Engine
	chain    *onchain.MemoryLedger
	outbox   *outbox.Outbox
	marks    *markprice.Cache
	accounts *ledger.Accounts
	bus      *events.Bus
	now      time.Time
}

func newFixture(t testing.TB, journal Journal) *fixture {
	t.Helper()
	return newFixtureWith(t, journal, nil)
}

// newFixtureWith lets a test wrap the coordinator that mirrors positions.
func newFixtureWith(t testing.TB, journal Journal, wrap func(Syncer) Syncer) *fixture {
	t.Helper()

	ob, err := outbox.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { ob.Close() })

	f := &fixture{
		t:        t,
		chain:    onchain.NewMemoryLedger(vault),
		outbox:   ob,
		accounts: ledger.NewAccounts(),
		bus:      events.NewBus(1024),
		now:      time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.marks = markprice.NewCache([]string{gold, oil}, 10*time.Second).WithClock(func() time.Time { return f.now })

	coord := onchain.NewCoordinator(f.chain, ob, onchain.CoordinatorConfig{
		Vault:           vault,
		CollateralAsset: "USDC",
		CallTimeout:     time.Second,
	}, zap.NewNop())

	var syncer Syncer = coord
	if wrap != nil {
		syncer = wrap(coord)
	}

	f.engine = New(Config{InboxSize: 64, RecentOrders: 64}, Deps{
		Markets:  testMarkets(t),
		Accounts: f.accounts,
		Marks:    f.marks,
		Syncer:   syncer,
		Settler:  coord,
		Journal:  journal,
		Events:   f.bus,
	}, zap.NewNop())
	f.engine.Start()
	t.Cleanup(f.engine.Stop)
	return f
}

func (f *fixture) fund(trader, amount string) {
	f.t.Helper()
	require.NoError(f.t, f.accounts.Credit(trader, dec(amount)))
}

func (f *fixture) mark(marketID, price string) {
	f.t.Helper()
	require.NoError(f.t, f.marks.Update(markprice.Tick{Market: marketID, Price: dec(price), Timestamp: f.now}))
}

func (f *fixture) place(trader string, side orderbook.Side, price, size string) (*OrderResult, error) {
	return f.engine.PlaceOrder(context.Background(), PlaceOrderRequest{
		Trader:   trader,
		Market:   gold,
		Side:     side,
		Price:    dec(price),
		Size:     dec(size),
		Leverage: dec("5"),
	})
}

func (f *fixture) mustPlace(trader string, side orderbook.Side, price, size string) *OrderResult {
	f.t.Helper()
	res, err := f.place(trader, side, price, size)
	require.NoError(f.t, err)
	require.Equal(f.t, StatusAccepted, res.Status)
	return res
}

func (f *fixture) balance(trader, total, locked string) {
	f.t.Helper()
	bal := f.accounts.Balance(trader)
	assert.Truef(f.t, bal.Total.Equal(dec(total)), "%s total = %s, want %s", trader, bal.Total, total)
	assert.Truef(f.t, bal.Locked.Equal(dec(locked)), "%s locked = %s, want %s", trader, bal.Locked, locked)
}

// state captures everything a rollback must restore.
type state struct {
	orders    []orderbook.Order
	positions map[string]ledger.Position
}

func (f *fixture) state(marketID string) state {
	s := f.engine.shards[marketID]
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.capture(0)
	return state{orders: snap.Orders, positions: snap.Positions}
}
