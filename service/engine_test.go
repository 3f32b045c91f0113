package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"perpx/domain/orderbook"
	"perpx/events"
	"perpx/onchain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestingAskPartiallyFilled(t *testing.T) {
	f := newFixture(t, nil)
	f.fund("0xmaker", "10000")
	f.fund("0xtaker", "10000")

	ask := f.mustPlace("0xmaker", orderbook.Sell, "100", "5")
	res := f.mustPlace("0xtaker", orderbook.Buy, "100", "3")

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.True(t, tr.Size.Equal(dec("3")))
	assert.True(t, tr.Price.Equal(dec("100")))
	assert.Equal(t, ask.OrderID, tr.MakerOrderID)
	assert.Equal(t, res.OrderID, tr.TakerOrderID)
	assert.True(t, res.Resting.IsZero(), "buy fully filled, nothing rests")

	book, err := f.engine.Book(gold, 0)
	require.NoError(t, err)
	assert.Empty(t, book.Bids)
	require.Len(t, book.Asks, 1)
	assert.True(t, book.Asks[0].Size.Equal(dec("2")))
	assert.Equal(t, 1, book.Asks[0].Orders)
}

func TestMakerPriceAndPriceTimePriority(t *testing.T) {
	f := newFixture(t, nil)
	for _, tr := range []string{"0xa", "0xb", "0xc", "0xd"} {
		f.fund(tr, "100000")
	}

	first := f.mustPlace("0xa", orderbook.Sell, "101", "1")
	second := f.mustPlace("0xb", orderbook.Sell, "101", "1")
	cheaper := f.mustPlace("0xc", orderbook.Sell, "100", "1")

	res := f.mustPlace("0xd", orderbook.Buy, "105", "3")
	require.Len(t, res.Trades, 3)
	assert.Equal(t, cheaper.OrderID, res.Trades[0].MakerOrderID)
	assert.True(t, res.Trades[0].Price.Equal(dec("100")), "maker sets the price")
	assert.Equal(t, first.OrderID, res.Trades[1].MakerOrderID)
	assert.Equal(t, second.OrderID, res.Trades[2].MakerOrderID)
	assert.True(t, res.Trades[2].Price.Equal(dec("101")))

	pos, ok, err := f.engine.Position(gold, "0xd")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, pos.Size.Equal(dec("3")))
	assert.True(t, pos.EntryPrice.Equal(dec("302").Div(dec("3"))))
}

func TestOpenFiveTimesLeverage(t *testing.T) {
	f := newFixture(t, nil)
	f.fund("0xmaker", "1000")
	f.fund("0xalice", "1000")

	f.mustPlace("0xmaker", orderbook.Sell, "50", "10")
	res := f.mustPlace("0xalice", orderbook.Buy, "50", "10")
	require.Len(t, res.PositionDeltas, 2)

	f.balance("0xalice", "1000", "100")
	assert.True(t, f.engine.Account("0xalice").Free.Equal(dec("900")))

	rec, ok := f.chain.Record(gold, "0xalice")
	require.True(t, ok, "position mirrored on chain")
	assert.True(t, rec.Size.Equal(dec("10")))
	assert.True(t, rec.Margin.Equal(dec("100")))

	short, ok := f.chain.Record(gold, "0xmaker")
	require.True(t, ok)
	assert.True(t, short.Size.Equal(dec("-10")))
}

func TestLiquidationClosesFullyAndPenalizes(t *testing.T) {
	f := newFixture(t, nil)
	f.fund("0xmaker", "1000")
	f.fund("0xalice", "1000")
	f.mustPlace("0xmaker", orderbook.Sell, "50", "10")
	f.mustPlace("0xalice", orderbook.Buy, "50", "10")

	// equity 100 - 50 = 50 > maintenance 45
	f.mark(gold, "45")
	_, err := f.engine.Liquidate(context.Background(), gold, "0xalice")
	require.ErrorIs(t, err, ErrNotLiquidatable)

	// equity 100 - 60 = 40 <= maintenance 44
	f.mark(gold, "44")
	sub := f.bus.Subscribe(gold)
	defer sub.Close()

	res, err := f.engine.Liquidate(context.Background(), gold, "0xalice")
	require.NoError(t, err)
	assert.True(t, res.Penalty.Equal(dec("8.8")))
	assert.True(t, res.RealizedPnL.Equal(dec("-60")))
	assert.True(t, res.BadDebt.IsZero())

	f.balance("0xalice", "931.2", "0")
	_, open, err := f.engine.Position(gold, "0xalice")
	require.NoError(t, err)
	assert.False(t, open, "position size is exactly zero")

	_, mirrored := f.chain.Record(gold, "0xalice")
	assert.False(t, mirrored, "closed on chain")

	// Collateral comes back exactly once.
	_, err = f.engine.Liquidate(context.Background(), gold, "0xalice")
	require.ErrorIs(t, err, ErrNotLiquidatable)
	f.balance("0xalice", "931.2", "0")

	var kinds []events.Kind
	for len(sub.Events()) > 0 {
		kinds = append(kinds, (<-sub.Events()).Kind)
	}
	assert.Contains(t, kinds, events.KindLiquidation)
	assert.Contains(t, kinds, events.KindTrade)
	assert.Contains(t, kinds, events.KindPosition)
}

func TestLiquidationLossCappedAtMargin(t *testing.T) {
	f := newFixture(t, nil)
	f.fund("0xmaker", "1000")
	f.fund("0xalice", "1000")
	f.mustPlace("0xmaker", orderbook.Sell, "50", "10")
	f.mustPlace("0xalice", orderbook.Buy, "50", "10")

	f.mark(gold, "30")
	res, err := f.engine.Liquidate(context.Background(), gold, "0xalice")
	require.NoError(t, err)

	// loss 200 + penalty 6 against margin 100
	assert.True(t, res.BadDebt.Equal(dec("106")))
	f.balance("0xalice", "900", "0")
}

func TestLiquidateStaleMark(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.engine.Liquidate(context.Background(), gold, "0xalice")
	assert.Equal(t, KindStale, KindOf(err))
}

func TestUpsertFailureRestoresSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	f.fund("0xmaker", "1000")
	f.fund("0xalice", "1000")
	f.mustPlace("0xmaker", orderbook.Sell, "50", "4")
	f.mustPlace("0xmaker", orderbook.Sell, "51", "4")
	f.mustPlace("0xalice", orderbook.Buy, "50", "1")

	before := f.state(gold)
	makerBefore := f.accounts.Balance("0xmaker")
	aliceBefore := f.accounts.Balance("0xalice")

	boom := errors.New("node unreachable")
	f.chain.Inject(onchain.FailAfter(onchain.OpUpsert, 1, boom))

	res, err := f.place("0xalice", orderbook.Buy, "51", "6")
	require.Error(t, err)
	assert.Equal(t, KindSync, KindOf(err))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StatusRejected, res.Status)

	assert.Equal(t, before, f.state(gold), "book and positions identical to the snapshot")
	after := f.accounts.Balance("0xmaker")
	assert.True(t, after.Total.Equal(makerBefore.Total) && after.Locked.Equal(makerBefore.Locked))
	after = f.accounts.Balance("0xalice")
	assert.True(t, after.Total.Equal(aliceBefore.Total) && after.Locked.Equal(aliceBefore.Locked))

	pending, err := f.outbox.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 2, "failed sync stays pending")

	// The reconciler re-mirrors local truth once the ledger recovers.
	f.chain.Inject(nil)
	require.NoError(t, f.engine.Resync(context.Background(), gold, []string{"0xalice", "0xmaker"}))
	pending, err = f.outbox.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	rec, ok := f.chain.Record(gold, "0xalice")
	require.True(t, ok)
	assert.True(t, rec.Size.Equal(dec("1")), "on-chain converges to the rolled back position")
}

func TestValidationAndMarginRejections(t *testing.T) {
	f := newFixture(t, nil)
	f.fund("0xalice", "100")

	tests := []struct {
		name string
		req  PlaceOrderRequest
		kind Kind
	}{
		{"unknown market", PlaceOrderRequest{Trader: "0xalice", Market: "NOPE", Side: orderbook.Buy, Price: dec("1"), Size: dec("1")}, KindValidation},
		{"zero size", PlaceOrderRequest{Trader: "0xalice", Market: gold, Side: orderbook.Buy, Price: dec("1"), Size: dec("0")}, KindValidation},
		{"negative price", PlaceOrderRequest{Trader: "0xalice", Market: gold, Side: orderbook.Sell, Price: dec("-1"), Size: dec("1")}, KindValidation},
		{"bad side", PlaceOrderRequest{Trader: "0xalice", Market: gold, Side: 7, Price: dec("1"), Size: dec("1")}, KindValidation},
		{"leverage over max", PlaceOrderRequest{Trader: "0xalice", Market: gold, Side: orderbook.Buy, Price: dec("1"), Size: dec("1"), Leverage: dec("20")}, KindMargin},
		{"leverage under initial ratio", PlaceOrderRequest{Trader: "0xalice", Market: gold, Side: orderbook.Buy, Price: dec("1"), Size: dec("1"), Leverage: dec("8")}, KindMargin},
		{"insufficient collateral", PlaceOrderRequest{Trader: "0xalice", Market: gold, Side: orderbook.Buy, Price: dec("100"), Size: dec("6"), Leverage: dec("5")}, KindMargin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.engine.PlaceOrder(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))
			assert.Equal(t, StatusRejected, res.Status)
			assert.NotEmpty(t, res.Reason)
		})
	}

	book, err := f.engine.Book(gold, 0)
	require.NoError(t, err)
	assert.Empty(t, book.Bids)
	f.balance("0xalice", "100", "0")

	// Exactly at the limit is fine: 5 * 100 / 5 = 100.
	f.mustPlace("0xalice", orderbook.Buy, "100", "5")
	f.balance("0xalice", "100", "100")
}

func TestReducingOrderNeedsNoReservation(t *testing.T) {
	f := newFixture(t, nil)
	f.fund("0xmaker", "1000")
	f.fund("0xalice", "100")
	f.mustPlace("0xmaker", orderbook.Sell, "50", "10")
	f.mustPlace("0xalice", orderbook.Buy, "50", "10")
	f.balance("0xalice", "100", "100")

	// Free is zero, but a sell of the long only reduces exposure.
	res := f.mustPlace("0xalice", orderbook.Sell, "60", "10")
	assert.True(t, res.Resting.Equal(dec("10")))
	f.balance("0xalice", "100", "100")

	f.mustPlace("0xmaker", orderbook.Buy, "60", "10")
	f.balance("0xalice", "200", "0")
}

func TestBelowMaintenanceBlocksNewOrders(t *testing.T) {
	f := newFixture(t, nil)
	f.fund("0xmaker", "1000")
	f.fund("0xalice", "1000")
	f.mustPlace("0xmaker", orderbook.Sell, "50", "10")
	f.mustPlace("0xalice", orderbook.Buy, "50", "10")

	f.mark(gold, "44")
	_, err := f.place("0xalice", orderbook.Buy, "40", "1")
	require.ErrorIs(t, err, ErrBelowMaintenance)
	assert.Equal(t, KindMargin, KindOf(err))
}

func TestImmediateOrCancelDiscardsRemainder(t *testing.T) {
	f := newFixture(t, nil)
	f.fund("0xmaker", "1000")
	f.fund("0xalice", "1000")
	f.mustPlace("0xmaker", orderbook.Sell, "50", "2")

	res, err := f.engine.PlaceOrder(context.Background(), PlaceOrderRequest{
		Trader: "0xalice", Market: gold, Side: orderbook.Buy, TIF: orderbook.IOC,
		Price: dec("50"), Size: dec("5"), Leverage: dec("5"),
	})
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.True(t, res.Resting.IsZero())

	book, _ := f.engine.Book(gold, 0)
	assert.Empty(t, book.Bids)
	assert.Empty(t, book.Asks)
	f.balance("0xalice", "1000", "20")
}

func TestCancel(t *testing.T) {
	f := newFixture(t, nil)
	f.fund("0xmaker", "1000")
	f.fund("0xalice", "1000")
	ctx := context.Background()

	bid := f.mustPlace("0xalice", orderbook.Buy, "50", "10")
	f.balance("0xalice", "1000", "100")

	status, err := f.engine.CancelOrder(ctx, "0xmaker", bid.OrderID)
	require.NoError(t, err)
	assert.Equal(t, CancelNotFound, status, "only the owner can cancel")

	status, err = f.engine.CancelOrder(ctx, "0xalice", bid.OrderID)
	require.NoError(t, err)
	assert.Equal(t, CancelCancelled, status)
	f.balance("0xalice", "1000", "0")

	status, err = f.engine.CancelOrder(ctx, "0xalice", bid.OrderID)
	require.NoError(t, err)
	assert.Equal(t, CancelNotFound, status)

	ask := f.mustPlace("0xmaker", orderbook.Sell, "50", "3")
	f.mustPlace("0xalice", orderbook.Buy, "50", "3")
	status, err = f.engine.CancelOrder(ctx, "0xmaker", ask.OrderID)
	require.NoError(t, err)
	assert.Equal(t, CancelAlreadyFilled, status)

	status, err = f.engine.CancelOrder(ctx, "0xalice", "no-such-order")
	require.NoError(t, err)
	assert.Equal(t, CancelNotFound, status)

	// The order id alone routes the cancel to its market.
	oilBid, err := f.engine.PlaceOrder(ctx, PlaceOrderRequest{
		Trader: "0xalice", Market: oil, Side: orderbook.Buy,
		Price: dec("20"), Size: dec("5"), Leverage: dec("5"),
	})
	require.NoError(t, err)
	f.balance("0xalice", "1000", "50")
	status, err = f.engine.CancelOrder(ctx, "0xalice", oilBid.OrderID)
	require.NoError(t, err)
	assert.Equal(t, CancelCancelled, status)
	f.balance("0xalice", "1000", "30")
	book, err := f.engine.Book(oil, 0)
	require.NoError(t, err)
	assert.Empty(t, book.Bids)
}

func TestDepositWithdraw(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.chain.AddReceipt(onchain.Receipt{
		TxHash: "0xd1", Success: true, Function: onchain.FuncDeposit,
		Sender: "0xalice", Target: vault, Asset: "USDC", Amount: dec("500"),
	})
	f.chain.AddReceipt(onchain.Receipt{
		TxHash: "0xw1", Success: true, Function: onchain.FuncWithdraw,
		Sender: "0xalice", Target: vault, Asset: "USDC", Amount: dec("600"),
	})
	f.chain.AddReceipt(onchain.Receipt{
		TxHash: "0xw2", Success: true, Function: onchain.FuncWithdraw,
		Sender: "0xalice", Target: vault, Asset: "USDC", Amount: dec("200"),
	})

	amt, err := f.engine.Deposit(ctx, "0xalice", "0xd1")
	require.NoError(t, err)
	assert.True(t, amt.Equal(dec("500")))

	_, err = f.engine.Deposit(ctx, "0xalice", "0xd1")
	assert.Equal(t, KindValidation, KindOf(err), "same tx twice")

	_, err = f.engine.Deposit(ctx, "0xbob", "0xd1")
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = f.engine.Withdraw(ctx, "0xalice", "0xw1")
	assert.Equal(t, KindMargin, KindOf(err), "more than free")

	_, err = f.engine.Withdraw(ctx, "0xalice", "0xw2")
	require.NoError(t, err)
	f.balance("0xalice", "300", "0")

	_, err = f.engine.Deposit(ctx, "0xalice", "0xmissing")
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestStoppedEngineRefusesWork(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.Stop()
	_, err := f.place("0xalice", orderbook.Buy, "1", "1")
	assert.ErrorIs(t, err, ErrStopped)
}

func TestReservationCountsRestingSameSideOrders(t *testing.T) {
	f := newFixture(t, nil)
	f.fund("0xmaker", "1000")
	f.fund("0xalice", "100")
	f.mustPlace("0xmaker", orderbook.Sell, "50", "10")
	f.mustPlace("0xalice", orderbook.Buy, "50", "10")
	f.balance("0xalice", "100", "100")

	// The first sell reduces the long; the second would open a short of
	// 100 once the first fills, so it must reserve for it.
	f.mustPlace("0xalice", orderbook.Sell, "50", "10")
	_, err := f.place("0xalice", orderbook.Sell, "51", "100")
	require.ErrorIs(t, err, ErrInsufficientMargin)
	assert.Equal(t, KindMargin, KindOf(err))
	f.balance("0xalice", "100", "100")

	res := f.mustPlace("0xmaker", orderbook.Buy, "51", "10")
	require.Len(t, res.Trades, 1)
	assert.True(t, res.Trades[0].Price.Equal(dec("50")))
	f.balance("0xalice", "100", "0")

	// Later buyers are not blocked by anything alice left behind.
	book, err := f.engine.Book(gold, 0)
	require.NoError(t, err)
	assert.Empty(t, book.Asks)
}

func TestUnfundedMakerIsPulledAndMatchingContinues(t *testing.T) {
	f := newFixture(t, nil)
	f.fund("0xmaker", "1000")
	f.fund("0xalice", "100")
	f.fund("0xbob", "10000")
	f.mustPlace("0xmaker", orderbook.Sell, "50", "10")
	f.mustPlace("0xalice", orderbook.Buy, "50", "10")
	exit := f.mustPlace("0xalice", orderbook.Sell, "55", "10")
	f.mustPlace("0xmaker", orderbook.Sell, "56", "2")

	// Liquidation leaves alice flat with 31.2 and her reducing sell now
	// opening a short she cannot margin.
	f.mark(gold, "44")
	_, err := f.engine.Liquidate(context.Background(), gold, "0xalice")
	require.NoError(t, err)
	f.balance("0xalice", "31.2", "0")

	res := f.mustPlace("0xbob", orderbook.Buy, "56", "10")
	require.Len(t, res.Trades, 1, "only the funded ask trades")
	assert.Equal(t, "0xmaker", res.Trades[0].MakerTrader)
	assert.True(t, res.Trades[0].Price.Equal(dec("56")))
	assert.True(t, res.Resting.Equal(dec("8")))
	f.balance("0xalice", "31.2", "0")

	_, open, err := f.engine.Position(gold, "0xalice")
	require.NoError(t, err)
	assert.False(t, open)

	status, err := f.engine.CancelOrder(context.Background(), "0xalice", exit.OrderID)
	require.NoError(t, err)
	assert.Equal(t, CancelNotFound, status, "pulled orders are gone")

	book, err := f.engine.Book(gold, 0)
	require.NoError(t, err)
	assert.Empty(t, book.Asks)
	require.Len(t, book.Bids, 1)
	assert.True(t, book.Bids[0].Size.Equal(dec("8")))
}

func TestTakerThatCannotMarginItsFillIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	f.fund("0xmaker", "1000")
	f.fund("0xalice", "20")

	// Reserved at the limit of 50, but the bid pays 100: margin 20 is
	// reserved, 40 would be needed.
	f.mustPlace("0xmaker", orderbook.Buy, "100", "2")
	_, err := f.place("0xalice", orderbook.Sell, "50", "2")
	require.ErrorIs(t, err, ErrInsufficientMargin)
	assert.Equal(t, KindMargin, KindOf(err))
	f.balance("0xalice", "20", "0")

	book, err := f.engine.Book(gold, 0)
	require.NoError(t, err)
	require.Len(t, book.Bids, 1, "the maker is untouched")
}

// gatedSyncer holds the syncs of one market until released, then fails them.
type gatedSyncer struct {
	Syncer
	market  string
	armed   atomic.Bool
	once    sync.Once
	entered chan struct{}
	release chan struct{}
	err     error
}

func (g *gatedSyncer) Sync(ctx context.Context, b onchain.Batch) error {
	if b.Market != g.market || !g.armed.Load() {
		return g.Syncer.Sync(ctx, b)
	}
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.err
}

func TestCollateralFreedBySyncInFlightIsNotSpendable(t *testing.T) {
	gate := &gatedSyncer{
		market:  gold,
		entered: make(chan struct{}),
		release: make(chan struct{}),
		err:     errors.New("node unreachable"),
	}
	f := newFixtureWith(t, nil, func(s Syncer) Syncer {
		gate.Syncer = s
		return gate
	})
	f.fund("0xmaker", "10000")
	f.fund("0xalice", "100")
	f.mustPlace("0xmaker", orderbook.Sell, "50", "10")
	f.mustPlace("0xalice", orderbook.Buy, "50", "10")
	f.mustPlace("0xmaker", orderbook.Buy, "50", "10")
	before := f.state(gold)

	gate.armed.Store(true)
	closed := make(chan error, 1)
	go func() {
		_, err := f.place("0xalice", orderbook.Sell, "50", "10")
		closed <- err
	}()
	<-gate.entered

	// The GOLD close would free alice's 100 of margin, but its sync has not
	// confirmed: OIL cannot lock it.
	_, err := f.engine.PlaceOrder(context.Background(), PlaceOrderRequest{
		Trader: "0xalice", Market: oil, Side: orderbook.Buy,
		Price: dec("50"), Size: dec("10"), Leverage: dec("5"),
	})
	require.ErrorIs(t, err, ErrInsufficientMargin)
	f.balance("0xalice", "100", "100")

	close(gate.release)
	err = <-closed
	assert.Equal(t, KindSync, KindOf(err))
	assert.Equal(t, before, f.state(gold))
	f.balance("0xalice", "100", "100")

	// Once a close confirms, the collateral is free for any market.
	gate.armed.Store(false)
	f.mustPlace("0xalice", orderbook.Sell, "50", "10")
	f.balance("0xalice", "100", "0")
	_, err = f.engine.PlaceOrder(context.Background(), PlaceOrderRequest{
		Trader: "0xalice", Market: oil, Side: orderbook.Buy,
		Price: dec("50"), Size: dec("10"), Leverage: dec("5"),
	})
	require.NoError(t, err)
	f.balance("0xalice", "100", "100")
}

func TestBookEventsCarryChangedLevels(t *testing.T) {
	f := newFixture(t, nil)
	f.fund("0xmaker", "10000")
	f.fund("0xtaker", "10000")
	sub := f.bus.Subscribe(gold)
	defer sub.Close()

	books := func() []*events.Book {
		var out []*events.Book
		for len(sub.Events()) > 0 {
			if ev := <-sub.Events(); ev.Kind == events.KindBook {
				out = append(out, ev.Book)
			}
		}
		return out
	}

	f.mustPlace("0xmaker", orderbook.Sell, "100", "5")
	far := f.mustPlace("0xmaker", orderbook.Sell, "101", "1")
	got := books()
	require.Len(t, got, 2)
	require.Len(t, got[1].Asks, 1)
	assert.True(t, got[1].Asks[0].Price.Equal(dec("101")))
	assert.True(t, got[1].Asks[0].Size.Equal(dec("1")))

	f.mustPlace("0xtaker", orderbook.Buy, "100", "7")
	got = books()
	require.Len(t, got, 1)
	require.Len(t, got[0].Asks, 1, "only the level that traded")
	assert.True(t, got[0].Asks[0].Size.IsZero(), "level 100 emptied")
	require.Len(t, got[0].Bids, 1)
	assert.True(t, got[0].Bids[0].Size.Equal(dec("2")), "remainder rests at 100")

	status, err := f.engine.CancelOrder(context.Background(), "0xmaker", far.OrderID)
	require.NoError(t, err)
	require.Equal(t, CancelCancelled, status)
	got = books()
	require.Len(t, got, 1)
	require.Len(t, got[0].Asks, 1)
	assert.True(t, got[0].Asks[0].Price.Equal(dec("101")))
	assert.True(t, got[0].Asks[0].Size.IsZero())
}
