package service

import (
	"context"
	"errors"
	"time"

	"perpx/domain/ledger"
	"perpx/domain/orderbook"
	"perpx/infra/journal"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// placeRecord is the journaled form of an accepted order; replay feeds it
// back through place with the same id, sequence and time.
type placeRecord struct {
	Market   string                `json:"market"`
	OrderID  string                `json:"orderId"`
	Trader   string                `json:"trader"`
	Side     orderbook.Side        `json:"side"`
	TIF      orderbook.TimeInForce `json:"tif"`
	Price    decimal.Decimal       `json:"price"`
	Size     decimal.Decimal       `json:"size"`
	Leverage decimal.Decimal       `json:"leverage"`
	Seq      uint64                `json:"seq"`
	At       time.Time             `json:"at"`

	// resting orders pulled while matching, in the order they were pulled
	Pulled []string `json:"pulled,omitempty"`
}

// PlaceOrder validates, matches and commits a limit order.
//
// Rejections come back as a rejected result together with an *Error whose
// Kind says why; nothing is mutated in that case.
func (e *Engine) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderResult, error) {
	s, lev, verr := e.validate(req)
	if verr != nil {
		e.log.Debug("order rejected", zap.String("trader", req.Trader), zap.Error(verr))
		return rejected(verr), verr
	}

	rec := placeRecord{
		Market:   req.Market,
		OrderID:  uuid.NewString(),
		Trader:   req.Trader,
		Side:     req.Side,
		TIF:      req.TIF,
		Price:    req.Price,
		Size:     req.Size,
		Leverage: lev,
	}

	var (
		res  *OrderResult
		perr *Error
	)
	err := e.do(ctx, s, func() {
		rec.Seq = e.seq.Next()
		rec.At = e.now()
		res, perr = e.place(ctx, s, rec, true)
	})
	if err != nil {
		return nil, err
	}
	if perr != nil {
		e.log.Debug("order rejected", zap.String("trader", req.Trader), zap.Error(perr))
		return rejected(perr), perr
	}
	return res, nil
}

// validate covers Received -> Validated checks that need no state.
func (e *Engine) validate(req PlaceOrderRequest) (*shard, decimal.Decimal, *Error) {
	const op = "place"

	s, serr := e.shard(op, req.Market)
	if serr != nil {
		return nil, decimal.Zero, serr
	}

	switch {
	case req.Trader == "":
		return nil, decimal.Zero, errorf(KindValidation, op, req.Market, "%w: empty trader", ErrInvalidRequest)
	case !req.Side.Valid():
		return nil, decimal.Zero, errorf(KindValidation, op, req.Market, "%w: side %d", ErrInvalidRequest, req.Side)
	case req.TIF != orderbook.GTC && req.TIF != orderbook.IOC:
		return nil, decimal.Zero, errorf(KindValidation, op, req.Market, "%w: time in force %d", ErrInvalidRequest, req.TIF)
	case !req.Price.IsPositive():
		return nil, decimal.Zero, errorf(KindValidation, op, req.Market, "%w: price %s", ErrInvalidRequest, req.Price)
	case !req.Size.IsPositive():
		return nil, decimal.Zero, errorf(KindValidation, op, req.Market, "%w: size %s", ErrInvalidRequest, req.Size)
	}

	lev := req.Leverage
	if lev.IsZero() {
		lev = s.market.DefaultLeverage()
	}
	if !s.market.AllowsLeverage(lev) {
		return nil, decimal.Zero, errorf(KindMargin, op, req.Market,
			"%w: %s (max %s, initial margin %s)", ErrLeverage, lev, s.market.MaxLeverage, s.market.InitialMarginRatio)
	}
	return s, lev, nil
}

// place runs on the market worker. live is false during journal replay,
// which skips the mark gate, margin checks, on-chain sync, journaling and
// events: the journaled order already passed them.
func (e *Engine) place(ctx context.Context, s *shard, rec placeRecord, live bool) (*OrderResult, *Error) {
	const op = "place"

	s.mu.Lock()

	pos := s.position(rec.Trader)
	if live {
		if err := e.gateExisting(s, pos); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}

	// Margin gate: the exposure this order can add, margined at its limit
	// price. Same-side orders already resting count against the position
	// first, so they cannot all claim to reduce it.
	working := pos
	working.Size = pos.Size.Add(s.book.Working(rec.Trader, rec.Side).Mul(rec.Side.Sign()))
	reserve := ledger.InitialMargin(ledger.OpeningSize(working, rec.Size.Mul(rec.Side.Sign())), rec.Price, rec.Leverage)
	if free := e.accounts.Balance(rec.Trader).Free; live && reserve.GreaterThan(free) {
		s.mu.Unlock()
		return nil, errorf(KindMargin, op, s.market.ID,
			"%w: reservation %s, free %s", ErrInsufficientMargin, reserve, free)
	}

	o := &orderbook.Order{
		ID:        rec.OrderID,
		Trader:    rec.Trader,
		Market:    rec.Market,
		Side:      rec.Side,
		TIF:       rec.TIF,
		Price:     rec.Price,
		Size:      rec.Size,
		Remaining: rec.Size,
		Leverage:  rec.Leverage,
		Margin:    reserve,
		Seq:       rec.Seq,
		CreatedAt: rec.At,
	}

	b := newBatch(op, rec.Seq, rec.At, s.capture(rec.Seq))
	b.deltas.Add(o.Trader, ledger.Delta{Locked: reserve})

	pulled := make(map[string]bool, len(rec.Pulled))
	for _, id := range rec.Pulled {
		pulled[id] = true
	}
	if err := e.match(s, b, o, live, pulled); err != nil {
		e.restore(s, b)
		s.mu.Unlock()
		kind := KindInvariant
		if errors.Is(err, ErrInsufficientMargin) {
			kind = KindMargin
		}
		return nil, newError(kind, op, s.market.ID, err)
	}

	resting := decimal.Zero
	switch {
	case o.Remaining.IsZero():
		b.filled[o.ID] = o.Trader
	case o.TIF == orderbook.GTC:
		if err := s.book.Submit(o); err != nil {
			e.restore(s, b)
			s.mu.Unlock()
			return nil, newError(KindInvariant, op, s.market.ID, err)
		}
		resting = o.Remaining
		b.touchLevel(o.Side, o.Price)
	default:
		b.deltas.Add(o.Trader, ledger.Delta{Locked: o.Margin.Neg()})
		o.Margin = decimal.Zero
	}

	positions, cerr := e.commit(ctx, s, b, live)
	if cerr != nil {
		return nil, cerr
	}

	if resting.IsPositive() {
		e.orders.rest(o.ID, orderRoute{Market: s.market.ID, Trader: o.Trader})
	}

	if live {
		rec.Pulled = b.pulled
		if len(b.pulled) > 0 {
			e.log.Warn("pulled unfunded resting orders",
				zap.String("market", s.market.ID),
				zap.Strings("orders", b.pulled),
				zap.Uint64("seq", rec.Seq),
			)
		}
		e.record(journal.RecordPlace, rec)
		e.publish(e.marketEvents(s, b, positions)...)
	}

	return &OrderResult{
		Status:         StatusAccepted,
		OrderID:        o.ID,
		Seq:            rec.Seq,
		Trades:         b.trades,
		PositionDeltas: positions,
		Resting:        resting,
	}, nil
}

// gateExisting refuses new orders from a trader whose position in this market
// is already at or below maintenance. Without a fresh mark the gate is open;
// the liquidation monitor is suspended for the market in that case too.
func (e *Engine) gateExisting(s *shard, pos ledger.Position) *Error {
	if pos.IsFlat() || e.marks == nil {
		return nil
	}
	tick, err := e.marks.Fresh(s.market.ID)
	if err != nil {
		return nil
	}
	if pos.Liquidatable(tick.Price, s.market.MaintenanceMarginRatio) {
		return errorf(KindMargin, "place", s.market.ID,
			"%w: equity %s, maintenance %s", ErrBelowMaintenance,
			pos.Equity(tick.Price), pos.MaintenanceRequirement(tick.Price, s.market.MaintenanceMarginRatio))
	}
	return nil
}
