package orderbook

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side int8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Sign is +1 for buys and -1 for sells.
func (s Side) Sign() decimal.Decimal {
	if s == Buy {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(-1)
}

func (s Side) Valid() bool { return s == Buy || s == Sell }

// ParseSide accepts "buy"/"sell" and the bid/ask spellings.
func ParseSide(v string) (Side, bool) {
	switch v {
	case "buy", "BUY", "bid", "BID":
		return Buy, true
	case "sell", "SELL", "ask", "ASK":
		return Sell, true
	}
	return 0, false
}

// TimeInForce decides what happens to an unfilled remainder.
type TimeInForce int8

const (
	GTC TimeInForce = iota // rest in the book
	IOC                    // discard
)

func (t TimeInForce) String() string {
	if t == IOC {
		return "ioc"
	}
	return "gtc"
}

// Order is a resting or incoming limit order.
type Order struct {
	ID     string
	Trader string
	Market string
	Side   Side
	TIF    TimeInForce

	Price     decimal.Decimal
	Size      decimal.Decimal
	Remaining decimal.Decimal
	Leverage  decimal.Decimal

	// Margin is the initial margin still reserved for Remaining.
	Margin decimal.Decimal

	Seq       uint64
	CreatedAt time.Time

	level *PriceLevel
	next  *Order
	prev  *Order
}

func (o *Order) Filled() decimal.Decimal {
	return o.Size.Sub(o.Remaining)
}

// Next walks the FIFO queue of the order's price level.
func (o *Order) Next() *Order {
	return o.next
}

// Copy returns a detached value copy without queue links.
func (o *Order) Copy() Order {
	c := *o
	c.level, c.next, c.prev = nil, nil, nil
	return c
}

func (o *Order) wellFormed() bool {
	return o.ID != "" &&
		o.Side.Valid() &&
		o.Price.IsPositive() &&
		o.Size.IsPositive() &&
		o.Remaining.IsPositive() &&
		o.Remaining.LessThanOrEqual(o.Size)
}
