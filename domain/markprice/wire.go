package markprice

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// wireTick is the feed message: {"market","price","bid","ask","timestamp"} with
// a millisecond unix timestamp.
type wireTick struct {
	Market    string           `json:"market"`
	Price     decimal.Decimal  `json:"price"`
	Bid       *decimal.Decimal `json:"bid,omitempty"`
	Ask       *decimal.Decimal `json:"ask,omitempty"`
	Timestamp int64            `json:"timestamp"`
}

// DecodeTick parses one feed message. A missing price is derived from the
// bid/ask mid when both sides are present.
func DecodeTick(raw []byte) (Tick, error) {
	var w wireTick
	if err := json.Unmarshal(raw, &w); err != nil {
		return Tick{}, fmt.Errorf("%w: %v", ErrInvalidTick, err)
	}
	if w.Market == "" || w.Timestamp <= 0 {
		return Tick{}, fmt.Errorf("%w: market=%q ts=%d", ErrInvalidTick, w.Market, w.Timestamp)
	}

	t := Tick{
		Market:    w.Market,
		Price:     w.Price,
		Timestamp: time.UnixMilli(w.Timestamp).UTC(),
	}
	if w.Bid != nil {
		t.Bid = *w.Bid
	}
	if w.Ask != nil {
		t.Ask = *w.Ask
	}
	if t.Price.IsZero() && t.Bid.IsPositive() && t.Ask.IsPositive() {
		t.Price = t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
	}
	return t, nil
}

// EncodeTick is the inverse of DecodeTick.
func EncodeTick(t Tick) ([]byte, error) {
	w := wireTick{Market: t.Market, Price: t.Price, Timestamp: t.Timestamp.UnixMilli()}
	if !t.Bid.IsZero() {
		w.Bid = &t.Bid
	}
	if !t.Ask.IsZero() {
		w.Ask = &t.Ask
	}
	return json.Marshal(w)
}
