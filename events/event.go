// Package events defines the outbound stream the engine emits for transports
// to relay: trades, book deltas, position deltas and liquidations.
package events

import (
	"time"

	"perpx/domain/ledger"
	"perpx/domain/orderbook"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindTrade       Kind = "trade"
	KindBook        Kind = "book"
	KindPosition    Kind = "position"
	KindLiquidation Kind = "liquidation"
)

// Event carries exactly one payload matching its Kind. Seq is the engine
// acceptance sequence of the operation that produced it.
type Event struct {
	Kind      Kind      `json:"kind"`
	Market    string    `json:"market"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`

	Trade       *Trade           `json:"trade,omitempty"`
	Book        *Book            `json:"book,omitempty"`
	Position    *ledger.Position `json:"position,omitempty"`
	Liquidation *Liquidation     `json:"liquidation,omitempty"`
}

type Trade struct {
	ID           string          `json:"id"`
	Price        decimal.Decimal `json:"price"`
	Size         decimal.Decimal `json:"size"`
	MakerOrderID string          `json:"makerOrderId,omitempty"`
	TakerOrderID string          `json:"takerOrderId"`
	MakerTrader  string          `json:"makerTrader,omitempty"`
	TakerTrader  string          `json:"takerTrader"`
	Liquidation  bool            `json:"liquidation,omitempty"`
}

// Book lists the price levels an operation changed with their new aggregate
// size. A zero size means the level emptied.
type Book struct {
	Bids []orderbook.Level `json:"bids"`
	Asks []orderbook.Level `json:"asks"`
}

type Liquidation struct {
	Trader      string          `json:"trader"`
	Size        decimal.Decimal `json:"size"`
	MarkPrice   decimal.Decimal `json:"markPrice"`
	Penalty     decimal.Decimal `json:"penalty"`
	RealizedPnL decimal.Decimal `json:"realizedPnl"`
	BadDebt     decimal.Decimal `json:"badDebt"`
}

// Topic is the routing key used by relays: perpx.<kind>.<market>.
func (e Event) Topic() string {
	return "perpx." + string(e.Kind) + "." + e.Market
}
