package service

import (
	"time"

	"perpx/domain/ledger"
	"perpx/domain/orderbook"

	"github.com/shopspring/decimal"
)

type PlaceOrderRequest struct {
	Trader string
	Market string
	Side   orderbook.Side
	TIF    orderbook.TimeInForce
	Price  decimal.Decimal
	Size   decimal.Decimal

	// Leverage defaults to the market's highest allowed leverage when zero.
	Leverage decimal.Decimal
}

type Status string

const (
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Trade is one fill. Liquidation fills have no maker.
type Trade struct {
	ID           string          `json:"id"`
	Market       string          `json:"market"`
	Price        decimal.Decimal `json:"price"`
	Size         decimal.Decimal `json:"size"`
	MakerOrderID string          `json:"makerOrderId,omitempty"`
	TakerOrderID string          `json:"takerOrderId"`
	MakerTrader  string          `json:"makerTrader,omitempty"`
	TakerTrader  string          `json:"takerTrader"`
	Liquidation  bool            `json:"liquidation,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

type OrderResult struct {
	Status  Status `json:"status"`
	Reason  string `json:"reason,omitempty"`
	OrderID string `json:"orderId,omitempty"`
	Seq     uint64 `json:"seq,omitempty"`

	Trades         []Trade           `json:"trades"`
	PositionDeltas []ledger.Position `json:"positionDeltas"`

	// Resting is the remainder left in the book, zero if none.
	Resting decimal.Decimal `json:"resting"`
}

func rejected(err *Error) *OrderResult {
	return &OrderResult{Status: StatusRejected, Reason: err.Error()}
}

type CancelStatus string

const (
	CancelCancelled     CancelStatus = "cancelled"
	CancelAlreadyFilled CancelStatus = "alreadyFilled"
	CancelNotFound      CancelStatus = "notFound"
)

type LiquidationResult struct {
	Market      string          `json:"market"`
	Trader      string          `json:"trader"`
	Size        decimal.Decimal `json:"size"`
	MarkPrice   decimal.Decimal `json:"markPrice"`
	RealizedPnL decimal.Decimal `json:"realizedPnl"`
	Penalty     decimal.Decimal `json:"penalty"`
	BadDebt     decimal.Decimal `json:"badDebt"`
	Seq         uint64          `json:"seq"`
}

type BookView struct {
	Market string            `json:"market"`
	Bids   []orderbook.Level `json:"bids"`
	Asks   []orderbook.Level `json:"asks"`
}

type AccountView struct {
	ledger.Balance
	Positions []ledger.Position `json:"positions"`
}
