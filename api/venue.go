// Package api holds what the transports share: the engine surface they call
// and the request shapes they accept.
package api

import (
	"context"
	"fmt"
	"strings"

	"perpx/domain/market"
	"perpx/domain/orderbook"
	"perpx/service"

	"github.com/shopspring/decimal"
)

// Venue is the engine as seen by the transports.
type Venue interface {
	PlaceOrder(ctx context.Context, req service.PlaceOrderRequest) (*service.OrderResult, error)
	CancelOrder(ctx context.Context, trader, orderID string) (service.CancelStatus, error)
	Book(marketID string, levels int) (service.BookView, error)
	Account(trader string) service.AccountView
	Markets() []market.Market
	Deposit(ctx context.Context, trader, txHash string) (decimal.Decimal, error)
	Withdraw(ctx context.Context, trader, txHash string) (decimal.Decimal, error)
}

var _ Venue = (*service.Engine)(nil)

type OrderRequest struct {
	Trader      string          `json:"trader"`
	Market      string          `json:"market"`
	Side        string          `json:"side"`
	TimeInForce string          `json:"timeInForce,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Size        decimal.Decimal `json:"size"`
	Leverage    decimal.Decimal `json:"leverage,omitempty"`
}

// Order converts the wire request. Numeric checks are left to the engine.
func (r OrderRequest) Order() (service.PlaceOrderRequest, error) {
	side, ok := orderbook.ParseSide(r.Side)
	if !ok {
		return service.PlaceOrderRequest{}, fmt.Errorf("%w: side %q", service.ErrInvalidRequest, r.Side)
	}
	var tif orderbook.TimeInForce
	switch strings.ToLower(r.TimeInForce) {
	case "", "gtc":
		tif = orderbook.GTC
	case "ioc":
		tif = orderbook.IOC
	default:
		return service.PlaceOrderRequest{}, fmt.Errorf("%w: time in force %q", service.ErrInvalidRequest, r.TimeInForce)
	}
	return service.PlaceOrderRequest{
		Trader:   r.Trader,
		Market:   r.Market,
		Side:     side,
		TIF:      tif,
		Price:    r.Price,
		Size:     r.Size,
		Leverage: r.Leverage,
	}, nil
}

type CancelRequest struct {
	Trader  string `json:"trader"`
	OrderID string `json:"orderId"`
}

type CancelReply struct {
	OrderID string               `json:"orderId"`
	Status  service.CancelStatus `json:"status"`
}

type BookRequest struct {
	Market string `json:"market"`
	Levels int    `json:"levels,omitempty"`
}

type AccountRequest struct {
	Trader string `json:"trader"`
}

type CollateralRequest struct {
	Trader string `json:"trader"`
	TxHash string `json:"txHash"`
}

type CollateralReply struct {
	Trader string          `json:"trader"`
	TxHash string          `json:"txHash"`
	Amount decimal.Decimal `json:"amount"`
}
