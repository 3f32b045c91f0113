package service

import (
	"context"
	"testing"

	"perpx/domain/orderbook"

	"github.com/shopspring/decimal"
)

func BenchmarkPlaceOrderResting(b *testing.B) {
	f := newFixture(b, nil)
	f.fund("0xbench", "1000000000")

	req := PlaceOrderRequest{
		Trader:   "0xbench",
		Market:   gold,
		Side:     orderbook.Buy,
		Size:     decimal.NewFromInt(1),
		Leverage: decimal.NewFromInt(5),
	}
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req.Price = decimal.NewFromInt(int64(1000 + i%500))
		if _, err := f.engine.PlaceOrder(ctx, req); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkPlaceOrderCrossing(b *testing.B) {
	f := newFixture(b, nil)
	f.fund("0xbuyer", "1000000000")
	f.fund("0xseller", "1000000000")
	ctx := context.Background()

	req := PlaceOrderRequest{
		Market:   gold,
		Price:    decimal.NewFromInt(100),
		Size:     decimal.NewFromInt(1),
		Leverage: decimal.NewFromInt(5),
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req.Trader, req.Side = "0xseller", orderbook.Sell
		if _, err := f.engine.PlaceOrder(ctx, req); err != nil {
			b.Fatal(err)
		}
		req.Trader, req.Side = "0xbuyer", orderbook.Buy
		if _, err := f.engine.PlaceOrder(ctx, req); err != nil {
			b.Fatal(err)
		}
	}
}
