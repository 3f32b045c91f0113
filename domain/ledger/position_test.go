package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal, msg string) {
	t.Helper()
	assert.Truef(t, d(want).Equal(got), "%s: want %s, got %s", msg, want, got)
}

func TestPositionMathLongAndShort(t *testing.T) {
	long := Position{Size: d("10"), EntryPrice: d("50"), Margin: d("100")}
	short := Position{Size: d("-10"), EntryPrice: d("50"), Margin: d("100")}

	assertDec(t, "440", long.Notional(d("44")), "long notional")
	assertDec(t, "-60", long.UnrealizedPnL(d("44")), "long upnl")
	assertDec(t, "40", long.Equity(d("44")), "long equity")
	assertDec(t, "44", long.MaintenanceRequirement(d("44"), d("0.1")), "long maintenance")
	assert.True(t, long.Liquidatable(d("44"), d("0.1")))
	assert.False(t, long.Liquidatable(d("45"), d("0.1")))

	assertDec(t, "60", short.UnrealizedPnL(d("44")), "short upnl when price falls")
	assertDec(t, "-60", short.UnrealizedPnL(d("56")), "short upnl when price rises")
	assert.True(t, short.Liquidatable(d("56"), d("0.1")))
	assert.False(t, short.Liquidatable(d("44"), d("0.1")))

	assert.False(t, Position{}.Liquidatable(d("1"), d("0.1")), "flat is never liquidatable")
}

func TestApplyFill(t *testing.T) {
	tests := []struct {
		name       string
		pos        Position
		qty, price string
		lev        string

		size, entry, margin       string
		realized, released, added string
	}{
		{
			name: "open long",
			pos:  Position{}, qty: "10", price: "50", lev: "5",
			size: "10", entry: "50", margin: "100",
			realized: "0", released: "0", added: "100",
		},
		{
			name: "increase averages entry",
			pos:  Position{Size: d("10"), EntryPrice: d("50"), Margin: d("100")}, qty: "10", price: "70", lev: "5",
			size: "20", entry: "60", margin: "240",
			realized: "0", released: "0", added: "140",
		},
		{
			name: "reduce releases pro rata",
			pos:  Position{Size: d("10"), EntryPrice: d("50"), Margin: d("100")}, qty: "-4", price: "60", lev: "5",
			size: "6", entry: "50", margin: "60",
			realized: "40", released: "40", added: "0",
		},
		{
			name: "close short at a loss",
			pos:  Position{Size: d("-10"), EntryPrice: d("50"), Margin: d("100")}, qty: "10", price: "55", lev: "5",
			size: "0", entry: "0", margin: "0",
			realized: "-50", released: "100", added: "0",
		},
		{
			name: "flip long to short",
			pos:  Position{Size: d("5"), EntryPrice: d("40"), Margin: d("40")}, qty: "-8", price: "50", lev: "10",
			size: "-3", entry: "50", margin: "15",
			realized: "50", released: "40", added: "15",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ApplyFill(tt.pos, d(tt.qty), d(tt.price), d(tt.lev))
			assertDec(t, tt.size, res.Position.Size, "size")
			assertDec(t, tt.entry, res.Position.EntryPrice, "entry")
			assertDec(t, tt.margin, res.Position.Margin, "margin")
			assertDec(t, tt.realized, res.RealizedPnL, "realized")
			assertDec(t, tt.released, res.MarginReleased, "released")
			assertDec(t, tt.added, res.MarginAdded, "added")
		})
	}
}

func TestOpeningSize(t *testing.T) {
	long := Position{Size: d("5")}
	assertDec(t, "3", OpeningSize(Position{}, d("3")), "flat")
	assertDec(t, "3", OpeningSize(long, d("3")), "same side")
	assertDec(t, "0", OpeningSize(long, d("-3")), "pure reduce")
	assertDec(t, "2", OpeningSize(long, d("-7")), "flip excess")
}

func TestInitialMargin(t *testing.T) {
	assertDec(t, "100", InitialMargin(d("10"), d("50"), d("5")), "5x")
	assertDec(t, "100", InitialMargin(d("-10"), d("50"), d("5")), "sign ignored")
}
