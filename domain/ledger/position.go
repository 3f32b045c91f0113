package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is one trader's isolated position in one market. Size is signed:
// positive long, negative short. Size and EntryPrice both zero mean flat.
type Position struct {
	Trader     string          `json:"trader"`
	Market     string          `json:"market"`
	Size       decimal.Decimal `json:"size"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	Margin     decimal.Decimal `json:"margin"`
	SyncSeq    uint64          `json:"syncSeq"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

func (p Position) IsFlat() bool {
	return p.Size.IsZero()
}

// Notional is |size| * mark.
func (p Position) Notional(mark decimal.Decimal) decimal.Decimal {
	return p.Size.Abs().Mul(mark)
}

// UnrealizedPnL is size * (mark - entry). The signed size makes the same
// formula correct for shorts.
func (p Position) UnrealizedPnL(mark decimal.Decimal) decimal.Decimal {
	return p.Size.Mul(mark.Sub(p.EntryPrice))
}

func (p Position) Equity(mark decimal.Decimal) decimal.Decimal {
	return p.Margin.Add(p.UnrealizedPnL(mark))
}

func (p Position) MaintenanceRequirement(mark, maintenanceRatio decimal.Decimal) decimal.Decimal {
	return p.Notional(mark).Mul(maintenanceRatio)
}

// Liquidatable reports equity <= maintenance requirement. Flat positions never are.
func (p Position) Liquidatable(mark, maintenanceRatio decimal.Decimal) bool {
	if p.IsFlat() {
		return false
	}
	return p.Equity(mark).LessThanOrEqual(p.MaintenanceRequirement(mark, maintenanceRatio))
}

// FillResult describes how a fill changed a position.
type FillResult struct {
	Position Position

	// Closed is the quantity that reduced exposure, Opened the quantity that added to it.
	Closed decimal.Decimal
	Opened decimal.Decimal

	RealizedPnL    decimal.Decimal
	MarginReleased decimal.Decimal
	MarginAdded    decimal.Decimal
}

// ApplyFill applies a signed quantity traded at price. Opening quantity is
// margined at price/leverage; reductions release margin pro rata and realize
// PnL against the entry price. A fill larger than the position flips it.
func ApplyFill(p Position, signedQty, price, leverage decimal.Decimal) FillResult {
	res := FillResult{Position: p}
	if signedQty.IsZero() {
		return res
	}

	reducing := !p.Size.IsZero() && p.Size.Sign() != signedQty.Sign()
	if reducing {
		closeQty := decimal.Min(signedQty.Abs(), p.Size.Abs())
		res.Closed = closeQty

		direction := decimal.NewFromInt(int64(p.Size.Sign()))
		res.RealizedPnL = closeQty.Mul(price.Sub(p.EntryPrice)).Mul(direction)

		if closeQty.Equal(p.Size.Abs()) {
			res.MarginReleased = p.Margin
			res.Position.Size = decimal.Zero
			res.Position.EntryPrice = decimal.Zero
			res.Position.Margin = decimal.Zero
		} else {
			res.MarginReleased = p.Margin.Mul(closeQty).Div(p.Size.Abs())
			res.Position.Size = p.Size.Add(signedQty)
			res.Position.Margin = p.Margin.Sub(res.MarginReleased)
		}

		signedQty = signedQty.Add(closeQty.Mul(direction))
		if signedQty.IsZero() {
			return res
		}
	}

	// Remaining quantity opens or increases exposure.
	open := signedQty.Abs()
	cur := res.Position
	newAbs := cur.Size.Abs().Add(open)

	res.Opened = open
	res.MarginAdded = InitialMargin(open, price, leverage)
	res.Position.EntryPrice = cur.Size.Abs().Mul(cur.EntryPrice).Add(open.Mul(price)).Div(newAbs)
	res.Position.Size = cur.Size.Add(signedQty)
	res.Position.Margin = cur.Margin.Add(res.MarginAdded)
	return res
}

// InitialMargin is size * price / leverage.
func InitialMargin(size, price, leverage decimal.Decimal) decimal.Decimal {
	if !leverage.IsPositive() {
		return size.Abs().Mul(price)
	}
	return size.Abs().Mul(price).Div(leverage)
}

// OpeningSize is the part of an order of the given signed size that would add
// exposure to p: all of it when flat or same-signed, the excess over the
// position when opposite.
func OpeningSize(p Position, signedSize decimal.Decimal) decimal.Decimal {
	if p.Size.IsZero() || p.Size.Sign() == signedSize.Sign() {
		return signedSize.Abs()
	}
	excess := signedSize.Abs().Sub(p.Size.Abs())
	if excess.IsNegative() {
		return decimal.Zero
	}
	return excess
}
