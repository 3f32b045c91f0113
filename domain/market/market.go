package market

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownMarket = errors.New("market: unknown market")
	ErrInvalidMarket = errors.New("market: invalid definition")
)

// Market is an immutable perpetual contract definition.
type Market struct {
	ID string `json:"id"`

	MaxLeverage             decimal.Decimal `json:"maxLeverage"`
	InitialMarginRatio      decimal.Decimal `json:"initialMarginRatio"`
	MaintenanceMarginRatio  decimal.Decimal `json:"maintenanceMarginRatio"`
	LiquidationPenaltyRatio decimal.Decimal `json:"liquidationPenaltyRatio"`
}

// Validate checks the risk constants are coherent.
func (m Market) Validate() error {
	one := decimal.NewFromInt(1)

	switch {
	case m.ID == "":
		return fmt.Errorf("%w: empty id", ErrInvalidMarket)
	case m.MaxLeverage.LessThan(one):
		return fmt.Errorf("%w: %s max leverage %s < 1", ErrInvalidMarket, m.ID, m.MaxLeverage)
	case !m.InitialMarginRatio.IsPositive() || m.InitialMarginRatio.GreaterThan(one):
		return fmt.Errorf("%w: %s initial margin ratio %s outside (0,1]", ErrInvalidMarket, m.ID, m.InitialMarginRatio)
	case !m.MaintenanceMarginRatio.IsPositive() || !m.MaintenanceMarginRatio.LessThan(m.InitialMarginRatio):
		return fmt.Errorf("%w: %s maintenance ratio %s must be in (0, initial)", ErrInvalidMarket, m.ID, m.MaintenanceMarginRatio)
	case m.LiquidationPenaltyRatio.IsNegative() || !m.LiquidationPenaltyRatio.LessThan(one):
		return fmt.Errorf("%w: %s liquidation penalty %s outside [0,1)", ErrInvalidMarket, m.ID, m.LiquidationPenaltyRatio)
	}
	return nil
}

// AllowsLeverage reports whether an order may post margin at the given
// leverage: leverage must not exceed the market cap, and the implied margin
// ratio 1/leverage must cover the initial margin ratio.
func (m Market) AllowsLeverage(leverage decimal.Decimal) bool {
	if leverage.LessThan(decimal.NewFromInt(1)) || leverage.GreaterThan(m.MaxLeverage) {
		return false
	}
	ratio := decimal.NewFromInt(1).Div(leverage)
	return ratio.GreaterThanOrEqual(m.InitialMarginRatio)
}

// DefaultLeverage is the highest leverage the market allows.
func (m Market) DefaultLeverage() decimal.Decimal {
	byRatio := decimal.NewFromInt(1).Div(m.InitialMarginRatio)
	return decimal.Min(m.MaxLeverage, byRatio)
}
