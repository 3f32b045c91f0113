package postgres

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeRow maps to the trades table. Liquidation closes are stored with an
// empty maker side.
type TradeRow struct {
	TradeID      string          `gorm:"primaryKey;type:uuid"`
	Market       string          `gorm:"type:varchar(32);index"`
	Seq          uint64          `gorm:"index"`
	Price        decimal.Decimal `gorm:"type:numeric"`
	Size         decimal.Decimal `gorm:"type:numeric"`
	MakerOrderID string          `gorm:"type:varchar(64)"`
	TakerOrderID string          `gorm:"type:varchar(64)"`
	MakerTrader  string          `gorm:"type:varchar(64);index"`
	TakerTrader  string          `gorm:"type:varchar(64);index"`
	Liquidation  bool
	ExecutedAt   time.Time
}

func (TradeRow) TableName() string { return "trades" }

// PositionRow maps to the positions table, one row per market and trader.
type PositionRow struct {
	Market     string          `gorm:"primaryKey;type:varchar(32)"`
	Trader     string          `gorm:"primaryKey;type:varchar(64)"`
	Size       decimal.Decimal `gorm:"type:numeric"`
	EntryPrice decimal.Decimal `gorm:"type:numeric"`
	Margin     decimal.Decimal `gorm:"type:numeric"`
	Seq        uint64
	UpdatedAt  time.Time
}

func (PositionRow) TableName() string { return "positions" }

type LiquidationRow struct {
	ID          uint            `gorm:"primaryKey;autoIncrement"`
	Market      string          `gorm:"type:varchar(32);index"`
	Trader      string          `gorm:"type:varchar(64);index"`
	Seq         uint64          `gorm:"uniqueIndex"`
	Size        decimal.Decimal `gorm:"type:numeric"`
	MarkPrice   decimal.Decimal `gorm:"type:numeric"`
	Penalty     decimal.Decimal `gorm:"type:numeric"`
	RealizedPnL decimal.Decimal `gorm:"type:numeric"`
	BadDebt     decimal.Decimal `gorm:"type:numeric"`
	ExecutedAt  time.Time
}

func (LiquidationRow) TableName() string { return "liquidations" }
