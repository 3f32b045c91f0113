// Package postgres keeps a queryable history of trades, positions and
// liquidations. It is fed from the event bus and is never on the matching path.
package postgres

import (
	"context"
	"fmt"

	"perpx/events"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type Sink struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open connects and migrates the history tables.
func Open(dsn string, log *zap.Logger) (*Sink, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := db.AutoMigrate(&TradeRow{}, &PositionRow{}, &LiquidationRow{}); err != nil {
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	return New(db, log), nil
}

func New(db *gorm.DB, log *zap.Logger) *Sink {
	return &Sink{db: db, log: log.Named("postgres")}
}

func (s *Sink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Sink) Run(ctx context.Context, sub *events.Subscription) error {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := s.Write(ctx, ev).Error; err != nil {
				s.log.Warn("history write failed",
					zap.String("kind", string(ev.Kind)),
					zap.String("market", ev.Market),
					zap.Uint64("seq", ev.Seq),
					zap.Error(err),
				)
			}
		}
	}
}

// Write stores one event. Book events are not kept.
func (s *Sink) Write(ctx context.Context, ev events.Event) *gorm.DB {
	db := s.db.WithContext(ctx)

	switch {
	case ev.Kind == events.KindTrade && ev.Trade != nil:
		t := ev.Trade
		return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&TradeRow{
			TradeID:      t.ID,
			Market:       ev.Market,
			Seq:          ev.Seq,
			Price:        t.Price,
			Size:         t.Size,
			MakerOrderID: t.MakerOrderID,
			TakerOrderID: t.TakerOrderID,
			MakerTrader:  t.MakerTrader,
			TakerTrader:  t.TakerTrader,
			Liquidation:  t.Liquidation,
			ExecutedAt:   ev.Timestamp,
		})

	case ev.Kind == events.KindPosition && ev.Position != nil:
		p := ev.Position
		return db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "market"}, {Name: "trader"}},
			DoUpdates: clause.AssignmentColumns([]string{"size", "entry_price", "margin", "seq", "updated_at"}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "positions.seq < excluded.seq"},
			}},
		}).Create(&PositionRow{
			Market:     ev.Market,
			Trader:     p.Trader,
			Size:       p.Size,
			EntryPrice: p.EntryPrice,
			Margin:     p.Margin,
			Seq:        ev.Seq,
			UpdatedAt:  ev.Timestamp,
		})

	case ev.Kind == events.KindLiquidation && ev.Liquidation != nil:
		l := ev.Liquidation
		return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&LiquidationRow{
			Market:      ev.Market,
			Trader:      l.Trader,
			Seq:         ev.Seq,
			Size:        l.Size,
			MarkPrice:   l.MarkPrice,
			Penalty:     l.Penalty,
			RealizedPnL: l.RealizedPnL,
			BadDebt:     l.BadDebt,
			ExecutedAt:  ev.Timestamp,
		})
	}
	return db
}
