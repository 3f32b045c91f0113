package service

import (
	"fmt"

	"perpx/domain/ledger"
	"perpx/domain/orderbook"
)

// Snapshot is a detached copy of one market's book and positions, taken
// before a batch that will be mirrored on chain. It is only ever restored,
// never mutated.
type Snapshot struct {
	Market    string
	Seq       uint64
	Orders    []orderbook.Order
	Positions map[string]ledger.Position
}

// capture copies the shard state. Caller holds mu.
func (s *shard) capture(seq uint64) Snapshot {
	positions := make(map[string]ledger.Position, len(s.positions))
	for trader, p := range s.positions {
		positions[trader] = p
	}
	return Snapshot{
		Market:    s.market.ID,
		Seq:       seq,
		Orders:    s.book.Orders(),
		Positions: positions,
	}
}

// restore replaces the shard state with snap. Caller holds mu for writing.
func (s *shard) restore(snap Snapshot) error {
	if snap.Market != s.market.ID {
		return fmt.Errorf("snapshot of %s restored into %s", snap.Market, s.market.ID)
	}
	if err := s.book.Restore(snap.Orders); err != nil {
		return err
	}
	s.positions = make(map[string]ledger.Position, len(snap.Positions))
	for trader, p := range snap.Positions {
		s.positions[trader] = p
	}
	return nil
}
