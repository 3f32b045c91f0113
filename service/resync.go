package service

import (
	"context"

	"perpx/domain/ledger"
	"perpx/onchain"
)

// Resync mirrors the current local positions of the given traders again.
// It is how a failed batch converges: after rollback the local state is the
// truth, and upsert/close are idempotent.
func (e *Engine) Resync(ctx context.Context, marketID string, traders []string) error {
	const op = "resync"

	s, serr := e.shard(op, marketID)
	if serr != nil {
		return serr
	}

	var rerr *Error
	err := e.do(ctx, s, func() {
		s.mu.RLock()
		positions := make([]ledger.Position, 0, len(traders))
		for _, trader := range traders {
			positions = append(positions, s.position(trader))
		}
		s.mu.RUnlock()

		b := onchain.Batch{Market: marketID, Seq: e.seq.Next(), Positions: positions}
		if err := e.syncer.Sync(ctx, b); err != nil {
			rerr = newError(KindSync, op, marketID, err)
		}
	})
	if err != nil {
		return err
	}
	if rerr != nil {
		return rerr
	}
	return nil
}
