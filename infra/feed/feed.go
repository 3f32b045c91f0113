// Package feed consumes external mark price streams and writes them into the
// mark price cache. A broken stream only stops updates; readers notice
// through staleness.
package feed

import (
	"errors"
	"time"

	"perpx/domain/markprice"

	"go.uber.org/zap"
)

type Sink interface {
	Update(t markprice.Tick) error
}

const (
	baseDelay = time.Second
	maxDelay  = 60 * time.Second
)

// Backoff doubles from one second per failed attempt, capped at a minute.
func Backoff(retry int) time.Duration {
	if retry <= 0 {
		return baseDelay
	}
	if retry > 30 {
		return maxDelay
	}
	d := baseDelay << retry
	if d > maxDelay {
		return maxDelay
	}
	return d
}

// handle decodes one message into the sink. Ticks arriving out of order are
// expected around reconnects and are dropped quietly.
func handle(sink Sink, raw []byte, log *zap.Logger) {
	t, err := markprice.DecodeTick(raw)
	if err != nil {
		log.Warn("bad tick", zap.ByteString("raw", raw), zap.Error(err))
		return
	}
	if err := sink.Update(t); err != nil {
		if errors.Is(err, markprice.ErrOutOfOrder) {
			log.Debug("tick out of order", zap.String("market", t.Market))
			return
		}
		log.Warn("tick refused", zap.String("market", t.Market), zap.Error(err))
	}
}
