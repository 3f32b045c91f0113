package feed

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocket reads ticks from a websocket endpoint, reconnecting with
// exponential backoff.
type WebSocket struct {
	url  string
	sink Sink
	log  *zap.Logger

	ReadTimeout      time.Duration
	HandshakeTimeout time.Duration
	// Subscribe, when set, is sent once after every connect.
	Subscribe []byte

	backoff func(retry int) time.Duration
}

func NewWebSocket(url string, sink Sink, log *zap.Logger) *WebSocket {
	return &WebSocket{
		url:              url,
		sink:             sink,
		log:              log.Named("feed.ws"),
		ReadTimeout:      30 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		backoff:          Backoff,
	}
}

func (w *WebSocket) Run(ctx context.Context) error {
	retry := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, err := w.connect(ctx)
		if err != nil {
			delay := w.backoff(retry)
			w.log.Warn("feed connect failed", zap.String("url", w.url), zap.Int("retry", retry), zap.Duration("delay", delay), zap.Error(err))
			retry++
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				continue
			}
		}

		retry = 0
		w.log.Info("feed connected", zap.String("url", w.url))
		w.read(ctx, conn)
	}
}

func (w *WebSocket) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: w.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, w.url, http.Header{})
	if err != nil {
		return nil, err
	}
	if len(w.Subscribe) > 0 {
		if err := conn.WriteMessage(websocket.TextMessage, w.Subscribe); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

// read consumes messages until the connection fails or ctx is done.
func (w *WebSocket) read(ctx context.Context, conn *websocket.Conn) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	for {
		conn.SetReadDeadline(time.Now().Add(w.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				w.log.Warn("feed read failed", zap.String("url", w.url), zap.Error(err))
			}
			return
		}
		handle(w.sink, msg, w.log)
	}
}
