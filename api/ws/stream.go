// Package ws streams engine events to websocket clients.
package ws

import (
	"net/http"
	"sync/atomic"
	"time"

	"perpx/events"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Source hands out event subscriptions.
type Source interface {
	Subscribe(market string) *events.Subscription
}

// Handler serves GET /v1/stream?market=<id>. Without a market every event is
// streamed. A client that cannot keep up loses events rather than slowing
// the engine.
type Handler struct {
	source   Source
	upgrader websocket.Upgrader
	log      *zap.Logger
	clients  atomic.Int64
}

func NewHandler(source Source, log *zap.Logger) *Handler {
	return &Handler{
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log.Named("ws"),
	}
}

// Clients is the number of connected streams.
func (h *Handler) Clients() int64 { return h.clients.Load() }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("upgrade failed", zap.Error(err))
		return
	}
	market := r.URL.Query().Get("market")
	sub := h.source.Subscribe(market)

	h.clients.Add(1)
	defer h.clients.Add(-1)

	closed := make(chan struct{})
	go h.readPump(conn, closed)
	h.writePump(conn, sub, closed)
}

// readPump discards client messages and notices disconnects.
func (h *Handler) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, sub *events.Subscription, closed <-chan struct{}) {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		sub.Close()
		conn.Close()
	}()

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-sub.Events():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
