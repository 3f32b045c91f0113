package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"perpx/domain/markprice"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(0))
	assert.Equal(t, 2*time.Second, Backoff(1))
	assert.Equal(t, 32*time.Second, Backoff(5))
	assert.Equal(t, time.Minute, Backoff(6))
	assert.Equal(t, time.Minute, Backoff(100))
}

func wsServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string { return strings.Replace(srv.URL, "http://", "ws://", 1) }

func tick(market, price string, at time.Time) []byte {
	raw, _ := markprice.EncodeTick(markprice.Tick{
		Market: market, Price: decimal.RequireFromString(price), Timestamp: at,
	})
	return raw
}

func TestWebSocketFeedsCache(t *testing.T) {
	now := time.Now().Truncate(time.Millisecond)
	cache := markprice.NewCache([]string{"GOLD-PERP"}, time.Minute)

	srv := wsServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		conn.WriteMessage(websocket.TextMessage, tick("GOLD-PERP", "2310.5", now))
		conn.WriteMessage(websocket.TextMessage, tick("GOLD-PERP", "2300", now.Add(-time.Second)))
		conn.WriteMessage(websocket.TextMessage, tick("SILVER-PERP", "30", now))
		time.Sleep(200 * time.Millisecond)
	})

	ws := NewWebSocket(wsURL(srv), cache, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ws.Run(ctx) }()

	require.Eventually(t, func() bool {
		got, err := cache.Fresh("GOLD-PERP")
		return err == nil && got.Price.Equal(decimal.RequireFromString("2310.5"))
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop")
	}

	got, ok := cache.Latest("GOLD-PERP")
	require.True(t, ok)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("2310.5")), "older tick must not win")
}

func TestWebSocketReconnects(t *testing.T) {
	var connects atomic.Int32
	srv := wsServer(t, func(conn *websocket.Conn) {
		connects.Add(1)
	})

	ws := NewWebSocket(wsURL(srv), markprice.NewCache([]string{"GOLD-PERP"}, time.Minute), zap.NewNop())
	ws.backoff = func(int) time.Duration { return time.Millisecond }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ws.Run(ctx)

	require.Eventually(t, func() bool { return connects.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketSendsSubscribe(t *testing.T) {
	got := make(chan []byte, 1)
	srv := wsServer(t, func(conn *websocket.Conn) {
		_, msg, err := conn.ReadMessage()
		if err == nil {
			got <- msg
		}
		time.Sleep(100 * time.Millisecond)
	})

	ws := NewWebSocket(wsURL(srv), markprice.NewCache([]string{"GOLD-PERP"}, time.Minute), zap.NewNop())
	ws.Subscribe = []byte(`{"op":"subscribe","markets":["GOLD-PERP"]}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ws.Run(ctx)

	select {
	case msg := <-got:
		assert.JSONEq(t, string(ws.Subscribe), string(msg))
	case <-time.After(time.Second):
		t.Fatal("subscribe not received")
	}
}
