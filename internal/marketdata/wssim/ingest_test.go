package wssim

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"marketdesk/internal/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tickServer(t *testing.T, msgs ...string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, m := range msgs {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New(Config{URL: "http://localhost:9001/ws"})
	assert.Error(t, err)

	_, err = New(Config{URL: "ws://localhost:9001/ws"})
	assert.NoError(t, err)
}

func TestIngest_StreamsTicks(t *testing.T) {
	srv := tickServer(t,
		`{"symbol":"nifty50","price":21500.5,"qty":10,"ts":"2024-01-02T03:45:01Z"}`,
		`not json`,
		`{"symbol":"","price":1}`,
		`{"symbol":"BANKNIFTY","price":0}`,
		`{"symbol":"BANKNIFTY","price":47000,"qty":2}`,
	)

	ing, err := New(Config{URL: wsURL(srv)})
	require.NoError(t, err)
	fixed := time.Date(2024, 1, 2, 3, 45, 2, 0, time.UTC)
	ing.now = func() time.Time { return fixed }

	var connected atomic.Bool
	ing.OnConnected = func(v bool) { connected.Store(v) }

	tickCh := make(chan model.Tick, 10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ing.Start(ctx, tickCh) }()

	var ticks []model.Tick
	for len(ticks) < 2 {
		select {
		case tk := <-tickCh:
			ticks = append(ticks, tk)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, got %d ticks", len(ticks))
		}
	}
	assert.True(t, connected.Load())

	assert.Equal(t, "NIFTY50", ticks[0].Symbol)
	assert.Equal(t, 21500.5, ticks[0].Price)
	assert.Equal(t, int64(10), ticks[0].Qty)
	assert.Equal(t, "BANKNIFTY", ticks[1].Symbol)
	assert.True(t, ticks[1].TS.Equal(fixed), "missing ts is stamped locally")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	assert.False(t, connected.Load())
}

func TestIngest_ReconnectsAfterDialFailure(t *testing.T) {
	ing, err := New(Config{URL: "ws://127.0.0.1:1/ws", ReconnectDelay: time.Millisecond, MaxReconnectDelay: 2 * time.Millisecond})
	require.NoError(t, err)

	var reconnects atomic.Int32
	ing.OnReconnect = func() { reconnects.Add(1) }

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, ing.Start(ctx, make(chan model.Tick, 1)))
	assert.Greater(t, reconnects.Load(), int32(1))
}
