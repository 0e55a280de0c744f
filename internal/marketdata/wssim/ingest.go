// Package wssim provides a WebSocket ingest client that connects to a tick
// server (e.g. cmd/tickserver) and feeds ticks into marketdesk.
//
// The expected JSON message format on the wire is identical to model.Tick:
//
//	{"symbol":"NIFTY50","price":21503.45,"qty":10,"ts":"2024-01-02T03:45:01Z"}
package wssim

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"marketdesk/internal/model"

	"github.com/gorilla/websocket"
)

// Config holds configuration for the WS ingest.
type Config struct {
	// URL of the tick WebSocket server, e.g. "ws://localhost:9001/ws"
	URL string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Ingest connects to a plain-JSON WebSocket tick server and pushes
// model.Tick values into tickCh.
type Ingest struct {
	cfg Config
	now func() time.Time

	// Optional hooks
	OnReconnect   func()           // each time a reconnection is scheduled
	OnConnected   func(bool)       // true on connect, false on disconnect
	OnTick        func(model.Tick) // each accepted tick, before it is queued
	OnDroppedTick func()           // tickCh full
}

// New creates a new Ingest. Returns an error if the URL is unparseable or
// not a ws/wss URL.
func New(cfg Config) (*Ingest, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("wssim: unsupported scheme %q", u.Scheme)
	}
	return &Ingest{cfg: cfg, now: time.Now}, nil
}

// Start connects to the WebSocket and streams ticks into tickCh.
// Blocks until ctx is cancelled. Reconnects automatically on disconnect.
func (ing *Ingest) Start(ctx context.Context, tickCh chan<- model.Tick) error {
	delay := ing.cfg.ReconnectDelay

	for {
		// Check context before each attempt
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		connected, err := ing.runOnce(ctx, tickCh)
		if err == nil {
			// Context cancelled cleanly
			return nil
		}
		if connected {
			// A session that got through resets the backoff
			delay = ing.cfg.ReconnectDelay
		}

		log.Printf("[wssim] disconnected (%v), reconnecting in %s...", err, delay)
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		// Exponential backoff
		delay *= 2
		if delay > ing.cfg.MaxReconnectDelay {
			delay = ing.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancel. connected reports whether the dial succeeded.
func (ing *Ingest) runOnce(ctx context.Context, tickCh chan<- model.Tick) (connected bool, err error) {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, ing.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	log.Printf("[wssim] connected to %s", ing.cfg.URL)
	ing.setConnected(true)
	defer ing.setConnected(false)

	// Async context watcher, closes the connection when ctx is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			// Check if it's a context cancellation
			select {
			case <-ctx.Done():
				return true, nil
			default:
			}
			return true, err
		}

		tick, ok := ing.decode(raw)
		if !ok {
			continue
		}
		if ing.OnTick != nil {
			ing.OnTick(tick)
		}

		select {
		case tickCh <- tick:
		default:
			if ing.OnDroppedTick != nil {
				ing.OnDroppedTick()
			}
			log.Println("[wssim] tickCh full, dropping tick")
		}
	}
}

// decode parses and normalizes one message. Symbols are uppercased and a
// missing timestamp is stamped with the local clock.
func (ing *Ingest) decode(raw []byte) (model.Tick, bool) {
	var tick model.Tick
	if err := json.Unmarshal(raw, &tick); err != nil {
		log.Printf("[wssim] parse error: %v (raw: %s)", err, raw)
		return tick, false
	}
	tick.Symbol = strings.ToUpper(strings.TrimSpace(tick.Symbol))
	if tick.Symbol == "" {
		log.Printf("[wssim] skipping tick with empty symbol")
		return tick, false
	}
	if !(tick.Price > 0) {
		log.Printf("[wssim] skipping %s tick with price %v", tick.Symbol, tick.Price)
		return tick, false
	}
	if tick.TS.IsZero() {
		tick.TS = ing.now().UTC()
	}
	return tick, true
}

func (ing *Ingest) setConnected(v bool) {
	if ing.OnConnected != nil {
		ing.OnConnected(v)
	}
}
