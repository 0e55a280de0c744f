// cmd/tickserver is a demo WebSocket tick server. It broadcasts random-walk
// ticks so the desk can run without a broker feed.
//
// Tick JSON shape is model.Tick:
//
//	{"symbol":"NIFTY50","price":22150.35,"qty":10,"ts":"..."}
//
// Config (env vars, .env honoured):
//
//	TICK_SERVER_ADDR   listen address (default ":9001")
//	SYMBOLS            comma-separated symbols (default "NIFTY50,BANKNIFTY")
//	TICK_INTERVAL_MS   broadcast interval in milliseconds (default 100)
//	TICK_MARKET_HOURS  "true" pauses ticks outside the NSE session
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"marketdesk/config"
	"marketdesk/internal/markethours"
	"marketdesk/internal/model"

	"github.com/gorilla/websocket"
)

// instrument holds per-symbol simulation state.
type instrument struct {
	Symbol string
	Price  float64
}

// startPrices are rough rupee levels for common index symbols.
var startPrices = map[string]float64{
	"NIFTY50":   22000,
	"BANKNIFTY": 48000,
	"FINNIFTY":  21500,
	"SENSEX":    73000,
	"RELIANCE":  2900,
}

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client, drop tick
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[tickserver] upgrade error: %v", err)
			return
		}
		log.Printf("[tickserver] client connected: %s", r.RemoteAddr)

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[tickserver] client disconnected: %s", r.RemoteAddr)
		}()

		// Drain client frames so close and pong control messages are handled.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					h.unregister(conn)
					return
				}
			}
		}()

		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// walkPrice applies a random walk of at most ±0.1% and rounds to the
// 0.05 tick size.
func walkPrice(rng *rand.Rand, price float64) float64 {
	pct := (rng.Float64()*0.2 - 0.1) / 100.0
	next := math.Round(price*(1+pct)*20) / 20
	if next < 0.05 {
		next = 0.05
	}
	return next
}

func runGenerator(ctx context.Context, h *hub, instruments []instrument, interval time.Duration, sessionOnly bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	paused := false

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if sessionOnly {
				open := markethours.IsMarketOpen(now)
				if open == paused {
					paused = !open
					log.Printf("[tickserver] %s", markethours.StatusString(now))
				}
				if !open {
					continue
				}
			}
			for i := range instruments {
				instruments[i].Price = walkPrice(rng, instruments[i].Price)
				b, err := json.Marshal(model.Tick{
					Symbol: instruments[i].Symbol,
					Price:  instruments[i].Price,
					Qty:    int64(rng.Intn(100) + 1),
					TS:     now.UTC(),
				})
				if err != nil {
					continue
				}
				h.broadcast(b)
			}
		}
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[tickserver] starting demo tick server...")

	cfg := config.Load()
	addr := envOrDefault("TICK_SERVER_ADDR", ":9001")
	interval := time.Duration(envIntOrDefault("TICK_INTERVAL_MS", 100)) * time.Millisecond
	sessionOnly := strings.EqualFold(os.Getenv("TICK_MARKET_HOURS"), "true")

	instruments := newInstruments(cfg.ParseSymbols())
	if len(instruments) == 0 {
		log.Fatalf("[tickserver] no symbols configured via SYMBOLS")
	}
	log.Printf("[tickserver] instruments: %+v", instruments)
	log.Printf("[tickserver] broadcast interval: %s (session only: %v)", interval, sessionOnly)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h := newHub()
	go runGenerator(ctx, h, instruments, interval, sessionOnly)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(h))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"tickserver"}`)
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[tickserver] listening on %s (WebSocket: ws://localhost%s/ws)", addr, addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("[tickserver] server error: %v", err)
	}
	log.Println("[tickserver] stopped")
}

func newInstruments(symbols []string) []instrument {
	out := make([]instrument, 0, len(symbols))
	for _, s := range symbols {
		price := startPrices[s]
		if price == 0 {
			price = 1000
		}
		out = append(out, instrument{Symbol: s, Price: price})
	}
	return out
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
