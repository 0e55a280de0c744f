package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"marketdesk/internal/indicator"
	"marketdesk/internal/ledger"
	"marketdesk/internal/model"

	"github.com/gorilla/websocket"
)

// Stream channel prefixes. Full channel names are
// "ledger:<event_type>", "ind:<indicator>:<symbol>" and "candle:<symbol>".
const (
	ChannelLedger    = "ledger:"
	ChannelIndicator = "ind:"
	ChannelCandle    = "candle:"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64
}

// Hub fans ledger events, indicator readings and candles out to WebSocket
// clients. It keeps the latest payload per channel for snapshot-on-connect
// and a replay buffer per channel for gap backfill.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]bool
	latest      map[string]latestEntry
	seq         int64
	channelSeqs map[string]int64
	replayBufs  map[string]*ReplayBuffer
	replaySize  int

	now func() time.Time
}

// NewHub creates a hub keeping replaySize envelopes per channel.
func NewHub(replaySize int) *Hub {
	if replaySize <= 0 {
		replaySize = 500
	}
	return &Hub{
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
		replaySize:  replaySize,
		now:         time.Now,
	}
}

// HandleEvent broadcasts a ledger event. Pass it to (*ledger.Ledger).Subscribe.
func (h *Hub) HandleEvent(ev ledger.Event) {
	h.publish(ChannelLedger+string(ev.Type), ev)
}

// HandleReading broadcasts an indicator reading.
func (h *Hub) HandleReading(r indicator.Reading) {
	h.publish(ChannelIndicator+r.Name+":"+r.Symbol, r)
}

// HandleCandle broadcasts a closed candle.
func (h *Hub) HandleCandle(c model.Candle) {
	h.publish(ChannelCandle+c.Symbol, c)
}

func (h *Hub) publish(channel string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[stream] marshal %s: %v", channel, err)
		return
	}
	h.Broadcast(channel, data)
}

// Broadcast sends data on channel to every client subscribed to it. The
// envelope is {"channel","data","ts","seq","channel_seq"}.
func (h *Hub) Broadcast(channel string, data []byte) {
	now := h.now().UTC()

	h.mu.Lock()
	h.channelSeqs[channel]++
	channelSeq := h.channelSeqs[channel]
	h.latest[channel] = latestEntry{Data: data, TS: now, Seq: channelSeq}
	h.seq++
	seq := h.seq
	rb, ok := h.replayBufs[channel]
	if !ok {
		rb = NewReplayBuffer(h.replaySize)
		h.replayBufs[channel] = rb
	}
	h.mu.Unlock()

	buf := make([]byte, 0, len(channel)+len(data)+160)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	buf = append(buf, '}')

	rb.Push(channelSeq, buf)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.matches(channel) {
			continue
		}
		select {
		case client.send <- buf:
		default:
			// slow client, drop
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket and registers the client.
// An optional "channels" query parameter holds comma-separated channel
// prefixes; without it the client receives everything.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[stream] ws upgrade error: %v", err)
		return
	}
	h.register(conn, splitPrefixes(r.URL.Query().Get("channels")))
}

func (h *Hub) register(conn *websocket.Conn, prefixes []string) *Client {
	client := &Client{
		conn:     conn,
		send:     make(chan []byte, 256),
		hub:      h,
		filtered: len(prefixes) > 0,
		prefixes: prefixes,
	}
	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[stream] ws client connected (%d total)", count)

	client.sendSnapshot()
	go client.writePump()
	go client.readPump()
	return client
}

// RemoveClient unregisters c and closes its send queue.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	h.mu.Unlock()
	close(c.send)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Latest returns a snapshot of the newest payload per channel.
func (h *Hub) Latest() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// ChannelSeq returns the current sequence number of channel.
func (h *Hub) ChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// Missed returns buffered envelopes for channel with seq in [fromSeq, toSeq].
func (h *Hub) Missed(channel string, fromSeq, toSeq int64) []json.RawMessage {
	h.mu.RLock()
	rb, ok := h.replayBufs[channel]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	entries := rb.Range(fromSeq, toSeq)
	out := make([]json.RawMessage, len(entries))
	for i, e := range entries {
		out[i] = e.Data
	}
	return out
}

// Channels lists every channel that has carried a message, sorted.
func (h *Hub) Channels() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.channelSeqs))
	for ch := range h.channelSeqs {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

func splitPrefixes(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
