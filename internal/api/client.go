package api

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client is a single WebSocket peer of the hub.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu       sync.RWMutex
	filtered bool // false until the client narrows its channels
	prefixes []string
}

// controlMsg is a client → server message.
//
//	{"type":"SUBSCRIBE","channels":["ledger:","ind:RSI:"]}
//	{"type":"UNSUBSCRIBE","channels":["ind:RSI:"]}
//	{"ping":1700000000000}
type controlMsg struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
	Ping     int64    `json:"ping"`
}

func (c *Client) matches(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.filtered {
		return true
	}
	for _, p := range c.prefixes {
		if strings.HasPrefix(channel, p) {
			return true
		}
	}
	return false
}

// sendSnapshot queues the latest payload of every matching channel.
func (c *Client) sendSnapshot() {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	for channel, entry := range c.hub.latest {
		if !c.matches(channel) {
			continue
		}
		envelope, _ := json.Marshal(map[string]any{
			"channel":     channel,
			"data":        entry.Data,
			"ts":          entry.TS.Format(time.RFC3339Nano),
			"channel_seq": entry.Seq,
			"initial":     true,
		})
		select {
		case c.send <- envelope:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Coalesce queued messages into one frame, newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[stream] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var m controlMsg
		if json.Unmarshal(msg, &m) != nil {
			continue
		}
		switch m.Type {
		case "SUBSCRIBE":
			c.subscribe(m.Channels)
		case "UNSUBSCRIBE":
			c.unsubscribe(m.Channels)
		default:
			if m.Ping > 0 {
				pong, _ := json.Marshal(map[string]any{
					"type":      "pong",
					"ping":      m.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
				select {
				case c.send <- pong:
				default:
				}
			}
		}
	}
}

func (c *Client) subscribe(prefixes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filtered = true
	for _, p := range prefixes {
		if p == "" || containsString(c.prefixes, p) {
			continue
		}
		c.prefixes = append(c.prefixes, p)
	}
}

func (c *Client) unsubscribe(prefixes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.prefixes[:0]
	for _, p := range c.prefixes {
		if !containsString(prefixes, p) {
			kept = append(kept, p)
		}
	}
	c.prefixes = kept
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
