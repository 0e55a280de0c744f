package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"marketdesk/internal/indicator"
	"marketdesk/internal/ledger"
	"marketdesk/internal/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Channel    string          `json:"channel"`
	Data       json.RawMessage `json:"data"`
	Seq        int64           `json:"seq"`
	ChannelSeq int64           `json:"channel_seq"`
	Initial    bool            `json:"initial"`
}

func dialStream(t *testing.T, hub *Hub, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	before := hub.ClientCount()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.ClientCount() == before+1 }, time.Second, 5*time.Millisecond)
	return conn
}

// readEnvelopes reads one frame; coalesced messages are newline separated.
func readEnvelopes(t *testing.T, conn *websocket.Conn) []envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var out []envelope
	for _, line := range strings.Split(string(msg), "\n") {
		var e envelope
		require.NoError(t, json.Unmarshal([]byte(line), &e), line)
		out = append(out, e)
	}
	return out
}

func TestHub_BroadcastsToClient(t *testing.T) {
	hub := NewHub(8)
	conn := dialStream(t, hub, "")

	hub.HandleEvent(ledger.Event{Type: ledger.EventOrderPlaced, Order: &model.Order{ID: "ORD1"}})

	got := readEnvelopes(t, conn)
	require.NotEmpty(t, got)
	assert.Equal(t, "ledger:order_placed", got[0].Channel)
	assert.Equal(t, int64(1), got[0].ChannelSeq)

	var ev ledger.Event
	require.NoError(t, json.Unmarshal(got[0].Data, &ev))
	assert.Equal(t, "ORD1", ev.Order.ID)
}

func TestHub_PrefixFilter(t *testing.T) {
	hub := NewHub(8)
	conn := dialStream(t, hub, "?channels=ind:RSI:")

	hub.HandleCandle(model.Candle{Symbol: "NIFTY50"})
	hub.HandleReading(indicator.Reading{Name: "EMA", Symbol: "NIFTY50"})
	hub.HandleReading(indicator.Reading{Name: "RSI", Symbol: "NIFTY50", Value: 55})

	got := readEnvelopes(t, conn)
	require.Len(t, got, 1)
	assert.Equal(t, "ind:RSI:NIFTY50", got[0].Channel)
}

func TestHub_SubscribeMessage(t *testing.T) {
	hub := NewHub(8)
	conn := dialStream(t, hub, "")

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "SUBSCRIBE", "channels": []string{"candle:"}}))
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			if !c.matches("ledger:order_placed") {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	hub.HandleEvent(ledger.Event{Type: ledger.EventOrderPlaced})
	hub.HandleCandle(model.Candle{Symbol: "BANKNIFTY", Close: 48000})

	got := readEnvelopes(t, conn)
	require.Len(t, got, 1)
	assert.Equal(t, "candle:BANKNIFTY", got[0].Channel)
}

func TestHub_SnapshotOnConnect(t *testing.T) {
	hub := NewHub(8)
	hub.HandleCandle(model.Candle{Symbol: "NIFTY50", Close: 22000})
	hub.HandleCandle(model.Candle{Symbol: "NIFTY50", Close: 22010})

	conn := dialStream(t, hub, "")
	got := readEnvelopes(t, conn)
	require.Len(t, got, 1)
	assert.True(t, got[0].Initial)
	assert.Equal(t, int64(2), got[0].ChannelSeq)

	var c model.Candle
	require.NoError(t, json.Unmarshal(got[0].Data, &c))
	assert.Equal(t, 22010.0, c.Close)
}

func TestHub_RemoveClientOnDisconnect(t *testing.T) {
	hub := NewHub(8)
	conn := dialStream(t, hub, "")
	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_ChannelsAndLatest(t *testing.T) {
	hub := NewHub(8)
	hub.HandleReading(indicator.Reading{Name: "RSI", Symbol: "NIFTY50", Value: 61})
	hub.HandleCandle(model.Candle{Symbol: "NIFTY50"})

	assert.Equal(t, []string{"candle:NIFTY50", "ind:RSI:NIFTY50"}, hub.Channels())
	latest := hub.Latest()
	assert.Contains(t, string(latest["ind:RSI:NIFTY50"]), `"value":61`)
}

func TestReplayBuffer_Range(t *testing.T) {
	rb := NewReplayBuffer(100)
	for i := int64(1); i <= 10; i++ {
		rb.Push(i, []byte("msg"))
	}

	got := rb.Range(3, 7)
	if len(got) != 5 {
		t.Fatalf("Range(3,7): expected 5, got %d", len(got))
	}
	for i, e := range got {
		if want := int64(i) + 3; e.Seq != want {
			t.Errorf("entry[%d].Seq = %d, want %d", i, e.Seq, want)
		}
	}
}

func TestReplayBuffer_Wraparound(t *testing.T) {
	rb := NewReplayBuffer(5)
	for i := int64(1); i <= 8; i++ {
		rb.Push(i, []byte("msg"))
	}

	if rb.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", rb.Len())
	}
	got := rb.Range(1, 10)
	if len(got) != 5 {
		t.Fatalf("Range(1,10): expected 5, got %d", len(got))
	}
	if got[0].Seq != 4 || got[4].Seq != 8 {
		t.Errorf("got seqs %d..%d, want 4..8", got[0].Seq, got[4].Seq)
	}
}

func TestReplayBuffer_CopiesData(t *testing.T) {
	rb := NewReplayBuffer(2)
	data := []byte("abc")
	rb.Push(1, data)
	data[0] = 'x'

	if got := string(rb.Range(1, 1)[0].Data); got != "abc" {
		t.Errorf("stored %q, want %q", got, "abc")
	}
}
