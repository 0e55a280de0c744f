package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"marketdesk/internal/ledger"
	"marketdesk/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (r *recordingNotifier) Send(ctx context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func TestAlertFromEvent(t *testing.T) {
	tests := []struct {
		name      string
		ev        ledger.Event
		wantOK    bool
		wantLevel AlertLevel
		wantTitle string
	}{
		{
			name: "stop loss",
			ev: ledger.Event{Type: ledger.EventPositionClosed, Position: &model.Position{
				ID: "POS1", Symbol: "NIFTY50", ExitReason: model.ExitStopLoss, Quantity: 0,
			}},
			wantOK: true, wantLevel: AlertWarning, wantTitle: "Stop-loss hit: NIFTY50",
		},
		{
			name: "target2",
			ev: ledger.Event{Type: ledger.EventPositionClosed, Position: &model.Position{
				ID: "POS1", Symbol: "BANKNIFTY", ExitReason: model.ExitTarget2,
			}},
			wantOK: true, wantLevel: AlertInfo, wantTitle: "Target2 hit: BANKNIFTY",
		},
		{
			name:   "target1 mark",
			ev:     ledger.Event{Type: ledger.EventTarget1Hit, Position: &model.Position{Symbol: "NIFTY50"}},
			wantOK: true, wantLevel: AlertInfo, wantTitle: "Target1 reached: NIFTY50",
		},
		{
			name:   "rejected fill",
			ev:     ledger.Event{Type: ledger.EventOrderRejected, Order: &model.Order{Symbol: "NIFTY50"}},
			wantOK: true, wantLevel: AlertWarning, wantTitle: "Order rejected: NIFTY50",
		},
		{name: "order placed", ev: ledger.Event{Type: ledger.EventOrderPlaced, Order: &model.Order{}}},
		{name: "closed without position", ev: ledger.Event{Type: ledger.EventPositionClosed}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alert, ok := AlertFromEvent(tt.ev)
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.wantLevel, alert.Level)
			assert.Equal(t, tt.wantTitle, alert.Title)
		})
	}
}

func TestDispatcher_DeliversAsync(t *testing.T) {
	rec := &recordingNotifier{}
	d := NewDispatcher(rec, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Handle(ledger.Event{Type: ledger.EventOrderPlaced})
	d.Handle(ledger.Event{Type: ledger.EventTarget1Hit, Position: &model.Position{Symbol: "NIFTY50"}})

	assert.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	rec := &recordingNotifier{}
	d := NewDispatcher(rec, 1)

	ev := ledger.Event{Type: ledger.EventTarget1Hit, Position: &model.Position{Symbol: "NIFTY50"}}
	d.Handle(ev)
	d.Handle(ev) // queue full, not running

	assert.Len(t, d.queue, 1)
}

func TestMulti_JoinsErrors(t *testing.T) {
	errDown := errors.New("down")
	ok := &recordingNotifier{}
	bad := &recordingNotifier{err: errDown}

	err := Multi{bad, ok}.Send(context.Background(), Alert{Title: "x"})
	assert.ErrorIs(t, err, errDown)
	assert.Equal(t, 1, ok.count(), "later backends still receive the alert")
}

func stopLossEvent() ledger.Event {
	return ledger.Event{
		Type:  ledger.EventPositionClosed,
		Order: &model.Order{ID: "SL_1", Symbol: "NIFTY50"},
		Position: &model.Position{
			ID: "POS7", Symbol: "NIFTY50", Quantity: 10, AvgPrice: 100,
			ExitPrice: 95, ExitReason: model.ExitStopLoss, RealizedPnL: -50,
		},
		TS: time.Date(2026, 3, 2, 4, 0, 0, 0, time.UTC),
	}
}

func TestAlertFromEvent_CarriesTrade(t *testing.T) {
	alert, ok := AlertFromEvent(stopLossEvent())
	require.True(t, ok)
	require.NotNil(t, alert.Trade)
	assert.Equal(t, Trade{
		Event:       "position_closed",
		Symbol:      "NIFTY50",
		PositionID:  "POS7",
		OrderID:     "SL_1",
		Quantity:    10,
		Price:       100,
		ExitReason:  "STOP_LOSS",
		ExitPrice:   95,
		RealizedPnL: -50,
		TS:          time.Date(2026, 3, 2, 4, 0, 0, 0, time.UTC),
	}, *alert.Trade)

	alert, ok = AlertFromEvent(ledger.Event{Type: ledger.EventOrderRejected, Order: &model.Order{
		ID: "ORD3", Symbol: "TCS", Side: model.SideBuy, Quantity: 2, Price: 3500,
	}})
	require.True(t, ok)
	assert.Equal(t, "ORD3", alert.Trade.OrderID)
	assert.Equal(t, "BUY", alert.Trade.Side)
	assert.Empty(t, alert.Trade.PositionID)
}

func TestWebhookNotifier_Send(t *testing.T) {
	var got map[string]any
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		header = r.Header.Get("X-Marketdesk-Event")
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	alert, _ := AlertFromEvent(stopLossEvent())
	n := NewWebhookNotifier(srv.URL)
	require.NoError(t, n.Send(context.Background(), alert))

	assert.Equal(t, "position_closed", header)
	assert.Equal(t, "marketdesk", got["source"])
	assert.Equal(t, "WARNING", got["level"])
	assert.Equal(t, "Stop-loss hit: NIFTY50", got["title"])
	assert.Equal(t, "POS7", got["position_id"])
	assert.Equal(t, "STOP_LOSS", got["exit_reason"])
	assert.Equal(t, 95.0, got["exit_price"])
	assert.Equal(t, -50.0, got["realized_pnl"])
	assert.NotContains(t, got, "trade", "trade fields are flattened")
}

func TestWebhookNotifier_SendWithoutTrade(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
	}))
	defer srv.Close()

	require.NoError(t, NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{Level: AlertInfo, Title: "hello"}))
	assert.Equal(t, "hello", got["title"])
	assert.NotContains(t, got, "position_id")
}

func TestWebhookNotifier_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{Title: "x"})
	assert.Error(t, err)
}

func TestTelegramNotifier_Send(t *testing.T) {
	var path string
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42")
	n.apiBase = srv.URL
	alert, _ := AlertFromEvent(stopLossEvent())
	require.NoError(t, n.Send(context.Background(), alert))

	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "MarkdownV2", got["parse_mode"])
	text, _ := got["text"].(string)
	assert.Contains(t, text, `*Stop\-loss hit: NIFTY50*`)
	assert.Contains(t, text, "Position: `POS7`")
	assert.Contains(t, text, "Exit: `95\\.00 \\(STOP\\_LOSS\\)`")
	assert.Contains(t, text, "Realized P&L: `₹\\-50\\.00`")
}

func TestTelegramText_PlainAlert(t *testing.T) {
	text := telegramText(Alert{Level: AlertInfo, Title: "Target2 hit", Message: "P&L 1.5"})
	assert.Contains(t, text, `P&L 1\.5`)
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `a\_b\-c\.d`, escapeMarkdown("a_b-c.d"))
}
