package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// webhookEvent is the JSON body posted for every alert. Trade fields are
// flattened to the top level so receivers can route on event and symbol
// without unwrapping.
type webhookEvent struct {
	Source  string     `json:"source"`
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	SentAt  time.Time  `json:"sent_at"`
	*Trade
}

// WebhookNotifier posts alerts as JSON to an HTTP endpoint. Any 2xx answer
// counts as delivered.
type WebhookNotifier struct {
	url    string
	client *http.Client
	now    func() time.Time
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(webhookEvent{
		Source:  "marketdesk",
		Level:   alert.Level,
		Title:   alert.Title,
		Message: alert.Message,
		SentAt:  w.now().UTC(),
		Trade:   alert.Trade,
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if alert.Trade != nil {
		req.Header.Set("X-Marketdesk-Event", alert.Trade.Event)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: %s answered %d", w.url, resp.StatusCode)
	}
	log.Printf("[notify] webhook delivered %q", alert.Title)
	return nil
}
