package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// TelegramNotifier posts alerts to one chat through the Bot API sendMessage
// call, formatted as MarkdownV2.
type TelegramNotifier struct {
	token   string
	chatID  string
	apiBase string
	client  *http.Client
}

func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		token:   token,
		chatID:  chatID,
		apiBase: "https://api.telegram.org",
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(map[string]any{
		"chat_id":                  t.chatID,
		"text":                     telegramText(alert),
		"parse_mode":               "MarkdownV2",
		"disable_web_page_preview": true,
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: unexpected status %d", resp.StatusCode)
	}
	log.Printf("[notify] telegram delivered %q", alert.Title)
	return nil
}

// telegramText renders the alert as a bold title followed by one line per
// trade field. Alerts without a trade fall back to the plain message.
func telegramText(alert Alert) string {
	icon := "ℹ️"
	switch alert.Level {
	case AlertWarning:
		icon = "⚠️"
	case AlertCritical:
		icon = "🚨"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*\n", icon, escapeMarkdown(alert.Title))
	tr := alert.Trade
	if tr == nil {
		b.WriteString("\n" + escapeMarkdown(alert.Message))
		return b.String()
	}

	line := func(label, value string) {
		fmt.Fprintf(&b, "\n%s: `%s`", label, escapeMarkdown(value))
	}
	if tr.PositionID != "" {
		line("Position", tr.PositionID)
	}
	if tr.OrderID != "" {
		line("Order", tr.OrderID)
	}
	if tr.Side != "" {
		line("Side", tr.Side)
	}
	line("Qty", fmt.Sprintf("%d @ %.2f", tr.Quantity, tr.Price))
	switch {
	case tr.ExitReason != "":
		line("Exit", fmt.Sprintf("%.2f (%s)", tr.ExitPrice, tr.ExitReason))
		line("Realized P&L", fmt.Sprintf("₹%.2f", tr.RealizedPnL))
	case tr.Target1 > 0:
		line("Last", fmt.Sprintf("%.2f (target1 %.2f)", tr.LastPrice, tr.Target1))
	}
	return b.String()
}

// escapeMarkdown escapes special characters for Telegram MarkdownV2.
func escapeMarkdown(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(`_*[]()~`+"`"+`>#+-=|{}.!\`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
