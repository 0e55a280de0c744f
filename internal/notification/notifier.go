// Package notification delivers ledger alerts (stop-loss and target exits,
// rejected fills) to external channels such as Telegram and webhooks.
package notification

import (
	"context"
	"errors"
	"log"
	"time"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent. Trade is set for alerts raised
// from ledger events.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Trade   *Trade     `json:"trade,omitempty"`
}

// Trade is the order or position snapshot behind an alert.
type Trade struct {
	Event       string    `json:"event"`
	Symbol      string    `json:"symbol"`
	PositionID  string    `json:"position_id,omitempty"`
	OrderID     string    `json:"order_id,omitempty"`
	Side        string    `json:"side,omitempty"`
	Quantity    int64     `json:"quantity"`
	Price       float64   `json:"price,omitempty"` // order price or position average
	LastPrice   float64   `json:"last_price,omitempty"`
	Target1     float64   `json:"target1,omitempty"`
	ExitReason  string    `json:"exit_reason,omitempty"`
	ExitPrice   float64   `json:"exit_price,omitempty"`
	RealizedPnL float64   `json:"realized_pnl"`
	TS          time.Time `json:"ts"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi fans an alert out to several notifiers. Every backend is tried; the
// joined error reports the ones that failed.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
