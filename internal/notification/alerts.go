package notification

import (
	"context"
	"fmt"
	"log"
	"time"

	"marketdesk/internal/ledger"
	"marketdesk/internal/model"
)

// AlertFromEvent maps a ledger event to an alert. Only exits, target1 marks
// and rejected fills are alert-worthy.
func AlertFromEvent(ev ledger.Event) (Alert, bool) {
	switch ev.Type {
	case ledger.EventPositionClosed:
		p := ev.Position
		if p == nil {
			return Alert{}, false
		}
		level := AlertInfo
		title := "Position closed"
		switch p.ExitReason {
		case model.ExitStopLoss:
			level = AlertWarning
			title = "Stop-loss hit"
		case model.ExitTarget2:
			title = "Target2 hit"
		case model.ExitTarget1Retreat:
			title = "Target1 trailing exit"
		}
		return Alert{
			Level: level,
			Title: fmt.Sprintf("%s: %s", title, p.Symbol),
			Message: fmt.Sprintf("%s qty=%d avg=%.2f exit=%.2f realized P&L ₹%.2f",
				p.ID, p.AbsQuantity(), p.AvgPrice, p.ExitPrice, p.RealizedPnL),
			Trade: positionTrade(ev, p),
		}, true

	case ledger.EventTarget1Hit:
		p := ev.Position
		if p == nil {
			return Alert{}, false
		}
		return Alert{
			Level:   AlertInfo,
			Title:   fmt.Sprintf("Target1 reached: %s", p.Symbol),
			Message: fmt.Sprintf("%s last=%.2f target1=%.2f, target1 now trails as a stop", p.ID, p.LastPrice, p.Target1),
			Trade:   positionTrade(ev, p),
		}, true

	case ledger.EventOrderRejected:
		o := ev.Order
		if o == nil {
			return Alert{}, false
		}
		return Alert{
			Level:   AlertWarning,
			Title:   fmt.Sprintf("Order rejected: %s", o.Symbol),
			Message: fmt.Sprintf("%s %s %s qty=%d price=%.2f rejected at fill", o.ID, o.Kind, o.Side, o.Quantity, o.Price),
			Trade: &Trade{
				Event:    string(ev.Type),
				Symbol:   o.Symbol,
				OrderID:  o.ID,
				Side:     string(o.Side),
				Quantity: o.Quantity,
				Price:    o.Price,
				TS:       ev.TS,
			},
		}, true
	}
	return Alert{}, false
}

func positionTrade(ev ledger.Event, p *model.Position) *Trade {
	t := &Trade{
		Event:       string(ev.Type),
		Symbol:      p.Symbol,
		PositionID:  p.ID,
		Quantity:    p.Quantity,
		Price:       p.AvgPrice,
		LastPrice:   p.LastPrice,
		Target1:     p.Target1,
		ExitReason:  string(p.ExitReason),
		ExitPrice:   p.ExitPrice,
		RealizedPnL: p.RealizedPnL,
		TS:          ev.TS,
	}
	if ev.Order != nil {
		t.OrderID = ev.Order.ID
	}
	return t
}

// Dispatcher delivers alerts for ledger events on its own goroutine, so
// slow backends never hold up ledger operations.
type Dispatcher struct {
	notifier Notifier
	queue    chan Alert
	timeout  time.Duration
}

// NewDispatcher creates a dispatcher with a bounded queue.
func NewDispatcher(n Notifier, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Dispatcher{notifier: n, queue: make(chan Alert, queueSize), timeout: 10 * time.Second}
}

// Handle queues an alert for ev. Pass it to (*ledger.Ledger).Subscribe.
// Alerts are dropped when the queue is full.
func (d *Dispatcher) Handle(ev ledger.Event) {
	alert, ok := AlertFromEvent(ev)
	if !ok {
		return
	}
	select {
	case d.queue <- alert:
	default:
		log.Printf("[notify] queue full, dropped alert: %s", alert.Title)
	}
}

// Run sends queued alerts until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case alert := <-d.queue:
			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			if err := d.notifier.Send(sendCtx, alert); err != nil {
				log.Printf("[notify] send %q: %v", alert.Title, err)
			}
			cancel()
		}
	}
}
