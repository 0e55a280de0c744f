package ledger

import (
	"log"
	"time"

	"marketdesk/internal/model"
)

// EventType identifies a ledger state change.
type EventType string

const (
	EventOrderPlaced    EventType = "order_placed"
	EventOrderExecuted  EventType = "order_executed"
	EventOrderCancelled EventType = "order_cancelled"
	EventOrderRejected  EventType = "order_rejected"
	EventPositionOpened EventType = "position_opened"
	EventTarget1Hit     EventType = "target1_hit"
	EventPositionClosed EventType = "position_closed"
)

// Event describes one state change. Order and Position are copies taken when
// the change happened; either may be nil depending on Type.
type Event struct {
	Type     EventType       `json:"type"`
	Order    *model.Order    `json:"order,omitempty"`
	Position *model.Position `json:"position,omitempty"`
	TS       time.Time       `json:"ts"`
}

// EventHandler receives ledger events. Handlers run on the goroutine that
// performed the operation, after the ledger lock is released, and must not
// block for long.
type EventHandler func(Event)

// Subscribe registers h for every subsequent event.
func (l *Ledger) Subscribe(h EventHandler) {
	l.hmu.Lock()
	l.handlers = append(l.handlers, h)
	l.hmu.Unlock()
}

func (l *Ledger) dispatch(events []Event) {
	if len(events) == 0 {
		return
	}
	l.hmu.RLock()
	handlers := l.handlers
	l.hmu.RUnlock()

	for _, ev := range events {
		for _, h := range handlers {
			l.safeHandle(h, ev)
		}
	}
}

func (l *Ledger) safeHandle(h EventHandler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ledger] event handler panic on %s: %v", ev.Type, r)
		}
	}()
	h(ev)
}

func orderEvent(t EventType, o *model.Order, ts time.Time) Event {
	cp := *o
	return Event{Type: t, Order: &cp, TS: ts}
}

func positionEvent(t EventType, p *model.Position, ts time.Time) Event {
	cp := *p
	return Event{Type: t, Position: &cp, TS: ts}
}
