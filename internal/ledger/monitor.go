package ledger

import (
	"context"
	"time"

	"marketdesk/internal/model"
)

// CheckExits runs one monitoring pass over every Open position and returns
// the positions it closed. Per position, in priority order:
//
//  1. stop-loss: last price at or through the stop closes at the stop price;
//     targets are not evaluated.
//  2. target1: first touch marks Target1Hit; the position stays open.
//  3. target2: once target1 was hit, touching target2 closes at target2.
//  4. target1 retreat: once target1 was hit, a price strictly back through
//     target1 closes at target1, so target1 trails as a stop.
func (l *Ledger) CheckExits() []model.Position {
	l.mu.Lock()
	var closed []model.Position
	var events []Event
	for _, p := range l.positions {
		if p.Status != model.PositionOpen {
			continue
		}
		evs := l.checkPositionLocked(p)
		if p.Status == model.PositionClosed {
			closed = append(closed, *p)
		}
		events = append(events, evs...)
	}
	if len(events) > 0 {
		l.snapshotLocked()
	}
	l.mu.Unlock()

	l.dispatch(events)
	return closed
}

func (l *Ledger) checkPositionLocked(p *model.Position) []Event {
	price := p.LastPrice
	if price <= 0 {
		return nil
	}
	long := p.IsLong()

	// reached reports whether price is at or beyond level in the profit
	// direction.
	reached := func(level float64) bool {
		if long {
			return price >= level
		}
		return price <= level
	}

	if p.StopLoss > 0 {
		hit := price <= p.StopLoss
		if !long {
			hit = price >= p.StopLoss
		}
		if hit {
			_, events := l.closeLocked(p, p.StopLoss, model.ExitStopLoss, model.TagStopLoss)
			return events
		}
	}

	var events []Event
	if p.Target1 > 0 && !p.Target1Hit && reached(p.Target1) {
		p.Target1Hit = true
		l.log.Info("target1 reached", "position_id", p.ID, "target1", p.Target1, "price", price)
		events = append(events, positionEvent(EventTarget1Hit, p, l.now()))
	}

	if p.Target2 > 0 && p.Target1Hit && reached(p.Target2) {
		_, closeEvents := l.closeLocked(p, p.Target2, model.ExitTarget2, model.TagTarget)
		return append(events, closeEvents...)
	}

	if p.Target1 > 0 && p.Target1Hit {
		retreat := price < p.Target1
		if !long {
			retreat = price > p.Target1
		}
		if retreat {
			_, closeEvents := l.closeLocked(p, p.Target1, model.ExitTarget1Retreat, model.TagTarget)
			return append(events, closeEvents...)
		}
	}
	return events
}

// Monitor runs CheckExits every monitor interval until ctx is cancelled.
func (l *Ledger) Monitor(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.log.Info("position monitor started", "interval", l.interval.String())
	for {
		select {
		case <-ctx.Done():
			l.log.Info("position monitor stopped")
			return
		case <-ticker.C:
			start := time.Now()
			closed := l.CheckExits()
			if l.onPass != nil {
				l.onPass(time.Since(start))
			}
			if len(closed) > 0 {
				l.log.Info("monitor pass closed positions", "count", len(closed))
			}
		}
	}
}
