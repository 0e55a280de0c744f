// Package execution simulates the exchange side of the book: it fills Pending
// orders against the live tick stream and journals every execution.
package execution

import (
	"context"
	"log"
	"sync"
	"time"

	"marketdesk/internal/ledger"
	"marketdesk/internal/model"
)

// OrderBook is the part of the ledger the paper filler drives.
type OrderBook interface {
	PendingOrders(symbol string) []model.Order
	FillOrder(orderID string, price float64) ledger.Result
}

// Fill represents a simulated order fill.
type Fill struct {
	OrderID   string          `json:"order_id"`
	Symbol    string          `json:"symbol"`
	Side      model.Side      `json:"side"`
	Kind      model.OrderKind `json:"order_kind"`
	FillPrice float64         `json:"fill_price"`
	FillQty   int64           `json:"fill_qty"`
	FilledAt  time.Time       `json:"filled_at"`
	Slippage  float64         `json:"slippage"` // rupees per unit, SL-M only
}

// PaperFiller matches Pending orders against ticks without a broker.
type PaperFiller struct {
	book OrderBook

	mu    sync.RWMutex
	fills []Fill

	// Simulation parameters
	slippageBps float64 // basis points of slippage on SL-M fills (e.g., 5 = 0.05%)

	// OnFill is called after each successful fill (for metrics).
	OnFill func(Fill)
	// OnReject is called when the ledger refuses a crossed order.
	OnReject func(orderID string, err error)
}

// NewPaperFiller creates a paper filler over book.
func NewPaperFiller(book OrderBook, slippageBps float64) *PaperFiller {
	return &PaperFiller{
		book:        book,
		fills:       make([]Fill, 0, 256),
		slippageBps: slippageBps,
	}
}

// GetFills returns a snapshot of all fills.
func (p *PaperFiller) GetFills() []Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}

// Run consumes ticks and fills crossed orders.
func (p *PaperFiller) Run(ctx context.Context, tickCh <-chan model.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-tickCh:
			if !ok {
				return
			}
			p.OnTick(t)
		}
	}
}

// OnTick fills every Pending order for t.Symbol that t.Price crosses and
// returns the fills made.
func (p *PaperFiller) OnTick(t model.Tick) []Fill {
	if !(t.Price > 0) {
		return nil
	}
	var made []Fill
	for _, o := range p.book.PendingOrders(t.Symbol) {
		price, slip, ok := CrossPrice(o, t.Price, p.slippageBps)
		if !ok {
			continue
		}
		res := p.book.FillOrder(o.ID, price)
		if !res.Success {
			log.Printf("[paper] %s %s %s qty=%d crossed at %.2f but not filled: %s",
				o.ID, o.Kind, o.Side, o.Quantity, t.Price, res.Message)
			if p.OnReject != nil {
				p.OnReject(o.ID, res.Err)
			}
			continue
		}

		fill := Fill{
			OrderID:   o.ID,
			Symbol:    o.Symbol,
			Side:      o.Side,
			Kind:      o.Kind,
			FillPrice: price,
			FillQty:   o.Quantity,
			FilledAt:  t.TS,
			Slippage:  slip,
		}
		p.mu.Lock()
		p.fills = append(p.fills, fill)
		p.mu.Unlock()

		log.Printf("[paper] %s %s %s qty=%d price=%.2f (slip=%.2f) order=%s",
			o.Side, o.Kind, o.Symbol, o.Quantity, price, slip, o.ID)
		if p.OnFill != nil {
			p.OnFill(fill)
		}
		made = append(made, fill)
	}
	return made
}

// CrossPrice reports whether last crosses order o and the price o fills at.
//
//	LIMIT BUY  last <= limit    fills at limit
//	LIMIT SELL last >= limit    fills at limit
//	SL BUY     last >= trigger  fills at trigger
//	SL SELL    last <= trigger  fills at trigger
//	SL-M       same triggers    fills at last, slipped against the order
//	MARKET                      fills at last
func CrossPrice(o model.Order, last, slippageBps float64) (price, slippage float64, ok bool) {
	buy := o.Side == model.SideBuy
	switch o.Kind {
	case model.KindLimit:
		if (buy && last <= o.Price) || (!buy && last >= o.Price) {
			return o.Price, 0, true
		}
	case model.KindSL:
		if (buy && last >= o.Price) || (!buy && last <= o.Price) {
			return o.Price, 0, true
		}
	case model.KindSLMarket:
		if (buy && last >= o.Price) || (!buy && last <= o.Price) {
			slippage = last * slippageBps / 10000
			if buy {
				return last + slippage, slippage, true // buy higher
			}
			return last - slippage, slippage, true // sell lower
		}
	case model.KindMarket:
		return last, 0, true
	}
	return 0, 0, false
}
