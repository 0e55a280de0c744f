// Package strategy turns indicator readings into trading signals and applies
// them to the ledger.
//
// A Strategy sees each finalized candle together with the indicator readings
// computed for it and may emit one Signal. The Engine fans a bar out to every
// registered strategy; Execute turns a Signal into ledger orders.
package strategy

import (
	"marketdesk/internal/indicator"
	"marketdesk/internal/model"
)

// Signal represents a trading signal emitted by a strategy.
type Signal struct {
	StrategyName string  `json:"strategy_name"`
	Action       Action  `json:"action"` // BUY, SELL, EXIT
	Symbol       string  `json:"symbol"`
	Qty          int64   `json:"qty"`
	Price        float64 `json:"price"`
	StopLoss     float64 `json:"stop_loss,omitempty"`
	Target1      float64 `json:"target1,omitempty"`
	Target2      float64 `json:"target2,omitempty"`
	Reason       string  `json:"reason"`
}

// Action represents a trading action.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionExit Action = "EXIT"
)

// Strategy is the interface that all trading strategies must implement.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// OnReadings is called once per finalized candle with the indicator
	// readings computed for it. Return a Signal to act, or nil to skip.
	OnReadings(candle model.Candle, readings []indicator.Reading) *Signal
}

// Engine holds the registered strategies.
type Engine struct {
	strategies []Strategy
}

// NewEngine creates an engine with the given strategies registered.
func NewEngine(strategies ...Strategy) *Engine {
	return &Engine{strategies: strategies}
}

// Register adds a strategy to the engine.
func (e *Engine) Register(s Strategy) {
	e.strategies = append(e.strategies, s)
}

// Evaluate routes one bar to every strategy and returns the signals they
// emitted, in registration order.
func (e *Engine) Evaluate(candle model.Candle, readings []indicator.Reading) []Signal {
	var out []Signal
	for _, s := range e.strategies {
		if sig := s.OnReadings(candle, readings); sig != nil {
			out = append(out, *sig)
		}
	}
	return out
}

// findReading returns the first reading with the given name.
func findReading(readings []indicator.Reading, name string) (indicator.Reading, bool) {
	for _, r := range readings {
		if r.Name == name {
			return r, true
		}
	}
	return indicator.Reading{}, false
}
