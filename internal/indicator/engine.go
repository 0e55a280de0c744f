package indicator

import (
	"context"
	"sync"
	"time"

	"marketdesk/internal/model"
	"marketdesk/internal/ringbuf"
)

// DefaultHistorySize is the number of candles kept per symbol when
// NewEngine is given a non-positive size.
const DefaultHistorySize = 500

// Reading is the newest value of one indicator for one symbol.
type Reading struct {
	Name   string             `json:"name"`
	Symbol string             `json:"symbol"`
	Value  float64            `json:"value"`
	Signal Signal             `json:"signal,omitempty"`
	Levels map[string]float64 `json:"levels,omitempty"`
	TS     time.Time          `json:"ts"`
}

// Engine keeps a bounded candle history per symbol and recomputes the
// configured indicator set over it. Safe for concurrent use.
type Engine struct {
	mu          sync.RWMutex
	settings    []Settings
	historySize int
	history     map[string]*ringbuf.Window

	// observe, when set, receives the wall time of each indicator compute.
	observe func(name string, d time.Duration)
}

// NewEngine creates an engine computing settings over the last historySize
// candles of each symbol. Settings are assumed to be validated.
func NewEngine(settings []Settings, historySize int) *Engine {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Engine{
		settings:    append([]Settings(nil), settings...),
		historySize: historySize,
		history:     make(map[string]*ringbuf.Window, 64),
	}
}

// SetObserver installs a compute-duration callback, typically a metrics
// histogram. Must be called before the engine is shared.
func (e *Engine) SetObserver(fn func(name string, d time.Duration)) {
	e.observe = fn
}

// Settings returns a copy of the configured indicator set.
func (e *Engine) Settings() []Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Settings(nil), e.settings...)
}

// Update appends a finalized candle to its symbol's history and returns the
// newest reading of every configured indicator.
func (e *Engine) Update(c model.Candle) []Reading {
	e.mu.Lock()
	w, ok := e.history[c.Symbol]
	if !ok {
		w = ringbuf.New(e.historySize)
		e.history[c.Symbol] = w
	}
	w.Push(c)
	candles := w.Slice()
	settings := e.settings
	e.mu.Unlock()

	results := e.computeAll(candles, settings)
	readings := make([]Reading, 0, len(results))
	for i := range results {
		readings = append(readings, latest(c.Symbol, c.Time, &results[i]))
	}
	return readings
}

// Series recomputes every configured indicator over the symbol's full
// history. Returns nil for an unknown symbol.
func (e *Engine) Series(symbol string) []Result {
	e.mu.RLock()
	w, ok := e.history[symbol]
	if !ok {
		e.mu.RUnlock()
		return nil
	}
	candles := w.Slice()
	settings := e.settings
	e.mu.RUnlock()

	return e.computeAll(candles, settings)
}

// Candles returns a copy of the symbol's history, oldest first.
func (e *Engine) Candles(symbol string) []model.Candle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if w, ok := e.history[symbol]; ok {
		return w.Slice()
	}
	return nil
}

// Symbols lists every symbol with history.
func (e *Engine) Symbols() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.history))
	for s := range e.history {
		out = append(out, s)
	}
	return out
}

// Run consumes finalized candles and emits readings. Blocks until ctx is
// done or candleCh is closed. Readings are dropped when out is full.
func (e *Engine) Run(ctx context.Context, candleCh <-chan model.Candle, out chan<- Reading) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candleCh:
			if !ok {
				return
			}
			for _, r := range e.Update(c) {
				select {
				case out <- r:
				default:
					// drop if channel full
				}
			}
		}
	}
}

func (e *Engine) computeAll(candles []model.Candle, settings []Settings) []Result {
	results := make([]Result, 0, len(settings))
	for _, s := range settings {
		start := time.Now()
		r := Compute(candles, s)
		if e.observe != nil {
			e.observe(string(s.Kind()), time.Since(start))
		}
		results = append(results, r)
	}
	return results
}

func latest(symbol string, ts time.Time, r *Result) Reading {
	rd := Reading{
		Name:   r.Name,
		Symbol: symbol,
		Value:  r.Last(),
		Signal: r.LastSignal(),
		TS:     ts,
	}
	if len(r.Levels) > 0 {
		rd.Levels = make(map[string]float64, len(r.Levels))
		for name, series := range r.Levels {
			if len(series) > 0 {
				rd.Levels[name] = series[len(series)-1]
			}
		}
	}
	return rd
}
