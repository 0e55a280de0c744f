// Package agg turns the tick stream into fixed-timeframe OHLCV candles for
// the indicator engine.
package agg

import (
	"context"
	"log"
	"sync"
	"time"

	"marketdesk/internal/model"
)

// DefaultTimeframe is the candle width used when none is configured.
const DefaultTimeframe = time.Minute

// candleState holds the in-progress candle for one symbol in the current bucket.
type candleState struct {
	bucket int64 // Unix second at the start of this bucket
	candle model.Candle
}

// Aggregator builds fixed-timeframe OHLCV candles from a stream of ticks.
// It runs in a single goroutine and emits finalized candles when a bucket
// rolls over or its end passes on the wall clock.
type Aggregator struct {
	mu     sync.Mutex
	states map[string]*candleState // key = symbol

	tf            int64 // bucket width in seconds
	flushInterval time.Duration
	now           func() time.Time

	// Metrics hooks (optional, set externally)
	OnDroppedTick func()
	OnCandle      func(model.Candle)
}

// New creates an Aggregator with the given timeframe. Timeframes under one
// second use DefaultTimeframe.
func New(tf time.Duration) *Aggregator {
	if tf < time.Second {
		tf = DefaultTimeframe
	}
	return &Aggregator{
		states:        make(map[string]*candleState),
		tf:            int64(tf / time.Second),
		flushInterval: 100 * time.Millisecond, // check frequency for bucket rollover
		now:           time.Now,
	}
}

// Timeframe returns the candle width.
func (a *Aggregator) Timeframe() time.Duration { return time.Duration(a.tf) * time.Second }

// Run consumes ticks from tickCh in a single goroutine, aggregates them into
// candles, and sends finalized candles to candleCh. Blocks until ctx is
// cancelled or tickCh is closed.
func (a *Aggregator) Run(ctx context.Context, tickCh <-chan model.Tick, candleCh chan<- model.Candle) {
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Flush any remaining open candles before exit
			a.flushAll(candleCh)
			return

		case tick, ok := <-tickCh:
			if !ok {
				a.flushAll(candleCh)
				return
			}
			a.processTick(tick, candleCh)

		case <-ticker.C:
			// Periodic flush: emit any candles whose bucket has ended
			a.flushOld(candleCh)
		}
	}
}

func (a *Aggregator) bucketOf(ts time.Time) int64 {
	sec := ts.Unix()
	return sec - sec%a.tf
}

// processTick incorporates a single tick into the candle state.
func (a *Aggregator) processTick(tick model.Tick, candleCh chan<- model.Candle) {
	if tick.Symbol == "" || !(tick.Price > 0) {
		return
	}
	bucket := a.bucketOf(tick.TS)

	a.mu.Lock()
	state, exists := a.states[tick.Symbol]

	if exists && bucket < state.bucket {
		// Late tick, belongs to an older bucket
		dropped := a.OnDroppedTick
		a.mu.Unlock()
		if dropped != nil {
			dropped()
		}
		return
	}

	if exists && bucket > state.bucket {
		// New bucket, finalize the old candle first
		a.emit(state, candleCh)
		delete(a.states, tick.Symbol)
		exists = false
	}

	if !exists {
		a.states[tick.Symbol] = &candleState{
			bucket: bucket,
			candle: model.Candle{
				Symbol: tick.Symbol,
				Time:   time.Unix(bucket, 0).UTC(),
				Open:   tick.Price,
				High:   tick.Price,
				Low:    tick.Price,
				Close:  tick.Price,
				Volume: float64(tick.Qty),
			},
		}
		a.mu.Unlock()
		return
	}

	// Same bucket, update OHLCV
	c := &state.candle
	if tick.Price > c.High {
		c.High = tick.Price
	}
	if tick.Price < c.Low {
		c.Low = tick.Price
	}
	c.Close = tick.Price
	c.Volume += float64(tick.Qty)
	a.mu.Unlock()
}

// flushOld emits candles whose bucket has fully elapsed.
func (a *Aggregator) flushOld(candleCh chan<- model.Candle) {
	now := a.now().Unix()

	a.mu.Lock()
	defer a.mu.Unlock()

	for sym, state := range a.states {
		if state.bucket+a.tf <= now {
			a.emit(state, candleCh)
			delete(a.states, sym)
		}
	}
}

// flushAll emits all open candles regardless of bucket.
func (a *Aggregator) flushAll(candleCh chan<- model.Candle) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for sym, state := range a.states {
		a.emit(state, candleCh)
		delete(a.states, sym)
	}
}

// emit sends a finalized candle to candleCh. Non-blocking to avoid deadlocks.
func (a *Aggregator) emit(state *candleState, candleCh chan<- model.Candle) {
	select {
	case candleCh <- state.candle:
		if a.OnCandle != nil {
			a.OnCandle(state.candle)
		}
	default:
		log.Printf("[agg] candleCh full, dropping candle %s ts=%v", state.candle.Symbol, state.candle.Time)
	}
}
