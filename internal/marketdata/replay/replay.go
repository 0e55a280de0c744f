// Package replay reads stored candles back from SQLite, either to warm the
// indicator engine at startup or to drive a backtest.
package replay

import (
	"context"
	"log"
	"sort"
	"time"

	"marketdesk/internal/model"
)

// Source is the candle history a Replayer reads from. The SQLite store
// implements it.
type Source interface {
	Symbols() ([]string, error)
	ReadCandles(symbol string, afterTS int64, limit int) ([]model.Candle, error)
}

// MaxGap caps the simulated wait between two candles.
const MaxGap = 5 * time.Second

// Replayer replays stored candles in time order at a configurable speed.
type Replayer struct {
	src Source
}

// New creates a Replayer backed by src.
func New(src Source) *Replayer {
	return &Replayer{src: src}
}

// Load returns up to limit of the most recent candles per symbol after
// fromTS (Unix seconds), merged and sorted by time. Nil symbols means every
// stored symbol; limit <= 0 means no limit.
func (r *Replayer) Load(symbols []string, fromTS int64, limit int) ([]model.Candle, error) {
	if len(symbols) == 0 {
		var err error
		if symbols, err = r.src.Symbols(); err != nil {
			return nil, err
		}
	}

	var all []model.Candle
	for _, sym := range symbols {
		candles, err := r.src.ReadCandles(sym, fromTS, limit)
		if err != nil {
			return nil, err
		}
		all = append(all, candles...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Time.Before(all[j].Time) })
	return all, nil
}

// Run replays candles into outCh. speed controls the playback rate:
// 1.0 = real-time, 10.0 = 10x, 0 = as fast as possible. Returns ctx.Err()
// if cancelled mid-replay.
func (r *Replayer) Run(ctx context.Context, symbols []string, fromTS int64, speed float64, outCh chan<- model.Candle) error {
	candles, err := r.Load(symbols, fromTS, 0)
	if err != nil {
		return err
	}
	if len(candles) == 0 {
		log.Println("[replay] no candles found in SQLite")
		return nil
	}
	log.Printf("[replay] loaded %d candles, speed=%.1fx", len(candles), speed)

	var prevTS time.Time
	emitted := 0
	for _, c := range candles {
		if speed > 0 && !prevTS.IsZero() {
			if gap := c.Time.Sub(prevTS); gap > 0 {
				wait := time.Duration(float64(gap) / speed)
				if wait > MaxGap {
					wait = MaxGap
				}
				select {
				case <-ctx.Done():
					log.Printf("[replay] cancelled after %d candles", emitted)
					return ctx.Err()
				case <-time.After(wait):
				}
			}
		}
		prevTS = c.Time

		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d candles", emitted)
			return ctx.Err()
		case outCh <- c:
			emitted++
		}
	}

	log.Printf("[replay] completed: %d candles replayed", emitted)
	return nil
}

// WarmUp passes the last limit candles of each symbol to fn, oldest first,
// and returns how many were replayed. Used to rebuild indicator history at
// startup.
func (r *Replayer) WarmUp(symbols []string, limit int, fn func(model.Candle)) (int, error) {
	candles, err := r.Load(symbols, 0, limit)
	if err != nil {
		return 0, err
	}
	for _, c := range candles {
		fn(c)
	}
	return len(candles), nil
}
