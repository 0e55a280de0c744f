// Package ringbuf provides a fixed-capacity candle history. When full, a new
// candle overwrites the oldest one, so the window always holds the most
// recent Cap() candles in arrival order.
//
// Window is not safe for concurrent use; callers guard it (see
// indicator.Engine).
package ringbuf

import "marketdesk/internal/model"

// Window is a circular buffer of the most recent candles for one symbol.
type Window struct {
	buf   []model.Candle
	head  int // next write position
	count int

	// Evicted counts candles overwritten after the window filled.
	evicted uint64
}

// New creates a window holding at most capacity candles. Minimum capacity is 1.
func New(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{buf: make([]model.Candle, capacity)}
}

// Push appends a candle, overwriting the oldest one if the window is full.
// A candle whose Time equals the newest candle's Time replaces it, which lets
// a forming bar be revised in place.
func (w *Window) Push(c model.Candle) {
	if w.count > 0 {
		last := (w.head - 1 + len(w.buf)) % len(w.buf)
		if w.buf[last].Time.Equal(c.Time) {
			w.buf[last] = c
			return
		}
	}

	if w.count == len(w.buf) {
		w.evicted++
	} else {
		w.count++
	}
	w.buf[w.head] = c
	w.head = (w.head + 1) % len(w.buf)
}

// Slice returns a copy of the held candles, oldest first.
func (w *Window) Slice() []model.Candle {
	out := make([]model.Candle, w.count)
	start := (w.head - w.count + len(w.buf)) % len(w.buf)
	for i := 0; i < w.count; i++ {
		out[i] = w.buf[(start+i)%len(w.buf)]
	}
	return out
}

// Last returns the newest candle. ok is false if the window is empty.
func (w *Window) Last() (model.Candle, bool) {
	if w.count == 0 {
		return model.Candle{}, false
	}
	return w.buf[(w.head-1+len(w.buf))%len(w.buf)], true
}

// Len returns the current number of candles in the window.
func (w *Window) Len() int { return w.count }

// Cap returns the window capacity.
func (w *Window) Cap() int { return len(w.buf) }

// Evicted returns the total number of candles dropped off the back.
func (w *Window) Evicted() uint64 { return w.evicted }
