// Package bus fans a single feed channel out to independent consumers.
package bus

import (
	"context"
	"log"
	"sync"
	"time"
)

// FanOut broadcasts items from a single input channel to N output channels.
// If an output channel is full, the item is dropped for that consumer so a
// slow consumer never blocks the pipeline.
type FanOut[T any] struct {
	mu      sync.RWMutex
	outputs []chan T
	names   []string
	bufSize int

	// OnDrop is called when an item is dropped for subscriber name.
	OnDrop func(name string)
}

// New creates a FanOut with the given buffer size for output channels.
func New[T any](outputBufferSize int) *FanOut[T] {
	if outputBufferSize <= 0 {
		outputBufferSize = 1024
	}
	return &FanOut[T]{bufSize: outputBufferSize}
}

// Subscribe creates and returns a new output channel. name identifies the
// consumer in drop reports and stats. Subscribe before Run.
func (f *FanOut[T]) Subscribe(name string) <-chan T {
	ch := make(chan T, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, ch)
	f.names = append(f.names, name)
	f.mu.Unlock()
	return ch
}

// Run reads from input and fans out to all subscribers. Blocks until ctx is
// cancelled or input is closed; every output is closed on return.
func (f *FanOut[T]) Run(ctx context.Context, input <-chan T) {
	defer func() {
		f.mu.RLock()
		for _, ch := range f.outputs {
			close(ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for i, ch := range f.outputs {
				select {
				case ch <- item:
				default:
					if f.OnDrop != nil {
						f.OnDrop(f.names[i])
					} else {
						log.Printf("[bus] output %q full, dropping item", f.names[i])
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}

// ChannelStat reports one subscriber's queue depth.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

// Saturation returns Len/Cap, or 0 for an unbuffered channel.
func (s ChannelStat) Saturation() float64 {
	if s.Cap == 0 {
		return 0
	}
	return float64(s.Len) / float64(s.Cap)
}

// ChannelStats returns the queue depth of each subscriber.
func (f *FanOut[T]) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, ch := range f.outputs {
		stats[i] = ChannelStat{Name: f.names[i], Len: len(ch), Cap: cap(ch)}
	}
	return stats
}

// ReportStats calls fn with ChannelStats every interval until ctx is done.
func (f *FanOut[T]) ReportStats(ctx context.Context, interval time.Duration, fn func([]ChannelStat)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(f.ChannelStats())
		}
	}
}
