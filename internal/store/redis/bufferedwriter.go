package redis

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"marketdesk/internal/indicator"
	"marketdesk/internal/ledger"
	"marketdesk/internal/model"
)

type writeKind int

const (
	writeEvent writeKind = iota
	writeReading
	writeCandle
)

// pendingWrite is a write that was buffered during circuit-open state.
// Keys are resolved and the payload encoded at buffer time.
type pendingWrite struct {
	kind    writeKind
	key     string // stream, latest key or event type
	channel string
	tf      int
	data    string
}

// Publisher fans ledger events, indicator readings and closed candles out to
// Redis through the store's circuit breaker. While the circuit is open,
// writes are buffered locally and flushed when it closes again.
type Publisher struct {
	store *Store
	ctx   context.Context
	tf    int // candle timeframe in seconds, used in candle keys

	mu     sync.Mutex
	buffer []pendingWrite
	maxBuf int

	// Callbacks
	OnBuffer func()          // called when a write is buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered writes
}

// NewPublisher creates a Publisher over s. maxBufferSize <= 0 means 10000.
func NewPublisher(ctx context.Context, s *Store, candleTF time.Duration, maxBufferSize int) *Publisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	p := &Publisher{
		store:  s,
		ctx:    ctx,
		tf:     int(candleTF / time.Second),
		buffer: make([]pendingWrite, 0, 256),
		maxBuf: maxBufferSize,
	}

	// Register flush on circuit close
	prevCallback := s.cb.OnStateChange
	s.cb.OnStateChange = func(from, to State) {
		if prevCallback != nil {
			prevCallback(from, to)
		}
		if to == StateClosed {
			go p.flush()
		}
	}

	return p
}

// PublishEvent records a ledger event. Matches ledger.EventHandler so it can
// be passed to (*ledger.Ledger).Subscribe directly.
func (p *Publisher) PublishEvent(ev ledger.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[redis-pub] marshal event: %v", err)
		return
	}
	p.write(pendingWrite{kind: writeEvent, key: string(ev.Type), data: string(data)})
}

// WriteReading stores and publishes an indicator reading.
func (p *Publisher) WriteReading(r indicator.Reading) {
	data, err := json.Marshal(r)
	if err != nil {
		log.Printf("[redis-pub] marshal reading: %v", err)
		return
	}
	p.write(pendingWrite{
		kind:    writeReading,
		key:     readingLatestKey(r),
		channel: readingChannel(r),
		data:    string(data),
	})
}

// WriteCandle stores and publishes a closed candle.
func (p *Publisher) WriteCandle(c model.Candle) {
	p.write(pendingWrite{kind: writeCandle, key: c.Symbol, tf: p.tf, data: string(c.JSON())})
}

// RunReadings drains readings until ctx is cancelled or ch is closed.
func (p *Publisher) RunReadings(ctx context.Context, ch <-chan indicator.Reading) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-ch:
			if !ok {
				return
			}
			p.WriteReading(r)
		}
	}
}

func (p *Publisher) write(pw pendingWrite) {
	err := p.store.cb.Execute(func() error { return p.apply(pw) })
	switch err {
	case nil:
	case ErrCircuitOpen:
		p.bufferWrite(pw)
	default:
		log.Printf("[redis-pub] write error: %v", err)
	}
}

func (p *Publisher) apply(pw pendingWrite) error {
	switch pw.kind {
	case writeEvent:
		return p.store.writeEvent(p.ctx, ledger.EventType(pw.key), pw.data)
	case writeReading:
		return p.store.writeReading(p.ctx, pw.key, pw.channel, pw.data)
	case writeCandle:
		return p.store.writeCandle(p.ctx, pw.tf, pw.key, pw.data)
	}
	return nil
}

func (p *Publisher) bufferWrite(pw pendingWrite) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buffer) >= p.maxBuf {
		// Buffer full, drop oldest
		p.buffer = p.buffer[1:]
	}
	p.buffer = append(p.buffer, pw)

	if p.OnBuffer != nil {
		p.OnBuffer()
	}
}

// flush replays all buffered writes directly against the client.
func (p *Publisher) flush() {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return
	}
	// Take ownership of the buffer
	toFlush := p.buffer
	p.buffer = make([]pendingWrite, 0, 256)
	p.mu.Unlock()

	flushed := 0
	for _, pw := range toFlush {
		if err := p.apply(pw); err != nil {
			log.Printf("[redis-pub] flush error: %v", err)
			continue
		}
		flushed++
	}

	log.Printf("[redis-pub] flushed %d/%d buffered writes", flushed, len(toFlush))
	if p.OnFlush != nil {
		p.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered writes waiting to be flushed.
func (p *Publisher) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}
