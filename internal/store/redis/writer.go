package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"marketdesk/internal/indicator"
	"marketdesk/internal/ledger"
	"marketdesk/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// EventStream holds the ledger event history (~one trading day).
	EventStream        = "ledger:events"
	eventStreamMaxLen  = 20000
	candleStreamMaxLen = 500
	defaultLatestTTL   = 30 * time.Minute
)

// Config configures the Redis store.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	MaxFailures  int           // consecutive failures before the breaker opens (default 5)
	ResetTimeout time.Duration // open duration before a half-open probe (default 10s)
}

// Store keeps the ledger and account snapshots (model.KVStore) in Redis and
// writes the live feed (ledger events, indicator readings, candles) as
// streams, latest keys and pub/sub messages. All calls go through a circuit
// breaker.
type Store struct {
	client *goredis.Client
	cb     *CircuitBreaker
}

var _ model.KVStore = (*Store)(nil)

// Client returns the underlying Redis client for health checks.
func (s *Store) Client() *goredis.Client { return s.client }

// Breaker returns the circuit breaker guarding the client.
func (s *Store) Breaker() *CircuitBreaker { return s.cb }

// New creates a Redis store and pings the server.
func New(cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return newStore(client, cfg), nil
}

func newStore(client *goredis.Client, cfg Config) *Store {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 10 * time.Second
	}
	cb := NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout)
	cb.Ignore = func(err error) bool { return errors.Is(err, goredis.Nil) }
	cb.OnStateChange = func(from, to State) {
		log.Printf("[redis] circuit %s -> %s", from, to)
	}
	return &Store{client: client, cb: cb}
}

// Ping checks connectivity through the breaker.
func (s *Store) Ping(ctx context.Context) error {
	return s.cb.Execute(func() error {
		return s.client.Ping(ctx).Err()
	})
}

// SaveJSON overwrites the document stored under key. Snapshots never expire.
func (s *Store) SaveJSON(ctx context.Context, key string, data []byte) error {
	err := s.cb.Execute(func() error {
		return s.client.Set(ctx, key, data, 0).Err()
	})
	if err != nil {
		return fmt.Errorf("redis SET %s: %w", key, err)
	}
	return nil
}

// LoadJSON returns the document stored under key, or nil, nil if absent.
func (s *Store) LoadJSON(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.cb.Execute(func() error {
		var err error
		data, err = s.client.Get(ctx, key).Bytes()
		return err
	})
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %s: %w", key, err)
	}
	return data, nil
}

// RecentEvents returns up to n ledger events, newest first.
func (s *Store) RecentEvents(ctx context.Context, n int64) ([]ledger.Event, error) {
	var msgs []goredis.XMessage
	err := s.cb.Execute(func() error {
		var err error
		msgs, err = s.client.XRevRangeN(ctx, EventStream, "+", "-", n).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("redis XREVRANGE %s: %w", EventStream, err)
	}

	events := make([]ledger.Event, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["data"].(string)
		if !ok {
			continue
		}
		var ev ledger.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			log.Printf("[redis] skip malformed event %s: %v", m.ID, err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

// ── Key layout ──

func eventChannel(t ledger.EventType) string { return "pub:ledger:" + string(t) }

func readingLatestKey(r indicator.Reading) string {
	return "ind:" + r.Name + ":latest:" + r.Symbol
}

func readingChannel(r indicator.Reading) string {
	return "pub:ind:" + r.Name + ":" + r.Symbol
}

func candleStreamKey(tf int, symbol string) string {
	return "candle:" + strconv.Itoa(tf) + "s:" + symbol
}

func candleLatestKey(tf int, symbol string) string {
	return "candle:" + strconv.Itoa(tf) + "s:latest:" + symbol
}

func candleChannel(tf int, symbol string) string {
	return "pub:candle:" + strconv.Itoa(tf) + "s:" + symbol
}

// ── Pipelined writes ──

// writeEvent appends an event to the event stream and publishes it.
func (s *Store) writeEvent(ctx context.Context, t ledger.EventType, jsonData string) error {
	pipe := s.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: EventStream,
		MaxLen: eventStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"type": string(t), "data": jsonData},
	})
	pipe.Publish(ctx, eventChannel(t), jsonData)
	_, err := pipe.Exec(ctx)
	return err
}

// writeReading stores the latest reading and publishes it.
func (s *Store) writeReading(ctx context.Context, latestKey, channel, jsonData string) error {
	pipe := s.client.Pipeline()
	pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)
	pipe.Publish(ctx, channel, jsonData)
	_, err := pipe.Exec(ctx)
	return err
}

// writeCandle performs pipelined writes for a closed candle.
func (s *Store) writeCandle(ctx context.Context, tf int, symbol, jsonData string) error {
	pipe := s.client.Pipeline()

	// SET latest candle with TTL
	pipe.Set(ctx, candleLatestKey(tf, symbol), jsonData, defaultLatestTTL)

	// XADD to stream with auto-trimming
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: candleStreamKey(tf, symbol),
		MaxLen: candleStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})

	// PUBLISH to pubsub channel
	pipe.Publish(ctx, candleChannel(tf, symbol), jsonData)

	_, err := pipe.Exec(ctx)
	return err
}
