package replay

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketdesk/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSource struct {
	candles map[string][]model.Candle
	err     error
}

func (m *memSource) Symbols() ([]string, error) {
	var out []string
	for s := range m.candles {
		out = append(out, s)
	}
	return out, m.err
}

func (m *memSource) ReadCandles(symbol string, afterTS int64, limit int) ([]model.Candle, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []model.Candle
	for _, c := range m.candles[symbol] {
		if c.Time.Unix() > afterTS {
			out = append(out, c)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

var base = time.Date(2026, 3, 2, 3, 45, 0, 0, time.UTC)

func series(symbol string, n int, offset time.Duration) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		out[i] = model.Candle{Symbol: symbol, Time: base.Add(offset + time.Duration(i)*time.Minute), Close: float64(100 + i)}
	}
	return out
}

func newSource() *memSource {
	return &memSource{candles: map[string][]model.Candle{
		"NIFTY50":   series("NIFTY50", 5, 0),
		"BANKNIFTY": series("BANKNIFTY", 5, 30*time.Second),
	}}
}

func TestLoad_MergesInTimeOrder(t *testing.T) {
	r := New(newSource())

	got, err := r.Load(nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 10)
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].Time.Before(got[i-1].Time), "candle %d out of order", i)
	}
	assert.Equal(t, "NIFTY50", got[0].Symbol)
	assert.Equal(t, "BANKNIFTY", got[1].Symbol)
}

func TestLoad_LimitAndFrom(t *testing.T) {
	r := New(newSource())

	got, err := r.Load([]string{"NIFTY50"}, 0, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 104.0, got[1].Close)

	got, err = r.Load([]string{"NIFTY50"}, base.Add(2*time.Minute).Unix(), 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestLoad_SourceError(t *testing.T) {
	r := New(&memSource{err: errors.New("disk gone")})
	_, err := r.Load(nil, 0, 0)
	assert.Error(t, err)
}

func TestRun_AsFastAsPossible(t *testing.T) {
	r := New(newSource())
	out := make(chan model.Candle, 20)

	require.NoError(t, r.Run(context.Background(), nil, 0, 0, out))
	assert.Len(t, out, 10)
}

func TestRun_Cancelled(t *testing.T) {
	r := New(newSource())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Run(ctx, nil, 0, 0, make(chan model.Candle))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWarmUp(t *testing.T) {
	r := New(newSource())
	var seen []model.Candle

	n, err := r.WarmUp([]string{"NIFTY50", "BANKNIFTY"}, 3, func(c model.Candle) { seen = append(seen, c) })
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Len(t, seen, 6)
	assert.Equal(t, 102.0, seen[0].Close)
}
