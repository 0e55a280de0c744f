// Package indicator provides technical indicator calculations over candle data.
//
// Every indicator is a pure function of a candle sequence and its settings:
// identical inputs always produce identical outputs, and the output series is
// index-aligned with the input (len(Values) == len(candles)). While a
// period-based calculation lacks history, a documented placeholder is emitted
// instead of NaN so charts never see gaps.
package indicator

import (
	"fmt"
	"math"

	"marketdesk/internal/model"
)

// Signal is a per-candle trading hint emitted by some indicators.
type Signal string

const (
	SignalNone Signal = ""
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
)

// Result holds one computed indicator series.
type Result struct {
	Name    string               `json:"name"`
	Values  []float64            `json:"values"`
	Signals []Signal             `json:"signals,omitempty"`
	Levels  map[string][]float64 `json:"levels,omitempty"`
}

// Last returns the newest value. Returns 0 for an empty series.
func (r *Result) Last() float64 {
	if len(r.Values) == 0 {
		return 0
	}
	return r.Values[len(r.Values)-1]
}

// LastSignal returns the newest signal, or SignalNone.
func (r *Result) LastSignal() Signal {
	if len(r.Signals) == 0 {
		return SignalNone
	}
	return r.Signals[len(r.Signals)-1]
}

// Compute runs the indicator selected by s over candles. Zero-valued settings
// fields fall back to their defaults. Settings are assumed to be validated.
func Compute(candles []model.Candle, s Settings) Result {
	if s == nil {
		return Result{Values: make([]float64, len(candles))}
	}
	switch st := s.withDefaults().(type) {
	case CPRSettings:
		return CPR(candles)
	case SupertrendSettings:
		return Supertrend(candles, st)
	case VWAPSettings:
		return VWAP(candles, st)
	case RSISettings:
		return RSI(candles, st)
	case EMASettings:
		return EMA(candles, st)
	case MACDSettings:
		return MACD(candles, st)
	case BollingerSettings:
		return Bollinger(candles, st)
	default:
		// unreachable: Settings is sealed by its unexported method
		return Result{Name: string(s.Kind()), Values: make([]float64, len(candles))}
	}
}

// ComputeByName looks up the indicator by name and runs it. A nil settings
// value uses the indicator's defaults. Returns an error for unknown names,
// mismatched settings, or invalid settings.
func ComputeByName(name string, candles []model.Candle, s Settings) (Result, error) {
	kind, err := ParseKind(name)
	if err != nil {
		return Result{}, err
	}
	if s == nil {
		s = DefaultSettings(kind)
	}
	if s.Kind() != kind {
		return Result{}, fmt.Errorf("settings for %s passed to %s", s.Kind(), kind)
	}
	if err := s.Validate(); err != nil {
		return Result{}, err
	}
	return Compute(candles, s), nil
}

// finite returns v, or fallback if v is NaN or ±Inf.
func finite(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}

func closes(candles []model.Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].Close
	}
	return out
}
