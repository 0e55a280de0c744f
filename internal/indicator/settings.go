package indicator

import (
	"fmt"
	"strings"
)

// Kind names an indicator.
type Kind string

const (
	KindCPR        Kind = "CPR"
	KindSupertrend Kind = "Supertrend"
	KindVWAP       Kind = "VWAP"
	KindRSI        Kind = "RSI"
	KindEMA        Kind = "EMA"
	KindMACD       Kind = "MACD"
	KindBollinger  Kind = "Bollinger Bands"
)

// Kinds lists every supported indicator in display order.
var Kinds = []Kind{KindCPR, KindSupertrend, KindVWAP, KindRSI, KindEMA, KindMACD, KindBollinger}

// ParseKind resolves a case-insensitive indicator name. "BB" and
// "BOLLINGER" are accepted for Bollinger Bands.
func ParseKind(name string) (Kind, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	switch n {
	case "BB", "BOLLINGER", "BOLLINGER BANDS", "BOLLINGERBANDS":
		return KindBollinger, nil
	}
	for _, k := range Kinds {
		if strings.ToUpper(string(k)) == n {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown indicator %q", name)
}

// Settings is the tagged union of per-indicator parameters.
type Settings interface {
	// Kind identifies which indicator these settings configure.
	Kind() Kind

	// Validate rejects settings the engine cannot compute with.
	Validate() error

	// withDefaults fills zero-valued fields. It also seals the interface.
	withDefaults() Settings
}

// DefaultSettings returns the documented defaults for kind.
func DefaultSettings(kind Kind) Settings {
	switch kind {
	case KindSupertrend:
		return SupertrendSettings{}.withDefaults()
	case KindVWAP:
		return VWAPSettings{}.withDefaults()
	case KindRSI:
		return RSISettings{}.withDefaults()
	case KindEMA:
		return EMASettings{}.withDefaults()
	case KindMACD:
		return MACDSettings{}.withDefaults()
	case KindBollinger:
		return BollingerSettings{}.withDefaults()
	default:
		return CPRSettings{}
	}
}

// PriceSource selects which candle price an indicator reads.
type PriceSource string

const (
	SourceClose PriceSource = "close"
	SourceHL2   PriceSource = "hl2"  // (high+low)/2
	SourceHLC3  PriceSource = "hlc3" // (high+low+close)/3
)

// CPRSettings has no parameters: pivots are computed per candle.
type CPRSettings struct{}

func (CPRSettings) Kind() Kind               { return KindCPR }
func (CPRSettings) Validate() error          { return nil }
func (s CPRSettings) withDefaults() Settings { return s }

// SupertrendSettings configures Supertrend. Defaults: ATRPeriod 10,
// Multiplier 3, Source hl2, signals enabled.
type SupertrendSettings struct {
	ATRPeriod      int         `json:"atr_period"`
	Multiplier     float64     `json:"multiplier"`
	Source         PriceSource `json:"source"`
	DisableSignals bool        `json:"disable_signals"`
}

func (SupertrendSettings) Kind() Kind { return KindSupertrend }

func (s SupertrendSettings) Validate() error {
	s = s.withDefaults().(SupertrendSettings)
	if s.ATRPeriod <= 0 {
		return fmt.Errorf("supertrend: atr_period must be positive, got %d", s.ATRPeriod)
	}
	if s.Multiplier <= 0 {
		return fmt.Errorf("supertrend: multiplier must be positive, got %g", s.Multiplier)
	}
	if s.Source != SourceHL2 && s.Source != SourceClose {
		return fmt.Errorf("supertrend: unsupported source %q", s.Source)
	}
	return nil
}

func (s SupertrendSettings) withDefaults() Settings {
	if s.ATRPeriod == 0 {
		s.ATRPeriod = 10
	}
	if s.Multiplier == 0 {
		s.Multiplier = 3
	}
	if s.Source == "" {
		s.Source = SourceHL2
	}
	return s
}

// VWAPSettings configures VWAP. Defaults: Source hlc3, no bands, band
// multipliers 1, 2, 3.
type VWAPSettings struct {
	Source          PriceSource `json:"source"`
	Bands           bool        `json:"bands"`
	BandMultipliers [3]float64  `json:"band_multipliers"`
}

func (VWAPSettings) Kind() Kind { return KindVWAP }

func (s VWAPSettings) Validate() error {
	s = s.withDefaults().(VWAPSettings)
	if s.Source != SourceHLC3 && s.Source != SourceHL2 {
		return fmt.Errorf("vwap: unsupported source %q", s.Source)
	}
	for i, m := range s.BandMultipliers {
		if m < 0 {
			return fmt.Errorf("vwap: band multiplier %d is negative", i+1)
		}
	}
	return nil
}

func (s VWAPSettings) withDefaults() Settings {
	if s.Source == "" {
		s.Source = SourceHLC3
	}
	if s.BandMultipliers == ([3]float64{}) {
		s.BandMultipliers = [3]float64{1, 2, 3}
	}
	return s
}

// RSISettings configures RSI. Defaults: Period 14, Overbought 70, Oversold 30.
type RSISettings struct {
	Period     int     `json:"period"`
	Overbought float64 `json:"overbought"`
	Oversold   float64 `json:"oversold"`
}

func (RSISettings) Kind() Kind { return KindRSI }

func (s RSISettings) Validate() error {
	s = s.withDefaults().(RSISettings)
	if s.Period <= 0 {
		return fmt.Errorf("rsi: period must be positive, got %d", s.Period)
	}
	if s.Oversold >= s.Overbought {
		return fmt.Errorf("rsi: oversold %g must be below overbought %g", s.Oversold, s.Overbought)
	}
	return nil
}

func (s RSISettings) withDefaults() Settings {
	if s.Period == 0 {
		s.Period = 14
	}
	if s.Overbought == 0 {
		s.Overbought = 70
	}
	if s.Oversold == 0 {
		s.Oversold = 30
	}
	return s
}

// EMASettings configures EMA. Default Period 20.
type EMASettings struct {
	Period int `json:"period"`
}

func (EMASettings) Kind() Kind { return KindEMA }

func (s EMASettings) Validate() error {
	s = s.withDefaults().(EMASettings)
	if s.Period <= 0 {
		return fmt.Errorf("ema: period must be positive, got %d", s.Period)
	}
	return nil
}

func (s EMASettings) withDefaults() Settings {
	if s.Period == 0 {
		s.Period = 20
	}
	return s
}

// MACDSettings configures MACD. Defaults: Fast 12, Slow 26, Signal 9.
type MACDSettings struct {
	Fast   int `json:"fast"`
	Slow   int `json:"slow"`
	Signal int `json:"signal"`
}

func (MACDSettings) Kind() Kind { return KindMACD }

func (s MACDSettings) Validate() error {
	s = s.withDefaults().(MACDSettings)
	if s.Fast <= 0 || s.Slow <= 0 || s.Signal <= 0 {
		return fmt.Errorf("macd: periods must be positive, got %d/%d/%d", s.Fast, s.Slow, s.Signal)
	}
	return nil
}

func (s MACDSettings) withDefaults() Settings {
	if s.Fast == 0 {
		s.Fast = 12
	}
	if s.Slow == 0 {
		s.Slow = 26
	}
	if s.Signal == 0 {
		s.Signal = 9
	}
	return s
}

// BollingerSettings configures Bollinger Bands. Defaults: Period 20,
// Deviation 2.
type BollingerSettings struct {
	Period    int     `json:"period"`
	Deviation float64 `json:"deviation"`
}

func (BollingerSettings) Kind() Kind { return KindBollinger }

func (s BollingerSettings) Validate() error {
	s = s.withDefaults().(BollingerSettings)
	if s.Period <= 0 {
		return fmt.Errorf("bollinger: period must be positive, got %d", s.Period)
	}
	if s.Deviation <= 0 {
		return fmt.Errorf("bollinger: deviation must be positive, got %g", s.Deviation)
	}
	return nil
}

func (s BollingerSettings) withDefaults() Settings {
	if s.Period == 0 {
		s.Period = 20
	}
	if s.Deviation == 0 {
		s.Deviation = 2
	}
	return s
}
