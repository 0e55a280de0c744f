package indicator

import (
	"fmt"
	"log"
	"strconv"
	"strings"
)

// ParseSpecs parses a comma-separated indicator list such as
// "CPR,RSI:14,EMA:20,EMA:50,MACD:12:26:9,BB:20:2,ST:10:3,VWAP". Numeric
// parameters follow the indicator name separated by colons and are
// optional. Invalid entries are skipped with a log line.
func ParseSpecs(spec string) []Settings {
	parts := strings.Split(spec, ",")
	out := make([]Settings, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		s, err := parseSpec(p)
		if err != nil {
			log.Printf("[indicator] skipping invalid spec %q: %v", p, err)
			continue
		}
		if err := s.Validate(); err != nil {
			log.Printf("[indicator] skipping invalid spec %q: %v", p, err)
			continue
		}
		key := settingsKey(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s.withDefaults())
	}
	return out
}

// ParseSpecsStrict is ParseSpecs for operator input: any invalid entry fails
// the whole spec instead of being skipped. Duplicates are still collapsed.
func ParseSpecsStrict(spec string) ([]Settings, error) {
	entries := 0
	for _, p := range strings.Split(spec, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		entries++
		s, err := parseSpec(p)
		if err == nil {
			err = s.Validate()
		}
		if err != nil {
			return nil, fmt.Errorf("invalid indicator %q: %w", p, err)
		}
	}
	if entries == 0 {
		return nil, fmt.Errorf("spec names no indicator")
	}
	return ParseSpecs(spec), nil
}

func parseSpec(p string) (Settings, error) {
	fields := strings.Split(p, ":")
	name := fields[0]
	if strings.EqualFold(name, "ST") {
		name = string(KindSupertrend)
	}
	kind, err := ParseKind(name)
	if err != nil {
		return nil, err
	}

	args := make([]float64, 0, len(fields)-1)
	for _, f := range fields[1:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	arg := func(i int) float64 {
		if i < len(args) {
			return args[i]
		}
		return 0
	}

	switch kind {
	case KindSupertrend:
		return SupertrendSettings{ATRPeriod: int(arg(0)), Multiplier: arg(1)}, nil
	case KindVWAP:
		return VWAPSettings{Bands: arg(0) > 0}, nil
	case KindRSI:
		return RSISettings{Period: int(arg(0)), Overbought: arg(1), Oversold: arg(2)}, nil
	case KindEMA:
		return EMASettings{Period: int(arg(0))}, nil
	case KindMACD:
		return MACDSettings{Fast: int(arg(0)), Slow: int(arg(1)), Signal: int(arg(2))}, nil
	case KindBollinger:
		return BollingerSettings{Period: int(arg(0)), Deviation: arg(1)}, nil
	default:
		return CPRSettings{}, nil
	}
}
