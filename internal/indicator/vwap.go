package indicator

import (
	"math"
	"strconv"

	"marketdesk/internal/model"
)

// VWAP computes the running volume-weighted average price over the whole
// input, which is treated as one anchor period; session resets are the
// caller's job (pass one session's candles at a time).
//
// While cumulative volume is zero the typical price itself is emitted. With
// Bands enabled, upper/lower band k is vwap ± BandMultipliers[k-1]·σ where
// σ² = Σ(tp²·v)/Σv − vwap², clamped at zero.
func VWAP(candles []model.Candle, s VWAPSettings) Result {
	n := len(candles)
	values := make([]float64, n)

	var levels map[string][]float64
	if s.Bands {
		levels = make(map[string][]float64, 6)
		for k := 1; k <= 3; k++ {
			levels["upper"+strconv.Itoa(k)] = make([]float64, n)
			levels["lower"+strconv.Itoa(k)] = make([]float64, n)
		}
	}

	var cumTPV, cumTP2V, cumVol float64
	for i, c := range candles {
		tp := (c.High + c.Low + c.Close) / 3
		if s.Source == SourceHL2 {
			tp = (c.High + c.Low) / 2
		}

		cumTPV += tp * c.Volume
		cumTP2V += tp * tp * c.Volume
		cumVol += c.Volume

		vwap := tp
		stdDev := 0.0
		if cumVol > 0 {
			vwap = cumTPV / cumVol
			variance := cumTP2V/cumVol - vwap*vwap
			if variance > 0 {
				stdDev = math.Sqrt(variance)
			}
		}
		vwap = finite(vwap, tp)
		stdDev = finite(stdDev, 0)
		values[i] = vwap

		if levels == nil {
			continue
		}
		for k := 1; k <= 3; k++ {
			m := s.BandMultipliers[k-1]
			levels["upper"+strconv.Itoa(k)][i] = vwap + m*stdDev
			levels["lower"+strconv.Itoa(k)][i] = vwap - m*stdDev
		}
	}

	return Result{Name: string(KindVWAP), Values: values, Levels: levels}
}
