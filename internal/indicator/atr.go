package indicator

import (
	"math"

	"marketdesk/internal/model"
)

// trueRanges returns max(H-L, |H-prevClose|, |L-prevClose|) per candle.
// The first candle has no previous close and uses H-L.
func trueRanges(candles []model.Candle) []float64 {
	tr := make([]float64, len(candles))
	for i, c := range candles {
		if i == 0 {
			tr[i] = c.High - c.Low
			continue
		}
		prevClose := candles[i-1].Close
		tr[i] = math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
	}
	return tr
}

// atr is the simple moving average of the trailing period true ranges once
// period values exist; before that it is the most recent true range.
func atr(candles []model.Candle, period int) []float64 {
	tr := trueRanges(candles)
	out := make([]float64, len(tr))
	sum := 0.0
	for i, v := range tr {
		sum += v
		if i >= period {
			sum -= tr[i-period]
		}
		if i+1 >= period {
			out[i] = sum / float64(period)
		} else {
			out[i] = v
		}
	}
	return out
}
