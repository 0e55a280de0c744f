package indicator

import (
	"fmt"

	"marketdesk/internal/model"
)

// ema seeds with src[0] and applies k = 2/(period+1) from index 1 on.
// No warm-up placeholder is needed.
func ema(src []float64, period int) []float64 {
	out := make([]float64, len(src))
	if len(src) == 0 {
		return out
	}
	k := 2.0 / float64(period+1)
	out[0] = src[0]
	for i := 1; i < len(src); i++ {
		out[i] = src[i]*k + out[i-1]*(1-k)
	}
	return out
}

// EMA computes the exponential moving average of closes. The result is
// named after its period, e.g. "EMA20".
func EMA(candles []model.Candle, s EMASettings) Result {
	return Result{
		Name:   fmt.Sprintf("EMA%d", s.Period),
		Values: ema(closes(candles), s.Period),
	}
}
