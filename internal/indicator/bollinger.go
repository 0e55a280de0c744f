package indicator

import "marketdesk/internal/model"

// Bollinger computes the Period SMA of closes with bands Deviation
// population standard deviations away. While i < Period-1 all three series
// carry the raw close and no signal is emitted.
//
// Signals: SELL when close is above the upper band, BUY when below the lower.
func Bollinger(candles []model.Candle, s BollingerSettings) Result {
	n := len(candles)
	src := closes(candles)
	middle := sma(src, s.Period)
	upper := make([]float64, n)
	lower := make([]float64, n)
	signals := make([]Signal, n)

	for i, close := range src {
		if i < s.Period-1 {
			upper[i], lower[i] = close, close
			continue
		}
		sd := finite(stdDev(src[i-s.Period+1:i+1], middle[i]), 0)
		upper[i] = middle[i] + s.Deviation*sd
		lower[i] = middle[i] - s.Deviation*sd

		switch {
		case close > upper[i]:
			signals[i] = SignalSell
		case close < lower[i]:
			signals[i] = SignalBuy
		}
	}

	values := make([]float64, n)
	copy(values, middle)
	return Result{
		Name:    string(KindBollinger),
		Values:  values,
		Signals: signals,
		Levels:  map[string][]float64{"upper": upper, "middle": middle, "lower": lower},
	}
}
