package indicator

import "marketdesk/internal/model"

// MACD computes EMA(Fast) - EMA(Slow) of closes, a signal line that is the
// EMA(Signal) of the MACD series seeded with its first value, and the
// histogram MACD - signal.
//
// Signals fire on histogram zero crossings: BUY when it moves from <= 0 to
// > 0, SELL when it moves from >= 0 to < 0. Index 0 never signals.
func MACD(candles []model.Candle, s MACDSettings) Result {
	n := len(candles)
	src := closes(candles)
	fast := ema(src, s.Fast)
	slow := ema(src, s.Slow)

	macd := make([]float64, n)
	for i := range macd {
		macd[i] = fast[i] - slow[i]
	}
	signalLine := ema(macd, s.Signal)

	histogram := make([]float64, n)
	signals := make([]Signal, n)
	for i := range histogram {
		histogram[i] = macd[i] - signalLine[i]
		if i == 0 {
			continue
		}
		prev := histogram[i-1]
		switch {
		case prev <= 0 && histogram[i] > 0:
			signals[i] = SignalBuy
		case prev >= 0 && histogram[i] < 0:
			signals[i] = SignalSell
		}
	}

	return Result{
		Name:    string(KindMACD),
		Values:  macd,
		Signals: signals,
		Levels:  map[string][]float64{"signal": signalLine, "histogram": histogram},
	}
}
