package indicator

import "marketdesk/internal/model"

// RSI averages gains and losses over a sliding window of the last Period
// close-to-close changes. Until the window is full (index < Period) it emits
// 50 with no signal. A window with no losses uses rs = 100, which caps RSI
// just under 100.
//
// Signals: SELL above Overbought, BUY below Oversold.
func RSI(candles []model.Candle, s RSISettings) Result {
	n := len(candles)
	values := make([]float64, n)
	signals := make([]Signal, n)
	overbought := make([]float64, n)
	oversold := make([]float64, n)

	gains := make([]float64, 0, s.Period+1)
	losses := make([]float64, 0, s.Period+1)
	var sumGain, sumLoss float64

	for i, c := range candles {
		overbought[i] = s.Overbought
		oversold[i] = s.Oversold
		values[i] = 50

		if i == 0 {
			continue
		}

		change := c.Close - candles[i-1].Close
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		gains = append(gains, gain)
		losses = append(losses, loss)
		sumGain += gain
		sumLoss += loss

		if len(gains) > s.Period {
			sumGain -= gains[0]
			sumLoss -= losses[0]
			gains = gains[1:]
			losses = losses[1:]
		}
		if len(gains) < s.Period {
			continue
		}

		avgGain := sumGain / float64(s.Period)
		avgLoss := sumLoss / float64(s.Period)
		rs := 100.0
		if avgLoss > 0 {
			rs = avgGain / avgLoss
		}
		rsi := clamp(100-100/(1+rs), 0, 100)
		values[i] = finite(rsi, 50)

		switch {
		case values[i] > s.Overbought:
			signals[i] = SignalSell
		case values[i] < s.Oversold:
			signals[i] = SignalBuy
		}
	}

	return Result{
		Name:    string(KindRSI),
		Values:  values,
		Signals: signals,
		Levels:  map[string][]float64{"overbought": overbought, "oversold": oversold},
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
