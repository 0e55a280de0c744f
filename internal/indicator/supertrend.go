package indicator

import "marketdesk/internal/model"

// Supertrend derives ATR bands around the source price and picks one band
// per candle with a simplified rule: the lower band when close rose versus
// the previous close, otherwise the upper band. This is not the canonical
// flip-with-persistence Supertrend; the simpler rule is kept on purpose so
// charts match the dashboard's historical output.
//
// For index < ATRPeriod the value is 0 with no signal. Otherwise the signal
// is BUY when close is above the Supertrend value, SELL when not, unless
// signals are disabled.
func Supertrend(candles []model.Candle, s SupertrendSettings) Result {
	n := len(candles)
	values := make([]float64, n)
	signals := make([]Signal, n)
	atrs := atr(candles, s.ATRPeriod)

	for i, c := range candles {
		if i < s.ATRPeriod {
			continue
		}

		src := c.Close
		if s.Source == SourceHL2 {
			src = (c.High + c.Low) / 2
		}
		upper := src + s.Multiplier*atrs[i]
		lower := src - s.Multiplier*atrs[i]

		st := upper
		if c.Close > candles[i-1].Close {
			st = lower
		}
		values[i] = st

		if s.DisableSignals {
			continue
		}
		if c.Close > st {
			signals[i] = SignalBuy
		} else {
			signals[i] = SignalSell
		}
	}

	return Result{Name: string(KindSupertrend), Values: values, Signals: signals}
}
