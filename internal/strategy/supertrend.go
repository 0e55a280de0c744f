package strategy

import (
	"fmt"
	"log"

	"marketdesk/internal/indicator"
	"marketdesk/internal/model"
)

// SupertrendFollower trades Supertrend flips.
//
// Buy signal: the Supertrend signal turns from SELL to BUY.
// Sell signal: the Supertrend signal turns from BUY to SELL.
//
// The stop-loss sits at the Supertrend line; target1 and target2 are one and
// two times the entry-to-stop distance. An optional RSI filter skips buys
// when RSI is above Overbought and sells when it is below Oversold.
type SupertrendFollower struct {
	name string
	qty  int64

	// RSI filter; disabled when both are zero.
	Overbought float64
	Oversold   float64

	prev map[string]indicator.Signal
}

// NewSupertrendFollower creates the strategy trading qty units per signal.
func NewSupertrendFollower(qty int64) *SupertrendFollower {
	return &SupertrendFollower{
		name: "Supertrend_Follower",
		qty:  qty,
		prev: make(map[string]indicator.Signal),
	}
}

func (s *SupertrendFollower) Name() string {
	return s.name
}

func (s *SupertrendFollower) OnReadings(candle model.Candle, readings []indicator.Reading) *Signal {
	st, ok := findReading(readings, string(indicator.KindSupertrend))
	if !ok || st.Signal == indicator.SignalNone {
		return nil
	}
	prev := s.prev[candle.Symbol]
	s.prev[candle.Symbol] = st.Signal
	if prev == indicator.SignalNone || prev == st.Signal {
		return nil
	}

	entry := candle.Close
	risk := entry - st.Value
	action := ActionBuy
	if st.Signal == indicator.SignalSell {
		risk = st.Value - entry
		action = ActionSell
	}
	if risk <= 0 {
		return nil
	}

	if rsi, ok := findReading(readings, string(indicator.KindRSI)); ok {
		if action == ActionBuy && s.Overbought > 0 && rsi.Value > s.Overbought {
			log.Printf("[strategy] %s: %s buy filtered by RSI %.1f > %.0f", s.name, candle.Symbol, rsi.Value, s.Overbought)
			return nil
		}
		if action == ActionSell && s.Oversold > 0 && rsi.Value < s.Oversold {
			log.Printf("[strategy] %s: %s sell filtered by RSI %.1f < %.0f", s.name, candle.Symbol, rsi.Value, s.Oversold)
			return nil
		}
	}

	sig := &Signal{
		StrategyName: s.name,
		Action:       action,
		Symbol:       candle.Symbol,
		Qty:          s.qty,
		Price:        entry,
		StopLoss:     st.Value,
	}
	if action == ActionBuy {
		sig.Target1 = entry + risk
		sig.Target2 = entry + 2*risk
		sig.Reason = fmt.Sprintf("Supertrend flipped to BUY at %.2f", st.Value)
	} else {
		sig.Target1 = entry - risk
		sig.Target2 = entry - 2*risk
		sig.Reason = fmt.Sprintf("Supertrend flipped to SELL at %.2f", st.Value)
	}
	return sig
}
