package strategy

import "marketdesk/internal/model"

// Report summarizes closed positions after a backtest.
type Report struct {
	Trades      int                      `json:"trades"`
	Wins        int                      `json:"wins"`
	Losses      int                      `json:"losses"`
	RealizedPnL float64                  `json:"realized_pnl"`
	BestTrade   float64                  `json:"best_trade"`
	WorstTrade  float64                  `json:"worst_trade"`
	ByReason    map[model.ExitReason]int `json:"by_reason"`
}

// WinRate returns wins as a percentage of trades, or 0 with no trades.
func (r Report) WinRate() float64 {
	if r.Trades == 0 {
		return 0
	}
	return float64(r.Wins) / float64(r.Trades) * 100
}

// NewReport builds a Report from every position the ledger has seen. Open
// positions are ignored.
func NewReport(positions []model.Position) Report {
	r := Report{ByReason: make(map[model.ExitReason]int)}
	for _, p := range positions {
		if p.Status != model.PositionClosed {
			continue
		}
		r.Trades++
		r.RealizedPnL += p.RealizedPnL
		switch {
		case p.RealizedPnL > 0:
			r.Wins++
		case p.RealizedPnL < 0:
			r.Losses++
		}
		if r.Trades == 1 || p.RealizedPnL > r.BestTrade {
			r.BestTrade = p.RealizedPnL
		}
		if r.Trades == 1 || p.RealizedPnL < r.WorstTrade {
			r.WorstTrade = p.RealizedPnL
		}
		r.ByReason[p.ExitReason]++
	}
	return r
}
