package model

import "time"

// PositionStatus is the lifecycle state of a position. Closed is terminal.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "Open"
	PositionClosed PositionStatus = "Closed"
)

// ExitReason records what closed a position.
type ExitReason string

const (
	ExitStopLoss       ExitReason = "STOP_LOSS"
	ExitTarget2        ExitReason = "TARGET2"
	ExitTarget1Retreat ExitReason = "TARGET1_RETREAT"
	ExitManual         ExitReason = "MANUAL"
	ExitFlat           ExitReason = "FLAT" // an opposing fill netted quantity to zero
)

// Position represents a tracked trading position.
type Position struct {
	ID         string         `json:"id"`
	Owner      string         `json:"owner,omitempty"` // account user ID whose margin is blocked
	Symbol     string         `json:"symbol"`
	Quantity   int64          `json:"quantity"` // positive = long, negative = short
	AvgPrice   float64        `json:"avg_price"`
	LastPrice  float64        `json:"last_price"`
	PnL        float64        `json:"pnl"`
	PnLPercent float64        `json:"pnl_percent"`
	Status     PositionStatus `json:"status"`
	StopLoss   float64        `json:"stop_loss,omitempty"`
	Target1    float64        `json:"target1,omitempty"`
	Target2    float64        `json:"target2,omitempty"`
	Target1Hit bool           `json:"target1_hit"`

	BlockedMargin float64    `json:"blocked_margin"`
	OpenedAt      time.Time  `json:"opened_at"`
	ClosedAt      time.Time  `json:"closed_at,omitempty"`
	ExitPrice     float64    `json:"exit_price,omitempty"`
	ExitReason    ExitReason `json:"exit_reason,omitempty"`
	RealizedPnL   float64    `json:"realized_pnl,omitempty"`
}

// IsLong reports whether the position is long.
func (p *Position) IsLong() bool { return p.Quantity > 0 }

// AbsQuantity returns |Quantity|.
func (p *Position) AbsQuantity() int64 {
	if p.Quantity < 0 {
		return -p.Quantity
	}
	return p.Quantity
}

// UnrealizedPnL computes (LastPrice - AvgPrice) * Quantity.
func (p *Position) UnrealizedPnL() float64 {
	return (p.LastPrice - p.AvgPrice) * float64(p.Quantity)
}

// ExitSide returns the side of the order that would flatten the position.
func (p *Position) ExitSide() Side {
	if p.Quantity > 0 {
		return SideSell
	}
	return SideBuy
}
