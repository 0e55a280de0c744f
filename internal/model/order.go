package model

import "time"

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side that offsets this one.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sign returns +1 for BUY and -1 for SELL.
func (s Side) Sign() int64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// Valid reports whether s is a known side.
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// OrderKind is the order type as understood by the broker UI.
type OrderKind string

const (
	KindMarket   OrderKind = "MARKET"
	KindLimit    OrderKind = "LIMIT"
	KindSL       OrderKind = "SL"
	KindSLMarket OrderKind = "SL-M"
)

// Valid reports whether k is a known order kind.
func (k OrderKind) Valid() bool {
	switch k {
	case KindMarket, KindLimit, KindSL, KindSLMarket:
		return true
	}
	return false
}

// OrderStatus is the lifecycle state of an order. Transitions only go
// Pending → {Executed, Cancelled, Rejected}; the latter three are terminal.
type OrderStatus string

const (
	StatusPending   OrderStatus = "Pending"
	StatusExecuted  OrderStatus = "Executed"
	StatusCancelled OrderStatus = "Cancelled"
	StatusRejected  OrderStatus = "Rejected"
)

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool { return s != StatusPending }

// OrderTag records why an order exists.
type OrderTag string

const (
	TagEntry    OrderTag = "ENTRY" // placed by the user
	TagStopLoss OrderTag = "SL"    // synthesized by a stop-loss exit
	TagTarget   OrderTag = "TGT"   // synthesized by a target exit
	TagExit     OrderTag = "EXIT"  // synthesized by a manual exit
)

// Order is a simulated broker order owned by the ledger.
// Optional prices (StopLoss, Target1, Target2) use 0 for "unset".
type Order struct {
	ID               string      `json:"id"`
	Owner            string      `json:"owner,omitempty"` // account user ID whose margin backs the order
	Symbol           string      `json:"symbol"`
	Side             Side        `json:"side"`
	Quantity         int64       `json:"quantity"`
	Price            float64     `json:"price"`
	Kind             OrderKind   `json:"order_kind"`
	Status           OrderStatus `json:"status"`
	Tag              OrderTag    `json:"tag"`
	CreatedAt        time.Time   `json:"created_at"`
	StopLoss         float64     `json:"stop_loss,omitempty"`
	Target1          float64     `json:"target1,omitempty"`
	Target2          float64     `json:"target2,omitempty"`
	ExecutedPrice    float64     `json:"executed_price,omitempty"`
	ExecutedQuantity int64       `json:"executed_quantity,omitempty"`
}

// SignedQuantity returns +Quantity for BUY and -Quantity for SELL.
func (o *Order) SignedQuantity() int64 {
	return o.Side.Sign() * o.Quantity
}
