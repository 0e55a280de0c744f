package model

import "time"

// Tick represents a single last-traded-price update from the price feed.
type Tick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"` // rupees (LTP)
	Qty    int64     `json:"qty"`   // last traded quantity
	TS     time.Time `json:"ts"`    // UTC timestamp
}
