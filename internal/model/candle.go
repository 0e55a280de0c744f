package model

import (
	"encoding/json"
	"time"
)

// Candle is one OHLCV bar for a single symbol. Prices are in rupees.
// A candle sequence is ordered by strictly increasing Time and is never
// mutated once the feed has produced it.
type Candle struct {
	Symbol string    `json:"symbol"`
	Time   time.Time `json:"time"` // bucket start time (UTC)
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
