package model

// Wallet is the account's cash and margin view. It is owned by the account
// service; the ledger only reads and mutates it through MarginProvider,
// addressed by the owning user's ID.
type Wallet struct {
	Balance         float64 `json:"balance"`
	AvailableMargin float64 `json:"available_margin"`
	UsedMargin      float64 `json:"used_margin"`
}
