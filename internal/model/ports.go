package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple the ledger and account from concrete storage
// implementations (SQLite, Redis). Values are raw JSON so storage adapters
// never import the packages that own the data.

// Stable keys of the persisted ledger layout.
const (
	KeyOrders    = "ledger:orders"
	KeyPositions = "ledger:positions"
	KeyUsers     = "account:users"
)

// KVStore persists JSON documents under stable keys.
type KVStore interface {
	// SaveJSON overwrites the document stored under key.
	SaveJSON(ctx context.Context, key string, data []byte) error

	// LoadJSON returns the document stored under key.
	// Returns nil, nil if the key does not exist.
	LoadJSON(ctx context.Context, key string) ([]byte, error)

	// Close releases underlying resources.
	Close() error
}
