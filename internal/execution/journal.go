package execution

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"marketdesk/internal/ledger"
	"marketdesk/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Journal persists executed orders to SQLite for analysis and audit. Both
// user entries and ledger-synthesized exits are recorded.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal creates the trades table on db. The journal shares the handle
// (and its single connection) with the SQLite store.
func NewJournal(db *sql.DB) (*Journal, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id    TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		side        TEXT NOT NULL,
		kind        TEXT NOT NULL,
		tag         TEXT NOT NULL,
		qty         INTEGER NOT NULL,
		price       REAL NOT NULL,
		executed_at TEXT NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	CREATE INDEX IF NOT EXISTS idx_trades_executed_at ON trades(executed_at);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	log.Printf("[journal] trade journal ready")
	return &Journal{db: db}, nil
}

// Handle records executed orders. Pass it to (*ledger.Ledger).Subscribe.
func (j *Journal) Handle(ev ledger.Event) {
	if ev.Type != ledger.EventOrderExecuted || ev.Order == nil {
		return
	}
	if err := j.RecordOrder(*ev.Order, ev.TS); err != nil {
		log.Printf("[journal] record %s: %v", ev.Order.ID, err)
	}
}

// RecordOrder persists one executed order.
func (j *Journal) RecordOrder(o model.Order, executedAt time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	qty := o.ExecutedQuantity
	if qty == 0 {
		qty = o.Quantity
	}
	_, err := j.db.Exec(
		`INSERT INTO trades (order_id, symbol, side, kind, tag, qty, price, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID,
		o.Symbol,
		string(o.Side),
		string(o.Kind),
		string(o.Tag),
		qty,
		o.ExecutedPrice,
		executedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// TradeRecord represents a row from the trades table.
type TradeRecord struct {
	ID         int64   `json:"id"`
	OrderID    string  `json:"order_id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Kind       string  `json:"order_kind"`
	Tag        string  `json:"tag"`
	Qty        int64   `json:"qty"`
	Price      float64 `json:"price"`
	ExecutedAt string  `json:"executed_at"`
}

// GetTrades returns the last N trades, newest first.
func (j *Journal) GetTrades(limit int) ([]TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, order_id, symbol, side, kind, tag, qty, price, executed_at
		 FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.ID, &t.OrderID, &t.Symbol, &t.Side, &t.Kind,
			&t.Tag, &t.Qty, &t.Price, &t.ExecutedAt); err != nil {
			continue
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
