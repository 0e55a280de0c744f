package sqlite

import (
	"fmt"
	"time"

	"marketdesk/internal/model"
)

// ReadCandles returns up to limit of the most recent candles for symbol with
// ts > afterTS, ordered by timestamp ascending for correct replay order.
// A limit <= 0 returns every matching candle.
func (s *Store) ReadCandles(symbol string, afterTS int64, limit int) ([]model.Candle, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.Query(`
		SELECT symbol, ts, open, high, low, close, volume FROM (
			SELECT symbol, ts, open, high, low, close, volume
			FROM candles
			WHERE symbol = ? AND ts > ?
			ORDER BY ts DESC
			LIMIT ?
		) ORDER BY ts ASC
	`, symbol, afterTS, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var tsUnix int64
		var vol *float64
		if err := rows.Scan(&c.Symbol, &tsUnix, &c.Open, &c.High, &c.Low, &c.Close, &vol); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		if vol != nil {
			c.Volume = *vol
		}
		c.Time = time.Unix(tsUnix, 0).UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// Symbols returns every symbol with stored candles.
func (s *Store) Symbols() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT symbol FROM candles ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query symbols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("sqlite scan symbol: %w", err)
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}
