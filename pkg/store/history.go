// Package store persists bridge order and fill history to a local sqlite
// database for the status API and post-session review. Pure-Go driver, no
// cgo in the deployment image.
package store

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// OrderRecord is one accepted order.
type OrderRecord struct {
	OrderID    uint32
	StrategyID int32
	BrokerID   string
	Symbol     string
	Side       string
	Offset     string
	Price      float64
	Quantity   int32
}

// FillRecord is one trade.
type FillRecord struct {
	BrokerID string
	TradeID  string
	Symbol   string
	Price    float64
	Quantity int32
}

// HistoryStore wraps the sqlite handle. Writes come from the request loop
// and the broker callback threads; the mutex serializes every statement
// on the handle.
type HistoryStore struct {
	mu sync.Mutex
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER NOT NULL,
	order_id INTEGER NOT NULL,
	strategy_id INTEGER NOT NULL,
	broker_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	offset TEXT NOT NULL,
	price REAL NOT NULL,
	quantity INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS fills (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER NOT NULL,
	broker_id TEXT NOT NULL,
	trade_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	price REAL NOT NULL,
	quantity INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fills_symbol ON fills(symbol, ts);
`

// Open opens (creating if needed) the history database.
func Open(path string) (*HistoryStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: schema: %w", err)
	}
	return &HistoryStore{db: db}, nil
}

// RecordOrder inserts an order row. History is best-effort observability:
// a write failure is logged, never propagated into the order path.
func (h *HistoryStore) RecordOrder(r OrderRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.db.Exec(
		`INSERT INTO orders (ts, order_id, strategy_id, broker_id, symbol, side, offset, price, quantity)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UnixNano(), r.OrderID, r.StrategyID, r.BrokerID, r.Symbol, r.Side, r.Offset, r.Price, r.Quantity)
	if err != nil {
		log.Printf("[History] order insert failed: %v", err)
	}
}

// RecordFill inserts a fill row.
func (h *HistoryStore) RecordFill(r FillRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.db.Exec(
		`INSERT INTO fills (ts, broker_id, trade_id, symbol, price, quantity) VALUES (?, ?, ?, ?, ?, ?)`,
		time.Now().UnixNano(), r.BrokerID, r.TradeID, r.Symbol, r.Price, r.Quantity)
	if err != nil {
		log.Printf("[History] fill insert failed: %v", err)
	}
}

// RecentFills returns the latest fills for the status API, newest first.
func (h *HistoryStore) RecentFills(limit int) ([]FillRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rows, err := h.db.Query(
		`SELECT broker_id, trade_id, symbol, price, quantity FROM fills ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query fills: %w", err)
	}
	defer rows.Close()

	var out []FillRecord
	for rows.Next() {
		var r FillRecord
		if err := rows.Scan(&r.BrokerID, &r.TradeID, &r.Symbol, &r.Price, &r.Quantity); err != nil {
			return nil, fmt.Errorf("history: scan fill: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FillVolumeBySymbol aggregates filled volume per symbol.
func (h *HistoryStore) FillVolumeBySymbol() (map[string]int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rows, err := h.db.Query(`SELECT symbol, SUM(quantity) FROM fills GROUP BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("history: aggregate fills: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var sym string
		var vol int64
		if err := rows.Scan(&sym, &vol); err != nil {
			return nil, fmt.Errorf("history: scan aggregate: %w", err)
		}
		out[sym] = vol
	}
	return out, rows.Err()
}

// Close closes the database.
func (h *HistoryStore) Close() error {
	return h.db.Close()
}
