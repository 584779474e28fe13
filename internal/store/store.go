// Package store persists canonical orders, trades, and bars in SQLite so a
// restart can reconcile against what the process last observed.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"quantgate/internal/domain"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    exchange TEXT NOT NULL,
    exchange_id TEXT,
    symbol TEXT NOT NULL,
    direction TEXT NOT NULL,
    type TEXT NOT NULL,
    price REAL NOT NULL,
    qty REAL NOT NULL,
    filled_qty REAL DEFAULT 0,
    status TEXT NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
    id TEXT PRIMARY KEY,
    order_id TEXT NOT NULL,
    exchange TEXT NOT NULL,
    symbol TEXT NOT NULL,
    direction TEXT NOT NULL,
    price REAL NOT NULL,
    qty REAL NOT NULL,
    executed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS bars (
    exchange TEXT NOT NULL,
    symbol TEXT NOT NULL,
    interval TEXT NOT NULL,
    ts DATETIME NOT NULL,
    open REAL NOT NULL,
    high REAL NOT NULL,
    low REAL NOT NULL,
    close REAL NOT NULL,
    volume REAL NOT NULL,
    PRIMARY KEY (exchange, symbol, interval, ts)
);
`

// Store wraps the SQL handle for easier swapping/testing.
type Store struct {
	DB *sql.DB
}

// Open opens (and creates if needed) the database at path. ":memory:" is
// accepted for tests.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite prefers single writer.
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{DB: db}, nil
}

// Close releases the underlying handle.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// UpsertOrder writes the latest snapshot of one order.
func (s *Store) UpsertOrder(ctx context.Context, o domain.OrderData) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO orders (id, exchange, exchange_id, symbol, direction, type, price, qty, filled_qty, status, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    exchange_id = excluded.exchange_id,
    filled_qty = excluded.filled_qty,
    status = excluded.status,
    updated_at = excluded.updated_at`,
		o.OrderID, o.Exchange, o.ExchangeID, o.Symbol, string(o.Direction),
		string(o.Type), o.Price, o.Volume, o.Traded, string(o.Status), o.Time)
	return err
}

// InsertTrade appends one fill; duplicate trade ids are ignored.
func (s *Store) InsertTrade(ctx context.Context, t domain.TradeData) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT OR IGNORE INTO trades (id, order_id, exchange, symbol, direction, price, qty, executed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, t.OrderID, t.Exchange, t.Symbol, string(t.Direction),
		t.Price, t.Volume, t.Time)
	return err
}

// InsertBars stores a batch of bars in one transaction.
func (s *Store) InsertBars(ctx context.Context, bars []domain.BarData) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT OR REPLACE INTO bars (exchange, symbol, interval, ts, open, high, low, close, volume)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, b.Exchange, b.Symbol, string(b.Interval),
			b.Time, b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// GetOrder reads one order snapshot by local id.
func (s *Store) GetOrder(ctx context.Context, id string) (domain.OrderData, error) {
	var o domain.OrderData
	var direction, orderType, status string
	err := s.DB.QueryRowContext(ctx, `
SELECT id, exchange, exchange_id, symbol, direction, type, price, qty, filled_qty, status, updated_at
FROM orders WHERE id = ?`, id).Scan(
		&o.OrderID, &o.Exchange, &o.ExchangeID, &o.Symbol, &direction,
		&orderType, &o.Price, &o.Volume, &o.Traded, &status, &o.Time)
	if err != nil {
		return domain.OrderData{}, err
	}
	o.Direction = domain.Direction(direction)
	o.Type = domain.OrderType(orderType)
	o.Status = domain.Status(status)
	return o, nil
}

// GetTrades reads all fills of one order, oldest first.
func (s *Store) GetTrades(ctx context.Context, orderID string) ([]domain.TradeData, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, order_id, exchange, symbol, direction, price, qty, executed_at
FROM trades WHERE order_id = ? ORDER BY executed_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TradeData
	for rows.Next() {
		var t domain.TradeData
		var direction string
		if err := rows.Scan(&t.TradeID, &t.OrderID, &t.Exchange, &t.Symbol,
			&direction, &t.Price, &t.Volume, &t.Time); err != nil {
			return nil, err
		}
		t.Direction = domain.Direction(direction)
		out = append(out, t)
	}
	return out, rows.Err()
}
