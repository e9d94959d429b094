package db

import (
	"context"
	"fmt"
	"log"
)

// createTableStmts bring a brand-new database to the base schema. Every
// statement is IF NOT EXISTS so running them against a populated database
// is a no-op.
var createTableStmts = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		password_hash TEXT,
		balance DOUBLE PRECISION NOT NULL DEFAULT 10000.0
	)`,
	`CREATE TABLE IF NOT EXISTS holdings (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		UNIQUE (user_id, symbol)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		symbol TEXT,
		order_type TEXT NOT NULL,
		price DOUBLE PRECISION,
		amount DOUBLE PRECISION NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS market_history (
		id BIGSERIAL PRIMARY KEY,
		symbol TEXT,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT now(),
		open DOUBLE PRECISION,
		high DOUBLE PRECISION,
		low DOUBLE PRECISION,
		close DOUBLE PRECISION,
		volume DOUBLE PRECISION
	)`,
	`CREATE TABLE IF NOT EXISTS market_news (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT now(),
		title TEXT,
		content TEXT
	)`,
}

// addedColumns are columns introduced after the first release. Databases
// created before them get the column added as nullable; existing rows keep
// their data and read the new column as NULL.
var addedColumns = []struct {
	table, column string
}{
	{"orders", "symbol"},
	{"market_history", "symbol"},
	{"users", "password_hash"},
}

var indexStmts = []struct {
	name string
	stmt string
}{
	{"ix_market_history_symbol_ts", "CREATE INDEX IF NOT EXISTS ix_market_history_symbol_ts ON market_history (symbol, timestamp)"},
	{"ix_orders_user_status", "CREATE INDEX IF NOT EXISTS ix_orders_user_status ON orders (user_id, status)"},
	{"ix_orders_user_created", "CREATE INDEX IF NOT EXISTS ix_orders_user_created ON orders (user_id, created_at)"},
	{"ix_holdings_user_symbol", "CREATE INDEX IF NOT EXISTS ix_holdings_user_symbol ON holdings (user_id, symbol)"},
	{"ix_market_news_timestamp", "CREATE INDEX IF NOT EXISTS ix_market_news_timestamp ON market_news (timestamp)"},
}

// Migrate brings the database up to the current schema. It is safe to run
// on every startup, against an empty database or a populated one of any
// prior schema version. Each step is guarded on its own: a failed column or
// index is logged and skipped so the process still starts with a usable,
// possibly partially migrated schema. Nothing here rewrites or drops
// existing rows.
func (db *DB) Migrate(ctx context.Context) {
	for _, stmt := range createTableStmts {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			log.Printf("Migration: create table failed: %v", err)
		}
	}

	for _, col := range addedColumns {
		ok, err := db.columnExists(ctx, col.table, col.column)
		if err != nil {
			log.Printf("Migration: column check %s.%s failed: %v", col.table, col.column, err)
			continue
		}
		if ok {
			continue
		}
		alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", col.table, col.column)
		if _, err := db.Pool.Exec(ctx, alter); err != nil {
			log.Printf("Migration: add column %s.%s failed: %v", col.table, col.column, err)
		} else {
			log.Printf("Migration: added column %s.%s", col.table, col.column)
		}
	}

	for _, idx := range indexStmts {
		if _, err := db.Pool.Exec(ctx, idx.stmt); err != nil {
			log.Printf("Migration: index %s failed: %v", idx.name, err)
		}
	}
}

func (db *DB) columnExists(ctx context.Context, table, column string) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_name = $1 AND column_name = $2
		)`, table, column).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}
