package database

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Open opens the SQLite database at path with WAL mode, a busy timeout and
// foreign keys enabled, then runs migrations.
func Open(path string) (*sql.DB, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+"_journal_mode=WAL&_busy_timeout=10000&_foreign_keys=1")
	if err != nil {
		return nil, err
	}

	// SQLite handles 1 writer + multiple readers with WAL mode
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	// Some drivers don't parse connection string params correctly
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000"); err != nil {
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates all tables. Safe to run repeatedly.
func Migrate(db *sql.DB) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			display_name TEXT DEFAULT '',
			role TEXT DEFAULT 'saleco' CHECK(role IN ('saleco','inventory','qcm','admin')),
			active INTEGER DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			expires_at DATETIME NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			item_code TEXT NOT NULL,
			description TEXT DEFAULT '',
			qty TEXT NOT NULL,
			serials TEXT DEFAULT '',
			txn_type TEXT NOT NULL,
			txn_date DATETIME NOT NULL,
			on_hand TEXT DEFAULT '',
			stock_group TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS allocation_requests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			document_id TEXT NOT NULL,
			customer_name TEXT DEFAULT '',
			customer_address TEXT DEFAULT '',
			want_date TEXT DEFAULT '',
			request_details TEXT DEFAULT '',
			item_code TEXT NOT NULL,
			description TEXT DEFAULT '',
			serial TEXT NOT NULL,
			qty INTEGER NOT NULL DEFAULT 1 CHECK(qty = 1),
			status TEXT NOT NULL DEFAULT 'Pending',
			note TEXT DEFAULT '',
			remark TEXT DEFAULT '',
			qc_remark TEXT DEFAULT '',
			qc_name TEXT DEFAULT '',
			requested_by TEXT DEFAULT '',
			department TEXT DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alloc_document ON allocation_requests(document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_alloc_serial ON allocation_requests(serial)`,
		`CREATE INDEX IF NOT EXISTS idx_alloc_item_status ON allocation_requests(item_code, status)`,
		`CREATE TABLE IF NOT EXISTS nc_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			nc_number TEXT UNIQUE NOT NULL,
			document_id TEXT DEFAULT '',
			item_code TEXT NOT NULL,
			serial TEXT NOT NULL,
			reason TEXT DEFAULT '',
			status TEXT NOT NULL DEFAULT 'At Store NC' CHECK(status IN ('At Store NC','Scrap','Resolved')),
			memo TEXT DEFAULT '',
			created_by TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT DEFAULT '',
			action TEXT NOT NULL,
			module TEXT NOT NULL,
			record_id TEXT DEFAULT '',
			summary TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, t := range tables {
		if _, err := db.Exec(t); err != nil {
			return fmt.Errorf("migration: %w", err)
		}
	}
	return nil
}

// NextDocumentID generates the next running document id for prefix, e.g.
// SRQ04250007: prefix + MMYY of now + 4-digit counter. The counter comes from
// the greatest existing id sharing the prefix+month+year, incremented; the
// read-then-increment is only safe when callers serialize through the
// submission queue or run inside a transaction.
func NextDocumentID(q Querier, table, column, prefix string, now time.Time) string {
	stamp := now.Format("0106") // MMYY
	pattern := prefix + stamp + "%"
	var maxID sql.NullString
	q.QueryRow("SELECT "+column+" FROM "+table+" WHERE "+column+" LIKE ? ORDER BY "+column+" DESC LIMIT 1", pattern).Scan(&maxID)

	next := 1
	if maxID.Valid && len(maxID.String) >= 4 {
		if n, err := strconv.Atoi(maxID.String[len(maxID.String)-4:]); err == nil {
			next = n + 1
		}
	}
	return fmt.Sprintf("%s%s%04d", prefix, stamp, next)
}

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	QueryRow(query string, args ...interface{}) *sql.Row
	Query(query string, args ...interface{}) (*sql.Rows, error)
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// NS converts a *string to sql.NullString.
func NS(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// SP converts an sql.NullString to *string.
func SP(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
