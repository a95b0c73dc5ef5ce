// Package store persists observed peers and delivered payloads to SQLite,
// purely for operational visibility; the transport itself is stateless
// across restarts.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// DB wraps *sql.DB with domain helpers.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the SQLite file at path with WAL journal mode.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000", path)
	raw, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := raw.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	// Limit writer concurrency to 1; SQLite WAL allows concurrent readers.
	raw.SetMaxOpenConns(1)
	return &DB{raw}, nil
}

// Migrate applies the embedded DDL schema to the database. It is
// idempotent.
func Migrate(db *DB) error {
	for _, stmt := range []string{ddlPeers, ddlDeliveries} {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

const ddlPeers = `
CREATE TABLE IF NOT EXISTS peers (
    address       INTEGER PRIMARY KEY,
    last_beacon_at INTEGER,              -- Unix millis, NULL if never beaconed
    last_seen_at   INTEGER NOT NULL       -- Unix millis
);
`

const ddlDeliveries = `
CREATE TABLE IF NOT EXISTS deliveries (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    address     INTEGER NOT NULL,
    length      INTEGER NOT NULL,
    received_at INTEGER NOT NULL          -- Unix millis
);
CREATE INDEX IF NOT EXISTS idx_deliveries_address ON deliveries (address);
`

// RecordBeacon upserts the last-beacon and last-seen timestamps for
// address to now.
func (db *DB) RecordBeacon(address uint32, now time.Time) error {
	millis := now.UnixMilli()
	_, err := db.Exec(`
		INSERT INTO peers (address, last_beacon_at, last_seen_at) VALUES (?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET last_beacon_at = excluded.last_beacon_at, last_seen_at = excluded.last_seen_at
	`, address, millis, millis)
	if err != nil {
		return fmt.Errorf("store: record beacon: %w", err)
	}
	return nil
}

// RecordDelivery upserts address's last-seen timestamp and inserts a
// delivery row of the given payload length.
func (db *DB) RecordDelivery(address uint32, length int, now time.Time) error {
	millis := now.UnixMilli()
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("store: record delivery: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO peers (address, last_seen_at) VALUES (?, ?)
		ON CONFLICT(address) DO UPDATE SET last_seen_at = excluded.last_seen_at
	`, address, millis); err != nil {
		return fmt.Errorf("store: record delivery peer: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO deliveries (address, length, received_at) VALUES (?, ?, ?)
	`, address, length, millis); err != nil {
		return fmt.Errorf("store: record delivery row: %w", err)
	}
	return tx.Commit()
}

// PeerSummary is one row of the peers table.
type PeerSummary struct {
	Address      uint32
	LastBeaconAt *time.Time
	LastSeenAt   time.Time
}

// Peers returns every known peer ordered by most recently seen first.
func (db *DB) Peers() ([]PeerSummary, error) {
	rows, err := db.Query(`SELECT address, last_beacon_at, last_seen_at FROM peers ORDER BY last_seen_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list peers: %w", err)
	}
	defer rows.Close()

	var out []PeerSummary
	for rows.Next() {
		var (
			address      uint32
			lastBeaconAt sql.NullInt64
			lastSeenAt   int64
		)
		if err := rows.Scan(&address, &lastBeaconAt, &lastSeenAt); err != nil {
			return nil, fmt.Errorf("store: scan peer: %w", err)
		}
		summary := PeerSummary{Address: address, LastSeenAt: time.UnixMilli(lastSeenAt)}
		if lastBeaconAt.Valid {
			t := time.UnixMilli(lastBeaconAt.Int64)
			summary.LastBeaconAt = &t
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}
