package main

import (
	"database/sql"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// OpenDB opens (or creates) the SQLite database
func OpenDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates tables if they don't exist
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		locked INTEGER NOT NULL DEFAULT 0,
		builder TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		ended_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS frame_stats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		builder TEXT NOT NULL,
		entities INTEGER NOT NULL,
		nodes INTEGER NOT NULL,
		depth INTEGER NOT NULL,
		build_us INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_frame_stats_builder ON frame_stats(builder, created_at);
	CREATE INDEX IF NOT EXISTS idx_frame_stats_session ON frame_stats(session_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// GetSetting returns a setting value, or "" when unset
func (db *DB) GetSetting(key string) string {
	var value string
	if err := db.conn.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value); err != nil {
		return ""
	}
	return value
}

// SetSetting stores a setting value
func (db *DB) SetSetting(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}

// RecordSession stores a newly created session
func (db *DB) RecordSession(id, name string, locked bool, builder string) error {
	_, err := db.conn.Exec(
		"INSERT INTO sessions (id, name, locked, builder) VALUES (?, ?, ?, ?)",
		id, name, locked, builder,
	)
	return err
}

// EndSession marks a session as ended
func (db *DB) EndSession(id string) error {
	_, err := db.conn.Exec("UPDATE sessions SET ended_at = CURRENT_TIMESTAMP WHERE id = ?", id)
	return err
}

