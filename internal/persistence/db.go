// Package persistence provides SQLite-backed storage for companion state:
// entities, versioned hormone snapshots, the hormone audit trail, the XP
// ledger and stage transitions.
package persistence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/tamagochai/internal/companion"
)

// DB wraps a SQLite connection. Its embedded queries run outside any
// transaction; Atomically hands fn a transaction-scoped set.
type DB struct {
	conn *sqlx.DB
	queries
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	conn, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer keeps SQLite transactions from tripping over each other.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, queries: queries{ext: conn}}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		last_interaction_at INTEGER NOT NULL,
		total_messages INTEGER NOT NULL DEFAULT 0,
		total_xp INTEGER NOT NULL DEFAULT 0,
		stage TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS hormone_state (
		entity_id TEXT PRIMARY KEY REFERENCES entities(id) ON DELETE CASCADE,
		dopamine REAL NOT NULL,
		serotonin REAL NOT NULL,
		oxytocin REAL NOT NULL,
		cortisol REAL NOT NULL,
		adrenaline REAL NOT NULL,
		endorphins REAL NOT NULL,
		last_decay INTEGER NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS hormone_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
		dopamine REAL NOT NULL,
		serotonin REAL NOT NULL,
		oxytocin REAL NOT NULL,
		cortisol REAL NOT NULL,
		adrenaline REAL NOT NULL,
		endorphins REAL NOT NULL,
		trigger_label TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS xp_events (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
		source TEXT NOT NULL,
		amount INTEGER NOT NULL,
		base_amount INTEGER NOT NULL,
		multiplier REAL NOT NULL,
		metadata TEXT NOT NULL DEFAULT '',
		timestamp INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS evolution_events (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
		from_stage TEXT NOT NULL,
		to_stage TEXT NOT NULL,
		xp_at_transition INTEGER NOT NULL,
		timestamp INTEGER NOT NULL,
		celebrated INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_hormone_history_entity ON hormone_history(entity_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_xp_events_entity ON xp_events(entity_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_evolution_events_entity ON evolution_events(entity_id, celebrated);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// Atomically runs fn inside a transaction. The transaction commits only if
// fn returns nil.
func (db *DB) Atomically(ctx context.Context, fn func(companion.Repo) error) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(queries{ext: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SaveMeta stores a key-value pair in metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM meta WHERE key = ?", key)
	return value, err
}

// Stats returns row counts per table, for startup logging.
func (db *DB) Stats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64)
	for _, table := range []string{"entities", "hormone_history", "xp_events", "evolution_events"} {
		var n int64
		if err := db.conn.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+table); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		stats[table] = n
	}
	slog.Debug("database stats", "entities", stats["entities"], "xp_events", stats["xp_events"])
	return stats, nil
}
