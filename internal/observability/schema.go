// Package observability keeps an optional SQLite log of poll cycles and
// process heartbeats. It records what the watcher did, never the watched
// document itself.
package observability

import "database/sql"

// Schema is the DDL for the observability tables.
const Schema = `
CREATE TABLE IF NOT EXISTS poll_cycles (
    cycle_id TEXT PRIMARY KEY,
    source TEXT NOT NULL DEFAULT '',
    outcome TEXT NOT NULL,
    snapshot_id TEXT,
    added INTEGER NOT NULL DEFAULT 0,
    edited INTEGER NOT NULL DEFAULT 0,
    removed INTEGER NOT NULL DEFAULT 0,
    fragments INTEGER NOT NULL DEFAULT 0,
    started_at INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_poll_cycles_started
    ON poll_cycles(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_poll_cycles_outcome
    ON poll_cycles(outcome, started_at DESC);

CREATE TABLE IF NOT EXISTS heartbeats (
    heartbeat_id TEXT PRIMARY KEY DEFAULT ('hb_' || hex(randomblob(16))),
    worker_name TEXT NOT NULL,
    source TEXT NOT NULL DEFAULT '',
    hostname TEXT NOT NULL,
    pid INTEGER NOT NULL,
    beat_at INTEGER NOT NULL,
    cycles INTEGER NOT NULL DEFAULT 0,
    last_cycle_id TEXT,
    last_outcome TEXT,
    goroutines INTEGER NOT NULL DEFAULT 0,
    heap_alloc_mb REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_heartbeats_worker_beat
    ON heartbeats(worker_name, beat_at DESC);
`

// Init applies the schema.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
