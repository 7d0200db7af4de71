// Package store persists correlated telemetry in SQLite. It is the single
// shared resource behind both the correlation engine (mutations) and the
// analytics engine (reads): mutations are funneled through one write path
// and applied in single transactions, while analytical reads proceed
// concurrently under SQLite's snapshot isolation (WAL mode).
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite handles. All timestamps are stored as UnixNano
// integers; entity ids are caller-supplied strings except events.id.
// Mutations go through w, a handle capped at one connection so concurrent
// writers queue instead of racing for SQLite's single write lock; reads go
// through db, a normal pool, and proceed concurrently under WAL snapshots.
type Store struct {
	db *sql.DB
	w  *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema
// exists. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

	w, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite admits one writer at a time; a wider pool here only converts
	// lock waits into SQLITE_BUSY failures under concurrent ingestion.
	w.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := w.Exec(stmt); err != nil {
			w.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	// An in-memory database exists per connection, so tests share the single
	// write handle; file-backed stores get their own read pool.
	db := w
	if path != ":memory:" {
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("open sqlite read pool: %w", err)
		}
	}

	return &Store{db: db, w: w}, nil
}

// Close releases the database connections.
func (s *Store) Close() error {
	if s.db != s.w {
		if err := s.db.Close(); err != nil {
			s.w.Close()
			return err
		}
	}
	return s.w.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS agents (
		agent_id    TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		first_seen  INTEGER NOT NULL,
		last_seen   INTEGER NOT NULL,
		version     TEXT NOT NULL DEFAULT '',
		environment TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		agent_id   TEXT NOT NULL,
		start_time INTEGER NOT NULL,
		end_time   INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS traces (
		trace_id   TEXT PRIMARY KEY,
		agent_id   TEXT NOT NULL,
		start_time INTEGER,
		end_time   INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS spans (
		span_id        TEXT PRIMARY KEY,
		trace_id       TEXT NOT NULL,
		parent_span_id TEXT,
		root_span_id   TEXT NOT NULL,
		name           TEXT NOT NULL DEFAULT '',
		state          TEXT NOT NULL,
		start_time     INTEGER,
		end_time       INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_spans_trace ON spans(trace_id)`,
	`CREATE INDEX IF NOT EXISTS idx_spans_parent ON spans(parent_span_id)`,
	`CREATE TABLE IF NOT EXISTS events (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id       TEXT NOT NULL,
		session_id     TEXT,
		trace_id       TEXT,
		span_id        TEXT,
		parent_span_id TEXT,
		timestamp      INTEGER NOT NULL,
		name           TEXT NOT NULL,
		level          TEXT NOT NULL,
		event_type     TEXT NOT NULL,
		schema_version TEXT NOT NULL DEFAULT '1.0',
		attributes     TEXT NOT NULL DEFAULT '{}',
		counterpart_id INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_agent_ts ON events(agent_id, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_events_trace ON events(trace_id)`,
	`CREATE INDEX IF NOT EXISTS idx_events_span_ts ON events(span_id, timestamp)`,
	`CREATE TABLE IF NOT EXISTS llm_interactions (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id           INTEGER NOT NULL UNIQUE REFERENCES events(id) ON DELETE CASCADE,
		interaction_type   TEXT NOT NULL,
		vendor             TEXT NOT NULL DEFAULT '',
		model              TEXT NOT NULL DEFAULT '',
		request_timestamp  INTEGER,
		response_timestamp INTEGER,
		duration_ms        INTEGER,
		input_tokens       INTEGER,
		output_tokens      INTEGER,
		total_tokens       INTEGER,
		temperature        REAL,
		max_tokens         INTEGER,
		top_p              REAL,
		frequency_penalty  REAL,
		presence_penalty   REAL,
		response_id        TEXT NOT NULL DEFAULT '',
		stop_reason        TEXT NOT NULL DEFAULT '',
		status             TEXT NOT NULL DEFAULT '',
		request_data       TEXT NOT NULL DEFAULT '',
		response_content   TEXT NOT NULL DEFAULT '',
		extra              TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_llm_model ON llm_interactions(model)`,
	`CREATE TABLE IF NOT EXISTS tool_interactions (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id         INTEGER NOT NULL UNIQUE REFERENCES events(id) ON DELETE CASCADE,
		interaction_type TEXT NOT NULL,
		tool_name        TEXT NOT NULL DEFAULT '',
		tool_id          TEXT NOT NULL DEFAULT '',
		params           TEXT NOT NULL DEFAULT '',
		result           TEXT NOT NULL DEFAULT '',
		status           TEXT NOT NULL DEFAULT '',
		duration_ms      INTEGER,
		extra            TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE TABLE IF NOT EXISTS security_alerts (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id       INTEGER NOT NULL UNIQUE REFERENCES events(id) ON DELETE CASCADE,
		alert_level    TEXT NOT NULL DEFAULT '',
		keywords       TEXT NOT NULL DEFAULT '[]',
		content_sample TEXT NOT NULL DEFAULT '',
		extra          TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE TABLE IF NOT EXISTS security_alert_triggers (
		alert_id            INTEGER NOT NULL REFERENCES security_alerts(id) ON DELETE CASCADE,
		triggering_event_id INTEGER NOT NULL REFERENCES events(id) ON DELETE CASCADE,
		PRIMARY KEY (alert_id, triggering_event_id)
	)`,
	`CREATE TABLE IF NOT EXISTS framework_events (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id  INTEGER NOT NULL UNIQUE REFERENCES events(id) ON DELETE CASCADE,
		framework TEXT NOT NULL DEFAULT '',
		action    TEXT NOT NULL DEFAULT '',
		version   TEXT NOT NULL DEFAULT '',
		extra     TEXT NOT NULL DEFAULT '{}'
	)`,
}
