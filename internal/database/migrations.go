package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    external_id TEXT UNIQUE NOT NULL,
    description TEXT NOT NULL,
    category_code INTEGER NOT NULL,
    category_name TEXT NOT NULL DEFAULT '',
    region_code TEXT NOT NULL DEFAULT '',
    city TEXT NOT NULL DEFAULT '',
    agency_name TEXT NOT NULL DEFAULT '',
    agency_cnpj TEXT NOT NULL DEFAULT '',
    estimated_value REAL,
    status_name TEXT NOT NULL DEFAULT '',
    published_at TEXT,
    opening_at TEXT,
    closing_at TEXT,
    origin_url TEXT,
    extra_info TEXT,
    raw_json TEXT,
    matched INTEGER NOT NULL DEFAULT 0,
    match_score REAL,
    analyzed INTEGER NOT NULL DEFAULT 0,
    created_at TEXT DEFAULT (datetime('now')),
    updated_at TEXT DEFAULT (datetime('now'))
);

CREATE VIRTUAL TABLE IF NOT EXISTS records_fts USING fts5(
    description,
    agency_name,
    city,
    content='records',
    content_rowid='id'
);

CREATE TRIGGER IF NOT EXISTS records_ai AFTER INSERT ON records BEGIN
    INSERT INTO records_fts(rowid, description, agency_name, city)
    VALUES (new.id, new.description, new.agency_name, new.city);
END;

CREATE TRIGGER IF NOT EXISTS records_ad AFTER DELETE ON records BEGIN
    INSERT INTO records_fts(records_fts, rowid, description, agency_name, city)
    VALUES ('delete', old.id, old.description, old.agency_name, old.city);
END;

CREATE TRIGGER IF NOT EXISTS records_au AFTER UPDATE ON records BEGIN
    INSERT INTO records_fts(records_fts, rowid, description, agency_name, city)
    VALUES ('delete', old.id, old.description, old.agency_name, old.city);
    INSERT INTO records_fts(rowid, description, agency_name, city)
    VALUES (new.id, new.description, new.agency_name, new.city);
END;

CREATE TABLE IF NOT EXISTS alerts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    keywords TEXT NOT NULL,
    regions TEXT,
    categories TEXT,
    value_min REAL,
    value_max REAL,
    channels TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 1,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS sent_notifications (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    alert_id INTEGER NOT NULL REFERENCES alerts(id) ON DELETE CASCADE,
    record_id TEXT NOT NULL REFERENCES records(external_id),
    channel TEXT NOT NULL,
    sent_at TEXT DEFAULT (datetime('now')),
    UNIQUE (alert_id, record_id, channel)
);

CREATE TABLE IF NOT EXISTS score_cache (
    alert_id INTEGER NOT NULL REFERENCES alerts(id) ON DELETE CASCADE,
    record_id TEXT NOT NULL REFERENCES records(external_id),
    score INTEGER NOT NULL CHECK (score BETWEEN 0 AND 100),
    rationale TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL,
    created_at TEXT DEFAULT (datetime('now')),
    PRIMARY KEY (alert_id, record_id)
);

CREATE TABLE IF NOT EXISTS collection_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    cycle_id TEXT NOT NULL,
    category_code INTEGER NOT NULL,
    region_code TEXT NOT NULL DEFAULT '',
    date_from TEXT NOT NULL,
    date_to TEXT NOT NULL,
    total INTEGER NOT NULL DEFAULT 0,
    new_count INTEGER NOT NULL DEFAULT 0,
    updated_count INTEGER NOT NULL DEFAULT 0,
    success INTEGER NOT NULL DEFAULT 1,
    error_message TEXT,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    started_at TEXT NOT NULL,
    finished_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    kind TEXT NOT NULL,
    model TEXT NOT NULL,
    input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    cost_usd REAL NOT NULL DEFAULT 0,
    day TEXT NOT NULL,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS analyses (
    record_id TEXT PRIMARY KEY REFERENCES records(external_id),
    summary TEXT NOT NULL,
    difficulty TEXT,
    next_step TEXT,
    raw_response TEXT,
    model TEXT NOT NULL,
    tokens INTEGER NOT NULL DEFAULT 0,
    cost_usd REAL NOT NULL DEFAULT 0,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS company_documents (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    kind TEXT NOT NULL,
    name TEXT NOT NULL,
    issuer TEXT NOT NULL DEFAULT '',
    expires_at TEXT,
    status TEXT NOT NULL DEFAULT 'valid',
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS chat_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_records_region ON records(region_code);
CREATE INDEX IF NOT EXISTS idx_records_category ON records(category_code);
CREATE INDEX IF NOT EXISTS idx_records_published ON records(published_at);
CREATE INDEX IF NOT EXISTS idx_records_closing ON records(closing_at);
CREATE INDEX IF NOT EXISTS idx_records_matched ON records(matched);
CREATE INDEX IF NOT EXISTS idx_records_value ON records(estimated_value);
CREATE INDEX IF NOT EXISTS idx_sent_alert_channel ON sent_notifications(alert_id, channel);
CREATE INDEX IF NOT EXISTS idx_runs_cycle ON collection_runs(cycle_id);
CREATE INDEX IF NOT EXISTS idx_usage_day_kind ON usage_events(day, kind);
CREATE INDEX IF NOT EXISTS idx_chat_created ON chat_history(created_at);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
