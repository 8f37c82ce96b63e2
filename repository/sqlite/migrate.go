package sqlite

// migration is applied once at startup via (*DB).MustMigrate. Table
// style (STRICT, strftime-backed timestamp defaults) mirrors the
// teacher's discordwebhook/module.go migration.
const migration = `
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    printer_id TEXT NOT NULL,
    printer_type TEXT NOT NULL,
    job_name TEXT NOT NULL,
    filename TEXT,
    status TEXT NOT NULL,
    started_at INTEGER,
    ended_at INTEGER,
    estimated_duration_s INTEGER,
    actual_duration_s INTEGER,
    progress INTEGER NOT NULL DEFAULT 0,
    material_used_g REAL,
    material_cost REAL,
    power_cost REAL,
    is_business INTEGER NOT NULL DEFAULT 0,
    customer_info TEXT,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    notes TEXT NOT NULL DEFAULT ''
) STRICT;

CREATE UNIQUE INDEX IF NOT EXISTS jobs_dedup_idx
    ON jobs (printer_id, filename, started_at)
    WHERE filename IS NOT NULL AND started_at IS NOT NULL;

CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status);
CREATE INDEX IF NOT EXISTS jobs_printer_idx ON jobs (printer_id);

CREATE TABLE IF NOT EXISTS library_files (
    checksum TEXT PRIMARY KEY,
    filename TEXT NOT NULL,
    display_name TEXT,
    library_path TEXT NOT NULL,
    size_bytes INTEGER NOT NULL,
    file_type TEXT NOT NULL,
    status TEXT NOT NULL,
    added_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    last_modified INTEGER,
    last_analyzed INTEGER,
    is_duplicate INTEGER NOT NULL DEFAULT 0,
    duplicate_of_checksum TEXT,
    thumbnail BLOB,
    thumbnail_width INTEGER,
    thumbnail_height INTEGER,
    metadata TEXT,
    search_index TEXT NOT NULL DEFAULT ''
) STRICT;

CREATE TABLE IF NOT EXISTS library_file_sources (
    checksum TEXT NOT NULL REFERENCES library_files(checksum) ON DELETE CASCADE,
    source_type TEXT NOT NULL,
    source_id TEXT NOT NULL,
    original_path TEXT NOT NULL,
    source_name TEXT,
    manufacturer TEXT,
    printer_model TEXT,
    discovered_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    PRIMARY KEY (checksum, source_type, source_id, original_path)
) STRICT;

CREATE TABLE IF NOT EXISTS printers (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    host TEXT NOT NULL,
    port INTEGER NOT NULL DEFAULT 0,
    api_key TEXT,
    access_code TEXT,
    serial TEXT,
    is_active INTEGER NOT NULL DEFAULT 1,
    last_status TEXT,
    last_seen_at INTEGER
) STRICT;

CREATE TABLE IF NOT EXISTS notification_channels (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    webhook_url TEXT NOT NULL,
    topic TEXT,
    is_enabled INTEGER NOT NULL DEFAULT 1,
    subscriptions TEXT NOT NULL DEFAULT '[]'
) STRICT;

CREATE TABLE IF NOT EXISTS notification_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    channel_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    event_data TEXT,
    status TEXT NOT NULL,
    error TEXT,
    at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
) STRICT;

CREATE INDEX IF NOT EXISTS notification_history_at_idx ON notification_history (at);
CREATE INDEX IF NOT EXISTS notification_history_channel_idx ON notification_history (channel_id);

CREATE TABLE IF NOT EXISTS usage_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    event_type TEXT NOT NULL,
    payload TEXT,
    at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    submitted INTEGER NOT NULL DEFAULT 0
) STRICT;

CREATE INDEX IF NOT EXISTS usage_events_at_idx ON usage_events (at);

CREATE TABLE IF NOT EXISTS usage_settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) STRICT;

CREATE TABLE IF NOT EXISTS snapshots (
    id TEXT PRIMARY KEY,
    printer_id TEXT NOT NULL,
    job_id TEXT,
    captured_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    data BLOB NOT NULL,
    valid INTEGER NOT NULL DEFAULT 1,
    validation_error TEXT
) STRICT;

CREATE INDEX IF NOT EXISTS snapshots_printer_idx ON snapshots (printer_id);
CREATE INDEX IF NOT EXISTS snapshots_job_idx ON snapshots (job_id);
`
