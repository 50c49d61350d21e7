// Package db provides SQLite-based persistence for the engagic pipeline.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the SQL database connection.
type DB struct {
	*sql.DB
	path string
}

// Open opens or creates the unified SQLite database at the given path and
// applies migrations.
func Open(dbPath string) (*DB, error) {
	d, err := openRaw(dbPath)
	if err != nil {
		return nil, err
	}
	if err := d.migrate(); err != nil {
		d.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return d, nil
}

// openRaw opens a SQLite file with the pipeline pragmas but no schema.
func openRaw(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	// NORMAL is durable enough under WAL and much faster
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &DB{DB: db, path: dbPath}, nil
}

// migrate runs database migrations.
func (d *DB) migrate() error {
	// Create migrations table
	_, err := d.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Get current version
	var version int
	row := d.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&version); err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	// Apply migrations
	migrations := []struct {
		version int
		sql     string
	}{
		{1, migration1},
		{2, migration2},
		{3, migration3},
		{4, migration4},
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}

		if _, err := d.Exec(m.sql); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}

		if _, err := d.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
	}

	return nil
}

// Migration 1: Cities and zipcodes
const migration1 = `
CREATE TABLE IF NOT EXISTS cities (
    banana TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    state TEXT NOT NULL,
    vendor TEXT NOT NULL,
    vendor_slug TEXT NOT NULL,
    county TEXT,
    status TEXT NOT NULL DEFAULT 'active',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(name, state)
);

CREATE INDEX IF NOT EXISTS idx_cities_vendor ON cities(vendor);
CREATE INDEX IF NOT EXISTS idx_cities_status ON cities(status);

CREATE TABLE IF NOT EXISTS city_zipcodes (
    zipcode TEXT NOT NULL,
    city_banana TEXT NOT NULL,
    is_primary INTEGER DEFAULT 0,
    PRIMARY KEY (zipcode, city_banana),
    FOREIGN KEY (city_banana) REFERENCES cities(banana) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_city_zipcodes_banana ON city_zipcodes(city_banana);
`

// Migration 2: Meetings and agenda items
const migration2 = `
CREATE TABLE IF NOT EXISTS meetings (
    id TEXT PRIMARY KEY,
    city_banana TEXT NOT NULL,
    title TEXT NOT NULL,
    date DATETIME,
    agenda_url TEXT,
    packet_url TEXT,
    summary TEXT,
    participation TEXT,
    status TEXT,
    topics TEXT,
    processing_status TEXT NOT NULL DEFAULT 'pending',
    processing_method TEXT,
    processing_time REAL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (city_banana) REFERENCES cities(banana)
);

CREATE INDEX IF NOT EXISTS idx_meetings_city ON meetings(city_banana);
CREATE INDEX IF NOT EXISTS idx_meetings_date ON meetings(date);
CREATE INDEX IF NOT EXISTS idx_meetings_processing ON meetings(processing_status);

CREATE TABLE IF NOT EXISTS agenda_items (
    id TEXT PRIMARY KEY,
    meeting_id TEXT NOT NULL,
    title TEXT NOT NULL,
    sequence INTEGER NOT NULL DEFAULT 0,
    attachments TEXT,
    summary TEXT,
    topics TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (meeting_id) REFERENCES meetings(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_agenda_items_meeting ON agenda_items(meeting_id);
`

// Migration 3: Processing queue and packet cache
const migration3 = `
CREATE TABLE IF NOT EXISTS processing_queue (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source_url TEXT NOT NULL UNIQUE,
    meeting_id TEXT NOT NULL,
    city_banana TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    priority INTEGER NOT NULL DEFAULT 0,
    retry_count INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    processing_metadata TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    started_at DATETIME,
    completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_queue_status ON processing_queue(status);
CREATE INDEX IF NOT EXISTS idx_queue_priority ON processing_queue(status, priority DESC, id);

CREATE TABLE IF NOT EXISTS processing_cache (
    packet_url TEXT PRIMARY KEY,
    content_hash TEXT,
    processing_method TEXT NOT NULL,
    processing_time REAL NOT NULL DEFAULT 0,
    cache_hit_count INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    last_accessed DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// Migration 4: City sync bookkeeping for the adaptive scheduler
const migration4 = `
ALTER TABLE cities ADD COLUMN last_synced DATETIME;
`

// Close closes the database connection.
func (d *DB) Close() error {
	return d.DB.Close()
}
