package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

// CurrentSchemaVersion defines the current schema version for migration
// support.
const CurrentSchemaVersion = 1

// initializeSchemaWithMigrations ensures the database schema is at the
// current version.
func initializeSchemaWithMigrations(db *sql.DB) error {
	currentVersion, err := getSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	if currentVersion == 0 {
		return createSchema(db)
	}
	if currentVersion == CurrentSchemaVersion {
		return nil
	}
	if currentVersion > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", currentVersion, CurrentSchemaVersion)
	}

	return runMigrations(db, currentVersion, CurrentSchemaVersion)
}

func runMigrations(db *sql.DB, fromVersion, toVersion int) error {
	for version := fromVersion + 1; version <= toVersion; version++ {
		if err := runMigration(db, version); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}
		if err := setSchemaVersion(db, version); err != nil {
			return fmt.Errorf("failed to update schema version to %d: %w", version, err)
		}
	}
	return nil
}

func runMigration(_ *sql.DB, version int) error {
	// Version 1 is the initial schema; migrations land here as the schema
	// evolves.
	return fmt.Errorf("unknown migration version: %d", version)
}

// createSchema creates all required tables and indices.
func createSchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		`CREATE TABLE IF NOT EXISTS batches (
			id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			total_ms INTEGER NOT NULL DEFAULT 0,
			images_total INTEGER NOT NULL DEFAULT 0,
			images_done INTEGER NOT NULL DEFAULT 0,
			images_failed INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		`CREATE TABLE IF NOT EXISTS images (
			task_id TEXT PRIMARY KEY,
			batch_id TEXT NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
			image_ref TEXT NOT NULL,
			image_id TEXT,
			stage TEXT NOT NULL,
			failed_stage TEXT,
			error TEXT,
			token_count INTEGER NOT NULL DEFAULT 0,
			elapsed_ms INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS tokens (
			id TEXT NOT NULL,
			batch_id TEXT NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
			task_id TEXT NOT NULL REFERENCES images(task_id) ON DELETE CASCADE,
			type TEXT NOT NULL,
			value TEXT NOT NULL,
			confidence REAL NOT NULL,
			source_count INTEGER NOT NULL DEFAULT 1,
			weighted_confidence REAL NOT NULL DEFAULT 0,
			provenance TEXT,
			metadata TEXT,
			PRIMARY KEY (id, batch_id)
		)`,
	}
	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_images_batch ON images(batch_id)",
		"CREATE INDEX IF NOT EXISTS idx_tokens_batch ON tokens(batch_id)",
		"CREATE INDEX IF NOT EXISTS idx_tokens_task ON tokens(task_id)",
		"CREATE INDEX IF NOT EXISTS idx_tokens_type ON tokens(batch_id, type)",
	}
	for _, index := range indices {
		if _, err := db.Exec(index); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return setSchemaVersion(db, CurrentSchemaVersion)
}

// getSchemaVersion returns 0 for an empty database.
func getSchemaVersion(db *sql.DB) (int, error) {
	var exists int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("failed to check schema_version table: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var version int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func setSchemaVersion(db *sql.DB, version int) error {
	if _, err := db.Exec("INSERT OR REPLACE INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}
