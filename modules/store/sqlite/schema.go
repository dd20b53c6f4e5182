package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS collections (
		id             INTEGER PRIMARY KEY,
		name           TEXT    NOT NULL,
		group_strategy TEXT    NOT NULL DEFAULT 'pair',
		group_size     INTEGER NOT NULL DEFAULT 2,
		selection_mode TEXT    NOT NULL DEFAULT 'auto',
		help_level     INTEGER NOT NULL DEFAULT 0,
		locale         TEXT    NOT NULL DEFAULT 'en'
	)`,

	`CREATE TABLE IF NOT EXISTS problems (
		id                INTEGER PRIMARY KEY,
		collection_id     INTEGER NOT NULL REFERENCES collections(id),
		seq               INTEGER NOT NULL,
		statement         TEXT    NOT NULL,
		max_resolution_ms INTEGER NOT NULL DEFAULT 300000,
		UNIQUE (collection_id, seq)
	)`,

	`CREATE TABLE IF NOT EXISTS problem_hints (
		problem_id INTEGER NOT NULL REFERENCES problems(id),
		level      INTEGER NOT NULL,
		hint       TEXT    NOT NULL,
		PRIMARY KEY (problem_id, level)
	)`,

	`CREATE TABLE IF NOT EXISTS collection_access (
		collection_id INTEGER NOT NULL REFERENCES collections(id),
		user          TEXT    NOT NULL,
		PRIMARY KEY (collection_id, user)
	)`,

	`CREATE TABLE IF NOT EXISTS room_members (
		room_id       TEXT    NOT NULL,
		user          TEXT    NOT NULL,
		collection_id INTEGER NOT NULL,
		created_at    TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		PRIMARY KEY (room_id, user)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_room_members_user ON room_members(user)`,

	`CREATE TABLE IF NOT EXISTS realized_problems (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		problem_id        INTEGER NOT NULL,
		created_at        TEXT    NOT NULL,
		finished_by_timer INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS reports (
		id                  INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id             TEXT    NOT NULL,
		user                TEXT    NOT NULL,
		realized_problem_id INTEGER NOT NULL,
		exercise_index      INTEGER NOT NULL,
		kind                TEXT    NOT NULL,
		results             TEXT    NOT NULL DEFAULT '{}',
		created_at          TEXT    NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_reports_room_exercise ON reports(room_id, exercise_index)`,
}

// migrate creates or updates the database schema to the latest version.
// All DDL uses IF NOT EXISTS, making migration idempotent.
func migrate(db *sql.DB) error {
	ctx := context.TODO()

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("sqlite: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read schema version: %w", err)
	}

	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("sqlite: record schema version: %w", err)
	}

	return nil
}
