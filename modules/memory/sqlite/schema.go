package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application. Timestamps are Unix
// nanoseconds so that ordering by created_at is exact.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS records (
		id                 TEXT    PRIMARY KEY,
		kind               TEXT    NOT NULL,
		partition_id       TEXT    NOT NULL,
		owner_id           TEXT    NOT NULL DEFAULT '',
		agent_id           TEXT    NOT NULL DEFAULT '',
		payload            TEXT    NOT NULL DEFAULT '{}',
		embedding          BLOB,
		embedding_degraded INTEGER NOT NULL DEFAULT 0,
		unique_key         TEXT,
		version            INTEGER NOT NULL,
		created_at         INTEGER NOT NULL,
		updated_at         INTEGER NOT NULL
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS idx_records_unique_key
		ON records(unique_key) WHERE unique_key IS NOT NULL`,

	`CREATE INDEX IF NOT EXISTS idx_records_partition
		ON records(partition_id, created_at DESC, id DESC)`,

	`CREATE INDEX IF NOT EXISTS idx_records_degraded
		ON records(embedding_degraded) WHERE embedding_degraded = 1`,

	`CREATE TABLE IF NOT EXISTS record_history (
		record_id  TEXT    NOT NULL,
		version    INTEGER NOT NULL,
		kind       TEXT    NOT NULL,
		payload    TEXT    NOT NULL,
		reason     TEXT    NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		PRIMARY KEY (record_id, version)
	)`,
}

// migrate creates or updates the database schema to the latest version.
// All DDL uses IF NOT EXISTS, making migration idempotent.
func migrate(ctx context.Context, db *sql.DB) error {
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
