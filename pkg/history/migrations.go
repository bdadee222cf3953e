package history

import (
	"database/sql"
	"fmt"
)

var migrations = []string{
	// Migration 1: Initial schema
	`CREATE TABLE IF NOT EXISTS alert_history (
		id              TEXT PRIMARY KEY,
		threshold_id    TEXT NOT NULL,
		title           TEXT NOT NULL,
		message         TEXT NOT NULL,
		severity        TEXT NOT NULL CHECK(severity IN ('info', 'warning', 'critical')),
		metric          TEXT NOT NULL,
		current_value   REAL NOT NULL DEFAULT 0.0,
		threshold_value REAL NOT NULL DEFAULT 0.0,
		metadata        TEXT DEFAULT '{}',
		timestamp       DATETIME NOT NULL,
		acknowledged    INTEGER NOT NULL DEFAULT 0,
		resolved_at     DATETIME,
		delivery_failed INTEGER NOT NULL DEFAULT 0,
		created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_history_timestamp ON alert_history(timestamp);
	CREATE INDEX IF NOT EXISTS idx_history_severity ON alert_history(severity);
	CREATE INDEX IF NOT EXISTS idx_history_metric ON alert_history(metric);
	CREATE INDEX IF NOT EXISTS idx_history_threshold ON alert_history(threshold_id);

	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
}

// runMigrations applies pending schema migrations.
func runMigrations(db *sql.DB) error {
	// Ensure migration tracking table exists
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create migration table: %w", err)
	}

	var currentVersion int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("check migration version: %w", err)
	}

	for i := currentVersion; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("run migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", i+1); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}

	return nil
}
