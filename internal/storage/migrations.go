package storage

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application
// expects. If the database cannot be migrated to this version, it's a
// fatal error.
const ExpectedSchemaVersion = 2

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS sessions (
					id TEXT PRIMARY KEY,
					status TEXT NOT NULL,
					amount_tolerance TEXT NOT NULL,
					date_tolerance_days INTEGER NOT NULL,
					match_fields TEXT NOT NULL,
					duplicate_strictness TEXT NOT NULL,
					created_at DATETIME NOT NULL,
					closed_at DATETIME
				)`,

				`CREATE TABLE IF NOT EXISTS records (
					session_id TEXT NOT NULL,
					id TEXT NOT NULL,
					date DATETIME NOT NULL,
					description TEXT NOT NULL,
					amount TEXT NOT NULL,
					currency TEXT NOT NULL,
					type TEXT NOT NULL,
					source TEXT NOT NULL,
					status TEXT NOT NULL,
					status_reason TEXT NOT NULL DEFAULT '',
					matched_with TEXT NOT NULL DEFAULT '',
					duplicate_of TEXT NOT NULL DEFAULT '',
					version INTEGER NOT NULL DEFAULT 0,
					import_seq INTEGER NOT NULL,
					PRIMARY KEY (session_id, id),
					FOREIGN KEY (session_id) REFERENCES sessions(id)
				)`,
				`CREATE INDEX idx_records_session_status ON records(session_id, status)`,
				`CREATE INDEX idx_records_session_seq ON records(session_id, import_seq)`,

				`CREATE TABLE IF NOT EXISTS analysis_results (
					id TEXT PRIMARY KEY,
					session_id TEXT NOT NULL,
					record_id TEXT NOT NULL,
					confidence REAL NOT NULL,
					category TEXT NOT NULL,
					severity TEXT NOT NULL,
					suggested_action TEXT NOT NULL DEFAULT '',
					related_record_ids TEXT NOT NULL DEFAULT '',
					created_at DATETIME NOT NULL,
					FOREIGN KEY (session_id, record_id) REFERENCES records(session_id, id)
				)`,
				`CREATE INDEX idx_analysis_results_record ON analysis_results(session_id, record_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Audit log for operator overrides",
		Up: func(tx *sql.Tx) error {
			query := `CREATE TABLE IF NOT EXISTS audit_log (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL,
				record_id TEXT,
				action TEXT NOT NULL,
				detail TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL
			)`
			if _, err := tx.Exec(query); err != nil {
				return fmt.Errorf("failed to create audit_log: %w", err)
			}
			if _, err := tx.Exec(`CREATE INDEX idx_audit_log_session ON audit_log(session_id)`); err != nil {
				return fmt.Errorf("failed to index audit_log: %w", err)
			}
			return nil
		},
	},
}

// Migrate brings the database schema up to the expected version.
func (s *SQLiteStore) Migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.Version, err)
		}
		if err := m.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, description) VALUES (?, ?)`, m.Version, m.Description); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}

		slog.Info("Applied schema migration",
			"version", m.Version,
			"description", m.Description)
	}

	return nil
}
