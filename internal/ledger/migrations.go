package ledger

import (
	"context"
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    command TEXT NOT NULL,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    status TEXT NOT NULL,
    error TEXT
);

CREATE TABLE IF NOT EXISTS extractions (
    run_id TEXT NOT NULL REFERENCES runs(id),
    dataset TEXT NOT NULL,
    region_id TEXT NOT NULL,
    month TEXT NOT NULL,
    scale INTEGER,
    empty BOOLEAN NOT NULL,
    recorded_at TEXT NOT NULL,
    PRIMARY KEY (run_id, dataset, region_id, month)
);

CREATE TABLE IF NOT EXISTS attempts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id),
    dataset TEXT NOT NULL,
    region_id TEXT NOT NULL,
    month TEXT NOT NULL,
    scale INTEGER NOT NULL,
    outcome TEXT NOT NULL,
    reason TEXT,
    duration_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS flushes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id),
    dataset TEXT NOT NULL,
    year INTEGER NOT NULL,
    records INTEGER NOT NULL,
    path TEXT NOT NULL,
    flushed_at TEXT NOT NULL
);
`,
	},
	{
		Version:     2,
		Description: "Index empty extractions",
		SQL: `
CREATE INDEX IF NOT EXISTS idx_extractions_empty ON extractions(run_id, empty);
CREATE INDEX IF NOT EXISTS idx_attempts_run ON attempts(run_id, dataset);
`,
	},
}

// Migrate applies pending schema migrations in version order.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		s.logger.Info("applying ledger migration", "version", m.Version, "description", m.Description)

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, formatTimestamp(now()),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func (s *Store) ensureMigrationsTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at TEXT
		)
	`)
	return err
}

func (s *Store) appliedMigrations(ctx context.Context) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}
