package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SchemaVersion is the version written by this build.
const SchemaVersion = 1

// schemaV1 is the initial schema for the SQLite recorder.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    scenario TEXT NOT NULL,
    seed INTEGER NOT NULL,
    step_seconds REAL NOT NULL,
    started_at TEXT NOT NULL
);

-- One row per recorded step
CREATE TABLE IF NOT EXISTS frames (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    step INTEGER NOT NULL,
    time REAL NOT NULL,
    nodes INTEGER NOT NULL,
    vesicles INTEGER NOT NULL,
    spawned TEXT,  -- JSON array
    removed TEXT,  -- JSON array
    PRIMARY KEY (run_id, step)
);

-- Concentration samples of changed Updatables
CREATE TABLE IF NOT EXISTS samples (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    step INTEGER NOT NULL,
    time REAL NOT NULL,
    updatable TEXT NOT NULL,
    subsection TEXT NOT NULL,
    entity TEXT NOT NULL,
    value REAL NOT NULL,
    PRIMARY KEY (run_id, updatable, subsection, entity, step)
);
CREATE INDEX IF NOT EXISTS idx_samples_step ON samples(run_id, step);

-- Schema version
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// InitSchema creates the recorder tables on a fresh database. An existing
// database is checked for corruption and must not be newer than this build.
func InitSchema(ctx context.Context, db *sql.DB) error {
	version, err := getSchemaVersion(ctx, db)
	if err != nil {
		if err := createSchema(ctx, db); err != nil {
			return fmt.Errorf("create trajectory schema: %w", err)
		}
		return nil
	}
	if version > SchemaVersion {
		return fmt.Errorf("trajectory store schema %d is newer than supported version %d", version, SchemaVersion)
	}
	if err := ValidateIntegrity(ctx, db); err != nil {
		return fmt.Errorf("trajectory store is damaged: %w", err)
	}
	return nil
}

// getSchemaVersion fails when schema_version is missing, which marks a
// database that was never initialised.
func getSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return 0, err
	}
	return int(version.Int64), nil
}

func createSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schemaV1); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, applied_at) VALUES (?, datetime('now'))`,
		SchemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// ValidateIntegrity runs PRAGMA integrity_check and PRAGMA foreign_key_check.
// Orphaned frames or samples are reported by the second check.
func ValidateIntegrity(ctx context.Context, db *sql.DB) error {
	problems, err := pragmaRows(ctx, db, "integrity_check")
	if err != nil {
		return err
	}
	if len(problems) != 1 || problems[0] != "ok" {
		return fmt.Errorf("integrity_check: %s", strings.Join(problems, "; "))
	}

	orphans, err := pragmaRows(ctx, db, "foreign_key_check")
	if err != nil {
		return err
	}
	if len(orphans) > 0 {
		return fmt.Errorf("foreign_key_check: %d orphaned rows (%s)", len(orphans), strings.Join(orphans, "; "))
	}
	return nil
}

// pragmaRows runs a checking pragma and flattens each result row into one
// space-separated string.
func pragmaRows(ctx context.Context, db *sql.DB, pragma string) ([]string, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA "+pragma)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", pragma, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", pragma, err)
	}
	var out []string
	for rows.Next() {
		vals := make([]sql.NullString, len(cols))
		dest := make([]interface{}, len(cols))
		for i := range vals {
			dest[i] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
		parts := make([]string, len(vals))
		for i, v := range vals {
			parts[i] = v.String
		}
		out = append(out, strings.Join(parts, " "))
	}
	return out, rows.Err()
}
