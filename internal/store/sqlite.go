package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// timeLayout is RFC 3339 with fixed nanoseconds so stored times sort as
// text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteRecorder implements Recorder on a SQLite database file.
type SQLiteRecorder struct {
	mu     sync.Mutex
	db     *sql.DB
	dbPath string
}

// NewSQLiteRecorder opens or creates the database at path.
func NewSQLiteRecorder(path string) (*SQLiteRecorder, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with single writer
	db.SetMaxOpenConns(1)

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteRecorder{db: db, dbPath: path}, nil
}

// Path returns the database file.
func (s *SQLiteRecorder) Path() string {
	return s.dbPath
}

// DB exposes the underlying database for ad hoc queries.
func (s *SQLiteRecorder) DB() *sql.DB {
	return s.db
}

// BeginRun registers a run.
func (s *SQLiteRecorder) BeginRun(ctx context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	exists, err := s.runExists(ctx, run.ID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrRunExists, run.ID)
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, scenario, seed, step_seconds, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Scenario, run.Seed, run.StepSeconds, run.StartedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// RecordFrame stores one step summary, replacing an earlier frame for the
// same step.
func (s *SQLiteRecorder) RecordFrame(ctx context.Context, f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireRun(ctx, f.RunID); err != nil {
		return err
	}
	spawned, err := marshalIDs(f.Spawned)
	if err != nil {
		return err
	}
	removed, err := marshalIDs(f.Removed)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO frames (run_id, step, time, nodes, vesicles, spawned, removed)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.RunID, int64(f.Step), f.Time, f.Nodes, f.Vesicles, spawned, removed)
	if err != nil {
		return fmt.Errorf("failed to insert frame: %w", err)
	}
	return nil
}

// RecordSamples stores samples in one transaction.
func (s *SQLiteRecorder) RecordSamples(ctx context.Context, samples []Sample) error {
	if len(samples) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	checked := make(map[string]bool)
	for _, sm := range samples {
		if checked[sm.RunID] {
			continue
		}
		if err := s.requireRun(ctx, sm.RunID); err != nil {
			return err
		}
		checked[sm.RunID] = true
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO samples (run_id, step, time, updatable, subsection, entity, value)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare sample insert: %w", err)
	}
	defer stmt.Close()

	for _, sm := range samples {
		if _, err := stmt.ExecContext(ctx, sm.RunID, int64(sm.Step), sm.Time, sm.Updatable, sm.Subsection, sm.Entity, sm.Value); err != nil {
			return fmt.Errorf("failed to insert sample: %w", err)
		}
	}

	return tx.Commit()
}

// Runs returns all runs ordered by start time.
func (s *SQLiteRecorder) Runs(ctx context.Context) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scenario, seed, step_seconds, started_at FROM runs ORDER BY started_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started string
		if err := rows.Scan(&r.ID, &r.Scenario, &r.Seed, &r.StepSeconds, &started); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("failed to parse start time of run %s: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Frames returns the frames of a run ordered by step.
func (s *SQLiteRecorder) Frames(ctx context.Context, runID string) ([]Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT step, time, nodes, vesicles, spawned, removed FROM frames WHERE run_id = ? ORDER BY step`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query frames: %w", err)
	}
	defer rows.Close()

	var frames []Frame
	for rows.Next() {
		f := Frame{RunID: runID}
		var step int64
		var spawned, removed sql.NullString
		if err := rows.Scan(&step, &f.Time, &f.Nodes, &f.Vesicles, &spawned, &removed); err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}
		f.Step = uint64(step)
		if f.Spawned, err = unmarshalIDs(spawned); err != nil {
			return nil, err
		}
		if f.Removed, err = unmarshalIDs(removed); err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, rows.Err()
}

// Series returns one time series ordered by step.
func (s *SQLiteRecorder) Series(ctx context.Context, runID string, key SeriesKey) ([]Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT step, time, updatable, subsection, entity, value FROM samples
		 WHERE run_id = ? AND updatable = ? AND subsection = ? AND entity = ?
		 ORDER BY step`,
		runID, key.Updatable, key.Subsection, key.Entity)
	if err != nil {
		return nil, fmt.Errorf("failed to query series: %w", err)
	}
	defer rows.Close()
	return scanSamples(rows, runID)
}

// Final returns the last recorded sample of every series.
func (s *SQLiteRecorder) Final(ctx context.Context, runID string) ([]Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.step, s.time, s.updatable, s.subsection, s.entity, s.value
		 FROM samples s
		 JOIN (
		     SELECT updatable, subsection, entity, MAX(step) AS step
		     FROM samples WHERE run_id = ?
		     GROUP BY updatable, subsection, entity
		 ) latest
		 ON s.updatable = latest.updatable AND s.subsection = latest.subsection
		    AND s.entity = latest.entity AND s.step = latest.step
		 WHERE s.run_id = ?
		 ORDER BY s.updatable, s.subsection, s.entity`,
		runID, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query final samples: %w", err)
	}
	defer rows.Close()
	return scanSamples(rows, runID)
}

// Close closes the database.
func (s *SQLiteRecorder) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *SQLiteRecorder) runExists(ctx context.Context, runID string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, runID).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to look up run: %w", err)
	}
	return count > 0, nil
}

func (s *SQLiteRecorder) requireRun(ctx context.Context, runID string) error {
	exists, err := s.runExists(ctx, runID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

func scanSamples(rows *sql.Rows, runID string) ([]Sample, error) {
	var samples []Sample
	for rows.Next() {
		sm := Sample{RunID: runID}
		var step int64
		if err := rows.Scan(&step, &sm.Time, &sm.Updatable, &sm.Subsection, &sm.Entity, &sm.Value); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		sm.Step = uint64(step)
		samples = append(samples, sm)
	}
	return samples, rows.Err()
}

func marshalIDs(ids []string) (sql.NullString, error) {
	if len(ids) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode ids: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalIDs(s sql.NullString) ([]string, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(s.String), &ids); err != nil {
		return nil, fmt.Errorf("failed to decode ids: %w", err)
	}
	return ids, nil
}
