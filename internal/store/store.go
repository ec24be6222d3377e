// Package store records simulation trajectories.
//
// A Recorder persists runs, one frame per recorded step and concentration
// samples for the Updatables that changed. SQLiteRecorder keeps them in a
// database file, MemoryRecorder in process. A Tap connects a Recorder to a
// running simulation through its event bus.
package store

import (
	"context"
	"errors"
	"sort"
	"time"
)

var (
	// ErrRunNotFound is returned when a run ID has not been begun.
	ErrRunNotFound = errors.New("store: run not found")

	// ErrRunExists is returned when a run ID is begun twice.
	ErrRunExists = errors.New("store: run already exists")
)

// Run describes one recorded simulation run.
type Run struct {
	ID          string    `json:"id"`
	Scenario    string    `json:"scenario"`
	Seed        int64     `json:"seed"`
	StepSeconds float64   `json:"step_seconds"`
	StartedAt   time.Time `json:"started_at"`
}

// Frame is the per-step summary of a run.
type Frame struct {
	RunID    string   `json:"run_id"`
	Step     uint64   `json:"step"`
	Time     float64  `json:"time"`
	Nodes    int      `json:"nodes"`
	Vesicles int      `json:"vesicles"`
	Spawned  []string `json:"spawned,omitempty"`
	Removed  []string `json:"removed,omitempty"`
}

// Sample is one concentration value after a step. A zero value records
// that an entity disappeared from a subsection.
type Sample struct {
	RunID      string  `json:"run_id"`
	Step       uint64  `json:"step"`
	Time       float64 `json:"time"`
	Updatable  string  `json:"updatable"`
	Subsection string  `json:"subsection"`
	Entity     string  `json:"entity"`
	Value      float64 `json:"value"`
}

// SeriesKey selects one concentration time series.
type SeriesKey struct {
	Updatable  string
	Subsection string
	Entity     string
}

// Recorder persists trajectories.
type Recorder interface {
	// BeginRun registers a run. Frames and samples of unknown runs are
	// rejected.
	BeginRun(ctx context.Context, run Run) error
	RecordFrame(ctx context.Context, f Frame) error
	RecordSamples(ctx context.Context, samples []Sample) error

	// Runs returns all runs ordered by start time.
	Runs(ctx context.Context) ([]Run, error)

	// Frames returns the frames of a run ordered by step.
	Frames(ctx context.Context, runID string) ([]Frame, error)

	// Series returns one time series ordered by step.
	Series(ctx context.Context, runID string, key SeriesKey) ([]Sample, error)

	// Final returns the last recorded sample of every series, ordered by
	// updatable, subsection and entity.
	Final(ctx context.Context, runID string) ([]Sample, error)

	Close() error
}

// Open returns a SQLiteRecorder for path, or a MemoryRecorder when path is
// empty.
func Open(path string) (Recorder, error) {
	if path == "" {
		return NewMemoryRecorder(), nil
	}
	return NewSQLiteRecorder(path)
}

func sortSamples(samples []Sample) {
	sort.Slice(samples, func(i, j int) bool {
		a, b := samples[i], samples[j]
		if a.Updatable != b.Updatable {
			return a.Updatable < b.Updatable
		}
		if a.Subsection != b.Subsection {
			return a.Subsection < b.Subsection
		}
		if a.Entity != b.Entity {
			return a.Entity < b.Entity
		}
		return a.Step < b.Step
	})
}

func (s Sample) key() SeriesKey {
	return SeriesKey{Updatable: s.Updatable, Subsection: s.Subsection, Entity: s.Entity}
}
