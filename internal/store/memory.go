package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRecorder implements Recorder in process, for tests and for runs
// that are inspected and discarded.
type MemoryRecorder struct {
	mu      sync.RWMutex
	runs    map[string]Run
	frames  map[string]map[uint64]Frame
	samples map[string]map[SeriesKey]map[uint64]Sample
}

// NewMemoryRecorder creates an empty recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{
		runs:    make(map[string]Run),
		frames:  make(map[string]map[uint64]Frame),
		samples: make(map[string]map[SeriesKey]map[uint64]Sample),
	}
}

// BeginRun registers a run.
func (m *MemoryRecorder) BeginRun(ctx context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	if _, exists := m.runs[run.ID]; exists {
		return fmt.Errorf("%w: %s", ErrRunExists, run.ID)
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	m.runs[run.ID] = run
	m.frames[run.ID] = make(map[uint64]Frame)
	m.samples[run.ID] = make(map[SeriesKey]map[uint64]Sample)
	return nil
}

// RecordFrame stores one step summary.
func (m *MemoryRecorder) RecordFrame(ctx context.Context, f Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	frames, ok := m.frames[f.RunID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, f.RunID)
	}
	f.Spawned = append([]string(nil), f.Spawned...)
	f.Removed = append([]string(nil), f.Removed...)
	frames[f.Step] = f
	return nil
}

// RecordSamples stores samples. Either all are stored or none.
func (m *MemoryRecorder) RecordSamples(ctx context.Context, samples []Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sm := range samples {
		if _, ok := m.runs[sm.RunID]; !ok {
			return fmt.Errorf("%w: %s", ErrRunNotFound, sm.RunID)
		}
	}
	for _, sm := range samples {
		series := m.samples[sm.RunID]
		k := sm.key()
		if series[k] == nil {
			series[k] = make(map[uint64]Sample)
		}
		series[k][sm.Step] = sm
	}
	return nil
}

// Runs returns all runs ordered by start time.
func (m *MemoryRecorder) Runs(ctx context.Context) ([]Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]Run, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.Before(runs[j].StartedAt)
		}
		return runs[i].ID < runs[j].ID
	})
	return runs, nil
}

// Frames returns the frames of a run ordered by step.
func (m *MemoryRecorder) Frames(ctx context.Context, runID string) ([]Frame, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byStep, ok := m.frames[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	frames := make([]Frame, 0, len(byStep))
	for _, f := range byStep {
		frames = append(frames, f)
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].Step < frames[j].Step })
	return frames, nil
}

// Series returns one time series ordered by step.
func (m *MemoryRecorder) Series(ctx context.Context, runID string, key SeriesKey) ([]Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	series, ok := m.samples[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	out := make([]Sample, 0, len(series[key]))
	for _, sm := range series[key] {
		out = append(out, sm)
	}
	sortSamples(out)
	return out, nil
}

// Final returns the last recorded sample of every series.
func (m *MemoryRecorder) Final(ctx context.Context, runID string) ([]Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	series, ok := m.samples[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	out := make([]Sample, 0, len(series))
	for _, byStep := range series {
		var last Sample
		found := false
		for step, sm := range byStep {
			if !found || step > last.Step {
				last, found = sm, true
			}
		}
		if found {
			out = append(out, last)
		}
	}
	sortSamples(out)
	return out, nil
}

// Close is a no-op.
func (m *MemoryRecorder) Close() error {
	return nil
}
