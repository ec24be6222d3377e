// Package logging provides leveled logging and step tracing for cellsim.
// It offers two complementary outputs:
//   - A leveled slog.Logger for stderr (operational output)
//   - A StepLogger for structured JSONL step traces (<dir>/steps.jsonl)
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LevelTrace is a custom slog level below Debug. At this level the driver
// logs every merged delta of a step.
const LevelTrace = slog.LevelDebug - 4

// StepFile is the name of the JSONL step trace inside the log directory.
const StepFile = "steps.jsonl"

// ParseLevel maps a string level name to a slog.Level.
// Supported values: "info", "debug", "trace" (case-insensitive).
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a leveled slog.Logger writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Label the custom trace level
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// StepRecord is one line of the step trace.
type StepRecord struct {
	RunID      string         `json:"run_id"`
	Step       uint64         `json:"step"`
	SimTime    float64        `json:"sim_time"`
	Deltas     int            `json:"deltas"`
	Updatables int            `json:"updatables"`
	Clamped    int            `json:"clamped,omitempty"`
	Spawned    []string       `json:"spawned,omitempty"`
	Removed    []string       `json:"removed,omitempty"`
	Duration   time.Duration  `json:"duration_ns"`
	Modules    map[string]int `json:"modules,omitempty"`
}

// StepLogger writes step records to a JSONL file.
// It is safe for concurrent use. A nil StepLogger is safe to use;
// all methods are no-ops on nil receiver.
type StepLogger struct {
	mu   sync.Mutex
	file *os.File
}

// NewStepLogger creates a step logger writing to dir/steps.jsonl.
// At "info" level (the default), returns nil and no file is created.
// At "debug" or "trace" level, the file is opened for append.
// Returns nil if the file cannot be opened. All methods are nil-safe.
func NewStepLogger(dir string, level string) *StepLogger {
	lvl := ParseLevel(level)
	if lvl == slog.LevelInfo {
		return nil
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}

	path := filepath.Join(dir, StepFile)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}

	return &StepLogger{file: f}
}

// Log writes rec as a single JSONL line with a wall-clock "time" field.
// Safe to call on nil receiver.
func (sl *StepLogger) Log(rec StepRecord) {
	if sl == nil {
		return
	}

	entry := struct {
		Time string `json:"time"`
		StepRecord
	}{
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		StepRecord: rec,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.file == nil {
		return
	}
	_, _ = sl.file.Write(data)
}

// Close closes the underlying file. Safe to call on nil receiver.
func (sl *StepLogger) Close() {
	if sl == nil {
		return
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.file == nil {
		return
	}

	sl.file.Close()
	sl.file = nil
}
