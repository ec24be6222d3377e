package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// recorders returns a constructor for every Recorder implementation.
func recorders() map[string]func(t *testing.T) Recorder {
	return map[string]func(t *testing.T) Recorder{
		"memory": func(t *testing.T) Recorder {
			return NewMemoryRecorder()
		},
		"sqlite": func(t *testing.T) Recorder {
			t.Helper()
			rec, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "runs.db"))
			if err != nil {
				t.Fatalf("NewSQLiteRecorder() error = %v", err)
			}
			return rec
		},
	}
}

func forEachRecorder(t *testing.T, fn func(t *testing.T, rec Recorder)) {
	t.Helper()
	for name, open := range recorders() {
		t.Run(name, func(t *testing.T) {
			rec := open(t)
			t.Cleanup(func() { rec.Close() })
			fn(t, rec)
		})
	}
}

func begin(t *testing.T, rec Recorder, id string, started time.Time) {
	t.Helper()
	run := Run{ID: id, Scenario: "test", Seed: 7, StepSeconds: 0.001, StartedAt: started}
	if err := rec.BeginRun(context.Background(), run); err != nil {
		t.Fatalf("BeginRun(%s) error = %v", id, err)
	}
}

func TestRecorder_BeginRun(t *testing.T) {
	forEachRecorder(t, func(t *testing.T, rec Recorder) {
		ctx := context.Background()
		t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		begin(t, rec, "b", t0.Add(time.Second))
		begin(t, rec, "a", t0)
		begin(t, rec, "c", t0.Add(time.Second))

		if err := rec.BeginRun(ctx, Run{ID: "a"}); !errors.Is(err, ErrRunExists) {
			t.Errorf("duplicate BeginRun() error = %v, want ErrRunExists", err)
		}
		if err := rec.BeginRun(ctx, Run{}); err == nil {
			t.Error("BeginRun() without ID should fail")
		}

		runs, err := rec.Runs(ctx)
		if err != nil {
			t.Fatalf("Runs() error = %v", err)
		}
		want := []string{"a", "b", "c"}
		if len(runs) != len(want) {
			t.Fatalf("Runs() returned %d runs, want %d", len(runs), len(want))
		}
		for i, id := range want {
			if runs[i].ID != id {
				t.Errorf("runs[%d].ID = %s, want %s", i, runs[i].ID, id)
			}
		}
		if runs[0].Seed != 7 || runs[0].StepSeconds != 0.001 || !runs[0].StartedAt.Equal(t0) {
			t.Errorf("runs[0] = %+v", runs[0])
		}
	})
}

func TestRecorder_UnknownRun(t *testing.T) {
	forEachRecorder(t, func(t *testing.T, rec Recorder) {
		ctx := context.Background()
		if err := rec.RecordFrame(ctx, Frame{RunID: "ghost"}); !errors.Is(err, ErrRunNotFound) {
			t.Errorf("RecordFrame() error = %v, want ErrRunNotFound", err)
		}
		if err := rec.RecordSamples(ctx, []Sample{{RunID: "ghost"}}); !errors.Is(err, ErrRunNotFound) {
			t.Errorf("RecordSamples() error = %v, want ErrRunNotFound", err)
		}
		if _, err := rec.Frames(ctx, "ghost"); !errors.Is(err, ErrRunNotFound) {
			t.Errorf("Frames() error = %v, want ErrRunNotFound", err)
		}
		if _, err := rec.Series(ctx, "ghost", SeriesKey{}); !errors.Is(err, ErrRunNotFound) {
			t.Errorf("Series() error = %v, want ErrRunNotFound", err)
		}
		if _, err := rec.Final(ctx, "ghost"); !errors.Is(err, ErrRunNotFound) {
			t.Errorf("Final() error = %v, want ErrRunNotFound", err)
		}
	})
}

func TestRecorder_Frames(t *testing.T) {
	forEachRecorder(t, func(t *testing.T, rec Recorder) {
		ctx := context.Background()
		begin(t, rec, "r", time.Time{})

		frames := []Frame{
			{RunID: "r", Step: 2, Time: 0.002, Nodes: 3, Vesicles: 1, Spawned: []string{"v1"}},
			{RunID: "r", Step: 0, Time: 0, Nodes: 3},
			{RunID: "r", Step: 1, Time: 0.001, Nodes: 3, Vesicles: 1, Removed: []string{"v0"}},
		}
		for _, f := range frames {
			if err := rec.RecordFrame(ctx, f); err != nil {
				t.Fatalf("RecordFrame() error = %v", err)
			}
		}
		// Re-recording a step replaces it.
		if err := rec.RecordFrame(ctx, Frame{RunID: "r", Step: 0, Nodes: 4}); err != nil {
			t.Fatalf("RecordFrame() error = %v", err)
		}

		got, err := rec.Frames(ctx, "r")
		if err != nil {
			t.Fatalf("Frames() error = %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("Frames() returned %d frames, want 3", len(got))
		}
		for i, f := range got {
			if f.Step != uint64(i) {
				t.Errorf("frames[%d].Step = %d", i, f.Step)
			}
		}
		if got[0].Nodes != 4 {
			t.Errorf("replaced frame Nodes = %d, want 4", got[0].Nodes)
		}
		if len(got[1].Removed) != 1 || got[1].Removed[0] != "v0" || got[1].Spawned != nil {
			t.Errorf("frames[1] = %+v", got[1])
		}
		if len(got[2].Spawned) != 1 || got[2].Spawned[0] != "v1" {
			t.Errorf("frames[2] = %+v", got[2])
		}
	})
}

func TestRecorder_SeriesAndFinal(t *testing.T) {
	forEachRecorder(t, func(t *testing.T, rec Recorder) {
		ctx := context.Background()
		begin(t, rec, "r", time.Time{})
		begin(t, rec, "other", time.Time{})

		sample := func(run string, step uint64, u, e string, v float64) Sample {
			return Sample{RunID: run, Step: step, Time: float64(step) * 0.001, Updatable: u, Subsection: "cytoplasm", Entity: e, Value: v}
		}
		samples := []Sample{
			sample("r", 2, "n(0,0)", "A", 0.5),
			sample("r", 0, "n(0,0)", "A", 1),
			sample("r", 1, "n(0,0)", "A", 0.75),
			sample("r", 0, "n(1,0)", "A", 2),
			sample("r", 1, "n(0,0)", "B", 0.25),
			sample("other", 5, "n(0,0)", "A", 9),
		}
		if err := rec.RecordSamples(ctx, samples); err != nil {
			t.Fatalf("RecordSamples() error = %v", err)
		}
		if err := rec.RecordSamples(ctx, nil); err != nil {
			t.Errorf("RecordSamples(nil) error = %v", err)
		}

		series, err := rec.Series(ctx, "r", SeriesKey{Updatable: "n(0,0)", Subsection: "cytoplasm", Entity: "A"})
		if err != nil {
			t.Fatalf("Series() error = %v", err)
		}
		want := []float64{1, 0.75, 0.5}
		if len(series) != len(want) {
			t.Fatalf("Series() returned %d samples, want %d", len(series), len(want))
		}
		for i, v := range want {
			if series[i].Step != uint64(i) || series[i].Value != v {
				t.Errorf("series[%d] = step %d value %v, want step %d value %v", i, series[i].Step, series[i].Value, i, v)
			}
		}

		empty, err := rec.Series(ctx, "r", SeriesKey{Updatable: "n(9,9)", Subsection: "cytoplasm", Entity: "A"})
		if err != nil || len(empty) != 0 {
			t.Errorf("Series() of unknown key = %v, %v", empty, err)
		}

		final, err := rec.Final(ctx, "r")
		if err != nil {
			t.Fatalf("Final() error = %v", err)
		}
		wantFinal := []struct {
			u, e string
			step uint64
			v    float64
		}{
			{"n(0,0)", "A", 2, 0.5},
			{"n(0,0)", "B", 1, 0.25},
			{"n(1,0)", "A", 0, 2},
		}
		if len(final) != len(wantFinal) {
			t.Fatalf("Final() returned %d samples, want %d", len(final), len(wantFinal))
		}
		for i, w := range wantFinal {
			f := final[i]
			if f.Updatable != w.u || f.Entity != w.e || f.Step != w.step || f.Value != w.v || f.RunID != "r" {
				t.Errorf("final[%d] = %+v, want %+v", i, f, w)
			}
		}
	})
}

func TestRecorder_SamplesAreAllOrNothing(t *testing.T) {
	forEachRecorder(t, func(t *testing.T, rec Recorder) {
		ctx := context.Background()
		begin(t, rec, "r", time.Time{})
		err := rec.RecordSamples(ctx, []Sample{
			{RunID: "r", Updatable: "n", Subsection: "s", Entity: "A", Value: 1},
			{RunID: "ghost", Updatable: "n", Subsection: "s", Entity: "A", Value: 1},
		})
		if !errors.Is(err, ErrRunNotFound) {
			t.Fatalf("RecordSamples() error = %v, want ErrRunNotFound", err)
		}
		final, err := rec.Final(ctx, "r")
		if err != nil {
			t.Fatalf("Final() error = %v", err)
		}
		if len(final) != 0 {
			t.Errorf("partial batch stored %d samples", len(final))
		}
	})
}

func TestSQLiteRecorder_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runs.db")
	ctx := context.Background()

	rec, err := NewSQLiteRecorder(path)
	if err != nil {
		t.Fatalf("NewSQLiteRecorder() error = %v", err)
	}
	if rec.Path() != path {
		t.Errorf("Path() = %s, want %s", rec.Path(), path)
	}
	begin(t, rec, "r", time.Time{})
	if err := rec.RecordSamples(ctx, []Sample{{RunID: "r", Step: 3, Updatable: "n", Subsection: "s", Entity: "A", Value: 4}}); err != nil {
		t.Fatalf("RecordSamples() error = %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	rec, err = NewSQLiteRecorder(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer rec.Close()
	final, err := rec.Final(ctx, "r")
	if err != nil {
		t.Fatalf("Final() error = %v", err)
	}
	if len(final) != 1 || final[0].Value != 4 || final[0].Step != 3 {
		t.Errorf("Final() after reopen = %+v", final)
	}
}

func TestOpen(t *testing.T) {
	rec, err := Open("")
	if err != nil {
		t.Fatalf("Open(\"\") error = %v", err)
	}
	if _, ok := rec.(*MemoryRecorder); !ok {
		t.Errorf("Open(\"\") = %T, want *MemoryRecorder", rec)
	}

	rec, err = Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open(path) error = %v", err)
	}
	defer rec.Close()
	if _, ok := rec.(*SQLiteRecorder); !ok {
		t.Errorf("Open(path) = %T, want *SQLiteRecorder", rec)
	}
}

func TestExportJSONL(t *testing.T) {
	ctx := context.Background()
	rec := NewMemoryRecorder()
	begin(t, rec, "r", time.Time{})
	_ = rec.RecordFrame(ctx, Frame{RunID: "r", Step: 0, Nodes: 1})
	_ = rec.RecordFrame(ctx, Frame{RunID: "r", Step: 1, Nodes: 1})
	_ = rec.RecordSamples(ctx, []Sample{
		{RunID: "r", Step: 0, Updatable: "n", Subsection: "s", Entity: "A", Value: 1},
		{RunID: "r", Step: 1, Updatable: "n", Subsection: "s", Entity: "A", Value: 2},
	})

	var buf bytes.Buffer
	if err := ExportJSONL(ctx, rec, "r", &buf); err != nil {
		t.Fatalf("ExportJSONL() error = %v", err)
	}

	var types []string
	var last Record
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			t.Fatalf("invalid line %q: %v", scanner.Text(), err)
		}
		types = append(types, r.Type)
		last = r
	}
	want := []string{"run", "frame", "frame", "final"}
	if len(types) != len(want) {
		t.Fatalf("types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("types = %v, want %v", types, want)
			break
		}
	}
	if last.Sample == nil || last.Sample.Value != 2 {
		t.Errorf("final record = %+v", last)
	}

	if err := ExportJSONL(ctx, rec, "ghost", &buf); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("ExportJSONL() of unknown run error = %v", err)
	}
}
