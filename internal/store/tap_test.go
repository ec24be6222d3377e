package store

import (
	"context"
	"testing"

	"github.com/nvandessel/cellsim/internal/cell"
	"github.com/nvandessel/cellsim/internal/entity"
	"github.com/nvandessel/cellsim/internal/logging"
	"github.com/nvandessel/cellsim/internal/module"
	"github.com/nvandessel/cellsim/internal/simulation"
	"github.com/nvandessel/cellsim/internal/topology"
)

var tapRegion = cell.MustRegion("cell", map[cell.Topology]cell.Subsection{
	cell.Inner: "cytoplasm",
})

// drainSim is a single node starting with A = 1. One module removes all A
// in the first step, another adds 1 B every step.
func drainSim(t *testing.T) *simulation.Simulation {
	t.Helper()
	reg := entity.NewRegistry()
	a, _ := reg.Add("A", "A", 1)
	b, _ := reg.Add("B", "B", 1)

	cells := cell.NewRegistry()
	cells.AddSubsection("cytoplasm")
	if err := cells.AddRegion(tapRegion); err != nil {
		t.Fatalf("AddRegion() error = %v", err)
	}
	cfg := simulation.DefaultConfig()
	cfg.RunID = "tap-run"
	sim, err := simulation.New(cfg, reg, cells, simulation.WithLogger(logging.Discard()))
	if err != nil {
		t.Fatalf("simulation.New() error = %v", err)
	}
	if err := sim.Graph().AddGrid(1, 1, tapRegion, 1); err != nil {
		t.Fatalf("AddGrid() error = %v", err)
	}
	node, _ := sim.Graph().Node(topology.GridNodeID(0, 0))
	if err := node.Concentrations().Set("cytoplasm", a, 1); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	drain, err := module.New("drain").
		Function("drain", module.NodesOnly, func(_ *module.StepView, u topology.View) (module.Output, error) {
			var out module.Output
			out.AddDelta("cytoplasm", a, -u.Concentrations.Get("cytoplasm", a))
			return out, nil
		}).
		Build(nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	feed, err := module.New("feed").
		Function("feed", module.NodesOnly, func(_ *module.StepView, _ topology.View) (module.Output, error) {
			var out module.Output
			out.AddDelta("cytoplasm", b, 1)
			return out, nil
		}).
		Build(nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	for _, m := range []*module.Module{drain, feed} {
		if err := sim.AddModule(m); err != nil {
			t.Fatalf("AddModule() error = %v", err)
		}
	}
	return sim
}

func seriesValues(t *testing.T, rec Recorder, entity string) map[uint64]float64 {
	t.Helper()
	series, err := rec.Series(context.Background(), "tap-run", SeriesKey{
		Updatable:  topology.GridNodeID(0, 0),
		Subsection: "cytoplasm",
		Entity:     entity,
	})
	if err != nil {
		t.Fatalf("Series() error = %v", err)
	}
	out := make(map[uint64]float64, len(series))
	for _, s := range series {
		out[s.Step] = s.Value
	}
	return out
}

func TestTap_RecordsEveryStep(t *testing.T) {
	ctx := context.Background()
	sim := drainSim(t)
	rec := NewMemoryRecorder()
	tap := NewTap(sim, rec, 1, logging.Discard())

	if err := tap.Start(ctx, Run{Scenario: "drain"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := sim.Run(ctx, 3); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := tap.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	frames, err := rec.Frames(ctx, "tap-run")
	if err != nil {
		t.Fatalf("Frames() error = %v", err)
	}
	if len(frames) != 4 {
		t.Fatalf("recorded %d frames, want 4", len(frames))
	}
	if frames[0].Step != 0 || frames[0].Nodes != 1 || frames[3].Step != 3 {
		t.Errorf("frames = %+v", frames)
	}

	a := seriesValues(t, rec, "A")
	if len(a) != 2 || a[0] != 1 || a[1] != 0 {
		t.Errorf("A series = %v, want {0:1 1:0}", a)
	}
	b := seriesValues(t, rec, "B")
	if len(b) != 3 || b[1] != 1 || b[2] != 2 || b[3] != 3 {
		t.Errorf("B series = %v, want {1:1 2:2 3:3}", b)
	}

	if sim.Events().Graph.Len() != 0 || sim.Events().Node.Len() != 0 {
		t.Error("Stop() left listeners subscribed")
	}
}

func TestTap_Downsamples(t *testing.T) {
	ctx := context.Background()
	sim := drainSim(t)
	rec := NewMemoryRecorder()
	tap := NewTap(sim, rec, 2, logging.Discard())

	if err := tap.Start(ctx, Run{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := sim.Run(ctx, 3); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := tap.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	frames, err := rec.Frames(ctx, "tap-run")
	if err != nil {
		t.Fatalf("Frames() error = %v", err)
	}
	var steps []uint64
	for _, f := range frames {
		steps = append(steps, f.Step)
	}
	if len(steps) != 3 || steps[0] != 0 || steps[1] != 2 || steps[2] != 3 {
		t.Errorf("frame steps = %v, want [0 2 3]", steps)
	}

	// A vanished on the skipped step 1 and is reported at step 2.
	a := seriesValues(t, rec, "A")
	if len(a) != 2 || a[0] != 1 || a[2] != 0 {
		t.Errorf("A series = %v, want {0:1 2:0}", a)
	}
	b := seriesValues(t, rec, "B")
	if len(b) != 2 || b[2] != 2 || b[3] != 3 {
		t.Errorf("B series = %v, want {2:2 3:3}", b)
	}
}

func TestTap_StartTwice(t *testing.T) {
	ctx := context.Background()
	sim := drainSim(t)
	tap := NewTap(sim, NewMemoryRecorder(), 0, nil)
	if err := tap.Start(ctx, Run{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer tap.Stop()
	if err := tap.Start(ctx, Run{ID: "again"}); err == nil {
		t.Error("second Start() should fail")
	}
}

func TestTap_ReportsRecorderErrors(t *testing.T) {
	ctx := context.Background()
	sim := drainSim(t)
	rec := NewMemoryRecorder()
	tap := NewTap(sim, rec, 1, logging.Discard())
	if err := tap.Start(ctx, Run{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Dropping the run underneath the tap makes every write fail.
	rec.mu.Lock()
	delete(rec.runs, "tap-run")
	delete(rec.frames, "tap-run")
	delete(rec.samples, "tap-run")
	rec.mu.Unlock()

	if _, err := sim.Run(ctx, 2); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if tap.Err() == nil {
		t.Error("Err() = nil after failed writes")
	}
	if err := tap.Stop(); err == nil {
		t.Error("Stop() = nil after failed writes")
	}
}
