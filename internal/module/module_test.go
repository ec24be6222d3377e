package module

import (
	"errors"
	"testing"

	"github.com/nvandessel/cellsim/internal/cell"
	"github.com/nvandessel/cellsim/internal/feature"
	"github.com/nvandessel/cellsim/internal/topology"
	"github.com/nvandessel/cellsim/internal/units"
)

var testRegion = cell.MustRegion("cell", map[cell.Topology]cell.Subsection{
	cell.Inner:    "cytoplasm",
	cell.Membrane: "membrane",
})

func noop(*StepView, topology.View) (Output, error) { return Output{}, nil }

func TestBuilder_ResolvesFeatures(t *testing.T) {
	kf, _ := feature.New("kf", 10, feature.PerSecond, feature.NoEvidence)
	set := feature.NewSet(kf)

	m, err := New("decay").Requires("kf", "kf").Function("f", nil, noop).Build(set)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if m.Feature("kf") != kf {
		t.Error("feature not resolved")
	}
	if got := m.RequiredFeatures(); len(got) != 1 {
		t.Errorf("RequiredFeatures() = %v, want deduped", got)
	}
	if !m.Functions()[0].Condition(topology.View{}) {
		t.Error("nil condition should default to Always")
	}
}

func TestBuilder_MissingFeatureIsSetupError(t *testing.T) {
	_, err := New("decay").Requires("kf").Function("f", nil, noop).Build(feature.NewSet())
	if !errors.Is(err, feature.ErrMissingFeature) {
		t.Fatalf("expected ErrMissingFeature, got %v", err)
	}

	_, err = New("decay").Requires("kf").Function("f", nil, noop).Build(nil)
	if !errors.Is(err, feature.ErrMissingFeature) {
		t.Fatalf("expected ErrMissingFeature with nil set, got %v", err)
	}
}

func TestBuilder_Invalid(t *testing.T) {
	tests := []struct {
		name string
		b    *Builder
	}{
		{"no name", New(" ").Function("f", nil, noop)},
		{"no functions", New("m")},
		{"nil compute", New("m").Function("f", nil, nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.b.Build(nil); !errors.Is(err, ErrInvalidModule) {
				t.Errorf("expected ErrInvalidModule, got %v", err)
			}
		})
	}
}

func TestModule_RefreshRescalesThenRunsHook(t *testing.T) {
	kf, _ := feature.New("kf", 10, feature.PerSecond, feature.NoEvidence)
	var seen float64
	m, err := New("decay").
		Requires("kf").
		Function("f", nil, noop).
		OnRefresh(func(units.Context) error {
			seen = kf.Scaled()
			return nil
		}).
		Build(feature.NewSet(kf))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if err := m.Refresh(units.Context{TimeStep: 100, TimeUnit: units.Millisecond, SpaceUnit: 1}); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if seen != 1 {
		t.Errorf("hook saw %v, want rescaled 1", seen)
	}
}

func TestModule_RefreshWrapsHookError(t *testing.T) {
	boom := errors.New("boom")
	m, _ := New("m").Function("f", nil, noop).OnRefresh(func(units.Context) error { return boom }).Build(nil)
	if err := m.Refresh(units.DefaultContext()); !errors.Is(err, boom) {
		t.Errorf("expected wrapped hook error, got %v", err)
	}
}

func TestOutput_AddDeltaDropsZero(t *testing.T) {
	var out Output
	out.AddDelta("cytoplasm", 0, 0)
	if !out.Empty() {
		t.Error("zero delta should be dropped")
	}
	out.AddDelta("cytoplasm", 0, -1)
	if len(out.Deltas) != 1 || out.Empty() {
		t.Errorf("Deltas = %v", out.Deltas)
	}
}

func TestConditions(t *testing.T) {
	node := topology.View{ID: "n", Kind: topology.KindNode, Region: testRegion}
	ves := topology.View{ID: "v", Kind: topology.KindVesicle, Region: testRegion, State: topology.Propelled}
	bare := topology.View{ID: "b", Kind: topology.KindNode}

	tests := []struct {
		name string
		cond Condition
		u    topology.View
		want bool
	}{
		{"nodes only on node", NodesOnly, node, true},
		{"nodes only on vesicle", NodesOnly, ves, false},
		{"vesicles only", VesiclesOnly, ves, true},
		{"in region", InRegion("cell"), node, true},
		{"in other region", InRegion("nucleus"), node, false},
		{"in region without region", InRegion("cell"), bare, false},
		{"has subsection", HasSubsection("membrane"), node, true},
		{"lacks subsection", HasSubsection("lumen"), node, false},
		{"has membrane", HasMembrane, ves, true},
		{"state match", VesicleInState(topology.Propelled), ves, true},
		{"state mismatch", VesicleInState(topology.Attached), ves, false},
		{"state on node", VesicleInState(topology.Unattached), node, false},
		{"and", And(NodesOnly, HasMembrane), node, true},
		{"and fails", And(NodesOnly, VesiclesOnly), node, false},
		{"or", Or(VesiclesOnly, HasMembrane), node, true},
		{"not", Not(NodesOnly), ves, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cond(tt.u); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStepView_Get(t *testing.T) {
	sv := NewStepView(3, 0.5, units.DefaultContext(), 1, map[string]topology.View{"n": {ID: "n"}})
	if _, ok := sv.Get("n"); !ok || sv.Len() != 1 {
		t.Error("expected view n")
	}
	if _, ok := sv.Get("x"); ok {
		t.Error("unexpected view x")
	}
}
