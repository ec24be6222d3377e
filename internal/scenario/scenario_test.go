package scenario

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/nvandessel/cellsim/internal/cell"
	"github.com/nvandessel/cellsim/internal/entity"
	"github.com/nvandessel/cellsim/internal/feature"
	"github.com/nvandessel/cellsim/internal/reaction"
	"github.com/nvandessel/cellsim/internal/simulation"
	"github.com/nvandessel/cellsim/internal/topology"
)

const fixture = `
name: isomerase
description: A <-> B in a strip of cytoplasm with one vesicle.
entities:
  - {id: A, molar_mass: 180}
  - {id: B, molar_mass: 180}
  - {id: R, name: receptor, molar_mass: 50000}
  - {id: L, name: ligand, molar_mass: 1200}
subsections: [cytoplasm, membrane, lumen]
regions:
  - {id: cell, inner: cytoplasm, membrane: membrane}
  - {id: vesicle, inner: lumen, membrane: membrane, outer: cytoplasm}
graph:
  grid: {cols: 3, rows: 1, region: cell, membrane_area: 1}
vesicles:
  - {id: ves, region: vesicle, x: 1, y: 0, radius: 0.05}
features:
  - name: kf
    value: 10
    dimension: per_second
    evidence: {source_type: literature, citation: "test"}
  - {name: kb, value: 5, dimension: per_second}
  - {name: kon, value: 1000, dimension: per_second}
  - {name: dA, value: 1.0e-9, dimension: diffusivity}
  - {name: dv, value: 1.0e-12, dimension: diffusivity}
reactions:
  - name: isomerize
    region: cell
    reactants:
      - {entity: A, topology: inner, role: substrate}
      - {entity: B, topology: inner, role: product}
    law: {kind: reversible_mass_action, forward: kf, backward: kb}
  - name: capture
    kind: binding
    site:
      binder: R
      binder_topology: membrane
      bindee: L
      bindee_topology: membrane
      complex_topology: membrane
    law: {kind: mass_action, rate: kon}
diffusion:
  - {name: spread, entity: A, topology: inner, diffusivity: dA}
brownian:
  - {name: jiggle, diffusivity: dv}
initial:
  - {subsection: cytoplasm, entity: A, value: 1, unit: mM}
  - {region: cell, subsection: membrane, entity: R, value: 1000, area_density: true}
`

func parseFixture(t *testing.T) *Scenario {
	t.Helper()
	s, err := Parse([]byte(fixture))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return s
}

func build(t *testing.T, s *Scenario) *simulation.Simulation {
	t.Helper()
	cfg := simulation.DefaultConfig()
	cfg.Workers = 2
	sim, err := s.Build(cfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return sim
}

func TestParse(t *testing.T) {
	s := parseFixture(t)
	if s.Name != "isomerase" {
		t.Errorf("Name = %q", s.Name)
	}
	if len(s.Entities) != 4 || len(s.Regions) != 2 || len(s.Reactions) != 2 {
		t.Errorf("unexpected counts: %d entities, %d regions, %d reactions",
			len(s.Entities), len(s.Regions), len(s.Reactions))
	}
	if s.Features[0].Evidence.SourceType != feature.SourceLiterature {
		t.Errorf("evidence = %+v", s.Features[0].Evidence)
	}
	if s.Reactions[1].Site == nil || s.Reactions[1].Site.Binder != "R" {
		t.Errorf("site = %+v", s.Reactions[1].Site)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown key", "name: x\nsubsections: [c]\nregions: [{id: r, inner: c}]\ngraph: {grid: {cols: 1, rows: 1, region: r}}\ncolour: blue\n"},
		{"no name", "subsections: [c]\nregions: [{id: r, inner: c}]\ngraph: {grid: {cols: 1, rows: 1, region: r}}\n"},
		{"no subsections", "name: x\nregions: [{id: r, inner: c}]\ngraph: {grid: {cols: 1, rows: 1, region: r}}\n"},
		{"no graph", "name: x\nsubsections: [c]\nregions: [{id: r, inner: c}]\n"},
		{"duplicate module", "name: x\nsubsections: [c]\nregions: [{id: r, inner: c}]\ngraph: {grid: {cols: 1, rows: 1, region: r}}\nbrownian: [{name: m, diffusivity: d}]\ndiffusion: [{name: m, entity: A, topology: inner, diffusivity: d}]\n"},
		{"malformed", "name: [x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Error("Parse() expected error")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(fixture), 0600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.Name != "isomerase" {
		t.Errorf("Name = %q", s.Name)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of a missing file should fail")
	}
}

func TestBuild(t *testing.T) {
	sim := build(t, parseFixture(t))

	if sim.Graph().Len() != 3 {
		t.Errorf("nodes = %d, want 3", sim.Graph().Len())
	}
	if sim.Vesicles().Len() != 1 {
		t.Errorf("vesicles = %d, want 1", sim.Vesicles().Len())
	}
	if got := len(sim.Modules()); got != 4 {
		t.Errorf("modules = %d, want 4", got)
	}
	if _, ok := sim.Entities().Lookup("R:L"); !ok {
		t.Error("binding did not register the R:L complex")
	}

	a, _ := sim.Entities().Lookup("A")
	r, _ := sim.Entities().Lookup("R")
	node, ok := sim.Graph().Node(topology.GridNodeID(0, 0))
	if !ok {
		t.Fatal("grid node missing")
	}
	if got := node.Concentrations().Get("cytoplasm", a); got != 1e-3 {
		t.Errorf("node A = %v, want 1e-3", got)
	}
	if got := node.Concentrations().Get("membrane", r); got != 1.6605390404271641e-12 {
		t.Errorf("node R = %v, want 1.6605390404271641e-12", got)
	}

	ves, ok := sim.Vesicles().Get("ves")
	if !ok {
		t.Fatal("vesicle missing")
	}
	if got := ves.Concentrations().Get("cytoplasm", a); got != 1e-3 {
		t.Errorf("vesicle outer A = %v, want 1e-3", got)
	}
	if got := ves.Concentrations().Get("membrane", r); got != 0 {
		t.Errorf("vesicle R = %v, want 0 (restricted to cell)", got)
	}
}

func TestBuild_RunConservesIsomerPool(t *testing.T) {
	sim := build(t, parseFixture(t))
	a, _ := sim.Entities().Lookup("A")
	b, _ := sim.Entities().Lookup("B")

	total := func() float64 {
		sum := 0.0
		for _, n := range sim.Graph().Nodes() {
			sum += n.Concentrations().Get("cytoplasm", a) + n.Concentrations().Get("cytoplasm", b)
		}
		return sum
	}
	before := total()

	sum, err := sim.Run(context.Background(), 25)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Steps != 25 {
		t.Errorf("Steps = %d, want 25", sum.Steps)
	}
	if after := total(); math.Abs(after-before) > 1e-15 {
		t.Errorf("A+B drifted from %v to %v", before, after)
	}
	n, _ := sim.Graph().Node(topology.GridNodeID(1, 0))
	if n.Concentrations().Get("cytoplasm", b) <= 0 {
		t.Error("no B was produced")
	}
}

func TestBuild_Deterministic(t *testing.T) {
	positions := make([]topology.Vector2, 2)
	for i := range positions {
		sim := build(t, parseFixture(t))
		if _, err := sim.Run(context.Background(), 5); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		v, _ := sim.Vesicles().Get("ves")
		positions[i] = v.Position()
	}
	if positions[0] != positions[1] {
		t.Errorf("vesicle positions differ: %+v vs %+v", positions[0], positions[1])
	}
	if positions[0] == (topology.Vector2{X: 1, Y: 0}) {
		t.Error("vesicle did not move")
	}
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Scenario)
		want   error
	}{
		{"unknown initial entity", func(s *Scenario) { s.Initial[0].Entity = "Z" }, entity.ErrUnknownEntity},
		{"unknown grid region", func(s *Scenario) { s.Graph.Grid.Region = "golgi" }, cell.ErrInvalidRegion},
		{"undeclared subsection", func(s *Scenario) { s.Regions[0].Outer = "nucleus" }, cell.ErrUnknownSubsection},
		{"missing feature", func(s *Scenario) { s.Reactions[0].Law.Backward = "koff" }, feature.ErrMissingFeature},
		{"unknown law", func(s *Scenario) { s.Reactions[0].Law.Kind = "hill" }, reaction.ErrInvalidReaction},
		{"unknown reaction kind", func(s *Scenario) { s.Reactions[0].Kind = "transport" }, reaction.ErrInvalidReaction},
		{"binding without site", func(s *Scenario) { s.Reactions[1].Site = nil }, reaction.ErrInvalidReaction},
		{"unknown dimension", func(s *Scenario) { s.Features[0].Dimension = "furlongs" }, feature.ErrInvalidFeature},
		{"duplicate vesicle", func(s *Scenario) { s.Vesicles = append(s.Vesicles, s.Vesicles[0]) }, topology.ErrDuplicateID},
		{"unknown edge node", func(s *Scenario) { s.Graph.Edges = []EdgeSpec{{From: "n(0,0)", To: "far"}} }, topology.ErrNodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := parseFixture(t)
			tt.mutate(s)
			if _, err := s.Build(simulation.DefaultConfig()); !errors.Is(err, tt.want) {
				t.Errorf("Build() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestBuild_DefaultVesicleIDs(t *testing.T) {
	s := parseFixture(t)
	s.Vesicles = []VesicleSpec{
		{Region: "vesicle", Radius: 0.05},
		{Region: "vesicle", Radius: 0.05, State: "attached"},
	}
	sim := build(t, s)
	if _, ok := sim.Vesicles().Get("v0"); !ok {
		t.Error("vesicle v0 missing")
	}
	v1, ok := sim.Vesicles().Get("v1")
	if !ok {
		t.Fatal("vesicle v1 missing")
	}
	if v1.State() != topology.Attached {
		t.Errorf("v1 state = %v, want attached", v1.State())
	}
}
