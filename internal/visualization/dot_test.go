package visualization

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/nvandessel/cellsim/internal/scenario"
	"github.com/nvandessel/cellsim/internal/simulation"
)

const fixture = `
name: viz
entities:
  - {id: A, molar_mass: 1}
  - {id: B, molar_mass: 1}
subsections: [cytoplasm, membrane, lumen]
regions:
  - {id: cell, inner: cytoplasm, membrane: membrane}
  - {id: vesicle, inner: lumen, membrane: membrane, outer: cytoplasm}
graph:
  grid: {cols: 2, rows: 1, region: cell, membrane_area: 1}
vesicles:
  - {id: ves, region: vesicle, x: 0.5, y: 0, radius: 0.05, state: attached}
initial:
  - {subsection: cytoplasm, entity: A, value: 2, unit: mM}
`

func setupSim(t *testing.T) *simulation.Simulation {
	t.Helper()
	s, err := scenario.Parse([]byte(fixture))
	if err != nil {
		t.Fatalf("parse scenario: %v", err)
	}
	cfg := simulation.DefaultConfig()
	cfg.RunID = "viz-run"
	sim, err := s.Build(cfg)
	if err != nil {
		t.Fatalf("build scenario: %v", err)
	}
	return sim
}

func TestCapture(t *testing.T) {
	sim := setupSim(t)
	st := Capture(sim, 7, 0.007)

	if st.RunID != "viz-run" || st.Step != 7 || st.Time != 0.007 {
		t.Errorf("header = %s/%d/%v", st.RunID, st.Step, st.Time)
	}
	if len(st.Nodes) != 2 {
		t.Fatalf("captured %d nodes, want 2", len(st.Nodes))
	}
	if st.Nodes[0].ID != "n(0,0)" || st.Nodes[0].Region != "cell" {
		t.Errorf("nodes[0] = %+v", st.Nodes[0])
	}
	if got := st.Nodes[0].Concentrations.Get("cytoplasm", "A"); math.Abs(got-2e-3) > 1e-18 {
		t.Errorf("node A = %v, want 2e-3", got)
	}
	if len(st.Edges) != 1 || st.Edges[0] != (Edge{Source: "n(0,0)", Target: "n(1,0)"}) {
		t.Errorf("edges = %+v", st.Edges)
	}
	if len(st.Vesicles) != 1 {
		t.Fatalf("captured %d vesicles, want 1", len(st.Vesicles))
	}
	v := st.Vesicles[0]
	if v.ID != "ves" || v.State != "attached" || v.X != 0.5 || v.Radius != 0.05 {
		t.Errorf("vesicle = %+v", v)
	}
	if got := st.Entities(); len(got) != 1 || got[0] != "A" {
		t.Errorf("Entities() = %v, want [A]", got)
	}
}

func TestRenderDOT(t *testing.T) {
	st := Capture(setupSim(t), 0, 0)
	dot := RenderDOT(st, Options{})

	for _, want := range []string{
		"graph cellsim {",
		`"n(0,0)" -- "n(1,0)";`,
		`pos="1,0!"`,
		`"ves" [shape=circle`,
		`fillcolor="goldenrod"`,
		`fillcolor="white"`,
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("DOT missing %q:\n%s", want, dot)
		}
	}
	if !strings.HasSuffix(strings.TrimSpace(dot), "}") {
		t.Error("expected closing brace")
	}
}

func TestRenderDOT_Highlight(t *testing.T) {
	st := Capture(setupSim(t), 0, 0)

	dot := RenderDOT(st, Options{Entity: "A", Subsection: "cytoplasm"})
	if !strings.Contains(dot, `fillcolor="0.600 1.000 1.000"`) {
		t.Errorf("expected full shading for the peak node:\n%s", dot)
	}
	if !strings.Contains(dot, "A=0.002 M") {
		t.Errorf("expected level in label:\n%s", dot)
	}

	// An absent entity leaves nodes white.
	dot = RenderDOT(st, Options{Entity: "B"})
	if strings.Contains(dot, "0.600") {
		t.Errorf("absent entity should not shade nodes:\n%s", dot)
	}
}

func TestRenderJSON(t *testing.T) {
	data := RenderJSON(Capture(setupSim(t), 3, 0.003))

	if data["node_count"] != 2 || data["edge_count"] != 1 || data["vesicle_count"] != 1 {
		t.Errorf("counts = %v/%v/%v", data["node_count"], data["edge_count"], data["vesicle_count"])
	}
	if data["step"] != uint64(3) {
		t.Errorf("step = %v", data["step"])
	}
}

func TestRenderJSON_Empty(t *testing.T) {
	data := RenderJSON(State{})
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"nodes":[]`, `"edges":[]`, `"vesicles":[]`} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("JSON missing %s: %s", want, raw)
		}
	}
}

func TestRender(t *testing.T) {
	st := Capture(setupSim(t), 0, 0)

	out, err := Render(st, FormatJSON, Options{})
	if err != nil {
		t.Fatalf("Render(json): %v", err)
	}
	var decoded struct {
		RunID string      `json:"run_id"`
		Nodes []NodeState `json:"nodes"`
	}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.RunID != "viz-run" || len(decoded.Nodes) != 2 {
		t.Errorf("decoded = %+v", decoded)
	}

	out, err = Render(st, FormatDOT, Options{})
	if err != nil || !strings.HasPrefix(string(out), "graph cellsim") {
		t.Errorf("Render(dot) = %q, %v", out, err)
	}

	if _, err := Render(st, Format("svg"), Options{}); err == nil {
		t.Error("Render(svg) should fail")
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"dot", FormatDOT, false},
		{"JSON", FormatJSON, false},
		{"png", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("a very long vesicle label", 10); got != "a very ..." {
		t.Errorf("truncate = %q", got)
	}
}
