package initializer

import (
	"errors"
	"testing"

	"github.com/nvandessel/cellsim/internal/cell"
	"github.com/nvandessel/cellsim/internal/entity"
	"github.com/nvandessel/cellsim/internal/feature"
	"github.com/nvandessel/cellsim/internal/topology"
	"github.com/nvandessel/cellsim/internal/units"
)

var (
	cellRegion = cell.MustRegion("cell", map[cell.Topology]cell.Subsection{
		cell.Inner:    "cytoplasm",
		cell.Membrane: "membrane",
	})
	vesicleRegion = cell.MustRegion("vesicle", map[cell.Topology]cell.Subsection{
		cell.Inner:    "lumen",
		cell.Membrane: "membrane",
		cell.Outer:    "cytoplasm",
	})
)

type fakeTarget struct {
	updatables []topology.Updatable
	ctx        units.Context
}

func (f fakeTarget) Updatables() []topology.Updatable { return f.updatables }
func (f fakeTarget) Units() units.Context             { return f.ctx }

func setup(t *testing.T) (*Initializer, entity.ID, entity.ID) {
	t.Helper()
	reg := entity.NewRegistry()
	receptor, _ := reg.Add("R", "receptor", 50000)
	atp, _ := reg.Add("ATP", "adenosine triphosphate", 507.18)

	cells := cell.NewRegistry()
	for _, s := range []cell.Subsection{"cytoplasm", "membrane", "lumen"} {
		cells.AddSubsection(s)
	}
	for _, r := range []*cell.Region{cellRegion, vesicleRegion} {
		if err := cells.AddRegion(r); err != nil {
			t.Fatalf("AddRegion: %v", err)
		}
	}
	return New(reg, cells), receptor, atp
}

func TestInitialize_AreaConversionIsExact(t *testing.T) {
	in, receptor, _ := setup(t)
	if err := in.Add(InitialConcentration{
		Subsection:  "membrane",
		Entity:      receptor,
		Value:       1000,
		AreaDensity: true,
		Evidence:    feature.Evidence{SourceType: feature.SourceManual, Note: "test density"},
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	node := topology.NewNode("n", cellRegion, topology.Vector2{}, 1)
	vesicle := topology.NewVesicleWithID("v", vesicleRegion, topology.Vector2{}, 0.05)
	target := fakeTarget{updatables: []topology.Updatable{node, vesicle}, ctx: units.DefaultContext()}

	n, err := in.Initialize(target)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if n != 2 {
		t.Errorf("written = %d, want 2", n)
	}
	if got := node.Concentrations().Get("membrane", receptor); got != 1.6605390404271641e-12 {
		t.Errorf("node concentration = %v, want 1.6605390404271641e-12", got)
	}
	if got := vesicle.Concentrations().Get("membrane", receptor); got != 5.216737250405024e-14 {
		t.Errorf("vesicle concentration = %v, want 5.216737250405024e-14", got)
	}

	// Reproducible on a fresh run.
	node2 := topology.NewNode("n", cellRegion, topology.Vector2{}, 1)
	if _, err := in.Initialize(fakeTarget{updatables: []topology.Updatable{node2}, ctx: units.DefaultContext()}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if node2.Concentrations().Get("membrane", receptor) != node.Concentrations().Get("membrane", receptor) {
		t.Error("conversion not reproducible")
	}
}

func TestAreaToConcentration_RoundTripsMolecules(t *testing.T) {
	ctx := units.DefaultContext()
	c := AreaToConcentration(1000, 1, ctx)
	if got := ctx.ConcentrationToMolecules(c); got < 999.999999 || got > 1000.000001 {
		t.Errorf("molecules = %v, want 1000", got)
	}
}

func TestAdd_SetSemantics(t *testing.T) {
	in, _, atp := setup(t)
	_ = in.Add(InitialConcentration{Subsection: "cytoplasm", Entity: atp, Value: 1})
	_ = in.Add(InitialConcentration{Subsection: "cytoplasm", Entity: atp, Value: 2})
	_ = in.Add(InitialConcentration{Region: "vesicle", Subsection: "cytoplasm", Entity: atp, Value: 3})

	if in.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", in.Len())
	}
	got := in.Assignments()
	if got[0].Region != "" || got[0].Value != 2 {
		t.Errorf("first assignment = %+v, want replaced unrestricted value 2", got[0])
	}
}

func TestInitialize_RegionRestriction(t *testing.T) {
	in, _, atp := setup(t)
	_ = in.Add(InitialConcentration{Subsection: "cytoplasm", Entity: atp, Value: 2, Unit: units.Millimolar})
	_ = in.Add(InitialConcentration{Region: "vesicle", Subsection: "cytoplasm", Entity: atp, Value: 5, Unit: units.Micromolar})
	_ = in.Add(InitialConcentration{Subsection: "lumen", Entity: atp, Value: 1})

	node := topology.NewNode("n", cellRegion, topology.Vector2{}, 1)
	vesicle := topology.NewVesicleWithID("v", vesicleRegion, topology.Vector2{}, 0.05)
	n, err := in.Initialize(fakeTarget{updatables: []topology.Updatable{node, vesicle}, ctx: units.DefaultContext()})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if n != 4 {
		t.Errorf("written = %d, want 4", n)
	}
	if got := node.Concentrations().Get("cytoplasm", atp); got != 2e-3 {
		t.Errorf("node ATP = %v, want 2e-3", got)
	}
	if got, want := vesicle.Concentrations().Get("cytoplasm", atp), 5*units.Micromolar.Factor; got != want {
		t.Errorf("vesicle outer ATP = %v, want region override %v", got, want)
	}
	if got := vesicle.Concentrations().Get("lumen", atp); got != 1 {
		t.Errorf("vesicle lumen ATP = %v, want 1", got)
	}
	if got := node.Concentrations().Get("lumen", atp); got != 0 {
		t.Errorf("node has no lumen, got %v", got)
	}
}

func TestAdd_Validation(t *testing.T) {
	in, receptor, atp := setup(t)
	tests := []struct {
		name string
		ic   InitialConcentration
		want error
	}{
		{"unknown subsection", InitialConcentration{Subsection: "nucleus", Entity: atp, Value: 1}, cell.ErrUnknownSubsection},
		{"unknown entity", InitialConcentration{Subsection: "cytoplasm", Entity: 42, Value: 1}, entity.ErrUnknownEntity},
		{"unknown region", InitialConcentration{Region: "golgi", Subsection: "cytoplasm", Entity: atp, Value: 1}, ErrInvalidAssignment},
		{"region lacks subsection", InitialConcentration{Region: "cell", Subsection: "lumen", Entity: atp, Value: 1}, ErrInvalidAssignment},
		{"negative", InitialConcentration{Subsection: "cytoplasm", Entity: atp, Value: -1}, ErrInvalidAssignment},
		{"area with unit", InitialConcentration{Subsection: "membrane", Entity: receptor, Value: 1, AreaDensity: true, Unit: units.Molar}, ErrInvalidAssignment},
		{"length unit", InitialConcentration{Subsection: "cytoplasm", Entity: atp, Value: 1, Unit: units.Metre}, units.ErrIncompatibleUnits},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := in.Add(tt.ic); !errors.Is(err, tt.want) {
				t.Errorf("Add() error = %v, want %v", err, tt.want)
			}
		})
	}
	if in.Len() != 0 {
		t.Errorf("invalid assignments were stored: %d", in.Len())
	}
}
