// Package initializer seeds concentration state before a run from
// declarative assignments.
//
// An assignment names a subsection, an entity and a quantity, optionally
// restricted to one region. Plain quantities are concentrations. Area
// densities (molecules per um^2) are converted per Updatable using its
// membrane area:
//
//	molecules     = density * area
//	concentration = molecules / (N_A * V)
//
// where V is the volume of one cubed space unit in litres.
package initializer

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/nvandessel/cellsim/internal/cell"
	"github.com/nvandessel/cellsim/internal/entity"
	"github.com/nvandessel/cellsim/internal/feature"
	"github.com/nvandessel/cellsim/internal/topology"
	"github.com/nvandessel/cellsim/internal/units"
)

// ErrInvalidAssignment is returned for malformed quantities.
var ErrInvalidAssignment = errors.New("initializer: invalid assignment")

// InitialConcentration is one declarative assignment.
type InitialConcentration struct {
	// Region restricts the assignment to Updatables of one region. Empty
	// means every region containing Subsection.
	Region     string
	Subsection cell.Subsection
	Entity     entity.ID

	// Value is a concentration in Unit (mol/L when Unit is zero), or a
	// density in molecules per um^2 when AreaDensity is set.
	Value       float64
	Unit        units.Unit
	AreaDensity bool

	Evidence feature.Evidence
}

// Key identifies an assignment. Adding a second assignment with the same
// key replaces the first.
type Key struct {
	Region     string
	Subsection cell.Subsection
	Entity     entity.ID
}

// Key returns the assignment's key.
func (ic InitialConcentration) Key() Key {
	return Key{Region: ic.Region, Subsection: ic.Subsection, Entity: ic.Entity}
}

// Target is what Initialize writes into.
type Target interface {
	Updatables() []topology.Updatable
	Units() units.Context
}

// Initializer holds validated assignments.
type Initializer struct {
	entities    *entity.Registry
	cells       *cell.Registry
	assignments map[Key]InitialConcentration
}

// New creates an initializer validating against the given registries.
func New(entities *entity.Registry, cells *cell.Registry) *Initializer {
	return &Initializer{
		entities:    entities,
		cells:       cells,
		assignments: make(map[Key]InitialConcentration),
	}
}

// Add validates ic and stores it, replacing any assignment with the same
// key.
func (in *Initializer) Add(ic InitialConcentration) error {
	if !in.cells.HasSubsection(ic.Subsection) {
		return fmt.Errorf("initializer: %w: %s", cell.ErrUnknownSubsection, ic.Subsection)
	}
	if _, err := in.entities.Get(ic.Entity); err != nil {
		return fmt.Errorf("initializer: %w", err)
	}
	if ic.Region != "" {
		region, ok := in.cells.Region(ic.Region)
		if !ok {
			return fmt.Errorf("%w: unknown region %q", ErrInvalidAssignment, ic.Region)
		}
		if !region.Has(ic.Subsection) {
			return fmt.Errorf("%w: region %s has no subsection %s", ErrInvalidAssignment, ic.Region, ic.Subsection)
		}
	}
	if ic.Value < 0 || math.IsNaN(ic.Value) || math.IsInf(ic.Value, 0) {
		return fmt.Errorf("%w: %s/%s value %v", ErrInvalidAssignment, ic.Subsection, in.entities.Identifier(ic.Entity), ic.Value)
	}
	if ic.AreaDensity && ic.Unit != (units.Unit{}) {
		return fmt.Errorf("%w: area densities are molecules per um^2 and take no unit", ErrInvalidAssignment)
	}
	if !ic.AreaDensity && ic.Unit != (units.Unit{}) && ic.Unit.Dimension != units.DimensionConcentration {
		return fmt.Errorf("%w: %s is not a concentration unit", units.ErrIncompatibleUnits, ic.Unit.Symbol)
	}
	in.assignments[ic.Key()] = ic
	return nil
}

// Len returns the number of assignments.
func (in *Initializer) Len() int {
	return len(in.assignments)
}

// Assignments returns the assignments in application order: unrestricted
// ones first, then by region, subsection and entity.
func (in *Initializer) Assignments() []InitialConcentration {
	out := make([]InitialConcentration, 0, len(in.assignments))
	for _, ic := range in.assignments {
		out = append(out, ic)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key(), out[j].Key()
		if a.Region != b.Region {
			return a.Region < b.Region
		}
		if a.Subsection != b.Subsection {
			return a.Subsection < b.Subsection
		}
		return a.Entity < b.Entity
	})
	return out
}

// Initialize writes every assignment into every matching Updatable and
// returns the number of values written. A region-restricted assignment is
// applied after, and so overrides, an unrestricted one for the same
// subsection and entity.
func (in *Initializer) Initialize(target Target) (int, error) {
	ctx := target.Units()
	if err := ctx.Validate(); err != nil {
		return 0, err
	}
	updatables := target.Updatables()

	written := 0
	for _, ic := range in.Assignments() {
		for _, u := range updatables {
			region := u.Region()
			if region == nil || !region.Has(ic.Subsection) {
				continue
			}
			if ic.Region != "" && region.Identifier() != ic.Region {
				continue
			}
			value, err := Concentration(ic, u, ctx)
			if err != nil {
				return written, err
			}
			if err := u.Concentrations().Set(ic.Subsection, ic.Entity, value); err != nil {
				return written, fmt.Errorf("initializer: %s: %w", u.ID(), err)
			}
			written++
		}
	}
	return written, nil
}

// Concentration returns the mol/L value ic assigns to u.
func Concentration(ic InitialConcentration, u topology.Updatable, ctx units.Context) (float64, error) {
	if ic.AreaDensity {
		return AreaToConcentration(ic.Value, u.MembraneArea(), ctx), nil
	}
	if ic.Unit == (units.Unit{}) {
		return ic.Value, nil
	}
	return units.Convert(ic.Value, ic.Unit, units.Molar)
}

// AreaToConcentration converts a density in molecules per um^2 over area
// um^2 into mol/L.
func AreaToConcentration(density, area float64, ctx units.Context) float64 {
	molecules := density * area
	return ctx.MoleculesToConcentration(molecules)
}
