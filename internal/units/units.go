// Package units provides the small unit system the simulation core needs:
// time and length units with SI factors, conversion between them, and the
// discretization context (time step and space unit) every scaled parameter
// is expressed in.
package units

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Avogadro is the number of entities per mole (CODATA 2014).
const Avogadro = 6.022140857e23

// litresPerCubicMicrometre converts um^3 to L.
const litresPerCubicMicrometre = 1e-15

var (
	// ErrUnknownUnit is returned when a unit symbol cannot be parsed.
	ErrUnknownUnit = errors.New("units: unknown unit")

	// ErrIncompatibleUnits is returned when converting between dimensions.
	ErrIncompatibleUnits = errors.New("units: incompatible dimensions")
)

// Dimension is the physical dimension of a Unit.
type Dimension string

const (
	DimensionTime          Dimension = "time"
	DimensionLength        Dimension = "length"
	DimensionConcentration Dimension = "concentration"
)

// Unit is a unit with its factor relative to the base unit of its
// dimension: seconds, metres or mol/L.
type Unit struct {
	Symbol    string
	Dimension Dimension
	Factor    float64
}

var (
	Second      = Unit{Symbol: "s", Dimension: DimensionTime, Factor: 1}
	Millisecond = Unit{Symbol: "ms", Dimension: DimensionTime, Factor: 1e-3}
	Microsecond = Unit{Symbol: "us", Dimension: DimensionTime, Factor: 1e-6}
	Minute      = Unit{Symbol: "min", Dimension: DimensionTime, Factor: 60}

	Metre      = Unit{Symbol: "m", Dimension: DimensionLength, Factor: 1}
	Millimetre = Unit{Symbol: "mm", Dimension: DimensionLength, Factor: 1e-3}
	Micrometre = Unit{Symbol: "um", Dimension: DimensionLength, Factor: 1e-6}
	Nanometre  = Unit{Symbol: "nm", Dimension: DimensionLength, Factor: 1e-9}

	Molar      = Unit{Symbol: "M", Dimension: DimensionConcentration, Factor: 1}
	Millimolar = Unit{Symbol: "mM", Dimension: DimensionConcentration, Factor: 1e-3}
	Micromolar = Unit{Symbol: "uM", Dimension: DimensionConcentration, Factor: 1e-6}
	Nanomolar  = Unit{Symbol: "nM", Dimension: DimensionConcentration, Factor: 1e-9}
)

var bySymbol = map[string]Unit{
	"s": Second, "ms": Millisecond, "us": Microsecond, "µs": Microsecond, "min": Minute,
	"m": Metre, "mm": Millimetre, "um": Micrometre, "µm": Micrometre, "nm": Nanometre,
	"M": Molar, "mM": Millimolar, "uM": Micromolar, "µM": Micromolar, "nM": Nanomolar,
}

// Parse resolves a unit symbol such as "ms" or "um".
func Parse(symbol string) (Unit, error) {
	u, ok := bySymbol[strings.TrimSpace(symbol)]
	if !ok {
		return Unit{}, fmt.Errorf("%w: %q", ErrUnknownUnit, symbol)
	}
	return u, nil
}

// Convert expresses value given in from as a value in to.
func Convert(value float64, from, to Unit) (float64, error) {
	if from.Dimension != to.Dimension {
		return 0, fmt.Errorf("%w: %s to %s", ErrIncompatibleUnits, from.Symbol, to.Symbol)
	}
	if from == to {
		return value, nil
	}
	return value * from.Factor / to.Factor, nil
}

// Context is the active discretization. TimeStep is the length of one
// simulation step in TimeUnit, SpaceUnit is the length of one simulation
// length unit in micrometres.
type Context struct {
	TimeStep  float64
	TimeUnit  Unit
	SpaceUnit float64
}

// DefaultContext returns a 1 ms step with a space unit of 100 um.
func DefaultContext() Context {
	return Context{
		TimeStep:  1,
		TimeUnit:  Millisecond,
		SpaceUnit: 100,
	}
}

// Validate checks the context describes a usable discretization.
func (c Context) Validate() error {
	if !(c.TimeStep > 0) || math.IsInf(c.TimeStep, 0) {
		return fmt.Errorf("units: time step must be positive, got %v", c.TimeStep)
	}
	if c.TimeUnit.Dimension != DimensionTime {
		return fmt.Errorf("%w: time unit %q", ErrIncompatibleUnits, c.TimeUnit.Symbol)
	}
	if !(c.SpaceUnit > 0) || math.IsInf(c.SpaceUnit, 0) {
		return fmt.Errorf("units: space unit must be positive, got %v", c.SpaceUnit)
	}
	return nil
}

// StepSeconds returns the time step in seconds.
func (c Context) StepSeconds() float64 {
	return c.TimeStep * c.TimeUnit.Factor
}

// SpaceUnitMetres returns the space unit in metres.
func (c Context) SpaceUnitMetres() float64 {
	return c.SpaceUnit * Micrometre.Factor
}

// VolumeLitres returns the volume of one cubed space unit in litres. All
// concentrations in the simulation are expressed as mol per this volume.
func (c Context) VolumeLitres() float64 {
	return c.SpaceUnit * c.SpaceUnit * c.SpaceUnit * litresPerCubicMicrometre
}

// MoleculesToConcentration converts a molecule count into a concentration
// relative to the context's volume unit.
func (c Context) MoleculesToConcentration(molecules float64) float64 {
	return molecules / (Avogadro * c.VolumeLitres())
}

// ConcentrationToMolecules is the inverse of MoleculesToConcentration.
func (c Context) ConcentrationToMolecules(concentration float64) float64 {
	return concentration * Avogadro * c.VolumeLitres()
}
