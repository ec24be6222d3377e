// Package feature holds evidence-tagged simulation parameters (rate
// constants, diffusivities, thresholds) and their step-scaled derivations.
//
// A Feature is declared once in SI base units together with its dimension.
// Before every step the owning Set is rescaled to the active discretization
// so that delta functions read values already expressed per simulation step
// and per space unit. Scaled values are written only by Rescale and are
// read-only while a step computes.
package feature

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/nvandessel/cellsim/internal/units"
)

var (
	// ErrMissingFeature is returned when a required feature is not present.
	ErrMissingFeature = errors.New("feature: missing required feature")

	// ErrInvalidFeature is returned for malformed feature declarations.
	ErrInvalidFeature = errors.New("feature: invalid feature")
)

// Dimension records the exponents of time and length in a feature's unit.
// A first order rate constant (1/s) is {Time: -1}, a diffusivity (m^2/s)
// is {Time: -1, Length: 2}, a dimensionless threshold is the zero value.
type Dimension struct {
	Time   int `json:"time" yaml:"time"`
	Length int `json:"length" yaml:"length"`
}

// Common dimensions.
var (
	Dimensionless = Dimension{}
	PerSecond     = Dimension{Time: -1}
	Diffusivity   = Dimension{Time: -1, Length: 2}
	Velocity      = Dimension{Time: -1, Length: 1}
)

// Feature is a named parameter with provenance.
type Feature struct {
	Name      string
	Value     float64
	Dimension Dimension
	Evidence  Evidence

	mu         sync.RWMutex
	scaled     float64
	halfScaled float64
	rescaled   bool
}

// New creates a feature with the given SI value.
func New(name string, value float64, dim Dimension, ev Evidence) (*Feature, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidFeature)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, fmt.Errorf("%w: %s has non-finite value %v", ErrInvalidFeature, name, value)
	}
	return &Feature{Name: name, Value: value, Dimension: dim, Evidence: ev}, nil
}

// Rescale derives the per-step values for ctx.
func (f *Feature) Rescale(ctx units.Context) {
	full := scale(f.Value, f.Dimension, ctx.StepSeconds(), ctx.SpaceUnitMetres())
	half := scale(f.Value, f.Dimension, ctx.StepSeconds()/2, ctx.SpaceUnitMetres())

	f.mu.Lock()
	f.scaled = full
	f.halfScaled = half
	f.rescaled = true
	f.mu.Unlock()
}

// Scaled returns the value expressed per simulation step and space unit.
// Before the first Rescale it returns the raw SI value.
func (f *Feature) Scaled() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.rescaled {
		return f.Value
	}
	return f.scaled
}

// HalfScaled returns the value scaled to half a step, for two-stage
// integration schemes.
func (f *Feature) HalfScaled() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.rescaled {
		return f.Value
	}
	return f.halfScaled
}

// scale converts value from SI units into units of (step, space unit).
func scale(value float64, dim Dimension, stepSeconds, spaceMetres float64) float64 {
	out := value
	if dim.Time != 0 {
		out *= math.Pow(stepSeconds, float64(-dim.Time))
	}
	if dim.Length != 0 {
		out *= math.Pow(spaceMetres, float64(-dim.Length))
	}
	return out
}

// Set is the collection of features available to one simulation.
type Set struct {
	mu       sync.RWMutex
	features map[string]*Feature
}

// NewSet creates a set containing the given features. Later duplicates
// replace earlier ones.
func NewSet(fs ...*Feature) *Set {
	s := &Set{features: make(map[string]*Feature, len(fs))}
	for _, f := range fs {
		s.Add(f)
	}
	return s
}

// Add inserts or replaces a feature.
func (s *Set) Add(f *Feature) {
	if f == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.features[f.Name] = f
}

// Get returns the named feature.
func (s *Set) Get(name string) (*Feature, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.features[name]
	return f, ok
}

// Resolve returns the named features in order, failing on the first one
// that is missing.
func (s *Set) Resolve(names ...string) ([]*Feature, error) {
	out := make([]*Feature, 0, len(names))
	for _, n := range names {
		f, ok := s.Get(n)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingFeature, n)
		}
		out = append(out, f)
	}
	return out, nil
}

// Names returns all feature names, sorted.
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.features))
	for n := range s.features {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Rescale rescales every feature in the set.
func (s *Set) Rescale(ctx units.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.features {
		f.Rescale(ctx)
	}
}
