// Package module defines the uniform contract for every process that
// changes simulation state during a step.
//
// A Module is a value, not a type hierarchy: it carries the features it
// needs, an ordered list of (condition, compute) functions and an optional
// refresh hook. Reactions, diffusion and vesicle displacement all build
// Modules through the same Builder.
package module

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nvandessel/cellsim/internal/cell"
	"github.com/nvandessel/cellsim/internal/entity"
	"github.com/nvandessel/cellsim/internal/feature"
	"github.com/nvandessel/cellsim/internal/topology"
	"github.com/nvandessel/cellsim/internal/units"
)

// ErrInvalidModule is returned for malformed module definitions.
var ErrInvalidModule = errors.New("module: invalid module")

// Delta is a proposed signed change of one concentration.
type Delta struct {
	Module     string
	Subsection cell.Subsection
	Entity     entity.ID
	Value      float64
}

// Identifier is the target of a Delta within a step: one value in one
// Updatable's container. Deltas with equal identifiers are summed.
type Identifier struct {
	Updatable  string
	Subsection cell.Subsection
	Entity     entity.ID
}

// Output is everything one delta function proposes for one Updatable.
type Output struct {
	Deltas []Delta

	// Displacement is a positional offset for the Updatable (vesicles only).
	Displacement topology.Vector2

	// Spawns and Removals change the vesicle collection. They are deferred
	// until the apply phase.
	Spawns   []*topology.Vesicle
	Removals []string
}

// AddDelta appends a concentration delta. Zero values are dropped.
func (o *Output) AddDelta(sub cell.Subsection, e entity.ID, value float64) {
	if value == 0 {
		return
	}
	o.Deltas = append(o.Deltas, Delta{Subsection: sub, Entity: e, Value: value})
}

// Empty reports whether the output proposes nothing.
func (o Output) Empty() bool {
	return len(o.Deltas) == 0 && o.Displacement == (topology.Vector2{}) &&
		len(o.Spawns) == 0 && len(o.Removals) == 0
}

// StepView gives delta functions read-only access to the whole simulation
// state as it was when the step started.
type StepView struct {
	Step  uint64
	Time  float64 // elapsed seconds at step start
	Units units.Context
	Seed  int64

	views map[string]topology.View
}

// NewStepView wraps per-Updatable views for one step.
func NewStepView(step uint64, elapsed float64, ctx units.Context, seed int64, views map[string]topology.View) *StepView {
	return &StepView{Step: step, Time: elapsed, Units: ctx, Seed: seed, views: views}
}

// Get returns the view of the Updatable with id.
func (s *StepView) Get(id string) (topology.View, bool) {
	v, ok := s.views[id]
	return v, ok
}

// Len returns the number of Updatables in the step.
func (s *StepView) Len() int {
	return len(s.views)
}

// Condition decides whether a function applies to an Updatable.
type Condition func(u topology.View) bool

// ComputeFunc proposes changes for one Updatable. It must not retain or
// modify anything reachable from its arguments.
type ComputeFunc func(step *StepView, u topology.View) (Output, error)

// Function is one (condition, compute) pair of a module.
type Function struct {
	Name      string
	Condition Condition
	Compute   ComputeFunc
}

// RefreshFunc recomputes per-step caches once per module per step, after
// the module's features were rescaled.
type RefreshFunc func(ctx units.Context) error

// Module is a registered process.
type Module struct {
	name      string
	features  map[string]*feature.Feature
	required  []string
	functions []Function
	refresh   RefreshFunc
}

// Name returns the module's unique name.
func (m *Module) Name() string {
	return m.name
}

// Feature returns a resolved required feature.
func (m *Module) Feature(name string) *feature.Feature {
	return m.features[name]
}

// RequiredFeatures returns the names the module declared.
func (m *Module) RequiredFeatures() []string {
	return append([]string(nil), m.required...)
}

// Functions returns the module's functions in declaration order.
func (m *Module) Functions() []Function {
	return m.functions
}

// Refresh rescales the module's features and runs the refresh hook.
func (m *Module) Refresh(ctx units.Context) error {
	for _, name := range m.required {
		m.features[name].Rescale(ctx)
	}
	if m.refresh == nil {
		return nil
	}
	if err := m.refresh(ctx); err != nil {
		return fmt.Errorf("refresh %s: %w", m.name, err)
	}
	return nil
}

// Builder assembles a Module.
type Builder struct {
	name      string
	required  []string
	functions []Function
	refresh   RefreshFunc
	err       error
}

// New starts a module definition.
func New(name string) *Builder {
	b := &Builder{name: strings.TrimSpace(name)}
	if b.name == "" {
		b.err = fmt.Errorf("%w: name is required", ErrInvalidModule)
	}
	return b
}

// Requires declares features that must resolve at Build time.
func (b *Builder) Requires(names ...string) *Builder {
	b.required = append(b.required, names...)
	return b
}

// Function adds a delta function. A nil condition means Always.
func (b *Builder) Function(name string, cond Condition, compute ComputeFunc) *Builder {
	if compute == nil && b.err == nil {
		b.err = fmt.Errorf("%w: %s: function %s has no compute func", ErrInvalidModule, b.name, name)
	}
	if cond == nil {
		cond = Always
	}
	b.functions = append(b.functions, Function{Name: name, Condition: cond, Compute: compute})
	return b
}

// OnRefresh sets the per-step refresh hook.
func (b *Builder) OnRefresh(fn RefreshFunc) *Builder {
	b.refresh = fn
	return b
}

// Build resolves the required features against set. A missing feature is a
// setup error.
func (b *Builder) Build(set *feature.Set) (*Module, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.functions) == 0 {
		return nil, fmt.Errorf("%w: %s has no functions", ErrInvalidModule, b.name)
	}

	m := &Module{
		name:      b.name,
		features:  make(map[string]*feature.Feature, len(b.required)),
		required:  dedupe(b.required),
		functions: append([]Function(nil), b.functions...),
		refresh:   b.refresh,
	}
	if len(m.required) > 0 {
		if set == nil {
			return nil, fmt.Errorf("module %s: %w: %s", b.name, feature.ErrMissingFeature, m.required[0])
		}
		resolved, err := set.Resolve(m.required...)
		if err != nil {
			return nil, fmt.Errorf("module %s: %w", b.name, err)
		}
		for _, f := range resolved {
			m.features[f.Name] = f
		}
	}
	return m, nil
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
