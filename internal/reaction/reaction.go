package reaction

import (
	"fmt"
	"math"

	"github.com/nvandessel/cellsim/internal/feature"
	"github.com/nvandessel/cellsim/internal/module"
	"github.com/nvandessel/cellsim/internal/topology"
	"github.com/nvandessel/cellsim/internal/units"
)

// Reaction couples a Behavior with a KineticLaw.
type Reaction struct {
	Name      string
	Behavior  Behavior
	Law       KineticLaw
	Condition module.Condition
}

// New validates a reaction. For static behaviors the law is validated
// against the declared set.
func New(name string, behavior Behavior, law KineticLaw) (*Reaction, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidReaction)
	}
	if behavior == nil || law == nil {
		return nil, fmt.Errorf("%w: %s needs a behavior and a kinetic law", ErrInvalidReaction, name)
	}
	if s, ok := behavior.(*Static); ok {
		if err := law.Validate(s.Set()); err != nil {
			return nil, fmt.Errorf("reaction %s: %w", name, err)
		}
	}
	return &Reaction{Name: name, Behavior: behavior, Law: law, Condition: module.Always}, nil
}

// Module builds the simulation module for the reaction, resolving the
// law's features in set.
func (r *Reaction) Module(set *feature.Set) (*module.Module, error) {
	var m *module.Module
	rate := func(name string) float64 {
		return m.Feature(name).Scaled()
	}

	built, err := module.New(r.Name).
		Requires(r.Law.Features()...).
		Function("react", r.Condition, func(_ *module.StepView, u topology.View) (module.Output, error) {
			return r.Compute(u, rate)
		}).
		OnRefresh(func(units.Context) error {
			return r.Behavior.Refresh()
		}).
		Build(set)
	if err != nil {
		return nil, err
	}
	m = built
	return m, nil
}

// Compute runs generate, evaluate and distribute for one Updatable.
func (r *Reaction) Compute(u topology.View, rate RateFunc) (module.Output, error) {
	var out module.Output
	for _, set := range r.Behavior.Generate(u) {
		v := r.Law.Velocity(set, u, rate)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return module.Output{}, fmt.Errorf("reaction %s: non-finite velocity at %s", r.Name, u.ID)
		}
		if v == 0 {
			continue
		}
		distribute(&out, set, v, u)
	}
	for i := range out.Deltas {
		out.Deltas[i].Module = r.Name
	}
	return out, nil
}

// distribute converts a velocity into one delta per substrate and product.
// Catalysts have zero signed stoichiometry and contribute nothing.
func distribute(out *module.Output, set ReactantSet, velocity float64, u topology.View) {
	for _, rc := range set.All() {
		sub, ok := u.Region.Subsection(rc.Topology)
		if !ok {
			continue
		}
		out.AddDelta(sub, rc.Entity, velocity*rc.SignedStoichiometry())
	}
}
