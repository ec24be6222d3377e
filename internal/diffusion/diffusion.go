// Package diffusion moves concentrations between neighbouring graph nodes.
//
// Each node exchanges with every neighbour that resolves the same topology:
// the flux from n to u over one step is D * (c_n - c_u), with D the
// diffusivity scaled to space units squared per step. Both ends of an edge
// compute the same flux with opposite sign, so the total amount summed over
// the graph is unchanged by a step.
package diffusion

import (
	"errors"
	"fmt"

	"github.com/nvandessel/cellsim/internal/cell"
	"github.com/nvandessel/cellsim/internal/entity"
	"github.com/nvandessel/cellsim/internal/feature"
	"github.com/nvandessel/cellsim/internal/module"
	"github.com/nvandessel/cellsim/internal/topology"
)

var (
	// ErrUnstable is returned when the scaled diffusivity is large enough
	// for the explicit update to overshoot.
	ErrUnstable = errors.New("diffusion: time step too large for diffusivity")

	// ErrInvalidDiffusion is returned for malformed definitions.
	ErrInvalidDiffusion = errors.New("diffusion: invalid definition")
)

// Diffusion describes one diffusing species.
type Diffusion struct {
	Name     string
	Entity   entity.ID
	Topology cell.Topology

	// Diffusivity names a feature with dimension feature.Diffusivity.
	Diffusivity string
}

// Validate checks the definition.
func (d Diffusion) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDiffusion)
	}
	if d.Entity < 0 {
		return fmt.Errorf("%w: %s has no entity", ErrInvalidDiffusion, d.Name)
	}
	if _, err := cell.ParseTopology(string(d.Topology)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDiffusion, err)
	}
	if d.Diffusivity == "" {
		return fmt.Errorf("%w: %s needs a diffusivity feature", ErrInvalidDiffusion, d.Name)
	}
	return nil
}

// Module builds the node-only diffusion module.
func (d Diffusion) Module(set *feature.Set) (*module.Module, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	var m *module.Module
	built, err := module.New(d.Name).
		Requires(d.Diffusivity).
		Function("exchange", module.NodesOnly, func(step *module.StepView, u topology.View) (module.Output, error) {
			return d.Compute(step, u, m.Feature(d.Diffusivity).Scaled())
		}).
		Build(set)
	if err != nil {
		return nil, err
	}
	m = built
	return m, nil
}

// Compute returns the net exchange of u with its neighbours for diffusivity
// coefficient k (space units^2 per step).
func (d Diffusion) Compute(step *module.StepView, u topology.View, k float64) (module.Output, error) {
	var out module.Output
	sub, ok := u.Region.Subsection(d.Topology)
	if !ok || k == 0 {
		return out, nil
	}
	if k < 0 {
		return out, fmt.Errorf("%w: negative diffusivity %v", ErrInvalidDiffusion, k)
	}
	if k*float64(len(u.Neighbours)) > 1 {
		return out, fmt.Errorf("%w: %s at %s: coefficient %v with %d neighbours",
			ErrUnstable, d.Name, u.ID, k, len(u.Neighbours))
	}

	own := u.Concentrations.Get(sub, d.Entity)
	flux := 0.0
	for _, id := range u.Neighbours {
		n, ok := step.Get(id)
		if !ok {
			continue
		}
		nsub, ok := n.Region.Subsection(d.Topology)
		if !ok {
			continue
		}
		flux += k * (n.Concentrations.Get(nsub, d.Entity) - own)
	}
	out.AddDelta(sub, d.Entity, flux)
	for i := range out.Deltas {
		out.Deltas[i].Module = d.Name
	}
	return out, nil
}
