// Package displacement moves vesicles through space.
//
// Displacement modules only propose offsets and deferred spawn or removal
// requests; positions change in the driver's apply phase. The one exception
// is the vesicle state tag, which propulsion flips immediately when its
// motor is depleted.
package displacement

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"

	"github.com/nvandessel/cellsim/internal/feature"
	"github.com/nvandessel/cellsim/internal/module"
	"github.com/nvandessel/cellsim/internal/topology"
)

// ErrInvalidDisplacement is returned for malformed definitions.
var ErrInvalidDisplacement = errors.New("displacement: invalid definition")

// Brownian applies free diffusion to unattached vesicles. The per-axis
// offset is normal with sigma = sqrt(2 D), D scaled to space units^2 per
// step.
type Brownian struct {
	Name        string
	Diffusivity string
}

// Module builds the Brownian motion module.
func (b Brownian) Module(set *feature.Set) (*module.Module, error) {
	if b.Name == "" || b.Diffusivity == "" {
		return nil, fmt.Errorf("%w: brownian motion needs a name and a diffusivity", ErrInvalidDisplacement)
	}
	var m *module.Module
	built, err := module.New(b.Name).
		Requires(b.Diffusivity).
		Function("jiggle", module.VesicleInState(topology.Unattached), func(step *module.StepView, u topology.View) (module.Output, error) {
			return b.Compute(step, u, m.Feature(b.Diffusivity).Scaled())
		}).
		Build(set)
	if err != nil {
		return nil, err
	}
	m = built
	return m, nil
}

// Compute draws the offset for u. The draw depends only on the simulation
// seed, the step and the vesicle ID.
func (b Brownian) Compute(step *module.StepView, u topology.View, d float64) (module.Output, error) {
	var out module.Output
	if d < 0 {
		return out, fmt.Errorf("%w: negative diffusivity %v", ErrInvalidDisplacement, d)
	}
	if d == 0 {
		return out, nil
	}
	rng := Source(step.Seed, step.Step, u.ID)
	sigma := math.Sqrt(2 * d)
	out.Displacement = topology.Vector2{X: sigma * rng.NormFloat64(), Y: sigma * rng.NormFloat64()}
	return out, nil
}

// Source returns a random source keyed by (seed, step, id).
func Source(seed int64, step uint64, id string) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return rand.New(rand.NewPCG(uint64(seed)^step*0x9e3779b97f4a7c15, h.Sum64()))
}
