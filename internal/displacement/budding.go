package displacement

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/nvandessel/cellsim/internal/cell"
	"github.com/nvandessel/cellsim/internal/entity"
	"github.com/nvandessel/cellsim/internal/feature"
	"github.com/nvandessel/cellsim/internal/module"
	"github.com/nvandessel/cellsim/internal/topology"
)

// vesicleNamespace seeds the name-based UUIDs of budded vesicles.
var vesicleNamespace = uuid.MustParse("5b0e4d61-2f1a-4c3e-9a57-6f0d3c2b8e41")

// Budding pinches a vesicle off a node whenever the node's cargo
// concentration reaches Threshold. The vesicle carries Load of the cargo
// and the node loses the same amount.
type Budding struct {
	Name      string
	Cargo     entity.ID
	Topology  cell.Topology // cargo topology, in the node and the vesicle
	Threshold float64
	Load      float64

	Region *cell.Region // region of budded vesicles
	Radius float64      // um
	State  topology.VesicleState
}

// Validate checks the definition.
func (b Budding) Validate() error {
	switch {
	case b.Name == "":
		return fmt.Errorf("%w: budding needs a name", ErrInvalidDisplacement)
	case b.Cargo < 0:
		return fmt.Errorf("%w: %s has no cargo entity", ErrInvalidDisplacement, b.Name)
	case !(b.Load > 0) || b.Threshold < b.Load:
		return fmt.Errorf("%w: %s needs 0 < load <= threshold", ErrInvalidDisplacement, b.Name)
	case b.Region == nil || !(b.Radius > 0):
		return fmt.Errorf("%w: %s needs a vesicle region and radius", ErrInvalidDisplacement, b.Name)
	}
	if _, ok := b.Region.Subsection(b.Topology); !ok {
		return fmt.Errorf("%w: vesicle region %s has no %s subsection", ErrInvalidDisplacement, b.Region.Identifier(), b.Topology)
	}
	return nil
}

// Module builds the budding module. It applies to nodes only.
func (b Budding) Module(set *feature.Set) (*module.Module, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return module.New(b.Name).
		Function("bud", module.NodesOnly, b.Compute).
		Build(set)
}

// Compute requests at most one vesicle per node and step. The vesicle ID is
// derived from the step and node so reruns produce the same IDs.
func (b Budding) Compute(step *module.StepView, u topology.View) (module.Output, error) {
	var out module.Output
	sub, ok := u.Region.Subsection(b.Topology)
	if !ok || u.Concentrations.Get(sub, b.Cargo) < b.Threshold {
		return out, nil
	}

	id := "v-" + uuid.NewSHA1(vesicleNamespace, fmt.Appendf(nil, "%d/%d/%s/%s", step.Seed, step.Step, b.Name, u.ID)).String()
	v := topology.NewVesicleWithID(id, b.Region, u.Position, b.Radius)
	v.SetState(b.State)
	vsub, _ := b.Region.Subsection(b.Topology)
	if err := v.Concentrations().Set(vsub, b.Cargo, b.Load); err != nil {
		return out, err
	}

	out.AddDelta(sub, b.Cargo, -b.Load)
	out.Deltas[0].Module = b.Name
	out.Spawns = append(out.Spawns, v)
	return out, nil
}
