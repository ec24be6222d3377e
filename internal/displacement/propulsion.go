package displacement

import (
	"fmt"
	"math"

	"github.com/nvandessel/cellsim/internal/cell"
	"github.com/nvandessel/cellsim/internal/entity"
	"github.com/nvandessel/cellsim/internal/feature"
	"github.com/nvandessel/cellsim/internal/module"
	"github.com/nvandessel/cellsim/internal/topology"
)

// Propulsion drives propelled vesicles toward Target. Speed per step is
// Speed (space units per step per mol/L of motor) times the motor
// concentration, and the motor is consumed at Consumption per step.
//
// When the motor concentration is below Threshold the vesicle is switched to
// Unattached on the spot and the step proposes nothing for it.
type Propulsion struct {
	Name          string
	Motor         entity.ID
	MotorTopology cell.Topology
	Speed         string // feature, dimension feature.Velocity
	Consumption   string // feature, dimension feature.PerSecond
	Threshold     float64
	Target        topology.Vector2

	// RemoveOnArrival requests removal of vesicles that reach Target.
	RemoveOnArrival bool

	// Vesicles resolves live vesicles for the immediate state change.
	Vesicles *topology.VesicleLayer
}

// Validate checks the definition.
func (p Propulsion) Validate() error {
	switch {
	case p.Name == "":
		return fmt.Errorf("%w: propulsion needs a name", ErrInvalidDisplacement)
	case p.Motor < 0:
		return fmt.Errorf("%w: %s has no motor entity", ErrInvalidDisplacement, p.Name)
	case p.Speed == "" || p.Consumption == "":
		return fmt.Errorf("%w: %s needs speed and consumption features", ErrInvalidDisplacement, p.Name)
	case p.Threshold < 0:
		return fmt.Errorf("%w: %s has a negative threshold", ErrInvalidDisplacement, p.Name)
	case p.Vesicles == nil:
		return fmt.Errorf("%w: %s needs the vesicle layer", ErrInvalidDisplacement, p.Name)
	}
	if _, err := cell.ParseTopology(string(p.MotorTopology)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDisplacement, err)
	}
	return nil
}

// Module builds the propulsion module. It applies to propelled vesicles
// only.
func (p Propulsion) Module(set *feature.Set) (*module.Module, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	var m *module.Module
	built, err := module.New(p.Name).
		Requires(p.Speed, p.Consumption).
		Function("propel", module.VesicleInState(topology.Propelled), func(_ *module.StepView, u topology.View) (module.Output, error) {
			return p.Compute(u, m.Feature(p.Speed).Scaled(), m.Feature(p.Consumption).Scaled())
		}).
		Build(set)
	if err != nil {
		return nil, err
	}
	m = built
	return m, nil
}

// Compute proposes the offset and motor consumption for u.
func (p Propulsion) Compute(u topology.View, speed, consumption float64) (module.Output, error) {
	var out module.Output
	sub, ok := u.Region.Subsection(p.MotorTopology)
	if !ok {
		return out, nil
	}

	motor := u.Concentrations.Get(sub, p.Motor)
	if motor < p.Threshold || motor == 0 {
		p.detach(u.ID)
		return out, nil
	}

	toTarget := p.Target.Sub(u.Position)
	dist := toTarget.Length()
	if dist == 0 {
		if p.RemoveOnArrival {
			out.Removals = append(out.Removals, u.ID)
		}
		return out, nil
	}

	travel := speed * motor
	if travel < 0 {
		return out, fmt.Errorf("%w: %s: negative speed %v", ErrInvalidDisplacement, p.Name, speed)
	}
	if travel >= dist {
		travel = dist
		if p.RemoveOnArrival {
			out.Removals = append(out.Removals, u.ID)
		}
	}
	out.Displacement = toTarget.Normalize().Scale(travel)

	used := math.Min(motor, consumption*motor)
	out.AddDelta(sub, p.Motor, -used)
	for i := range out.Deltas {
		out.Deltas[i].Module = p.Name
	}
	return out, nil
}

func (p Propulsion) detach(id string) {
	if v, ok := p.Vesicles.Get(id); ok {
		v.CompareAndSetState(topology.Propelled, topology.Unattached)
	}
}
