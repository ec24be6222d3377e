package reaction

import (
	"fmt"
	"math"

	"github.com/nvandessel/cellsim/internal/topology"
)

// RateFunc returns the step-scaled value of a named rate feature.
type RateFunc func(name string) float64

// KineticLaw maps a ReactantSet's concentrations to a velocity: the
// concentration change per step of one stoichiometric unit. A positive
// velocity is net forward flux, a negative one net backward flux.
type KineticLaw interface {
	// Features lists the feature names the law reads.
	Features() []string

	// Validate checks that the law can be applied to a reaction with the
	// given declared reactants.
	Validate(set ReactantSet) error

	// Velocity evaluates the law for one set against u.
	Velocity(set ReactantSet, u topology.View, rate RateFunc) float64
}

// MassAction is irreversible mass action: v = k * prod [S]^order, gated by
// the presence of every catalyst.
type MassAction struct {
	Rate string
}

func (l MassAction) Features() []string { return []string{l.Rate} }

func (l MassAction) Validate(set ReactantSet) error {
	if l.Rate == "" {
		return fmt.Errorf("%w: mass action needs a rate feature", ErrInvalidReaction)
	}
	if len(set.Substrates) == 0 {
		return fmt.Errorf("%w: mass action needs at least one substrate", ErrInvalidReaction)
	}
	return nil
}

func (l MassAction) Velocity(set ReactantSet, u topology.View, rate RateFunc) float64 {
	if !catalystsPresent(set, u) {
		return 0
	}
	return rate(l.Rate) * product(set.Substrates, u)
}

// ReversibleMassAction is v = kf * prod [S]^order - kb * prod [P]^order.
type ReversibleMassAction struct {
	Forward  string
	Backward string
}

func (l ReversibleMassAction) Features() []string { return []string{l.Forward, l.Backward} }

func (l ReversibleMassAction) Validate(set ReactantSet) error {
	if l.Forward == "" || l.Backward == "" {
		return fmt.Errorf("%w: reversible mass action needs forward and backward rates", ErrInvalidReaction)
	}
	if len(set.Substrates) == 0 || len(set.Products) == 0 {
		return fmt.Errorf("%w: reversible mass action needs substrates and products", ErrInvalidReaction)
	}
	return nil
}

func (l ReversibleMassAction) Velocity(set ReactantSet, u topology.View, rate RateFunc) float64 {
	if !catalystsPresent(set, u) {
		return 0
	}
	return rate(l.Forward)*product(set.Substrates, u) - rate(l.Backward)*product(set.Products, u)
}

// MichaelisMenten is v = kcat * [E] * [S] / (Km + [S]) for a single
// substrate and the sum of catalyst concentrations as [E].
type MichaelisMenten struct {
	TurnoverNumber    string // kcat, 1/s
	MichaelisConstant string // Km, mol/L
}

func (l MichaelisMenten) Features() []string {
	return []string{l.TurnoverNumber, l.MichaelisConstant}
}

func (l MichaelisMenten) Validate(set ReactantSet) error {
	if l.TurnoverNumber == "" || l.MichaelisConstant == "" {
		return fmt.Errorf("%w: michaelis-menten needs kcat and km features", ErrInvalidReaction)
	}
	if len(set.Substrates) != 1 {
		return fmt.Errorf("%w: michaelis-menten needs exactly one substrate, got %d", ErrInvalidReaction, len(set.Substrates))
	}
	if len(set.Catalysts) == 0 {
		return fmt.Errorf("%w: michaelis-menten needs a catalyst", ErrInvalidReaction)
	}
	return nil
}

func (l MichaelisMenten) Velocity(set ReactantSet, u topology.View, rate RateFunc) float64 {
	s := concentrationOf(u, set.Substrates[0])
	if s <= 0 {
		return 0
	}
	enzyme := 0.0
	for _, c := range set.Catalysts {
		enzyme += concentrationOf(u, c)
	}
	if enzyme <= 0 {
		return 0
	}
	km := rate(l.MichaelisConstant)
	return rate(l.TurnoverNumber) * enzyme * s / (km + s)
}

// product returns prod [r]^order over rs; zero as soon as any is zero.
func product(rs []Reactant, u topology.View) float64 {
	p := 1.0
	for _, r := range rs {
		c := concentrationOf(u, r)
		if c <= 0 {
			return 0
		}
		order := r.EffectiveOrder()
		if order == 1 {
			p *= c
		} else {
			p *= math.Pow(c, order)
		}
	}
	return p
}

func catalystsPresent(set ReactantSet, u topology.View) bool {
	for _, c := range set.Catalysts {
		if concentrationOf(u, c) <= 0 {
			return false
		}
	}
	return true
}
