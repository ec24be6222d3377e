// Package reaction implements chemical reactions as simulation modules.
//
// Every step a reaction runs three stages per Updatable:
//
//  1. Generate: the Behavior enumerates the ReactantSets that apply to the
//     Updatable's current state (exactly one for a static reaction, one per
//     present partner for complex binding).
//  2. Evaluate: the KineticLaw turns each set's concentrations and the
//     step-scaled rate features into a velocity.
//  3. Distribute: velocity times signed stoichiometry becomes one delta per
//     substrate and product at the reactant's preferred topology.
//
// All sets are processed before the Updatable's output is returned. An
// Updatable with no applicable set contributes nothing.
package reaction

import (
	"errors"
	"fmt"

	"github.com/nvandessel/cellsim/internal/cell"
	"github.com/nvandessel/cellsim/internal/entity"
	"github.com/nvandessel/cellsim/internal/topology"
)

var (
	// ErrInvalidStoichiometry is returned for stoichiometric numbers < 1.
	ErrInvalidStoichiometry = errors.New("reaction: stoichiometric number must be a positive integer")

	// ErrEmptyReaction is returned when a reaction has no substrates and
	// no products.
	ErrEmptyReaction = errors.New("reaction: no substrates or products")

	// ErrInvalidReaction is returned for other malformed definitions.
	ErrInvalidReaction = errors.New("reaction: invalid reaction")
)

// Role is a reactant's part in a reaction.
type Role string

const (
	Substrate Role = "substrate"
	Product   Role = "product"
	Catalyst  Role = "catalyst"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case Substrate, Product, Catalyst:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidReaction, s)
	}
}

// Reactant is a declarative reaction participant.
type Reactant struct {
	Entity        entity.ID
	Stoichiometry int
	Topology      cell.Topology
	Role          Role

	// Order is the exponent used by mass action kinetics. Zero means the
	// stoichiometric number.
	Order float64
}

// NewReactant validates and returns a reactant.
func NewReactant(e entity.ID, stoichiometry int, top cell.Topology, role Role) (Reactant, error) {
	r := Reactant{Entity: e, Stoichiometry: stoichiometry, Topology: top, Role: role}
	return r, r.Validate()
}

// Validate checks the reactant definition.
func (r Reactant) Validate() error {
	if r.Stoichiometry < 1 {
		return fmt.Errorf("%w: got %d for entity %d", ErrInvalidStoichiometry, r.Stoichiometry, r.Entity)
	}
	if r.Entity < 0 {
		return fmt.Errorf("%w: reactant has no entity", ErrInvalidReaction)
	}
	if _, err := cell.ParseTopology(string(r.Topology)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReaction, err)
	}
	if _, err := ParseRole(string(r.Role)); err != nil {
		return err
	}
	if r.Order < 0 {
		return fmt.Errorf("%w: negative reaction order %v", ErrInvalidReaction, r.Order)
	}
	return nil
}

// SignedStoichiometry is negative for substrates, positive for products and
// zero for catalysts.
func (r Reactant) SignedStoichiometry() float64 {
	switch r.Role {
	case Substrate:
		return -float64(r.Stoichiometry)
	case Product:
		return float64(r.Stoichiometry)
	default:
		return 0
	}
}

// EffectiveOrder returns Order, defaulting to the stoichiometric number.
func (r Reactant) EffectiveOrder() float64 {
	if r.Order > 0 {
		return r.Order
	}
	return float64(r.Stoichiometry)
}

// ReactantSet is one concrete combination of participants for one
// Updatable at one step.
type ReactantSet struct {
	Substrates []Reactant
	Products   []Reactant
	Catalysts  []Reactant
}

// All returns every reactant, substrates first.
func (s ReactantSet) All() []Reactant {
	out := make([]Reactant, 0, len(s.Substrates)+len(s.Products)+len(s.Catalysts))
	out = append(out, s.Substrates...)
	out = append(out, s.Products...)
	return append(out, s.Catalysts...)
}

// Resolvable reports whether every reactant's topology exists in region.
func (s ReactantSet) Resolvable(region *cell.Region) bool {
	if region == nil {
		return false
	}
	for _, r := range s.All() {
		if _, ok := region.Subsection(r.Topology); !ok {
			return false
		}
	}
	return true
}

// concentrationOf reads r's concentration from u at r's topology.
func concentrationOf(u topology.View, r Reactant) float64 {
	return u.Concentrations.GetRole(r.Topology, r.Entity)
}

// newSet builds a ReactantSet from a flat list, validating each reactant.
func newSet(reactants []Reactant) (ReactantSet, error) {
	var s ReactantSet
	for _, r := range reactants {
		if err := r.Validate(); err != nil {
			return ReactantSet{}, err
		}
		switch r.Role {
		case Substrate:
			s.Substrates = append(s.Substrates, r)
		case Product:
			s.Products = append(s.Products, r)
		case Catalyst:
			s.Catalysts = append(s.Catalysts, r)
		}
	}
	if len(s.Substrates) == 0 && len(s.Products) == 0 {
		return ReactantSet{}, ErrEmptyReaction
	}
	return s, nil
}
