package reaction

import (
	"fmt"
	"sync"

	"github.com/nvandessel/cellsim/internal/cell"
	"github.com/nvandessel/cellsim/internal/entity"
	"github.com/nvandessel/cellsim/internal/topology"
)

// Behavior enumerates the ReactantSets of a reaction for one Updatable.
type Behavior interface {
	// Generate returns the applicable sets for u; nil means none.
	Generate(u topology.View) []ReactantSet

	// Refresh updates per-step caches. It runs once per step, before any
	// Generate call of that step.
	Refresh() error
}

// Static mirrors a fixed list of declared reactants.
type Static struct {
	set ReactantSet
}

// NewStatic validates the reactants and returns a Static behavior.
func NewStatic(reactants ...Reactant) (*Static, error) {
	set, err := newSet(reactants)
	if err != nil {
		return nil, err
	}
	return &Static{set: set}, nil
}

// Set returns the declared set.
func (s *Static) Set() ReactantSet { return s.set }

// Generate returns the declared set when the Updatable's region provides
// every reactant's topology.
func (s *Static) Generate(u topology.View) []ReactantSet {
	if !s.set.Resolvable(u.Region) {
		return nil
	}
	return []ReactantSet{s.set}
}

func (s *Static) Refresh() error { return nil }

// BindingSite describes where the partners of a complex reaction live.
type BindingSite struct {
	Binder         entity.ID
	BinderTopology cell.Topology
	Bindee         entity.ID
	BindeeTopology cell.Topology

	// ComplexTopology is where the complex is placed, usually the binder's
	// or the membrane.
	ComplexTopology cell.Topology
}

func (b BindingSite) validate(reg *entity.Registry) error {
	if reg == nil {
		return fmt.Errorf("%w: binding needs an entity registry", ErrInvalidReaction)
	}
	for _, id := range []entity.ID{b.Binder, b.Bindee} {
		if _, err := reg.Get(id); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidReaction, err)
		}
	}
	for _, top := range []cell.Topology{b.BinderTopology, b.BindeeTopology, b.ComplexTopology} {
		if _, err := cell.ParseTopology(string(top)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidReaction, err)
		}
	}
	return nil
}

// pairing is one partner together with the complex it forms.
type pairing struct {
	partner entity.ID
	complex entity.ID
}

// ComplexBinding generates one set per partner entity: the bindee itself
// or any complex containing it that does not already contain the binder.
// Each set is binder + partner -> binder:partner.
//
// Complexes are registered during Refresh, which runs sequentially, so
// entity IDs do not depend on worker scheduling.
type ComplexBinding struct {
	site BindingSite
	reg  *entity.Registry

	mu       sync.RWMutex
	pairings []pairing
	scanned  int
}

// NewComplexBinding creates a binding behavior and registers the complexes
// for all partners currently in reg.
func NewComplexBinding(reg *entity.Registry, site BindingSite) (*ComplexBinding, error) {
	if err := site.validate(reg); err != nil {
		return nil, err
	}
	b := &ComplexBinding{site: site, reg: reg}
	if err := b.Refresh(); err != nil {
		return nil, err
	}
	return b, nil
}

// Refresh registers complexes for partners added to the registry since the
// last scan.
func (b *ComplexBinding) Refresh() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	all := b.reg.All()
	for _, e := range all[b.scanned:] {
		if !b.reg.Contains(e.ID, b.site.Bindee) || b.reg.Contains(e.ID, b.site.Binder) {
			continue
		}
		c, err := b.reg.Bind(b.site.Binder, e.ID)
		if err != nil {
			return fmt.Errorf("bind %s to %s: %w", b.reg.Identifier(b.site.Binder), e.Identifier, err)
		}
		b.pairings = append(b.pairings, pairing{partner: e.ID, complex: c})
	}
	b.scanned = len(all)
	return nil
}

// Generate returns one set per partner present with positive concentration
// while the binder is present, or whose complex is present (so reversible
// kinetics can dissociate it).
func (b *ComplexBinding) Generate(u topology.View) []ReactantSet {
	b.mu.RLock()
	pairings := b.pairings
	b.mu.RUnlock()

	binder := Reactant{Entity: b.site.Binder, Stoichiometry: 1, Topology: b.site.BinderTopology, Role: Substrate}
	var sets []ReactantSet
	for _, p := range pairings {
		set := ReactantSet{
			Substrates: []Reactant{
				binder,
				{Entity: p.partner, Stoichiometry: 1, Topology: b.site.BindeeTopology, Role: Substrate},
			},
			Products: []Reactant{
				{Entity: p.complex, Stoichiometry: 1, Topology: b.site.ComplexTopology, Role: Product},
			},
		}
		if !set.Resolvable(u.Region) {
			continue
		}
		forward := concentrationOf(u, set.Substrates[0]) > 0 && concentrationOf(u, set.Substrates[1]) > 0
		backward := concentrationOf(u, set.Products[0]) > 0
		if forward || backward {
			sets = append(sets, set)
		}
	}
	return sets
}

// ComplexDissociation generates one set per present complex containing the
// binder: complex -> binder + remainder.
type ComplexDissociation struct {
	site BindingSite
	reg  *entity.Registry

	mu      sync.RWMutex
	splits  []split
	scanned int
}

type split struct {
	complex   entity.ID
	remainder entity.ID
}

// NewComplexDissociation creates a dissociation behavior. Bindee in site is
// ignored; every complex containing the binder qualifies.
func NewComplexDissociation(reg *entity.Registry, site BindingSite) (*ComplexDissociation, error) {
	site.Bindee = site.Binder
	if err := site.validate(reg); err != nil {
		return nil, err
	}
	d := &ComplexDissociation{site: site, reg: reg}
	if err := d.Refresh(); err != nil {
		return nil, err
	}
	return d, nil
}

// Refresh registers remainders for complexes added since the last scan.
func (d *ComplexDissociation) Refresh() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	all := d.reg.All()
	for _, e := range all[d.scanned:] {
		if !e.IsComplex() || !directlyContains(e, d.site.Binder) {
			continue
		}
		rest, err := d.reg.Remove(e.ID, d.site.Binder)
		if err != nil {
			return fmt.Errorf("split %s: %w", e.Identifier, err)
		}
		d.splits = append(d.splits, split{complex: e.ID, remainder: rest})
	}
	d.scanned = len(all)
	return nil
}

// Generate returns one set per complex present in the complex topology.
func (d *ComplexDissociation) Generate(u topology.View) []ReactantSet {
	d.mu.RLock()
	splits := d.splits
	d.mu.RUnlock()

	var sets []ReactantSet
	for _, s := range splits {
		set := ReactantSet{
			Substrates: []Reactant{
				{Entity: s.complex, Stoichiometry: 1, Topology: d.site.ComplexTopology, Role: Substrate},
			},
			Products: []Reactant{
				{Entity: d.site.Binder, Stoichiometry: 1, Topology: d.site.BinderTopology, Role: Product},
				{Entity: s.remainder, Stoichiometry: 1, Topology: d.site.BindeeTopology, Role: Product},
			},
		}
		if !set.Resolvable(u.Region) {
			continue
		}
		if concentrationOf(u, set.Substrates[0]) > 0 {
			sets = append(sets, set)
		}
	}
	return sets
}

func directlyContains(e entity.Entity, part entity.ID) bool {
	for _, p := range e.Parts {
		if p.Entity == part {
			return true
		}
	}
	return false
}
