package scenario

import (
	"fmt"

	"github.com/nvandessel/cellsim/internal/cell"
	"github.com/nvandessel/cellsim/internal/diffusion"
	"github.com/nvandessel/cellsim/internal/displacement"
	"github.com/nvandessel/cellsim/internal/entity"
	"github.com/nvandessel/cellsim/internal/feature"
	"github.com/nvandessel/cellsim/internal/initializer"
	"github.com/nvandessel/cellsim/internal/module"
	"github.com/nvandessel/cellsim/internal/reaction"
	"github.com/nvandessel/cellsim/internal/simulation"
	"github.com/nvandessel/cellsim/internal/topology"
	"github.com/nvandessel/cellsim/internal/units"
)

var dimensions = map[string]feature.Dimension{
	"":              feature.Dimensionless,
	"dimensionless": feature.Dimensionless,
	"per_second":    feature.PerSecond,
	"diffusivity":   feature.Diffusivity,
	"velocity":      feature.Velocity,
}

// builder carries the registries while a scenario is turned into a
// simulation.
type builder struct {
	s        *Scenario
	entities *entity.Registry
	cells    *cell.Registry
	features *feature.Set
	sim      *simulation.Simulation
}

// Build creates a simulation from the scenario, registers its modules and
// applies the initial concentrations.
func (s *Scenario) Build(cfg simulation.Config, opts ...simulation.Option) (*simulation.Simulation, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	b := &builder{
		s:        s,
		entities: entity.NewRegistry(),
		cells:    cell.NewRegistry(),
		features: feature.NewSet(),
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"entities", b.addEntities},
		{"compartments", b.addCompartments},
		{"features", b.addFeatures},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			return nil, fmt.Errorf("scenario %s: %s: %w", s.Name, step.name, err)
		}
	}

	all := append([]simulation.Option{simulation.WithFeatures(b.features)}, opts...)
	sim, err := simulation.New(cfg, b.entities, b.cells, all...)
	if err != nil {
		return nil, err
	}
	b.sim = sim

	steps = []struct {
		name string
		fn   func() error
	}{
		{"graph", b.addGraph},
		{"vesicles", b.addVesicles},
		{"modules", b.addModules},
		{"initial", b.addInitial},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			return nil, fmt.Errorf("scenario %s: %s: %w", s.Name, step.name, err)
		}
	}
	return sim, nil
}

func (b *builder) entity(identifier string) (entity.ID, error) {
	id, ok := b.entities.Lookup(identifier)
	if !ok {
		return entity.None, fmt.Errorf("%w: %q", entity.ErrUnknownEntity, identifier)
	}
	return id, nil
}

func (b *builder) region(identifier string) (*cell.Region, error) {
	r, ok := b.cells.Region(identifier)
	if !ok {
		return nil, fmt.Errorf("%w: unknown region %q", cell.ErrInvalidRegion, identifier)
	}
	return r, nil
}

func (b *builder) addEntities() error {
	for _, e := range b.s.Entities {
		if _, err := b.entities.Add(e.ID, e.Name, e.MolarMass); err != nil {
			return err
		}
	}
	for _, c := range b.s.Complexes {
		parts := make([]entity.Part, 0, len(c.Parts))
		for _, p := range c.Parts {
			id, err := b.entity(p.Entity)
			if err != nil {
				return err
			}
			count := p.Count
			if count == 0 {
				count = 1
			}
			parts = append(parts, entity.Part{Entity: id, Count: count})
		}
		if _, err := b.entities.AddComplex(c.ID, parts...); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) addCompartments() error {
	for _, sub := range b.s.Subsections {
		b.cells.AddSubsection(cell.Subsection(sub))
	}
	for _, spec := range b.s.Regions {
		roles := make(map[cell.Topology]cell.Subsection, 3)
		for top, sub := range map[cell.Topology]string{
			cell.Inner:    spec.Inner,
			cell.Membrane: spec.Membrane,
			cell.Outer:    spec.Outer,
		} {
			if sub != "" {
				roles[top] = cell.Subsection(sub)
			}
		}
		r, err := cell.NewRegion(spec.ID, roles)
		if err != nil {
			return err
		}
		if err := b.cells.AddRegion(r); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) addFeatures() error {
	for _, spec := range b.s.Features {
		dim, ok := dimensions[spec.Dimension]
		if !ok {
			return fmt.Errorf("%w: %s has unknown dimension %q", feature.ErrInvalidFeature, spec.Name, spec.Dimension)
		}
		ev := spec.Evidence
		if ev.SourceType == "" {
			ev = feature.NoEvidence
		}
		f, err := feature.New(spec.Name, spec.Value, dim, ev)
		if err != nil {
			return err
		}
		b.features.Add(f)
	}
	return nil
}

func (b *builder) addGraph() error {
	g := b.sim.Graph()
	if grid := b.s.Graph.Grid; grid != nil {
		r, err := b.region(grid.Region)
		if err != nil {
			return err
		}
		if err := g.AddGrid(grid.Cols, grid.Rows, r, grid.MembraneArea); err != nil {
			return err
		}
	}
	for _, n := range b.s.Graph.Nodes {
		r, err := b.region(n.Region)
		if err != nil {
			return err
		}
		if err := g.AddNode(topology.NewNode(n.ID, r, topology.Vector2{X: n.X, Y: n.Y}, n.MembraneArea)); err != nil {
			return err
		}
	}
	for _, e := range b.s.Graph.Edges {
		if err := g.Connect(e.From, e.To); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) addVesicles() error {
	for i, spec := range b.s.Vesicles {
		r, err := b.region(spec.Region)
		if err != nil {
			return err
		}
		state, err := topology.ParseVesicleState(spec.State)
		if err != nil {
			return err
		}
		id := spec.ID
		if id == "" {
			id = fmt.Sprintf("v%d", i)
		}
		v := topology.NewVesicleWithID(id, r, topology.Vector2{X: spec.X, Y: spec.Y}, spec.Radius)
		v.SetState(state)
		if err := b.sim.Vesicles().Add(v); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) addModules() error {
	for _, spec := range b.s.Reactions {
		m, err := b.reactionModule(spec)
		if err != nil {
			return fmt.Errorf("reaction %s: %w", spec.Name, err)
		}
		if err := b.sim.AddModule(m); err != nil {
			return err
		}
	}
	for _, spec := range b.s.Diffusion {
		m, err := b.diffusionModule(spec)
		if err != nil {
			return fmt.Errorf("diffusion %s: %w", spec.Name, err)
		}
		if err := b.sim.AddModule(m); err != nil {
			return err
		}
	}
	for _, spec := range b.s.Brownian {
		m, err := displacement.Brownian{Name: spec.Name, Diffusivity: spec.Diffusivity}.Module(b.features)
		if err != nil {
			return fmt.Errorf("brownian %s: %w", spec.Name, err)
		}
		if err := b.sim.AddModule(m); err != nil {
			return err
		}
	}
	for _, spec := range b.s.Propulsion {
		m, err := b.propulsionModule(spec)
		if err != nil {
			return fmt.Errorf("propulsion %s: %w", spec.Name, err)
		}
		if err := b.sim.AddModule(m); err != nil {
			return err
		}
	}
	for _, spec := range b.s.Budding {
		m, err := b.buddingModule(spec)
		if err != nil {
			return fmt.Errorf("budding %s: %w", spec.Name, err)
		}
		if err := b.sim.AddModule(m); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) reactionModule(spec ReactionSpec) (*module.Module, error) {
	law, err := kineticLaw(spec.Law)
	if err != nil {
		return nil, err
	}

	var behavior reaction.Behavior
	switch spec.Kind {
	case "", "static":
		reactants := make([]reaction.Reactant, 0, len(spec.Reactants))
		for _, rs := range spec.Reactants {
			r, err := b.reactant(rs)
			if err != nil {
				return nil, err
			}
			reactants = append(reactants, r)
		}
		behavior, err = reaction.NewStatic(reactants...)
	case "binding", "dissociation":
		site, serr := b.site(spec.Site)
		if serr != nil {
			return nil, serr
		}
		if spec.Kind == "binding" {
			behavior, err = reaction.NewComplexBinding(b.entities, site)
		} else {
			behavior, err = reaction.NewComplexDissociation(b.entities, site)
		}
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", reaction.ErrInvalidReaction, spec.Kind)
	}
	if err != nil {
		return nil, err
	}

	r, err := reaction.New(spec.Name, behavior, law)
	if err != nil {
		return nil, err
	}
	if spec.Region != "" {
		if _, err := b.region(spec.Region); err != nil {
			return nil, err
		}
		r.Condition = module.InRegion(spec.Region)
	}
	return r.Module(b.features)
}

func (b *builder) reactant(spec ReactantSpec) (reaction.Reactant, error) {
	id, err := b.entity(spec.Entity)
	if err != nil {
		return reaction.Reactant{}, err
	}
	top, err := cell.ParseTopology(spec.Topology)
	if err != nil {
		return reaction.Reactant{}, err
	}
	role, err := reaction.ParseRole(spec.Role)
	if err != nil {
		return reaction.Reactant{}, err
	}
	stoichiometry := spec.Stoichiometry
	if stoichiometry == 0 {
		stoichiometry = 1
	}
	r, err := reaction.NewReactant(id, stoichiometry, top, role)
	if err != nil {
		return reaction.Reactant{}, err
	}
	r.Order = spec.Order
	return r, r.Validate()
}

func (b *builder) site(spec *SiteSpec) (reaction.BindingSite, error) {
	if spec == nil {
		return reaction.BindingSite{}, fmt.Errorf("%w: complex reactions need a site", reaction.ErrInvalidReaction)
	}
	binder, err := b.entity(spec.Binder)
	if err != nil {
		return reaction.BindingSite{}, err
	}
	bindee, err := b.entity(spec.Bindee)
	if err != nil {
		return reaction.BindingSite{}, err
	}
	return reaction.BindingSite{
		Binder:          binder,
		BinderTopology:  cell.Topology(spec.BinderTopology),
		Bindee:          bindee,
		BindeeTopology:  cell.Topology(spec.BindeeTopology),
		ComplexTopology: cell.Topology(spec.ComplexTopology),
	}, nil
}

func kineticLaw(spec LawSpec) (reaction.KineticLaw, error) {
	switch spec.Kind {
	case "mass_action":
		return reaction.MassAction{Rate: spec.Rate}, nil
	case "reversible_mass_action":
		return reaction.ReversibleMassAction{Forward: spec.Forward, Backward: spec.Backward}, nil
	case "michaelis_menten":
		return reaction.MichaelisMenten{TurnoverNumber: spec.Kcat, MichaelisConstant: spec.Km}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kinetic law %q", reaction.ErrInvalidReaction, spec.Kind)
	}
}

func (b *builder) diffusionModule(spec DiffusionSpec) (*module.Module, error) {
	id, err := b.entity(spec.Entity)
	if err != nil {
		return nil, err
	}
	top, err := cell.ParseTopology(spec.Topology)
	if err != nil {
		return nil, err
	}
	return diffusion.Diffusion{
		Name:        spec.Name,
		Entity:      id,
		Topology:    top,
		Diffusivity: spec.Diffusivity,
	}.Module(b.features)
}

func (b *builder) propulsionModule(spec PropulsionSpec) (*module.Module, error) {
	motor, err := b.entity(spec.Motor)
	if err != nil {
		return nil, err
	}
	top, err := cell.ParseTopology(spec.MotorTopology)
	if err != nil {
		return nil, err
	}
	return displacement.Propulsion{
		Name:            spec.Name,
		Motor:           motor,
		MotorTopology:   top,
		Speed:           spec.Speed,
		Consumption:     spec.Consumption,
		Threshold:       spec.Threshold,
		Target:          topology.Vector2{X: spec.Target.X, Y: spec.Target.Y},
		RemoveOnArrival: spec.RemoveOnArrival,
		Vesicles:        b.sim.Vesicles(),
	}.Module(b.features)
}

func (b *builder) buddingModule(spec BuddingSpec) (*module.Module, error) {
	cargo, err := b.entity(spec.Cargo)
	if err != nil {
		return nil, err
	}
	top, err := cell.ParseTopology(spec.Topology)
	if err != nil {
		return nil, err
	}
	r, err := b.region(spec.Region)
	if err != nil {
		return nil, err
	}
	state, err := topology.ParseVesicleState(spec.State)
	if err != nil {
		return nil, err
	}
	return displacement.Budding{
		Name:      spec.Name,
		Cargo:     cargo,
		Topology:  top,
		Threshold: spec.Threshold,
		Load:      spec.Load,
		Region:    r,
		Radius:    spec.Radius,
		State:     state,
	}.Module(b.features)
}

func (b *builder) addInitial() error {
	in := initializer.New(b.entities, b.cells)
	for _, spec := range b.s.Initial {
		id, err := b.entity(spec.Entity)
		if err != nil {
			return err
		}
		var unit units.Unit
		if spec.Unit != "" {
			if unit, err = units.Parse(spec.Unit); err != nil {
				return err
			}
		}
		if err := in.Add(initializer.InitialConcentration{
			Region:      spec.Region,
			Subsection:  cell.Subsection(spec.Subsection),
			Entity:      id,
			Value:       spec.Value,
			Unit:        unit,
			AreaDensity: spec.AreaDensity,
			Evidence:    spec.Evidence,
		}); err != nil {
			return err
		}
	}
	_, err := in.Initialize(b.sim)
	return err
}
