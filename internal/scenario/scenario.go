// Package scenario loads declarative simulation setups from YAML and builds
// ready-to-run simulations from them.
//
// A scenario names its entities, compartments, geometry, parameters,
// processes and starting concentrations. Everything that refers to another
// part of the scenario does so by identifier, so a file reads top to bottom:
//
//	name: receptor-recycling
//	entities:
//	  - {id: R, molar_mass: 50000}
//	subsections: [cytoplasm, membrane]
//	regions:
//	  - {id: cell, inner: cytoplasm, membrane: membrane}
//	graph:
//	  grid: {cols: 4, rows: 4, region: cell, membrane_area: 1}
//	initial:
//	  - {subsection: membrane, entity: R, value: 1000, area_density: true}
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/nvandessel/cellsim/internal/feature"
	"gopkg.in/yaml.v3"
)

// ErrInvalidScenario is returned for structurally malformed scenarios.
var ErrInvalidScenario = errors.New("scenario: invalid scenario")

// Scenario is a complete simulation setup.
type Scenario struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	Entities    []EntitySpec  `json:"entities" yaml:"entities"`
	Complexes   []ComplexSpec `json:"complexes,omitempty" yaml:"complexes,omitempty"`
	Subsections []string      `json:"subsections" yaml:"subsections"`
	Regions     []RegionSpec  `json:"regions" yaml:"regions"`
	Graph       GraphSpec     `json:"graph" yaml:"graph"`
	Vesicles    []VesicleSpec `json:"vesicles,omitempty" yaml:"vesicles,omitempty"`
	Features    []FeatureSpec `json:"features,omitempty" yaml:"features,omitempty"`

	Reactions  []ReactionSpec   `json:"reactions,omitempty" yaml:"reactions,omitempty"`
	Diffusion  []DiffusionSpec  `json:"diffusion,omitempty" yaml:"diffusion,omitempty"`
	Brownian   []BrownianSpec   `json:"brownian,omitempty" yaml:"brownian,omitempty"`
	Propulsion []PropulsionSpec `json:"propulsion,omitempty" yaml:"propulsion,omitempty"`
	Budding    []BuddingSpec    `json:"budding,omitempty" yaml:"budding,omitempty"`

	Initial []InitialSpec `json:"initial,omitempty" yaml:"initial,omitempty"`
}

// EntitySpec declares an atomic entity.
type EntitySpec struct {
	ID        string  `json:"id" yaml:"id"`
	Name      string  `json:"name,omitempty" yaml:"name,omitempty"`
	MolarMass float64 `json:"molar_mass,omitempty" yaml:"molar_mass,omitempty"`
}

// ComplexSpec declares a complex up front. Complexes formed by binding
// reactions are registered automatically and need no declaration.
type ComplexSpec struct {
	ID    string     `json:"id,omitempty" yaml:"id,omitempty"`
	Parts []PartSpec `json:"parts" yaml:"parts"`
}

// PartSpec is one component of a complex.
type PartSpec struct {
	Entity string `json:"entity" yaml:"entity"`
	Count  int    `json:"count,omitempty" yaml:"count,omitempty"` // default 1
}

// RegionSpec assigns subsections to the three topological roles.
type RegionSpec struct {
	ID       string `json:"id" yaml:"id"`
	Inner    string `json:"inner,omitempty" yaml:"inner,omitempty"`
	Membrane string `json:"membrane,omitempty" yaml:"membrane,omitempty"`
	Outer    string `json:"outer,omitempty" yaml:"outer,omitempty"`
}

// GraphSpec describes the node graph: an optional grid plus explicit nodes
// and edges.
type GraphSpec struct {
	Grid  *GridSpec  `json:"grid,omitempty" yaml:"grid,omitempty"`
	Nodes []NodeSpec `json:"nodes,omitempty" yaml:"nodes,omitempty"`
	Edges []EdgeSpec `json:"edges,omitempty" yaml:"edges,omitempty"`
}

// GridSpec is a rectangular lattice with 4-neighbourhood edges.
type GridSpec struct {
	Cols         int     `json:"cols" yaml:"cols"`
	Rows         int     `json:"rows" yaml:"rows"`
	Region       string  `json:"region" yaml:"region"`
	MembraneArea float64 `json:"membrane_area" yaml:"membrane_area"`
}

// NodeSpec is one explicit node.
type NodeSpec struct {
	ID           string  `json:"id" yaml:"id"`
	Region       string  `json:"region" yaml:"region"`
	X            float64 `json:"x" yaml:"x"`
	Y            float64 `json:"y" yaml:"y"`
	MembraneArea float64 `json:"membrane_area" yaml:"membrane_area"`
}

// EdgeSpec connects two nodes.
type EdgeSpec struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// VesicleSpec places a vesicle. An empty ID becomes "v<index>".
type VesicleSpec struct {
	ID     string  `json:"id,omitempty" yaml:"id,omitempty"`
	Region string  `json:"region" yaml:"region"`
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	Radius float64 `json:"radius" yaml:"radius"` // um
	State  string  `json:"state,omitempty" yaml:"state,omitempty"`
}

// FeatureSpec declares a parameter in SI units. Dimension is one of
// "dimensionless", "per_second", "diffusivity" or "velocity".
type FeatureSpec struct {
	Name      string           `json:"name" yaml:"name"`
	Value     float64          `json:"value" yaml:"value"`
	Dimension string           `json:"dimension,omitempty" yaml:"dimension,omitempty"`
	Evidence  feature.Evidence `json:"evidence,omitempty" yaml:"evidence,omitempty"`
}

// ReactionSpec declares a reaction module. Kind is "static" (default),
// "binding" or "dissociation"; the latter two read Site instead of
// Reactants.
type ReactionSpec struct {
	Name      string         `json:"name" yaml:"name"`
	Kind      string         `json:"kind,omitempty" yaml:"kind,omitempty"`
	Region    string         `json:"region,omitempty" yaml:"region,omitempty"`
	Reactants []ReactantSpec `json:"reactants,omitempty" yaml:"reactants,omitempty"`
	Site      *SiteSpec      `json:"site,omitempty" yaml:"site,omitempty"`
	Law       LawSpec        `json:"law" yaml:"law"`
}

// ReactantSpec is one participant of a static reaction.
type ReactantSpec struct {
	Entity        string  `json:"entity" yaml:"entity"`
	Stoichiometry int     `json:"stoichiometry,omitempty" yaml:"stoichiometry,omitempty"` // default 1
	Topology      string  `json:"topology" yaml:"topology"`
	Role          string  `json:"role" yaml:"role"`
	Order         float64 `json:"order,omitempty" yaml:"order,omitempty"`
}

// SiteSpec describes where binding partners live.
type SiteSpec struct {
	Binder          string `json:"binder" yaml:"binder"`
	BinderTopology  string `json:"binder_topology" yaml:"binder_topology"`
	Bindee          string `json:"bindee" yaml:"bindee"`
	BindeeTopology  string `json:"bindee_topology" yaml:"bindee_topology"`
	ComplexTopology string `json:"complex_topology" yaml:"complex_topology"`
}

// LawSpec selects a kinetic law and names its features. Kind is
// "mass_action", "reversible_mass_action" or "michaelis_menten".
type LawSpec struct {
	Kind     string `json:"kind" yaml:"kind"`
	Rate     string `json:"rate,omitempty" yaml:"rate,omitempty"`
	Forward  string `json:"forward,omitempty" yaml:"forward,omitempty"`
	Backward string `json:"backward,omitempty" yaml:"backward,omitempty"`
	Kcat     string `json:"kcat,omitempty" yaml:"kcat,omitempty"`
	Km       string `json:"km,omitempty" yaml:"km,omitempty"`
}

// DiffusionSpec declares node-to-node exchange of one entity.
type DiffusionSpec struct {
	Name        string `json:"name" yaml:"name"`
	Entity      string `json:"entity" yaml:"entity"`
	Topology    string `json:"topology" yaml:"topology"`
	Diffusivity string `json:"diffusivity" yaml:"diffusivity"`
}

// BrownianSpec declares random motion of unattached vesicles.
type BrownianSpec struct {
	Name        string `json:"name" yaml:"name"`
	Diffusivity string `json:"diffusivity" yaml:"diffusivity"`
}

// PropulsionSpec declares motor-driven transport of propelled vesicles.
type PropulsionSpec struct {
	Name            string    `json:"name" yaml:"name"`
	Motor           string    `json:"motor" yaml:"motor"`
	MotorTopology   string    `json:"motor_topology" yaml:"motor_topology"`
	Speed           string    `json:"speed" yaml:"speed"`
	Consumption     string    `json:"consumption" yaml:"consumption"`
	Threshold       float64   `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Target          PointSpec `json:"target" yaml:"target"`
	RemoveOnArrival bool      `json:"remove_on_arrival,omitempty" yaml:"remove_on_arrival,omitempty"`
}

// PointSpec is a position in space units.
type PointSpec struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// BuddingSpec declares vesicle formation from nodes.
type BuddingSpec struct {
	Name      string  `json:"name" yaml:"name"`
	Cargo     string  `json:"cargo" yaml:"cargo"`
	Topology  string  `json:"topology" yaml:"topology"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
	Load      float64 `json:"load" yaml:"load"`
	Region    string  `json:"region" yaml:"region"`
	Radius    float64 `json:"radius" yaml:"radius"`
	State     string  `json:"state,omitempty" yaml:"state,omitempty"`
}

// InitialSpec is one starting concentration. Unit is a concentration unit
// symbol; area densities are molecules per um^2 and take none.
type InitialSpec struct {
	Region      string           `json:"region,omitempty" yaml:"region,omitempty"`
	Subsection  string           `json:"subsection" yaml:"subsection"`
	Entity      string           `json:"entity" yaml:"entity"`
	Value       float64          `json:"value" yaml:"value"`
	Unit        string           `json:"unit,omitempty" yaml:"unit,omitempty"`
	AreaDensity bool             `json:"area_density,omitempty" yaml:"area_density,omitempty"`
	Evidence    feature.Evidence `json:"evidence,omitempty" yaml:"evidence,omitempty"`
}

// Load reads and parses a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse decodes a YAML scenario. Unknown keys are rejected.
func Parse(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Scenario
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the structure of the scenario. References are resolved,
// and so fully checked, by Build.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidScenario)
	}
	if len(s.Subsections) == 0 {
		return fmt.Errorf("%w: at least one subsection is required", ErrInvalidScenario)
	}
	if len(s.Regions) == 0 {
		return fmt.Errorf("%w: at least one region is required", ErrInvalidScenario)
	}
	if s.Graph.Grid == nil && len(s.Graph.Nodes) == 0 {
		return fmt.Errorf("%w: graph needs a grid or nodes", ErrInvalidScenario)
	}

	seen := make(map[string]bool)
	for _, name := range s.moduleNames() {
		if name == "" {
			return fmt.Errorf("%w: every module needs a name", ErrInvalidScenario)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate module name %q", ErrInvalidScenario, name)
		}
		seen[name] = true
	}
	return nil
}

// moduleNames lists process names in registration order.
func (s *Scenario) moduleNames() []string {
	var names []string
	for _, r := range s.Reactions {
		names = append(names, r.Name)
	}
	for _, d := range s.Diffusion {
		names = append(names, d.Name)
	}
	for _, b := range s.Brownian {
		names = append(names, b.Name)
	}
	for _, p := range s.Propulsion {
		names = append(names, p.Name)
	}
	for _, b := range s.Budding {
		names = append(names, b.Name)
	}
	return names
}
