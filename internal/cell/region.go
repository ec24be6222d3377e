// Package cell defines the static compartment vocabulary of a simulation:
// subsections, the topological roles they play, and regions that assign
// subsections to roles.
package cell

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnknownSubsection is returned when a subsection is not defined.
	ErrUnknownSubsection = errors.New("cell: unknown subsection")

	// ErrInvalidRegion is returned for malformed region definitions.
	ErrInvalidRegion = errors.New("cell: invalid region")
)

// Subsection identifies a compartment, e.g. "cytoplasm" or "membrane".
type Subsection string

// Topology is the role of a subsection within a region.
type Topology string

const (
	Inner    Topology = "inner"
	Membrane Topology = "membrane"
	Outer    Topology = "outer"
)

// ParseTopology validates a topology name.
func ParseTopology(s string) (Topology, error) {
	switch t := Topology(strings.ToLower(strings.TrimSpace(s))); t {
	case Inner, Membrane, Outer:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown topology %q", ErrInvalidRegion, s)
	}
}

// Region aggregates subsections and assigns each a topological role.
// Regions are immutable after construction.
type Region struct {
	identifier  string
	subsections map[Topology]Subsection
}

// NewRegion creates a region. At least one subsection is required and a
// subsection may fill only one role.
func NewRegion(identifier string, roles map[Topology]Subsection) (*Region, error) {
	if identifier == "" {
		return nil, fmt.Errorf("%w: identifier is required", ErrInvalidRegion)
	}
	if len(roles) == 0 {
		return nil, fmt.Errorf("%w: %s has no subsections", ErrInvalidRegion, identifier)
	}

	seen := make(map[Subsection]Topology, len(roles))
	copied := make(map[Topology]Subsection, len(roles))
	for role, sub := range roles {
		if _, err := ParseTopology(string(role)); err != nil {
			return nil, err
		}
		if sub == "" {
			return nil, fmt.Errorf("%w: %s has an empty subsection for %s", ErrInvalidRegion, identifier, role)
		}
		if other, dup := seen[sub]; dup {
			return nil, fmt.Errorf("%w: %s assigns %s to both %s and %s", ErrInvalidRegion, identifier, sub, other, role)
		}
		seen[sub] = role
		copied[role] = sub
	}
	return &Region{identifier: identifier, subsections: copied}, nil
}

// MustRegion is NewRegion for static definitions; it panics on error.
func MustRegion(identifier string, roles map[Topology]Subsection) *Region {
	r, err := NewRegion(identifier, roles)
	if err != nil {
		panic(err)
	}
	return r
}

// Identifier returns the region's name.
func (r *Region) Identifier() string {
	return r.identifier
}

// Subsection returns the subsection filling role.
func (r *Region) Subsection(role Topology) (Subsection, bool) {
	s, ok := r.subsections[role]
	return s, ok
}

// Topology returns the role sub plays in the region.
func (r *Region) Topology(sub Subsection) (Topology, bool) {
	for role, s := range r.subsections {
		if s == sub {
			return role, true
		}
	}
	return "", false
}

// Has reports whether the region contains sub.
func (r *Region) Has(sub Subsection) bool {
	_, ok := r.Topology(sub)
	return ok
}

// Subsections returns the region's subsections ordered inner, membrane,
// outer.
func (r *Region) Subsections() []Subsection {
	out := make([]Subsection, 0, len(r.subsections))
	for _, role := range []Topology{Inner, Membrane, Outer} {
		if s, ok := r.subsections[role]; ok {
			out = append(out, s)
		}
	}
	return out
}

// HasMembrane reports whether the region has a membrane subsection.
func (r *Region) HasMembrane() bool {
	_, ok := r.subsections[Membrane]
	return ok
}

// Registry holds the subsections and regions of one simulation setup.
type Registry struct {
	subsections map[Subsection]bool
	regions     map[string]*Region
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		subsections: make(map[Subsection]bool),
		regions:     make(map[string]*Region),
	}
}

// AddSubsection declares a subsection.
func (r *Registry) AddSubsection(s Subsection) {
	r.subsections[s] = true
}

// AddRegion declares a region; all of its subsections must be declared.
func (r *Registry) AddRegion(region *Region) error {
	for _, s := range region.Subsections() {
		if !r.subsections[s] {
			return fmt.Errorf("%w: %s (region %s)", ErrUnknownSubsection, s, region.Identifier())
		}
	}
	r.regions[region.Identifier()] = region
	return nil
}

// HasSubsection reports whether s was declared.
func (r *Registry) HasSubsection(s Subsection) bool {
	return r.subsections[s]
}

// Region returns the named region.
func (r *Registry) Region(identifier string) (*Region, bool) {
	reg, ok := r.regions[identifier]
	return reg, ok
}

// Regions returns all regions sorted by identifier.
func (r *Registry) Regions() []*Region {
	out := make([]*Region, 0, len(r.regions))
	for _, reg := range r.regions {
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].identifier < out[j].identifier })
	return out
}
