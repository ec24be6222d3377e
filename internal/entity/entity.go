// Package entity provides the arena of chemical entities shared by every
// compartment of a simulation.
//
// Entities are referenced by ID, an index into the Registry. Complexes list
// their parts as (ID, count) pairs pointing at other arena entries, so
// complex-of-complex structures never form reference cycles and identity
// comparisons are integer comparisons.
package entity

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrUnknownEntity is returned when an ID or identifier is not registered.
	ErrUnknownEntity = errors.New("entity: unknown entity")

	// ErrInvalidEntity is returned for malformed entity declarations.
	ErrInvalidEntity = errors.New("entity: invalid entity")
)

// ID is an index into a Registry.
type ID int

// None is the zero-value sentinel for "no entity".
const None ID = -1

// Part is one component of a complex.
type Part struct {
	Entity ID  `json:"entity"`
	Count  int `json:"count"`
}

// Entity is an immutable chemical entity.
type Entity struct {
	ID         ID      `json:"id"`
	Identifier string  `json:"identifier"`
	Name       string  `json:"name,omitempty"`
	MolarMass  float64 `json:"molar_mass,omitempty"` // g/mol
	Parts      []Part  `json:"parts,omitempty"`
}

// IsComplex reports whether the entity is composed of other entities.
func (e Entity) IsComplex() bool {
	return len(e.Parts) > 0
}

// Registry is an append-only arena of entities. It is safe for concurrent
// use; entities never change once registered.
type Registry struct {
	mu       sync.RWMutex
	entities []Entity
	byIdent  map[string]ID
	byParts  map[string]ID // flattened atomic composition -> complex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byIdent: make(map[string]ID), byParts: make(map[string]ID)}
}

// Add registers an atomic entity. Adding an identifier that already exists
// returns the existing ID.
func (r *Registry) Add(identifier, name string, molarMass float64) (ID, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return None, fmt.Errorf("%w: identifier is required", ErrInvalidEntity)
	}
	if molarMass < 0 {
		return None, fmt.Errorf("%w: %s has negative molar mass", ErrInvalidEntity, identifier)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byIdent[identifier]; ok {
		return id, nil
	}
	return r.insertLocked(Entity{Identifier: identifier, Name: name, MolarMass: molarMass}), nil
}

// AddComplex registers a complex built from parts. Parts are normalized:
// duplicates are merged and ordered by ID. When identifier is empty one is
// derived from the parts ("A:B", "A:2B"). The molar mass is the sum of the
// parts' molar masses.
//
// A complex is identified by its atomic composition, so nesting does not
// matter: [A:B, C] and [A, B, C] are the same species. Registering a known
// composition under a new identifier adds that identifier as an alias of
// the existing complex. Reusing an identifier for a different composition
// is an error.
func (r *Registry) AddComplex(identifier string, parts ...Part) (ID, error) {
	identifier = strings.TrimSpace(identifier)
	if len(parts) == 0 {
		return None, fmt.Errorf("%w: complex needs at least one part", ErrInvalidEntity)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	merged := make(map[ID]int, len(parts))
	for _, p := range parts {
		if p.Count < 1 {
			return None, fmt.Errorf("%w: part count must be positive, got %d", ErrInvalidEntity, p.Count)
		}
		if p.Entity < 0 || int(p.Entity) >= len(r.entities) {
			return None, fmt.Errorf("%w: part %d", ErrUnknownEntity, p.Entity)
		}
		merged[p.Entity] += p.Count
	}
	normalized := make([]Part, 0, len(merged))
	for id, n := range merged {
		normalized = append(normalized, Part{Entity: id, Count: n})
	}
	sort.Slice(normalized, func(i, j int) bool { return normalized[i].Entity < normalized[j].Entity })
	if len(normalized) == 1 && normalized[0].Count == 1 {
		return None, fmt.Errorf("%w: complex of a single %s is that entity",
			ErrInvalidEntity, r.entities[normalized[0].Entity].Identifier)
	}

	key := r.compositionLocked(normalized)
	existing, known := r.byParts[key]

	if identifier != "" {
		if id, ok := r.byIdent[identifier]; ok {
			if known && id == existing {
				return id, nil
			}
			return None, fmt.Errorf("%w: %s is already registered with other parts", ErrInvalidEntity, identifier)
		}
		if known {
			r.byIdent[identifier] = existing
			return existing, nil
		}
	} else {
		if known {
			return existing, nil
		}
		identifier = r.deriveIdentifierLocked(normalized)
		if _, ok := r.byIdent[identifier]; ok {
			return None, fmt.Errorf("%w: derived identifier %s is already taken", ErrInvalidEntity, identifier)
		}
	}

	mass := 0.0
	for _, p := range normalized {
		mass += r.entities[p.Entity].MolarMass * float64(p.Count)
	}
	id := r.insertLocked(Entity{Identifier: identifier, Name: identifier, MolarMass: mass, Parts: normalized})
	r.byParts[key] = id
	return id, nil
}

// Bind returns the complex formed by a and b, registering it on first use.
// The complex is stored flat: binding A to the complex B:C yields A:B:C.
func (r *Registry) Bind(a, b ID) (ID, error) {
	pa, err := r.flatParts(a)
	if err != nil {
		return None, err
	}
	pb, err := r.flatParts(b)
	if err != nil {
		return None, err
	}
	return r.AddComplex("", append(pa, pb...)...)
}

// Remove returns the entity left after taking one part out of the complex.
// A complex with two single parts leaves the other atomic entity.
func (r *Registry) Remove(complexID, part ID) (ID, error) {
	c, err := r.Get(complexID)
	if err != nil {
		return None, err
	}
	if !c.IsComplex() {
		return None, fmt.Errorf("%w: %s is not a complex", ErrInvalidEntity, c.Identifier)
	}

	remaining := make([]Part, 0, len(c.Parts))
	found := false
	for _, p := range c.Parts {
		if p.Entity == part && !found {
			found = true
			if p.Count > 1 {
				remaining = append(remaining, Part{Entity: p.Entity, Count: p.Count - 1})
			}
			continue
		}
		remaining = append(remaining, p)
	}
	if !found {
		return None, fmt.Errorf("%w: %s does not contain entity %d", ErrInvalidEntity, c.Identifier, part)
	}
	if len(remaining) == 1 && remaining[0].Count == 1 {
		return remaining[0].Entity, nil
	}
	return r.AddComplex("", remaining...)
}

// Get returns the entity with the given ID.
func (r *Registry) Get(id ID) (Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id < 0 || int(id) >= len(r.entities) {
		return Entity{}, fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	return r.entities[id], nil
}

// Lookup returns the ID registered for identifier.
func (r *Registry) Lookup(identifier string) (ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byIdent[identifier]
	return id, ok
}

// Identifier returns the identifier for id, or "?" when unknown.
func (r *Registry) Identifier(id ID) string {
	e, err := r.Get(id)
	if err != nil {
		return "?"
	}
	return e.Identifier
}

// Contains reports whether whole is part, or a complex containing part at
// any depth.
func (r *Registry) Contains(whole, part ID) bool {
	if whole == part {
		return true
	}
	e, err := r.Get(whole)
	if err != nil {
		return false
	}
	for _, p := range e.Parts {
		if r.Contains(p.Entity, part) {
			return true
		}
	}
	return false
}

// Len returns the number of registered entities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

// All returns every registered entity in ID order.
func (r *Registry) All() []Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entity, len(r.entities))
	copy(out, r.entities)
	return out
}

func (r *Registry) insertLocked(e Entity) ID {
	e.ID = ID(len(r.entities))
	r.entities = append(r.entities, e)
	r.byIdent[e.Identifier] = e.ID
	return e.ID
}

// flatParts expands an entity into atomic parts.
func (r *Registry) flatParts(id ID) ([]Part, error) {
	e, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if !e.IsComplex() {
		return []Part{{Entity: id, Count: 1}}, nil
	}
	return append([]Part(nil), e.Parts...), nil
}

// compositionLocked returns the canonical key of the atomic entities that
// make up parts, e.g. "0x1,3x2".
func (r *Registry) compositionLocked(parts []Part) string {
	counts := make(map[ID]int)
	var expand func(id ID, n int)
	expand = func(id ID, n int) {
		e := r.entities[id]
		if !e.IsComplex() {
			counts[id] += n
			return
		}
		for _, p := range e.Parts {
			expand(p.Entity, n*p.Count)
		}
	}
	for _, p := range parts {
		expand(p.Entity, p.Count)
	}

	ids := make([]ID, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = fmt.Sprintf("%dx%d", id, counts[id])
	}
	return strings.Join(keys, ",")
}

func (r *Registry) deriveIdentifierLocked(parts []Part) string {
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		name := r.entities[p.Entity].Identifier
		if p.Count > 1 {
			name = fmt.Sprintf("%d%s", p.Count, name)
		}
		names = append(names, name)
	}
	return strings.Join(names, ":")
}
