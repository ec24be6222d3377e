// Package concentration stores per-compartment chemical state.
//
// A Container maps (subsection, entity) to a non-negative concentration in
// mol/L. Live containers are only written by the simulation driver's apply
// phase and by the initializer before a run. Module code receives Snapshot
// values, which expose getters only, so a delta function has no way to
// mutate state it is reading.
package concentration

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/nvandessel/cellsim/internal/cell"
	"github.com/nvandessel/cellsim/internal/entity"
)

// ErrNegative is returned when a write would store a negative value.
var ErrNegative = errors.New("concentration: negative concentration")

// Key addresses one value in a container.
type Key struct {
	Subsection cell.Subsection
	Entity     entity.ID
}

// Container is the mutable concentration store owned by one Updatable.
type Container struct {
	mu     sync.RWMutex
	region *cell.Region
	values map[Key]float64
}

// NewContainer creates an empty container for region.
func NewContainer(region *cell.Region) *Container {
	return &Container{region: region, values: make(map[Key]float64)}
}

// Region returns the region the container's roles resolve against.
func (c *Container) Region() *cell.Region {
	return c.region
}

// Get returns the concentration of e in sub, or 0 when absent.
func (c *Container) Get(sub cell.Subsection, e entity.ID) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[Key{sub, e}]
}

// GetRole returns the concentration of e in the subsection filling role.
func (c *Container) GetRole(role cell.Topology, e entity.ID) float64 {
	sub, ok := c.region.Subsection(role)
	if !ok {
		return 0
	}
	return c.Get(sub, e)
}

// Set stores value for (sub, e). Negative and non-finite values are
// rejected; zero removes the key.
func (c *Container) Set(sub cell.Subsection, e entity.ID, value float64) error {
	if value < 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: %v for entity %d in %s", ErrNegative, value, e, sub)
	}
	if !c.region.Has(sub) {
		return fmt.Errorf("%w: %s not in region %s", cell.ErrUnknownSubsection, sub, c.region.Identifier())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if value == 0 {
		delete(c.values, Key{sub, e})
		return nil
	}
	c.values[Key{sub, e}] = value
	return nil
}

// Add adds delta to (sub, e). The result must stay non-negative.
func (c *Container) Add(sub cell.Subsection, e entity.ID, delta float64) error {
	return c.Set(sub, e, c.Get(sub, e)+delta)
}

// Keys returns all present keys ordered by subsection, then entity.
func (c *Container) Keys() []Key {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.values)
}

// Snapshot returns an immutable copy of the container.
func (c *Container) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	values := make(map[Key]float64, len(c.values))
	for k, v := range c.values {
		values[k] = v
	}
	return Snapshot{region: c.region, values: values}
}

// Snapshot is a read-only view of a container at one point in time.
// The zero value is an empty snapshot.
type Snapshot struct {
	region *cell.Region
	values map[Key]float64
}

// Region returns the region of the originating container.
func (s Snapshot) Region() *cell.Region {
	return s.region
}

// Get returns the concentration of e in sub, or 0 when absent.
func (s Snapshot) Get(sub cell.Subsection, e entity.ID) float64 {
	return s.values[Key{sub, e}]
}

// GetRole returns the concentration of e in the subsection filling role.
func (s Snapshot) GetRole(role cell.Topology, e entity.ID) float64 {
	if s.region == nil {
		return 0
	}
	sub, ok := s.region.Subsection(role)
	if !ok {
		return 0
	}
	return s.values[Key{sub, e}]
}

// Keys returns all present keys ordered by subsection, then entity.
func (s Snapshot) Keys() []Key {
	return sortedKeys(s.values)
}

// Entities returns the entities present in sub, in ID order.
func (s Snapshot) Entities(sub cell.Subsection) []entity.ID {
	var out []entity.ID
	for _, k := range sortedKeys(s.values) {
		if k.Subsection == sub {
			out = append(out, k.Entity)
		}
	}
	return out
}

// Len returns the number of non-zero entries.
func (s Snapshot) Len() int {
	return len(s.values)
}

func sortedKeys(m map[Key]float64) []Key {
	keys := make([]Key, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Subsection != keys[j].Subsection {
			return keys[i].Subsection < keys[j].Subsection
		}
		return keys[i].Entity < keys[j].Entity
	})
	return keys
}
