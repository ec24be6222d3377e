package topology

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/nvandessel/cellsim/internal/cell"
	"github.com/nvandessel/cellsim/internal/concentration"
)

// VesicleState is the attachment state of a vesicle.
type VesicleState int32

const (
	Unattached VesicleState = iota
	Attached
	Propelled
)

func (s VesicleState) String() string {
	switch s {
	case Unattached:
		return "unattached"
	case Attached:
		return "attached"
	case Propelled:
		return "propelled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ParseVesicleState maps a state name to a VesicleState.
func ParseVesicleState(s string) (VesicleState, error) {
	switch s {
	case "", "unattached":
		return Unattached, nil
	case "attached":
		return Attached, nil
	case "propelled":
		return Propelled, nil
	default:
		return Unattached, fmt.Errorf("topology: unknown vesicle state %q", s)
	}
}

// Vesicle is a mobile, membrane-enclosed Updatable.
type Vesicle struct {
	id     string
	region *cell.Region
	radius float64 // um
	conc   *concentration.Container
	state  atomic.Int32

	mu       sync.RWMutex
	position Vector2
}

// NewVesicle creates a vesicle with a fresh random ID.
func NewVesicle(region *cell.Region, position Vector2, radius float64) *Vesicle {
	return NewVesicleWithID("v-"+uuid.NewString(), region, position, radius)
}

// NewVesicleWithID creates a vesicle with an explicit ID.
func NewVesicleWithID(id string, region *cell.Region, position Vector2, radius float64) *Vesicle {
	return &Vesicle{
		id:       id,
		region:   region,
		radius:   radius,
		conc:     concentration.NewContainer(region),
		position: position,
	}
}

func (v *Vesicle) ID() string                               { return v.id }
func (v *Vesicle) Kind() Kind                               { return KindVesicle }
func (v *Vesicle) Region() *cell.Region                     { return v.region }
func (v *Vesicle) Concentrations() *concentration.Container { return v.conc }
func (v *Vesicle) Radius() float64                          { return v.radius }

// MembraneArea returns the sphere surface 4 pi r^2 in um^2.
func (v *Vesicle) MembraneArea() float64 {
	return 4 * math.Pi * v.radius * v.radius
}

// Position returns the current position.
func (v *Vesicle) Position() Vector2 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.position
}

// Move offsets the position. Only the driver's apply phase calls it.
func (v *Vesicle) Move(offset Vector2) {
	v.mu.Lock()
	v.position = v.position.Add(offset)
	v.mu.Unlock()
}

// State returns the current attachment state.
func (v *Vesicle) State() VesicleState {
	return VesicleState(v.state.Load())
}

// SetState sets the attachment state. State tags are not ledgered; a
// transition is visible as soon as it is made.
func (v *Vesicle) SetState(s VesicleState) {
	v.state.Store(int32(s))
}

// CompareAndSetState transitions from old to s, reporting success.
func (v *Vesicle) CompareAndSetState(old, s VesicleState) bool {
	return v.state.CompareAndSwap(int32(old), int32(s))
}

// VesicleLayer is the collection of vesicles in a simulation.
type VesicleLayer struct {
	mu       sync.RWMutex
	vesicles map[string]*Vesicle
}

// NewVesicleLayer creates an empty layer.
func NewVesicleLayer() *VesicleLayer {
	return &VesicleLayer{vesicles: make(map[string]*Vesicle)}
}

// Add inserts v.
func (l *VesicleLayer) Add(v *Vesicle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.vesicles[v.id]; exists {
		return fmt.Errorf("%w: vesicle %s", ErrDuplicateID, v.id)
	}
	l.vesicles[v.id] = v
	return nil
}

// Remove deletes the vesicle with id, reporting whether it existed.
func (l *VesicleLayer) Remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.vesicles[id]
	delete(l.vesicles, id)
	return ok
}

// Get returns the vesicle with id.
func (l *VesicleLayer) Get(id string) (*Vesicle, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, ok := l.vesicles[id]
	return v, ok
}

// All returns the vesicles sorted by ID.
func (l *VesicleLayer) All() []*Vesicle {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Vesicle, 0, len(l.vesicles))
	for _, v := range l.vesicles {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Len returns the number of vesicles.
func (l *VesicleLayer) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.vesicles)
}
