// Package topology models the spatial side of a simulation: stationary
// compartment nodes connected in a graph, and mobile vesicles. Both are
// Updatables: they own a concentration container and have a stable ID.
package topology

import (
	"math"

	"github.com/nvandessel/cellsim/internal/cell"
	"github.com/nvandessel/cellsim/internal/concentration"
)

// Kind distinguishes the Updatable variants.
type Kind string

const (
	KindNode    Kind = "node"
	KindVesicle Kind = "vesicle"
)

// Vector2 is a 2-D position or offset in simulation space units.
type Vector2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns v + o.
func (v Vector2) Add(o Vector2) Vector2 { return Vector2{v.X + o.X, v.Y + o.Y} }

// Sub returns v - o.
func (v Vector2) Sub(o Vector2) Vector2 { return Vector2{v.X - o.X, v.Y - o.Y} }

// Scale returns v * f.
func (v Vector2) Scale(f float64) Vector2 { return Vector2{v.X * f, v.Y * f} }

// Length returns the Euclidean norm.
func (v Vector2) Length() float64 { return math.Hypot(v.X, v.Y) }

// Normalize returns the unit vector in v's direction, or zero for zero.
func (v Vector2) Normalize() Vector2 {
	l := v.Length()
	if l == 0 {
		return Vector2{}
	}
	return v.Scale(1 / l)
}

// Updatable is anything owning mutable concentration state.
type Updatable interface {
	ID() string
	Kind() Kind
	Region() *cell.Region
	Concentrations() *concentration.Container
	// MembraneArea is the membrane surface in um^2 used for area-based
	// conversions.
	MembraneArea() float64
}

// View is an immutable per-step picture of one Updatable. Delta functions
// only ever see Views.
type View struct {
	ID             string
	Kind           Kind
	Region         *cell.Region
	Concentrations concentration.Snapshot
	MembraneArea   float64
	Position       Vector2
	Radius         float64      // vesicles only, um
	State          VesicleState // vesicles only
	Neighbours     []string     // nodes only, sorted
}

// Snapshot captures u for the current step.
func Snapshot(u Updatable) View {
	v := View{
		ID:             u.ID(),
		Kind:           u.Kind(),
		Region:         u.Region(),
		Concentrations: u.Concentrations().Snapshot(),
		MembraneArea:   u.MembraneArea(),
	}
	switch t := u.(type) {
	case *Node:
		v.Position = t.Position()
		v.Neighbours = t.NeighbourIDs()
	case *Vesicle:
		v.Position = t.Position()
		v.Radius = t.Radius()
		v.State = t.State()
	}
	return v
}
