// Package visualization renders simulation state in various output formats.
package visualization

import (
	"github.com/nvandessel/cellsim/internal/concentration"
	"github.com/nvandessel/cellsim/internal/entity"
	"github.com/nvandessel/cellsim/internal/topology"
)

// Source is the part of a simulation the renderers read.
type Source interface {
	RunID() string
	Entities() *entity.Registry
	Graph() *topology.Graph
	Vesicles() *topology.VesicleLayer
}

// Levels maps subsection to entity identifier to concentration in M.
type Levels map[string]map[string]float64

// Get returns the level of entity in sub, or 0.
func (l Levels) Get(sub, entity string) float64 {
	return l[sub][entity]
}

// NodeState is a captured node.
type NodeState struct {
	ID             string   `json:"id"`
	Region         string   `json:"region"`
	X              float64  `json:"x"`
	Y              float64  `json:"y"`
	Neighbours     []string `json:"neighbours,omitempty"`
	Concentrations Levels   `json:"concentrations"`
}

// VesicleState is a captured vesicle.
type VesicleState struct {
	ID             string  `json:"id"`
	Region         string  `json:"region"`
	State          string  `json:"state"`
	X              float64 `json:"x"`
	Y              float64 `json:"y"`
	Radius         float64 `json:"radius"`
	Concentrations Levels  `json:"concentrations"`
}

// Edge connects two nodes. Source sorts before Target.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// State is a picture of a simulation after one step.
type State struct {
	RunID    string         `json:"run_id"`
	Step     uint64         `json:"step"`
	Time     float64        `json:"time"`
	Nodes    []NodeState    `json:"nodes"`
	Edges    []Edge         `json:"edges"`
	Vesicles []VesicleState `json:"vesicles"`
}

// Capture reads the current state of src. Step and time are passed in so
// Capture can run inside an event listener, while the simulation holds its
// step lock.
func Capture(src Source, step uint64, now float64) State {
	entities := src.Entities()
	st := State{RunID: src.RunID(), Step: step, Time: now}

	for _, n := range src.Graph().Nodes() {
		neighbours := n.NeighbourIDs()
		st.Nodes = append(st.Nodes, NodeState{
			ID:             n.ID(),
			Region:         regionName(n),
			X:              n.Position().X,
			Y:              n.Position().Y,
			Neighbours:     neighbours,
			Concentrations: levels(entities, n.Concentrations().Snapshot()),
		})
		for _, other := range neighbours {
			if n.ID() < other {
				st.Edges = append(st.Edges, Edge{Source: n.ID(), Target: other})
			}
		}
	}

	for _, v := range src.Vesicles().All() {
		pos := v.Position()
		st.Vesicles = append(st.Vesicles, VesicleState{
			ID:             v.ID(),
			Region:         regionName(v),
			State:          v.State().String(),
			X:              pos.X,
			Y:              pos.Y,
			Radius:         v.Radius(),
			Concentrations: levels(entities, v.Concentrations().Snapshot()),
		})
	}
	return st
}

// Entities returns every entity identifier present anywhere in st, sorted.
func (st State) Entities() []string {
	seen := make(map[string]bool)
	collect := func(l Levels) {
		for _, byEntity := range l {
			for e := range byEntity {
				seen[e] = true
			}
		}
	}
	for _, n := range st.Nodes {
		collect(n.Concentrations)
	}
	for _, v := range st.Vesicles {
		collect(v.Concentrations)
	}
	return sortedKeys(seen)
}

func levels(entities *entity.Registry, snap concentration.Snapshot) Levels {
	out := make(Levels)
	for _, k := range snap.Keys() {
		sub := string(k.Subsection)
		if out[sub] == nil {
			out[sub] = make(map[string]float64)
		}
		out[sub][entities.Identifier(k.Entity)] = snap.Get(k.Subsection, k.Entity)
	}
	return out
}

func regionName(u topology.Updatable) string {
	if r := u.Region(); r != nil {
		return r.Identifier()
	}
	return ""
}
