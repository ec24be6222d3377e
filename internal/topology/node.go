package topology

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nvandessel/cellsim/internal/cell"
	"github.com/nvandessel/cellsim/internal/concentration"
)

var (
	// ErrNodeNotFound is returned when a node ID is not in the graph.
	ErrNodeNotFound = errors.New("topology: node not found")

	// ErrDuplicateID is returned when an ID is already in use.
	ErrDuplicateID = errors.New("topology: duplicate id")
)

// Node is a stationary compartment in the graph.
type Node struct {
	id           string
	region       *cell.Region
	position     Vector2
	membraneArea float64
	conc         *concentration.Container

	mu         sync.RWMutex
	neighbours map[string]*Node
}

// NewNode creates a node. membraneArea is in um^2 and is only used when
// the region has a membrane.
func NewNode(id string, region *cell.Region, position Vector2, membraneArea float64) *Node {
	return &Node{
		id:           id,
		region:       region,
		position:     position,
		membraneArea: membraneArea,
		conc:         concentration.NewContainer(region),
		neighbours:   make(map[string]*Node),
	}
}

func (n *Node) ID() string                               { return n.id }
func (n *Node) Kind() Kind                               { return KindNode }
func (n *Node) Region() *cell.Region                     { return n.region }
func (n *Node) Concentrations() *concentration.Container { return n.conc }
func (n *Node) MembraneArea() float64                    { return n.membraneArea }
func (n *Node) Position() Vector2                        { return n.position }

// Neighbours returns adjacent nodes sorted by ID.
func (n *Node) Neighbours() []*Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Node, 0, len(n.neighbours))
	for _, nb := range n.neighbours {
		out = append(out, nb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// NeighbourIDs returns the IDs of adjacent nodes, sorted.
func (n *Node) NeighbourIDs() []string {
	nbs := n.Neighbours()
	ids := make([]string, len(nbs))
	for i, nb := range nbs {
		ids[i] = nb.id
	}
	return ids
}

// Graph is the undirected compartment graph.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{nodes: make(map[string]*Node)}
}

// AddNode inserts n.
func (g *Graph) AddNode(n *Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.nodes[n.id]; exists {
		return fmt.Errorf("%w: node %s", ErrDuplicateID, n.id)
	}
	g.nodes[n.id] = n
	return nil
}

// Connect adds an undirected edge between two nodes.
func (g *Graph) Connect(a, b string) error {
	g.mu.RLock()
	na, okA := g.nodes[a]
	nb, okB := g.nodes[b]
	g.mu.RUnlock()
	if !okA {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, a)
	}
	if !okB {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, b)
	}
	if a == b {
		return fmt.Errorf("topology: cannot connect %s to itself", a)
	}

	na.mu.Lock()
	na.neighbours[b] = nb
	na.mu.Unlock()
	nb.mu.Lock()
	nb.neighbours[a] = na
	nb.mu.Unlock()
	return nil
}

// Node returns the node with the given ID.
func (g *Graph) Node(id string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes sorted by ID.
func (g *Graph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// GridNodeID returns the ID NewGrid assigns to column x, row y.
func GridNodeID(x, y int) string {
	return fmt.Sprintf("n(%d,%d)", x, y)
}

// NewGrid builds a cols x rows lattice with 4-neighbourhood edges. Every
// node gets region and membraneArea; positions are the integer coordinates.
func NewGrid(cols, rows int, region *cell.Region, membraneArea float64) (*Graph, error) {
	g := NewGraph()
	if err := g.AddGrid(cols, rows, region, membraneArea); err != nil {
		return nil, err
	}
	return g, nil
}

// AddGrid adds a NewGrid lattice to g.
func (g *Graph) AddGrid(cols, rows int, region *cell.Region, membraneArea float64) error {
	if cols < 1 || rows < 1 {
		return fmt.Errorf("topology: grid needs positive dimensions, got %dx%d", cols, rows)
	}
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			n := NewNode(GridNodeID(x, y), region, Vector2{X: float64(x), Y: float64(y)}, membraneArea)
			if err := g.AddNode(n); err != nil {
				return err
			}
		}
	}
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			if x+1 < cols {
				if err := g.Connect(GridNodeID(x, y), GridNodeID(x+1, y)); err != nil {
					return err
				}
			}
			if y+1 < rows {
				if err := g.Connect(GridNodeID(x, y), GridNodeID(x, y+1)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
