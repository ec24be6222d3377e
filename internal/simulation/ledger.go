package simulation

import (
	"sort"

	"github.com/nvandessel/cellsim/internal/module"
	"github.com/nvandessel/cellsim/internal/topology"
)

// ledger collects every contribution proposed for one step. Contributions
// are kept individually and summed in ascending order, so totals do not
// depend on the order modules ran or workers finished.
type ledger struct {
	deltas map[module.Identifier][]float64
	dx     map[string][]float64
	dy     map[string][]float64

	spawns   []*topology.Vesicle
	removals []string
	byModule map[string]int
}

func newLedger() *ledger {
	return &ledger{
		deltas:   make(map[module.Identifier][]float64),
		dx:       make(map[string][]float64),
		dy:       make(map[string][]float64),
		byModule: make(map[string]int),
	}
}

// record adds one function's output for Updatable id.
func (l *ledger) record(id, moduleName string, out module.Output) {
	for _, d := range out.Deltas {
		if d.Value == 0 {
			continue
		}
		key := module.Identifier{Updatable: id, Subsection: d.Subsection, Entity: d.Entity}
		l.deltas[key] = append(l.deltas[key], d.Value)
		name := d.Module
		if name == "" {
			name = moduleName
		}
		l.byModule[name]++
	}
	if out.Displacement.X != 0 {
		l.dx[id] = append(l.dx[id], out.Displacement.X)
	}
	if out.Displacement.Y != 0 {
		l.dy[id] = append(l.dy[id], out.Displacement.Y)
	}
	l.spawns = append(l.spawns, out.Spawns...)
	l.removals = append(l.removals, out.Removals...)
}

// merge folds other into l. Partial ledgers are merged in Updatable order.
func (l *ledger) merge(other *ledger) {
	for k, vs := range other.deltas {
		l.deltas[k] = append(l.deltas[k], vs...)
	}
	for id, vs := range other.dx {
		l.dx[id] = append(l.dx[id], vs...)
	}
	for id, vs := range other.dy {
		l.dy[id] = append(l.dy[id], vs...)
	}
	for name, n := range other.byModule {
		l.byModule[name] += n
	}
	l.spawns = append(l.spawns, other.spawns...)
	l.removals = append(l.removals, other.removals...)
}

// keys returns the delta identifiers in canonical order.
func (l *ledger) keys() []module.Identifier {
	keys := make([]module.Identifier, 0, len(l.deltas))
	for k := range l.deltas {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return lessIdentifier(keys[i], keys[j]) })
	return keys
}

// total returns the summed delta for key.
func (l *ledger) total(key module.Identifier) float64 {
	return canonicalSum(l.deltas[key])
}

// displacement returns the summed offset for Updatable id.
func (l *ledger) displacement(id string) topology.Vector2 {
	return topology.Vector2{X: canonicalSum(l.dx[id]), Y: canonicalSum(l.dy[id])}
}

// moved returns the IDs with a displacement, sorted.
func (l *ledger) moved() []string {
	seen := make(map[string]bool, len(l.dx)+len(l.dy))
	for id := range l.dx {
		seen[id] = true
	}
	for id := range l.dy {
		seen[id] = true
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (l *ledger) size() int {
	n := 0
	for _, vs := range l.deltas {
		n += len(vs)
	}
	return n
}

// canonicalSum adds values in ascending order. It sorts vs in place.
func canonicalSum(vs []float64) float64 {
	sort.Float64s(vs)
	sum := 0.0
	for _, v := range vs {
		sum += v
	}
	return sum
}

func lessIdentifier(a, b module.Identifier) bool {
	if a.Updatable != b.Updatable {
		return a.Updatable < b.Updatable
	}
	if a.Subsection != b.Subsection {
		return a.Subsection < b.Subsection
	}
	return a.Entity < b.Entity
}
