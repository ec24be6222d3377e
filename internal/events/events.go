// Package events notifies observers after each applied simulation step.
//
// Listener sets are copy-on-write: Subscribe and Unsubscribe swap in a new
// immutable slice and Emit iterates whatever slice it loaded, so listeners
// may be added or removed from inside a callback.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/nvandessel/cellsim/internal/cell"
	"github.com/nvandessel/cellsim/internal/concentration"
)

// GraphUpdated is emitted once per applied step.
type GraphUpdated struct {
	RunID    string
	Step     uint64
	Time     float64 // elapsed seconds after the step
	Nodes    int
	Vesicles int
	Spawned  []string
	Removed  []string
}

// NodeUpdated is emitted for every Updatable whose concentrations changed
// in the step.
type NodeUpdated struct {
	RunID          string
	Step           uint64
	Time           float64
	UpdatableID    string
	Concentrations concentration.Snapshot
}

// Changed reports the subsections present in the update.
func (e NodeUpdated) Changed() []cell.Subsection {
	seen := make(map[cell.Subsection]bool)
	var out []cell.Subsection
	for _, k := range e.Concentrations.Keys() {
		if !seen[k.Subsection] {
			seen[k.Subsection] = true
			out = append(out, k.Subsection)
		}
	}
	return out
}

// Listener receives events of type E.
type Listener[E any] func(E)

// Subscription identifies a registered listener.
type Subscription uint64

type entry[E any] struct {
	id Subscription
	fn Listener[E]
}

// Emitter is a copy-on-write listener set.
type Emitter[E any] struct {
	mu        sync.Mutex // serializes writers
	next      Subscription
	listeners atomic.Pointer[[]entry[E]]
}

// Subscribe adds fn and returns a handle for Unsubscribe.
func (e *Emitter[E]) Subscribe(fn Listener[E]) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.next++
	id := e.next
	var current []entry[E]
	if p := e.listeners.Load(); p != nil {
		current = *p
	}
	updated := make([]entry[E], len(current), len(current)+1)
	copy(updated, current)
	updated = append(updated, entry[E]{id: id, fn: fn})
	e.listeners.Store(&updated)
	return id
}

// Unsubscribe removes the listener, reporting whether it was registered.
func (e *Emitter[E]) Unsubscribe(id Subscription) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.listeners.Load()
	if p == nil {
		return false
	}
	updated := make([]entry[E], 0, len(*p))
	found := false
	for _, l := range *p {
		if l.id == id {
			found = true
			continue
		}
		updated = append(updated, l)
	}
	if found {
		e.listeners.Store(&updated)
	}
	return found
}

// Emit calls every listener registered at the time of the call, in
// subscription order.
func (e *Emitter[E]) Emit(ev E) {
	p := e.listeners.Load()
	if p == nil {
		return
	}
	for _, l := range *p {
		l.fn(ev)
	}
}

// Len returns the number of listeners.
func (e *Emitter[E]) Len() int {
	if p := e.listeners.Load(); p != nil {
		return len(*p)
	}
	return 0
}

// Bus groups the emitters of one simulation.
type Bus struct {
	Graph Emitter[GraphUpdated]
	Node  Emitter[NodeUpdated]
}
