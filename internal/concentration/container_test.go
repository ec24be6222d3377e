package concentration

import (
	"errors"
	"testing"

	"github.com/nvandessel/cellsim/internal/cell"
	"github.com/nvandessel/cellsim/internal/entity"
)

var testRegion = cell.MustRegion("cell", map[cell.Topology]cell.Subsection{
	cell.Inner:    "cytoplasm",
	cell.Membrane: "membrane",
})

func TestContainer_GetAbsentIsZero(t *testing.T) {
	c := NewContainer(testRegion)
	if got := c.Get("cytoplasm", 3); got != 0 {
		t.Errorf("Get on empty container = %v, want 0", got)
	}
	if got := c.GetRole(cell.Outer, 3); got != 0 {
		t.Errorf("GetRole for missing role = %v, want 0", got)
	}
}

func TestContainer_SetAndAdd(t *testing.T) {
	c := NewContainer(testRegion)
	const a entity.ID = 0

	if err := c.Set("cytoplasm", a, 2.5); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Add("cytoplasm", a, -0.5); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got := c.GetRole(cell.Inner, a); got != 2.0 {
		t.Errorf("GetRole(inner) = %v, want 2", got)
	}

	if err := c.Add("cytoplasm", a, -3); !errors.Is(err, ErrNegative) {
		t.Errorf("expected ErrNegative, got %v", err)
	}
	if got := c.Get("cytoplasm", a); got != 2.0 {
		t.Errorf("failed Add must not change state, got %v", got)
	}

	if err := c.Set("nucleus", a, 1); !errors.Is(err, cell.ErrUnknownSubsection) {
		t.Errorf("expected ErrUnknownSubsection, got %v", err)
	}
}

func TestContainer_SetZeroRemovesKey(t *testing.T) {
	c := NewContainer(testRegion)
	_ = c.Set("membrane", 1, 4)
	_ = c.Set("membrane", 1, 0)
	if len(c.Keys()) != 0 {
		t.Errorf("expected no keys, got %v", c.Keys())
	}
}

func TestSnapshot_IsIsolatedFromLiveContainer(t *testing.T) {
	c := NewContainer(testRegion)
	_ = c.Set("cytoplasm", 0, 1)

	snap := c.Snapshot()
	_ = c.Set("cytoplasm", 0, 5)
	_ = c.Set("membrane", 1, 2)

	if got := snap.Get("cytoplasm", 0); got != 1 {
		t.Errorf("snapshot changed with live container: %v", got)
	}
	if snap.Len() != 1 {
		t.Errorf("snapshot Len() = %d, want 1", snap.Len())
	}
	if got := snap.GetRole(cell.Inner, 0); got != 1 {
		t.Errorf("snapshot GetRole = %v", got)
	}
}

func TestSnapshot_KeysAndEntitiesOrdered(t *testing.T) {
	c := NewContainer(testRegion)
	_ = c.Set("membrane", 2, 1)
	_ = c.Set("cytoplasm", 5, 1)
	_ = c.Set("cytoplasm", 1, 1)

	keys := c.Snapshot().Keys()
	want := []Key{{"cytoplasm", 1}, {"cytoplasm", 5}, {"membrane", 2}}
	if len(keys) != len(want) {
		t.Fatalf("Keys() = %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Keys()[%d] = %v, want %v", i, keys[i], want[i])
		}
	}

	ents := c.Snapshot().Entities("cytoplasm")
	if len(ents) != 2 || ents[0] != 1 || ents[1] != 5 {
		t.Errorf("Entities(cytoplasm) = %v", ents)
	}
}

func TestSnapshot_ZeroValue(t *testing.T) {
	var s Snapshot
	if s.Get("x", 0) != 0 || s.GetRole(cell.Inner, 0) != 0 || s.Len() != 0 {
		t.Error("zero snapshot should read as empty")
	}
}
