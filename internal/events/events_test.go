package events

import (
	"sync"
	"testing"

	"github.com/nvandessel/cellsim/internal/cell"
	"github.com/nvandessel/cellsim/internal/concentration"
)

func TestEmitter_SubscribeEmitUnsubscribe(t *testing.T) {
	var e Emitter[GraphUpdated]
	var got []uint64

	a := e.Subscribe(func(ev GraphUpdated) { got = append(got, ev.Step) })
	e.Subscribe(func(ev GraphUpdated) { got = append(got, ev.Step*10) })

	e.Emit(GraphUpdated{Step: 1})
	if len(got) != 2 || got[0] != 1 || got[1] != 10 {
		t.Fatalf("got %v, want [1 10]", got)
	}

	if !e.Unsubscribe(a) {
		t.Fatal("Unsubscribe returned false")
	}
	if e.Unsubscribe(a) {
		t.Error("second Unsubscribe should return false")
	}
	e.Emit(GraphUpdated{Step: 2})
	if len(got) != 3 || got[2] != 20 {
		t.Errorf("got %v after unsubscribe", got)
	}
	if e.Len() != 1 {
		t.Errorf("Len() = %d, want 1", e.Len())
	}
}

func TestEmitter_SubscribeDuringEmit(t *testing.T) {
	var e Emitter[GraphUpdated]
	calls := 0
	e.Subscribe(func(GraphUpdated) {
		calls++
		e.Subscribe(func(GraphUpdated) { calls += 100 })
	})

	e.Emit(GraphUpdated{})
	if calls != 1 {
		t.Errorf("listener added during emit ran in the same emit: calls = %d", calls)
	}
	if e.Len() != 2 {
		t.Errorf("Len() = %d, want 2", e.Len())
	}
}

func TestEmitter_ConcurrentUse(t *testing.T) {
	var e Emitter[NodeUpdated]
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := e.Subscribe(func(NodeUpdated) {})
			e.Emit(NodeUpdated{})
			e.Unsubscribe(id)
		}()
	}
	wg.Wait()
	if e.Len() != 0 {
		t.Errorf("Len() = %d, want 0", e.Len())
	}
}

func TestNodeUpdated_Changed(t *testing.T) {
	region := cell.MustRegion("cell", map[cell.Topology]cell.Subsection{
		cell.Inner:    "cytoplasm",
		cell.Membrane: "membrane",
	})
	c := concentration.NewContainer(region)
	_ = c.Set("membrane", 0, 1)
	_ = c.Set("cytoplasm", 0, 1)
	_ = c.Set("cytoplasm", 1, 1)

	got := NodeUpdated{Concentrations: c.Snapshot()}.Changed()
	if len(got) != 2 {
		t.Errorf("Changed() = %v, want two subsections", got)
	}

	var empty NodeUpdated
	if len(empty.Changed()) != 0 {
		t.Error("zero event should report no subsections")
	}
}
