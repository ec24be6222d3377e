package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nvandessel/cellsim/internal/concentration"
	"github.com/nvandessel/cellsim/internal/entity"
	"github.com/nvandessel/cellsim/internal/events"
	"github.com/nvandessel/cellsim/internal/topology"
)

// Source is the part of a simulation a Tap observes.
type Source interface {
	RunID() string
	Events() *events.Bus
	Entities() *entity.Registry
	Updatables() []topology.Updatable
	StepCount() uint64
	Time() float64
}

// Tap records the trajectory of a running simulation into a Recorder.
//
// Every step whose number is a multiple of every is recorded. Changes made
// on skipped steps are carried to the next recorded step, so a series read
// back at the recorded steps is exact.
type Tap struct {
	src    Source
	rec    Recorder
	every  uint64
	logger *slog.Logger

	mu       sync.Mutex
	ctx      context.Context
	runID    string
	graphSub events.Subscription
	nodeSub  events.Subscription
	started  bool
	err      error

	last     events.GraphUpdated
	recorded bool // whether last has been written
	pending  map[string]concentration.Snapshot
	keys     map[string]map[concentration.Key]bool // last written keys per Updatable
}

// NewTap creates a tap recording every n-th step. n < 1 records every step.
func NewTap(src Source, rec Recorder, every int, logger *slog.Logger) *Tap {
	if every < 1 {
		every = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tap{
		src:     src,
		rec:     rec,
		every:   uint64(every),
		logger:  logger,
		pending: make(map[string]concentration.Snapshot),
		keys:    make(map[string]map[concentration.Key]bool),
	}
}

// Start begins the run, writes the current state as the first frame and
// subscribes to the simulation's events. An empty run ID is taken from the
// source.
func (t *Tap) Start(ctx context.Context, run Run) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return fmt.Errorf("tap already started")
	}
	if run.ID == "" {
		run.ID = t.src.RunID()
	}
	if err := t.rec.BeginRun(ctx, run); err != nil {
		return err
	}
	t.ctx = ctx
	t.runID = run.ID

	step, now := t.src.StepCount(), t.src.Time()
	updatables := t.src.Updatables()
	frame := Frame{RunID: run.ID, Step: step, Time: now}
	var samples []Sample
	for _, u := range updatables {
		if u.Kind() == topology.KindVesicle {
			frame.Vesicles++
		} else {
			frame.Nodes++
		}
		samples = append(samples, t.samplesLocked(u.ID(), u.Concentrations().Snapshot(), step, now)...)
	}
	if err := t.rec.RecordFrame(ctx, frame); err != nil {
		return err
	}
	if err := t.rec.RecordSamples(ctx, samples); err != nil {
		return err
	}
	t.last = events.GraphUpdated{RunID: run.ID, Step: step, Time: now, Nodes: frame.Nodes, Vesicles: frame.Vesicles}
	t.recorded = true

	bus := t.src.Events()
	t.graphSub = bus.Graph.Subscribe(t.onGraph)
	t.nodeSub = bus.Node.Subscribe(t.onNode)
	t.started = true

	t.logger.Debug("trajectory tap started", "run_id", run.ID, "every", t.every, "updatables", len(updatables))
	return nil
}

// Stop unsubscribes, writes the last step if it was skipped and returns the
// first error met while recording.
func (t *Tap) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		return t.err
	}
	bus := t.src.Events()
	bus.Graph.Unsubscribe(t.graphSub)
	bus.Node.Unsubscribe(t.nodeSub)
	t.started = false

	if !t.recorded {
		t.writeFrameLocked(t.last)
	}
	return t.err
}

// Err returns the first recording error, if any.
func (t *Tap) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Tap) onGraph(ev events.GraphUpdated) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = ev
	t.recorded = false
	if ev.Step%t.every == 0 {
		t.writeFrameLocked(ev)
	}
}

func (t *Tap) onNode(ev events.NodeUpdated) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ev.Step%t.every != 0 {
		t.pending[ev.UpdatableID] = ev.Concentrations
		return
	}
	delete(t.pending, ev.UpdatableID)
	t.fail(t.rec.RecordSamples(t.ctx, t.samplesLocked(ev.UpdatableID, ev.Concentrations, ev.Step, ev.Time)))
}

// writeFrameLocked writes ev and flushes Updatables changed on skipped
// steps at ev's step.
func (t *Tap) writeFrameLocked(ev events.GraphUpdated) {
	t.recorded = true
	t.fail(t.rec.RecordFrame(t.ctx, Frame{
		RunID:    t.runID,
		Step:     ev.Step,
		Time:     ev.Time,
		Nodes:    ev.Nodes,
		Vesicles: ev.Vesicles,
		Spawned:  ev.Spawned,
		Removed:  ev.Removed,
	}))
	if len(t.pending) == 0 {
		return
	}
	var samples []Sample
	for id, snap := range t.pending {
		samples = append(samples, t.samplesLocked(id, snap, ev.Step, ev.Time)...)
	}
	clear(t.pending)
	t.fail(t.rec.RecordSamples(t.ctx, samples))
}

// samplesLocked converts snap into samples, adding a zero sample for every
// key written earlier that is no longer present.
func (t *Tap) samplesLocked(id string, snap concentration.Snapshot, step uint64, now float64) []Sample {
	entities := t.src.Entities()
	current := make(map[concentration.Key]bool, snap.Len())
	var out []Sample
	for _, k := range snap.Keys() {
		current[k] = true
		out = append(out, t.sample(entities, id, k, snap.Get(k.Subsection, k.Entity), step, now))
	}
	for k := range t.keys[id] {
		if !current[k] {
			out = append(out, t.sample(entities, id, k, 0, step, now))
		}
	}
	t.keys[id] = current
	return out
}

func (t *Tap) sample(entities *entity.Registry, id string, k concentration.Key, value float64, step uint64, now float64) Sample {
	return Sample{
		RunID:      t.runID,
		Step:       step,
		Time:       now,
		Updatable:  id,
		Subsection: string(k.Subsection),
		Entity:     entities.Identifier(k.Entity),
		Value:      value,
	}
}

func (t *Tap) fail(err error) {
	if err == nil {
		return
	}
	if t.err == nil {
		t.err = err
	}
	t.logger.Error("failed to record trajectory", "run_id", t.runID, "error", err)
}
