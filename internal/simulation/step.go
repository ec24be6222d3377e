package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/nvandessel/cellsim/internal/events"
	"github.com/nvandessel/cellsim/internal/logging"
	"github.com/nvandessel/cellsim/internal/metrics"
	"github.com/nvandessel/cellsim/internal/module"
	"github.com/nvandessel/cellsim/internal/topology"
	"golang.org/x/sync/errgroup"
)

// StepResult describes one applied step.
type StepResult struct {
	Step     uint64 // steps applied so far, including this one
	Time     float64
	Deltas   int
	Clamped  int
	Spawned  []string
	Removed  []string
	Duration time.Duration
}

// update is one validated concentration write.
type update struct {
	key   module.Identifier
	value float64
}

// Step computes and applies a single step. On error nothing is applied and
// the step counter does not advance.
func (s *Simulation) Step(ctx context.Context) (StepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.stepLocked(ctx)
	if err != nil {
		s.metrics.ObserveFailure(reason(err))
		return StepResult{}, err
	}
	return res, nil
}

func (s *Simulation) stepLocked(ctx context.Context) (StepResult, error) {
	start := time.Now()

	// Refresh.
	for _, m := range s.modules {
		if err := m.Refresh(s.cfg.Units); err != nil {
			return StepResult{}, fmt.Errorf("step %d: %w", s.step, err)
		}
	}

	// Snapshot.
	updatables := s.Updatables()
	views := make(map[string]topology.View, len(updatables))
	ordered := make([]topology.View, len(updatables))
	for i, u := range updatables {
		v := topology.Snapshot(u)
		views[v.ID] = v
		ordered[i] = v
	}
	stepView := module.NewStepView(s.step, s.elapsed, s.cfg.Units, s.cfg.Seed, views)

	// Compute.
	partials, err := s.compute(ctx, stepView, ordered)
	if err != nil {
		return StepResult{}, err
	}

	// Merge.
	l := newLedger()
	for _, p := range partials {
		l.merge(p)
	}

	// Validate.
	updates, clamped, err := s.validate(l, views)
	if err != nil {
		return StepResult{}, err
	}
	if err := s.validateVesicles(l); err != nil {
		return StepResult{}, err
	}

	// Apply.
	touched := s.apply(updates, l)
	spawned, removed := s.applyVesicles(l)

	s.step++
	s.elapsed = float64(s.step) * s.cfg.Units.StepSeconds()

	res := StepResult{
		Step:     s.step,
		Time:     s.elapsed,
		Deltas:   l.size(),
		Clamped:  clamped,
		Spawned:  spawned,
		Removed:  removed,
		Duration: time.Since(start),
	}
	s.notify(res, touched)
	s.record(res, l)
	return res, nil
}

// compute runs every applicable function for every Updatable on the worker
// pool. Each Updatable writes only its own partial ledger.
func (s *Simulation) compute(ctx context.Context, step *module.StepView, views []topology.View) ([]*ledger, error) {
	partials := make([]*ledger, len(views))
	modules := s.modules

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, u := range views {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			l := newLedger()
			for _, m := range modules {
				for _, fn := range m.Functions() {
					if !fn.Condition(u) {
						continue
					}
					out, err := fn.Compute(step, u)
					if err != nil {
						return fmt.Errorf("step %d: module %s/%s at %s: %w", step.Step, m.Name(), fn.Name, u.ID, err)
					}
					l.record(u.ID, m.Name(), out)
				}
			}
			partials[i] = l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return partials, nil
}

// validate turns merged deltas into final values without touching state.
func (s *Simulation) validate(l *ledger, views map[string]topology.View) ([]update, int, error) {
	keys := l.keys()
	updates := make([]update, 0, len(keys))
	clamped := 0
	for _, key := range keys {
		view, ok := views[key.Updatable]
		if !ok || view.Region == nil || !view.Region.Has(key.Subsection) {
			return nil, 0, &StepError{Step: s.step, Identifier: key, Err: ErrInvalidTarget}
		}
		delta := l.total(key)
		value := view.Concentrations.Get(key.Subsection, key.Entity) + delta
		switch {
		case math.IsNaN(value) || math.IsInf(value, 0):
			return nil, 0, &StepError{Step: s.step, Identifier: key, Value: value, Err: ErrNonFinite}
		case value < -s.cfg.Tolerance:
			return nil, 0, &StepError{Step: s.step, Identifier: key, Value: value, Err: ErrNegativeConcentration}
		case value < 0:
			value = 0
			clamped++
		}
		updates = append(updates, update{key: key, value: value})
	}
	return updates, clamped, nil
}

// validateVesicles rejects spawn requests that would collide.
func (s *Simulation) validateVesicles(l *ledger) error {
	seen := make(map[string]bool, len(l.spawns))
	for _, v := range l.spawns {
		if seen[v.ID()] {
			return fmt.Errorf("step %d: %w: vesicle %s spawned twice", s.step, topology.ErrDuplicateID, v.ID())
		}
		seen[v.ID()] = true
		if _, exists := s.Updatable(v.ID()); exists {
			return fmt.Errorf("step %d: %w: vesicle %s", s.step, topology.ErrDuplicateID, v.ID())
		}
	}
	return nil
}

// apply writes concentrations then positions. It returns the touched
// Updatable IDs in order.
func (s *Simulation) apply(updates []update, l *ledger) []string {
	var touched []string
	for _, up := range updates {
		u, ok := s.Updatable(up.key.Updatable)
		if !ok {
			continue
		}
		// Validated; Set cannot fail here.
		_ = u.Concentrations().Set(up.key.Subsection, up.key.Entity, up.value)
		if n := len(touched); n == 0 || touched[n-1] != up.key.Updatable {
			touched = append(touched, up.key.Updatable)
		}
	}
	for _, id := range l.moved() {
		if v, ok := s.vesicles.Get(id); ok {
			v.Move(l.displacement(id))
		}
	}
	return touched
}

// applyVesicles performs deferred removals and spawns.
func (s *Simulation) applyVesicles(l *ledger) (spawned, removed []string) {
	for _, id := range l.removals {
		if s.vesicles.Remove(id) {
			removed = append(removed, id)
		}
	}
	for _, v := range l.spawns {
		if err := s.vesicles.Add(v); err == nil {
			spawned = append(spawned, v.ID())
		}
	}
	return spawned, removed
}

func (s *Simulation) notify(res StepResult, touched []string) {
	s.bus.Graph.Emit(events.GraphUpdated{
		RunID:    s.cfg.RunID,
		Step:     res.Step,
		Time:     res.Time,
		Nodes:    s.graph.Len(),
		Vesicles: s.vesicles.Len(),
		Spawned:  res.Spawned,
		Removed:  res.Removed,
	})
	if s.bus.Node.Len() == 0 {
		return
	}
	for _, id := range touched {
		u, ok := s.Updatable(id)
		if !ok {
			continue
		}
		s.bus.Node.Emit(events.NodeUpdated{
			RunID:          s.cfg.RunID,
			Step:           res.Step,
			Time:           res.Time,
			UpdatableID:    id,
			Concentrations: u.Concentrations().Snapshot(),
		})
	}
}

func (s *Simulation) record(res StepResult, l *ledger) {
	s.metrics.ObserveStep(metrics.Step{
		Duration: res.Duration,
		SimTime:  res.Time,
		Clamped:  res.Clamped,
		Nodes:    s.graph.Len(),
		Vesicles: s.vesicles.Len(),
		Deltas:   l.byModule,
	})
	s.trace.Log(logging.StepRecord{
		RunID:      s.cfg.RunID,
		Step:       res.Step,
		SimTime:    res.Time,
		Deltas:     res.Deltas,
		Updatables: s.graph.Len() + s.vesicles.Len(),
		Clamped:    res.Clamped,
		Spawned:    res.Spawned,
		Removed:    res.Removed,
		Modules:    l.byModule,
	})
	s.logger.Debug("step applied",
		"step", res.Step,
		"sim_time", res.Time,
		"deltas", res.Deltas,
		"clamped", res.Clamped)
	if s.logger.Enabled(context.Background(), logging.LevelTrace) {
		for _, key := range l.keys() {
			s.logger.Log(context.Background(), logging.LevelTrace, "delta",
				slog.String("updatable", key.Updatable),
				slog.String("subsection", string(key.Subsection)),
				slog.Int("entity", int(key.Entity)),
				slog.Float64("value", l.total(key)))
		}
	}
}
