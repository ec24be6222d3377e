// Package simulation drives the concentration-delta engine.
//
// A step runs in phases:
//
//  1. Refresh every module: features are rescaled to the unit context and
//     per-step hooks run, sequentially and in registration order.
//  2. Snapshot every Updatable.
//  3. Compute: Updatables are processed by a bounded worker pool. Each
//     worker runs every applicable module function against the snapshots
//     and fills a partial ledger for its Updatable.
//  4. Merge the partial ledgers and sum contributions per identifier in
//     canonical order.
//  5. Validate: a result below -Tolerance fails the step with a *StepError
//     and nothing is applied. Results in [-Tolerance, 0) clamp to zero.
//  6. Apply concentrations, then positions, then deferred vesicle spawns
//     and removals.
//  7. Advance step and time and notify listeners.
//
// Delta functions only ever see immutable snapshots, so the compute phase
// needs no locking around concentration state.
package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/nvandessel/cellsim/internal/cell"
	"github.com/nvandessel/cellsim/internal/entity"
	"github.com/nvandessel/cellsim/internal/events"
	"github.com/nvandessel/cellsim/internal/feature"
	"github.com/nvandessel/cellsim/internal/logging"
	"github.com/nvandessel/cellsim/internal/metrics"
	"github.com/nvandessel/cellsim/internal/module"
	"github.com/nvandessel/cellsim/internal/topology"
	"github.com/nvandessel/cellsim/internal/units"
)

// DefaultTolerance is the largest negative overshoot that is clamped to
// zero instead of failing the step.
const DefaultTolerance = 1e-12

// Config holds the driver settings.
type Config struct {
	Units units.Context

	// Workers bounds the compute phase. Zero means GOMAXPROCS.
	Workers int

	// Seed feeds every stochastic module.
	Seed int64

	Tolerance float64

	// RunID labels events, traces and recordings. Empty means a new UUID.
	RunID string
}

// DefaultConfig returns the default discretization with one worker per CPU.
func DefaultConfig() Config {
	return Config{
		Units:     units.DefaultContext(),
		Seed:      1,
		Tolerance: DefaultTolerance,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	if err := c.Units.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 0, got %d", ErrInvalidConfig, c.Workers)
	}
	if c.Tolerance < 0 || math.IsNaN(c.Tolerance) {
		return fmt.Errorf("%w: tolerance must be >= 0, got %v", ErrInvalidConfig, c.Tolerance)
	}
	return nil
}

// Option customizes a Simulation.
type Option func(*Simulation)

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Simulation) { s.logger = l }
}

// WithStepLogger sets the JSONL step trace.
func WithStepLogger(l *logging.StepLogger) Option {
	return func(s *Simulation) { s.trace = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Simulation) { s.metrics = m }
}

// WithFeatures replaces the feature set.
func WithFeatures(set *feature.Set) Option {
	return func(s *Simulation) { s.features = set }
}

// Simulation owns the state of one run.
type Simulation struct {
	cfg      Config
	entities *entity.Registry
	cells    *cell.Registry
	features *feature.Set
	graph    *topology.Graph
	vesicles *topology.VesicleLayer
	bus      events.Bus

	logger  *slog.Logger
	trace   *logging.StepLogger
	metrics *metrics.Metrics

	mu      sync.Mutex // serializes Step
	modules []*module.Module
	step    uint64
	elapsed float64
}

// New creates an empty simulation over the given registries.
func New(cfg Config, entities *entity.Registry, cells *cell.Registry, opts ...Option) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if entities == nil || cells == nil {
		return nil, fmt.Errorf("%w: entity and cell registries are required", ErrInvalidConfig)
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	s := &Simulation{
		cfg:      cfg,
		entities: entities,
		cells:    cells,
		features: feature.NewSet(),
		graph:    topology.NewGraph(),
		vesicles: topology.NewVesicleLayer(),
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Simulation) Config() Config                   { return s.cfg }
func (s *Simulation) RunID() string                    { return s.cfg.RunID }
func (s *Simulation) Units() units.Context             { return s.cfg.Units }
func (s *Simulation) Entities() *entity.Registry       { return s.entities }
func (s *Simulation) Cells() *cell.Registry            { return s.cells }
func (s *Simulation) Features() *feature.Set           { return s.features }
func (s *Simulation) Graph() *topology.Graph           { return s.graph }
func (s *Simulation) Vesicles() *topology.VesicleLayer { return s.vesicles }
func (s *Simulation) Events() *events.Bus              { return &s.bus }

// StepCount returns the number of applied steps.
func (s *Simulation) StepCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// Time returns the elapsed simulated time in seconds.
func (s *Simulation) Time() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed
}

// AddModule registers m. Module names must be unique.
func (s *Simulation) AddModule(m *module.Module) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.modules {
		if existing.Name() == m.Name() {
			return fmt.Errorf("%w: %s", ErrDuplicateModule, m.Name())
		}
	}
	s.modules = append(s.modules, m)
	return nil
}

// Modules returns the registered modules in registration order.
func (s *Simulation) Modules() []*module.Module {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*module.Module(nil), s.modules...)
}

// Updatables returns nodes then vesicles, each sorted by ID.
func (s *Simulation) Updatables() []topology.Updatable {
	nodes := s.graph.Nodes()
	vesicles := s.vesicles.All()
	out := make([]topology.Updatable, 0, len(nodes)+len(vesicles))
	for _, n := range nodes {
		out = append(out, n)
	}
	for _, v := range vesicles {
		out = append(out, v)
	}
	return out
}

// Updatable returns the node or vesicle with id.
func (s *Simulation) Updatable(id string) (topology.Updatable, bool) {
	if n, ok := s.graph.Node(id); ok {
		return n, true
	}
	if v, ok := s.vesicles.Get(id); ok {
		return v, true
	}
	return nil, false
}

// Summary describes a finished Run.
type Summary struct {
	RunID   string
	Steps   int
	Time    float64
	Deltas  int
	Clamped int
}

// Run executes steps consecutive steps. Cancellation is checked between
// steps; the first failing step ends the run.
func (s *Simulation) Run(ctx context.Context, steps int) (Summary, error) {
	sum := Summary{RunID: s.cfg.RunID}
	s.logger.Info("simulation started",
		"run_id", s.cfg.RunID,
		"steps", steps,
		"updatables", s.graph.Len()+s.vesicles.Len(),
		"modules", len(s.Modules()),
		"workers", s.cfg.Workers)

	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			s.logger.Info("simulation cancelled", "run_id", s.cfg.RunID, "steps", sum.Steps)
			return sum, err
		}
		res, err := s.Step(ctx)
		if err != nil {
			s.logger.Error("simulation step failed", "run_id", s.cfg.RunID, "error", err)
			return sum, err
		}
		sum.Steps++
		sum.Time = res.Time
		sum.Deltas += res.Deltas
		sum.Clamped += res.Clamped
	}

	s.logger.Info("simulation finished",
		"run_id", s.cfg.RunID,
		"steps", sum.Steps,
		"sim_time", sum.Time,
		"deltas", sum.Deltas)
	return sum, nil
}
