package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nvandessel/cellsim/internal/scenario"
	"github.com/nvandessel/cellsim/internal/simulation"
	"github.com/nvandessel/cellsim/internal/store"
	"github.com/nvandessel/cellsim/internal/visualization"
)

const runsURI = "cellsim://runs"

// registerTools registers all cellsim MCP tools with the server.
func (s *Server) registerTools() error {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "cellsim_validate",
		Description: "Parse and build a scenario without running it, reporting its size or why it is invalid",
	}, s.handleValidate)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "cellsim_run",
		Description: "Run a scenario for a number of steps, record its trajectory and return the final concentrations",
	}, s.handleRun)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "cellsim_graph",
		Description: "Render the compartment graph of a scenario in DOT (Graphviz) or JSON format, optionally after running some steps",
	}, s.handleGraph)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "cellsim_series",
		Description: "Read one recorded concentration time series of a previous cellsim_run",
	}, s.handleSeries)

	return nil
}

// registerResources registers MCP resources.
func (s *Server) registerResources() error {
	s.server.AddResource(&sdk.Resource{
		URI:         runsURI,
		Name:        "cellsim-runs",
		Description: "Recorded simulation runs, newest last.",
		MIMEType:    "text/markdown",
	}, s.handleRunsResource)
	return nil
}

// handleRunsResource lists the recorded runs.
func (s *Server) handleRunsResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	runs, err := s.recorder.Runs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("# Simulation Runs\n\n")
	if len(runs) == 0 {
		sb.WriteString("No runs recorded yet. Start one with `cellsim_run`.\n")
	} else {
		sb.WriteString("| Run | Scenario | Seed | Step (s) | Started |\n")
		sb.WriteString("|-----|----------|------|----------|---------|\n")
		for _, r := range runs {
			fmt.Fprintf(&sb, "| %s | %s | %d | %g | %s |\n",
				r.ID, r.Scenario, r.Seed, r.StepSeconds, r.StartedAt.Format(time.RFC3339))
		}
	}

	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{
			{
				URI:      runsURI,
				MIMEType: "text/markdown",
				Text:     sb.String(),
			},
		},
	}, nil
}

// handleValidate implements the cellsim_validate tool.
func (s *Server) handleValidate(ctx context.Context, req *sdk.CallToolRequest, args ValidateInput) (_ *sdk.CallToolResult, _ ValidateOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("cellsim_validate", start, retErr, sanitizeToolParams(map[string]interface{}{
			"scenario": args.Scenario,
		}))
	}()

	if err := s.limiters.Check("cellsim_validate"); err != nil {
		return nil, ValidateOutput{}, err
	}

	path, err := s.resolve(args.Scenario)
	if err != nil {
		return nil, ValidateOutput{}, err
	}

	sc, err := scenario.Load(path)
	if err != nil {
		return nil, ValidateOutput{Valid: false, Error: err.Error()}, nil
	}
	sim, err := s.build(sc, nil)
	if err != nil {
		return nil, ValidateOutput{Valid: false, Name: sc.Name, Error: err.Error()}, nil
	}

	modules := make([]string, 0, len(sim.Modules()))
	for _, m := range sim.Modules() {
		modules = append(modules, m.Name())
	}
	return nil, ValidateOutput{
		Valid:    true,
		Name:     sc.Name,
		Entities: sim.Entities().Len(),
		Nodes:    sim.Graph().Len(),
		Vesicles: sim.Vesicles().Len(),
		Modules:  modules,
		Features: sim.Features().Names(),
	}, nil
}

// handleRun implements the cellsim_run tool.
func (s *Server) handleRun(ctx context.Context, req *sdk.CallToolRequest, args RunInput) (_ *sdk.CallToolResult, _ RunOutput, retErr error) {
	start := time.Now()
	defer func() {
		params := map[string]interface{}{"scenario": args.Scenario, "steps": args.Steps}
		if args.Seed != nil {
			params["seed"] = *args.Seed
		}
		if args.Entity != "" {
			params["entity"] = args.Entity
		}
		s.auditTool("cellsim_run", start, retErr, sanitizeToolParams(params))
	}()

	if err := s.limiters.Check("cellsim_run"); err != nil {
		return nil, RunOutput{}, err
	}

	steps, err := stepCount(args.Steps, s.settings.Simulation.Steps)
	if err != nil {
		return nil, RunOutput{}, err
	}
	path, err := s.resolve(args.Scenario)
	if err != nil {
		return nil, RunOutput{}, err
	}
	sc, err := scenario.Load(path)
	if err != nil {
		return nil, RunOutput{}, err
	}
	sim, err := s.build(sc, args.Seed)
	if err != nil {
		return nil, RunOutput{}, err
	}

	tap := store.NewTap(sim, s.recorder, s.settings.Store.Every, s.logger)
	if err := tap.Start(ctx, store.Run{
		Scenario:    sc.Name,
		Seed:        sim.Config().Seed,
		StepSeconds: sim.Units().StepSeconds(),
		StartedAt:   time.Now().UTC(),
	}); err != nil {
		return nil, RunOutput{}, fmt.Errorf("failed to start recording: %w", err)
	}

	sum, runErr := sim.Run(ctx, steps)
	stopErr := tap.Stop()
	if runErr != nil {
		return nil, RunOutput{}, fmt.Errorf("run %s failed after %d steps: %w", sim.RunID(), sum.Steps, runErr)
	}
	if stopErr != nil {
		return nil, RunOutput{}, fmt.Errorf("failed to record run %s: %w", sim.RunID(), stopErr)
	}

	final, err := s.recorder.Final(ctx, sim.RunID())
	if err != nil {
		return nil, RunOutput{}, fmt.Errorf("failed to read final levels: %w", err)
	}

	levels := make([]Level, 0, len(final))
	truncated := false
	for _, f := range final {
		if f.Value == 0 || (args.Entity != "" && f.Entity != args.Entity) {
			continue
		}
		if len(levels) == maxLevels {
			truncated = true
			break
		}
		levels = append(levels, Level{
			Updatable:  f.Updatable,
			Subsection: f.Subsection,
			Entity:     f.Entity,
			Value:      f.Value,
		})
	}

	return nil, RunOutput{
		RunID:     sim.RunID(),
		Scenario:  sc.Name,
		Steps:     sum.Steps,
		Time:      sum.Time,
		Deltas:    sum.Deltas,
		Clamped:   sum.Clamped,
		Nodes:     sim.Graph().Len(),
		Vesicles:  sim.Vesicles().Len(),
		Final:     levels,
		Truncated: truncated,
		Message:   fmt.Sprintf("Ran %s for %d steps (%g s simulated)", sc.Name, sum.Steps, sum.Time),
	}, nil
}

// handleGraph implements the cellsim_graph tool.
func (s *Server) handleGraph(ctx context.Context, req *sdk.CallToolRequest, args GraphInput) (_ *sdk.CallToolResult, _ GraphOutput, retErr error) {
	start := time.Now()
	defer func() {
		params := map[string]interface{}{"scenario": args.Scenario, "steps": args.Steps}
		if args.Format != "" {
			params["format"] = args.Format
		}
		if args.Entity != "" {
			params["entity"] = args.Entity
		}
		if args.Subsection != "" {
			params["subsection"] = args.Subsection
		}
		s.auditTool("cellsim_graph", start, retErr, sanitizeToolParams(params))
	}()

	if err := s.limiters.Check("cellsim_graph"); err != nil {
		return nil, GraphOutput{}, err
	}

	name := args.Format
	if name == "" {
		name = string(visualization.FormatJSON)
	}
	format, err := visualization.ParseFormat(name)
	if err != nil {
		return nil, GraphOutput{}, err
	}
	steps, err := stepCount(args.Steps, 0)
	if err != nil {
		return nil, GraphOutput{}, err
	}
	path, err := s.resolve(args.Scenario)
	if err != nil {
		return nil, GraphOutput{}, err
	}
	sc, err := scenario.Load(path)
	if err != nil {
		return nil, GraphOutput{}, err
	}
	sim, err := s.build(sc, nil)
	if err != nil {
		return nil, GraphOutput{}, err
	}
	if _, err := sim.Run(ctx, steps); err != nil {
		return nil, GraphOutput{}, fmt.Errorf("run failed: %w", err)
	}

	st := visualization.Capture(sim, sim.StepCount(), sim.Time())
	out := GraphOutput{
		Format:       string(format),
		Step:         st.Step,
		NodeCount:    len(st.Nodes),
		EdgeCount:    len(st.Edges),
		VesicleCount: len(st.Vesicles),
	}
	switch format {
	case visualization.FormatDOT:
		out.Graph = visualization.RenderDOT(st, visualization.Options{
			Entity:     args.Entity,
			Subsection: args.Subsection,
		})
	default:
		out.Graph = visualization.RenderJSON(st)
	}
	return nil, out, nil
}

// handleSeries implements the cellsim_series tool.
func (s *Server) handleSeries(ctx context.Context, req *sdk.CallToolRequest, args SeriesInput) (_ *sdk.CallToolResult, _ SeriesOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("cellsim_series", start, retErr, sanitizeToolParams(map[string]interface{}{
			"run_id":     args.RunID,
			"updatable":  args.Updatable,
			"subsection": args.Subsection,
			"entity":     args.Entity,
		}))
	}()

	if err := s.limiters.Check("cellsim_series"); err != nil {
		return nil, SeriesOutput{}, err
	}
	if args.RunID == "" || args.Updatable == "" || args.Subsection == "" || args.Entity == "" {
		return nil, SeriesOutput{}, fmt.Errorf("'run_id', 'updatable', 'subsection' and 'entity' are required")
	}

	samples, err := s.recorder.Series(ctx, args.RunID, store.SeriesKey{
		Updatable:  args.Updatable,
		Subsection: args.Subsection,
		Entity:     args.Entity,
	})
	if err != nil {
		return nil, SeriesOutput{}, err
	}

	points := make([]Point, len(samples))
	for i, smp := range samples {
		points[i] = Point{Step: smp.Step, Time: smp.Time, Value: smp.Value}
	}
	return nil, SeriesOutput{
		RunID:  args.RunID,
		Points: points,
		Count:  len(points),
	}, nil
}

// resolve maps a scenario argument to a file inside the sandbox.
func (s *Server) resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("'scenario' parameter is required")
	}
	resolved, err := s.sandbox.Resolve(path)
	if err != nil {
		return "", fmt.Errorf("scenario path rejected: %w", err)
	}
	return resolved, nil
}

// build turns sc into a simulation with the server's settings. A non-nil
// seed overrides the configured one.
func (s *Server) build(sc *scenario.Scenario, seed *int64) (*simulation.Simulation, error) {
	cfg, err := s.settings.Engine()
	if err != nil {
		return nil, err
	}
	if seed != nil {
		cfg.Seed = *seed
	}
	return sc.Build(cfg,
		simulation.WithLogger(s.logger),
		simulation.WithMetrics(s.metrics),
	)
}

// stepCount applies the default and bounds of a steps argument.
func stepCount(n, def int) (int, error) {
	switch {
	case n < 0:
		return 0, fmt.Errorf("steps must be non-negative, got %d", n)
	case n == 0:
		n = def
	}
	if n > MaxSteps {
		return 0, fmt.Errorf("steps %d exceeds the maximum of %d", n, MaxSteps)
	}
	return n, nil
}
