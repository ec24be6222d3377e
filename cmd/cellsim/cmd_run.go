package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nvandessel/cellsim/internal/config"
	"github.com/nvandessel/cellsim/internal/logging"
	"github.com/nvandessel/cellsim/internal/metrics"
	"github.com/nvandessel/cellsim/internal/scenario"
	"github.com/nvandessel/cellsim/internal/simulation"
	"github.com/nvandessel/cellsim/internal/store"
	"github.com/nvandessel/cellsim/internal/visualization"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// runResult is the JSON output of `cellsim run`.
type runResult struct {
	RunID       string         `json:"run_id"`
	Scenario    string         `json:"scenario"`
	Steps       int            `json:"steps"`
	Time        float64        `json:"time"`
	Deltas      int            `json:"deltas"`
	Clamped     int            `json:"clamped"`
	Store       string         `json:"store,omitempty"`
	Interrupted bool           `json:"interrupted,omitempty"`
	Final       []store.Sample `json:"final,omitempty"`
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scenario and record its trajectory",
		Long: `Build the scenario, run it for a number of steps and record every
concentration change into the trajectory store.

With metrics enabled, the current state and Prometheus metrics are served
over HTTP while the run is in progress (/state.json, /state.dot, /metrics).

Examples:
  cellsim run cell.yaml --steps 5000
  cellsim run cell.yaml --store runs.db --every 10
  cellsim run cell.yaml --metrics --metrics-addr :9464 --final`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			showFinal, _ := cmd.Flags().GetBool("final")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, cfg); err != nil {
				return err
			}

			logger := logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())

			sc, err := scenario.Load(args[0])
			if err != nil {
				return err
			}
			engine, err := cfg.Engine()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("seed") {
				engine.Seed, _ = cmd.Flags().GetInt64("seed")
			}

			stepLog := logging.NewStepLogger(cfg.Logging.Dir, cfg.Logging.Level)
			defer stepLog.Close()

			opts := []simulation.Option{
				simulation.WithLogger(logger),
				simulation.WithStepLogger(stepLog),
			}
			var reg *prometheus.Registry
			if cfg.Metrics.Enabled {
				reg = prometheus.NewRegistry()
				opts = append(opts, simulation.WithMetrics(metrics.New(reg)))
			}

			sim, err := sc.Build(engine, opts...)
			if err != nil {
				return err
			}

			rec, err := store.Open(cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("open trajectory store: %w", err)
			}
			defer rec.Close()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			if cfg.Metrics.Enabled {
				stop := serveState(ctx, sim, reg, cfg.Metrics.Addr, logger)
				defer stop()
			}

			tap := store.NewTap(sim, rec, cfg.Store.Every, logger)
			if err := tap.Start(ctx, store.Run{
				Scenario:    sc.Name,
				Seed:        engine.Seed,
				StepSeconds: engine.Units.StepSeconds(),
				StartedAt:   time.Now().UTC(),
			}); err != nil {
				return fmt.Errorf("start recording: %w", err)
			}

			sum, runErr := sim.Run(ctx, cfg.Simulation.Steps)
			stopErr := tap.Stop()
			interrupted := errors.Is(runErr, context.Canceled)
			if runErr != nil && !interrupted {
				return fmt.Errorf("run %s failed after %d steps: %w", sum.RunID, sum.Steps, runErr)
			}
			if stopErr != nil {
				return fmt.Errorf("record run %s: %w", sum.RunID, stopErr)
			}

			result := runResult{
				RunID:       sum.RunID,
				Scenario:    sc.Name,
				Steps:       sum.Steps,
				Time:        sum.Time,
				Deltas:      sum.Deltas,
				Clamped:     sum.Clamped,
				Store:       cfg.Store.Path,
				Interrupted: interrupted,
			}
			if showFinal {
				// ctx may be cancelled by now.
				result.Final, err = rec.Final(context.Background(), sum.RunID)
				if err != nil {
					return fmt.Errorf("read final levels: %w", err)
				}
			}

			if err := printRunResult(cmd.OutOrStdout(), result, jsonOut); err != nil {
				return err
			}
			if interrupted {
				return fmt.Errorf("run %s interrupted after %d steps", sum.RunID, sum.Steps)
			}
			return nil
		},
	}

	cmd.Flags().Int("steps", 0, "Number of steps (default from config)")
	cmd.Flags().Int64("seed", 0, "Seed for stochastic modules (default from config)")
	cmd.Flags().String("store", "", "SQLite trajectory store (default from config, in-memory if unset)")
	cmd.Flags().Int("every", 0, "Record every n-th step (default from config)")
	cmd.Flags().Bool("metrics", false, "Serve state and Prometheus metrics during the run")
	cmd.Flags().String("metrics-addr", "", "Listen address for --metrics (default from config)")
	cmd.Flags().String("log-level", "", "Log level: info, debug or trace")
	cmd.Flags().String("log-dir", "", "Directory for the JSONL step trace (debug and trace levels)")
	cmd.Flags().Bool("final", false, "Print the final concentrations")

	return cmd
}

// applyRunFlags overrides cfg with the flags set on the command line.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("steps") {
		cfg.Simulation.Steps, _ = flags.GetInt("steps")
	}
	if flags.Changed("store") {
		cfg.Store.Path, _ = flags.GetString("store")
	}
	if flags.Changed("every") {
		cfg.Store.Every, _ = flags.GetInt("every")
	}
	if flags.Changed("metrics") {
		cfg.Metrics.Enabled, _ = flags.GetBool("metrics")
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-dir") {
		cfg.Logging.Dir, _ = flags.GetString("log-dir")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

// serveState serves sim's state and the metrics in reg on addr until the
// returned function is called.
func serveState(ctx context.Context, sim *simulation.Simulation, reg *prometheus.Registry, addr string, logger *slog.Logger) func() {
	srv := visualization.NewServer(metrics.Handler(reg))
	unwatch := srv.Watch(sim)

	serveCtx, cancel := context.WithCancel(ctx)
	var g errgroup.Group
	g.Go(func() error {
		return srv.ListenAndServe(serveCtx, addr)
	})
	logger.Info("state server starting", "addr", addr)

	return func() {
		unwatch()
		cancel()
		if err := g.Wait(); err != nil {
			logger.Warn("state server failed", "error", err)
		}
	}
}

func printRunResult(w io.Writer, r runResult, jsonOut bool) error {
	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	fmt.Fprintf(w, "Run %s (%s)\n", r.RunID, r.Scenario)
	fmt.Fprintf(w, "  Steps:   %d\n", r.Steps)
	fmt.Fprintf(w, "  Time:    %g s\n", r.Time)
	fmt.Fprintf(w, "  Deltas:  %d\n", r.Deltas)
	if r.Clamped > 0 {
		fmt.Fprintf(w, "  Clamped: %d\n", r.Clamped)
	}
	if r.Store != "" {
		fmt.Fprintf(w, "  Store:   %s\n", r.Store)
	}
	if r.Interrupted {
		fmt.Fprintln(w, "  (interrupted)")
	}
	if len(r.Final) > 0 {
		fmt.Fprintln(w, "\nFinal concentrations (M):")
		for _, s := range r.Final {
			if s.Value == 0 {
				continue
			}
			fmt.Fprintf(w, "  %-12s %-12s %-10s %.6g\n", s.Updatable, s.Subsection, s.Entity, s.Value)
		}
	}
	return nil
}
