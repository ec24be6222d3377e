package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/nvandessel/cellsim/internal/config"
	"github.com/nvandessel/cellsim/internal/store"
	"github.com/spf13/cobra"
)

// openRecorder opens the SQLite store named by --store or the config. Runs
// kept in memory do not outlive `cellsim run`, so a path is required.
func openRecorder(cmd *cobra.Command, cfg *config.Config) (store.Recorder, error) {
	path := cfg.Store.Path
	if cmd.Flags().Changed("store") {
		path, _ = cmd.Flags().GetString("store")
	}
	if path == "" {
		return nil, fmt.Errorf("no trajectory store configured (use --store or store.path)")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("trajectory store: %w", err)
	}
	return store.NewSQLiteRecorder(path)
}

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			rec, err := openRecorder(cmd, cfg)
			if err != nil {
				return err
			}
			defer rec.Close()

			runs, err := rec.Runs(cmd.Context())
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				if runs == nil {
					runs = []store.Run{}
				}
				return json.NewEncoder(out).Encode(runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}
			for _, r := range runs {
				fmt.Fprintf(out, "%s  %-20s seed=%-6d dt=%gs  %s\n",
					r.ID, r.Scenario, r.Seed, r.StepSeconds, r.StartedAt.Local().Format(time.DateTime))
			}
			return nil
		},
	}
	cmd.Flags().String("store", "", "SQLite trajectory store (default from config)")
	return cmd
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <run-id>",
		Short: "Export a recorded run as JSONL",
		Long: `Write a recorded run as JSON lines: one "run" record, one "frame"
record per recorded step and one "final" record per concentration series.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (retErr error) {
			output, _ := cmd.Flags().GetString("output")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			rec, err := openRecorder(cmd, cfg)
			if err != nil {
				return err
			}
			defer rec.Close()

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create %s: %w", output, err)
				}
				defer func() {
					if err := f.Close(); err != nil && retErr == nil {
						retErr = err
					}
				}()
				w = f
			}

			return store.ExportJSONL(cmd.Context(), rec, args[0], w)
		},
	}
	cmd.Flags().String("store", "", "SQLite trajectory store (default from config)")
	cmd.Flags().StringP("output", "o", "", "Output file (default stdout)")
	return cmd
}
