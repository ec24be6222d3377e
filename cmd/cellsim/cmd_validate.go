package main

import (
	"encoding/json"
	"fmt"

	"github.com/nvandessel/cellsim/internal/scenario"
	"github.com/spf13/cobra"
)

// validateResult is the JSON output of `cellsim validate`.
type validateResult struct {
	Valid    bool     `json:"valid"`
	Name     string   `json:"name,omitempty"`
	Entities int      `json:"entities"`
	Nodes    int      `json:"nodes"`
	Vesicles int      `json:"vesicles"`
	Modules  []string `json:"modules,omitempty"`
	Features []string `json:"features,omitempty"`
	Error    string   `json:"error,omitempty"`
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <scenario.yaml>",
		Short: "Check that a scenario parses and builds",
		Long: `Parse the scenario, resolve every entity, region and feature it
references and register its modules, without running any step.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			out := cmd.OutOrStdout()

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			engine, err := cfg.Engine()
			if err != nil {
				return err
			}

			var result validateResult
			sc, err := scenario.Load(args[0])
			if err == nil {
				result.Name = sc.Name
				sim, buildErr := sc.Build(engine)
				if buildErr == nil {
					result.Valid = true
					result.Entities = sim.Entities().Len()
					result.Nodes = sim.Graph().Len()
					result.Vesicles = sim.Vesicles().Len()
					for _, m := range sim.Modules() {
						result.Modules = append(result.Modules, m.Name())
					}
					result.Features = sim.Features().Names()
				}
				err = buildErr
			}
			if err != nil {
				result.Error = err.Error()
			}

			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(result); encErr != nil {
					return encErr
				}
			} else if result.Valid {
				fmt.Fprintf(out, "Scenario %s is valid\n", result.Name)
				fmt.Fprintf(out, "  Entities: %d\n", result.Entities)
				fmt.Fprintf(out, "  Nodes:    %d\n", result.Nodes)
				fmt.Fprintf(out, "  Vesicles: %d\n", result.Vesicles)
				fmt.Fprintf(out, "  Modules:  %d\n", len(result.Modules))
				for _, name := range result.Modules {
					fmt.Fprintf(out, "    - %s\n", name)
				}
				fmt.Fprintf(out, "  Features: %d\n", len(result.Features))
			}

			if err != nil {
				return fmt.Errorf("invalid scenario: %w", err)
			}
			return nil
		},
	}
}
