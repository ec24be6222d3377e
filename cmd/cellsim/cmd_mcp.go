package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nvandessel/cellsim/internal/logging"
	"github.com/nvandessel/cellsim/internal/mcp"
	"github.com/nvandessel/cellsim/internal/metrics"
	"github.com/nvandessel/cellsim/internal/visualization"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newMCPServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Run as an MCP server over stdio",
		Long: `Serve cellsim as a Model Context Protocol server on stdin/stdout.

Tools: cellsim_validate, cellsim_run, cellsim_graph, cellsim_series.
Scenario paths are resolved against --root and may not leave it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			auditPath, _ := cmd.Flags().GetString("audit-log")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			root, err = filepath.Abs(root)
			if err != nil {
				return fmt.Errorf("resolve root: %w", err)
			}

			// stdout carries the protocol; logs go to stderr.
			logger := logging.NewLogger(cfg.Logging.Level, os.Stderr)

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			var (
				reg *prometheus.Registry
				m   *metrics.Metrics
			)
			if cfg.Metrics.Enabled {
				reg = prometheus.NewRegistry()
				m = metrics.New(reg)
			}

			server, err := mcp.NewServer(&mcp.Config{
				Name:      "cellsim",
				Version:   version,
				Root:      root,
				Settings:  cfg,
				AuditPath: auditPath,
				Metrics:   m,
				Logger:    logger,
			})
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}

			var g errgroup.Group
			if reg != nil {
				srv := visualization.NewServer(metrics.Handler(reg))
				g.Go(func() error {
					return srv.ListenAndServe(ctx, cfg.Metrics.Addr)
				})
			}

			runErr := server.Run(ctx)
			cancel()
			if err := g.Wait(); err != nil {
				logger.Warn("metrics server failed", "error", err)
			}
			return runErr
		},
	}
	cmd.Flags().String("root", ".", "Directory scenario paths are resolved against")
	cmd.Flags().String("audit-log", "", "Append a JSONL audit entry per tool call to this file")
	return cmd
}
