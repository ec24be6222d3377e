// Package mcp provides an MCP (Model Context Protocol) server for cellsim.
package mcp

import (
	"context"
	"fmt"
	"log/slog"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nvandessel/cellsim/internal/config"
	"github.com/nvandessel/cellsim/internal/logging"
	"github.com/nvandessel/cellsim/internal/metrics"
	"github.com/nvandessel/cellsim/internal/pathutil"
	"github.com/nvandessel/cellsim/internal/ratelimit"
	"github.com/nvandessel/cellsim/internal/store"
)

// MaxSteps bounds the steps of a single tool call.
const MaxSteps = 100_000

// maxLevels bounds the final levels returned by cellsim_run.
const maxLevels = 500

// Server wraps the MCP SDK server and runs scenarios on behalf of clients.
type Server struct {
	server       *sdk.Server
	settings     *config.Config
	sandbox      *pathutil.Sandbox
	recorder     store.Recorder
	ownsRecorder bool
	limiters     *ratelimit.ToolLimiters
	audit        *AuditLogger
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "cellsim")
	Version string // Server version

	// Root is the directory scenario paths are resolved against. Paths
	// outside it are rejected.
	Root string

	// Settings supplies engine defaults. Nil uses config.Default().
	Settings *config.Config

	// Recorder receives run trajectories. Nil opens Settings.Store.Path.
	Recorder store.Recorder

	// AuditPath is a JSONL file for tool call audits. Empty disables it.
	AuditPath string

	// Limits are per-tool rate limits. Nil uses ratelimit.DefaultLimits().
	Limits map[string]ratelimit.Limit

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// NewServer creates a new MCP server with cellsim tools.
func NewServer(cfg *Config) (*Server, error) {
	settings := cfg.Settings
	if settings == nil {
		settings = config.Default()
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	sandbox, err := pathutil.NewSandbox(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox: %w", err)
	}

	limits := cfg.Limits
	if limits == nil {
		limits = ratelimit.DefaultLimits()
	}

	s := &Server{
		settings: settings,
		sandbox:  sandbox,
		recorder: cfg.Recorder,
		limiters: ratelimit.NewToolLimiters(limits),
		metrics:  cfg.Metrics,
		logger:   logger,
	}

	if s.recorder == nil {
		rec, err := store.Open(settings.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open trajectory store: %w", err)
		}
		s.recorder = rec
		s.ownsRecorder = true
	}

	if cfg.AuditPath != "" {
		audit, err := NewAuditLogger(cfg.AuditPath)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.audit = audit
	}

	s.server = sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	if err := s.registerTools(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	if err := s.registerResources(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to register resources: %w", err)
	}

	return s, nil
}

// Run starts the MCP server over stdio transport.
// This blocks until the client disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server started", "root", s.sandbox.Dirs()[0])
	err := s.server.Run(ctx, &sdk.StdioTransport{})
	if closeErr := s.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Close releases the audit log and the recorder if the server opened it.
func (s *Server) Close() error {
	var firstErr error
	if err := s.audit.Close(); err != nil {
		firstErr = err
	}
	s.audit = nil
	if s.ownsRecorder && s.recorder != nil {
		if err := s.recorder.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.recorder = nil
	}
	return firstErr
}
