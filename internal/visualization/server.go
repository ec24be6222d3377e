package visualization

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nvandessel/cellsim/internal/events"
)

// Watched is a simulation the server can follow.
type Watched interface {
	Source
	Events() *events.Bus
	StepCount() uint64
	Time() float64
}

// Server serves the latest state of a running simulation as DOT and JSON,
// plus an optional metrics handler.
type Server struct {
	metrics    http.Handler
	latest     atomic.Pointer[State]
	httpServer *http.Server
	listener   net.Listener
	mu         sync.Mutex
	addr       string
}

// NewServer creates a state server. metrics may be nil.
func NewServer(metrics http.Handler) *Server {
	return &Server{metrics: metrics}
}

// Watch captures the current state of sim and then a new state after every
// applied step. The returned function stops watching.
func (s *Server) Watch(sim Watched) func() {
	st := Capture(sim, sim.StepCount(), sim.Time())
	s.latest.Store(&st)

	bus := sim.Events()
	sub := bus.Graph.Subscribe(func(ev events.GraphUpdated) {
		st := Capture(sim, ev.Step, ev.Time)
		s.latest.Store(&st)
	})
	return func() { bus.Graph.Unsubscribe(sub) }
}

// Latest returns the most recent captured state.
func (s *Server) Latest() (State, bool) {
	p := s.latest.Load()
	if p == nil {
		return State{}, false
	}
	return *p, true
}

// Addr returns the address the server is listening on (e.g., "localhost:PORT").
// Returns empty string if the server hasn't started yet.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/state.json", s.handleJSON)
	mux.HandleFunc("/state.dot", s.handleDOT)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

// ListenAndServe serves on addr, or an OS-assigned localhost port when addr
// is empty, and blocks until the context is cancelled. Returns nil on clean
// shutdown.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if addr == "" {
		addr = "localhost:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.addr = ln.Addr().String()
	s.httpServer = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.mu.Unlock()

	// Graceful shutdown when context is cancelled.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	err = s.httpServer.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// handleIndex lists the endpoints.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	endpoints := []string{"/state.json", "/state.dot?entity=&subsection="}
	if s.metrics != nil {
		endpoints = append(endpoints, "/metrics")
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"endpoints": endpoints})
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	st, ok := s.Latest()
	if !ok {
		http.Error(w, "no simulation is being watched", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(RenderJSON(st))
}

func (s *Server) handleDOT(w http.ResponseWriter, r *http.Request) {
	st, ok := s.Latest()
	if !ok {
		http.Error(w, "no simulation is being watched", http.StatusServiceUnavailable)
		return
	}
	opts := Options{
		Entity:     r.URL.Query().Get("entity"),
		Subsection: r.URL.Query().Get("subsection"),
	}
	w.Header().Set("Content-Type", "text/vnd.graphviz; charset=utf-8")
	w.Write([]byte(RenderDOT(st, opts)))
}
