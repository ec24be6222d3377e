package visualization

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestServer_StateBeforeWatch(t *testing.T) {
	srv := NewServer(nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state.json", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestServer_WatchFollowsSteps(t *testing.T) {
	sim := setupSim(t)
	srv := NewServer(nil)
	stop := srv.Watch(sim)

	st, ok := srv.Latest()
	if !ok || st.Step != 0 {
		t.Fatalf("Latest() after Watch = %d, %v", st.Step, ok)
	}

	if _, err := sim.Run(context.Background(), 2); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st, _ := srv.Latest(); st.Step != 2 {
		t.Errorf("Latest().Step = %d, want 2", st.Step)
	}

	stop()
	if sim.Events().Graph.Len() != 0 {
		t.Error("stop did not unsubscribe")
	}
	if _, err := sim.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st, _ := srv.Latest(); st.Step != 2 {
		t.Errorf("Latest().Step = %d after stop, want 2", st.Step)
	}
}

func TestServer_Endpoints(t *testing.T) {
	sim := setupSim(t)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "cellsim_steps_total 0\n")
	})
	srv := NewServer(metrics)
	defer srv.Watch(sim)()
	h := srv.Handler()

	tests := []struct {
		path        string
		status      int
		contentType string
		contains    string
	}{
		{"/", http.StatusOK, "application/json", "/metrics"},
		{"/state.json", http.StatusOK, "application/json", `"node_count":2`},
		{"/state.dot?entity=A", http.StatusOK, "text/vnd.graphviz; charset=utf-8", "A=0.002 M"},
		{"/metrics", http.StatusOK, "", "cellsim_steps_total"},
		{"/missing", http.StatusNotFound, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.contentType != "" && rec.Header().Get("Content-Type") != tt.contentType {
				t.Errorf("Content-Type = %q, want %q", rec.Header().Get("Content-Type"), tt.contentType)
			}
			if !strings.Contains(rec.Body.String(), tt.contains) {
				t.Errorf("body missing %q: %s", tt.contains, rec.Body.String())
			}
		})
	}
}

func TestServer_ListenAndServe(t *testing.T) {
	sim := setupSim(t)
	srv := NewServer(nil)
	defer srv.Watch(sim)()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx, "") }()

	waitForServer(t, srv, 2*time.Second)

	resp, err := http.Get("http://" + srv.Addr() + "/state.json")
	if err != nil {
		t.Fatalf("GET /state.json: %v", err)
	}
	var body map[string]interface{}
	err = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["run_id"] != "viz-run" {
		t.Errorf("run_id = %v", body["run_id"])
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("ListenAndServe returned %v after shutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func waitForServer(t *testing.T, srv *Server, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if srv.Addr() != "" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("server did not start in time")
}
