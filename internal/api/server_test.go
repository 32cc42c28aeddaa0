package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sumirjha/hdmirx/internal/core"
	"github.com/sumirjha/hdmirx/modules/tsfanout"
)

type stubStatus struct{ st *core.Status }

func (s stubStatus) Status() *core.Status { return s.st }

type stubKicker struct {
	known string
	err   error
}

func (k stubKicker) Kick(_ context.Context, name string) (bool, error) {
	return name == k.known, k.err
}

func do(t *testing.T, h http.Handler, method, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	return rec.Code, body
}

// TestReadiness validates the readiness gate against the snapshot.
func TestReadiness(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		st   *core.Status
		want int
	}{
		{"no snapshot", nil, http.StatusServiceUnavailable},
		{"starting", &core.Status{State: core.StateStarting}, http.StatusServiceUnavailable},
		{"streaming, no units", &core.Status{State: core.StateStreaming}, http.StatusServiceUnavailable},
		{"streaming, stale", &core.Status{State: core.StateStreaming, LastUnitAt: now.Add(-time.Minute)}, http.StatusServiceUnavailable},
		{"streaming, live", &core.Status{State: core.StateStreaming, LastUnitAt: now}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(Options{Status: stubStatus{tt.st}})
			if code, _ := do(t, s.Handler(), http.MethodGet, "/readiness"); code != tt.want {
				t.Errorf("GET /readiness = %d, want %d", code, tt.want)
			}
		})
	}
}

// TestStatusEndpoints validates liveness, the status snapshot and the
// connection list.
func TestStatusEndpoints(t *testing.T) {
	st := &core.Status{
		InstanceID: "lab",
		State:      core.StateStreaming,
		Units:      7,
		Fanout: tsfanout.RegistryStats{
			Connections:   1,
			PerConnection: []tsfanout.ConnectionStats{{Name: "abcdefg", SentBytes: 1880}},
		},
	}
	s := NewServer(Options{Status: stubStatus{st}})

	if code, body := do(t, s.Handler(), http.MethodGet, "/health"); code != http.StatusOK || body["status"] != "alive" {
		t.Errorf("GET /health = %d %v", code, body)
	}

	code, body := do(t, s.Handler(), http.MethodGet, "/api/v1/status")
	if code != http.StatusOK || body["instance_id"] != "lab" || body["units"] != float64(7) {
		t.Errorf("GET /api/v1/status = %d %v", code, body)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/connections", nil))
	var conns []tsfanout.ConnectionStats
	if err := json.Unmarshal(rec.Body.Bytes(), &conns); err != nil || len(conns) != 1 || conns[0].Name != "abcdefg" {
		t.Errorf("GET /api/v1/connections = %s (%v)", rec.Body.String(), err)
	}
}

// TestKickEndpoint validates the status code mapping of DELETE.
func TestKickEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		kicker Kicker
		path   string
		want   int
	}{
		{"kicked", stubKicker{known: "abcdefg"}, "/api/v1/connections/abcdefg", http.StatusOK},
		{"unknown", stubKicker{known: "abcdefg"}, "/api/v1/connections/zzz", http.StatusNotFound},
		{"not running", stubKicker{err: core.ErrNotRunning}, "/api/v1/connections/abcdefg", http.StatusServiceUnavailable},
		{"failure", stubKicker{err: errors.New("boom")}, "/api/v1/connections/abcdefg", http.StatusInternalServerError},
		{"no kicker", nil, "/api/v1/connections/abcdefg", http.StatusNotImplemented},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(Options{Status: stubStatus{}, Kicker: tt.kicker})
			if code, _ := do(t, s.Handler(), http.MethodDelete, tt.path); code != tt.want {
				t.Errorf("DELETE %s = %d, want %d", tt.path, code, tt.want)
			}
		})
	}
}

// TestWebSocketMount validates that the viewer handler is reachable at its
// configured path.
func TestWebSocketMount(t *testing.T) {
	hit := false
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		w.WriteHeader(http.StatusTeapot)
	})
	s := NewServer(Options{Status: stubStatus{}, WebSocketPath: "/ws", WebSocket: ws})

	if code, _ := do(t, s.Handler(), http.MethodGet, "/ws"); code != http.StatusTeapot || !hit {
		t.Errorf("GET /ws = %d, handler hit %v", code, hit)
	}
}

// TestStartStop validates serving on a real listener and graceful stop.
func TestStartStop(t *testing.T) {
	s := NewServer(Options{Listen: "127.0.0.1:0", Status: stubStatus{}})
	if err := s.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	resp, err := http.Get("http://" + s.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Errorf("Stop() = %v", err)
	}
	if _, err := http.Get("http://" + s.Addr().String() + "/health"); err == nil {
		t.Error("server still answering after Stop")
	}
	t.Logf("✅ server started and stopped")
}
