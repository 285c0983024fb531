package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperengineering/shiftq/internal/api"
	"github.com/hyperengineering/shiftq/internal/config"
	"github.com/hyperengineering/shiftq/pkg/offline"
)

// --- Fake server ---

type request struct {
	Method string
	Path   string
	Body   map[string]any
}

// remoteServer imitates the field reporting server. While down it answers
// every request, health included, with 503.
type remoteServer struct {
	*httptest.Server

	down   atomic.Bool
	nextID atomic.Int64

	mu       sync.Mutex
	requests []request
}

func startRemote(t *testing.T) *remoteServer {
	t.Helper()
	rs := &remoteServer{}
	rs.nextID.Store(500)
	rs.Server = httptest.NewServer(http.HandlerFunc(rs.handle))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *remoteServer) handle(w http.ResponseWriter, r *http.Request) {
	if rs.down.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if r.URL.Path == "/api/health" {
		w.WriteHeader(http.StatusOK)
		return
	}

	var body map[string]any
	if b, _ := io.ReadAll(r.Body); len(b) > 0 {
		json.Unmarshal(b, &body)
	}
	rs.mu.Lock()
	rs.requests = append(rs.requests, request{Method: r.Method, Path: r.URL.Path, Body: body})
	rs.mu.Unlock()

	switch {
	case r.URL.Path == "/api/audit":
		w.WriteHeader(http.StatusAccepted)
	case r.Method == http.MethodPut:
		w.WriteHeader(http.StatusOK)
	default:
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id": %d}`, rs.nextID.Add(1))
	}
}

func (rs *remoteServer) Requests() []request {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]request(nil), rs.requests...)
}

// --- Local stack ---

type stack struct {
	client *offline.Client
	api    *httptest.Server
	dbPath string
}

func stackConfig(remoteURL, dbPath string) *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{Path: dbPath},
		Backend: config.BackendConfig{
			URL:         remoteURL,
			CallTimeout: config.Duration(2 * time.Second),
		},
		Sync: config.SyncConfig{
			AutoFlush:      true,
			Interval:       config.Duration(time.Hour),
			HealthInterval: config.Duration(25 * time.Millisecond),
			WatchInterval:  config.Duration(25 * time.Millisecond),
		},
	}
}

// startStack runs the offline client and the control API against remote,
// keeping the queue at dbPath (a fresh path when empty).
func startStack(t *testing.T, remote *remoteServer, dbPath string) *stack {
	t.Helper()
	if dbPath == "" {
		dbPath = filepath.Join(t.TempDir(), "shiftq.db")
	}

	c, err := offline.New(stackConfig(remote.URL, dbPath))
	if err != nil {
		t.Fatalf("offline.New: %v", err)
	}
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	s := &stack{
		client: c,
		api:    httptest.NewServer(api.NewRouter(api.NewHandler(c, "", "e2e"))),
		dbPath: dbPath,
	}
	t.Cleanup(func() { s.stop(t) })
	return s
}

func (s *stack) stop(t *testing.T) {
	t.Helper()
	if s.api != nil {
		s.api.Close()
		s.api = nil
	}
	if err := s.client.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

// call sends a request to the control API and decodes the JSON response
// into out when out is non-nil.
func (s *stack) call(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, s.api.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (s *stack) length(t *testing.T) int {
	t.Helper()
	var q api.QueueResponse
	s.call(t, http.MethodGet, "/api/v1/queue", "", &q)
	return q.Length
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
