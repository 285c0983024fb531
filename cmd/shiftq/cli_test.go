package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/fatih/color"
)

// setupEnv points the CLI at a fresh database with no config file and no
// backend.
func setupEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("SHIFTQ_CONFIG_PATH", filepath.Join(dir, "missing.yaml"))
	t.Setenv("SHIFTQ_DB_PATH", filepath.Join(dir, "shiftq.db"))
	t.Setenv("SHIFTQ_BACKEND_URL", "")
	t.Setenv("SHIFTQ_OFFLINE", "true")
	t.Setenv("SHIFTQ_LOG_LEVEL", "error")

	color.NoColor = true
	old := slog.Default()
	t.Cleanup(func() { slog.SetDefault(old) })
}

// execute runs the root command with captured output. Package-level flag
// variables are reset first since cobra parses into them.
func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()

	jsonOutput = false
	clearConfirmed = false
	reportLat, reportLng = 0, 0
	reportType, reportDescription, eventEnd = "", "", ""

	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)
	rootCmd.SetOut(outBuf)
	rootCmd.SetErr(errBuf)
	rootCmd.SetArgs(args)

	err = rootCmd.Execute()

	rootCmd.SetOut(nil)
	rootCmd.SetErr(nil)
	rootCmd.SetArgs(nil)

	return outBuf.String(), errBuf.String(), err
}

func TestStatus_Empty(t *testing.T) {
	setupEnv(t)

	out, _, err := execute(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "Queued:        0") || !strings.Contains(out, "Active shift:  none") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestShiftStart_ShowsInStatus(t *testing.T) {
	setupEnv(t)

	out, _, err := execute(t, "shift", "start")
	if err != nil {
		t.Fatalf("shift start: %v", err)
	}
	if !strings.HasPrefix(out, "Shift sh_") {
		t.Errorf("shift start output = %q", out)
	}

	out, _, err = execute(t, "status", "--json")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var st statusOutput
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("decode status: %v\n%s", err, out)
	}
	if st.Length != 1 || st.Kinds["shiftStart"] != 1 || !strings.HasPrefix(st.ActiveShift, "sh_") {
		t.Errorf("status = %+v", st)
	}

	_, _, err = execute(t, "shift", "start")
	if code := exitCode(err); code != ExitFailure {
		t.Errorf("second start exit code = %d, want %d (err %v)", code, ExitFailure, err)
	}
}

func TestShiftEnd_WithoutStart(t *testing.T) {
	setupEnv(t)

	_, _, err := execute(t, "shift", "end")
	if code := exitCode(err); code != ExitFailure {
		t.Errorf("exit code = %d, want %d (err %v)", code, ExitFailure, err)
	}
}

func TestIncident_InvalidIsCommandError(t *testing.T) {
	setupEnv(t)

	_, _, err := execute(t, "incident", "--lat", "100", "--lng", "0", "--type", "fare_evasion")
	if code := exitCode(err); code != ExitCommandError {
		t.Errorf("exit code = %d, want %d (err %v)", code, ExitCommandError, err)
	}

	out, _, _ := execute(t, "status", "--json")
	if !strings.Contains(out, `"length": 0`) {
		t.Errorf("invalid incident was queued: %s", out)
	}
}

func TestFlush_WithoutBackendKeepsQueue(t *testing.T) {
	setupEnv(t)

	if _, _, err := execute(t, "incident", "--lat", "-37.8", "--lng", "144.9", "--type", "fare_evasion"); err != nil {
		t.Fatalf("incident: %v", err)
	}

	out, _, err := execute(t, "flush")
	if err != nil {
		t.Fatalf("flush should not fail on partial sync: %v", err)
	}
	if strings.TrimSpace(out) != "Synced 0 of 1 item; 1 pending." {
		t.Errorf("flush output = %q", out)
	}
}

func TestFlush_ToBackend(t *testing.T) {
	setupEnv(t)
	var posted atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/api/blitz" {
			posted.Add(1)
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"id": 7}`)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()
	t.Setenv("SHIFTQ_BACKEND_URL", srv.URL)
	t.Setenv("SHIFTQ_OFFLINE", "")

	if _, _, err := execute(t, "event", "--lat", "-37.8", "--lng", "144.9", "--type", "station", "--end", "2026-10-19T18:00:00Z"); err != nil {
		t.Fatalf("event: %v", err)
	}

	out, _, err := execute(t, "flush", "--json")
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	var res struct {
		Sent   int `json:"sent"`
		Failed int `json:"failed"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if res.Sent != 1 || res.Failed != 0 || posted.Load() != 1 {
		t.Errorf("result = %+v, posted = %d", res, posted.Load())
	}
}

func TestEvent_BadEndIsCommandError(t *testing.T) {
	setupEnv(t)

	_, _, err := execute(t, "event", "--lat", "1", "--lng", "1", "--type", "station", "--end", "tomorrow")
	if code := exitCode(err); code != ExitCommandError {
		t.Errorf("exit code = %d, want %d", code, ExitCommandError)
	}
}

func TestClear(t *testing.T) {
	setupEnv(t)

	if _, _, err := execute(t, "shift", "start"); err != nil {
		t.Fatalf("shift start: %v", err)
	}

	_, _, err := execute(t, "clear")
	if code := exitCode(err); code != ExitCommandError {
		t.Errorf("clear without --yes: exit code = %d, want %d", code, ExitCommandError)
	}

	out, _, err := execute(t, "clear", "--yes")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	// No backend, so the audit cannot be recorded.
	if strings.TrimSpace(out) != "Cleared 1 item, but audit logging failed." {
		t.Errorf("clear output = %q", out)
	}

	out, _, _ = execute(t, "status", "--json")
	if !strings.Contains(out, `"length": 0`) {
		t.Errorf("queue not cleared: %s", out)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", errors.New("boom"), ExitFailure},
		{"command error", newExitError(ExitCommandError, "bad flag"), ExitCommandError},
		{"wrapped", fmt.Errorf("run: %w", wrapExitError(ExitCommandError, "config", errors.New("x"))), ExitCommandError},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("%s: exitCode = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestExitError_Message(t *testing.T) {
	err := wrapExitError(ExitFailure, "clear offline queue", errors.New("disk full"))
	if err.Error() != "clear offline queue: disk full" {
		t.Errorf("Error() = %q", err.Error())
	}
	if newExitError(ExitCommandError, "bad").Error() != "bad" {
		t.Error("message-only error should print the message")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
