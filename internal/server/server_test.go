//go:build unix

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func shrinkWaitIntervals(t *testing.T) {
	t.Helper()
	shrinkProbeIntervals(t)
	origAlive := aliveInterval
	aliveInterval = 20 * time.Millisecond
	t.Cleanup(func() { aliveInterval = origAlive })
}

// writeFakeBinary writes an executable shell script standing in for llama-server.
func writeFakeBinary(t *testing.T, script string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "llama-server")
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	return p
}

func writeFakeModel(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "m.gguf")
	if err := os.WriteFile(p, []byte("gguf"), 0o644); err != nil {
		t.Fatalf("write fake model: %v", err)
	}
	return p
}

func newTestServer(t *testing.T, script string, port int) *Server {
	t.Helper()
	s, err := New(Config{
		BinaryPath: writeFakeBinary(t, script),
		ModelPath:  writeFakeModel(t),
		Port:       port,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.SetLogger(zerolog.Nop())
	t.Cleanup(s.Stop)
	return s
}

// serveOnFreePort stands in for the subprocess's HTTP endpoint: the fake
// binary only sleeps, so the test answers the readiness probes itself.
func serveOnFreePort(t *testing.T, status int) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	})}
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })
	return l.Addr().(*net.TCPAddr).Port
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()
	return port
}

func TestBaseURL(t *testing.T) {
	s := newTestServer(t, "sleep 5", 6123)
	if got := s.BaseURL(); got != "http://127.0.0.1:6123" {
		t.Fatalf("BaseURL = %q", got)
	}
	// valid without a running process
	if s.Running() {
		t.Fatalf("Running before Start")
	}
}

func TestStartMissingResourcesSpawnsNothing(t *testing.T) {
	s := newTestServer(t, "sleep 5", freePort(t))
	// Resources can vanish between New and Start.
	if err := os.Remove(s.Config().ModelPath); err != nil {
		t.Fatalf("remove model: %v", err)
	}
	err := s.Start(context.Background(), StartOptions{NoWait: true})
	if !IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if s.Running() {
		t.Fatalf("process attached after failed Start")
	}
}

func TestStartTwiceFailsAndKeepsOriginal(t *testing.T) {
	s := newTestServer(t, "sleep 5", freePort(t))
	if err := s.Start(context.Background(), StartOptions{NoWait: true}); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	pid := s.Status().PID
	err := s.Start(context.Background(), StartOptions{NoWait: true})
	if !IsAlreadyRunning(err) {
		t.Fatalf("expected AlreadyRunningError, got %v", err)
	}
	if got := s.Status().PID; got != pid {
		t.Fatalf("original process replaced: pid %d -> %d", pid, got)
	}
	if err := s.proc.checkAlive(); err != nil {
		t.Fatalf("original process not alive: %v", err)
	}
}

func TestStopNeverStartedIsNoop(t *testing.T) {
	s := newTestServer(t, "sleep 5", freePort(t))
	s.Stop()
	s.Stop()
	if s.Running() {
		t.Fatalf("Running after Stop")
	}
}

func TestRestartAfterStop(t *testing.T) {
	s := newTestServer(t, "sleep 5", freePort(t))
	for i := 0; i < 2; i++ {
		if err := s.Start(context.Background(), StartOptions{NoWait: true}); err != nil {
			t.Fatalf("Start #%d: %v", i+1, err)
		}
		if !s.Running() {
			t.Fatalf("not running after Start #%d", i+1)
		}
		s.Stop()
		if s.Running() {
			t.Fatalf("still running after Stop #%d", i+1)
		}
	}
}

func TestStartWaitsForReadiness(t *testing.T) {
	shrinkWaitIntervals(t)
	port := serveOnFreePort(t, http.StatusOK)
	s := newTestServer(t, "sleep 5", port)
	if err := s.Start(context.Background(), StartOptions{Timeout: 2 * time.Second}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.Running() {
		t.Fatalf("not running after ready Start")
	}
}

func TestStartReadinessTimeoutLeavesProcessRunning(t *testing.T) {
	shrinkWaitIntervals(t)
	s := newTestServer(t, "sleep 5", freePort(t))
	err := s.Start(context.Background(), StartOptions{Timeout: 150 * time.Millisecond})
	if !IsTimeout(err) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	// Caller decides whether to stop; the process must still be attached.
	if !s.Running() {
		t.Fatalf("process detached after readiness timeout")
	}
}

func TestStartUnexpectedExitDetaches(t *testing.T) {
	shrinkWaitIntervals(t)
	s := newTestServer(t, "exit 7", freePort(t))
	err := s.Start(context.Background(), StartOptions{Timeout: 5 * time.Second})
	if !IsUnexpectedExit(err) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 7 {
		t.Fatalf("expected exit code 7, got %v", err)
	}
	// Detached, so a fresh Start may be retried.
	if s.Running() {
		t.Fatalf("dead process still attached")
	}
}

func TestWaitForReadyWithoutProcess(t *testing.T) {
	s := newTestServer(t, "sleep 5", freePort(t))
	if err := s.WaitForReady(context.Background(), time.Second); !IsNotRunning(err) {
		t.Fatalf("expected NotRunningError, got %v", err)
	}
}

func TestWithStopsOnSuccess(t *testing.T) {
	shrinkWaitIntervals(t)
	port := serveOnFreePort(t, http.StatusOK)
	s := newTestServer(t, "sleep 5", port)
	var sawRunning bool
	err := s.With(context.Background(), func(inner *Server) error {
		sawRunning = inner.Running()
		return nil
	})
	if err != nil {
		t.Fatalf("With: %v", err)
	}
	if !sawRunning {
		t.Fatalf("server not running inside With")
	}
	if s.Running() {
		t.Fatalf("process leaked past With")
	}
}

func TestWithStopsOnError(t *testing.T) {
	shrinkWaitIntervals(t)
	port := serveOnFreePort(t, http.StatusOK)
	s := newTestServer(t, "sleep 5", port)
	boom := fmt.Errorf("caller logic failed")
	if err := s.With(context.Background(), func(*Server) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("With should surface fn's error, got %v", err)
	}
	if s.Running() {
		t.Fatalf("process leaked past failing With")
	}
}

func TestSetLoggerWhileAttached(t *testing.T) {
	s := newTestServer(t, `sleep 0.3; echo swapped-sink-line; sleep 5`, freePort(t))
	if err := s.Start(context.Background(), StartOptions{NoWait: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	buf := &syncBuffer{}
	s.SetLogger(zerolog.New(buf))
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(buf.String(), "swapped-sink-line") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("line after swap did not reach the new sink")
}

func TestStatusTransitions(t *testing.T) {
	s := newTestServer(t, `echo "HTTP server listening"; sleep 5`, freePort(t))
	if got := s.Status().State; got != "stopped" {
		t.Fatalf("state before Start = %q", got)
	}
	if err := s.Start(context.Background(), StartOptions{NoWait: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Status().State == "running" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	st := s.Status()
	if st.State != "running" {
		t.Fatalf("state after marker = %q", st.State)
	}
	if st.PID == 0 {
		t.Fatalf("status missing pid")
	}
	s.Stop()
	if got := s.Status().State; got != "stopped" {
		t.Fatalf("state after Stop = %q", got)
	}
}
