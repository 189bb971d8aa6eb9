package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"llamactl/pkg/types"
)

// DefaultStartTimeout covers a worst-case model load on slow storage.
const DefaultStartTimeout = 180 * time.Second

// aliveInterval paces the exit checks interleaved with readiness probing.
var aliveInterval = 250 * time.Millisecond

// Server wraps one externally-built llama-server binary: it launches the
// binary as a subprocess, streams its output through a swappable logger,
// waits for its HTTP endpoint to answer, and kills it on Stop. A Server can
// be started and stopped repeatedly, but holds at most one subprocess at a
// time. Not safe for concurrent Start calls from multiple goroutines; the
// design assumes a single controlling goroutine per instance.
type Server struct {
	cfg    Config
	client *http.Client

	mu        sync.Mutex
	logger    zerolog.Logger
	proc      *process
	startedAt time.Time
}

// StartOptions tunes one Start call. The zero value blocks until the
// subprocess is ready or DefaultStartTimeout elapses.
type StartOptions struct {
	// NoWait returns as soon as the subprocess is spawned, skipping the
	// readiness probe.
	NoWait bool
	// Timeout bounds the readiness wait. 0 means DefaultStartTimeout.
	Timeout time.Duration
}

// New validates cfg and returns a stopped Server. Both the binary and the
// model weights must exist now; they are re-checked at every Start.
func New(cfg Config) (*Server, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := cfg.CheckResources(); err != nil {
		return nil, err
	}
	return &Server{
		cfg: cfg,
		// Per-probe deadlines come from request contexts.
		client: &http.Client{Timeout: 0},
		logger: zerolog.New(os.Stderr).With().Timestamp().Logger(),
	}, nil
}

// BaseURL returns the subprocess's endpoint, e.g. "http://127.0.0.1:8080".
// Valid whether or not a process is attached.
func (s *Server) BaseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", s.cfg.Port)
}

// Config returns the effective configuration, defaults applied.
func (s *Server) Config() Config { return s.cfg }

// Logger returns the sink subprocess output is forwarded to.
func (s *Server) Logger() zerolog.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logger
}

// SetLogger swaps the output sink. Safe while a subprocess is attached:
// lines read after the swap go to the new sink.
func (s *Server) SetLogger(l zerolog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = l
	if s.proc != nil {
		s.proc.setLogger(l)
	}
}

// Start re-validates resources, spawns the subprocess, and unless opts.NoWait
// is set blocks until the endpoint answers. Fails with AlreadyRunningError if
// a subprocess is attached; Stop first. On a readiness timeout the process is
// left running so the caller can inspect its logs or keep waiting; if the
// process died on its own, the handle is detached so a fresh Start can retry.
func (s *Server) Start(ctx context.Context, opts StartOptions) error {
	s.mu.Lock()
	if s.proc != nil {
		s.mu.Unlock()
		return &AlreadyRunningError{Port: s.cfg.Port}
	}
	logger := s.logger
	s.mu.Unlock()

	if err := s.cfg.CheckResources(); err != nil {
		return err
	}
	args := s.cfg.Command()
	logger.Info().Strs("command", args).Msg("starting llama-server")
	p, err := startProcess(args, logger)
	if err != nil {
		return err
	}
	spawnsTotal.Inc()

	s.mu.Lock()
	s.proc = p
	s.startedAt = time.Now()
	s.mu.Unlock()

	if opts.NoWait {
		return nil
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultStartTimeout
	}
	return s.waitReady(ctx, p, timeout)
}

// WaitForReady blocks until the attached subprocess answers its endpoint.
// 0 means DefaultStartTimeout. Fails with NotRunningError when no subprocess
// is attached.
func (s *Server) WaitForReady(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	p := s.proc
	s.mu.Unlock()
	if p == nil {
		return &NotRunningError{Op: "wait for ready"}
	}
	if timeout == 0 {
		timeout = DefaultStartTimeout
	}
	return s.waitReady(ctx, p, timeout)
}

// waitReady runs the network prober while polling the process for an early
// exit. The prober learns readiness purely through the network; the exit
// check keeps a dead process from being waited on until the deadline.
func (s *Server) waitReady(ctx context.Context, p *process, timeout time.Duration) error {
	begin := time.Now()
	pctx, cancel := context.WithCancel(ctx)
	defer cancel()
	probeErr := make(chan error, 1)
	go func() {
		probeErr <- waitForReady(pctx, s.client, s.BaseURL(), s.cfg.Port, timeout)
	}()
	ticker := time.NewTicker(aliveInterval)
	defer ticker.Stop()
	for {
		select {
		case err := <-probeErr:
			if err == nil {
				readySeconds.Observe(time.Since(begin).Seconds())
			}
			return err
		case <-ticker.C:
			if err := p.checkAlive(); err != nil {
				unexpectedExitsTotal.Inc()
				s.detachIf(p)
				return err
			}
		}
	}
}

// Stop kills the attached subprocess and joins both stream watchers. No-op
// when nothing is attached, so it is safe on every exit path.
func (s *Server) Stop() {
	s.mu.Lock()
	p := s.proc
	s.proc = nil
	logger := s.logger
	s.mu.Unlock()
	if p == nil {
		return
	}
	p.stop()
	logger.Info().Int("pid", p.pid()).Msg("llama-server stopped")
}

// With starts the server, runs fn, and always stops the server afterwards,
// whether fn succeeds or fails. The subprocess cannot leak past the call,
// even when the start itself times out with the process still attached.
func (s *Server) With(ctx context.Context, fn func(*Server) error) error {
	defer s.Stop()
	if err := s.Start(ctx, StartOptions{}); err != nil {
		return err
	}
	return fn(s)
}

// Running reports whether a subprocess is attached.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil
}

// Ready reports whether the attached subprocess has announced its listener.
// Heuristic; use WaitForReady for the authoritative network signal.
func (s *Server) Ready() bool {
	s.mu.Lock()
	p := s.proc
	s.mu.Unlock()
	return p != nil && p.currentStatus() == statusRunning
}

// Status builds the response for GET /status.
func (s *Server) Status() types.StatusResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp := types.StatusResponse{
		Port:      s.cfg.Port,
		BaseURL:   fmt.Sprintf("http://127.0.0.1:%d", s.cfg.Port),
		ModelPath: s.cfg.ModelPath,
	}
	if s.proc == nil {
		resp.State = "stopped"
		return resp
	}
	resp.PID = s.proc.pid()
	resp.StartedAt = s.startedAt.Unix()
	switch s.proc.currentStatus() {
	case statusRunning:
		resp.State = "running"
	case statusExited:
		resp.State = "exited"
	default:
		resp.State = "starting"
	}
	return resp
}

func (s *Server) detachIf(p *process) {
	s.mu.Lock()
	if s.proc == p {
		s.proc = nil
	}
	s.mu.Unlock()
}
