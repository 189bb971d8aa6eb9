package server

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// procStatus is the coarse state derived from the subprocess's own output.
type procStatus int

const (
	statusStarting procStatus = iota
	statusRunning
	statusExited
)

// readyMarker is the line fragment llama-server prints once its embedded HTTP
// listener is up. A heuristic only; the socket may lag the log line, so the
// network probe stays authoritative.
const readyMarker = "HTTP server listening"

// process owns one spawned llama-server and its two output streams.
type process struct {
	cmd *exec.Cmd

	mu     sync.Mutex
	cond   *sync.Cond // broadcast on every status transition
	status procStatus
	logger zerolog.Logger

	watchers sync.WaitGroup
	// done closes after both watchers drained their pipes and the process
	// was reaped; cmd.ProcessState is valid from then on.
	done chan struct{}
}

// startProcess spawns args[0] with both output streams captured and a watcher
// goroutine scanning each. Lines are re-emitted through the current logger.
func startProcess(args []string, logger zerolog.Logger) (*process, error) {
	cmd := exec.Command(args[0], args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdout.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = stderr.Close()
		return nil, fmt.Errorf("start %s: %w", args[0], err)
	}

	p := &process{cmd: cmd, status: statusStarting, logger: logger, done: make(chan struct{})}
	p.cond = sync.NewCond(&p.mu)
	p.watchers.Add(2)
	go p.watch("stdout", stdout)
	go p.watch("stderr", stderr)
	go func() {
		// Wait must not run until both pipe readers are finished.
		p.watchers.Wait()
		_ = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *process) watch(stream string, r io.Reader) {
	defer p.watchers.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.Contains(line, readyMarker) {
			p.markRunning()
		}
		sink := p.sink()
		sink.Log().Str("stream", stream).Msg(line)
	}
	if err := sc.Err(); err != nil {
		// Read failure ends this watcher; stop() still joins it.
		sink := p.sink()
		sink.Error().Str("stream", stream).Err(err).Msg("stream read failed")
	}
}

// sink returns the current logger. Guarded so a swap retargets in-flight watchers.
func (p *process) sink() zerolog.Logger {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logger
}

func (p *process) setLogger(l zerolog.Logger) {
	p.mu.Lock()
	p.logger = l
	p.mu.Unlock()
}

func (p *process) markRunning() {
	p.mu.Lock()
	if p.status == statusStarting {
		p.status = statusRunning
		p.cond.Broadcast()
	}
	p.mu.Unlock()
}

func (p *process) currentStatus() procStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *process) pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// checkAlive polls the subprocess without blocking. If it has exited, the
// status flips to exited and an ExitError with the OS exit code is returned.
// Anything waiting on status must call this, or a dead process is waited on
// forever.
func (p *process) checkAlive() error {
	select {
	case <-p.done:
	default:
		return nil
	}
	p.mu.Lock()
	p.status = statusExited
	p.cond.Broadcast()
	p.mu.Unlock()
	// Watchers already hit EOF and were joined before done closed, so the
	// cleanup stop() would do has effectively happened.
	code := 0
	if state := p.cmd.ProcessState; state != nil {
		code = state.ExitCode()
	}
	return &ExitError{Code: code}
}

// waitForLogReady blocks until a watcher observes the listener marker, the
// subprocess exits, or timeout elapses. The marker can print before the
// socket accepts connections, so this is the fast heuristic signal; callers
// wanting the authoritative one probe the network instead.
func (p *process) waitForLogReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	// Waker so the cond loop re-checks the deadline and a silent exit.
	wakerStop := make(chan struct{})
	defer close(wakerStop)
	go func() {
		t := time.NewTicker(50 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-wakerStop:
				return
			case <-t.C:
				p.mu.Lock()
				p.cond.Broadcast()
				p.mu.Unlock()
			}
		}
	}()

	p.mu.Lock()
	for p.status != statusRunning {
		p.mu.Unlock()
		if err := p.checkAlive(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return &TimeoutError{Elapsed: timeout}
		}
		p.mu.Lock()
		if p.status == statusRunning {
			break
		}
		p.cond.Wait()
	}
	p.mu.Unlock()
	return nil
}

// stop kills the subprocess and blocks until both watchers have drained their
// streams and the process is reaped. llama-server has no graceful-stop
// protocol, so there is no negotiation. Not idempotent; the facade ensures it
// runs at most once per process.
func (p *process) stop() {
	_ = p.cmd.Process.Kill()
	<-p.done
}
