package backend

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Supervisor manages the local backend process. The gateway consults it only
// on the failure path: health check, crash triage, restart.
type Supervisor interface {
	IsHealthy() bool
	Start(ctx context.Context, modelID string) (pid int, err error)
	WaitReady(ctx context.Context, opts WaitOptions) error
	CrashedFromMemory() bool
	Stop() error
}

// WaitOptions bounds the readiness poll after a start.
type WaitOptions struct {
	Timeout  time.Duration
	Interval time.Duration
}

// Startup defaults. Model load dominates the wait, so the timeout is
// generous while the poll stays tight.
const (
	DefaultReadyTimeout  = 120 * time.Second
	DefaultReadyInterval = 500 * time.Millisecond

	logRingSize = 256
)

// oomPhrases are the log fragments llama-server and its GPU backends emit
// when an allocation fails. Matching any of them marks the crash
// non-retryable: a restart would hit the same wall.
var oomPhrases = []string{
	"out of memory",
	"cuda out of memory",
	"failed to allocate",
	"unable to allocate",
	"insufficient memory",
	"cudamalloc failed",
	"ggml_backend_cuda_buffer_type_alloc_buffer",
}

// LlamaSupervisor runs llama-server as a child process and keeps a ring of
// its most recent log lines for crash triage.
type LlamaSupervisor struct {
	binPath string
	args    []string
	baseURL string
	port    int

	mu   sync.Mutex
	cmd  *exec.Cmd
	ring []string
	next int
}

// NewLlamaSupervisor creates a supervisor for a llama-server binary
// listening on the given port. Extra args are appended after the managed
// -m/--port flags.
func NewLlamaSupervisor(binPath string, port int, args ...string) *LlamaSupervisor {
	return &LlamaSupervisor{
		binPath: binPath,
		port:    port,
		args:    args,
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		ring:    make([]string, 0, logRingSize),
	}
}

// IsHealthy probes the server's /health endpoint.
func (s *LlamaSupervisor) IsHealthy() bool {
	return IsHealthy(s.baseURL)
}

// Start launches llama-server for the given model, replacing any process
// this supervisor already owns. It returns as soon as the process is
// spawned; call WaitReady to block until the model is loaded.
func (s *LlamaSupervisor) Start(ctx context.Context, modelID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
		s.cmd = nil
	}

	args := []string{"-m", modelID, "--port", fmt.Sprint(s.port), "--parallel", "1"}
	args = append(args, s.args...)
	cmd := exec.CommandContext(ctx, s.binPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("pipe backend stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, fmt.Errorf("pipe backend stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start backend %s: %w", s.binPath, err)
	}
	s.cmd = cmd
	go s.capture(stdout)
	go s.capture(stderr)

	log.Info().
		Int("pid", cmd.Process.Pid).
		Int("port", s.port).
		Str("model", modelID).
		Msg("backend: started llama-server")
	return cmd.Process.Pid, nil
}

// WaitReady polls the health endpoint until the server answers or the
// timeout elapses.
func (s *LlamaSupervisor) WaitReady(ctx context.Context, opts WaitOptions) error {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultReadyTimeout
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultReadyInterval
	}

	deadline := time.Now().Add(opts.Timeout)
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		if s.IsHealthy() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("backend not ready after %s", opts.Timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// CrashedFromMemory scans the recent log ring for known out-of-memory
// phrases.
func (s *LlamaSupervisor) CrashedFromMemory() bool {
	s.mu.Lock()
	lines := append([]string(nil), s.ring...)
	s.mu.Unlock()

	for _, line := range lines {
		lower := strings.ToLower(line)
		for _, phrase := range oomPhrases {
			if strings.Contains(lower, phrase) {
				log.Warn().Str("line", line).Msg("backend: out-of-memory phrase in logs")
				return true
			}
		}
	}
	return false
}

// Stop kills the owned process, if any.
func (s *LlamaSupervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	err := s.cmd.Process.Kill()
	_ = s.cmd.Wait()
	s.cmd = nil
	return err
}

func (s *LlamaSupervisor) capture(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		s.record(sc.Text())
	}
}

// record appends one log line to the fixed-size ring.
func (s *LlamaSupervisor) record(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ring) < logRingSize {
		s.ring = append(s.ring, line)
		return
	}
	s.ring[s.next] = line
	s.next = (s.next + 1) % logRingSize
}
