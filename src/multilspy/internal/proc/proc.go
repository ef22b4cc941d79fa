// Package proc launches engine processes and owns their termination. The
// process's stdin/stdout form the duplex byte stream handed to the framer;
// stderr is captured for diagnostics and never parsed.
package proc

import (
	"bufio"
	"context"
	stderrors "errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/jaredhancock31/multilspy/src/multilspy/entity"
	"github.com/jaredhancock31/multilspy/src/multilspy/internal/errors"
)

// Module provides a Supervisor for injection using fx.
var Module = fx.Options(
	fx.Provide(New),
)

// _stderrTailLimit bounds how much residual stderr is retained per process.
const _stderrTailLimit = 8 * 1024

// State describes an engine process handle's lifetime.
type State int32

const (
	// StateUnstarted means the process has not been spawned.
	StateUnstarted State = iota
	// StateRunning means the process is live and its streams are usable.
	StateRunning
	// StateTerminating means Stop has begun.
	StateTerminating
	// StateTerminated means the process has exited.
	StateTerminated
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Handle owns one engine process's lifetime. Exactly one framer instance is
// bound to its streams for the entire running period.
type Handle interface {
	// Stdin is the write side of the duplex stream.
	Stdin() io.WriteCloser
	// Stdout is the read side of the duplex stream.
	Stdout() io.Reader
	// Exited is closed once the process has exited for any reason.
	Exited() <-chan struct{}
	// ExitError returns the process-exit diagnostic after Exited is closed,
	// nil before that.
	ExitError() error
	// StderrTail returns the retained tail of the process's stderr.
	StderrTail() string
	// State returns the handle's current lifetime state.
	State() State
	// Stop signals graceful termination by closing stdin, waits up to
	// timeout, and force-kills on expiry. It always leaves the handle
	// Terminated.
	Stop(ctx context.Context, timeout time.Duration) error
}

// Supervisor spawns engine processes from adapter-supplied launch specs.
type Supervisor interface {
	// Start spawns the process described by spec with stdin/stdout wired as
	// the protocol stream and stderr captured for diagnostics.
	Start(ctx context.Context, spec entity.LaunchSpec) (Handle, error)
}

// Params define values to be used by the supervisor.
type Params struct {
	fx.In

	Logger *zap.SugaredLogger
}

type supervisor struct {
	logger *zap.SugaredLogger
}

// New creates a Supervisor.
func New(p Params) Supervisor {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &supervisor{logger: logger}
}

func (s *supervisor) Start(ctx context.Context, spec entity.LaunchSpec) (Handle, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.WorkDir
	cmd.Env = append(os.Environ(), spec.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	s.logger.Infow("starting engine process",
		"command", spec.Command,
		"args", spec.Args,
		"workDir", spec.WorkDir,
	)

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	h := &handle{
		cmd:        cmd,
		stdin:      stdin,
		stdout:     stdout,
		logger:     s.logger,
		exited:     make(chan struct{}),
		stderrDone: make(chan struct{}),
	}
	h.state.Store(int32(StateRunning))

	go h.drainStderr(stderr)
	go h.wait()

	return h, nil
}

type handle struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	logger *zap.SugaredLogger

	state      atomic.Int32
	exited     chan struct{}
	stderrDone chan struct{}

	mu         sync.Mutex
	stderrTail []byte
	exitErr    error
}

func (h *handle) Stdin() io.WriteCloser { return h.stdin }
func (h *handle) Stdout() io.Reader     { return h.stdout }

func (h *handle) Exited() <-chan struct{} { return h.exited }

func (h *handle) ExitError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

func (h *handle) StderrTail() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return string(h.stderrTail)
}

func (h *handle) State() State {
	return State(h.state.Load())
}

// drainStderr keeps a bounded tail of stderr and mirrors it into the log.
func (h *handle) drainStderr(r io.Reader) {
	defer close(h.stderrDone)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		h.logger.Debugw("engine stderr", "line", string(line))

		h.mu.Lock()
		h.stderrTail = append(h.stderrTail, line...)
		h.stderrTail = append(h.stderrTail, '\n')
		if overflow := len(h.stderrTail) - _stderrTailLimit; overflow > 0 {
			h.stderrTail = h.stderrTail[overflow:]
		}
		h.mu.Unlock()
	}
}

// wait reaps the process and records the exit diagnostic.
func (h *handle) wait() {
	// Wait closes the pipes, so the drain goroutine must observe stderr EOF
	// first or the tail can be cut short. EOF arrives once the process dies
	// and the kernel closes its end, so this does not delay reaping.
	<-h.stderrDone

	waitErr := h.cmd.Wait()
	code := h.cmd.ProcessState.ExitCode()

	h.mu.Lock()
	h.exitErr = &errors.ProcessExitError{ExitCode: code, Stderr: string(h.stderrTail)}
	h.mu.Unlock()

	h.state.Store(int32(StateTerminated))
	close(h.exited)

	h.logger.Infow("engine process exited", "exitCode", code, "waitErr", waitErr)
}

func (h *handle) Stop(ctx context.Context, timeout time.Duration) error {
	if !h.state.CompareAndSwap(int32(StateRunning), int32(StateTerminating)) {
		// Already exited or mid-stop; wait for the reaper either way.
		<-h.exited
		return nil
	}

	var errs error
	if err := h.stdin.Close(); err != nil {
		errs = multierr.Append(errs, err)
	}

	select {
	case <-h.exited:
		return errs
	case <-ctx.Done():
	case <-time.After(timeout):
	}

	h.logger.Warnw("engine did not exit in time, killing", "timeout", timeout)
	if err := h.cmd.Process.Kill(); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
		errs = multierr.Append(errs, err)
	}
	<-h.exited
	return errs
}
