package factory

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/jaredhancock31/multilspy/src/multilspy/entity"
	"github.com/jaredhancock31/multilspy/src/multilspy/internal/errors"
	"github.com/jaredhancock31/multilspy/src/multilspy/internal/framer"
	"github.com/jaredhancock31/multilspy/src/multilspy/internal/proc"
	"github.com/jaredhancock31/multilspy/src/multilspy/model"
)

// Handle is an in-memory stand-in for an engine process handle: two pipe
// pairs form the duplex stream, and Terminate simulates process exit by
// closing everything.
type Handle struct {
	stdin  *io.PipeWriter
	stdout *io.PipeReader

	engineIn  *io.PipeReader
	engineOut *io.PipeWriter

	exited   chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	exitErr error
}

// NewHandle creates an in-memory process handle.
func NewHandle() *Handle {
	stdout, engineOut := io.Pipe()
	engineIn, stdin := io.Pipe()
	return &Handle{
		stdin:     stdin,
		stdout:    stdout,
		engineIn:  engineIn,
		engineOut: engineOut,
		exited:    make(chan struct{}),
	}
}

// Stdin implements proc.Handle.
func (h *Handle) Stdin() io.WriteCloser { return h.stdin }

// Stdout implements proc.Handle.
func (h *Handle) Stdout() io.Reader { return h.stdout }

// Exited implements proc.Handle.
func (h *Handle) Exited() <-chan struct{} { return h.exited }

// StderrTail implements proc.Handle.
func (h *Handle) StderrTail() string { return "" }

// State implements proc.Handle.
func (h *Handle) State() proc.State { return proc.StateRunning }

// ExitError implements proc.Handle.
func (h *Handle) ExitError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// Stop implements proc.Handle.
func (h *Handle) Stop(ctx context.Context, timeout time.Duration) error {
	h.Terminate(&errors.ProcessExitError{ExitCode: 0})
	return nil
}

// Terminate simulates process death, closing both stream directions.
func (h *Handle) Terminate(exitErr error) {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		h.exitErr = exitErr
		h.mu.Unlock()
		h.stdin.Close()
		h.stdout.Close()
		h.engineIn.Close()
		h.engineOut.Close()
		close(h.exited)
	})
}

// Supervisor hands out prepared in-memory handles.
type Supervisor struct {
	mu      sync.Mutex
	handles []*Handle
	err     error
	started int
}

// NewSupervisor creates a Supervisor returning the given handles in order.
func NewSupervisor(handles ...*Handle) *Supervisor {
	return &Supervisor{handles: handles}
}

// FailingSupervisor creates a Supervisor whose Start always fails.
func FailingSupervisor(err error) *Supervisor {
	return &Supervisor{err: err}
}

// Start implements proc.Supervisor.
func (s *Supervisor) Start(ctx context.Context, spec entity.LaunchSpec) (proc.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.started >= len(s.handles) {
		return nil, errors.New("no more handles prepared")
	}
	h := s.handles[s.started]
	s.started++
	return h, nil
}

// Started reports how many processes were spawned.
func (s *Supervisor) Started() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// ServeFunc handles one inbound message on a scripted engine, returning
// false to stop serving.
type ServeFunc func(e *Engine, msg *model.Message) bool

// Engine answers client traffic on a handle's engine side, recording every
// method and the last params per method.
type Engine struct {
	codec  *framer.Codec
	handle *Handle

	mu      sync.Mutex
	methods []string
	params  map[string]json.RawMessage
}

// RunEngine starts a scripted engine over the handle's engine-side streams.
func RunEngine(h *Handle, serve ServeFunc) *Engine {
	e := &Engine{
		codec:  framer.NewCodec(h.engineIn, h.engineOut),
		handle: h,
		params: make(map[string]json.RawMessage),
	}
	go func() {
		for {
			msg, err := e.codec.Read()
			if err != nil {
				return
			}
			e.mu.Lock()
			e.methods = append(e.methods, msg.Method)
			e.params[msg.Method] = msg.Params
			e.mu.Unlock()
			if !serve(e, msg) {
				return
			}
		}
	}()
	return e
}

// Respond answers a request with a raw JSON result.
func (e *Engine) Respond(id json.RawMessage, result string) {
	e.codec.Write(model.Response{JSONRPC: model.Version, ID: id, Result: json.RawMessage(result)})
}

// Write sends an arbitrary engine-initiated message.
func (e *Engine) Write(msg interface{}) error {
	return e.codec.Write(msg)
}

// Seen counts how many times method crossed the wire.
func (e *Engine) Seen(method string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, m := range e.methods {
		if m == method {
			n++
		}
	}
	return n
}

// Methods returns the full ordered method log.
func (e *Engine) Methods() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.methods))
	copy(out, e.methods)
	return out
}

// Param returns the last recorded params for a method.
func (e *Engine) Param(method string) gjson.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return gjson.ParseBytes(e.params[method])
}

// StandardServe answers the lifecycle handshake, advertising a completion
// provider, and terminates the handle on exit; everything else is delegated
// to extra when non-nil.
func StandardServe(extra ServeFunc) ServeFunc {
	return func(e *Engine, msg *model.Message) bool {
		switch msg.Method {
		case "initialize":
			e.Respond(msg.ID, `{"capabilities":{"completionProvider":{"triggerCharacters":["."]}}}`)
		case "initialized":
		case "shutdown":
			e.Respond(msg.ID, `null`)
		case "exit":
			e.handle.Terminate(&errors.ProcessExitError{ExitCode: 0})
			return false
		default:
			if extra != nil {
				return extra(e, msg)
			}
		}
		return true
	}
}
