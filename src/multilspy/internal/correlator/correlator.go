// Package correlator assigns ids to outbound requests, tracks them as
// pending, and resolves each exactly once when a matching response arrives,
// times out, or is cancelled.
package correlator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	tally "github.com/uber-go/tally/v4"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/zap"

	"github.com/jaredhancock31/multilspy/src/multilspy/internal/clock"
	"github.com/jaredhancock31/multilspy/src/multilspy/internal/errors"
	"github.com/jaredhancock31/multilspy/src/multilspy/model"
)

const _methodCancelRequest = "$/cancelRequest"

// DefaultRequestTimeout bounds requests whose caller did not configure one.
const DefaultRequestTimeout = 30 * time.Second

// Sender writes one message to the wire. Satisfied by framer.Codec.
type Sender interface {
	Write(msg interface{}) error
}

// Outcome is the single resolution of a pending request: a raw result or an
// error, never both.
type Outcome struct {
	Result json.RawMessage
	Err    error
}

// Pending is the future for one in-flight request. Its channel receives
// exactly one Outcome.
type Pending struct {
	id     int64
	method string
	ch     chan Outcome
}

// ID returns the correlation id assigned to this request.
func (p *Pending) ID() int64 { return p.id }

// Outcome returns the channel on which the single resolution is delivered.
func (p *Pending) Outcome() <-chan Outcome { return p.ch }

// Option customizes a Correlator.
type Option func(*Correlator)

// WithLogger overrides the default noop logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *Correlator) { c.logger = logger }
}

// WithScope overrides the default noop metrics scope.
func WithScope(scope tally.Scope) Option {
	return func(c *Correlator) { c.scope = scope }
}

// WithClock overrides the wall clock.
func WithClock(clk clock.Clock) Option {
	return func(c *Correlator) { c.clock = clk }
}

// WithDefaultTimeout overrides DefaultRequestTimeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Correlator) { c.defaultTimeout = d }
}

// Correlator is the session-scoped pending-request table. Ids are generated
// monotonically per Correlator, so uniqueness needs no coordination with the
// engine and no process-wide state.
type Correlator struct {
	sender         Sender
	logger         *zap.SugaredLogger
	scope          tally.Scope
	clock          clock.Clock
	defaultTimeout time.Duration

	nextID atomic.Int64

	mu       sync.Mutex
	pending  map[string]*Pending
	closed   bool
	closeErr error
}

// New creates a Correlator writing through sender.
func New(sender Sender, opts ...Option) *Correlator {
	c := &Correlator{
		sender:         sender,
		logger:         zap.NewNop().Sugar(),
		scope:          tally.NoopScope,
		clock:          clock.New(),
		defaultTimeout: DefaultRequestTimeout,
		pending:        make(map[string]*Pending),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send issues a request and returns its pending future. The id is unique for
// the life of the Correlator and is never reused while pending.
func (c *Correlator) Send(method string, params interface{}) (*Pending, error) {
	id := c.nextID.Add(1)
	p := &Pending{
		id:     id,
		method: method,
		ch:     make(chan Outcome, 1),
	}

	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		if err == nil {
			err = errors.ErrConnClosed
		}
		return nil, err
	}
	c.pending[strconv.FormatInt(id, 10)] = p
	c.mu.Unlock()

	if err := c.sender.Write(model.Request{
		JSONRPC: model.Version,
		ID:      id,
		Method:  method,
		Params:  params,
	}); err != nil {
		c.remove(p)
		return nil, fmt.Errorf("send request %q: %w", method, err)
	}

	c.scope.Counter("requests_sent").Inc(1)
	return p, nil
}

// Call issues a request and blocks until resolution, unmarshalling a
// successful result into result when non-nil. timeout <= 0 uses the default.
// On timeout or caller cancellation the pending entry is dropped and a
// best-effort cancellation notification is sent to the engine; the engine is
// never waited on to acknowledge it.
func (c *Correlator) Call(ctx context.Context, method string, params, result interface{}, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	p, err := c.Send(method, params)
	if err != nil {
		return err
	}

	select {
	case out := <-p.ch:
		if out.Err != nil {
			return out.Err
		}
		if result != nil && len(out.Result) > 0 {
			if err := json.Unmarshal(out.Result, result); err != nil {
				return fmt.Errorf("unmarshal %q result: %w", method, err)
			}
		}
		return nil

	case <-c.clock.After(timeout):
		c.abandon(p)
		c.scope.Counter("request_timeouts").Inc(1)
		return &errors.RequestTimeoutError{Method: method, Timeout: timeout}

	case <-ctx.Done():
		c.abandon(p)
		c.scope.Counter("requests_cancelled").Inc(1)
		return &errors.RequestCancelledError{Method: method}
	}
}

// Notify sends a fire-and-forget notification.
func (c *Correlator) Notify(method string, params interface{}) error {
	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		if err == nil {
			err = errors.ErrConnClosed
		}
		return err
	}
	c.mu.Unlock()

	if err := c.sender.Write(model.Notification{
		JSONRPC: model.Version,
		Method:  method,
		Params:  params,
	}); err != nil {
		return fmt.Errorf("send notification %q: %w", method, err)
	}
	c.scope.Counter("notifications_sent").Inc(1)
	return nil
}

// Resolve delivers an inbound response to its pending request. A response
// whose id is unknown is a protocol anomaly: the engine may legitimately
// answer a request the client already gave up on, so it is logged, counted,
// and discarded, never raised to a caller.
func (c *Correlator) Resolve(idKey string, result json.RawMessage, rpcErr *jsonrpc2.Error) {
	c.mu.Lock()
	p, ok := c.pending[idKey]
	if ok {
		delete(c.pending, idKey)
	}
	c.mu.Unlock()

	if !ok {
		c.scope.Counter("responses_unknown_id").Inc(1)
		c.logger.Debugw("discarding response with unknown id", "id", idKey)
		return
	}

	if rpcErr != nil {
		p.ch <- Outcome{Err: rpcErr}
		return
	}
	p.ch <- Outcome{Result: result}
}

// Cancel rejects a pending request on the caller side immediately and sends a
// best-effort cancellation notification. A late response to the id is then
// discarded via the unknown-id path.
func (c *Correlator) Cancel(p *Pending) {
	if c.remove(p) {
		if err := c.Notify(_methodCancelRequest, model.CancelParams{ID: p.id}); err != nil {
			c.logger.Debugw("cancellation notice not delivered", "id", p.id, "error", err)
		}
		p.ch <- Outcome{Err: &errors.RequestCancelledError{Method: p.method}}
		c.scope.Counter("requests_cancelled").Inc(1)
	}
}

// FailAll rejects every pending request with err and refuses new traffic.
// Invoked on transport or process failure, which is fatal to the session.
func (c *Correlator) FailAll(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = err
	abandoned := c.pending
	c.pending = make(map[string]*Pending)
	c.mu.Unlock()

	for _, p := range abandoned {
		p.ch <- Outcome{Err: err}
	}
}

// PendingCount returns the number of in-flight requests.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// abandon drops a pending entry and tells the engine not to bother.
func (c *Correlator) abandon(p *Pending) {
	if c.remove(p) {
		// Best effort only: a dead connection is already fatal elsewhere.
		if err := c.Notify(_methodCancelRequest, model.CancelParams{ID: p.id}); err != nil {
			c.logger.Debugw("cancellation notice not delivered", "id", p.id, "error", err)
		}
	}
}

// remove unregisters p, reporting whether it was still pending.
func (c *Correlator) remove(p *Pending) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := strconv.FormatInt(p.id, 10)
	if _, ok := c.pending[key]; !ok {
		return false
	}
	delete(c.pending, key)
	return true
}
