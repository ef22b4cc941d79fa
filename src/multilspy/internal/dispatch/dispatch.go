// Package dispatch routes inbound notifications and server-initiated
// requests to registered handlers.
package dispatch

import (
	"context"
	"encoding/json"
	"sync"

	tally "github.com/uber-go/tally/v4"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/zap"

	"github.com/jaredhancock31/multilspy/src/multilspy/model"
)

// NotificationHandler consumes an inbound notification's parameters.
type NotificationHandler func(ctx context.Context, params json.RawMessage)

// RequestHandler answers a server-initiated request. It returns a result or
// a structured error; the table writes the response frame.
type RequestHandler func(ctx context.Context, params json.RawMessage) (interface{}, *jsonrpc2.Error)

// Replier writes one message to the wire. Satisfied by framer.Codec.
type Replier interface {
	Write(msg interface{}) error
}

// Option customizes a Table.
type Option func(*Table)

// WithLogger overrides the default noop logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(t *Table) { t.logger = logger }
}

// WithScope overrides the default noop metrics scope.
func WithScope(scope tally.Scope) Option {
	return func(t *Table) { t.scope = scope }
}

// Table maps method names to handlers. Exactly one handler per method;
// registering a duplicate replaces the prior handler. The table is populated
// at session construction and not mutated concurrently with dispatch.
type Table struct {
	logger *zap.SugaredLogger
	scope  tally.Scope

	// replier answers server-initiated requests.
	replier Replier

	mu            sync.RWMutex
	notifications map[string]NotificationHandler
	requests      map[string]RequestHandler

	// notifyTail is the completion signal of the most recently dispatched
	// notification handler; the next handler waits on it so notifications
	// run in frame order.
	notifyMu   sync.Mutex
	notifyTail chan struct{}
}

// New creates a Table that answers server-initiated requests through replier.
func New(replier Replier, opts ...Option) *Table {
	t := &Table{
		logger:        zap.NewNop().Sugar(),
		scope:         tally.NoopScope,
		replier:       replier,
		notifications: make(map[string]NotificationHandler),
		requests:      make(map[string]RequestHandler),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RegisterNotification sets the handler for an inbound notification method,
// replacing any prior handler.
func (t *Table) RegisterNotification(method string, handler NotificationHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notifications[method] = handler
}

// RegisterRequest sets the handler for a server-initiated request method,
// replacing any prior handler.
func (t *Table) RegisterRequest(method string, handler RequestHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests[method] = handler
}

// Dispatch routes one inbound message. Handlers run off the caller's
// goroutine so a slow handler never stalls decoding of subsequent frames;
// a handler that performs further protocol round-trips therefore cannot
// deadlock the reader loop. Notification handlers additionally execute in
// frame order relative to each other, request handlers run concurrently.
func (t *Table) Dispatch(ctx context.Context, msg *model.Message) {
	switch {
	case msg.IsNotification():
		t.dispatchNotification(ctx, msg)
	case msg.IsRequest():
		t.dispatchRequest(ctx, msg)
	default:
		t.scope.Counter("dispatch_unroutable").Inc(1)
		t.logger.Debugw("dropping unroutable message", "method", msg.Method)
	}
}

func (t *Table) dispatchNotification(ctx context.Context, msg *model.Message) {
	t.mu.RLock()
	handler, ok := t.notifications[msg.Method]
	t.mu.RUnlock()

	if !ok {
		// Engines may send vendor-specific notifications the core ignores.
		t.scope.Counter("notifications_unhandled").Inc(1)
		t.logger.Debugw("no handler for notification", "method", msg.Method)
		return
	}

	// Chain each handler onto the previous one's completion so two
	// notifications observed in frame order are never applied in reverse.
	t.notifyMu.Lock()
	prev := t.notifyTail
	done := make(chan struct{})
	t.notifyTail = done
	t.notifyMu.Unlock()

	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		handler(ctx, msg.Params)
	}()
}

func (t *Table) dispatchRequest(ctx context.Context, msg *model.Message) {
	t.mu.RLock()
	handler, ok := t.requests[msg.Method]
	t.mu.RUnlock()

	// A server request with no handler still gets a well-formed error
	// response so the engine's pending-request bookkeeping is not left
	// dangling.
	if !ok {
		t.scope.Counter("requests_unhandled").Inc(1)
		t.reply(msg.ID, nil, jsonrpc2.NewError(jsonrpc2.MethodNotFound, "method not found: "+msg.Method))
		return
	}

	go func() {
		result, rpcErr := handler(ctx, msg.Params)
		t.reply(msg.ID, result, rpcErr)
	}()
}

func (t *Table) reply(rawID json.RawMessage, result interface{}, rpcErr *jsonrpc2.Error) {
	if result == nil && rpcErr == nil {
		// A response must carry a result or an error.
		result = json.RawMessage("null")
	}
	resp := model.Response{
		JSONRPC: model.Version,
		ID:      rawID,
		Result:  result,
		Error:   rpcErr,
	}
	if err := t.replier.Write(resp); err != nil {
		t.logger.Warnw("failed to answer server request", "error", err)
	}
}
