// Package session implements the per-engine session: process lifetime, the
// initialize handshake, document synchronization, and the query surface, all
// on top of one framed duplex stream.
package session

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	tally "github.com/uber-go/tally/v4"
	"go.lsp.dev/protocol"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/jaredhancock31/multilspy/src/multilspy/entity"
	"github.com/jaredhancock31/multilspy/src/multilspy/internal/clock"
	"github.com/jaredhancock31/multilspy/src/multilspy/internal/correlator"
	"github.com/jaredhancock31/multilspy/src/multilspy/internal/dispatch"
	"github.com/jaredhancock31/multilspy/src/multilspy/internal/docwatch"
	"github.com/jaredhancock31/multilspy/src/multilspy/internal/errors"
	"github.com/jaredhancock31/multilspy/src/multilspy/internal/framer"
	"github.com/jaredhancock31/multilspy/src/multilspy/internal/proc"
)

// Module provides the session factory for injection using fx.
var Module = fx.Options(
	fx.Provide(NewFactory),
)

const _configKey = "multilspy"

type timeoutsConfig struct {
	RequestTimeoutMs    int64 `yaml:"requestTimeoutMs"`
	InitializeTimeoutMs int64 `yaml:"initializeTimeoutMs"`
	ShutdownTimeoutMs   int64 `yaml:"shutdownTimeoutMs"`
}

// Params define values to be used by the session factory.
type Params struct {
	fx.In

	Logger     *zap.SugaredLogger
	Config     config.Provider
	Scope      tally.Scope
	Supervisor proc.Supervisor
}

// Factory creates sessions bound to the shared supervisor, logger, metrics
// scope, and configured timeouts.
type Factory struct {
	logger     *zap.SugaredLogger
	scope      tally.Scope
	supervisor proc.Supervisor
	clock      clock.Clock

	requestTimeout    time.Duration
	initializeTimeout time.Duration
	shutdownTimeout   time.Duration
}

// NewFactory constructs a session factory from configuration.
func NewFactory(p Params) (*Factory, error) {
	var timeouts timeoutsConfig
	if err := p.Config.Get(_configKey).Populate(&timeouts); err != nil {
		return nil, fmt.Errorf("unable to get timeouts from config: %w", err)
	}

	f := &Factory{
		logger:            p.Logger,
		scope:             p.Scope,
		supervisor:        p.Supervisor,
		clock:             clock.New(),
		requestTimeout:    time.Duration(timeouts.RequestTimeoutMs) * time.Millisecond,
		initializeTimeout: time.Duration(timeouts.InitializeTimeoutMs) * time.Millisecond,
		shutdownTimeout:   time.Duration(timeouts.ShutdownTimeoutMs) * time.Millisecond,
	}
	if f.requestTimeout <= 0 {
		f.requestTimeout = correlator.DefaultRequestTimeout
	}
	if f.initializeTimeout <= 0 {
		f.initializeTimeout = 2 * f.requestTimeout
	}
	if f.shutdownTimeout <= 0 {
		f.shutdownTimeout = 5 * time.Second
	}
	return f, nil
}

// WithClock overrides the factory's wall clock for sessions it creates.
func (f *Factory) WithClock(clk clock.Clock) *Factory {
	f.clock = clk
	return f
}

// New creates a session for one engine rooted at repoRoot. A nil caps uses
// the default protocol capability set. The session is Unstarted until Start.
func (f *Factory) New(cfg entity.EngineConfig, repoRoot string, caps entity.EngineCaps) (*Session, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}
	if caps == nil {
		caps = entity.ProtocolCaps{}
	}

	s := &Session{
		id:       id,
		cfg:      cfg,
		repoRoot: repoRoot,
		caps:     caps,
		logger:   f.logger.With("session", id.String(), "engine", cfg.Name),
		scope:    f.scope.Tagged(map[string]string{"engine": cfg.Name}),
		clock:    f.clock,

		supervisor:        f.supervisor,
		requestTimeout:    f.requestTimeout,
		initializeTimeout: f.initializeTimeout,
		shutdownTimeout:   f.shutdownTimeout,

		state: entity.StateUnstarted,
		docs:  make(map[string]*entity.Document),
		diags: make(map[string][]protocol.Diagnostic),
	}
	s.table = dispatch.New(
		sessionWriter{s},
		dispatch.WithLogger(s.logger),
		dispatch.WithScope(s.scope),
	)
	s.registerDefaultHandlers()
	return s, nil
}

// Session is one engine conversation. All exported methods are safe for
// concurrent use; the zero value is not usable, construct via Factory.New.
type Session struct {
	id       uuid.UUID
	cfg      entity.EngineConfig
	repoRoot string
	caps     entity.EngineCaps
	logger   *zap.SugaredLogger
	scope    tally.Scope
	clock    clock.Clock

	supervisor        proc.Supervisor
	requestTimeout    time.Duration
	initializeTimeout time.Duration
	shutdownTimeout   time.Duration

	mu      sync.Mutex
	state   entity.SessionState
	failErr error

	handle  proc.Handle
	codec   *framer.Codec
	corr    *correlator.Correlator
	table   *dispatch.Table
	watcher *docwatch.Watcher

	runCtx    context.Context
	runCancel context.CancelFunc
	readDone  chan struct{}

	// serverCaps is written once during Start and never mutated after.
	serverCaps protocol.ServerCapabilities

	docMu sync.Mutex
	docs  map[string]*entity.Document
	diags map[string][]protocol.Diagnostic
}

// UUID returns the session's identity.
func (s *Session) UUID() uuid.UUID { return s.id }

// State returns the session's current lifecycle state.
func (s *Session) State() entity.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns a descriptive snapshot of the session.
func (s *Session) Info() entity.SessionInfo {
	return entity.SessionInfo{
		UUID:           s.id,
		RepositoryRoot: s.repoRoot,
		Engine:         s.cfg.Name,
		State:          s.State(),
	}
}

// Capabilities returns the capability set the engine advertised during the
// handshake. Zero value before Ready.
func (s *Session) Capabilities() protocol.ServerCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverCaps
}

// RegisterNotificationHandler sets the handler for an engine notification
// method, replacing any default. Call before Start.
func (s *Session) RegisterNotificationHandler(method string, handler dispatch.NotificationHandler) {
	s.table.RegisterNotification(method, handler)
}

// RegisterRequestHandler sets the handler for an engine-initiated request
// method. Call before Start.
func (s *Session) RegisterRequestHandler(method string, handler dispatch.RequestHandler) {
	s.table.RegisterRequest(method, handler)
}

// requireReady rejects operations outside the Ready state before any bytes
// reach the wire.
func (s *Session) requireReady() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != entity.StateReady {
		return fmt.Errorf("state %s: %w", s.state, errors.ErrNotReady)
	}
	return nil
}

// writeMsg writes one message through the session's codec.
func (s *Session) writeMsg(msg interface{}) error {
	s.mu.Lock()
	codec := s.codec
	s.mu.Unlock()
	if codec == nil {
		return errors.ErrConnClosed
	}
	return codec.Write(msg)
}

// sessionWriter adapts the session for the dispatch table's replier, which
// is constructed before the codec exists.
type sessionWriter struct{ s *Session }

func (w sessionWriter) Write(msg interface{}) error { return w.s.writeMsg(msg) }

// readLoop decodes inbound frames until the stream ends, resolving responses
// and dispatching everything else. A decode failure outside shutdown is
// fatal: alignment cannot be reestablished after a framing violation.
func (s *Session) readLoop() {
	defer close(s.readDone)
	for {
		msg, err := s.codec.Read()
		if err != nil {
			s.mu.Lock()
			tearingDown := s.state == entity.StateShuttingDown || s.state.Terminal()
			s.mu.Unlock()
			if tearingDown {
				return
			}
			if err == io.EOF {
				// Stream closed under us; the exit watcher attributes it to
				// the process, the read side only reports the dead transport.
				s.fatal(&errors.TransportError{Err: err})
				return
			}
			s.fatal(err)
			return
		}

		if msg.IsResponse() {
			s.corr.Resolve(msg.IDKey(), msg.Result, msg.Error)
			continue
		}
		s.table.Dispatch(s.runCtx, msg)
	}
}

// watchExit attributes an unexpected process death to the session.
func (s *Session) watchExit() {
	<-s.handle.Exited()

	s.mu.Lock()
	tearingDown := s.state == entity.StateShuttingDown || s.state.Terminal()
	s.mu.Unlock()
	if tearingDown {
		return
	}

	err := s.handle.ExitError()
	if err == nil {
		err = &errors.ProcessExitError{ExitCode: -1}
	}
	s.fatal(err)
}

// fatal moves the session to Failed and rejects all pending requests. From
// a terminal or shutting-down state only the pending rejection remains.
func (s *Session) fatal(err error) {
	s.mu.Lock()
	alreadyDown := s.state == entity.StateShuttingDown || s.state.Terminal()
	if !alreadyDown {
		s.state = entity.StateFailed
		s.failErr = err
	}
	corr := s.corr
	s.mu.Unlock()

	if corr != nil {
		corr.FailAll(err)
	}
	if alreadyDown {
		return
	}

	s.scope.Counter("session_failures").Inc(1)
	s.logger.Errorw("session failed", "error", err)
}
