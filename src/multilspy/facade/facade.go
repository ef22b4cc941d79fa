// Package facade exposes a blocking, uuid-addressed client API over engine
// sessions: engine registry, session start/stop, and the document and query
// operations. Start and stop are serialized against in-flight queries;
// queries against distinct sessions run concurrently up to a configured cap.
package facade

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/gofrs/uuid"
	tally "github.com/uber-go/tally/v4"
	"go.lsp.dev/protocol"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"gopkg.in/yaml.v3"

	"github.com/jaredhancock31/multilspy/src/multilspy/entity"
	repository "github.com/jaredhancock31/multilspy/src/multilspy/repository/session"
	"github.com/jaredhancock31/multilspy/src/multilspy/session"
)

// Module provides the facade for injection using fx.
var Module = fx.Options(
	fx.Provide(New),
)

const (
	_configKey = "multilspy"

	_defaultMaxConcurrentRequests = 16

	// Error templates
	_errUnknownEngine   = "unknown engine %q"
	_errDuplicateEngine = "engine %q already registered"
)

type facadeConfig struct {
	// EnginesPath points at a yaml registry of engine launch specs. Optional;
	// engines may also be registered programmatically.
	EnginesPath string `yaml:"enginesPath"`
	// MaxConcurrentRequests bounds in-flight document and query operations
	// across all sessions.
	MaxConcurrentRequests int64 `yaml:"maxConcurrentRequests"`
}

type registryFile struct {
	Engines []entity.EngineConfig `yaml:"engines"`
}

// Facade is the blocking client surface over engine sessions.
type Facade interface {
	// RegisterEngine adds one engine to the registry.
	RegisterEngine(cfg entity.EngineConfig) error
	// Engines lists the registered engine names.
	Engines() []string

	// StartSession launches the named engine rooted at repoRoot, runs the
	// initialize handshake, and returns the session id.
	StartSession(ctx context.Context, engineName string, repoRoot string) (uuid.UUID, error)
	// StopSession shuts the session down and removes it. The session is
	// always removed, even when shutdown reports an error.
	StopSession(ctx context.Context, id uuid.UUID) error
	// StopAll stops every session concurrently and removes them all.
	StopAll(ctx context.Context) error
	// SessionInfo returns a snapshot of the session's identity and state.
	SessionInfo(ctx context.Context, id uuid.UUID) (entity.SessionInfo, error)

	// Document related methods.
	OpenDocument(ctx context.Context, id uuid.UUID, path string) error
	ChangeDocument(ctx context.Context, id uuid.UUID, path string, content string) error
	CloseDocument(ctx context.Context, id uuid.UUID, path string) error
	Diagnostics(ctx context.Context, id uuid.UUID, path string) ([]protocol.Diagnostic, error)

	// Codeintel related methods.
	Definition(ctx context.Context, id uuid.UUID, path string, pos entity.Position) ([]entity.Location, error)
	References(ctx context.Context, id uuid.UUID, path string, pos entity.Position) ([]entity.Location, error)
	Completion(ctx context.Context, id uuid.UUID, path string, pos entity.Position) ([]entity.CompletionItem, error)
	Hover(ctx context.Context, id uuid.UUID, path string, pos entity.Position) (*entity.Hover, error)
	DocumentSymbols(ctx context.Context, id uuid.UUID, path string) ([]entity.Symbol, error)
}

// Params are inbound parameters to initialize the facade.
type Params struct {
	fx.In

	Logger    *zap.SugaredLogger
	Config    config.Provider
	Scope     tally.Scope
	Factory   *session.Factory
	Sessions  repository.Repository
	Lifecycle fx.Lifecycle `optional:"true"`
}

type facade struct {
	logger   *zap.SugaredLogger
	stats    tally.Scope
	factory  *session.Factory
	sessions repository.Repository

	sem *semaphore.Weighted

	// mu serializes session start/stop (write side) against in-flight
	// document and query operations (read side). It also guards engines.
	mu      sync.RWMutex
	engines map[string]entity.EngineConfig
}

// New constructs a facade, loading the engine registry if one is configured.
func New(p Params) (Facade, error) {
	var cfg facadeConfig
	if err := p.Config.Get(_configKey).Populate(&cfg); err != nil {
		return nil, fmt.Errorf("unable to get facade settings from config: %w", err)
	}
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = _defaultMaxConcurrentRequests
	}

	f := &facade{
		logger:   p.Logger,
		stats:    p.Scope,
		factory:  p.Factory,
		sessions: p.Sessions,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrentRequests),
		engines:  make(map[string]entity.EngineConfig),
	}
	if cfg.EnginesPath != "" {
		if err := f.loadRegistry(cfg.EnginesPath); err != nil {
			return nil, err
		}
	}
	if p.Lifecycle != nil {
		p.Lifecycle.Append(fx.Hook{OnStop: f.StopAll})
	}
	return f, nil
}

func (f *facade) loadRegistry(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading engine registry: %w", err)
	}
	var reg registryFile
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return fmt.Errorf("parsing engine registry %q: %w", path, err)
	}
	for _, cfg := range reg.Engines {
		if err := f.RegisterEngine(cfg); err != nil {
			return err
		}
	}
	f.logger.Infow("loaded engine registry", "path", path, "engines", len(reg.Engines))
	return nil
}

// RegisterEngine adds one engine to the registry.
func (f *facade) RegisterEngine(cfg entity.EngineConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("engine config is missing a name")
	}
	if cfg.Launch.Command == "" {
		return fmt.Errorf("engine %q is missing a launch command", cfg.Name)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.engines[cfg.Name]; ok {
		return fmt.Errorf(_errDuplicateEngine, cfg.Name)
	}
	f.engines[cfg.Name] = cfg
	return nil
}

// Engines lists the registered engine names.
func (f *facade) Engines() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, 0, len(f.engines))
	for name := range f.engines {
		names = append(names, name)
	}
	return names
}

// StartSession launches the named engine rooted at repoRoot and blocks until
// the initialize handshake completes.
func (f *facade) StartSession(ctx context.Context, engineName string, repoRoot string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cfg, ok := f.engines[engineName]
	if !ok {
		return uuid.Nil, fmt.Errorf(_errUnknownEngine, engineName)
	}

	s, err := f.factory.New(cfg, repoRoot, nil)
	if err != nil {
		return uuid.Nil, err
	}
	if err := s.Start(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("starting %q session: %w", engineName, err)
	}
	if err := f.sessions.Set(ctx, s); err != nil {
		err = multierr.Append(err, s.Stop(ctx))
		return uuid.Nil, err
	}

	f.stats.Counter("sessions_started").Inc(1)
	f.logger.Infow("session started", "uuid", s.UUID(), "engine", engineName, "repositoryRoot", repoRoot)
	return s.UUID(), nil
}

// StopSession shuts the session down and removes it from the repository.
func (f *facade) StopSession(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, err := f.sessions.Get(ctx, id)
	if err != nil {
		return err
	}
	err = s.Stop(ctx)
	err = multierr.Append(err, f.sessions.Delete(ctx, id))
	f.logger.Infow("session stopped", "uuid", id)
	return err
}

// StopAll stops every session concurrently and removes them all. Failures
// are collected; every session is still removed.
func (f *facade) StopAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	all, err := f.sessions.GetAll(ctx)
	if err != nil {
		return err
	}

	var g errgroup.Group
	for _, s := range all {
		s := s
		g.Go(func() error {
			if err := s.Stop(ctx); err != nil {
				return fmt.Errorf("stopping session %s: %w", s.UUID(), err)
			}
			return nil
		})
	}
	err = g.Wait()
	for _, s := range all {
		err = multierr.Append(err, f.sessions.Delete(ctx, s.UUID()))
	}
	return err
}

// SessionInfo returns a snapshot of the session's identity and state.
func (f *facade) SessionInfo(ctx context.Context, id uuid.UUID) (entity.SessionInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	s, err := f.sessions.Get(ctx, id)
	if err != nil {
		return entity.SessionInfo{}, err
	}
	return s.Info(), nil
}

// OpenDocument opens the file in the given session.
func (f *facade) OpenDocument(ctx context.Context, id uuid.UUID, path string) error {
	return f.withSession(ctx, id, func(s *session.Session) error {
		return s.OpenDocument(ctx, path)
	})
}

// ChangeDocument replaces the buffered content of an open file.
func (f *facade) ChangeDocument(ctx context.Context, id uuid.UUID, path string, content string) error {
	return f.withSession(ctx, id, func(s *session.Session) error {
		return s.ChangeDocument(ctx, path, content)
	})
}

// CloseDocument closes the file in the given session.
func (f *facade) CloseDocument(ctx context.Context, id uuid.UUID, path string) error {
	return f.withSession(ctx, id, func(s *session.Session) error {
		return s.CloseDocument(ctx, path)
	})
}

// Diagnostics returns the most recent diagnostics published for the file.
func (f *facade) Diagnostics(ctx context.Context, id uuid.UUID, path string) ([]protocol.Diagnostic, error) {
	var out []protocol.Diagnostic
	err := f.withSession(ctx, id, func(s *session.Session) error {
		out = s.Diagnostics(path)
		return nil
	})
	return out, err
}

// Definition resolves the definition of the symbol at the given position.
func (f *facade) Definition(ctx context.Context, id uuid.UUID, path string, pos entity.Position) ([]entity.Location, error) {
	var out []entity.Location
	err := f.withSession(ctx, id, func(s *session.Session) error {
		var err error
		out, err = s.Definition(ctx, path, pos)
		return err
	})
	return out, err
}

// References resolves all references to the symbol at the given position.
func (f *facade) References(ctx context.Context, id uuid.UUID, path string, pos entity.Position) ([]entity.Location, error) {
	var out []entity.Location
	err := f.withSession(ctx, id, func(s *session.Session) error {
		var err error
		out, err = s.References(ctx, path, pos)
		return err
	})
	return out, err
}

// Completion requests completions at the given position.
func (f *facade) Completion(ctx context.Context, id uuid.UUID, path string, pos entity.Position) ([]entity.CompletionItem, error) {
	var out []entity.CompletionItem
	err := f.withSession(ctx, id, func(s *session.Session) error {
		var err error
		out, err = s.Completion(ctx, path, pos)
		return err
	})
	return out, err
}

// Hover requests hover content at the given position.
func (f *facade) Hover(ctx context.Context, id uuid.UUID, path string, pos entity.Position) (*entity.Hover, error) {
	var out *entity.Hover
	err := f.withSession(ctx, id, func(s *session.Session) error {
		var err error
		out, err = s.Hover(ctx, path, pos)
		return err
	})
	return out, err
}

// DocumentSymbols requests the symbol outline of the file.
func (f *facade) DocumentSymbols(ctx context.Context, id uuid.UUID, path string) ([]entity.Symbol, error) {
	var out []entity.Symbol
	err := f.withSession(ctx, id, func(s *session.Session) error {
		var err error
		out, err = s.DocumentSymbols(ctx, path)
		return err
	})
	return out, err
}

// withSession runs fn against the stored session under the read lock, so
// start/stop cannot interleave with it, and within the concurrency cap.
func (f *facade) withSession(ctx context.Context, id uuid.UUID, fn func(s *session.Session) error) error {
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer f.sem.Release(1)

	f.mu.RLock()
	defer f.mu.RUnlock()

	s, err := f.sessions.Get(ctx, id)
	if err != nil {
		return err
	}
	return fn(s)
}
