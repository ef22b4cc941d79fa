package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/multierr"

	"github.com/jaredhancock31/multilspy/src/multilspy/entity"
	"github.com/jaredhancock31/multilspy/src/multilspy/internal/correlator"
	"github.com/jaredhancock31/multilspy/src/multilspy/internal/docwatch"
	"github.com/jaredhancock31/multilspy/src/multilspy/internal/errors"
	"github.com/jaredhancock31/multilspy/src/multilspy/internal/framer"
	"github.com/jaredhancock31/multilspy/src/multilspy/mapper"
)

// Start spawns the engine process, binds the framed stream, and performs the
// initialize handshake. On success the session is Ready; any handshake or
// transport failure leaves it Failed with the process terminated.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != entity.StateUnstarted {
		state := s.state
		s.mu.Unlock()
		if state == entity.StateInitializing || state == entity.StateReady {
			return errors.ErrAlreadyStarted
		}
		return fmt.Errorf("state %s: %w", state, errors.ErrNotReady)
	}
	s.state = entity.StateInitializing
	s.mu.Unlock()

	template, err := s.loadPayloadTemplate()
	if err != nil {
		return s.abortStart(ctx, fmt.Errorf("loading initialize payload: %w", err))
	}

	launch := s.cfg.Launch
	if launch.WorkDir == "" {
		launch.WorkDir = s.repoRoot
	}
	handle, err := s.supervisor.Start(ctx, launch)
	if err != nil {
		return s.abortStart(ctx, fmt.Errorf("starting engine: %w", err))
	}

	codec := framer.NewCodec(handle.Stdout(), handle.Stdin())
	corr := correlator.New(codec,
		correlator.WithLogger(s.logger),
		correlator.WithScope(s.scope),
		correlator.WithClock(s.clock),
		correlator.WithDefaultTimeout(s.requestTimeout),
	)

	runCtx, runCancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.handle = handle
	s.codec = codec
	s.corr = corr
	s.runCtx = runCtx
	s.runCancel = runCancel
	s.readDone = make(chan struct{})
	s.mu.Unlock()

	go s.readLoop()
	go s.watchExit()

	payload, err := mapper.ExpandInitializePayload(template, mapper.PayloadVars{
		RootPath:  s.repoRoot,
		RootURI:   string(uri.File(s.repoRoot)),
		Name:      filepath.Base(s.repoRoot),
		ProcessID: os.Getpid(),
	})
	if err != nil {
		return s.abortStart(ctx, err)
	}

	var initResult protocol.InitializeResult
	if err := corr.Call(ctx, protocol.MethodInitialize, payload, &initResult, s.initializeTimeout); err != nil {
		return s.abortStart(ctx, fmt.Errorf("initialize handshake: %w", err))
	}

	if err := corr.Notify(protocol.MethodInitialized, protocol.InitializedParams{}); err != nil {
		return s.abortStart(ctx, fmt.Errorf("initialized notification: %w", err))
	}

	watcher, err := docwatch.New(s.logger, s.markDirty)
	if err != nil {
		s.logger.Warnw("document watcher unavailable, dirty tracking disabled", "error", err)
	}

	s.mu.Lock()
	if s.state != entity.StateInitializing {
		// Torn down concurrently while the handshake was in flight.
		failErr := s.failErr
		s.mu.Unlock()
		if watcher != nil {
			_ = watcher.Close()
		}
		if failErr == nil {
			failErr = errors.ErrConnClosed
		}
		return failErr
	}
	s.serverCaps = initResult.Capabilities
	s.watcher = watcher
	s.state = entity.StateReady
	s.mu.Unlock()

	s.scope.Counter("sessions_started").Inc(1)
	s.logger.Infow("session ready", "repoRoot", s.repoRoot)
	return nil
}

// Stop performs the shutdown handshake best-effort and terminates the
// process. It is idempotent and always leaves the session in a terminal
// state; a failed session is reaped and ends Stopped like any other.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.state == entity.StateUnstarted:
		s.state = entity.StateStopped
		s.mu.Unlock()
		return nil
	case s.state.Terminal():
		handle := s.handle
		watcher := s.watcher
		runCancel := s.runCancel
		s.mu.Unlock()
		if watcher != nil {
			_ = watcher.Close()
		}
		if handle != nil {
			_ = handle.Stop(ctx, s.shutdownTimeout)
		}
		if runCancel != nil {
			runCancel()
		}
		// Stop is unconditionally terminal: a failed session still ends
		// Stopped once reaped. failErr keeps the failure diagnosis.
		s.mu.Lock()
		if s.state == entity.StateFailed {
			s.state = entity.StateStopped
		}
		s.mu.Unlock()
		return nil
	case s.state == entity.StateShuttingDown:
		s.mu.Unlock()
		return nil
	}
	s.state = entity.StateShuttingDown
	corr := s.corr
	handle := s.handle
	watcher := s.watcher
	s.mu.Unlock()

	// The engine may already be gone; every step here is best effort and
	// failures only shorten the goodbye.
	if corr != nil {
		if err := corr.Call(ctx, protocol.MethodShutdown, nil, nil, s.shutdownTimeout); err != nil {
			s.logger.Debugw("shutdown request not acknowledged", "error", err)
		}
		if err := corr.Notify(protocol.MethodExit, nil); err != nil {
			s.logger.Debugw("exit notification not delivered", "error", err)
		}
	}

	var errs error
	if watcher != nil {
		errs = multierr.Append(errs, watcher.Close())
	}
	if handle != nil {
		errs = multierr.Append(errs, handle.Stop(ctx, s.shutdownTimeout))
	}
	if corr != nil {
		corr.FailAll(errors.ErrConnClosed)
	}

	s.mu.Lock()
	s.state = entity.StateStopped
	runCancel := s.runCancel
	s.mu.Unlock()
	if runCancel != nil {
		runCancel()
	}

	s.scope.Counter("sessions_stopped").Inc(1)
	s.logger.Infow("session stopped")
	return errs
}

// abortStart fails a partially started session and reaps whatever came up.
func (s *Session) abortStart(ctx context.Context, err error) error {
	s.mu.Lock()
	if !s.state.Terminal() {
		s.state = entity.StateFailed
		s.failErr = err
	}
	corr := s.corr
	handle := s.handle
	runCancel := s.runCancel
	s.mu.Unlock()

	if corr != nil {
		corr.FailAll(err)
	}
	if handle != nil {
		_ = handle.Stop(ctx, s.shutdownTimeout)
	}
	if runCancel != nil {
		runCancel()
	}

	s.scope.Counter("session_failures").Inc(1)
	s.logger.Errorw("session start failed", "error", err)
	return err
}

// loadPayloadTemplate resolves the adapter's initialize payload, inline or
// from disk.
func (s *Session) loadPayloadTemplate() (json.RawMessage, error) {
	if len(s.cfg.InitializePayload) > 0 {
		return s.cfg.InitializePayload, nil
	}
	if s.cfg.InitializePayloadPath != "" {
		data, err := os.ReadFile(s.cfg.InitializePayloadPath)
		if err != nil {
			return nil, err
		}
		return data, nil
	}
	// A minimal default keeps engines without adapter templates usable.
	return json.RawMessage(`{
		"processId": null,
		"rootPath": "$rootPath",
		"rootUri": "$rootUri",
		"capabilities": {},
		"workspaceFolders": [{"uri": "$uri", "name": "$name"}]
	}`), nil
}
