package facade

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tally "github.com/uber-go/tally/v4"
	"go.uber.org/config"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/jaredhancock31/multilspy/src/multilspy/entity"
	"github.com/jaredhancock31/multilspy/src/multilspy/factory"
	interrors "github.com/jaredhancock31/multilspy/src/multilspy/internal/errors"
	"github.com/jaredhancock31/multilspy/src/multilspy/internal/proc"
	"github.com/jaredhancock31/multilspy/src/multilspy/model"
	repository "github.com/jaredhancock31/multilspy/src/multilspy/repository/session"
	"github.com/jaredhancock31/multilspy/src/multilspy/repository/session/repositorymock"
	"github.com/jaredhancock31/multilspy/src/multilspy/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testProvider(t *testing.T, extra map[string]interface{}) config.Provider {
	t.Helper()
	settings := map[string]interface{}{
		"requestTimeoutMs":    2000,
		"initializeTimeoutMs": 5000,
		"shutdownTimeoutMs":   1000,
	}
	for k, v := range extra {
		settings[k] = v
	}
	provider, err := config.NewStaticProvider(map[string]interface{}{
		"multilspy": settings,
	})
	require.NoError(t, err)
	return provider
}

// newTestFacade wires a facade over real sessions. A nil sessions repository
// gets an in-memory one.
func newTestFacade(t *testing.T, sup proc.Supervisor, extra map[string]interface{}, sessions repository.Repository) (Facade, repository.Repository) {
	t.Helper()
	provider := testProvider(t, extra)
	sf, err := session.NewFactory(session.Params{
		Logger:     zap.NewNop().Sugar(),
		Config:     provider,
		Scope:      tally.NoopScope,
		Supervisor: sup,
	})
	require.NoError(t, err)
	if sessions == nil {
		sessions = repository.New(repository.Params{Scope: tally.NoopScope})
	}
	f, err := New(Params{
		Logger:   zap.NewNop().Sugar(),
		Config:   provider,
		Scope:    tally.NoopScope,
		Factory:  sf,
		Sessions: sessions,
	})
	require.NoError(t, err)
	return f, sessions
}

// awaitSeen polls until the engine has observed method count times.
func awaitSeen(t *testing.T, e *factory.Engine, method string, count int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if e.Seen(method) >= count {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("engine never saw %d %q, saw %d", count, method, e.Seen(method))
}

func TestStartStopSession(t *testing.T) {
	h := factory.NewHandle()
	e := factory.RunEngine(h, factory.StandardServe(nil))
	f, sessions := newTestFacade(t, factory.NewSupervisor(h), nil, nil)
	require.NoError(t, f.RegisterEngine(factory.EngineConfig("fake-engine")))

	repoRoot := t.TempDir()
	id, err := f.StartSession(context.Background(), "fake-engine", repoRoot)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)
	assert.Equal(t, 1, e.Seen("initialize"))

	info, err := f.SessionInfo(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entity.StateReady, info.State)
	assert.Equal(t, "fake-engine", info.Engine)
	assert.Equal(t, repoRoot, info.RepositoryRoot)

	require.NoError(t, f.StopSession(context.Background(), id))
	assert.Equal(t, 1, e.Seen("shutdown"))
	awaitSeen(t, e, "exit", 1)

	count, err := sessions.SessionCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)

	var notFound *interrors.UUIDNotFoundError
	_, err = f.SessionInfo(context.Background(), id)
	assert.ErrorAs(t, err, &notFound)
}

func TestStartSessionUnknownEngine(t *testing.T) {
	f, _ := newTestFacade(t, factory.NewSupervisor(), nil, nil)

	_, err := f.StartSession(context.Background(), "nope", t.TempDir())
	assert.ErrorContains(t, err, `unknown engine "nope"`)
}

func TestRegisterEngineValidation(t *testing.T) {
	f, _ := newTestFacade(t, factory.NewSupervisor(), nil, nil)

	assert.Error(t, f.RegisterEngine(entity.EngineConfig{Launch: entity.LaunchSpec{Command: "x"}}))
	assert.Error(t, f.RegisterEngine(entity.EngineConfig{Name: "x"}))

	require.NoError(t, f.RegisterEngine(factory.EngineConfig("gopls")))
	assert.ErrorContains(t, f.RegisterEngine(factory.EngineConfig("gopls")), "already registered")
	assert.ElementsMatch(t, []string{"gopls"}, f.Engines())
}

func TestLoadRegistryFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engines.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engines:
  - name: gopls
    languageId: go
    launch:
      command: gopls
      args: ["serve"]
  - name: clangd
    languageId: cpp
    launch:
      command: clangd
`), 0o644))

	h := factory.NewHandle()
	e := factory.RunEngine(h, factory.StandardServe(nil))
	f, _ := newTestFacade(t, factory.NewSupervisor(h), map[string]interface{}{
		"enginesPath": path,
	}, nil)
	assert.ElementsMatch(t, []string{"gopls", "clangd"}, f.Engines())

	id, err := f.StartSession(context.Background(), "gopls", t.TempDir())
	require.NoError(t, err)
	params := e.Param("initialize")
	assert.Positive(t, params.Get("processId").Int())

	require.NoError(t, f.StopSession(context.Background(), id))
}

func TestLoadRegistryBadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engines.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engines: {not: a list}"), 0o644))

	provider := testProvider(t, map[string]interface{}{"enginesPath": path})
	sf, err := session.NewFactory(session.Params{
		Logger:     zap.NewNop().Sugar(),
		Config:     provider,
		Scope:      tally.NoopScope,
		Supervisor: factory.NewSupervisor(),
	})
	require.NoError(t, err)

	_, err = New(Params{
		Logger:   zap.NewNop().Sugar(),
		Config:   provider,
		Scope:    tally.NoopScope,
		Factory:  sf,
		Sessions: repository.New(repository.Params{Scope: tally.NoopScope}),
	})
	assert.ErrorContains(t, err, "parsing engine registry")
}

func TestQueriesThroughFacade(t *testing.T) {
	serve := func(e *factory.Engine, msg *model.Message) bool {
		switch msg.Method {
		case "textDocument/hover":
			e.Respond(msg.ID, `{"contents":{"kind":"markdown","value":"func main()"}}`)
		case "textDocument/definition":
			e.Respond(msg.ID, `null`)
		}
		return true
	}
	h := factory.NewHandle()
	factory.RunEngine(h, factory.StandardServe(serve))
	f, _ := newTestFacade(t, factory.NewSupervisor(h), nil, nil)
	require.NoError(t, f.RegisterEngine(factory.EngineConfig("fake-engine")))

	repoRoot := t.TempDir()
	path := filepath.Join(repoRoot, "main.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n"), 0o644))

	id, err := f.StartSession(context.Background(), "fake-engine", repoRoot)
	require.NoError(t, err)
	defer f.StopSession(context.Background(), id)

	require.NoError(t, f.OpenDocument(context.Background(), id, path))

	hov, err := f.Hover(context.Background(), id, path, factory.Position(0, 8))
	require.NoError(t, err)
	require.NotNil(t, hov)
	assert.Equal(t, "func main()", hov.Contents)

	locs, err := f.Definition(context.Background(), id, path, factory.Position(0, 8))
	require.NoError(t, err)
	assert.Empty(t, locs)

	diags, err := f.Diagnostics(context.Background(), id, path)
	require.NoError(t, err)
	assert.Empty(t, diags)

	require.NoError(t, f.ChangeDocument(context.Background(), id, path, "package main\n\nfunc main() {}\n"))
	require.NoError(t, f.CloseDocument(context.Background(), id, path))
}

func TestQueryUnknownSession(t *testing.T) {
	f, _ := newTestFacade(t, factory.NewSupervisor(), nil, nil)

	var notFound *interrors.UUIDNotFoundError
	_, err := f.Hover(context.Background(), factory.UUID(), "main.go", entity.Position{})
	assert.ErrorAs(t, err, &notFound)
	err = f.OpenDocument(context.Background(), factory.UUID(), "main.go")
	assert.ErrorAs(t, err, &notFound)
}

func TestStopAll(t *testing.T) {
	h1 := factory.NewHandle()
	h2 := factory.NewHandle()
	e1 := factory.RunEngine(h1, factory.StandardServe(nil))
	e2 := factory.RunEngine(h2, factory.StandardServe(nil))
	f, sessions := newTestFacade(t, factory.NewSupervisor(h1, h2), nil, nil)
	require.NoError(t, f.RegisterEngine(factory.EngineConfig("fake-engine")))

	_, err := f.StartSession(context.Background(), "fake-engine", t.TempDir())
	require.NoError(t, err)
	_, err = f.StartSession(context.Background(), "fake-engine", t.TempDir())
	require.NoError(t, err)

	require.NoError(t, f.StopAll(context.Background()))
	awaitSeen(t, e1, "exit", 1)
	awaitSeen(t, e2, "exit", 1)

	count, err := sessions.SessionCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStartSessionStoreFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	sessions := repositorymock.NewMockRepository(ctrl)
	sessions.EXPECT().Set(gomock.Any(), gomock.Any()).Return(interrors.New("store full"))

	h := factory.NewHandle()
	e := factory.RunEngine(h, factory.StandardServe(nil))
	f, _ := newTestFacade(t, factory.NewSupervisor(h), nil, sessions)
	require.NoError(t, f.RegisterEngine(factory.EngineConfig("fake-engine")))

	_, err := f.StartSession(context.Background(), "fake-engine", t.TempDir())
	assert.ErrorContains(t, err, "store full")

	// The orphaned session must have been shut down.
	awaitSeen(t, e, "exit", 1)
}

func TestStopAllPropagatesListFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	sessions := repositorymock.NewMockRepository(ctrl)
	sessions.EXPECT().GetAll(gomock.Any()).Return(nil, interrors.New("repo down"))

	f, _ := newTestFacade(t, factory.NewSupervisor(), nil, sessions)
	assert.ErrorContains(t, f.StopAll(context.Background()), "repo down")
}
