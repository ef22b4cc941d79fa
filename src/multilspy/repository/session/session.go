// Package session provides the in-memory store of live engine sessions.
package session

import (
	"context"
	"sync"

	"github.com/gofrs/uuid"
	tally "github.com/uber-go/tally/v4"
	"go.uber.org/fx"

	"github.com/jaredhancock31/multilspy/src/multilspy/internal/errors"
	"github.com/jaredhancock31/multilspy/src/multilspy/session"
)

// Module provides a session Repository for injection using fx.
var Module = fx.Options(
	fx.Provide(New),
)

// Repository is an entity-scoped repository.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*session.Session, error)
	GetAll(ctx context.Context) ([]*session.Session, error)
	GetAllFromRepositoryRoot(ctx context.Context, repoRoot string) ([]*session.Session, error)
	Set(ctx context.Context, s *session.Session) error
	Delete(ctx context.Context, id uuid.UUID) error
	SessionCount(ctx context.Context) (int, error)
}

// Params define values to be used by the repository.
type Params struct {
	fx.In

	Scope tally.Scope
}

type repository struct {
	mu       sync.Mutex
	memstore map[uuid.UUID]*session.Session
	stats    tally.Scope
}

// New returns a repository to a key-value session data store.
func New(p Params) Repository {
	return &repository{
		memstore: make(map[uuid.UUID]*session.Session),
		stats:    p.Scope,
	}
}

// Get returns the session associated with the given id.
func (r *repository) Get(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.memstore[id]
	if !ok {
		return nil, &errors.UUIDNotFoundError{UUID: id}
	}
	return s, nil
}

// Set stores the session under its uuid.
func (r *repository) Set(ctx context.Context, s *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s == nil {
		return errors.New("can't save nil session")
	}
	r.memstore[s.UUID()] = s
	r.stats.Gauge("active_sessions").Update(float64(len(r.memstore)))
	return nil
}

// Delete removes the session associated with the given id.
func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.memstore, id)
	r.stats.Gauge("active_sessions").Update(float64(len(r.memstore)))
	return nil
}

// SessionCount returns the total count of stored sessions.
func (r *repository) SessionCount(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.memstore), nil
}

// GetAll returns every stored session.
func (r *repository) GetAll(ctx context.Context) ([]*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	found := make([]*session.Session, 0, len(r.memstore))
	for _, s := range r.memstore {
		found = append(found, s)
	}
	return found, nil
}

// GetAllFromRepositoryRoot returns all sessions rooted at repoRoot.
func (r *repository) GetAllFromRepositoryRoot(ctx context.Context, repoRoot string) ([]*session.Session, error) {
	found := make([]*session.Session, 0)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.memstore {
		if s.Info().RepositoryRoot == repoRoot {
			found = append(found, s)
		}
	}
	return found, nil
}
