package sessions

import (
	"context"
	"errors"
	"sync"

	"github.com/ggoodman/mcp-session-gateway/storage"
)

// Scope is a lifetime-bounded container for resources constructed for one
// session. Closers run in reverse registration order when the scope is
// released; release happens exactly once, after the session's server and
// transport are gone.
type Scope struct {
	mu       sync.Mutex
	released bool
	closers  []func(context.Context) error

	store storage.Storage
	ns    storage.Namespace
}

// ScopeFactory opens a resource scope for a new session.
type ScopeFactory func(ctx context.Context, sessionID string) (*Scope, error)

func NewScope() *Scope {
	return &Scope{}
}

// OnRelease registers fn to run when the scope is released. If the scope is
// already released, fn runs immediately.
func (s *Scope) OnRelease(fn func(context.Context) error) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		_ = fn(context.Background())
		return
	}
	s.closers = append(s.closers, fn)
	s.mu.Unlock()
}

// BindStorage attaches a storage handle and namespace to the scope for the
// session's server logic to consult.
func (s *Scope) BindStorage(store storage.Storage, ns storage.Namespace) {
	s.mu.Lock()
	s.store = store
	s.ns = ns
	s.mu.Unlock()
}

// Storage returns the scope's storage binding, if any.
func (s *Scope) Storage() (storage.Storage, storage.Namespace, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil, nil, false
	}
	return s.store, s.ns, true
}

// Release runs the scope's closers in reverse order. Only the first call has
// any effect.
func (s *Scope) Release(ctx context.Context) error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
