package sessions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ggoodman/mcp-session-gateway/transport"
)

// Supervisor orchestrates session creation and owns the assembly order:
// scope, then transport, then server, then admission. It never leaves a
// half-built candidate behind; a candidate that loses the admission race or
// fails construction is fully disposed.
type Supervisor struct {
	reg     *Registry
	factory ServerFactory
	scopes  ScopeFactory
	log     *slog.Logger
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithScopeFactory sets the resource scope factory for new sessions. The
// default opens an empty scope.
func WithScopeFactory(f ScopeFactory) SupervisorOption {
	return func(sv *Supervisor) { sv.scopes = f }
}

// WithLogger sets the supervisor's logger.
func WithLogger(log *slog.Logger) SupervisorOption {
	return func(sv *Supervisor) { sv.log = log }
}

func NewSupervisor(reg *Registry, factory ServerFactory, opts ...SupervisorOption) *Supervisor {
	sv := &Supervisor{
		reg:     reg,
		factory: factory,
		scopes: func(ctx context.Context, sessionID string) (*Scope, error) {
			return NewScope(), nil
		},
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(sv)
	}
	return sv
}

// Registry returns the registry this supervisor admits sessions into.
func (sv *Supervisor) Registry() *Registry {
	return sv.reg
}

// GetOrCreate returns the live session for id, creating one when absent. The
// second result reports whether this call created the session. Multiple HTTP
// requests may join one session concurrently; exactly one caller's candidate
// wins admission and every loser is disposed. The server run loop is started
// here, detached from the originating request's cancellation, and supervised
// via the session's Task.
func (sv *Supervisor) GetOrCreate(ctx context.Context, id string) (*Session, bool, error) {
	if sess, ok := sv.reg.TryGet(id); ok {
		return sess, false, nil
	}

	cand, err := sv.build(ctx, transport.NewStreamable(id), id, true)
	if err != nil {
		return nil, false, err
	}

	if sv.reg.TryAdd(cand) {
		return cand, true, nil
	}

	// Another caller won the race. Discard our candidate entirely and join
	// the winner.
	sv.log.InfoContext(ctx, "session.create.race_lost", slog.String("session_id", id))
	if err := cand.Close(ctx); err != nil {
		sv.log.WarnContext(ctx, "session.candidate.close.fail", slog.String("session_id", id), slog.String("err", err.Error()))
	}

	if sess, ok := sv.reg.TryGet(id); ok {
		return sess, false, nil
	}
	return nil, false, fmt.Errorf("%w: %s", ErrSessionUnavailable, id)
}

// CreateSSE builds and admits a session for the legacy SSE transport. The id
// is always server-generated. endpointFor renders the message-submission URL
// advertised to the client for the chosen id. Run loops are not started
// here: the originating request handler owns them and blocks for the
// session's lifetime.
func (sv *Supervisor) CreateSSE(ctx context.Context, w transport.FlushWriter, endpointFor func(sessionID string) string) (*Session, error) {
	id := NewID()

	cand, err := sv.build(ctx, transport.NewSSE(w, endpointFor(id), id), id, false)
	if err != nil {
		return nil, err
	}

	// SSE sessions are not joinable; an id collision on a fresh random token
	// means something is deeply wrong, so there is no retry.
	if !sv.reg.TryAdd(cand) {
		if err := cand.Close(ctx); err != nil {
			sv.log.WarnContext(ctx, "session.candidate.close.fail", slog.String("session_id", id), slog.String("err", err.Error()))
		}
		return nil, fmt.Errorf("%w: %s", ErrSessionUnavailable, id)
	}

	return cand, nil
}

// build assembles a candidate session. On any construction failure the
// partially built pieces are disposed in the session's teardown order.
func (sv *Supervisor) build(ctx context.Context, t transport.Transport, id string, startRunLoop bool) (*Session, error) {
	scope, err := sv.scopes(ctx, id)
	if err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("failed to open session scope: %w", err)
	}

	srv, err := sv.factory(ctx, t, scope)
	if err != nil {
		_ = t.Close()
		_ = scope.Release(ctx)
		return nil, fmt.Errorf("failed to construct session server: %w", err)
	}

	var task *Task
	if startRunLoop {
		// The run loop must outlive the request that triggered creation.
		task = Go(context.WithoutCancel(ctx), srv.Run)
	}

	return newSession(id, t, srv, scope, task), nil
}
