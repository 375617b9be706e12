package sessions

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ggoodman/mcp-session-gateway/transport"
)

// closeGrace bounds how long Close waits for a server task to acknowledge
// cancellation before moving on to transport and scope teardown.
const closeGrace = 5 * time.Second

// Session pairs one client-visible conversation id with one running server
// instance, one transport, and one resource scope. Both transport variants
// share this shape; only the streamable variant carries a supervised task.
type Session struct {
	id    string
	trans transport.Transport
	srv   Server
	scope *Scope
	task  *Task

	closeOnce sync.Once
	closeErr  error
}

func newSession(id string, t transport.Transport, srv Server, scope *Scope, task *Task) *Session {
	return &Session{id: id, trans: t, srv: srv, scope: scope, task: task}
}

func (s *Session) ID() string {
	return s.id
}

// Server returns the session's protocol server instance.
func (s *Session) Server() Server {
	return s.srv
}

// Task returns the supervised run-loop handle, or nil for the SSE variant
// whose run loops are owned by the originating request handler.
func (s *Session) Task() *Task {
	return s.task
}

// Transport returns the session's transport.
func (s *Session) Transport() transport.Transport {
	return s.trans
}

// StreamableTransport returns the transport in its streamable shape.
func (s *Session) StreamableTransport() (*transport.Streamable, bool) {
	t, ok := s.trans.(*transport.Streamable)
	return t, ok
}

// SSETransport returns the transport in its SSE shape.
func (s *Session) SSETransport() (*transport.SSE, bool) {
	t, ok := s.trans.(*transport.SSE)
	return t, ok
}

// Close disposes the session exactly once: cancel and await the server task,
// then close the transport, then release the scope. The fixed order keeps the
// server from racing a half-closed transport and lets the scope outlive
// everything it constructed. Close never leaves a partially torn down session
// behind; every resource teardown is attempted even when an earlier one
// fails.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		var errs []error

		if s.task != nil {
			s.task.Cancel()

			waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeGrace)
			if err := s.task.Wait(waitCtx); err != nil && !errors.Is(err, context.Canceled) {
				errs = append(errs, err)
			}
			cancel()
		}

		if err := s.trans.Close(); err != nil {
			errs = append(errs, err)
		}

		if err := s.scope.Release(context.WithoutCancel(ctx)); err != nil {
			errs = append(errs, err)
		}

		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
