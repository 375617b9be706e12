package sessions

import (
	"context"
	"errors"
	"strings"

	"github.com/ggoodman/mcp-session-gateway/transport"
	"github.com/google/uuid"
)

// ErrSessionUnavailable indicates a session could not be created and no
// usable session exists for the requested id. Callers map this to an
// internal server error.
var ErrSessionUnavailable = errors.New("session could not be created")

// Server is a running protocol-handling instance bound 1:1 to a transport.
// Run consumes inbound envelopes and emits outbound messages until the
// context is canceled or the transport closes; a non-nil return is a fault.
type Server interface {
	Run(ctx context.Context) error
}

// ServerFactory constructs a server instance for a new session. The factory
// must not start the run loop; the supervisor owns scheduling.
type ServerFactory func(ctx context.Context, t transport.Transport, scope *Scope) (Server, error)

// NewID generates an opaque random session token.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
