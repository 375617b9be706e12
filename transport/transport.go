// Package transport turns HTTP request/response bodies into per-session
// bidirectional message channels. Two adapters are provided: Streamable,
// where a single endpoint carries POST sends and an optional GET receive
// stream, and SSE, the legacy style pairing one long-lived event stream with
// an out-of-band message submission endpoint.
//
// Both adapters expose the same server-facing surface: Receive blocks for the
// next inbound envelope and Send emits an outbound message. The session
// server's run loop is the only consumer of that surface.
package transport

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/ggoodman/mcp-session-gateway/auth"
	"github.com/ggoodman/mcp-session-gateway/internal/jsonrpc"
)

// ErrTransportClosed is returned by transport operations after Close.
var ErrTransportClosed = errors.New("transport closed")

// ErrDuplicateRequestID is returned when two in-flight POSTs carry the same
// JSON-RPC request ID. This is a protocol violation and is fatal to the
// session.
var ErrDuplicateRequestID = errors.New("duplicate in-flight request id")

// FlushWriter is the write side of a streaming HTTP response.
type FlushWriter interface {
	io.Writer
	http.Flusher
}

// Envelope pairs a parsed inbound message with the request context that
// carried it: the authenticated caller identity, if any.
type Envelope struct {
	Msg  *jsonrpc.AnyMessage
	User auth.UserInfo
}

// Transport is the server-facing message channel for one session.
type Transport interface {
	// SessionID returns the session this transport is bound to.
	SessionID() string

	// Receive blocks until the next inbound envelope arrives, the context is
	// canceled, or the transport closes (ErrTransportClosed).
	Receive(ctx context.Context) (*Envelope, error)

	// Send emits an outbound message toward the client.
	Send(ctx context.Context, msg jsonrpc.Message) error

	// Close tears the channel down. Idempotent.
	Close() error
}
