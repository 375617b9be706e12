package transport

import (
	"context"
	"sync"

	"github.com/ggoodman/mcp-session-gateway/internal/jsonrpc"
)

// SSE is the legacy transport: a long-lived event stream for outbound
// messages plus injection of inbound messages POSTed to a separate message
// endpoint. The first frame on the stream is an "endpoint" event advertising
// that submission URL.
type SSE struct {
	sessionID       string
	messageEndpoint string
	w               FlushWriter

	inbound  chan *Envelope
	outbound chan jsonrpc.Message

	closed    chan struct{}
	closeOnce sync.Once
}

// NewSSE constructs an SSE transport writing to w. messageEndpoint is the
// URL (with the session id already embedded) clients must POST messages to.
func NewSSE(w FlushWriter, messageEndpoint string, sessionID string) *SSE {
	return &SSE{
		sessionID:       sessionID,
		messageEndpoint: messageEndpoint,
		w:               w,
		inbound:         make(chan *Envelope, inboundQueueDepth),
		outbound:        make(chan jsonrpc.Message, outboundQueueDepth),
		closed:          make(chan struct{}),
	}
}

func (t *SSE) SessionID() string {
	return t.sessionID
}

// MessageEndpoint returns the submission URL advertised to the client.
func (t *SSE) MessageEndpoint() string {
	return t.messageEndpoint
}

// Run is the write-side loop: it advertises the message endpoint, then
// drains outbound messages onto the stream until the context is canceled,
// the transport closes, or a write fails.
func (t *SSE) Run(ctx context.Context) error {
	if err := writeSSEEvent(t.w, "endpoint", []byte(t.messageEndpoint)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.closed:
			return nil
		case msg := <-t.outbound:
			if err := writeSSEEvent(t.w, "message", msg); err != nil {
				return err
			}
		}
	}
}

// OnMessageReceived injects an out-of-band inbound message into the session
// server's queue.
func (t *SSE) OnMessageReceived(ctx context.Context, env *Envelope) error {
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}

	select {
	case t.inbound <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.closed:
		return ErrTransportClosed
	}
}

func (t *SSE) Receive(ctx context.Context) (*Envelope, error) {
	select {
	case env := <-t.inbound:
		return env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.closed:
		return nil, ErrTransportClosed
	}
}

func (t *SSE) Send(ctx context.Context, msg jsonrpc.Message) error {
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}

	select {
	case t.outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.closed:
		return ErrTransportClosed
	}
}

func (t *SSE) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

var _ Transport = (*SSE)(nil)
