package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/ggoodman/mcp-session-gateway/internal/jsonrpc"
)

const (
	inboundQueueDepth  = 16
	outboundQueueDepth = 32
)

// Streamable correlates one inbound JSON-RPC message per POST with zero or
// one synchronous responses. Request-shaped messages park the POST until the
// server produces the matching response; everything else is acknowledged
// asynchronously. Server output with no waiting POST flows to the session's
// GET stream.
type Streamable struct {
	sessionID string

	inbound chan *Envelope
	stream  chan jsonrpc.Message

	mu      sync.Mutex
	pending map[string]chan jsonrpc.Message

	closed    chan struct{}
	closeOnce sync.Once
}

// NewStreamable constructs a streamable transport bound to a session id.
func NewStreamable(sessionID string) *Streamable {
	return &Streamable{
		sessionID: sessionID,
		inbound:   make(chan *Envelope, inboundQueueDepth),
		stream:    make(chan jsonrpc.Message, outboundQueueDepth),
		pending:   make(map[string]chan jsonrpc.Message),
		closed:    make(chan struct{}),
	}
}

func (t *Streamable) SessionID() string {
	return t.sessionID
}

// HandlePost delivers one inbound envelope to the session server. For
// request-shaped messages it waits for the correlated response and writes it
// to w, returning true; notifications and client responses return false and
// the caller acknowledges with 202. Any returned error is fatal to the
// session.
func (t *Streamable) HandlePost(ctx context.Context, env *Envelope, w io.Writer) (bool, error) {
	req := env.Msg.AsRequest()
	if req == nil || req.ID.IsNil() {
		if err := t.deliver(ctx, env); err != nil {
			return false, err
		}
		return false, nil
	}

	id := req.ID.String()
	waiter := make(chan jsonrpc.Message, 1)

	t.mu.Lock()
	if _, exists := t.pending[id]; exists {
		t.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrDuplicateRequestID, id)
	}
	t.pending[id] = waiter
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	if err := t.deliver(ctx, env); err != nil {
		return false, err
	}

	select {
	case msg := <-waiter:
		if _, err := w.Write(msg); err != nil {
			return false, fmt.Errorf("failed to write response body: %w", err)
		}
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	case <-t.closed:
		return false, ErrTransportClosed
	}
}

// HandleGet relays uncorrelated server output onto a long-lived event stream
// until the context is canceled or the transport closes. Cancellation is the
// normal termination path and returns nil.
func (t *Streamable) HandleGet(ctx context.Context, w FlushWriter) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.closed:
			return nil
		case msg := <-t.stream:
			if err := writeSSEEvent(w, "", msg); err != nil {
				return err
			}
		}
	}
}

func (t *Streamable) deliver(ctx context.Context, env *Envelope) error {
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

func (t *Streamable) Receive(ctx context.Context) (*Envelope, error) {
	select {
	case env := <-t.inbound:
		return env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.closed:
		return nil, ErrTransportClosed
	}
}

// Send routes an outbound message: responses with a waiting POST are handed
// to that request's waiter; everything else goes to the GET stream.
func (t *Streamable) Send(ctx context.Context, msg jsonrpc.Message) error {
	var probe struct {
		Method string             `json:"method"`
		ID     *jsonrpc.RequestID `json:"id"`
	}
	// A malformed outbound message still flows to the stream; the probe only
	// steers correlation.
	_ = json.Unmarshal(msg, &probe)

	if probe.Method == "" && !probe.ID.IsNil() {
		t.mu.Lock()
		waiter, ok := t.pending[probe.ID.String()]
		t.mu.Unlock()
		if ok {
			waiter <- msg
			return nil
		}
	}

	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}

	select {
	case t.stream <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.closed:
		return ErrTransportClosed
	}
}

func (t *Streamable) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

var _ Transport = (*Streamable)(nil)
