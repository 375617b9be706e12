package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/mcp-session-gateway/auth"
	"github.com/ggoodman/mcp-session-gateway/internal/jsonrpc"
	"github.com/ggoodman/mcp-session-gateway/internal/logctx"
	"github.com/ggoodman/mcp-session-gateway/sessions"
	"github.com/ggoodman/mcp-session-gateway/storage"
	"github.com/ggoodman/mcp-session-gateway/transport"
	"github.com/google/uuid"
)

var (
	_ http.Handler = (*Handler)(nil)
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	// Canonical header names; Go matches request headers case-insensitively,
	// which covers the "mcp-session-id" / "Mcp-Session-Id" spellings clients
	// send.
	mcpSessionIDHeader    = "Mcp-Session-Id"
	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "WWW-Authenticate"

	variantStreamable = "streamable"
	variantSSE        = "sse"
)

// writeJSONError emits a minimal JSON body for HTTP-layer rejections before a
// JSON-RPC exchange is possible. This is transport-level, not JSON-RPC
// framing. Shape: {"error":{"code":<httpStatus>,"message":"<reason>"}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	if ct := w.Header().Get("Content-Type"); ct == "" || ct == jsonMediaType.String() {
		w.Header().Set("Content-Type", jsonMediaType.String())
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// lockedWriteFlusher serializes concurrent writes/flushes to a response body
// and refuses to write after ctx is canceled.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	// Re-check after acquiring the lock to minimize races with cancellation
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}

// Option configures the Handler.
type Option func(*newConfig)

type newConfig struct {
	logger *slog.Logger
	authn  auth.Authenticator
	store  storage.Storage
}

// WithLogger sets the slog logger used by the handler. Defaults to
// slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(c *newConfig) { c.logger = log }
}

// WithAuthenticator enables bearer-token authentication. The resulting
// identity rides on every message relayed into a session. Without an
// authenticator, messages carry no identity.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(c *newConfig) { c.authn = a }
}

// WithSessionStorage binds session-namespaced storage into each session's
// resource scope. The namespace is deleted when the scope is released.
func WithSessionStorage(store storage.Storage) Option {
	return func(c *newConfig) { c.store = store }
}

// Handler is the HTTP surface of the session gateway. One instance serves
// both transport variants:
//
//	POST   {path}          send a message (creates/joins a streamable session)
//	GET    {path}          open the streamable receive stream
//	DELETE {path}          terminate a streamable session
//	GET    {path}/sse      open a legacy SSE session
//	POST   {path}/message  submit a message to a legacy SSE session
type Handler struct {
	mux  *http.ServeMux
	log  *slog.Logger
	path string

	authn auth.Authenticator

	streamable *sessions.Supervisor
	sse        *sessions.Supervisor

	metrics *metrics
}

// New constructs a Handler serving the gateway at path (for example "/mcp").
// factory constructs the per-session protocol server; it is shared by both
// transport variants.
func New(path string, factory sessions.ServerFactory, opts ...Option) (*Handler, error) {
	if factory == nil {
		return nil, fmt.Errorf("server factory is required")
	}
	if path == "" || !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("invalid endpoint path %q", path)
	}
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		return nil, fmt.Errorf("endpoint path must not be the root")
	}

	cfg := &newConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}

	h := &Handler{
		log:     slog.New(logctx.Handler{Handler: cfg.logger.Handler()}),
		path:    path,
		authn:   cfg.authn,
		metrics: newMetrics(),
	}

	scopeOpts := []sessions.SupervisorOption{sessions.WithLogger(h.log)}
	if cfg.store != nil {
		scopeOpts = append(scopeOpts, sessions.WithScopeFactory(storageScopeFactory(cfg.store)))
	}

	h.streamable = sessions.NewSupervisor(sessions.NewRegistry(), factory, scopeOpts...)
	h.sse = sessions.NewSupervisor(sessions.NewRegistry(), factory, scopeOpts...)

	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("POST %s", path), h.handlePost)
	mux.HandleFunc(fmt.Sprintf("GET %s", path), h.handleGet)
	mux.HandleFunc(fmt.Sprintf("DELETE %s", path), h.handleDelete)
	mux.HandleFunc(fmt.Sprintf("GET %s/sse", path), h.handleSSE)
	mux.HandleFunc(fmt.Sprintf("POST %s/message", path), h.handleMessage)
	h.mux = mux

	return h, nil
}

// storageScopeFactory binds a session namespace into each new scope and
// registers its deletion as a scope closer.
func storageScopeFactory(store storage.Storage) sessions.ScopeFactory {
	return func(ctx context.Context, sessionID string) (*sessions.Scope, error) {
		scope := sessions.NewScope()
		ns := storage.SessionNamespace{SessionID: sessionID}
		scope.BindStorage(store, ns)
		scope.OnRelease(func(ctx context.Context) error {
			return store.Delete(ctx, storage.WithNamespace(ns))
		})
		return scope, nil
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// sessionIDFromRequest extracts the session id using a fixed precedence that
// clients depend on: the mcp-session-id header (any casing), then the
// sessionId query parameter, then session_id.
func sessionIDFromRequest(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(mcpSessionIDHeader)); v != "" {
		return v
	}
	q := r.URL.Query()
	if v := strings.TrimSpace(q.Get("sessionId")); v != "" {
		return v
	}
	return strings.TrimSpace(q.Get("session_id"))
}

// checkAuthentication resolves the caller's identity. With no authenticator
// configured every request is anonymous. The boolean result reports whether
// handling may continue; on false a response has been written.
func (h *Handler) checkAuthentication(ctx context.Context, r *http.Request, w http.ResponseWriter) (auth.UserInfo, bool) {
	if h.authn == nil {
		return nil, true
	}

	const bearerPrefix = "Bearer "
	header := r.Header.Get(authorizationHeader)
	if header == "" {
		h.log.InfoContext(ctx, "auth.check.missing")
		w.Header().Set(wwwAuthenticateHeader, "Bearer")
		w.WriteHeader(http.StatusUnauthorized)
		return nil, false
	}
	if !strings.HasPrefix(header, bearerPrefix) || len(header) <= len(bearerPrefix) {
		h.log.InfoContext(ctx, "auth.check.invalid", slog.String("err", "malformed bearer authorization header"))
		w.Header().Set(wwwAuthenticateHeader, `Bearer error="invalid_request"`)
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}

	userInfo, err := h.authn.CheckAuthentication(ctx, strings.TrimSpace(header[len(bearerPrefix):]))
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			h.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
			w.Header().Set(wwwAuthenticateHeader, `Bearer error="invalid_token"`)
			w.WriteHeader(http.StatusUnauthorized)
			return nil, false
		}
		h.log.ErrorContext(ctx, "auth.check.err", slog.String("err", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return nil, false
	}

	return userInfo, true
}

// decodeMessage parses the request body into a JSON-RPC envelope. Malformed
// input is rejected locally and never affects any session.
func decodeMessage(r *http.Request) (*jsonrpc.AnyMessage, error) {
	var msg jsonrpc.AnyMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// destroySession removes id from reg and, when this caller wins the removal,
// disposes the session. Removal losing means another caller already owns
// disposal.
func (h *Handler) destroySession(ctx context.Context, reg *sessions.Registry, id string, variant string) {
	sess, ok := reg.TryRemove(id)
	if !ok {
		return
	}
	if err := sess.Close(ctx); err != nil {
		h.log.WarnContext(ctx, "session.close.fail", slog.String("err", err.Error()))
	}
	h.metrics.sessionClosed(ctx, variant)
	h.log.InfoContext(ctx, "session.destroy", slog.String("transport", variant))
}

// reportTaskFault logs a faulted task's root cause, at most once per task.
func (h *Handler) reportTaskFault(ctx context.Context, task *sessions.Task, name string, sessionID string) {
	if task == nil {
		return
	}
	if cause, ok := task.Fault(); ok {
		h.log.ErrorContext(ctx, "session.task.faulted",
			slog.String("task", name),
			slog.String("session_id", sessionID),
			slog.String("err", cause.Error()),
		)
	}
}

// handlePost handles the streamable endpoint's send path: it creates or
// joins a session, checks the server task's liveness, and relays one message.
func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	defer h.metrics.requestDone(ctx, "post", start)
	h.log.InfoContext(ctx, "http.post.start")

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	userInfo, ok := h.checkAuthentication(ctx, r, w)
	if !ok {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}

	msg, err := decodeMessage(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON-RPC message")
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   msg.Type(),
	})

	sessID := sessionIDFromRequest(r)
	if sessID == "" {
		sessID = sessions.NewID()
	}

	sess, created, err := h.streamable.GetOrCreate(ctx, sessID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to create session")
		h.log.ErrorContext(ctx, "session.create.fail", slog.String("err", err.Error()))
		return
	}
	if created {
		h.metrics.sessionCreated(ctx, variantStreamable)
		h.log.InfoContext(ctx, "session.create", slog.String("session_id", sess.ID()))
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: sess.ID(),
		UserID:    userID(userInfo),
		Transport: variantStreamable,
	})

	// A session whose run loop already ended is unusable; reap it before
	// dispatch rather than relaying into a dead server.
	if task := sess.Task(); task != nil && task.State() != sessions.TaskRunning {
		h.reportTaskFault(ctx, task, "server", sess.ID())
		h.log.WarnContext(ctx, "session.task.ended", slog.String("state", task.State().String()))
		h.destroySession(ctx, h.streamable.Registry(), sess.ID(), variantStreamable)
		writeJSONError(w, http.StatusInternalServerError, "session is gone")
		return
	}

	st, ok := sess.StreamableTransport()
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "session transport mismatch")
		h.log.ErrorContext(ctx, "session.transport.mismatch")
		return
	}

	w.Header().Set(mcpSessionIDHeader, sess.ID())
	w.Header().Set("Content-Type", jsonMediaType.String())

	h.metrics.inboundMessage(ctx, variantStreamable)

	responseWritten, err := st.HandlePost(ctx, &transport.Envelope{Msg: msg, User: userInfo}, w)
	if err != nil {
		// Transport failure during an established session compromises it:
		// remove and dispose so no degraded session stays reachable.
		h.log.ErrorContext(ctx, "post.relay.fail", slog.String("err", sessions.RootCause(err).Error()))
		h.destroySession(ctx, h.streamable.Registry(), sess.ID(), variantStreamable)
		if !responseWritten {
			writeJSONError(w, http.StatusInternalServerError, "session failed")
		}
		return
	}

	if !responseWritten {
		w.WriteHeader(http.StatusAccepted)
	}
	h.log.InfoContext(ctx, "http.post.ok", slog.Duration("dur", time.Since(start)))
}

// handleGet opens the streamable variant's receive stream for an existing
// session.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	defer h.metrics.requestDone(ctx, "get", start)
	h.log.InfoContext(ctx, "http.get.start")

	if acc := r.Header.Get("Accept"); acc != "" {
		if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			h.log.WarnContext(ctx, "accept.unsupported", slog.String("accept", acc))
			return
		}
	}

	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}

	userInfo, ok := h.checkAuthentication(ctx, r, w)
	if !ok {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}

	sessID := sessionIDFromRequest(r)
	if sessID == "" {
		w.WriteHeader(http.StatusBadRequest)
		h.log.WarnContext(ctx, "session.id.missing")
		return
	}

	sess, ok := h.streamable.Registry().TryGet(sessID)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		h.log.InfoContext(ctx, "session.lookup.miss")
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: sess.ID(),
		UserID:    userID(userInfo),
		Transport: variantStreamable,
	})

	st, ok := sess.StreamableTransport()
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "session.transport.mismatch")
		return
	}

	w.Header().Set(mcpSessionIDHeader, sess.ID())
	writeSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}
	wf.Flush()

	h.log.InfoContext(ctx, "sse.stream.start")
	if err := st.HandleGet(ctx, wf); err != nil {
		h.log.ErrorContext(ctx, "sse.stream.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
}

// handleDelete terminates a streamable session. Deleting an unknown session
// is a no-op; the response is 204 either way.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	defer h.metrics.requestDone(ctx, "delete", start)
	h.log.InfoContext(ctx, "http.delete.start")

	if _, ok := h.checkAuthentication(ctx, r, w); !ok {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}

	sessID := sessionIDFromRequest(r)
	if sessID == "" {
		w.WriteHeader(http.StatusBadRequest)
		h.log.WarnContext(ctx, "session.id.missing")
		return
	}

	h.destroySession(ctx, h.streamable.Registry(), sessID, variantStreamable)
	w.WriteHeader(http.StatusNoContent)
	h.log.InfoContext(ctx, "http.delete.ok", slog.Duration("dur", time.Since(start)))
}

// handleSSE opens a legacy SSE session. The handler deliberately blocks for
// the session's entire lifetime: the response body must stay open for the
// stream's duration, and client disconnect is the normal teardown path.
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	defer h.metrics.requestDone(ctx, "sse", start)
	h.log.InfoContext(ctx, "http.sse.start")

	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}

	userInfo, ok := h.checkAuthentication(ctx, r, w)
	if !ok {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}

	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	sess, err := h.sse.CreateSSE(ctx, wf, func(sessionID string) string {
		return fmt.Sprintf("%s/message?sessionId=%s", h.path, url.QueryEscape(sessionID))
	})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to create session")
		h.log.ErrorContext(ctx, "session.create.fail", slog.String("err", err.Error()))
		return
	}
	h.metrics.sessionCreated(ctx, variantSSE)

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: sess.ID(),
		UserID:    userID(userInfo),
		Transport: variantSSE,
	})

	tr, ok := sess.SSETransport()
	if !ok {
		// Unreachable by construction; fail closed rather than stream into
		// the wrong transport shape.
		h.destroySession(ctx, h.sse.Registry(), sess.ID(), variantSSE)
		writeJSONError(w, http.StatusInternalServerError, "session transport mismatch")
		return
	}

	writeSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	transportTask := sessions.Go(ctx, tr.Run)
	serverTask := sessions.Go(ctx, sess.Server().Run)

	h.log.InfoContext(ctx, "sse.session.start")

	// Block until either run loop ends or the client disconnects.
	select {
	case <-transportTask.Done():
	case <-serverTask.Done():
	case <-ctx.Done():
	}

	transportTask.Cancel()
	serverTask.Cancel()

	waitCtx, cancelWait := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	_ = transportTask.Wait(waitCtx)
	_ = serverTask.Wait(waitCtx)
	cancelWait()

	h.reportTaskFault(ctx, transportTask, "transport", sess.ID())
	h.reportTaskFault(ctx, serverTask, "server", sess.ID())

	h.destroySession(ctx, h.sse.Registry(), sess.ID(), variantSSE)
	h.log.InfoContext(ctx, "sse.session.end", slog.Duration("dur", time.Since(start)))
}

// handleMessage injects an out-of-band message into a legacy SSE session.
func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	defer h.metrics.requestDone(ctx, "message", start)
	h.log.InfoContext(ctx, "http.message.start")

	userInfo, ok := h.checkAuthentication(ctx, r, w)
	if !ok {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}

	sessID := sessionIDFromRequest(r)
	if sessID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing session id")
		h.log.WarnContext(ctx, "session.id.missing")
		return
	}

	sess, ok := h.sse.Registry().TryGet(sessID)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "session not found")
		h.log.InfoContext(ctx, "session.lookup.miss")
		return
	}

	msg, err := decodeMessage(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON-RPC message")
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: sess.ID(),
		UserID:    userID(userInfo),
		Transport: variantSSE,
	})

	tr, ok := sess.SSETransport()
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "session transport mismatch")
		h.log.ErrorContext(ctx, "session.transport.mismatch")
		return
	}

	h.metrics.inboundMessage(ctx, variantSSE)

	if err := tr.OnMessageReceived(ctx, &transport.Envelope{Msg: msg, User: userInfo}); err != nil {
		if errors.Is(err, transport.ErrTransportClosed) {
			h.destroySession(ctx, h.sse.Registry(), sess.ID(), variantSSE)
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to deliver message")
		h.log.ErrorContext(ctx, "message.deliver.fail", slog.String("err", err.Error()))
		return
	}

	w.WriteHeader(http.StatusAccepted)
	h.log.InfoContext(ctx, "http.message.ok", slog.Duration("dur", time.Since(start)))
}

func writeSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func userID(u auth.UserInfo) string {
	if u == nil {
		return ""
	}
	return u.UserID()
}
