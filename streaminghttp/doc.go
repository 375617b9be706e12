// Package streaminghttp exposes the gateway's HTTP surface: a streamable
// endpoint (POST/GET/DELETE with per-request session affinity) and the legacy
// SSE pair (long-lived GET stream plus a message submission POST endpoint).
// The handlers are thin orchestration over the sessions and transport
// packages; they resolve session ids, enforce the error taxonomy, and never
// leak fault detail to clients.
package streaminghttp
