// Package sessions implements the session lifecycle core of the gateway: a
// concurrent registry of live sessions, the resource scope whose lifetime
// equals the session's, supervision of server run loops as background tasks,
// and the supervisor that assembles and tears down sessions for both
// transport variants.
//
// Ownership is strict: a session exclusively owns its transport, server, and
// scope. Disposal order is fixed (server task, then transport, then scope)
// and runs at most once. Registry removal is the exclusive hand-off point for
// disposal: only the caller that wins TryRemove may call Close.
package sessions
