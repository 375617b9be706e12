// Package storage provides session-scoped key-value storage for the HTTP
// session gateway. Server instances reach it through their session's resource
// scope; the scope deletes the session namespace when the session is torn
// down, so nothing stored through a session outlives it.
package storage

import (
	"context"
	"time"
)

// Storage is the key-value contract implemented by the memory and redis
// backends. A nil Item return (without error) means the key is absent or
// expired.
type Storage interface {
	// Get retrieves data for a key within the namespace selected via options.
	Get(ctx context.Context, key string, opts ...Option) (*Item, error)

	// Set stores data for a key within the namespace selected via options.
	Set(ctx context.Context, key string, data []byte, opts ...Option) error

	// Delete removes data within the selected namespace. Without WithKey, the
	// entire namespace is removed.
	Delete(ctx context.Context, opts ...Option) error

	// Close releases backend resources.
	Close() error
}

// Item is a stored piece of data with metadata.
type Item struct {
	Data      []byte
	CreatedAt time.Time
	ExpiresAt *time.Time // nil = no expiration
}

// IsExpired reports whether the item has expired.
func (it *Item) IsExpired() bool {
	return it.ExpiresAt != nil && time.Now().After(*it.ExpiresAt)
}

// Option configures storage operations.
type Option func(*Options)

// Options contains configuration for storage operations.
type Options struct {
	Namespace Namespace // nil = global namespace
	Key       *string
	TTL       *time.Duration
}

// Apply folds a list of options into an Options value.
func (o *Options) Apply(opts []Option) {
	for _, opt := range opts {
		opt(o)
	}
}

// Namespace scopes keys to a session or user. If nil, storage operates in the
// global namespace.
type Namespace interface {
	namespace()
}

// UserNamespace scopes keys to one user across sessions.
type UserNamespace struct {
	UserID string
}

func (UserNamespace) namespace() {}

// SessionNamespace scopes keys to one session. This is the namespace bound to
// a session's resource scope.
type SessionNamespace struct {
	SessionID string
}

func (SessionNamespace) namespace() {}

// WithUser selects a user-level namespace.
func WithUser(userID string) Option {
	return func(opts *Options) {
		opts.Namespace = UserNamespace{UserID: userID}
	}
}

// WithSession selects a session-level namespace.
func WithSession(sessionID string) Option {
	return func(opts *Options) {
		opts.Namespace = SessionNamespace{SessionID: sessionID}
	}
}

// WithNamespace selects an already-constructed namespace.
func WithNamespace(ns Namespace) Option {
	return func(opts *Options) {
		opts.Namespace = ns
	}
}

// WithKey selects a specific key for Delete operations. Without it, Delete
// removes the entire namespace.
func WithKey(key string) Option {
	return func(opts *Options) {
		opts.Key = &key
	}
}

// WithTTL sets a time-to-live for the stored data.
func WithTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		opts.TTL = &ttl
	}
}
