// Package memory provides an in-memory implementation of the storage
// interface backed by an LRU cache with TTL support. It is suitable for
// single-process gateways and tests.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/mcp-session-gateway/storage"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Storage implements storage.Storage in process memory.
type Storage struct {
	mu    sync.RWMutex
	cache *lru.Cache[string, *storage.Item]

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// New creates an in-memory storage holding at most maxItems entries.
func New(maxItems int) (*Storage, error) {
	cache, err := lru.New[string, *storage.Item](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	s := &Storage{cache: cache, stopCleanup: make(chan struct{})}
	go s.cleanupExpired()
	return s, nil
}

func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.Item, error) {
	var options storage.Options
	options.Apply(opts)

	k := buildKey(options.Namespace, key)

	s.mu.RLock()
	item, exists := s.cache.Get(k)
	s.mu.RUnlock()

	if !exists {
		return nil, nil
	}
	if item.IsExpired() {
		s.mu.Lock()
		s.cache.Remove(k)
		s.mu.Unlock()
		return nil, nil
	}
	return item, nil
}

func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	var options storage.Options
	options.Apply(opts)

	now := time.Now()
	item := &storage.Item{
		Data:      append([]byte(nil), data...),
		CreatedAt: now,
	}
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
	}

	s.mu.Lock()
	s.cache.Add(buildKey(options.Namespace, key), item)
	s.mu.Unlock()
	return nil
}

func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	var options storage.Options
	options.Apply(opts)

	s.mu.Lock()
	defer s.mu.Unlock()

	if options.Key != nil {
		s.cache.Remove(buildKey(options.Namespace, *options.Key))
		return nil
	}

	// LRU has no prefix iteration; scan the key set.
	prefix := buildPrefix(options.Namespace)
	for _, k := range s.cache.Keys() {
		if strings.HasPrefix(k, prefix) {
			s.cache.Remove(k)
		}
	}
	return nil
}

func (s *Storage) Close() error {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
	s.mu.Lock()
	s.cache.Purge()
	s.mu.Unlock()
	return nil
}

func buildKey(ns storage.Namespace, key string) string {
	return buildPrefix(ns) + "key:" + key
}

func buildPrefix(ns storage.Namespace) string {
	switch n := ns.(type) {
	case storage.UserNamespace:
		return fmt.Sprintf("user:%s:", n.UserID)
	case storage.SessionNamespace:
		return fmt.Sprintf("session:%s:", n.SessionID)
	default:
		return "global:"
	}
}

func (s *Storage) cleanupExpired() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
		}

		now := time.Now()
		s.mu.Lock()
		for _, k := range s.cache.Keys() {
			if item, exists := s.cache.Peek(k); exists {
				if item.ExpiresAt != nil && now.After(*item.ExpiresAt) {
					s.cache.Remove(k)
				}
			}
		}
		s.mu.Unlock()
	}
}

var _ storage.Storage = (*Storage)(nil)
