// Package redis provides a Redis-backed implementation of the storage
// interface, usable when gateway instances share session-scoped data across
// processes.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ggoodman/mcp-session-gateway/storage"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Config contains configuration options for the Redis storage. Defaults can
// be loaded from the environment via envdecode.
type Config struct {
	// Addr like "localhost:6379". ENV: REDIS_ADDR
	Addr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all stored keys. ENV: STORAGE_KEY_PREFIX
	KeyPrefix string `env:"STORAGE_KEY_PREFIX,default=mcp:storage:"`

	// Client overrides Addr when supplied.
	Client *redis.Client
}

// Storage implements storage.Storage on Redis.
type Storage struct {
	client    *redis.Client
	keyPrefix string
}

// storedItem is the JSON structure stored under each Redis key.
type storedItem struct {
	Data      []byte     `json:"data"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// New creates a Redis-backed storage instance.
func New(ctx context.Context, cfg Config) (*Storage, error) {
	cl := cfg.Client
	if cl == nil {
		addr := cfg.Addr
		if addr == "" {
			addr = "localhost:6379"
		}
		cl = redis.NewClient(&redis.Options{Addr: addr})
		if err := cl.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "mcp:storage:"
	}
	return &Storage{client: cl, keyPrefix: prefix}, nil
}

// NewFromEnv builds a Storage using envdecode to populate Config.
func NewFromEnv(ctx context.Context) (*Storage, error) {
	var cfg Config
	// Defaults are provided via struct tags.
	_ = envdecode.Decode(&cfg)
	return New(ctx, cfg)
}

func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.Item, error) {
	var options storage.Options
	options.Apply(opts)

	redisKey := s.buildKey(options.Namespace, key)

	res := s.client.Get(ctx, redisKey)
	if res.Err() != nil {
		if res.Err() == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get key %s: %w", redisKey, res.Err())
	}

	var item storedItem
	if err := json.Unmarshal([]byte(res.Val()), &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored data: %w", err)
	}

	out := &storage.Item{Data: item.Data, CreatedAt: item.CreatedAt, ExpiresAt: item.ExpiresAt}
	if out.IsExpired() {
		s.client.Del(ctx, redisKey)
		return nil, nil
	}
	return out, nil
}

func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	var options storage.Options
	options.Apply(opts)

	redisKey := s.buildKey(options.Namespace, key)

	now := time.Now()
	item := storedItem{Data: data, CreatedAt: now}

	var redisTTL time.Duration
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
		redisTTL = *options.TTL
	}

	b, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal storage item: %w", err)
	}

	if err := s.client.Set(ctx, redisKey, b, redisTTL).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", redisKey, err)
	}
	return nil
}

func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	var options storage.Options
	options.Apply(opts)

	if options.Key != nil {
		redisKey := s.buildKey(options.Namespace, *options.Key)
		if err := s.client.Del(ctx, redisKey).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", redisKey, err)
		}
		return nil
	}

	pattern := s.buildKey(options.Namespace, "*")
	keys, err := s.scanKeys(ctx, pattern)
	if err != nil {
		return fmt.Errorf("failed to scan keys for pattern %s: %w", pattern, err)
	}
	if len(keys) > 0 {
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to delete keys: %w", err)
		}
	}
	return nil
}

func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) buildKey(ns storage.Namespace, key string) string {
	switch n := ns.(type) {
	case storage.UserNamespace:
		return s.keyPrefix + "user:" + n.UserID + ":" + key
	case storage.SessionNamespace:
		return s.keyPrefix + "session:" + n.SessionID + ":" + key
	default:
		return s.keyPrefix + "global:" + key
	}
}

// scanKeys walks the keyspace with SCAN to avoid blocking Redis with KEYS.
func (s *Storage) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64

	for {
		res := s.client.Scan(ctx, cursor, pattern, 100)
		if res.Err() != nil {
			return nil, res.Err()
		}
		batch, next := res.Val()
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

var _ storage.Storage = (*Storage)(nil)
