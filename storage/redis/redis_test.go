package redis

import (
	"context"
	"testing"
	"time"

	"github.com/ggoodman/mcp-session-gateway/storage"
	"github.com/redis/go-redis/v9"
)

func TestRedisStorage(t *testing.T) {
	// Skip test if Redis is not available
	client := redis.NewClient(&redis.Options{
		Addr: "127.0.0.1:6379",
		DB:   2, // Use separate DB for storage tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	// Clean up test data
	defer client.FlushDB(ctx)

	s, err := New(ctx, Config{
		Client: client,
	})
	if err != nil {
		t.Fatalf("Failed to create Redis storage: %v", err)
	}
	defer s.Close()

	t.Run("SetAndGet", func(t *testing.T) {
		testSetAndGet(t, s)
	})

	t.Run("GetNonExistent", func(t *testing.T) {
		testGetNonExistent(t, s)
	})

	t.Run("TTL", func(t *testing.T) {
		testTTL(t, s)
	})

	t.Run("Namespaces", func(t *testing.T) {
		testNamespaces(t, s)
	})

	t.Run("DeleteKey", func(t *testing.T) {
		testDeleteKey(t, s)
	})

	t.Run("DeleteNamespace", func(t *testing.T) {
		testDeleteNamespace(t, s)
	})
}

func testSetAndGet(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	key := "test-key"
	data := []byte("test data")

	err := s.Set(ctx, key, data)
	if err != nil {
		t.Fatalf("Failed to set data: %v", err)
	}

	item, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Failed to get data: %v", err)
	}

	if item == nil {
		t.Fatal("Expected item to exist, got nil")
	}

	if string(item.Data) != string(data) {
		t.Errorf("Expected data %s, got %s", data, item.Data)
	}

	if item.CreatedAt.IsZero() {
		t.Error("CreatedAt should not be zero")
	}

	if item.ExpiresAt != nil {
		t.Error("ExpiresAt should be nil for data without TTL")
	}
}

func testGetNonExistent(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	item, err := s.Get(ctx, "non-existent-key")
	if err != nil {
		t.Fatalf("Failed to get non-existent key: %v", err)
	}

	if item != nil {
		t.Error("Expected nil for non-existent key, got item")
	}
}

func testTTL(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	key := "ttl-key"
	data := []byte("ttl data")
	ttl := 100 * time.Millisecond

	err := s.Set(ctx, key, data, storage.WithTTL(ttl))
	if err != nil {
		t.Fatalf("Failed to set data with TTL: %v", err)
	}

	item, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Failed to get data: %v", err)
	}

	if item == nil {
		t.Fatal("Expected item to exist, got nil")
	}

	if item.ExpiresAt == nil {
		t.Fatal("ExpiresAt should not be nil for data with TTL")
	}

	// Wait for expiration
	time.Sleep(ttl + 50*time.Millisecond)

	item, err = s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Failed to get expired data: %v", err)
	}

	if item != nil {
		t.Error("Expected nil for expired data, got item")
	}
}

func testNamespaces(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	key := "namespace-key"
	globalData := []byte("global data")
	userData := []byte("user data")
	sessionData := []byte("session data")

	err := s.Set(ctx, key, globalData)
	if err != nil {
		t.Fatalf("Failed to set global data: %v", err)
	}

	err = s.Set(ctx, key, userData, storage.WithUser("user1"))
	if err != nil {
		t.Fatalf("Failed to set user data: %v", err)
	}

	err = s.Set(ctx, key, sessionData, storage.WithSession("session1"))
	if err != nil {
		t.Fatalf("Failed to set session data: %v", err)
	}

	item, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Failed to get global data: %v", err)
	}
	if item == nil || string(item.Data) != string(globalData) {
		t.Errorf("Expected global data %s, got %v", globalData, item)
	}

	item, err = s.Get(ctx, key, storage.WithUser("user1"))
	if err != nil {
		t.Fatalf("Failed to get user data: %v", err)
	}
	if item == nil || string(item.Data) != string(userData) {
		t.Errorf("Expected user data %s, got %v", userData, item)
	}

	item, err = s.Get(ctx, key, storage.WithSession("session1"))
	if err != nil {
		t.Fatalf("Failed to get session data: %v", err)
	}
	if item == nil || string(item.Data) != string(sessionData) {
		t.Errorf("Expected session data %s, got %v", sessionData, item)
	}

	// Data in different namespaces should be isolated
	item, err = s.Get(ctx, key, storage.WithUser("user2"))
	if err != nil {
		t.Fatalf("Failed to get data for different user: %v", err)
	}
	if item != nil {
		t.Error("Expected nil for different user namespace, got item")
	}
}

func testDeleteKey(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	key := "delete-key"

	err := s.Set(ctx, key, []byte("delete data"))
	if err != nil {
		t.Fatalf("Failed to set data: %v", err)
	}

	item, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Failed to get data: %v", err)
	}
	if item == nil {
		t.Fatal("Expected item to exist before deletion")
	}

	err = s.Delete(ctx, storage.WithKey(key))
	if err != nil {
		t.Fatalf("Failed to delete key: %v", err)
	}

	item, err = s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Failed to get data after deletion: %v", err)
	}
	if item != nil {
		t.Error("Expected nil after deletion, got item")
	}
}

func testDeleteNamespace(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	sessionID := "delete-session"

	keys := []string{"key1", "key2", "key3"}
	for _, key := range keys {
		data := []byte("data for " + key)
		err := s.Set(ctx, key, data, storage.WithSession(sessionID))
		if err != nil {
			t.Fatalf("Failed to set data for key %s: %v", key, err)
		}
	}

	for _, key := range keys {
		item, err := s.Get(ctx, key, storage.WithSession(sessionID))
		if err != nil {
			t.Fatalf("Failed to get data for key %s: %v", key, err)
		}
		if item == nil {
			t.Fatalf("Expected item to exist for key %s before deletion", key)
		}
	}

	// Delete the entire session namespace, the way a scope closer does.
	err := s.Delete(ctx, storage.WithSession(sessionID))
	if err != nil {
		t.Fatalf("Failed to delete session namespace: %v", err)
	}

	for _, key := range keys {
		item, err := s.Get(ctx, key, storage.WithSession(sessionID))
		if err != nil {
			t.Fatalf("Failed to get data for key %s after deletion: %v", key, err)
		}
		if item != nil {
			t.Errorf("Expected nil after namespace deletion for key %s, got item", key)
		}
	}
}
