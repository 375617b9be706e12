package sessions

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ggoodman/mcp-session-gateway/transport"
)

func newTestSession(id string) *Session {
	return newSession(id, transport.NewStreamable(id), nil, NewScope(), nil)
}

func TestRegistryCaseInsensitiveIdentity(t *testing.T) {
	reg := NewRegistry()

	if !reg.TryAdd(newTestSession("ABCdef123")) {
		t.Fatal("first add must succeed")
	}
	if reg.TryAdd(newTestSession("abcDEF123")) {
		t.Error("add with differently-cased id must fail")
	}

	if _, ok := reg.TryGet("ABCDEF123"); !ok {
		t.Error("lookup must be case-insensitive")
	}

	sess, ok := reg.TryRemove("abcdef123")
	if !ok {
		t.Fatal("remove with differently-cased id must succeed")
	}
	if sess.ID() != "ABCdef123" {
		t.Errorf("session id must keep its original casing, got %q", sess.ID())
	}
	if reg.Len() != 0 {
		t.Errorf("expected empty registry, got %d", reg.Len())
	}

	// The removal winner owns disposal.
	if err := sess.Close(t.Context()); err != nil {
		t.Errorf("Close of removed session failed: %v", err)
	}
}

func TestRegistryTryAddRace(t *testing.T) {
	reg := NewRegistry()

	const contenders = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if reg.TryAdd(newTestSession("same-id")) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("exactly one add must win, got %d", wins.Load())
	}
	if reg.Len() != 1 {
		t.Errorf("expected one registered session, got %d", reg.Len())
	}
}

func TestRegistryTryRemoveIsExclusive(t *testing.T) {
	reg := NewRegistry()
	if !reg.TryAdd(newTestSession("to-remove")) {
		t.Fatal("add failed")
	}

	const contenders = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := reg.TryRemove("to-remove"); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("exactly one removal must win, got %d", wins.Load())
	}
}

func TestRegistryMissingLookups(t *testing.T) {
	reg := NewRegistry()
	if _, ok := reg.TryGet("nope"); ok {
		t.Error("TryGet on unknown id must report false")
	}
	if _, ok := reg.TryRemove("nope"); ok {
		t.Error("TryRemove on unknown id must report false")
	}
}
