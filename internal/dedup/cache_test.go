package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailbox-monitor/internal/domain"
)

func TestMemoryCache_SeenAfterMark(t *testing.T) {
	cache := NewMemoryCache(10 * time.Minute)
	ctx := context.Background()
	key := domain.DedupKey("ap@example.com", "msg-1")

	seen, err := cache.Seen(ctx, key)
	if err != nil {
		t.Fatalf("Seen() error: %v", err)
	}
	if seen {
		t.Error("key should not be seen before Mark")
	}

	if err := cache.Mark(ctx, key); err != nil {
		t.Fatalf("Mark() error: %v", err)
	}

	seen, _ = cache.Seen(ctx, key)
	if !seen {
		t.Error("key should be seen after Mark")
	}

	// A different mailbox with the same message ID is a different key
	seen, _ = cache.Seen(ctx, domain.DedupKey("other@example.com", "msg-1"))
	if seen {
		t.Error("different mailbox must not collide")
	}
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	cache := NewMemoryCache(10 * time.Minute)
	ctx := context.Background()

	current := time.Now()
	cache.SetClock(func() time.Time { return current })

	cache.Mark(ctx, "k1")

	// Just inside the window
	current = current.Add(9 * time.Minute)
	if seen, _ := cache.Seen(ctx, "k1"); !seen {
		t.Error("entry should survive inside the TTL window")
	}

	// Past the window
	current = current.Add(2 * time.Minute)
	if seen, _ := cache.Seen(ctx, "k1"); seen {
		t.Error("entry should expire after the TTL window")
	}
}

func TestMemoryCache_Sweep(t *testing.T) {
	cache := NewMemoryCache(10 * time.Minute)
	ctx := context.Background()

	current := time.Now()
	cache.SetClock(func() time.Time { return current })

	cache.Mark(ctx, "old-1")
	cache.Mark(ctx, "old-2")

	current = current.Add(11 * time.Minute)
	cache.Mark(ctx, "fresh")

	removed := cache.Sweep()
	if removed != 2 {
		t.Errorf("Sweep() removed %d entries, want 2", removed)
	}
	if cache.Len() != 1 {
		t.Errorf("Len() = %d after sweep, want 1", cache.Len())
	}

	// Sweeping again is a no-op
	if removed := cache.Sweep(); removed != 0 {
		t.Errorf("second Sweep() removed %d entries, want 0", removed)
	}
}

func TestRedisCache_SeenAfterMark(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cache := NewRedisCache(client, 10*time.Minute)
	ctx := context.Background()
	key := domain.DedupKey("ap@example.com", "msg-1")

	if seen, _ := cache.Seen(ctx, key); seen {
		t.Error("key should not be seen before Mark")
	}
	if err := cache.Mark(ctx, key); err != nil {
		t.Fatalf("Mark() error: %v", err)
	}
	if seen, _ := cache.Seen(ctx, key); !seen {
		t.Error("key should be seen after Mark")
	}

	// Advance miniredis past the TTL
	mr.FastForward(11 * time.Minute)
	if seen, _ := cache.Seen(ctx, key); seen {
		t.Error("key should expire after the TTL")
	}
}

func TestNew_BackendSelection(t *testing.T) {
	if _, ok := New(nil, time.Minute).(*MemoryCache); !ok {
		t.Error("New(nil) should return the in-process cache")
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	if _, ok := New(client, time.Minute).(*RedisCache); !ok {
		t.Error("New(client) should return the Redis cache")
	}
}

func TestMemoryCache_RunStopsOnCancel(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		cache.Run(ctx, time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep loop did not stop after cancellation")
	}
}
