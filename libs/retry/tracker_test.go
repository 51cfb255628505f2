package retry

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryCountsAndResets(t *testing.T) {
	m := NewMemory(time.Minute)
	ctx := context.Background()
	for want := 1; want <= 3; want++ {
		got, _ := m.Incr(ctx, "q:evt")
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}
	_ = m.Reset(ctx, "q:evt")
	if got, _ := m.Incr(ctx, "q:evt"); got != 1 {
		t.Fatalf("expected counter reset, got %d", got)
	}
}

func TestMemoryExpires(t *testing.T) {
	m := NewMemory(time.Minute)
	now := time.Now()
	m.now = func() time.Time { return now }
	_, _ = m.Incr(context.Background(), "k")
	now = now.Add(2 * time.Minute)
	if got, _ := m.Incr(context.Background(), "k"); got != 1 {
		t.Fatalf("expected expired counter to restart, got %d", got)
	}
}

func TestRedisCountsWithTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	tr := NewRedis(rdb, time.Minute, "payment-service")
	ctx := context.Background()
	for want := 1; want <= 2; want++ {
		got, err := tr.Incr(ctx, "order_created_queue:evt-1")
		if err != nil {
			t.Fatalf("incr: %v", err)
		}
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}
	key := "payment-service:order_created_queue:evt-1"
	if ttl := mr.TTL(key); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected ttl set, got %v", ttl)
	}
	mr.FastForward(2 * time.Minute)
	if got, _ := tr.Incr(ctx, "order_created_queue:evt-1"); got != 1 {
		t.Fatalf("expected expired counter to restart, got %d", got)
	}
	if err := tr.Reset(ctx, "order_created_queue:evt-1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if mr.Exists(key) {
		t.Fatalf("expected key deleted")
	}
}
