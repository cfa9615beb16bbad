package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestTracker(t *testing.T, ttl time.Duration) (*RedisTracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisTracker(client, ttl), mr
}

func TestRedisTrackerMarkAndCheck(t *testing.T) {
	tracker, _ := newTestTracker(t, 0)
	ctx := context.Background()

	processed, err := tracker.AlreadyProcessed(ctx, "whatsapp", "wamid-1")
	if err != nil || processed {
		t.Fatalf("fresh id should not be processed, got %v err=%v", processed, err)
	}

	ok, err := tracker.MarkProcessed(ctx, "whatsapp", "wamid-1")
	if err != nil || !ok {
		t.Fatalf("first mark should claim the id, got %v err=%v", ok, err)
	}

	ok, err = tracker.MarkProcessed(ctx, "whatsapp", "wamid-1")
	if err != nil || ok {
		t.Fatalf("second mark should report already claimed, got %v err=%v", ok, err)
	}

	processed, err = tracker.AlreadyProcessed(ctx, "whatsapp", "wamid-1")
	if err != nil || !processed {
		t.Fatalf("expected processed after mark, got %v err=%v", processed, err)
	}
}

func TestRedisTrackerTTLExpiry(t *testing.T) {
	tracker, mr := newTestTracker(t, time.Minute)
	ctx := context.Background()

	if _, err := tracker.MarkProcessed(ctx, "whatsapp", "wamid-ttl"); err != nil {
		t.Fatal(err)
	}

	mr.FastForward(2 * time.Minute)

	processed, err := tracker.AlreadyProcessed(ctx, "whatsapp", "wamid-ttl")
	if err != nil || processed {
		t.Fatalf("expected expiry after TTL, got %v err=%v", processed, err)
	}
}

func TestRedisTrackerProviderNamespacing(t *testing.T) {
	tracker, _ := newTestTracker(t, 0)
	ctx := context.Background()

	if _, err := tracker.MarkProcessed(ctx, "whatsapp", "shared-id"); err != nil {
		t.Fatal(err)
	}
	processed, err := tracker.AlreadyProcessed(ctx, "cloudtalk", "shared-id")
	if err != nil || processed {
		t.Fatalf("providers must not share event id namespaces, got %v err=%v", processed, err)
	}
}
