package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestBucket(t *testing.T, capacity int, window time.Duration) (*RedisTokenBucket, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bucket, err := NewRedisTokenBucket(client, capacity, window, "")
	if err != nil {
		t.Fatalf("new bucket: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	bucket.now = func() time.Time { return now }
	return bucket, &now
}

func TestTokenBucketRejectsWhenEmpty(t *testing.T) {
	bucket, _ := newTestBucket(t, 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := bucket.Allow(ctx, "user-1")
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("expected request %d to be allowed", i)
		}
	}

	d, err := bucket.Allow(ctx, "user-1")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if d.Allowed || d.RetryAfter <= 0 {
		t.Fatalf("expected rejection with retry-after, got %+v", d)
	}

	other, err := bucket.Allow(ctx, "user-2")
	if err != nil || !other.Allowed {
		t.Fatalf("expected independent subject to be allowed, got %+v err=%v", other, err)
	}
}

func TestTokenBucketRefills(t *testing.T) {
	bucket, now := newTestBucket(t, 1, time.Second)
	ctx := context.Background()

	if d, err := bucket.Allow(ctx, "user-1"); err != nil || !d.Allowed {
		t.Fatalf("first request: %+v err=%v", d, err)
	}
	if d, err := bucket.Allow(ctx, "user-1"); err != nil || d.Allowed {
		t.Fatalf("second request should be rejected: %+v err=%v", d, err)
	}

	*now = now.Add(2 * time.Second)
	if d, err := bucket.Allow(ctx, "user-1"); err != nil || !d.Allowed {
		t.Fatalf("expected refill after window: %+v err=%v", d, err)
	}
}

func TestTokenBucketAllowNSpendsCost(t *testing.T) {
	bucket, _ := newTestBucket(t, 5, time.Minute)
	ctx := context.Background()

	d, err := bucket.AllowN(ctx, "user-1", 4)
	if err != nil || !d.Allowed || d.Remaining != 1 {
		t.Fatalf("expected 4 tokens spent, got %+v err=%v", d, err)
	}
	if d, err := bucket.AllowN(ctx, "user-1", 2); err != nil || d.Allowed {
		t.Fatalf("expected rejection for cost above remaining, got %+v err=%v", d, err)
	}
	if d, err := bucket.Allow(ctx, "user-1"); err != nil || !d.Allowed || d.Remaining != 0 {
		t.Fatalf("expected last token to be spent, got %+v err=%v", d, err)
	}
}

func TestTokenBucketCapsCostAtCapacity(t *testing.T) {
	bucket, _ := newTestBucket(t, 3, time.Minute)
	d, err := bucket.AllowN(context.Background(), "user-1", 10)
	if err != nil || !d.Allowed || d.Remaining != 0 {
		t.Fatalf("expected capped cost to drain the bucket, got %+v err=%v", d, err)
	}
}

func TestNewRedisTokenBucketValidates(t *testing.T) {
	if _, err := NewRedisTokenBucket(nil, 1, time.Second, ""); err == nil {
		t.Fatal("expected error for nil client")
	}
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()
	if _, err := NewRedisTokenBucket(client, 0, time.Second, ""); err == nil {
		t.Fatal("expected error for zero capacity")
	}
	if _, err := NewRedisTokenBucket(client, 1, 0, ""); err == nil {
		t.Fatal("expected error for zero window")
	}
}

func TestCostsForDefaultsToOne(t *testing.T) {
	if got := DefaultCosts.For("POST /v1/generate"); got != 5 {
		t.Fatalf("expected generate cost 5, got %d", got)
	}
	if got := DefaultCosts.For("GET /v1/transforms/{volume}/{path}"); got != 1 {
		t.Fatalf("expected transform cost 1, got %d", got)
	}
	if got := (Costs{"POST /v1/transforms": -3}).For("POST /v1/transforms"); got != 1 {
		t.Fatalf("expected non-positive cost to fall back to 1, got %d", got)
	}
}

func TestAllowRouteChargesRoutePrice(t *testing.T) {
	bucket, _ := newTestBucket(t, 5, time.Minute)
	ctx := context.Background()

	d, err := bucket.AllowRoute(ctx, "user-1", "POST /v1/generate")
	if err != nil || !d.Allowed || d.Remaining != 0 || d.Limit != 5 {
		t.Fatalf("expected generate to drain the bucket, got %+v err=%v", d, err)
	}
	if d, err := bucket.AllowRoute(ctx, "user-1", "POST /v1/generate"); err != nil || d.Allowed {
		t.Fatalf("expected second generate to be rejected, got %+v err=%v", d, err)
	}

	d, err = bucket.AllowRoute(ctx, "user-1", "POST /v1/transforms")
	if err != nil || !d.Allowed || d.Remaining != 4 {
		t.Fatalf("expected transforms to use their own bucket, got %+v err=%v", d, err)
	}
}

func TestAllowRouteUsesConfiguredCosts(t *testing.T) {
	bucket, _ := newTestBucket(t, 4, time.Minute)
	bucket.WithCosts(Costs{"POST /v1/transforms": 3})
	ctx := context.Background()

	d, err := bucket.AllowRoute(ctx, "  ", "POST /v1/transforms")
	if err != nil || !d.Allowed || d.Remaining != 1 {
		t.Fatalf("expected configured cost to be spent, got %+v err=%v", d, err)
	}
	if d, err := bucket.AllowRoute(ctx, "anonymous", "POST /v1/transforms"); err != nil || d.Allowed {
		t.Fatalf("expected blank subject to share the anonymous bucket, got %+v err=%v", d, err)
	}
}
