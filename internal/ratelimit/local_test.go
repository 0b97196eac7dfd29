package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLocalLimiterBurstThenRefill(t *testing.T) {
	limiter, err := NewLocalLimiter(2)
	if err != nil {
		t.Fatalf("new local limiter: %v", err)
	}
	clock := time.Date(2024, time.January, 20, 9, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return clock }
	ctx := context.Background()

	if !limiter.Allow(ctx, "ip-1") || !limiter.Allow(ctx, "ip-1") {
		t.Fatal("burst should pass")
	}
	if limiter.Allow(ctx, "ip-1") {
		t.Fatal("bucket should be empty")
	}
	clock = clock.Add(30 * time.Second)
	if !limiter.Allow(ctx, "ip-1") {
		t.Fatal("one token should refill after 30s at 2/min")
	}
}

func TestLocalLimiterSweepDropsIdleBuckets(t *testing.T) {
	limiter, err := NewLocalLimiter(10)
	if err != nil {
		t.Fatalf("new local limiter: %v", err)
	}
	clock := time.Date(2024, time.January, 20, 9, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return clock }
	limiter.Allow(context.Background(), "ip-1")

	clock = clock.Add(time.Minute)
	if n := limiter.Sweep(); n != 0 {
		t.Fatalf("fresh bucket swept: %d", n)
	}
	clock = clock.Add(5 * time.Minute)
	if n := limiter.Sweep(); n != 1 {
		t.Fatalf("expected one idle bucket removed, got %d", n)
	}
}

func TestNewLocalLimiterRejectsNonPositive(t *testing.T) {
	if _, err := NewLocalLimiter(0); err == nil {
		t.Fatal("expected error")
	}
}
