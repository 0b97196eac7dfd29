package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestFixedWindowLimiterRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(mr.Addr(), "", "test:ratelimit", 2, time.Minute)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	fixed := time.Date(2024, time.January, 20, 9, 0, 30, 0, time.UTC)
	limiter.now = func() time.Time { return fixed }
	ctx := context.Background()

	if !limiter.Allow(ctx, "staff-1") || !limiter.Allow(ctx, "staff-1") {
		t.Fatal("first two requests should pass")
	}
	if limiter.Allow(ctx, "staff-1") {
		t.Fatal("third request should be blocked")
	}
	if !limiter.Allow(ctx, "staff-2") {
		t.Fatal("other keys keep their own quota")
	}

	limiter.now = func() time.Time { return fixed.Add(time.Minute) }
	if !limiter.Allow(ctx, "staff-1") {
		t.Fatal("next window should reset the quota")
	}
}

func TestFixedWindowLimiterRedisFailClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(mr.Addr(), "", "test:ratelimit", 1, time.Second)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	mr.Close()
	if limiter.Allow(context.Background(), "staff-1") {
		t.Fatal("limiter should fail closed on redis errors")
	}
}

func TestFixedWindowLimiterRequiresRedisAddr(t *testing.T) {
	limiter, err := NewRedisFixedWindowLimiter("", "", "test:ratelimit", 1, time.Second)
	if err == nil || limiter != nil {
		t.Fatal("expected constructor error for empty redis addr")
	}
}
