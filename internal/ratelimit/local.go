package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalLimiter is an in-process token bucket per key, used when no Redis is
// configured. Buckets idle for longer than idleTTL are evicted by Sweep.
type LocalLimiter struct {
	every   rate.Limit
	burst   int
	idleTTL time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewLocalLimiter allows perMinute requests per key per minute with a burst of the same size.
func NewLocalLimiter(perMinute int) (*LocalLimiter, error) {
	if perMinute <= 0 {
		return nil, errors.New("rate limiter requires positive limit")
	}
	return &LocalLimiter{
		every:   rate.Limit(float64(perMinute) / 60),
		burst:   perMinute,
		idleTTL: 3 * time.Minute,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}, nil
}

func (l *LocalLimiter) Allow(_ context.Context, key string) bool {
	key = normalizeKey(key)
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.every, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Sweep drops idle buckets and returns how many were removed.
func (l *LocalLimiter) Sweep() int {
	cutoff := l.now().Add(-l.idleTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Run sweeps once a minute until ctx is done.
func (l *LocalLimiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.Sweep()
		}
	}
}
