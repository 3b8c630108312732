package rrl

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket wraps golang.org/x/time/rate.Limiter, translating the
// {bucketSize, refillRate, refillInterval} parameterization of §4.4 into
// rate.Limit + burst, matching the teacher's use of x/time/rate as a
// per-key rate limiter in incubusfree-consul's agent/cache/cache.go.
type TokenBucket struct {
	limiter *rate.Limiter
	enabled bool
}

// NewTokenBucket constructs a TokenBucket. bucketSize == 0 disables
// limiting entirely (Acquire always succeeds immediately), per §4.4.
func NewTokenBucket(bucketSize int, refillRate float64, refillInterval time.Duration) *TokenBucket {
	if bucketSize <= 0 {
		return &TokenBucket{enabled: false}
	}
	perSecond := refillRate / refillInterval.Seconds()
	return &TokenBucket{
		limiter: rate.NewLimiter(rate.Limit(perSecond), bucketSize),
		enabled: true,
	}
}

// Acquire waits for a single token, bounded by ctx. If the bucket is
// disabled, it returns immediately with no wait and no token consumed.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	if !b.enabled {
		return nil
	}
	return b.limiter.Wait(ctx)
}

// TryAcquire reports whether a token is immediately available, consuming it
// if so, without blocking.
func (b *TokenBucket) TryAcquire() bool {
	if !b.enabled {
		return true
	}
	return b.limiter.Allow()
}
