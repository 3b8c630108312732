package rrl

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-wbrb-rrl/internal/logx"
)

// Config carries every tunable named in the RRL component design. Like
// wbrb.Config, a *Config is never defaulted implicitly: callers set every
// field that matters for correctness.
type Config struct {
	// ServiceName identifies this dispatcher in logs and metrics.
	ServiceName string

	// MaxAttempts bounds how many times a single request may be dispatched,
	// including the first attempt.
	MaxAttempts int
	// DelaysAfterFailure is indexed by attempt-1 (clamped to the last
	// element once attempt exceeds its length), per §4.3 step 6.
	DelaysAfterFailure []time.Duration

	// MaxPendingRequests bounds the Main Queue; Submit beyond this fails
	// with ErrQueueFull.
	MaxPendingRequests int

	// RequestEarlyProcessingGracePeriod is accepted and carried on the
	// Config, but the service does not read it: a delayed request is
	// released no earlier than its scheduled release time.
	RequestEarlyProcessingGracePeriod time.Duration

	// DelayQueues are the scheduling-wheel's fixed dwell times, ascending.
	DelayQueues []time.Duration
	// DelayQueueTooLongGracePeriod is the slack allowed when picking the
	// smallest delay queue whose dwell covers a requested delay.
	DelayQueueTooLongGracePeriod time.Duration

	// RateLimiterBucketSize / RateLimiterRefillRate / RateLimiterRefillInterval
	// parameterize the token bucket. BucketSize == 0 disables limiting.
	RateLimiterBucketSize     int
	RateLimiterRefillRate     float64
	RateLimiterRefillInterval time.Duration

	// RequestProcessingThreadPoolConfig is the [min,max] worker count; only
	// max is used to size the fixed worker pool (min is accepted for
	// config-surface parity with wbrb's pool sizing but does not shrink the
	// pool at runtime, since workers here are stateless and idle-blocking).
	RequestProcessingThreadPoolConfig [2]int

	// MaxSleepTime bounds every internal blocking wait segment.
	MaxSleepTime time.Duration

	Logger            logx.Logger
	LogThrottleWindow time.Duration

	StatusMaxAgeMs int64

	// Clock is a test seam, matching wbrb.Config.Clock.
	Clock func() time.Time
}

func (c *Config) logger() logx.Logger {
	if c == nil || c.Logger == nil {
		return logx.Discard{}
	}
	return c.Logger
}

func (c *Config) now() time.Time {
	if c != nil && c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}

// delayFor returns the configured delay for the given 1-based attempt
// number, clamping to the last configured value once attempts exceed the
// list length (§9's open question: this clamp is per-request, evaluated
// fresh against whatever DelaysAfterFailure is current at retry time, since
// Config is immutable for the lifetime of a Service — a control-state
// change mid-flight cannot affect it).
func (c *Config) delayFor(attempt int) time.Duration {
	if len(c.DelaysAfterFailure) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx >= len(c.DelaysAfterFailure) {
		idx = len(c.DelaysAfterFailure) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return c.DelaysAfterFailure[idx]
}

// Validate checks field-level invariants the rest of the service depends on.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf(`%w: nil config`, ErrConfigurationInvalid)
	}
	if c.ServiceName == `` {
		return fmt.Errorf(`%w: ServiceName must be set`, ErrConfigurationInvalid)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf(`%w: MaxAttempts must be positive`, ErrConfigurationInvalid)
	}
	if len(c.DelaysAfterFailure) == 0 {
		return fmt.Errorf(`%w: DelaysAfterFailure must have at least one value`, ErrConfigurationInvalid)
	}
	if c.MaxPendingRequests <= 0 {
		return fmt.Errorf(`%w: MaxPendingRequests must be positive`, ErrConfigurationInvalid)
	}
	for i := 1; i < len(c.DelayQueues); i++ {
		if c.DelayQueues[i] <= c.DelayQueues[i-1] {
			return fmt.Errorf(`%w: DelayQueues must be strictly ascending`, ErrConfigurationInvalid)
		}
	}
	if c.RateLimiterBucketSize < 0 {
		return fmt.Errorf(`%w: RateLimiterBucketSize must be >= 0`, ErrConfigurationInvalid)
	}
	if c.RateLimiterBucketSize > 0 && c.RateLimiterRefillRate <= 0 {
		return fmt.Errorf(`%w: RateLimiterRefillRate must be positive when RateLimiterBucketSize > 0`, ErrConfigurationInvalid)
	}
	if c.RateLimiterBucketSize > 0 && c.RateLimiterRefillInterval <= 0 {
		return fmt.Errorf(`%w: RateLimiterRefillInterval must be positive when RateLimiterBucketSize > 0`, ErrConfigurationInvalid)
	}
	min, max := c.RequestProcessingThreadPoolConfig[0], c.RequestProcessingThreadPoolConfig[1]
	if min < 0 || max <= 0 || max < min {
		return fmt.Errorf(`%w: RequestProcessingThreadPoolConfig must satisfy 0 <= min <= max, max > 0`, ErrConfigurationInvalid)
	}
	if c.MaxSleepTime <= 0 {
		return fmt.Errorf(`%w: MaxSleepTime must be positive`, ErrConfigurationInvalid)
	}
	return nil
}
