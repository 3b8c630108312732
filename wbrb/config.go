package wbrb

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-wbrb-rrl/internal/logx"
)

// Config carries every tunable named in the WBRB component design. A nil
// *Config is invalid; callers must supply one. No field is defaulted (the
// same holds for rrl.Config, unlike the teacher's BatcherConfig) because
// these knobs materially change correctness-relevant timings and should
// always be explicit for a cache.
type Config struct {
	// CacheName identifies this cache instance in logs and metrics.
	CacheName string

	// MainQueueMaxTargetSize is the target (soft) size of the Main Queue.
	MainQueueMaxTargetSize int
	// MainQueueCacheTime is the target residency of an entry in the Main
	// Queue before its next lifecycle action.
	MainQueueCacheTime time.Duration
	// MainQueueCacheTimeMin is a hard minimum residency, to avoid busy loops.
	MainQueueCacheTimeMin time.Duration

	// ReturnQueueCacheTimeMin is the minimum dwell time in the Return Queue
	// after a write/resync returns, before eviction is considered.
	ReturnQueueCacheTimeMin time.Duration
	// ReturnQueueMaxRequeueCount bounds how many times an entry may be
	// re-queued onto the Return Queue before being forced through eviction.
	ReturnQueueMaxRequeueCount int

	// UntouchedItemCacheExpirationDelay: entries whose LastTouchedAt is
	// older than this are eligible for eviction from the Return Queue.
	UntouchedItemCacheExpirationDelay time.Duration

	// MaxUpdatesToCollect bounds pendingUpdates per entry.
	MaxUpdatesToCollect int
	// CanMergeWrites is accepted and carried on the Config, but the cache
	// does not read it: SplitForWrite always receives every pending update
	// and alone decides how many of them go into one write payload.
	CanMergeWrites bool

	InitialReadFailedFinalAction ReadFailedFinalAction
	ResyncTooLateAction          ResyncTooLateAction
	ResyncFailedFinalAction      ResyncFailedFinalAction

	AllowDataWritingAfterResyncFailedFinal bool
	AllowDataReadingAfterResyncFailedFinal bool

	// ReadThreadPoolSize / WriteThreadPoolSize: [min,max] worker counts.
	// {-1,-1} means no pool: dispatch inline on the queue-processor
	// goroutine (caller must batch).
	ReadThreadPoolSize  [2]int
	WriteThreadPoolSize [2]int

	ReadFailureMaxRetryCount          int
	WriteFailureMaxRetryCount         int
	FullCacheCycleFailureMaxRetryCount int

	MaxCacheElementsHardLimit int

	// MaxSleepTime bounds every internal blocking wait segment, so shutdown
	// and configuration changes are observed promptly.
	MaxSleepTime time.Duration

	// ReadQueueBatchingDelay / WriteQueueBatchingDelay: the window the
	// queue processor accumulates work for, before handing a batch to a
	// worker (or, in the {-1,-1} pool case, processing it inline).
	ReadQueueBatchingDelay  time.Duration
	WriteQueueBatchingDelay time.Duration

	// MainQueueMaxRequestHandoverWaitTime bounds how long the queue
	// processor blocks trying to hand a batch to a saturated worker pool
	// before logging an error and re-queueing.
	MainQueueMaxRequestHandoverWaitTime time.Duration

	// MonitoringFullCacheCyclesThresholds / MonitoringTimeSinceAccessThresholds
	// are 5 ascending bucket boundaries used by the monitoring surface.
	MonitoringFullCacheCyclesThresholds [5]int
	MonitoringTimeSinceAccessThresholds [5]time.Duration

	// Logger receives structured log events. Defaults to logx.Discard{}.
	Logger logx.Logger
	// LogThrottleWindow bounds how often a given message type may be
	// logged; 0 disables throttling.
	LogThrottleWindow time.Duration

	// StatusMaxAgeMs bounds how stale a GetStatus snapshot may be before
	// it is recomputed.
	StatusMaxAgeMs int64

	// Clock is a test seam, matching catrate's timeNow/timeNewTicker
	// package-variable seams, but expressed as an injectable field so
	// multiple Cache instances in the same test binary can run independent
	// fake clocks.
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

// Validate checks field-level invariants the rest of the cache depends on.
// It does not default any field; see the Config doc comment for why.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf(`%w: nil config`, ErrConfigurationInvalid)
	}
	if c.CacheName == `` {
		return fmt.Errorf(`%w: CacheName must be set`, ErrConfigurationInvalid)
	}
	if c.MainQueueCacheTime <= 0 {
		return fmt.Errorf(`%w: MainQueueCacheTime must be positive`, ErrConfigurationInvalid)
	}
	if c.MainQueueCacheTimeMin < 0 || c.MainQueueCacheTimeMin > c.MainQueueCacheTime {
		return fmt.Errorf(`%w: MainQueueCacheTimeMin must be in [0, MainQueueCacheTime]`, ErrConfigurationInvalid)
	}
	if c.ReturnQueueCacheTimeMin < 0 {
		return fmt.Errorf(`%w: ReturnQueueCacheTimeMin must be >= 0`, ErrConfigurationInvalid)
	}
	if c.MaxUpdatesToCollect <= 0 {
		return fmt.Errorf(`%w: MaxUpdatesToCollect must be positive`, ErrConfigurationInvalid)
	}
	if err := validatePoolSize(c.ReadThreadPoolSize); err != nil {
		return fmt.Errorf(`%w: ReadThreadPoolSize: %v`, ErrConfigurationInvalid, err)
	}
	if err := validatePoolSize(c.WriteThreadPoolSize); err != nil {
		return fmt.Errorf(`%w: WriteThreadPoolSize: %v`, ErrConfigurationInvalid, err)
	}
	if c.MaxCacheElementsHardLimit <= 0 {
		return fmt.Errorf(`%w: MaxCacheElementsHardLimit must be positive`, ErrConfigurationInvalid)
	}
	if c.MaxSleepTime <= 0 {
		return fmt.Errorf(`%w: MaxSleepTime must be positive`, ErrConfigurationInvalid)
	}
	for i := 1; i < len(c.MonitoringFullCacheCyclesThresholds); i++ {
		if c.MonitoringFullCacheCyclesThresholds[i] < c.MonitoringFullCacheCyclesThresholds[i-1] {
			return fmt.Errorf(`%w: MonitoringFullCacheCyclesThresholds must be ascending`, ErrConfigurationInvalid)
		}
	}
	for i := 1; i < len(c.MonitoringTimeSinceAccessThresholds); i++ {
		if c.MonitoringTimeSinceAccessThresholds[i] < c.MonitoringTimeSinceAccessThresholds[i-1] {
			return fmt.Errorf(`%w: MonitoringTimeSinceAccessThresholds must be ascending`, ErrConfigurationInvalid)
		}
	}
	return nil
}

func validatePoolSize(size [2]int) error {
	if size[0] == -1 && size[1] == -1 {
		return nil // sentinel: no pool
	}
	if size[0] < 0 || size[1] < size[0] {
		return fmt.Errorf(`min/max must satisfy 0 <= min <= max, or be {-1,-1}`)
	}
	return nil
}
