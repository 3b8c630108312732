package wbrb

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/armon/go-metrics"

	"github.com/joeycumines/go-wbrb-rrl/internal/logx"
)

// Status is the cached monitoring snapshot returned by Cache.GetStatus.
type Status struct {
	CapturedAt time.Time

	MainQueueSize   int
	ReturnQueueSize int
	EntryCount      int

	ReadRetries   uint64
	WriteRetries  uint64
	ResyncTooLate uint64

	// FullCacheCyclesHistogram / TimeSinceAccessHistogram are counts in the
	// 6 buckets induced by the 5 ascending thresholds (below[0], [0,1),
	// [1,2), [2,3), [3,4), >=[4]).
	FullCacheCyclesHistogram [6]uint64
	TimeSinceAccessHistogram [6]uint64

	LoggedDebug uint64
	LoggedInfo  uint64
	LoggedWarn  uint64
	LoggedError uint64
}

// monitor owns the counters fed by the rest of the cache, plus the cached
// snapshot gating logic described in §6.4 ("invalidated after maxAgeMs").
type monitor struct {
	cacheName string
	maxAge    time.Duration
	now       func() time.Time

	fullCycleThresholds [5]int
	accessThresholds    [5]time.Duration

	readRetries   atomic.Uint64
	writeRetries  atomic.Uint64
	resyncTooLate atomic.Uint64
	loggedDebug   atomic.Uint64
	loggedInfo    atomic.Uint64
	loggedWarn    atomic.Uint64
	loggedError   atomic.Uint64

	mu            sync.Mutex
	cached        Status
	cachedAt      time.Time
	sizeFn        func() (mainQueue, returnQueue, entries int)
	fullCycleHist [6]atomic.Uint64
	accessHist    [6]atomic.Uint64
}

func newMonitor(cacheName string, maxAgeMs int64, fullCycleThresholds [5]int, accessThresholds [5]time.Duration, now func() time.Time, sizeFn func() (int, int, int)) *monitor {
	return &monitor{
		cacheName:           cacheName,
		maxAge:              time.Duration(maxAgeMs) * time.Millisecond,
		now:                 now,
		fullCycleThresholds: fullCycleThresholds,
		accessThresholds:    accessThresholds,
		sizeFn:              sizeFn,
	}
}

func (m *monitor) incrReadRetry() {
	m.readRetries.Add(1)
	metrics.IncrCounter([]string{`wbrb`, m.cacheName, `read`, `retry`}, 1)
}

func (m *monitor) incrWriteRetry() {
	m.writeRetries.Add(1)
	metrics.IncrCounter([]string{`wbrb`, m.cacheName, `write`, `retry`}, 1)
}

func (m *monitor) incrResyncTooLate() {
	m.resyncTooLate.Add(1)
	metrics.IncrCounter([]string{`wbrb`, m.cacheName, `resync`, `too_late`}, 1)
}

func (m *monitor) observeLog(level logx.LogLevel) {
	switch level {
	case logx.LevelDebug:
		m.loggedDebug.Add(1)
	case logx.LevelWarn:
		m.loggedWarn.Add(1)
	case logx.LevelError:
		m.loggedError.Add(1)
	default:
		m.loggedInfo.Add(1)
	}
}

// observeFullCycle buckets a completed cycle count against
// fullCycleThresholds, for monitoringFullCacheCyclesThresholds.
func (m *monitor) observeFullCycle(count int) {
	idx := bucketIndex(count, m.fullCycleThresholds[:])
	m.fullCycleHist[idx].Add(1)
	metrics.SetGauge([]string{`wbrb`, m.cacheName, `full_cycle`, `bucket`}, float32(idx))
}

// observeAccess buckets a time-since-last-access duration against
// accessThresholds, for monitoringTimeSinceAccessThresholds.
func (m *monitor) observeAccess(d time.Duration) {
	idx := bucketIndexDuration(d, m.accessThresholds[:])
	m.accessHist[idx].Add(1)
}

func bucketIndex(v int, thresholds []int) int {
	return sort.Search(len(thresholds), func(i int) bool { return thresholds[i] > v })
}

func bucketIndexDuration(v time.Duration, thresholds []time.Duration) int {
	return sort.Search(len(thresholds), func(i int) bool { return thresholds[i] > v })
}

// snapshot returns the cached Status, recomputing it if older than maxAge.
func (m *monitor) snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.maxAge > 0 && now.Sub(m.cachedAt) < m.maxAge {
		return m.cached
	}

	mainQueue, returnQueue, entries := 0, 0, 0
	if m.sizeFn != nil {
		mainQueue, returnQueue, entries = m.sizeFn()
	}

	s := Status{
		CapturedAt:      now,
		MainQueueSize:   mainQueue,
		ReturnQueueSize: returnQueue,
		EntryCount:      entries,
		ReadRetries:     m.readRetries.Load(),
		WriteRetries:    m.writeRetries.Load(),
		ResyncTooLate:   m.resyncTooLate.Load(),
		LoggedDebug:     m.loggedDebug.Load(),
		LoggedInfo:      m.loggedInfo.Load(),
		LoggedWarn:      m.loggedWarn.Load(),
		LoggedError:     m.loggedError.Load(),
	}
	for i := range s.FullCacheCyclesHistogram {
		s.FullCacheCyclesHistogram[i] = m.fullCycleHist[i].Load()
		s.TimeSinceAccessHistogram[i] = m.accessHist[i].Load()
	}

	m.cached = s
	m.cachedAt = now
	return s
}
