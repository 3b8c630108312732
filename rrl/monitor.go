package rrl

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/armon/go-metrics"

	"github.com/joeycumines/go-wbrb-rrl/internal/logx"
)

// Status is the cached monitoring snapshot returned by Service.GetStatus.
type Status struct {
	CapturedAt time.Time

	PendingCount int
	DelayedCount int

	Dispatched    uint64
	Succeeded     uint64
	Retried       uint64
	TimedOut      uint64
	FailedFinal   uint64
	TokensTaken   uint64

	LoggedDebug uint64
	LoggedInfo  uint64
	LoggedWarn  uint64
	LoggedError uint64
}

// monitor owns the counters fed by the rest of the service, mirroring
// wbrb.monitor's cached-snapshot-with-staleness design.
type monitor struct {
	serviceName string
	maxAge      time.Duration
	now         func() time.Time
	sizeFn      func() (pending, delayed int)

	dispatched  atomic.Uint64
	succeeded   atomic.Uint64
	retried     atomic.Uint64
	timedOut    atomic.Uint64
	failedFinal atomic.Uint64
	tokensTaken atomic.Uint64
	loggedDebug atomic.Uint64
	loggedInfo  atomic.Uint64
	loggedWarn  atomic.Uint64
	loggedError atomic.Uint64

	mu       sync.Mutex
	cached   Status
	cachedAt time.Time
}

func newMonitor(serviceName string, maxAgeMs int64, now func() time.Time, sizeFn func() (int, int)) *monitor {
	return &monitor{
		serviceName: serviceName,
		maxAge:      time.Duration(maxAgeMs) * time.Millisecond,
		now:         now,
		sizeFn:      sizeFn,
	}
}

func (m *monitor) incrDispatched() {
	m.dispatched.Add(1)
	metrics.IncrCounter([]string{`rrl`, m.serviceName, `dispatched`}, 1)
}

func (m *monitor) incrSucceeded() {
	m.succeeded.Add(1)
	metrics.IncrCounter([]string{`rrl`, m.serviceName, `succeeded`}, 1)
}

func (m *monitor) incrRetried() {
	m.retried.Add(1)
	metrics.IncrCounter([]string{`rrl`, m.serviceName, `retried`}, 1)
}

func (m *monitor) incrTimedOut() {
	m.timedOut.Add(1)
	metrics.IncrCounter([]string{`rrl`, m.serviceName, `timed_out`}, 1)
}

func (m *monitor) incrFailedFinal() {
	m.failedFinal.Add(1)
	metrics.IncrCounter([]string{`rrl`, m.serviceName, `failed_final`}, 1)
}

func (m *monitor) incrTokensTaken(n uint64) {
	m.tokensTaken.Add(n)
	metrics.IncrCounter([]string{`rrl`, m.serviceName, `tokens_taken`}, float32(n))
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

func (m *monitor) snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.maxAge > 0 && now.Sub(m.cachedAt) < m.maxAge {
		return m.cached
	}

	pending, delayed := 0, 0
	if m.sizeFn != nil {
		pending, delayed = m.sizeFn()
	}

	s := Status{
		CapturedAt:   now,
		PendingCount: pending,
		DelayedCount: delayed,
		Dispatched:   m.dispatched.Load(),
		Succeeded:    m.succeeded.Load(),
		Retried:      m.retried.Load(),
		TimedOut:     m.timedOut.Load(),
		FailedFinal:  m.failedFinal.Load(),
		TokensTaken:  m.tokensTaken.Load(),
		LoggedDebug:  m.loggedDebug.Load(),
		LoggedInfo:   m.loggedInfo.Load(),
		LoggedWarn:   m.loggedWarn.Load(),
		LoggedError:  m.loggedError.Load(),
	}

	m.cached = s
	m.cachedAt = now
	return s
}
