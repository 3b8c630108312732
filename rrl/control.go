package rrl

import (
	"sync/atomic"
	"time"
)

// ControlState is the mutable policy snapshot described in §4.5: an
// immutable value, installed atomically, observed before each dispatch and
// retry decision. Transitions are total — any new snapshot may be
// installed at any time from any goroutine.
type ControlState struct {
	Description string

	// RejectRequestsString, if non-empty, causes Submit to fail immediately
	// with ErrRejected; the string is surfaced in the error for operator
	// diagnosis (e.g. "overloaded: shedding non-critical traffic").
	RejectRequestsString string

	IgnoreDelays                   bool
	TimeoutAllPendingRequests      bool
	TimeoutRequestsAfterFailedAttempt bool

	// SpooldownTargetTimestamp, when non-zero, causes Submit to reject new
	// requests once it has passed (§8 scenario 5). It does not shorten the
	// dispatcher's waits for a worker or for a rate-limiter token.
	SpooldownTargetTimestamp time.Time

	LimitWaitingForProcessingThread time.Duration
	LimitWaitingForTicket           time.Duration

	// WaitForTickets, when nil, bypasses the rate limiter entirely (§4.4;
	// resolved per SPEC_FULL.md §9: also skips limiter counters, since a
	// bypassed limiter cannot meaningfully report tokensTaken).
	WaitForTickets *time.Duration
}

// controlBox is the atomic.Pointer[ControlState] referenced by §4.5,
// wrapped so a zero-value default is always readable.
type controlBox struct {
	p atomic.Pointer[ControlState]
}

func newControlBox(initial ControlState) *controlBox {
	b := &controlBox{}
	b.p.Store(&initial)
	return b
}

func (b *controlBox) Load() ControlState {
	return *b.p.Load()
}

func (b *controlBox) Store(cs ControlState) {
	b.p.Store(&cs)
}
