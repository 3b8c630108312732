package rrl

import (
	"context"
	"time"
)

// Processor executes a single attempt at processing a payload. It is the
// RRL analogue of wbrb.StorageAdapter: the sole external collaborator.
type Processor[P, R any] interface {
	Process(ctx context.Context, payload P) (R, error)
}

// Classification is the outcome of classifying a processing failure.
type Classification struct {
	Retriable bool
	Fatal     bool
	Timeout   bool
}

// RetryClassifier decides how a Processor failure should be handled.
type RetryClassifier interface {
	Classify(failure error, attempt int, elapsed time.Duration) Classification
}

// EventListener observes the lifecycle of requests flowing through the
// service. All methods are optional; embed NoopEventListener to satisfy the
// interface without implementing unused events.
type EventListener[P, R any] interface {
	OnSubmitted(h *Handle[P, R])
	OnAttempted(h *Handle[P, R], attempt int)
	OnSucceeded(h *Handle[P, R], result R)
	OnRetried(h *Handle[P, R], attempt int, delay time.Duration)
	OnTimedOut(h *Handle[P, R])
	OnFailedFinal(h *Handle[P, R], err error)
}

// NoopEventListener implements EventListener with no-op methods; embed it
// to pick and choose which events to observe.
type NoopEventListener[P, R any] struct{}

func (NoopEventListener[P, R]) OnSubmitted(*Handle[P, R])                    {}
func (NoopEventListener[P, R]) OnAttempted(*Handle[P, R], int)               {}
func (NoopEventListener[P, R]) OnSucceeded(*Handle[P, R], R)                 {}
func (NoopEventListener[P, R]) OnRetried(*Handle[P, R], int, time.Duration)  {}
func (NoopEventListener[P, R]) OnTimedOut(*Handle[P, R])                     {}
func (NoopEventListener[P, R]) OnFailedFinal(*Handle[P, R], error)           {}
