// Package rrl implements a Retry-and-Rate-Limit dispatcher: a bounded queue
// of submitted requests, a scheduling-wheel of delay queues for retry
// backoff, a token-bucket rate limiter, and a bounded worker pool that
// drives a caller-supplied Processor to completion, timeout, or exhaustion.
//
// Adapted, in construction/concurrency idiom, from
// github.com/joeycumines/go-utilpkg/microbatch (done/stopped channel
// shutdown) and the wbrb package's dispatch loop (semaphore.Weighted-bounded
// worker handoff).
package rrl

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/joeycumines/go-wbrb-rrl/internal/logx"
)

// ShutdownMode selects how aggressively Shutdown stops in-flight and queued
// work, per §4.3's submit/shutdown contract.
type ShutdownMode int

const (
	// ShutdownNormal drains the Main Queue and delay chain before stopping,
	// bounded by the context passed to Shutdown.
	ShutdownNormal ShutdownMode = iota
	// ShutdownQuick stops accepting new dispatches immediately but lets
	// in-flight Processor calls finish.
	ShutdownQuick
	// ShutdownImmediate cancels in-flight Processor calls via context
	// cancellation.
	ShutdownImmediate
)

// Service is the RRL dispatcher: P is the request payload type, R the
// Processor's result type. The zero value is not usable; construct with
// NewService.
type Service[P, R any] struct {
	cfg        Config
	proc       Processor[P, R]
	classifier RetryClassifier
	listener   EventListener[P, R]
	log        logx.Logger
	throt      *logx.Throttled
	mon        *monitor
	control    *controlBox
	bucket     *TokenBucket
	delays     *delayChain[P, R]

	mainQueue chan *request[P, R]
	sem       *semaphore.Weighted

	nextID atomic.Uint64

	ctx       context.Context
	cancel    context.CancelFunc
	workCtx   context.Context
	workCancel context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	started   bool
}

// NewService constructs a Service. cfg is validated; proc and classifier
// are required collaborators. listener may be nil (defaults to a no-op).
func NewService[P, R any](cfg *Config, proc Processor[P, R], classifier RetryClassifier, listener EventListener[P, R]) *Service[P, R] {
	if proc == nil {
		panic(`rrl: nil Processor`)
	}
	if classifier == nil {
		panic(`rrl: nil RetryClassifier`)
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Errorf(`rrl: %w`, err))
	}
	if listener == nil {
		listener = NoopEventListener[P, R]{}
	}

	s := &Service[P, R]{
		cfg:        *cfg,
		proc:       proc,
		classifier: classifier,
		listener:   listener,
		log:        cfg.logger(),
		control:    newControlBox(ControlState{}),
		bucket:     NewTokenBucket(cfg.RateLimiterBucketSize, cfg.RateLimiterRefillRate, cfg.RateLimiterRefillInterval),
		delays:     newDelayChain[P, R](cfg.DelayQueues, cfg.DelayQueueTooLongGracePeriod),
		mainQueue:  make(chan *request[P, R], cfg.MaxPendingRequests),
		sem:        semaphore.NewWeighted(int64(cfg.RequestProcessingThreadPoolConfig[1])),
		done:       make(chan struct{}),
	}
	s.throt = logx.NewThrottled(s.log, cfg.LogThrottleWindow)
	s.mon = newMonitor(cfg.ServiceName, cfg.StatusMaxAgeMs, s.cfg.now, s.sizes)
	return s
}

func (s *Service[P, R]) sizes() (pending, delayed int) {
	return len(s.mainQueue), s.delays.size()
}

// SetControlState installs a new control snapshot, observed by the next
// dispatch/retry decision onward.
func (s *Service[P, R]) SetControlState(cs ControlState) {
	s.control.Store(cs)
}

// ControlState returns the currently installed control snapshot.
func (s *Service[P, R]) ControlState() ControlState {
	return s.control.Load()
}

// GetStatus returns a monitoring snapshot, recomputed only if the
// previously cached one is older than the configured StatusMaxAgeMs.
func (s *Service[P, R]) GetStatus() Status {
	return s.mon.snapshot()
}

// Start launches the dispatcher loop and delay-chain releaser. Idempotent.
func (s *Service[P, R]) Start() {
	s.startOnce.Do(func() {
		s.ctx, s.cancel = context.WithCancel(context.Background())
		s.workCtx, s.workCancel = context.WithCancel(context.Background())
		s.started = true

		s.wg.Add(2)
		go s.runDispatchLoop()
		go s.runDelayReleaseLoop()
	})
}

// Submit enqueues payload for processing, valid for validFor from now. It
// fails immediately with ErrRejected if the control state is rejecting
// submissions or spooldown has passed its target, or ErrQueueFull if the
// Main Queue is at capacity.
func (s *Service[P, R]) Submit(payload P, validFor time.Duration) (*Handle[P, R], error) {
	cs := s.control.Load()
	now := s.cfg.now()

	if cs.RejectRequestsString != `` {
		return nil, fmt.Errorf(`%w: %s`, ErrRejected, cs.RejectRequestsString)
	}
	if !cs.SpooldownTargetTimestamp.IsZero() && now.After(cs.SpooldownTargetTimestamp) {
		return nil, fmt.Errorf(`%w: past spooldown target`, ErrRejected)
	}

	id := s.nextID.Add(1)
	req := newRequest[P, R](id, payload, now.Add(validFor), now)
	h := &Handle[P, R]{req: req}

	select {
	case s.mainQueue <- req:
	default:
		return nil, ErrQueueFull
	}

	req.setState(WaitingForWorker)
	s.listener.OnSubmitted(h)
	return h, nil
}

// Shutdown stops the dispatcher per mode, bounded by ctx.
func (s *Service[P, R]) Shutdown(ctx context.Context, mode ShutdownMode) error {
	if !s.started {
		return nil
	}

	s.stopOnce.Do(func() {
		go func() {
			defer close(s.done)
			if mode == ShutdownNormal {
				s.drain(ctx)
			}
			if mode == ShutdownImmediate {
				s.workCancel()
			}
			s.cancel()
			s.wg.Wait()
			s.workCancel()
		}()
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return nil
	}
}

// drain waits for the Main Queue and delay chain to empty, or ctx to end.
func (s *Service[P, R]) drain(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval())
	defer ticker.Stop()
	for {
		if len(s.mainQueue) == 0 && s.delays.size() == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Service[P, R]) pollInterval() time.Duration {
	d := s.cfg.MaxSleepTime
	if d <= 0 {
		d = 10 * time.Millisecond
	}
	return d
}
