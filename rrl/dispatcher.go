package rrl

import (
	"context"
	"fmt"
	"time"

	"github.com/joeycumines/go-wbrb-rrl/internal/logx"
)

// runDispatchLoop is the Main Queue processor: it pulls one request at a
// time and hands it to the bounded worker pool (semaphore.Weighted),
// mirroring wbrb's read/write dispatch loops.
func (s *Service[P, R]) runDispatchLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case req := <-s.mainQueue:
			s.dispatchOne(req)
		}
	}
}

func (s *Service[P, R]) dispatchOne(req *request[P, R]) {
	if s.control.Load().TimeoutAllPendingRequests {
		s.finishTimedOut(req)
		return
	}

	wait := s.control.Load().LimitWaitingForProcessingThread
	if wait <= 0 {
		wait = s.cfg.MaxSleepTime
	}
	ctx, cancel := context.WithTimeout(s.ctx, wait)
	err := s.sem.Acquire(ctx, 1)
	cancel()
	if err != nil {
		s.throt.Log(logx.LevelWarn, `worker_pool_saturated`, s.cfg.now(), `rrl: worker pool saturated, requeued`, s.cfg.ServiceName)
		s.requeueMain(req)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)
		s.attempt(req)
	}()
}

// runDelayReleaseLoop pops due entries from the delay-queue chain and
// either re-attempts them (remainingDelay fully consumed) or reschedules
// the remainder, implementing the "shuttled through multiple queues" rule
// of §4.3.
func (s *Service[P, R]) runDelayReleaseLoop() {
	defer s.wg.Done()

	interval := s.cfg.MaxSleepTime
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		now := s.cfg.now()
		for _, req := range s.delays.popDue(now.UnixNano()) {
			req.mu.Lock()
			remaining := req.remainingDelay
			req.mu.Unlock()

			if remaining > 0 {
				s.delays.schedule(req, remaining, now)
				continue
			}
			s.requeueMain(req)
		}
	}
}

func (s *Service[P, R]) requeueMain(req *request[P, R]) {
	req.setState(WaitingForWorker)
	select {
	case s.mainQueue <- req:
	case <-s.ctx.Done():
	}
}

// attempt runs a single dispatch attempt of req: deadline check, rate
// limiter acquisition, Processor invocation, and failure classification.
func (s *Service[P, R]) attempt(req *request[P, R]) {
	req.mu.Lock()
	req.attempt++
	attempt := req.attempt
	req.mu.Unlock()

	now := s.cfg.now()
	if now.After(req.deadlineAt) {
		s.finishTimedOut(req)
		return
	}

	cs := s.control.Load()
	req.setState(WaitingForToken)
	if cs.WaitForTickets != nil {
		waitCtx, cancel := context.WithTimeout(s.workCtx, *cs.WaitForTickets)
		err := s.bucket.Acquire(waitCtx)
		cancel()
		if err != nil {
			s.handleFailure(req, attempt, fmt.Errorf(`%w: rate limiter wait exceeded`, ErrTimeout))
			return
		}
		s.mon.incrTokensTaken(1)
	}
	// cs.WaitForTickets == nil bypasses the limiter entirely, including its
	// counters (SPEC_FULL.md §9 resolves the open question this way: a
	// bypassed limiter cannot meaningfully report tokens taken).

	now = s.cfg.now()
	if now.After(req.deadlineAt) {
		s.finishTimedOut(req)
		return
	}

	req.setState(InFlight)
	s.mon.incrDispatched()
	s.listener.OnAttempted(&Handle[P, R]{req: req}, attempt)

	ctx, cancel := context.WithDeadline(s.workCtx, req.deadlineAt)
	result, err := s.proc.Process(ctx, req.payload)
	cancel()

	if err == nil {
		s.finishSucceeded(req, result)
		return
	}
	s.handleFailure(req, attempt, err)
}

func (s *Service[P, R]) handleFailure(req *request[P, R], attempt int, failure error) {
	elapsed := s.cfg.now().Sub(req.submittedAt)
	class := s.classifier.Classify(failure, attempt, elapsed)

	if class.Fatal {
		s.finishFailedFinal(req, fmt.Errorf(`%w: %v`, ErrProcessorFatal, failure))
		return
	}

	now := s.cfg.now()
	if class.Timeout || now.After(req.deadlineAt) {
		s.finishTimedOut(req)
		return
	}
	if s.control.Load().TimeoutRequestsAfterFailedAttempt {
		s.finishTimedOut(req)
		return
	}

	if attempt >= s.cfg.MaxAttempts || !class.Retriable {
		s.finishFailedFinal(req, fmt.Errorf(`%w: %v`, ErrAttemptsExhausted, failure))
		return
	}

	req.mu.Lock()
	req.lastFailure = failure
	req.mu.Unlock()

	delay := s.cfg.delayFor(attempt)
	s.mon.incrRetried()
	s.listener.OnRetried(&Handle[P, R]{req: req}, attempt, delay)

	if s.control.Load().IgnoreDelays || delay <= 0 {
		s.requeueMain(req)
		return
	}
	s.delays.schedule(req, delay, now)
}

func (s *Service[P, R]) finishSucceeded(req *request[P, R], result R) {
	req.complete(Succeeded, result, nil)
	s.mon.incrSucceeded()
	s.listener.OnSucceeded(&Handle[P, R]{req: req}, result)
}

func (s *Service[P, R]) finishTimedOut(req *request[P, R]) {
	var zero R
	req.complete(TimedOut, zero, ErrTimeout)
	s.mon.incrTimedOut()
	s.listener.OnTimedOut(&Handle[P, R]{req: req})
}

func (s *Service[P, R]) finishFailedFinal(req *request[P, R], err error) {
	var zero R
	req.complete(FailedFinal, zero, err)
	s.mon.incrFailedFinal()
	s.listener.OnFailedFinal(&Handle[P, R]{req: req}, err)
}
