package rrl

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestService_SingleTokenBucketTakesTokens runs two requests through a
// single-token bucket and checks that both complete and that each took a
// token; it does not measure the spacing between dispatches.
func TestService_SingleTokenBucketTakesTokens(t *testing.T) {
	proc := &fakeProcessor{failN: map[string]int{}}
	cfg := baseConfig(`rl1`, time.Now)
	cfg.RateLimiterBucketSize = 1
	cfg.RateLimiterRefillRate = 1000
	cfg.RateLimiterRefillInterval = time.Second
	cfg.RequestProcessingThreadPoolConfig = [2]int{2, 2}
	svc := NewService[string, string](cfg, proc, retriableClassifier{}, nil)
	svc.Start()
	defer svc.Shutdown(context.Background(), ShutdownImmediate)

	wait := time.Second
	svc.SetControlState(ControlState{WaitForTickets: &wait})

	h1, err := svc.Submit(`a`, time.Second)
	if err != nil {
		t.Fatalf(`Submit a: %v`, err)
	}
	h2, err := svc.Submit(`b`, time.Second)
	if err != nil {
		t.Fatalf(`Submit b: %v`, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := h1.Await(ctx); err != nil {
		t.Fatalf(`Await a: %v`, err)
	}
	if _, err := h2.Await(ctx); err != nil {
		t.Fatalf(`Await b: %v`, err)
	}

	status := svc.GetStatus()
	if status.TokensTaken < 2 {
		t.Fatalf(`TokensTaken = %d, want >= 2`, status.TokensTaken)
	}
}

// TestService_SpooldownRejectsAfterTarget exercises §8 scenario 5: after
// the spooldown target passes, new submits are rejected.
func TestService_SpooldownRejectsAfterTarget(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	proc := &fakeProcessor{failN: map[string]int{}}
	svc := NewService[string, string](baseConfig(`rl2`, clock), proc, retriableClassifier{}, nil)

	svc.SetControlState(ControlState{SpooldownTargetTimestamp: now.Add(10 * time.Millisecond)})

	if _, err := svc.Submit(`before`, time.Second); err != nil {
		t.Fatalf(`Submit before target: %v`, err)
	}

	now = now.Add(20 * time.Millisecond)

	if _, err := svc.Submit(`after`, time.Second); !errors.Is(err, ErrRejected) {
		t.Fatalf(`Submit after target err = %v, want ErrRejected`, err)
	}
}

// TestService_ProcessorFatalSkipsRetry exercises the Fatal classification
// path: no retry, immediate failure wrapping ErrProcessorFatal.
func TestService_ProcessorFatalSkipsRetry(t *testing.T) {
	proc := &fakeProcessor{failN: map[string]int{`f`: 100}}
	cfg := baseConfig(`rl3`, time.Now)
	svc := NewService[string, string](cfg, proc, fatalClassifier{}, nil)
	svc.Start()
	defer svc.Shutdown(context.Background(), ShutdownImmediate)

	h, err := svc.Submit(`f`, time.Second)
	if err != nil {
		t.Fatalf(`Submit: %v`, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = h.Await(ctx)
	if !errors.Is(err, ErrProcessorFatal) {
		t.Fatalf(`err = %v, want ErrProcessorFatal`, err)
	}
	if proc.calls.Load() != 1 {
		t.Fatalf(`calls = %d, want 1 (no retry on fatal)`, proc.calls.Load())
	}
}

type fatalClassifier struct{}

func (fatalClassifier) Classify(failure error, attempt int, elapsed time.Duration) Classification {
	return Classification{Fatal: true}
}
