package rrl

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeProcessor struct {
	mu      sync.Mutex
	failN   map[string]int // payload -> remaining failures
	calls   atomic.Int64
	delay   time.Duration
}

func (f *fakeProcessor) Process(ctx context.Context, payload string) (string, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ``, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failN[payload] > 0 {
		f.failN[payload]--
		return ``, errors.New(`transient failure`)
	}
	return payload + `-ok`, nil
}

type retriableClassifier struct{}

func (retriableClassifier) Classify(failure error, attempt int, elapsed time.Duration) Classification {
	return Classification{Retriable: true}
}

func baseConfig(name string, clock func() time.Time) *Config {
	return &Config{
		ServiceName:                       name,
		MaxAttempts:                       3,
		DelaysAfterFailure:                []time.Duration{10 * time.Millisecond, 20 * time.Millisecond},
		MaxPendingRequests:                16,
		DelayQueues:                       []time.Duration{10 * time.Millisecond, 50 * time.Millisecond},
		DelayQueueTooLongGracePeriod:      2 * time.Millisecond,
		RateLimiterBucketSize:             0,
		RequestProcessingThreadPoolConfig: [2]int{1, 2},
		MaxSleepTime:                      time.Millisecond,
		Clock:                             clock,
	}
}

func TestService_SubmitAndSucceed(t *testing.T) {
	proc := &fakeProcessor{failN: map[string]int{}}
	svc := NewService[string, string](baseConfig(`s1`, time.Now), proc, retriableClassifier{}, nil)
	svc.Start()
	defer svc.Shutdown(context.Background(), ShutdownImmediate)

	h, err := svc.Submit(`hello`, time.Second)
	if err != nil {
		t.Fatalf(`Submit: %v`, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := h.Await(ctx)
	if err != nil {
		t.Fatalf(`Await: %v`, err)
	}
	if result != `hello-ok` {
		t.Fatalf(`result = %q, want %q`, result, `hello-ok`)
	}
}

func TestService_RetriesThenSucceeds(t *testing.T) {
	proc := &fakeProcessor{failN: map[string]int{`x`: 2}}
	svc := NewService[string, string](baseConfig(`s2`, time.Now), proc, retriableClassifier{}, nil)
	svc.Start()
	defer svc.Shutdown(context.Background(), ShutdownImmediate)

	h, err := svc.Submit(`x`, 2*time.Second)
	if err != nil {
		t.Fatalf(`Submit: %v`, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := h.Await(ctx)
	if err != nil {
		t.Fatalf(`Await: %v`, err)
	}
	if result != `x-ok` {
		t.Fatalf(`result = %q, want %q`, result, `x-ok`)
	}
	if proc.calls.Load() != 3 {
		t.Fatalf(`calls = %d, want 3`, proc.calls.Load())
	}
}

func TestService_AttemptsExhaustedFailsFinal(t *testing.T) {
	proc := &fakeProcessor{failN: map[string]int{`y`: 100}}
	cfg := baseConfig(`s3`, time.Now)
	cfg.MaxAttempts = 2
	svc := NewService[string, string](cfg, proc, retriableClassifier{}, nil)
	svc.Start()
	defer svc.Shutdown(context.Background(), ShutdownImmediate)

	h, err := svc.Submit(`y`, 2*time.Second)
	if err != nil {
		t.Fatalf(`Submit: %v`, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = h.Await(ctx)
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf(`err = %v, want ErrAttemptsExhausted`, err)
	}
}

func TestService_SubmitRejectedByControlState(t *testing.T) {
	proc := &fakeProcessor{failN: map[string]int{}}
	svc := NewService[string, string](baseConfig(`s4`, time.Now), proc, retriableClassifier{}, nil)
	svc.SetControlState(ControlState{RejectRequestsString: `shedding load`})

	_, err := svc.Submit(`z`, time.Second)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf(`err = %v, want ErrRejected`, err)
	}
}

func TestService_QueueFullRejectsSubmit(t *testing.T) {
	proc := &fakeProcessor{failN: map[string]int{}, delay: time.Hour}
	cfg := baseConfig(`s5`, time.Now)
	cfg.MaxPendingRequests = 1
	cfg.RequestProcessingThreadPoolConfig = [2]int{1, 1}
	svc := NewService[string, string](cfg, proc, retriableClassifier{}, nil)
	// deliberately not Started: mainQueue channel still accepts up to its
	// buffer size even before Start, since Submit only enqueues.
	if _, err := svc.Submit(`a`, time.Second); err != nil {
		t.Fatalf(`first Submit: %v`, err)
	}
	if _, err := svc.Submit(`b`, time.Second); !errors.Is(err, ErrQueueFull) {
		t.Fatalf(`second Submit err = %v, want ErrQueueFull`, err)
	}
}

func TestService_DeadlineExpiryBeforeDispatch(t *testing.T) {
	proc := &fakeProcessor{failN: map[string]int{}, delay: 200 * time.Millisecond}
	cfg := baseConfig(`s6`, time.Now)
	cfg.RequestProcessingThreadPoolConfig = [2]int{1, 1}
	svc := NewService[string, string](cfg, proc, retriableClassifier{}, nil)
	svc.Start()
	defer svc.Shutdown(context.Background(), ShutdownImmediate)

	// occupy the single worker
	if _, err := svc.Submit(`busy`, time.Second); err != nil {
		t.Fatalf(`Submit busy: %v`, err)
	}
	time.Sleep(10 * time.Millisecond)

	h, err := svc.Submit(`second`, 50*time.Millisecond)
	if err != nil {
		t.Fatalf(`Submit second: %v`, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = h.Await(ctx)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf(`err = %v, want ErrTimeout`, err)
	}
}
