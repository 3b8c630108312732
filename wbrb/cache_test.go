package wbrb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeAdapter is a StorageAdapter[string,int,int,int,int] backed by an
// in-memory map, with injectable failure counts, matching the style of
// catrate/microbatch's table-driven fakes.
type fakeAdapter struct {
	mu         sync.Mutex
	store      map[string]int
	readErrs   map[string]int // remaining failures before success
	writeErrs  map[string]int
	resyncErrs map[string]int
	writes     []int
	resyncs    int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		store:      make(map[string]int),
		readErrs:   make(map[string]int),
		writeErrs:  make(map[string]int),
		resyncErrs: make(map[string]int),
	}
}

func (f *fakeAdapter) Read(ctx context.Context, key string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErrs[key] > 0 {
		f.readErrs[key]--
		return 0, errors.New(`read failed`)
	}
	return f.store[key], nil
}

func (f *fakeAdapter) Write(ctx context.Context, data int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErrs[`*`] > 0 {
		f.writeErrs[`*`]--
		return errors.New(`write failed`)
	}
	f.writes = append(f.writes, data)
	return nil
}

func (f *fakeAdapter) Resync(ctx context.Context, key string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resyncErrs[key] > 0 {
		f.resyncErrs[key]--
		return 0, errors.New(`resync failed`)
	}
	f.resyncs++
	return f.store[key], nil
}

func (f *fakeAdapter) ConvertToCacheValue(result int) int { return result }

func (f *fakeAdapter) ApplyUpdate(value int, update int) int { return value + update }

func (f *fakeAdapter) SplitForWrite(key string, value int, pending []int) (int, []int) {
	return value, nil
}

func (f *fakeAdapter) MergeAfterResync(memory int, storage int, updatesSinceResyncStart []int) int {
	sum := storage
	for _, u := range updatesSinceResyncStart {
		sum += u
	}
	return sum
}

func testConfig(name string, clock func() time.Time) *Config {
	return &Config{
		CacheName:                 name,
		MainQueueMaxTargetSize:    1000,
		MainQueueCacheTime:        10 * time.Millisecond,
		ReturnQueueCacheTimeMin:   5 * time.Millisecond,
		ReturnQueueMaxRequeueCount: 3,
		UntouchedItemCacheExpirationDelay: time.Second,
		MaxUpdatesToCollect:       16,
		CanMergeWrites:            true,
		ReadThreadPoolSize:        [2]int{1, 2},
		WriteThreadPoolSize:       [2]int{1, 2},
		ReadFailureMaxRetryCount:  3,
		WriteFailureMaxRetryCount: 3,
		FullCacheCycleFailureMaxRetryCount: 3,
		MaxCacheElementsHardLimit: 1024,
		MaxSleepTime:              2 * time.Millisecond,
		MainQueueMaxRequestHandoverWaitTime: 20 * time.Millisecond,
		MonitoringFullCacheCyclesThresholds: [5]int{1, 2, 3, 4, 5},
		MonitoringTimeSinceAccessThresholds: [5]time.Duration{
			time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond, 4 * time.Millisecond, 5 * time.Millisecond,
		},
		Clock: clock,
	}
}

func TestCache_ReadPopulatesFromAdapter(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.store[`a`] = 42

	now := time.Now()
	clock := func() time.Time { return now }
	c := New[string, int, int, int, int](testConfig(`t1`, clock), adapter)
	c.Start()
	defer c.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := c.Read(ctx, `a`)
	if err != nil {
		t.Fatalf(`Read: %v`, err)
	}
	if got != 42 {
		t.Fatalf(`Read = %d, want 42`, got)
	}
}

func TestCache_ReadFailsFinalAfterRetriesExhausted(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.readErrs[`b`] = 100 // never succeeds

	now := time.Now()
	cfg := testConfig(`t2`, func() time.Time { return now })
	cfg.ReadFailureMaxRetryCount = 1
	cfg.InitialReadFailedFinalAction = KeepAndThrowCacheReadExceptions

	c := New[string, int, int, int, int](cfg, adapter)
	c.Start()
	defer c.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := c.Read(ctx, `b`)
	if !errors.Is(err, ErrReadFailedFinal) {
		t.Fatalf(`Read err = %v, want ErrReadFailedFinal`, err)
	}
}

func TestCache_WriteIfCachedRejectsUnknownKey(t *testing.T) {
	adapter := newFakeAdapter()
	c := New[string, int, int, int, int](testConfig(`t3`, time.Now), adapter)

	if err := c.WriteIfCached(`missing`, 1); !errors.Is(err, ErrItemNotPresent) {
		t.Fatalf(`WriteIfCached err = %v, want ErrItemNotPresent`, err)
	}
}

func TestCache_WriteIfCachedFlushesToAdapter(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.store[`c`] = 1

	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	cfg := testConfig(`t4`, clock)
	cfg.MainQueueCacheTime = time.Millisecond
	cfg.MaxSleepTime = time.Millisecond
	c := New[string, int, int, int, int](cfg, adapter)
	c.Start()
	defer c.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := c.Read(ctx, `c`); err != nil {
		t.Fatalf(`Read: %v`, err)
	}

	if err := c.WriteIfCached(`c`, 5); err != nil {
		t.Fatalf(`WriteIfCached: %v`, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		advance(2 * time.Millisecond)
		adapter.mu.Lock()
		n := len(adapter.writes)
		adapter.mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(`write never dispatched to adapter`)
}

func TestCache_CacheFullRejectsNewKeys(t *testing.T) {
	adapter := newFakeAdapter()
	cfg := testConfig(`t5`, time.Now)
	cfg.MaxCacheElementsHardLimit = 1
	c := New[string, int, int, int, int](cfg, adapter)
	c.Start()
	defer c.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := c.Read(ctx, `only`); err != nil {
		t.Fatalf(`Read: %v`, err)
	}

	if _, _, err := c.getOrCreate(`second`); !errors.Is(err, ErrCacheFull) {
		t.Fatalf(`getOrCreate err = %v, want ErrCacheFull`, err)
	}
}

// TestCache_ResyncTooLateClearsReadPendingStatus exercises §8 scenario 2:
// pendingUpdates overflows maxUpdatesToCollect while a resync is in
// flight, and resyncTooLateAction=CLEAR_READ_PENDING_STATUS transitions
// the entry to READY without folding the resync's storage value in.
func TestCache_ResyncTooLateClearsReadPendingStatus(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.store[`k`] = 100

	cfg := testConfig(`t7`, time.Now)
	cfg.MaxUpdatesToCollect = 2
	cfg.ResyncTooLateAction = ClearReadPendingStatus
	c := New[string, int, int, int, int](cfg, adapter)
	// Set up the cache's context directly rather than Start(), so the
	// background loops never touch this key: processRead/processResync are
	// driven by hand below, deterministically.
	c.ctx, c.cancel = context.WithCancel(context.Background())
	defer c.cancel()

	e, _, err := c.getOrCreate(`k`)
	if err != nil {
		t.Fatalf(`getOrCreate: %v`, err)
	}
	c.processRead(`k`)

	e.mu.Lock()
	if e.payload.status != Ready {
		e.mu.Unlock()
		t.Fatalf(`status after processRead = %v, want Ready`, e.payload.status)
	}
	e.payload.status = ResyncPending
	e.mu.Unlock()

	for i := 0; i < 3; i++ {
		if err := c.WriteIfCached(`k`, 1); err != nil {
			t.Fatalf(`WriteIfCached #%d: %v`, i, err)
		}
	}

	e.mu.RLock()
	truncated := e.payload.truncatedDuringResync
	pendingLen := len(e.payload.pending)
	e.mu.RUnlock()
	if !truncated {
		t.Fatal(`truncatedDuringResync not set after overflow`)
	}
	if pendingLen != cfg.MaxUpdatesToCollect {
		t.Fatalf(`pending len = %d, want %d`, pendingLen, cfg.MaxUpdatesToCollect)
	}

	if got := c.GetStatus().ResyncTooLate; got != 1 {
		t.Fatalf(`ResyncTooLate = %d, want 1`, got)
	}

	c.processResync(`k`)

	e.mu.RLock()
	status := e.payload.status
	value := e.payload.value
	pending := e.payload.pending
	e.mu.RUnlock()

	if status != Ready {
		t.Fatalf(`status after processResync = %v, want Ready`, status)
	}
	if value != 103 {
		t.Fatalf(`value = %d, want 103 (storage value left untouched, in-memory updates kept)`, value)
	}
	if len(pending) != 0 {
		t.Fatalf(`pending = %v, want empty`, pending)
	}
	if adapter.resyncs != 1 {
		t.Fatalf(`resyncs = %d, want 1`, adapter.resyncs)
	}
}

func TestCache_ShutdownIsIdempotent(t *testing.T) {
	adapter := newFakeAdapter()
	c := New[string, int, int, int, int](testConfig(`t6`, time.Now), adapter)
	c.Start()

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf(`first Shutdown: %v`, err)
	}
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf(`second Shutdown: %v`, err)
	}
}
