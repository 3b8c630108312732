package rrl

import (
	"sync"
	"time"

	"github.com/joeycumines/go-wbrb-rrl/internal/ringqueue"
)

// delayChain is the scheduling wheel of §4.3/§4.4: a sequence of fixed-dwell
// FIFO queues. An item is placed in the smallest queue whose dwell covers
// its requested delay (within DelayQueueTooLongGracePeriod); a delay longer
// than the largest configured dwell is shuttled through repeated passes of
// the largest queue, decrementing the remaining delay each pass. Backed by
// internal/ringqueue, same as wbrb's Main/Return Queues.
type delayChain[P, R any] struct {
	dwells []time.Duration
	grace  time.Duration

	mu     sync.Mutex
	queues []*ringqueue.Queue[int64, *request[P, R]]
}

func newDelayChain[P, R any](dwells []time.Duration, grace time.Duration) *delayChain[P, R] {
	d := &delayChain[P, R]{
		dwells: dwells,
		grace:  grace,
		queues: make([]*ringqueue.Queue[int64, *request[P, R]], len(dwells)),
	}
	for i := range d.queues {
		d.queues[i] = ringqueue.New[int64, *request[P, R]](16)
	}
	return d
}

// schedule places req into the appropriate queue for delay, starting at
// now. It records any delay in excess of the chosen queue's dwell on the
// request, to be re-applied on that queue's next pop.
func (d *delayChain[P, R]) schedule(req *request[P, R], delay time.Duration, now time.Time) {
	if len(d.queues) == 0 {
		req.remainingDelay = 0
		return
	}

	idx := d.pick(delay)
	dwell := d.dwells[idx]

	req.mu.Lock()
	if delay > dwell {
		req.remainingDelay = delay - dwell
	} else {
		req.remainingDelay = 0
		dwell = delay
	}
	req.mu.Unlock()
	req.setState(Delayed)

	d.mu.Lock()
	d.queues[idx].PushBack(now.Add(dwell).UnixNano(), req)
	d.mu.Unlock()
}

// pick returns the index of the smallest queue whose dwell covers delay
// (within grace), or the last (largest) index if none do.
func (d *delayChain[P, R]) pick(delay time.Duration) int {
	for i, dwell := range d.dwells {
		if dwell+d.grace >= delay {
			return i
		}
	}
	return len(d.dwells) - 1
}

// popDue drains every item past its release time across all queues, in
// ascending queue-index order (shortest dwell first).
func (d *delayChain[P, R]) popDue(now int64) []*request[P, R] {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []*request[P, R]
	for _, q := range d.queues {
		for {
			due, req, ok := q.Front()
			if !ok || due > now {
				break
			}
			q.PopFront()
			out = append(out, req)
		}
	}
	return out
}

func (d *delayChain[P, R]) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, q := range d.queues {
		n += q.Len()
	}
	return n
}
