package wbrb

import (
	"github.com/joeycumines/go-wbrb-rrl/internal/ringqueue"
)

// timeQueue is the Main Queue / Return Queue: a FIFO of keys ordered by the
// time they become due for their next lifecycle action, backed by
// internal/ringqueue (itself adapted from catrate's sliding-window ring
// buffer).
type timeQueue[K comparable] struct {
	q *ringqueue.Queue[int64, K]
}

func newTimeQueue[K comparable]() *timeQueue[K] {
	return &timeQueue[K]{q: ringqueue.New[int64, K](16)}
}

func (t *timeQueue[K]) push(dueUnixNano int64, key K) {
	t.q.PushBack(dueUnixNano, key)
}

func (t *timeQueue[K]) len() int { return t.q.Len() }

// popDue removes and returns every key whose due time is <= nowUnixNano, in
// ascending due-time order.
func (t *timeQueue[K]) popDue(nowUnixNano int64) []K {
	var out []K
	for {
		due, key, ok := t.q.Front()
		if !ok || due > nowUnixNano {
			return out
		}
		t.q.PopFront()
		out = append(out, key)
	}
}
