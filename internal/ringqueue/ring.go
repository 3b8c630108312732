// Package ringqueue implements a growable, time-ordered ring buffer of
// key/value pairs, keyed by a due time (or any other ordered scalar). It
// backs both WBRB's Main Queue / Return Queue and RRL's delay-queue chain:
// each is, structurally, a FIFO of "do this at time T" entries that also
// needs occasional out-of-order removal (requeue, cancel) and a
// due-before(now) scan.
//
// Adapted from the sliding-window ring buffer in
// github.com/joeycumines/go-catrate (catrate/ring.go), generalized from
// int64 timestamps-as-elements to arbitrary ordered keys carrying an
// opaque value.
package ringqueue

import (
	"sort"

	"golang.org/x/exp/constraints"
)

// item is a single key/value pair stored in the ring.
type item[K constraints.Ordered, V any] struct {
	key   K
	value V
}

// Queue is a ring-buffer-backed FIFO, ordered ascending by K. It grows
// (doubling) on overflow, and never shrinks. The zero value is not usable;
// use New.
type Queue[K constraints.Ordered, V any] struct {
	s    []item[K, V]
	r, w uint
}

// New constructs a Queue with the given initial capacity, which must be a
// power of two.
func New[K constraints.Ordered, V any](size int) *Queue[K, V] {
	if size <= 0 || size&(size-1) != 0 {
		panic(`ringqueue: size must be a power of 2`)
	}
	return &Queue[K, V]{s: make([]item[K, V], size)}
}

func (x *Queue[K, V]) mask(val uint) uint {
	return val & (uint(len(x.s)) - 1)
}

func (x *Queue[K, V]) bounds() (i1, l1, l2 int) {
	if x.r == x.w {
		return
	}
	i1 = int(x.mask(x.r))
	l1 = int(x.mask(x.w))
	if l1 <= i1 {
		l2 = l1
		l1 = len(x.s)
	}
	return
}

// Len returns the number of queued elements.
func (x *Queue[K, V]) Len() int { return int(x.w - x.r) }

// Cap returns the current backing capacity (not a hard limit; Insert grows
// it as needed).
func (x *Queue[K, V]) Cap() int { return len(x.s) }

func (x *Queue[K, V]) at(i int) item[K, V] {
	if i < 0 || i >= x.Len() {
		panic(`ringqueue: index out of range`)
	}
	return x.s[x.mask(x.r+uint(i))]
}

// Key returns the key at position i (0 == front).
func (x *Queue[K, V]) Key(i int) K { return x.at(i).key }

// Value returns the value at position i (0 == front).
func (x *Queue[K, V]) Value(i int) V { return x.at(i).value }

// Front returns the element with the smallest key (the head of the queue),
// and whether the queue was non-empty.
func (x *Queue[K, V]) Front() (key K, value V, ok bool) {
	if x.Len() == 0 {
		return key, value, false
	}
	it := x.at(0)
	return it.key, it.value, true
}

// PopFront removes and returns the front element.
func (x *Queue[K, V]) PopFront() (key K, value V, ok bool) {
	key, value, ok = x.Front()
	if ok {
		x.RemoveBefore(1)
	}
	return
}

// RemoveBefore discards the first index elements (0 <= index <= Len()).
func (x *Queue[K, V]) RemoveBefore(index int) {
	if index < 0 || index > x.Len() {
		panic(`ringqueue: remove before: index out of range`)
	}
	x.r += uint(index)
}

// Remove discards the single element at position i, preserving order of
// the rest. Intended for infrequent out-of-order removal (e.g. cancel).
func (x *Queue[K, V]) Remove(i int) {
	l := x.Len()
	if i < 0 || i >= l {
		panic(`ringqueue: remove: index out of range`)
	}
	for j := i; j < l-1; j++ {
		x.s[x.mask(x.r+uint(j))] = x.s[x.mask(x.r+uint(j+1))]
	}
	x.w--
}

// Search returns the index of the first element with key >= the given key
// (i.e. the insertion point that keeps the queue sorted).
func (x *Queue[K, V]) Search(key K) int {
	return sort.Search(x.Len(), func(i int) bool {
		return x.at(i).key >= key
	})
}

// Insert places value at the sorted position for key, growing the backing
// array if full.
func (x *Queue[K, V]) Insert(key K, value V) {
	index := x.Search(key)
	l := x.Len()

	if l == len(x.s) {
		s := make([]item[K, V], uint(len(x.s))<<1)
		if len(s) == 0 {
			panic(`ringqueue: insert: overflow`)
		}

		i1, l1, l2 := x.bounds()
		l = l1 - i1
		if index < l {
			copy(s, x.s[i1:i1+index])
			s[index] = item[K, V]{key, value}
			copy(s[index+1:], x.s[i1+index:l1])
			l++
			copy(s[l:], x.s[:l2])
			l += l2
		} else {
			copy(s, x.s[i1:l1])
			copy(s[l:], x.s[:index-l])
			s[index] = item[K, V]{key, value}
			copy(s[index+1:], x.s[index-l:l2])
			l += l2 + 1
		}

		x.r = 0
		x.w = uint(l)
		x.s = s
		return
	}

	var i, j int
	if l == 0 {
		x.r = 0
		x.w = 0
	} else {
		i = int(x.mask(x.r))
		j = int(x.mask(x.w))
	}

	if l == 0 || i < j {
		copy(x.s[i+index+1:], x.s[i+index:j])
		x.s[i+index] = item[K, V]{key, value}
		x.w++
		return
	}

	if index >= len(x.s)-i {
		index -= len(x.s) - i
		copy(x.s[index+1:], x.s[index:j])
		x.s[index] = item[K, V]{key, value}
		x.w++
		return
	}

	copy(x.s[1:], x.s[:j])
	x.s[0] = x.s[len(x.s)-1]
	copy(x.s[i+index+1:], x.s[i+index:])
	x.s[i+index] = item[K, V]{key, value}
	x.w++
}

// grow doubles the backing array in place, preserving element order.
func (x *Queue[K, V]) grow() {
	s := make([]item[K, V], uint(len(x.s))<<1)
	if len(s) == 0 {
		panic(`ringqueue: grow: overflow`)
	}
	i1, l1, l2 := x.bounds()
	n := copy(s, x.s[i1:l1])
	n += copy(s[n:], x.s[:l2])
	x.r = 0
	x.w = uint(n)
	x.s = s
}

// PushBack inserts assuming key is >= every existing key (the common case
// for monotonically scheduled work): an O(1) append at the tail, growing
// the backing array first if full. Falls back to Insert's sorted placement
// when that assumption doesn't hold, so it is always safe to call.
func (x *Queue[K, V]) PushBack(key K, value V) {
	if l := x.Len(); l > 0 && x.at(l-1).key > key {
		x.Insert(key, value)
		return
	}
	if x.Len() == len(x.s) {
		x.grow()
	}
	x.s[x.mask(x.w)] = item[K, V]{key, value}
	x.w++
}
