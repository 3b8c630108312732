package ringqueue

import (
	"math/rand"
	"testing"
)

func TestQueue_FIFOOrder(t *testing.T) {
	q := New[int64, string](4)

	q.PushBack(10, "a")
	q.PushBack(20, "b")
	q.PushBack(30, "c")

	if n := q.Len(); n != 3 {
		t.Fatalf("expected len 3, got %d", n)
	}

	for _, want := range []string{"a", "b", "c"} {
		key, value, ok := q.PopFront()
		if !ok {
			t.Fatalf("expected element, got none")
		}
		if value != want {
			t.Fatalf("expected %q, got %q (key %d)", want, value, key)
		}
	}

	if _, _, ok := q.PopFront(); ok {
		t.Fatal("expected queue to be empty")
	}
}

func TestQueue_GrowsPastInitialCapacity(t *testing.T) {
	q := New[int64, int](1)

	const n = 50
	for i := 0; i < n; i++ {
		q.PushBack(int64(i), i)
	}

	if q.Len() != n {
		t.Fatalf("expected len %d, got %d", n, q.Len())
	}

	for i := 0; i < n; i++ {
		_, value, ok := q.PopFront()
		if !ok || value != i {
			t.Fatalf("expected %d, got %d (ok=%v)", i, value, ok)
		}
	}
}

func TestQueue_InsertOutOfOrder(t *testing.T) {
	q := New[int64, string](4)

	q.Insert(30, "c")
	q.Insert(10, "a")
	q.Insert(20, "b")

	for _, want := range []string{"a", "b", "c"} {
		_, value, _ := q.PopFront()
		if value != want {
			t.Fatalf("expected %q, got %q", want, value)
		}
	}
}

func TestQueue_Remove(t *testing.T) {
	q := New[int64, string](4)
	q.PushBack(1, "a")
	q.PushBack(2, "b")
	q.PushBack(3, "c")

	q.Remove(1) // removes "b"

	for _, want := range []string{"a", "c"} {
		_, value, _ := q.PopFront()
		if value != want {
			t.Fatalf("expected %q, got %q", want, value)
		}
	}
}

func TestQueue_RandomizedAgainstSlice(t *testing.T) {
	q := New[int64, int](1)
	var model []int

	r := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		switch r.Intn(3) {
		case 0, 1:
			v := r.Intn(1000)
			q.PushBack(int64(v), v)
			model = append(model, v)
			// keep model sorted to mirror PushBack's sorted placement
			for j := len(model) - 1; j > 0 && model[j-1] > model[j]; j-- {
				model[j-1], model[j] = model[j], model[j-1]
			}
		default:
			if q.Len() == 0 {
				continue
			}
			_, value, ok := q.PopFront()
			if !ok {
				t.Fatal("expected element")
			}
			if value != model[0] {
				t.Fatalf("expected %d, got %d", model[0], value)
			}
			model = model[1:]
		}
	}
}
