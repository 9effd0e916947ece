package queue

import "testing"

func TestRingWrapAround(t *testing.T) {
	q := New[string](4)
	q.Set(10, "a")
	q.Set(14, "b") // same slot as 10 (mod 4)
	v, ok := q.Get(14)
	if !ok || v != "b" {
		t.Fatalf("Get(14) = %q, %v", v, ok)
	}
	q.Clear(14)
	if q.Occupied(10) {
		t.Fatal("clearing slot 14 must also clear the aliased slot 10")
	}
}

func TestHolderPushPop(t *testing.T) {
	h := NewHolder[int](0)
	if h.Len() != 0 {
		t.Fatal("expected empty holder")
	}
	h.Push(1)
	h.Push(2)
	<-h.Wait()
	v, ok := h.Pop()
	if !ok || v != 1 {
		t.Fatalf("Pop = %d, %v, want 1", v, ok)
	}
	v, ok = h.Pop()
	if !ok || v != 2 {
		t.Fatalf("Pop = %d, %v, want 2", v, ok)
	}
	if _, ok := h.Pop(); ok {
		t.Fatal("expected empty holder after draining")
	}
}
