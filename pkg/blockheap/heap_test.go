package blockheap

import (
	"math/rand"
	"testing"
)

func TestInsertDelMinOrdering(t *testing.T) {
	h := New(6)
	keys := []uint64{5, 3, 8, 1, 9, 2}
	for _, k := range keys {
		h.Insert(k, k)
	}

	var got []uint64
	for h.Size() > 0 {
		got = append(got, h.DelMin().(uint64))
	}

	want := []uint64{1, 2, 3, 5, 8, 9}
	if len(got) != len(want) {
		t.Fatalf("got %d values, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestPeekMinDoesNotRemove(t *testing.T) {
	h := New(3)
	h.Insert(7, "seven")
	h.Insert(2, "two")

	if got := h.PeekMin(); got != "two" {
		t.Fatalf("PeekMin() = %v, want %q", got, "two")
	}
	if h.Size() != 2 {
		t.Fatalf("Size() = %d after PeekMin, want 2", h.Size())
	}
}

func TestInsertBeyondCapacityPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic inserting beyond capacity")
		}
	}()
	h := New(1)
	h.Insert(1, nil)
	h.Insert(2, nil)
}

func TestHeapPropertyUnderRandomInsertDelete(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	const n = 500

	keys := r.Perm(n)
	h := New(n)
	for _, k := range keys {
		h.Insert(uint64(k), k)
		if !h.Verify() {
			t.Fatalf("heap property violated after inserting %d", k)
		}
	}

	var last uint64
	for i := 0; i < n; i++ {
		min := h.DelMin().(int)
		if uint64(min) < last && i > 0 {
			t.Fatalf("DelMin returned %d after %d, violates ordering", min, last)
		}
		last = uint64(min)
		if !h.Verify() {
			t.Fatalf("heap property violated after deleting %d", min)
		}
	}
}
