package stream

import (
	"slices"
	"testing"
)

func TestWindow_NeverExceedsCapacity(t *testing.T) {
	for capacity := 1; capacity <= 4; capacity++ {
		w := NewWindow(capacity)
		for i := 0; i < 10; i++ {
			w.Push(string(rune('a' + i)))
			if w.Len() > capacity {
				t.Fatalf("capacity %d: len %d", capacity, w.Len())
			}
		}
		last, _ := w.Last()
		if last != "j" {
			t.Fatalf("capacity %d: last %q", capacity, last)
		}
	}
}

func TestWindow_EvictsOldest(t *testing.T) {
	w := NewWindow(3)
	w.Push("a", "b", "c", "d")
	if got := w.Items(); !slices.Equal(got, []string{"b", "c", "d"}) {
		t.Fatalf("items: got %v", got)
	}
	if w.Contains("a") || !w.Contains("b") {
		t.Fatal("eviction order wrong")
	}
}

func TestWindow_ReplaceAndEmpty(t *testing.T) {
	w := NewWindow(0)
	if w.Cap() != 1 {
		t.Fatalf("minimum capacity: got %d", w.Cap())
	}
	if _, ok := w.Last(); ok {
		t.Fatal("empty window has no anchor")
	}
	w.Replace([]string{"x", "y"})
	if got := w.Items(); !slices.Equal(got, []string{"y"}) {
		t.Fatalf("replace: got %v", got)
	}
}
