package monitor

import (
	"sync"
	"testing"
)

func TestRing_PushSnapshot(t *testing.T) {
	r := NewRing[int](5)

	for i := 0; i < 3; i++ {
		r.Push(i)
	}

	got := r.Snapshot()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Errorf("got[%d] = %d, want %d", i, v, i)
		}
	}

	latest, ok := r.Latest()
	if !ok || latest != 2 {
		t.Errorf("Latest() = %d, %v", latest, ok)
	}
}

func TestRing_Overwrite(t *testing.T) {
	r := NewRing[int](3)

	for i := 0; i < 7; i++ {
		r.Push(i)
	}

	got := r.Snapshot()
	want := []int{4, 5, 6}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %d, want %d", i, got[i], want[i])
		}
	}

	stats := r.Stats()
	if stats.Count != 3 || stats.TotalPushed != 7 || stats.Overwritten != 4 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestRing_Empty(t *testing.T) {
	r := NewRing[string](0)

	if _, ok := r.Latest(); ok {
		t.Error("Latest() on empty ring returned ok")
	}
	if r.Stats().Capacity != 1 {
		t.Errorf("Capacity = %d, want 1", r.Stats().Capacity)
	}
}

func TestRing_Concurrent(t *testing.T) {
	r := NewRing[int](100)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Push(j)
			}
		}()
	}
	wg.Wait()

	if r.Len() != 100 {
		t.Errorf("Len() = %d, want 100", r.Len())
	}
	if got := r.Stats().TotalPushed; got != 1000 {
		t.Errorf("TotalPushed = %d, want 1000", got)
	}
}
