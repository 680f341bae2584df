package host

import (
	"errors"
	"sync"
	"testing"
)

func TestSampleCacheUpdateReplaces(t *testing.T) {
	cache := NewSampleCache[int, uint64]()
	err := cache.Update(func(prev map[int]uint64) (map[int]uint64, error) {
		if len(prev) != 0 {
			t.Fatalf("fresh cache has %d samples", len(prev))
		}
		return map[int]uint64{1: 10, 2: 20}, nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	err = cache.Update(func(prev map[int]uint64) (map[int]uint64, error) {
		if prev[1] != 10 || prev[2] != 20 {
			t.Fatalf("prev = %v", prev)
		}
		return map[int]uint64{2: 25}, nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if cache.Len() != 1 {
		t.Fatalf("Len = %d, want 1 after wholesale replace", cache.Len())
	}
}

func TestSampleCacheUpdateErrorKeepsPrevious(t *testing.T) {
	cache := NewSampleCache[string, int]()
	_ = cache.Update(func(map[string]int) (map[string]int, error) {
		return map[string]int{"cpu": 1}, nil
	})
	sentinel := errors.New("boom")
	err := cache.Update(func(map[string]int) (map[string]int, error) {
		return map[string]int{}, sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want sentinel", err)
	}
	if cache.Len() != 1 {
		t.Fatalf("Len = %d, cache must be untouched on failure", cache.Len())
	}
}

func TestSampleCacheSerializesUpdates(t *testing.T) {
	cache := NewSampleCache[string, int]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cache.Update(func(prev map[string]int) (map[string]int, error) {
				return map[string]int{"n": prev["n"] + 1}, nil
			})
		}()
	}
	wg.Wait()

	var got int
	_ = cache.Update(func(prev map[string]int) (map[string]int, error) {
		got = prev["n"]
		return prev, nil
	})
	if got != 50 {
		t.Fatalf("counter = %d, want 50", got)
	}
}
