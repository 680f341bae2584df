package host

import "sync"

// SampleCache keeps the previous observation of a collector keyed by label or pid.
// Every read-previous, compute, write-current sequence runs under one lock, so
// overlapping callers never diff against each other's in-flight reads.
type SampleCache[K comparable, V any] struct {
	mu      sync.Mutex
	samples map[K]V
}

func NewSampleCache[K comparable, V any]() *SampleCache[K, V] {
	return &SampleCache[K, V]{samples: make(map[K]V)}
}

// Update calls fn with the cached samples and replaces them with the map fn returns.
// fn must not modify prev. When fn fails the cache is left untouched.
func (c *SampleCache[K, V]) Update(fn func(prev map[K]V) (map[K]V, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := fn(c.samples)
	if err != nil {
		return err
	}
	if next == nil {
		next = make(map[K]V)
	}
	c.samples = next
	return nil
}

func (c *SampleCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples)
}
