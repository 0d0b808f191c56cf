// Package work provides admission control for concurrent fan-out work.
// The limiting resource is external API capacity, not goroutine count, so
// callers run on as many goroutines as they like and the weighted semaphore
// throttles how many simultaneous outbound calls are in flight.
package work

import (
	"fmt"
	"sync"
)

// WeightedSemaphore gates concurrent work by weight. A caller acquiring
// weight N reserves capacity for N simultaneous outbound calls. Release is
// broadcast rather than single-wake: freeing capacity may satisfy several
// smaller waiters at once, and waking them all avoids starving them behind
// one large request. There is no FIFO ordering among waiters.
type WeightedSemaphore struct {
	mu        sync.Mutex
	cond      *sync.Cond
	capacity  int
	available int
}

// NewWeightedSemaphore creates a semaphore with the given total capacity.
func NewWeightedSemaphore(capacity int) (*WeightedSemaphore, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("weighted semaphore capacity must be positive, got %d", capacity)
	}
	s := &WeightedSemaphore{
		capacity:  capacity,
		available: capacity,
	}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// Acquire blocks until weight units of capacity are available, then reserves
// them and returns a release function. The release function is idempotent and
// must be called exactly when the protected work finishes, typically via
// defer, so capacity is returned on both success and panic paths.
//
// A weight larger than the total capacity can never be satisfied and is
// rejected with an error instead of blocking forever.
func (s *WeightedSemaphore) Acquire(weight int) (release func(), err error) {
	if weight <= 0 {
		return nil, fmt.Errorf("acquire weight must be positive, got %d", weight)
	}
	if weight > s.capacity {
		return nil, fmt.Errorf("acquire weight %d exceeds semaphore capacity %d", weight, s.capacity)
	}

	s.mu.Lock()
	for s.available < weight {
		s.cond.Wait()
	}
	s.available -= weight
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.available += weight
			s.mu.Unlock()
			s.cond.Broadcast()
		})
	}, nil
}

// Available reports the capacity not currently reserved.
func (s *WeightedSemaphore) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

// Capacity reports the fixed total capacity.
func (s *WeightedSemaphore) Capacity() int {
	return s.capacity
}
