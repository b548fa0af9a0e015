package audio

import (
	"sync"
	"sync/atomic"
)

// Ring is a bounded single-producer single-consumer float32 sample buffer.
// The capture callback pushes, the graph feeder pops. One slot is kept empty
// to distinguish full from empty, so the usable capacity is size-1.
//
// Push never blocks: samples that do not fit are dropped and counted.
// PopExact is all-or-nothing: it only succeeds when the requested count is
// available.
type Ring struct {
	buf  []float32
	size uint64

	head atomic.Uint64 // write index, owned by producer
	tail atomic.Uint64 // read index, owned by consumer

	mu      sync.Mutex
	pushed  uint64
	popped  uint64
	dropped uint64
}

// NewRing creates a ring holding at least capacity samples.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		buf:  make([]float32, capacity+1),
		size: uint64(capacity + 1),
	}
}

// Push copies as many samples as fit and returns the number accepted.
// Safe to call from the audio callback; it never blocks.
func (r *Ring) Push(samples []float32) int {
	head := r.head.Load()
	tail := r.tail.Load()

	free := r.size - 1 - (head - tail)
	n := uint64(len(samples))
	accepted := n
	if accepted > free {
		accepted = free
	}

	w := head % r.size
	first := r.size - w
	if first > accepted {
		first = accepted
	}
	copy(r.buf[w:w+first], samples[:first])
	copy(r.buf[:accepted-first], samples[first:accepted])

	r.head.Store(head + accepted)

	r.mu.Lock()
	r.pushed += accepted
	r.dropped += n - accepted
	r.mu.Unlock()

	return int(accepted)
}

// PopExact fills dst completely from the ring. It returns false without
// consuming anything when fewer than len(dst) samples are buffered.
func (r *Ring) PopExact(dst []float32) bool {
	head := r.head.Load()
	tail := r.tail.Load()

	avail := head - tail
	n := uint64(len(dst))
	if avail < n {
		return false
	}

	rd := tail % r.size
	first := r.size - rd
	if first > n {
		first = n
	}
	copy(dst[:first], r.buf[rd:rd+first])
	copy(dst[first:], r.buf[:n-first])

	r.tail.Store(tail + n)

	r.mu.Lock()
	r.popped += n
	r.mu.Unlock()

	return true
}

// Len returns the number of samples currently buffered.
func (r *Ring) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Cap returns the usable capacity in samples.
func (r *Ring) Cap() int {
	return int(r.size - 1)
}

// RingStats is a point-in-time snapshot of ring counters.
type RingStats struct {
	Pushed  uint64
	Popped  uint64
	Dropped uint64
	Depth   int
}

// Stats returns a snapshot of the ring counters.
func (r *Ring) Stats() RingStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RingStats{
		Pushed:  r.pushed,
		Popped:  r.popped,
		Dropped: r.dropped,
		Depth:   r.Len(),
	}
}
