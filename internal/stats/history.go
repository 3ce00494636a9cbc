package stats

import "time"

// RingBuffer holds a sliding window of samples, oldest first.
// It is not safe for concurrent use; owners serialize access.
type RingBuffer struct {
	data     []float64
	head     int
	capacity int
	isFull   bool
}

// NewRingBuffer creates a new ring buffer with the specified capacity.
// Capacities below one are raised to one.
func NewRingBuffer(size int) *RingBuffer {
	if size < 1 {
		size = 1
	}
	return &RingBuffer{
		data:     make([]float64, size),
		capacity: size,
	}
}

// Add inserts a new value, overwriting the oldest if full.
func (r *RingBuffer) Add(val float64) {
	r.data[r.head] = val
	r.head = (r.head + 1) % r.capacity
	if r.head == 0 {
		r.isFull = true
	}
}

// Snapshot returns a copy of the data ordered from oldest to newest.
func (r *RingBuffer) Snapshot() []float64 {
	result := make([]float64, 0, r.Len())
	if r.isFull {
		result = append(result, r.data[r.head:]...)
	}
	result = append(result, r.data[:r.head]...)
	return result
}

// Last returns the newest sample.
func (r *RingBuffer) Last() (float64, bool) {
	if r.Len() == 0 {
		return 0, false
	}
	return r.data[(r.head-1+r.capacity)%r.capacity], true
}

// Len returns the number of data points currently in the buffer.
func (r *RingBuffer) Len() int {
	if r.isFull {
		return r.capacity
	}
	return r.head
}

// rateTracker turns monotonically increasing counters into per-second rates.
type rateTracker struct {
	last   map[string]uint64
	lastAt time.Time
}

func newRateTracker() *rateTracker {
	return &rateTracker{last: make(map[string]uint64)}
}

// observe records the counters sampled at now and returns the per-key rates
// since the previous sample. Keys seen for the first time have no rate.
func (t *rateTracker) observe(counters map[string]uint64, now time.Time) map[string]float64 {
	rates := make(map[string]float64, len(counters))
	seconds := now.Sub(t.lastAt).Seconds()
	first := t.lastAt.IsZero()

	for key, current := range counters {
		prev, seen := t.last[key]
		t.last[key] = current
		if first || !seen || seconds <= 0 {
			continue
		}
		var delta uint64
		if current >= prev {
			delta = current - prev
		} else {
			// Counter reset: the interface restarted from zero.
			delta = current
		}
		rates[key] = float64(delta) / seconds
	}
	for key := range t.last {
		if _, ok := counters[key]; !ok {
			delete(t.last, key)
		}
	}
	t.lastAt = now
	return rates
}
