package utils

import (
	"slices"
	"sync"
	"time"
)

// DurationWindow keeps the most recent durations in a fixed ring and summarises them.
// The zero value is not usable; create one with NewDurationWindow.
type DurationWindow struct {
	mu     sync.Mutex
	ring   []time.Duration
	next   int
	filled int
	sum    time.Duration
}

// NewDurationWindow returns a window holding up to size samples.
func NewDurationWindow(size int) *DurationWindow {
	if size <= 0 {
		size = 512
	}
	return &DurationWindow{ring: make([]time.Duration, size)}
}

// Observe records d, evicting the oldest sample once the ring is full.
func (w *DurationWindow) Observe(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.filled == len(w.ring) {
		w.sum -= w.ring[w.next]
	} else {
		w.filled++
	}
	w.ring[w.next] = d
	w.sum += d
	w.next = (w.next + 1) % len(w.ring)
}

// Mean is the average of the samples in the window, or zero when empty.
func (w *DurationWindow) Mean() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.filled == 0 {
		return 0
	}
	return w.sum / time.Duration(w.filled)
}

// Percentile returns the nearest-rank p-th percentile (0-100), or zero when empty.
func (w *DurationWindow) Percentile(p float64) time.Duration {
	w.mu.Lock()
	sorted := slices.Clone(w.ring[:w.filled])
	w.mu.Unlock()

	if len(sorted) == 0 {
		return 0
	}
	slices.Sort(sorted)
	idx := int(p / 100 * float64(len(sorted)-1))
	return sorted[max(0, min(idx, len(sorted)-1))]
}
