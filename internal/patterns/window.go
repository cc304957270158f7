package patterns

import "sync"

// window is a fixed-capacity ring buffer of observations.
type window struct {
	mu    sync.Mutex
	buf   []float64
	start int
	count int
}

func newWindow(size int) *window {
	return &window{buf: make([]float64, size)}
}

// push appends v, evicting the oldest value when full, and returns the values oldest first.
func (w *window) push(v float64) []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.count < len(w.buf) {
		w.buf[(w.start+w.count)%len(w.buf)] = v
		w.count++
	} else {
		w.buf[w.start] = v
		w.start = (w.start + 1) % len(w.buf)
	}
	return w.snapshotLocked()
}

func (w *window) values() []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

func (w *window) snapshotLocked() []float64 {
	out := make([]float64, w.count)
	for i := 0; i < w.count; i++ {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}
