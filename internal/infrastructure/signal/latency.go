package signal

import (
	"sync"
	"time"
)

// LatencyWindow keeps the most recent round-trip samples and their running sum.
type LatencyWindow struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	count   int
	sum     time.Duration
}

func NewLatencyWindow(size int) *LatencyWindow {
	if size <= 0 {
		size = 50
	}
	return &LatencyWindow{samples: make([]time.Duration, size)}
}

func (w *LatencyWindow) Add(rtt time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.count == len(w.samples) {
		w.sum -= w.samples[w.next]
	} else {
		w.count++
	}
	w.samples[w.next] = rtt
	w.sum += rtt
	w.next = (w.next + 1) % len(w.samples)
}

// Average returns the mean of the samples in the window and how many there are.
func (w *LatencyWindow) Average() (time.Duration, int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.count == 0 {
		return 0, 0
	}
	return w.sum / time.Duration(w.count), w.count
}
