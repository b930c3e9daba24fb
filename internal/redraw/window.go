// File: internal/redraw/window.go
package redraw

import "math"

// window is a bounded sliding window of float samples with rolling
// mean/standard-deviation, used for both frame-diff and network-delta
// z-score tests.
type window struct {
	cap    int
	values []float64
}

func newWindow(capacity int) *window {
	return &window{cap: capacity}
}

func (w *window) push(v float64) {
	w.values = append(w.values, v)
	if len(w.values) > w.cap {
		w.values = w.values[1:]
	}
}

func (w *window) len() int { return len(w.values) }

func (w *window) mean() float64 {
	if len(w.values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range w.values {
		sum += v
	}
	return sum / float64(len(w.values))
}

func (w *window) stddev() float64 {
	n := len(w.values)
	if n < 2 {
		return 0
	}
	m := w.mean()
	var sum float64
	for _, v := range w.values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(n))
}

// zScore places v relative to the window. With zero spread the score
// collapses to the sign of (v - mean) so flat traffic still compares sanely.
func (w *window) zScore(v float64) float64 {
	m := w.mean()
	sd := w.stddev()
	if sd == 0 {
		if v > m {
			return 1
		}
		if v < m {
			return -1
		}
		return 0
	}
	return (v - m) / sd
}
