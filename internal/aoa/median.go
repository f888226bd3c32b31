package aoa

import "slices"

// MedianHistory is a fixed-capacity circular buffer of recent angle
// estimates. All storage is allocated up front; Push never allocates.
type MedianHistory struct {
	buf     []float64
	scratch []float64
	pos     int
	count   int
	wrapped bool
}

// NewMedianHistory creates a history holding the last n values.
// n below 1 is treated as 1.
func NewMedianHistory(n int) *MedianHistory {
	if n < 1 {
		n = 1
	}
	return &MedianHistory{
		buf:     make([]float64, n),
		scratch: make([]float64, n),
	}
}

// Push stores v, overwriting the oldest value once full, and returns the
// median of the occupied slots
func (h *MedianHistory) Push(v float64) float64 {
	h.buf[h.pos] = v
	h.pos++
	if h.pos == len(h.buf) {
		h.pos = 0
		h.wrapped = true
	}
	if h.count < len(h.buf) {
		h.count++
	}
	return h.Median()
}

// Median returns the median of the occupied slots, or 0 if empty.
// With an even count the two middle values are averaged.
func (h *MedianHistory) Median() float64 {
	if h.count == 0 {
		return 0
	}

	// Until the first wrap only buf[:count] holds real values
	s := h.scratch[:h.count]
	copy(s, h.buf[:h.count])
	slices.Sort(s)

	mid := h.count / 2
	if h.count%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

// Filled reports whether the buffer has been filled at least once
func (h *MedianHistory) Filled() bool {
	return h.wrapped || h.count == len(h.buf)
}

// Len returns the number of stored values
func (h *MedianHistory) Len() int {
	return h.count
}

// Cap returns the window length
func (h *MedianHistory) Cap() int {
	return len(h.buf)
}

// Values returns the stored values in chronological order
func (h *MedianHistory) Values() []float64 {
	if h.count == 0 {
		return nil
	}
	result := make([]float64, h.count)
	if h.count < len(h.buf) {
		copy(result, h.buf[:h.count])
	} else {
		n := copy(result, h.buf[h.pos:])
		copy(result[n:], h.buf[:h.pos])
	}
	return result
}

// Reset empties the history
func (h *MedianHistory) Reset() {
	h.pos = 0
	h.count = 0
	h.wrapped = false
}
