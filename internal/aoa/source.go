// Package aoa provides angle-of-arrival estimation for a two-element
// acoustic sensor array
package aoa

import (
	"context"
	"errors"
	"time"
)

// Channel identifies an analog input on the sample source
type Channel uint8

// Instant is a monotonic timestamp in microseconds
type Instant int64

// Sub returns the duration i-j
func (i Instant) Sub(j Instant) time.Duration {
	return time.Duration(i-j) * time.Microsecond
}

// Add offsets the instant by d, truncated to whole microseconds
func (i Instant) Add(d time.Duration) Instant {
	return i + Instant(d/time.Microsecond)
}

// Micros returns the instant as raw microseconds
func (i Instant) Micros() int64 {
	return int64(i)
}

// Sample is a single quantized reading from one channel
type Sample struct {
	Channel   Channel `json:"channel"`
	Amplitude uint16  `json:"amplitude"`
	At        Instant `json:"at_us"`
}

// ErrClosed is returned by sources that have been closed
var ErrClosed = errors.New("sample source closed")

// Clock provides the monotonic time base shared by the source and the
// blanking gate
type Clock interface {
	// Now returns the current instant
	Now() Instant

	// Sleep blocks for d or until ctx is done
	Sleep(ctx context.Context, d time.Duration) error
}

// Source reads quantized samples from the analog front end
type Source interface {
	Clock

	// Read samples the channel now. The call blocks only for the
	// acquisition latency of the hardware.
	Read(ch Channel) (Sample, error)

	// Close releases hardware resources
	Close() error

	// Healthy returns true if the source is operational
	Healthy() bool

	// Name returns the source type name
	Name() string
}
