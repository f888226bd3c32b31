package aoa

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoPulse is returned by a detector with MaxWait set when no crossing
// arrives in time
var ErrNoPulse = errors.New("no threshold crossing before max wait")

// DetectionEvent records the first sample that met the threshold
type DetectionEvent struct {
	Channel   Channel `json:"channel"`
	At        Instant `json:"at_us"`
	Amplitude uint16  `json:"amplitude"`
}

func eventFrom(s Sample) DetectionEvent {
	return DetectionEvent{Channel: s.Channel, At: s.At, Amplitude: s.Amplitude}
}

// CorrelationResult pairs a reference crossing with the matching
// secondary crossing, if one was found inside the window
type CorrelationResult struct {
	Reference DetectionEvent  `json:"reference"`
	Secondary *DetectionEvent `json:"secondary,omitempty"`
	DeltaT    time.Duration   `json:"delta_t"` // Secondary.At - Reference.At, only set when matched
}

// Matched reports whether a secondary crossing was found
func (r CorrelationResult) Matched() bool {
	return r.Secondary != nil
}

// ThresholdDetector polls the reference channel until it crosses the
// threshold
type ThresholdDetector struct {
	Source    Source
	Channel   Channel
	Threshold uint16

	// MaxWait bounds the search when positive. Zero waits forever.
	MaxWait time.Duration
}

// Detect blocks until a sample meets the threshold. ctx is only checked
// between reads so the process can shut down.
func (d *ThresholdDetector) Detect(ctx context.Context) (DetectionEvent, error) {
	done := ctx.Done()
	var deadline Instant
	if d.MaxWait > 0 {
		deadline = d.Source.Now().Add(d.MaxWait)
	}

	for {
		select {
		case <-done:
			return DetectionEvent{}, ctx.Err()
		default:
		}

		s, err := d.Source.Read(d.Channel)
		if err != nil {
			return DetectionEvent{}, fmt.Errorf("read reference channel %d: %w", d.Channel, err)
		}

		if s.Amplitude >= d.Threshold {
			return eventFrom(s), nil
		}

		if d.MaxWait > 0 && s.At >= deadline {
			return DetectionEvent{}, ErrNoPulse
		}
	}
}

// CorrelationWindow searches the secondary channel for a crossing within a
// bounded time after the reference crossing
type CorrelationWindow struct {
	Source    Source
	Channel   Channel
	Threshold uint16
	Window    time.Duration
}

// Correlate polls the secondary channel until it crosses the threshold or
// the window expires. A sample taken at or after the window boundary is
// never accepted, whatever its amplitude.
func (w *CorrelationWindow) Correlate(ctx context.Context, ref DetectionEvent) (CorrelationResult, error) {
	result := CorrelationResult{Reference: ref}
	done := ctx.Done()

	for {
		select {
		case <-done:
			return result, ctx.Err()
		default:
		}

		s, err := w.Source.Read(w.Channel)
		if err != nil {
			return result, fmt.Errorf("read secondary channel %d: %w", w.Channel, err)
		}

		elapsed := s.At.Sub(ref.At)
		if elapsed >= w.Window {
			return result, nil
		}

		if s.Amplitude >= w.Threshold {
			ev := eventFrom(s)
			result.Secondary = &ev
			result.DeltaT = elapsed
			return result, nil
		}
	}
}
