package aoa

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// span is a half-open interval [from, to) during which a channel reads high.
// to == 0 means the channel stays high.
type span struct {
	from, to Instant
}

// scriptSource is a virtual-clock test source. Every read advances the
// clock by step and returns high on channels whose span covers the new
// instant.
type scriptSource struct {
	mu    sync.Mutex
	now   Instant
	step  time.Duration
	high  uint16
	low   uint16
	spans map[Channel][]span
	reads []Sample
	quiet bool // skip recording reads
	err   error
}

func newScriptSource(step time.Duration) *scriptSource {
	return &scriptSource{
		step:  step,
		high:  900,
		low:   100,
		spans: make(map[Channel][]span),
	}
}

func (s *scriptSource) pulse(ch Channel, from, to Instant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spans[ch] = append(s.spans[ch], span{from: from, to: to})
}

func (s *scriptSource) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *scriptSource) Read(ch Channel) (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return Sample{}, s.err
	}

	s.now = s.now.Add(s.step)
	amp := s.low
	for _, sp := range s.spans[ch] {
		if s.now >= sp.from && (sp.to == 0 || s.now < sp.to) {
			amp = s.high
			break
		}
	}

	sample := Sample{Channel: ch, Amplitude: amp, At: s.now}
	if !s.quiet {
		s.reads = append(s.reads, sample)
	}
	return sample, nil
}

func (s *scriptSource) Now() Instant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *scriptSource) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.now = s.now.Add(d)
	s.mu.Unlock()
	return nil
}

func (s *scriptSource) Close() error  { return nil }
func (s *scriptSource) Healthy() bool { return true }
func (s *scriptSource) Name() string  { return "script" }

// firstReadAfter returns the first read of ch strictly after t
func (s *scriptSource) firstReadAfter(ch Channel, t Instant) (Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reads {
		if r.Channel == ch && r.At > t {
			return r, true
		}
	}
	return Sample{}, false
}

var _ Source = (*scriptSource)(nil)

func TestInstant_SubAdd(t *testing.T) {
	a := Instant(1000)
	b := a.Add(250 * time.Microsecond)

	if b != 1250 {
		t.Errorf("Add() = %d, want 1250", b)
	}

	if got := b.Sub(a); got != 250*time.Microsecond {
		t.Errorf("Sub() = %v, want 250µs", got)
	}

	if got := a.Sub(b); got != -250*time.Microsecond {
		t.Errorf("Sub() = %v, want -250µs", got)
	}

	if a.Micros() != 1000 {
		t.Errorf("Micros() = %d, want 1000", a.Micros())
	}
}

func TestScriptSource_Error(t *testing.T) {
	src := newScriptSource(10 * time.Microsecond)
	want := errors.New("adc fault")
	src.setErr(want)

	if _, err := src.Read(0); !errors.Is(err, want) {
		t.Errorf("Read() error = %v, want %v", err, want)
	}
}
