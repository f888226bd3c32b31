package adc

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/teslashibe/go-aoa/internal/aoa"
)

func TestSimSource_Basic(t *testing.T) {
	source := NewSimSource(DefaultSimConfig())

	s, err := source.Read(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s.Channel != 0 {
		t.Errorf("expected channel 0, got %d", s.Channel)
	}
	if s.At != 10 {
		t.Errorf("expected first read at 10µs, got %d", s.At)
	}
	if source.Now() != s.At {
		t.Errorf("expected clock %d, got %d", s.At, source.Now())
	}

	if !source.Healthy() {
		t.Error("expected sim to be healthy")
	}
	if source.Name() != "sim" {
		t.Errorf("expected name 'sim', got %s", source.Name())
	}
	if source.Reads() != 1 {
		t.Errorf("expected 1 read, got %d", source.Reads())
	}
}

func TestSimSource_Pulse(t *testing.T) {
	cfg := DefaultSimConfig()
	cfg.Noise = 0
	source := NewSimSource(cfg)

	arrival := source.Arrival(0, 1)
	if err := source.Sleep(context.Background(), time.Duration(arrival)*time.Microsecond); err != nil {
		t.Fatalf("Sleep() error = %v", err)
	}

	s, _ := source.Read(0)
	if s.Amplitude != cfg.Peak {
		t.Errorf("expected peak %d during pulse, got %d", cfg.Peak, s.Amplitude)
	}

	if err := source.Sleep(context.Background(), cfg.PulseWidth); err != nil {
		t.Fatalf("Sleep() error = %v", err)
	}

	s, _ = source.Read(0)
	if s.Amplitude != cfg.Baseline {
		t.Errorf("expected baseline %d after pulse, got %d", cfg.Baseline, s.Amplitude)
	}
}

func TestSimSource_ArrivalOffset(t *testing.T) {
	cfg := DefaultSimConfig()
	source := NewSimSource(cfg)

	dt := source.Arrival(1, 3).Sub(source.Arrival(0, 3))
	want := aoa.DelayForAngle(cfg.AngleDeg, cfg.Speed, cfg.Spacing).Truncate(time.Microsecond)
	if dt != want {
		t.Errorf("expected offset %v, got %v", want, dt)
	}
}

func TestSimSource_Sweep(t *testing.T) {
	cfg := DefaultSimConfig()
	cfg.Sweep = true
	source := NewSimSource(cfg)

	if a := source.Angle(0); a != 0 {
		t.Errorf("expected 0° at pulse 0, got %f", a)
	}

	quarter := int64(cfg.SweepPulses / 4)
	if a := source.Angle(quarter); math.Abs(a-cfg.SweepDeg) > 1e-9 {
		t.Errorf("expected %f° at quarter sweep, got %f", cfg.SweepDeg, a)
	}

	source.SetAngle(12)
	if a := source.Angle(quarter); a != 12 {
		t.Errorf("expected 12° after SetAngle, got %f", a)
	}
}

func TestSimSource_Tracker(t *testing.T) {
	tests := []struct {
		name  string
		angle float64
	}{
		{"broadside", 0},
		{"thirty", 30},
		{"fortyfive", 45},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSimConfig()
			cfg.AngleDeg = tt.angle
			source := NewSimSource(cfg)

			tracker := aoa.NewTracker(source, aoa.DefaultTrackerConfig(), nil, slog.Default())

			var last aoa.Cycle
			for i := 0; i < 7; i++ {
				cycle, err := tracker.RunCycle(context.Background())
				if err != nil {
					t.Fatalf("RunCycle() error = %v", err)
				}
				if cycle.Outcome != aoa.OutcomeMatched {
					t.Fatalf("cycle %d outcome = %v, want matched", i, cycle.Outcome)
				}
				last = cycle
			}

			// One read of latency on each crossing bounds the error
			if math.Abs(last.Measurement.Angle-tt.angle) > 4 {
				t.Errorf("expected angle ~%f, got %f", tt.angle, last.Measurement.Angle)
			}
			if !last.Measurement.Filled {
				t.Error("expected median history to be filled")
			}
		})
	}
}

func TestSimSource_Deterministic(t *testing.T) {
	a := NewSimSource(DefaultSimConfig())
	b := NewSimSource(DefaultSimConfig())

	for i := 0; i < 100; i++ {
		sa, _ := a.Read(1)
		sb, _ := b.Read(1)
		if sa != sb {
			t.Fatalf("read %d differs: %+v vs %+v", i, sa, sb)
		}
	}
}

func TestSimSource_SleepCanceled(t *testing.T) {
	source := NewSimSource(DefaultSimConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := source.Sleep(ctx, time.Millisecond); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if source.Now() != 0 {
		t.Errorf("expected clock unchanged, got %d", source.Now())
	}
}

func TestSimSource_Close(t *testing.T) {
	source := NewSimSource(DefaultSimConfig())

	if err := source.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if source.Healthy() {
		t.Error("expected unhealthy after close")
	}

	if _, err := source.Read(0); !errors.Is(err, aoa.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestSimSource_SetHealthy(t *testing.T) {
	source := NewSimSource(DefaultSimConfig())

	source.SetHealthy(false)

	if source.Healthy() {
		t.Error("expected unhealthy after SetHealthy(false)")
	}
}
