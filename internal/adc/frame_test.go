package adc

import (
	"errors"
	"testing"

	"github.com/teslashibe/go-aoa/internal/aoa"
)

func TestDecodeFrame(t *testing.T) {
	data := AppendFrame(nil, Frame{Amplitude: 0x0312, Micros: 0x01020304})

	if len(data) != FrameSize {
		t.Fatalf("expected %d bytes, got %d", FrameSize, len(data))
	}

	f, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if f.Amplitude != 0x0312 {
		t.Errorf("expected amplitude 0x0312, got 0x%04X", f.Amplitude)
	}
	if f.Micros != 0x01020304 {
		t.Errorf("expected micros 0x01020304, got 0x%08X", f.Micros)
	}
}

func TestDecodeFrame_Short(t *testing.T) {
	_, err := DecodeFrame([]byte{0, 1, 2})
	if !errors.Is(err, ErrShortFrame) {
		t.Errorf("expected ErrShortFrame, got %v", err)
	}
}

func TestDecodeFrame_Status(t *testing.T) {
	data := AppendFrame(nil, Frame{Status: 3, Amplitude: 10})

	_, err := DecodeFrame(data)
	if err == nil {
		t.Error("expected error for nonzero status")
	}
}

func TestClockExtender(t *testing.T) {
	var c clockExtender

	if got := c.extend(100); got != 100 {
		t.Errorf("expected 100, got %d", got)
	}
	if got := c.extend(0xFFFFFFF0); got != 0xFFFFFFF0 {
		t.Errorf("expected 0xFFFFFFF0, got %d", got)
	}

	// Counter wrapped
	got := c.extend(16)
	want := aoa.Instant(1<<32 + 16)
	if got != want {
		t.Errorf("expected %d after wrap, got %d", want, got)
	}

	if c.current() != want {
		t.Errorf("expected current %d, got %d", want, c.current())
	}
}

func TestClockExtender_Restart(t *testing.T) {
	var c clockExtender

	c.extend(0xFFFFFFF0)
	before := c.extend(500)

	c.restart()

	if got := c.current(); got != before {
		t.Errorf("expected current %d right after restart, got %d", before, got)
	}

	// Device counter starts again from zero
	got := c.extend(20)
	if got != before+20 {
		t.Errorf("expected %d, got %d", before+20, got)
	}
	if got <= before {
		t.Errorf("instant went backwards: %d after %d", got, before)
	}

	// Wraps still extend from the new base
	c.extend(0xFFFFFFFF)
	if got := c.extend(1); got != before+1<<32+1 {
		t.Errorf("expected %d after wrap, got %d", before+1<<32+1, got)
	}
}
