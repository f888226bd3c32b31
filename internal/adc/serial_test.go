package adc

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/teslashibe/go-aoa/internal/aoa"
)

// fakePort answers each request with the next queued frame. Replies in
// script are delivered one per request, as the bridge would send them.
type fakePort struct {
	requests [][]byte
	replies  bytes.Buffer
	script   [][]byte
	writeErr error
	closed   bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.requests = append(p.requests, append([]byte(nil), b...))
	if len(p.script) > 0 {
		p.replies.Write(p.script[0])
		p.script = p.script[1:]
	}
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	return p.replies.Read(b)
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func (p *fakePort) queue(f Frame) {
	p.replies.Write(AppendFrame(nil, f))
}

func TestSerialSource_Read(t *testing.T) {
	port := &fakePort{}
	port.queue(Frame{Amplitude: 812, Micros: 1234})

	source := newSerialSource(port, DefaultSerialConfig(), slog.Default())

	s, err := source.Read(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s.Channel != 1 || s.Amplitude != 812 || s.At != 1234 {
		t.Errorf("unexpected sample %+v", s)
	}

	if len(port.requests) != 1 || !bytes.Equal(port.requests[0], []byte{'A', 1}) {
		t.Errorf("unexpected requests %v", port.requests)
	}
}

func TestSerialSource_Now(t *testing.T) {
	port := &fakePort{}
	port.queue(Frame{Micros: 500})

	source := newSerialSource(port, DefaultSerialConfig(), slog.Default())

	if now := source.Now(); now != 500 {
		t.Errorf("expected 500, got %d", now)
	}
	if !bytes.Equal(port.requests[0], []byte{'T', 0}) {
		t.Errorf("expected clock request, got %v", port.requests[0])
	}

	// Failed clock reads keep the last known instant
	if now := source.Now(); now != 500 {
		t.Errorf("expected 500 after failed read, got %d", now)
	}
}

func TestSerialSource_Unhealthy(t *testing.T) {
	port := &fakePort{writeErr: errors.New("device gone")}

	cfg := DefaultSerialConfig()
	cfg.MaxConsecutiveErrors = 3
	source := newSerialSource(port, cfg, slog.Default())

	for i := 0; i < 3; i++ {
		if !source.Healthy() {
			t.Fatalf("unhealthy after %d errors", i)
		}
		if _, err := source.Read(0); err == nil {
			t.Fatal("expected error")
		}
	}

	if source.Healthy() {
		t.Error("expected unhealthy after 3 consecutive errors")
	}

	// Recovers on the next good frame
	port.writeErr = nil
	port.queue(Frame{Amplitude: 1})
	if _, err := source.Read(0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !source.Healthy() {
		t.Error("expected healthy after recovery")
	}
}

func TestSerialSource_ShortReply(t *testing.T) {
	port := &fakePort{}
	port.replies.Write([]byte{0, 1})

	source := newSerialSource(port, DefaultSerialConfig(), slog.Default())

	_, err := source.Read(0)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestSerialSource_LateReplyResync(t *testing.T) {
	slow := AppendFrame(nil, Frame{Amplitude: 999, Micros: 100})

	port := &fakePort{}
	port.script = append(port.script, slow[:3])
	for i := 0; i < 5; i++ {
		port.script = append(port.script, AppendFrame(nil, Frame{Amplitude: uint16(10 + i), Micros: uint32(200 + i)}))
	}

	cfg := DefaultSerialConfig()
	cfg.MaxConsecutiveErrors = 1
	source := newSerialSource(port, cfg, slog.Default())

	if _, err := source.Read(0); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}

	// Rest of the timed-out reply arrives after the read gave up
	port.replies.Write(slow[3:])

	for i := 0; i < 5; i++ {
		s, err := source.Read(0)
		if err != nil {
			t.Fatalf("read %d: unexpected error: %v", i, err)
		}
		if want := uint16(10 + i); s.Amplitude != want {
			t.Errorf("read %d: amplitude = %d, want %d", i, s.Amplitude, want)
		}
		if want := aoa.Instant(200 + i); s.At != want {
			t.Errorf("read %d: at = %d, want %d", i, s.At, want)
		}
	}

	if !source.Healthy() {
		t.Error("expected healthy after resync")
	}
}

func TestSerialSource_Close(t *testing.T) {
	port := &fakePort{}
	source := newSerialSource(port, DefaultSerialConfig(), slog.Default())

	if err := source.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !port.closed {
		t.Error("expected port closed")
	}
	if source.Healthy() {
		t.Error("expected unhealthy after close")
	}
	if _, err := source.Read(0); !errors.Is(err, aoa.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if source.Name() != "serial" {
		t.Errorf("expected name 'serial', got %s", source.Name())
	}
}
