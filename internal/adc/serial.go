package adc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/teslashibe/go-aoa/internal/aoa"
)

// maxDrainReads bounds resynchronisation on a port that never goes quiet
const maxDrainReads = 64

// SerialConfig configures the serial ADC bridge
type SerialConfig struct {
	Port                 string
	Baud                 int
	ReadTimeout          time.Duration
	MaxConsecutiveErrors int
}

// DefaultSerialConfig returns sensible defaults for a USB-serial bridge
func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		Port:                 "/dev/ttyACM0",
		Baud:                 1000000,
		ReadTimeout:          50 * time.Millisecond,
		MaxConsecutiveErrors: 5,
	}
}

// SerialSource reads samples from a microcontroller that digitises both
// channels and answers single-sample requests over a serial link
type SerialSource struct {
	cfg    SerialConfig
	logger *slog.Logger

	mu     sync.Mutex
	port   io.ReadWriteCloser
	clock  clockExtender
	buf    [FrameSize]byte
	closed bool

	// Set after a failed exchange; stale reply bytes are discarded
	// before the next request
	resync bool

	// Health tracking
	healthy           bool
	consecutiveErrors int
	lastError         error
}

// NewSerialSource opens the serial port
func NewSerialSource(cfg SerialConfig, logger *slog.Logger) (*SerialSource, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Port, err)
	}

	s := newSerialSource(port, cfg, logger)

	s.logger.Info("serial ADC source initialized",
		"port", cfg.Port,
		"baud", cfg.Baud,
	)

	return s, nil
}

func newSerialSource(port io.ReadWriteCloser, cfg SerialConfig, logger *slog.Logger) *SerialSource {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = DefaultSerialConfig().MaxConsecutiveErrors
	}
	return &SerialSource{
		cfg:     cfg,
		logger:  logger,
		port:    port,
		healthy: true,
	}
}

// Read requests one sample of ch
func (s *SerialSource) Read(ch aoa.Channel) (aoa.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.transact(cmdRead, byte(ch))
	if err != nil {
		return aoa.Sample{}, err
	}

	return aoa.Sample{
		Channel:   ch,
		Amplitude: f.Amplitude,
		At:        s.clock.extend(f.Micros),
	}, nil
}

// Now reads the bridge clock. On failure it returns the last known instant.
func (s *SerialSource) Now() aoa.Instant {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.transact(cmdClock, 0)
	if err != nil {
		return s.clock.current()
	}
	return s.clock.extend(f.Micros)
}

// Sleep waits on the host clock
func (s *SerialSource) Sleep(ctx context.Context, d time.Duration) error {
	return sleepCtx(ctx, d)
}

func (s *SerialSource) transact(cmd, arg byte) (Frame, error) {
	if s.closed {
		return Frame{}, aoa.ErrClosed
	}

	if s.resync {
		s.drain()
	}

	if _, err := s.port.Write([]byte{cmd, arg}); err != nil {
		s.recordError(err)
		return Frame{}, fmt.Errorf("serial write: %w", err)
	}

	if _, err := io.ReadFull(s.port, s.buf[:]); err != nil {
		s.resync = true
		s.recordError(err)
		return Frame{}, fmt.Errorf("serial read: %w", err)
	}

	f, err := DecodeFrame(s.buf[:])
	if err != nil {
		s.resync = true
		s.recordError(err)
		return Frame{}, err
	}

	s.recordSuccess()
	return f, nil
}

// drain discards input until the port reports nothing pending. A reply
// cut short by ReadTimeout would otherwise be read as the head of the
// next frame. With no read timeout a short reply cannot happen and
// draining would block, so it is skipped.
func (s *SerialSource) drain() {
	s.resync = false
	if s.cfg.ReadTimeout <= 0 {
		return
	}

	var scratch [64]byte
	discarded := 0
	for i := 0; i < maxDrainReads; i++ {
		n, err := s.port.Read(scratch[:])
		discarded += n
		if n == 0 || err != nil {
			break
		}
	}

	if discarded > 0 {
		s.logger.Debug("discarded stale serial input", "bytes", discarded)
	}
}

func (s *SerialSource) recordError(err error) {
	s.consecutiveErrors++
	s.lastError = err

	if s.consecutiveErrors >= s.cfg.MaxConsecutiveErrors && s.healthy {
		s.healthy = false
		s.logger.Warn("serial source marked unhealthy",
			"consecutive_errors", s.consecutiveErrors,
			"last_error", err,
		)
	}
}

func (s *SerialSource) recordSuccess() {
	if s.consecutiveErrors > 0 && !s.healthy {
		s.logger.Info("serial source recovered",
			"previous_errors", s.consecutiveErrors,
		)
	}
	s.consecutiveErrors = 0
	s.healthy = true
}

// Close releases the serial port
func (s *SerialSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.logger.Info("serial source closed")
	return s.port.Close()
}

// Healthy returns true if the source is operational
func (s *SerialSource) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy && !s.closed
}

// Name returns the source type name
func (s *SerialSource) Name() string {
	return "serial"
}
