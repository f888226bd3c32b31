package adc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/gousb"

	"github.com/teslashibe/go-aoa/internal/aoa"
)

// Default USB identifiers of the ADC bridge (shared V-USB vendor class IDs)
const (
	DefaultVendorID  = 0x16C0
	DefaultProductID = 0x05DC
)

// USBConfig configures the USB ADC bridge
type USBConfig struct {
	VendorID             gousb.ID
	ProductID            gousb.ID
	MaxConsecutiveErrors int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
}

// DefaultUSBConfig returns sensible defaults
func DefaultUSBConfig() USBConfig {
	return USBConfig{
		VendorID:             DefaultVendorID,
		ProductID:            DefaultProductID,
		MaxConsecutiveErrors: 5,
		InitialBackoff:       100 * time.Millisecond,
		MaxBackoff:           5 * time.Second,
	}
}

// USBSource samples both channels through vendor control transfers.
// Each request returns one bridge frame.
type USBSource struct {
	cfg    USBConfig
	logger *slog.Logger

	mu     sync.Mutex
	ctx    *gousb.Context
	dev    *gousb.Device
	clock  clockExtender
	buf    [FrameSize]byte
	closed bool

	// Health tracking
	healthy           bool
	consecutiveErrors int
	lastError         error
	lastErrorTime     time.Time

	// Reconnection
	reconnectBackoff time.Duration
}

// NewUSBSource opens the USB bridge
func NewUSBSource(cfg USBConfig, logger *slog.Logger) (*USBSource, error) {
	if logger == nil {
		logger = slog.Default()
	}

	source := &USBSource{
		cfg:              cfg,
		logger:           logger,
		healthy:          true,
		reconnectBackoff: cfg.InitialBackoff,
	}

	source.ctx = gousb.NewContext()

	if err := source.openDevice(); err != nil {
		source.ctx.Close()
		return nil, err
	}

	logger.Info("USB ADC source initialized",
		"vendor_id", fmt.Sprintf("0x%04X", uint16(cfg.VendorID)),
		"product_id", fmt.Sprintf("0x%04X", uint16(cfg.ProductID)),
	)

	return source, nil
}

func (u *USBSource) openDevice() error {
	dev, err := u.ctx.OpenDeviceWithVIDPID(u.cfg.VendorID, u.cfg.ProductID)
	if err != nil {
		return fmt.Errorf("failed to open ADC bridge: %w", err)
	}

	if dev == nil {
		return fmt.Errorf("ADC bridge not found (VID=0x%04X PID=0x%04X)", uint16(u.cfg.VendorID), uint16(u.cfg.ProductID))
	}

	if err := dev.SetAutoDetach(true); err != nil {
		u.logger.Debug("SetAutoDetach failed (non-fatal)", "error", err)
	}

	u.dev = dev
	u.healthy = true
	u.consecutiveErrors = 0

	return nil
}

// Read samples ch with a single control transfer
func (u *USBSource) Read(ch aoa.Channel) (aoa.Sample, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	f, err := u.control(cmdRead, 0x80|uint16(ch))
	if err != nil {
		return aoa.Sample{}, err
	}

	return aoa.Sample{
		Channel:   ch,
		Amplitude: f.Amplitude,
		At:        u.clock.extend(f.Micros),
	}, nil
}

// Now reads the bridge clock. On failure it returns the last known instant.
func (u *USBSource) Now() aoa.Instant {
	u.mu.Lock()
	defer u.mu.Unlock()

	f, err := u.control(cmdClock, 0)
	if err != nil {
		return u.clock.current()
	}
	return u.clock.extend(f.Micros)
}

// Sleep waits on the host clock
func (u *USBSource) Sleep(ctx context.Context, d time.Duration) error {
	return sleepCtx(ctx, d)
}

func (u *USBSource) control(request uint8, value uint16) (Frame, error) {
	if u.closed {
		return Frame{}, aoa.ErrClosed
	}

	if u.dev == nil {
		if err := u.reconnect(); err != nil {
			return Frame{}, fmt.Errorf("device not connected: %w", err)
		}
	}

	// Request type: IN | Vendor | Device (0xC0)
	n, err := u.dev.Control(
		gousb.ControlIn|gousb.ControlVendor|gousb.ControlDevice,
		request,
		value,
		0,
		u.buf[:],
	)
	if err != nil {
		u.recordError(err)
		return Frame{}, fmt.Errorf("USB control transfer failed: %w", err)
	}

	f, err := DecodeFrame(u.buf[:n])
	if err != nil {
		u.recordError(err)
		return Frame{}, err
	}

	u.recordSuccess()
	return f, nil
}

func (u *USBSource) recordError(err error) {
	u.consecutiveErrors++
	u.lastError = err
	u.lastErrorTime = time.Now()

	if u.consecutiveErrors >= u.cfg.MaxConsecutiveErrors {
		u.healthy = false
		u.logger.Warn("USB source marked unhealthy, will attempt reconnect",
			"consecutive_errors", u.consecutiveErrors,
			"last_error", err,
		)

		// Close device to force reconnect on next call
		if u.dev != nil {
			u.dev.Close()
			u.dev = nil
		}
	}
}

func (u *USBSource) recordSuccess() {
	if u.consecutiveErrors > 0 {
		u.logger.Info("USB source recovered",
			"previous_errors", u.consecutiveErrors,
		)
	}
	u.consecutiveErrors = 0
	u.healthy = true
	u.reconnectBackoff = u.cfg.InitialBackoff
}

func (u *USBSource) reconnect() error {
	u.logger.Info("attempting USB reconnect",
		"backoff", u.reconnectBackoff,
	)

	time.Sleep(u.reconnectBackoff)

	u.reconnectBackoff *= 2
	if u.reconnectBackoff > u.cfg.MaxBackoff {
		u.reconnectBackoff = u.cfg.MaxBackoff
	}

	if err := u.openDevice(); err != nil {
		u.logger.Warn("USB reconnect failed", "error", err)
		return err
	}

	// Device clock restarts from zero after a replug
	u.clock.restart()

	u.logger.Info("USB reconnect successful")
	return nil
}

// Close releases the USB device
func (u *USBSource) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return nil
	}

	u.closed = true

	if u.dev != nil {
		u.dev.Close()
		u.dev = nil
	}

	if u.ctx != nil {
		u.ctx.Close()
		u.ctx = nil
	}

	u.logger.Info("USB source closed")

	return nil
}

// Healthy returns true if the source is operational
func (u *USBSource) Healthy() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.healthy && !u.closed
}

// Name returns the source type name
func (u *USBSource) Name() string {
	return "usb"
}

// Stats returns USB source statistics
func (u *USBSource) Stats() USBStats {
	u.mu.Lock()
	defer u.mu.Unlock()

	var lastErr string
	if u.lastError != nil {
		lastErr = u.lastError.Error()
	}

	return USBStats{
		Healthy:           u.healthy,
		ConsecutiveErrors: u.consecutiveErrors,
		LastError:         lastErr,
		LastErrorTime:     u.lastErrorTime,
		DeviceConnected:   u.dev != nil,
	}
}

// USBStats contains USB source statistics
type USBStats struct {
	Healthy           bool      `json:"healthy"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastError         string    `json:"last_error,omitempty"`
	LastErrorTime     time.Time `json:"last_error_time,omitempty"`
	DeviceConnected   bool      `json:"device_connected"`
}
