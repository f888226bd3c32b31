package adc

import (
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-aoa/internal/aoa"
)

// Source types
const (
	TypeSim    = "sim"
	TypeSerial = "serial"
	TypeUSB    = "usb"
)

// Config selects and configures a sample source
type Config struct {
	Type   string
	Serial SerialConfig
	USB    USBConfig
	Sim    SimConfig
}

// DefaultConfig returns the simulator with default hardware settings
func DefaultConfig() Config {
	return Config{
		Type:   TypeSim,
		Serial: DefaultSerialConfig(),
		USB:    DefaultUSBConfig(),
		Sim:    DefaultSimConfig(),
	}
}

// NewSource creates the configured sample source
func NewSource(cfg Config, logger *slog.Logger) (aoa.Source, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Type {
	case TypeSim, "":
		return NewSimSource(cfg.Sim), nil
	case TypeSerial:
		return NewSerialSource(cfg.Serial, logger)
	case TypeUSB:
		return NewUSBSource(cfg.USB, logger)
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Type)
	}
}

// NewSourceWithFallback creates the configured source, falling back to
// the simulator when the hardware is unavailable
func NewSourceWithFallback(cfg Config, logger *slog.Logger) aoa.Source {
	if logger == nil {
		logger = slog.Default()
	}

	source, err := NewSource(cfg, logger)
	if err == nil {
		return source
	}

	logger.Warn("sample source unavailable, using simulator",
		"type", cfg.Type,
		"error", err,
		"hint", "check the device is connected and permissions allow access",
	)
	return NewSimSource(cfg.Sim)
}
