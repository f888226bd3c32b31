package adc

import (
	"log/slog"
	"testing"
	"time"
)

func TestDefaultUSBConfig(t *testing.T) {
	cfg := DefaultUSBConfig()

	if cfg.MaxConsecutiveErrors != 5 {
		t.Errorf("expected MaxConsecutiveErrors 5, got %d", cfg.MaxConsecutiveErrors)
	}

	if cfg.InitialBackoff != 100*time.Millisecond {
		t.Errorf("expected InitialBackoff 100ms, got %v", cfg.InitialBackoff)
	}

	if cfg.MaxBackoff != 5*time.Second {
		t.Errorf("expected MaxBackoff 5s, got %v", cfg.MaxBackoff)
	}

	if cfg.VendorID != DefaultVendorID || cfg.ProductID != DefaultProductID {
		t.Errorf("unexpected IDs %v:%v", cfg.VendorID, cfg.ProductID)
	}
}

func TestUSBSourceConstants(t *testing.T) {
	if DefaultVendorID != 0x16C0 {
		t.Errorf("expected VendorID 0x16C0, got 0x%04X", DefaultVendorID)
	}

	if DefaultProductID != 0x05DC {
		t.Errorf("expected ProductID 0x05DC, got 0x%04X", DefaultProductID)
	}
}

// Note: transfer tests require the bridge hardware

func TestNewSource_Sim(t *testing.T) {
	source, err := NewSource(DefaultConfig(), slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer source.Close()

	if source.Name() != "sim" {
		t.Errorf("expected sim source, got %s", source.Name())
	}
}

func TestNewSource_Unknown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Type = "carrier-pigeon"

	if _, err := NewSource(cfg, slog.Default()); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestNewSourceWithFallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Type = TypeSerial
	cfg.Serial.Port = "/dev/does-not-exist-aoa"

	source := NewSourceWithFallback(cfg, slog.Default())
	defer source.Close()

	if source.Name() != "sim" {
		t.Errorf("expected fallback to sim, got %s", source.Name())
	}
}

func TestUSBSource_HealthyAfterClose(t *testing.T) {
	u := &USBSource{
		cfg:     DefaultUSBConfig(),
		logger:  slog.Default(),
		healthy: true,
	}

	if !u.Healthy() {
		t.Fatal("expected healthy before close")
	}

	if err := u.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if u.Healthy() {
		t.Error("expected unhealthy after close")
	}
	if u.Stats().DeviceConnected {
		t.Error("expected no device after close")
	}
}
