// Package config provides configuration management for go-aoa
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/gousb"
	"github.com/spf13/viper"

	"github.com/teslashibe/go-aoa/internal/adc"
	"github.com/teslashibe/go-aoa/internal/aoa"
	"github.com/teslashibe/go-aoa/internal/cloud"
)

// Config is the root configuration structure
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Array     ArrayConfig     `mapstructure:"array"`
	Smoothing SmoothingConfig `mapstructure:"smoothing"`
	ADC       ADCConfig       `mapstructure:"adc"`
	Source    SourceConfig    `mapstructure:"source"`
	Cloud     CloudConfig     `mapstructure:"cloud"`
	Report    ReportConfig    `mapstructure:"report"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

// DetectorConfig configures pulse detection and the cycle timing
type DetectorConfig struct {
	ReferenceChannel int           `mapstructure:"reference_channel"`
	SecondaryChannel int           `mapstructure:"secondary_channel"`
	Threshold        int           `mapstructure:"threshold"`
	Window           time.Duration `mapstructure:"window"`
	Blanking         time.Duration `mapstructure:"blanking"`
	Cooldown         time.Duration `mapstructure:"cooldown"` // 0 = same as window
	MaxWait          time.Duration `mapstructure:"max_wait"` // 0 = wait forever
	Watchdog         time.Duration `mapstructure:"watchdog"` // 0 = disabled
	ErrorBackoff     time.Duration `mapstructure:"error_backoff"`
}

// ArrayConfig describes the sensor geometry
type ArrayConfig struct {
	SpacingM float64 `mapstructure:"spacing_m"`
	SpeedMPS float64 `mapstructure:"speed_mps"`
}

// SmoothingConfig configures the rolling median
type SmoothingConfig struct {
	MedianWindow int `mapstructure:"median_window"`
}

// ADCConfig describes the converter used for voltage reporting
type ADCConfig struct {
	Bits int     `mapstructure:"bits"`
	VRef float64 `mapstructure:"vref"`
}

// SourceConfig selects the sample source
type SourceConfig struct {
	Type   string          `mapstructure:"type"` // sim, serial, usb
	Serial SerialConfig    `mapstructure:"serial"`
	USB    USBConfig       `mapstructure:"usb"`
	Sim    SimSourceConfig `mapstructure:"sim"`
}

// SerialConfig configures the serial ADC bridge
type SerialConfig struct {
	Port        string        `mapstructure:"port"`
	Baud        int           `mapstructure:"baud"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// USBConfig configures the USB ADC bridge
type USBConfig struct {
	VendorID  int `mapstructure:"vendor_id"`
	ProductID int `mapstructure:"product_id"`
}

// SimSourceConfig configures the simulator
type SimSourceConfig struct {
	AngleDeg      float64       `mapstructure:"angle_deg"`
	Sweep         bool          `mapstructure:"sweep"`
	SweepDeg      float64       `mapstructure:"sweep_deg"`
	PulseInterval time.Duration `mapstructure:"pulse_interval"`
	Noise         int           `mapstructure:"noise"`
	Seed          int64         `mapstructure:"seed"`
	Realtime      bool          `mapstructure:"realtime"`
}

// CloudConfig configures the cloud uplink
type CloudConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	URL              string        `mapstructure:"url"`
	DeviceID         string        `mapstructure:"device_id"` // Generated when empty
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	QueueSize        int           `mapstructure:"queue_size"`
}

// ReportConfig configures local reporting
type ReportConfig struct {
	Console bool `mapstructure:"console"`
	Color   bool `mapstructure:"color"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Enabled:         true,
			Port:            9000,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			GracefulTimeout: 5 * time.Second,
		},
		Detector: DetectorConfig{
			ReferenceChannel: 0,
			SecondaryChannel: 1,
			Threshold:        600,
			Window:           300 * time.Microsecond,
			Blanking:         50 * time.Millisecond,
			ErrorBackoff:     100 * time.Millisecond,
		},
		Array: ArrayConfig{
			SpacingM: aoa.DefaultSpacing,
			SpeedMPS: aoa.SpeedOfSound,
		},
		Smoothing: SmoothingConfig{
			MedianWindow: 5,
		},
		ADC: ADCConfig{
			Bits: 10,
			VRef: 5.0,
		},
		Source: SourceConfig{
			Type: adc.TypeSim,
			Serial: SerialConfig{
				Port:        "/dev/ttyACM0",
				Baud:        1000000,
				ReadTimeout: 50 * time.Millisecond,
			},
			USB: USBConfig{
				VendorID:  adc.DefaultVendorID,
				ProductID: adc.DefaultProductID,
			},
			Sim: SimSourceConfig{
				AngleDeg:      30,
				SweepDeg:      60,
				PulseInterval: 200 * time.Millisecond,
				Noise:         20,
				Seed:          1,
				Realtime:      true,
			},
		},
		Cloud: CloudConfig{
			Enabled:          false,
			URL:              "ws://localhost:8080/ws/sensor",
			ReconnectBackoff: 1 * time.Second,
			MaxBackoff:       30 * time.Second,
			PingInterval:     10 * time.Second,
			WriteTimeout:     5 * time.Second,
			QueueSize:        64,
		},
		Report: ReportConfig{
			Console: true,
			Color:   true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from file and environment
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			// Only warn, don't fail - we have defaults
			fmt.Printf("Warning: config file not found at %s, using defaults\n", path)
		}
	}

	// Environment variable overrides
	v.SetEnvPrefix("GOAOA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	// Server defaults
	v.SetDefault("server.enabled", d.Server.Enabled)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.graceful_timeout", "5s")

	// Detector defaults
	v.SetDefault("detector.reference_channel", d.Detector.ReferenceChannel)
	v.SetDefault("detector.secondary_channel", d.Detector.SecondaryChannel)
	v.SetDefault("detector.threshold", d.Detector.Threshold)
	v.SetDefault("detector.window", "300us")
	v.SetDefault("detector.blanking", "50ms")
	v.SetDefault("detector.cooldown", "0s")
	v.SetDefault("detector.max_wait", "0s")
	v.SetDefault("detector.watchdog", "0s")
	v.SetDefault("detector.error_backoff", "100ms")

	// Geometry and smoothing
	v.SetDefault("array.spacing_m", d.Array.SpacingM)
	v.SetDefault("array.speed_mps", d.Array.SpeedMPS)
	v.SetDefault("smoothing.median_window", d.Smoothing.MedianWindow)

	// ADC defaults
	v.SetDefault("adc.bits", d.ADC.Bits)
	v.SetDefault("adc.vref", d.ADC.VRef)

	// Source defaults
	v.SetDefault("source.type", d.Source.Type)
	v.SetDefault("source.serial.port", d.Source.Serial.Port)
	v.SetDefault("source.serial.baud", d.Source.Serial.Baud)
	v.SetDefault("source.serial.read_timeout", "50ms")
	v.SetDefault("source.usb.vendor_id", d.Source.USB.VendorID)
	v.SetDefault("source.usb.product_id", d.Source.USB.ProductID)
	v.SetDefault("source.sim.angle_deg", d.Source.Sim.AngleDeg)
	v.SetDefault("source.sim.sweep", d.Source.Sim.Sweep)
	v.SetDefault("source.sim.sweep_deg", d.Source.Sim.SweepDeg)
	v.SetDefault("source.sim.pulse_interval", "200ms")
	v.SetDefault("source.sim.noise", d.Source.Sim.Noise)
	v.SetDefault("source.sim.seed", d.Source.Sim.Seed)
	v.SetDefault("source.sim.realtime", d.Source.Sim.Realtime)

	// Cloud defaults
	v.SetDefault("cloud.enabled", d.Cloud.Enabled)
	v.SetDefault("cloud.url", d.Cloud.URL)
	v.SetDefault("cloud.device_id", "")
	v.SetDefault("cloud.reconnect_backoff", "1s")
	v.SetDefault("cloud.max_backoff", "30s")
	v.SetDefault("cloud.ping_interval", "10s")
	v.SetDefault("cloud.write_timeout", "5s")
	v.SetDefault("cloud.queue_size", d.Cloud.QueueSize)

	// Report defaults
	v.SetDefault("report.console", d.Report.Console)
	v.SetDefault("report.color", d.Report.Color)

	// Logging defaults
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.ADC.Bits < 1 || c.ADC.Bits > 16 {
		return fmt.Errorf("adc bits must be between 1 and 16, got %d", c.ADC.Bits)
	}

	if c.ADC.VRef <= 0 {
		return fmt.Errorf("adc vref must be positive, got %f", c.ADC.VRef)
	}

	if c.Detector.Threshold < 1 || c.Detector.Threshold > int(c.converter().MaxAmplitude()) {
		return fmt.Errorf("threshold must be between 1 and %d, got %d", c.converter().MaxAmplitude(), c.Detector.Threshold)
	}

	for _, ch := range []int{c.Detector.ReferenceChannel, c.Detector.SecondaryChannel} {
		if ch < 0 || ch > 255 {
			return fmt.Errorf("invalid channel: %d", ch)
		}
	}

	if c.Detector.ReferenceChannel == c.Detector.SecondaryChannel {
		return fmt.Errorf("reference and secondary channel must differ, both are %d", c.Detector.ReferenceChannel)
	}

	if c.Detector.Window <= 0 {
		return fmt.Errorf("window must be positive, got %v", c.Detector.Window)
	}

	if c.Detector.Blanking < 0 || c.Detector.Cooldown < 0 || c.Detector.MaxWait < 0 || c.Detector.Watchdog < 0 {
		return fmt.Errorf("detector durations must not be negative")
	}

	if c.Array.SpacingM <= 0 {
		return fmt.Errorf("spacing_m must be positive, got %f", c.Array.SpacingM)
	}

	if c.Array.SpeedMPS <= 0 {
		return fmt.Errorf("speed_mps must be positive, got %f", c.Array.SpeedMPS)
	}

	if c.Smoothing.MedianWindow < 1 || c.Smoothing.MedianWindow > 255 {
		return fmt.Errorf("median_window must be between 1 and 255, got %d", c.Smoothing.MedianWindow)
	}

	switch c.Source.Type {
	case adc.TypeSim, adc.TypeSerial, adc.TypeUSB:
	default:
		return fmt.Errorf("unknown source type: %q", c.Source.Type)
	}

	if c.Cloud.Enabled && c.Cloud.URL == "" {
		return fmt.Errorf("cloud url required when cloud is enabled")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}

	return nil
}

func (c *Config) converter() aoa.Converter {
	return aoa.Converter{Bits: c.ADC.Bits, VRef: c.ADC.VRef}
}

// TrackerConfig builds the tracker configuration
func (c *Config) TrackerConfig() aoa.TrackerConfig {
	return aoa.TrackerConfig{
		ReferenceChannel: aoa.Channel(c.Detector.ReferenceChannel),
		SecondaryChannel: aoa.Channel(c.Detector.SecondaryChannel),
		Threshold:        uint16(c.Detector.Threshold),
		Window:           c.Detector.Window,
		Blanking:         c.Detector.Blanking,
		Cooldown:         c.Detector.Cooldown,
		MaxWait:          c.Detector.MaxWait,
		Watchdog:         c.Detector.Watchdog,
		ErrorBackoff:     c.Detector.ErrorBackoff,
		Speed:            c.Array.SpeedMPS,
		Spacing:          c.Array.SpacingM,
		MedianWindow:     c.Smoothing.MedianWindow,
		Converter:        c.converter(),
	}
}

// SourceConfig builds the sample source configuration. The simulator
// shares the array geometry so its pulses match the estimator.
func (c *Config) SourceConfig() adc.Config {
	out := adc.DefaultConfig()
	out.Type = c.Source.Type

	out.Serial.Port = c.Source.Serial.Port
	out.Serial.Baud = c.Source.Serial.Baud
	out.Serial.ReadTimeout = c.Source.Serial.ReadTimeout

	out.USB.VendorID = gousb.ID(c.Source.USB.VendorID)
	out.USB.ProductID = gousb.ID(c.Source.USB.ProductID)

	out.Sim.AngleDeg = c.Source.Sim.AngleDeg
	out.Sim.Sweep = c.Source.Sim.Sweep
	out.Sim.SweepDeg = c.Source.Sim.SweepDeg
	if c.Source.Sim.PulseInterval > 0 {
		out.Sim.PulseInterval = c.Source.Sim.PulseInterval
	}
	out.Sim.Noise = uint16(max(c.Source.Sim.Noise, 0))
	out.Sim.Seed = c.Source.Sim.Seed
	out.Sim.Realtime = c.Source.Sim.Realtime
	out.Sim.Speed = c.Array.SpeedMPS
	out.Sim.Spacing = c.Array.SpacingM
	out.Sim.Peak = uint16(c.converter().MaxAmplitude() * 9 / 10)
	out.Sim.Baseline = uint16(c.converter().MaxAmplitude() / 10)

	return out
}

// CloudClientConfig builds the cloud client configuration
func (c *Config) CloudClientConfig() cloud.Config {
	return cloud.Config{
		URL:              c.Cloud.URL,
		DeviceID:         c.Cloud.DeviceID,
		ReconnectBackoff: c.Cloud.ReconnectBackoff,
		MaxBackoff:       c.Cloud.MaxBackoff,
		PingInterval:     c.Cloud.PingInterval,
		WriteTimeout:     c.Cloud.WriteTimeout,
		QueueSize:        c.Cloud.QueueSize,
	}
}
