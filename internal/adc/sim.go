package adc

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/teslashibe/go-aoa/internal/aoa"
)

// SimConfig configures the simulated front end
type SimConfig struct {
	ReadLatency   time.Duration // Time consumed by each read
	PulseInterval time.Duration // Time between pulses
	PulseWidth    time.Duration // How long each channel stays above baseline

	AngleDeg    float64 // Fixed bearing of the simulated emitter
	Sweep       bool    // Sweep the bearing sinusoidally instead
	SweepDeg    float64 // Sweep amplitude
	SweepPulses int     // Pulses per full sweep

	Speed   float64 // Propagation speed (m/s)
	Spacing float64 // Sensor spacing (m)

	Baseline uint16
	Peak     uint16
	Noise    uint16 // Uniform noise amplitude added to every sample
	Seed     int64

	// Realtime paces reads and sleeps against the wall clock instead of
	// advancing a virtual clock
	Realtime bool
}

// DefaultSimConfig returns a 10cm array hearing a pulse every 200ms
func DefaultSimConfig() SimConfig {
	return SimConfig{
		ReadLatency:   10 * time.Microsecond,
		PulseInterval: 200 * time.Millisecond,
		PulseWidth:    2 * time.Millisecond,
		AngleDeg:      30,
		SweepDeg:      60,
		SweepPulses:   40,
		Speed:         aoa.SpeedOfSound,
		Spacing:       aoa.DefaultSpacing,
		Baseline:      100,
		Peak:          900,
		Noise:         20,
		Seed:          1,
	}
}

// SimSource is a deterministic two-channel pulse simulator. Channel 0
// hears each pulse first by the array's maximum delay; channel 1 is
// offset from it by spacing*sin(angle)/speed.
type SimSource struct {
	cfg SimConfig

	mu      sync.Mutex
	now     aoa.Instant
	start   time.Time
	rng     *rand.Rand
	healthy bool
	closed  bool
	reads   uint64
}

// NewSimSource creates a simulator
func NewSimSource(cfg SimConfig) *SimSource {
	if cfg.PulseInterval <= 0 {
		cfg.PulseInterval = DefaultSimConfig().PulseInterval
	}
	if cfg.SweepPulses <= 0 {
		cfg.SweepPulses = 1
	}
	return &SimSource{
		cfg:     cfg,
		start:   time.Now(),
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		healthy: true,
	}
}

// Read samples a channel, consuming ReadLatency
func (s *SimSource) Read(ch aoa.Channel) (aoa.Sample, error) {
	if s.cfg.Realtime && s.cfg.ReadLatency > 0 {
		time.Sleep(s.cfg.ReadLatency)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return aoa.Sample{}, aoa.ErrClosed
	}

	if s.cfg.Realtime {
		s.now = s.wallNow()
	} else {
		s.now = s.now.Add(s.cfg.ReadLatency)
	}
	s.reads++

	return aoa.Sample{
		Channel:   ch,
		Amplitude: s.amplitude(ch, s.now),
		At:        s.now,
	}, nil
}

// Now returns the simulator clock
func (s *SimSource) Now() aoa.Instant {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Realtime {
		return s.wallNow()
	}
	return s.now
}

// Sleep advances the virtual clock, or waits in realtime mode
func (s *SimSource) Sleep(ctx context.Context, d time.Duration) error {
	if s.cfg.Realtime {
		return sleepCtx(ctx, d)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.now = s.now.Add(d)
	s.mu.Unlock()
	return nil
}

func (s *SimSource) wallNow() aoa.Instant {
	return aoa.Instant(time.Since(s.start).Microseconds())
}

// Angle returns the bearing of pulse k in degrees
func (s *SimSource) Angle(k int64) float64 {
	if !s.cfg.Sweep {
		return s.cfg.AngleDeg
	}
	return s.cfg.SweepDeg * math.Sin(2*math.Pi*float64(k)/float64(s.cfg.SweepPulses))
}

// Arrival returns when pulse k reaches ch
func (s *SimSource) Arrival(ch aoa.Channel, k int64) aoa.Instant {
	lead := aoa.NewEstimator(s.cfg.Speed, s.cfg.Spacing).MaxDelay()
	ref := aoa.Instant(k * s.cfg.PulseInterval.Microseconds()).Add(lead)
	if ch == 0 {
		return ref
	}
	return ref.Add(aoa.DelayForAngle(s.Angle(k), s.cfg.Speed, s.cfg.Spacing))
}

func (s *SimSource) amplitude(ch aoa.Channel, t aoa.Instant) uint16 {
	level := int(s.cfg.Baseline)

	if ch <= 1 {
		k := int64(t) / s.cfg.PulseInterval.Microseconds()
		arrival := s.Arrival(ch, k)
		if t >= arrival && t.Sub(arrival) < s.cfg.PulseWidth {
			level = int(s.cfg.Peak)
		}
	}

	if s.cfg.Noise > 0 {
		n := int(s.cfg.Noise)
		level += s.rng.Intn(2*n+1) - n
	}

	return uint16(aoa.Clamp(float64(level), 0, math.MaxUint16))
}

// SetAngle sets the fixed bearing in degrees and disables sweeping
func (s *SimSource) SetAngle(deg float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.AngleDeg = deg
	s.cfg.Sweep = false
}

// SetHealthy sets the reported health state
func (s *SimSource) SetHealthy(healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = healthy
}

// Reads returns how many samples have been taken
func (s *SimSource) Reads() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// Close stops the simulator
func (s *SimSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Healthy returns true if the source is operational
func (s *SimSource) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy && !s.closed
}

// Name returns the source type name
func (s *SimSource) Name() string {
	return "sim"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
