package aoa

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TrackerConfig configures the detection cycle
type TrackerConfig struct {
	ReferenceChannel Channel
	SecondaryChannel Channel
	Threshold        uint16

	Window   time.Duration // Correlation window after the reference crossing
	Blanking time.Duration // Hold-off after a matched cycle
	Cooldown time.Duration // Hold-off after a timed out cycle, defaults to Window

	MaxWait      time.Duration // Optional reference search bound, 0 = wait forever
	Watchdog     time.Duration // Stall report threshold, 0 = disabled
	ErrorBackoff time.Duration // Pause after a source read error

	Speed        float64 // Propagation speed (m/s)
	Spacing      float64 // Sensor spacing (m)
	MedianWindow int

	Converter Converter
}

// DefaultTrackerConfig returns sensible defaults for a 10cm array in air
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		ReferenceChannel: 0,
		SecondaryChannel: 1,
		Threshold:        600,
		Window:           300 * time.Microsecond,
		Blanking:         50 * time.Millisecond,
		ErrorBackoff:     100 * time.Millisecond,
		Speed:            SpeedOfSound,
		Spacing:          DefaultSpacing,
		MedianWindow:     5,
		Converter:        DefaultConverter(),
	}
}

// Cycle describes one pass through the detection pipeline
type Cycle struct {
	Number      uint64            `json:"number"`
	Outcome     Outcome           `json:"outcome"`
	Correlation CorrelationResult `json:"correlation"`
	Estimate    Estimate          `json:"estimate"`
	Measurement Measurement       `json:"measurement"` // Only set when matched
}

// Tracker runs detection cycles against a sample source. The median
// history and blanking gate belong to the goroutine calling RunCycle;
// only the published results are shared with readers.
type Tracker struct {
	source   Source
	cfg      TrackerConfig
	logger   *slog.Logger
	reporter Reporter

	detector  *ThresholdDetector
	window    *CorrelationWindow
	estimator Estimator
	history   *MedianHistory
	gate      *BlankingGate

	sessionID string
	cycles    uint64

	mu           sync.RWMutex
	latest       Measurement
	hasLatest    bool
	lastActivity time.Time
	histLen      int
	histFilled   bool

	// Metrics
	matchCount   int64
	timeoutCount int64
	errorCount   int64
	idleCount    int64
	saturated    int64

	// Lifecycle
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	// Subscribers for real-time updates
	subsMu sync.RWMutex
	subs   map[chan Measurement]struct{}
}

// NewTracker creates a tracker. reporter may be nil.
func NewTracker(source Source, cfg TrackerConfig, reporter Reporter, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = cfg.Window
	}
	if reporter == nil {
		reporter = MultiReporter(nil)
	}

	return &Tracker{
		source:   source,
		cfg:      cfg,
		logger:   logger,
		reporter: reporter,
		detector: &ThresholdDetector{
			Source:    source,
			Channel:   cfg.ReferenceChannel,
			Threshold: cfg.Threshold,
			MaxWait:   cfg.MaxWait,
		},
		window: &CorrelationWindow{
			Source:    source,
			Channel:   cfg.SecondaryChannel,
			Threshold: cfg.Threshold,
			Window:    cfg.Window,
		},
		estimator:    NewEstimator(cfg.Speed, cfg.Spacing),
		history:      NewMedianHistory(cfg.MedianWindow),
		gate:         NewBlankingGate(source, cfg.Blanking, cfg.Cooldown),
		sessionID:    uuid.NewString(),
		lastActivity: time.Now(),
		done:         make(chan struct{}),
		subs:         make(map[chan Measurement]struct{}),
	}
}

// ErrTrackerStarted is returned when Run is called more than once
var ErrTrackerStarted = errors.New("tracker already started")

// Run executes cycles until ctx is cancelled (blocking, use goroutine).
// A tracker runs once; later calls return ErrTrackerStarted.
func (t *Tracker) Run(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return ErrTrackerStarted
	}
	t.started = true
	ctx, t.cancel = context.WithCancel(ctx)
	t.lastActivity = time.Now()
	t.mu.Unlock()
	defer close(t.done)

	t.logger.Info("tracker started",
		"session", t.sessionID,
		"source", t.source.Name(),
		"threshold", t.cfg.Threshold,
		"window", t.cfg.Window,
		"blanking", t.cfg.Blanking,
		"cooldown", t.cfg.Cooldown,
		"median_window", t.history.Cap(),
	)

	for {
		_, err := t.RunCycle(ctx)
		if ctx.Err() != nil {
			stats := t.Stats()
			t.logger.Info("tracker stopped",
				"cycles", stats.CycleCount,
				"matches", stats.MatchCount,
				"timeouts", stats.TimeoutCount,
				"errors", stats.ErrorCount,
			)
			return ctx.Err()
		}

		switch {
		case err == nil:
		case errors.Is(err, ErrNoPulse):
			t.logger.Debug("no pulse within max wait", "max_wait", t.cfg.MaxWait)
		default:
			t.logger.Warn("cycle failed", "error", err)
			if t.cfg.ErrorBackoff > 0 {
				_ = t.source.Sleep(ctx, t.cfg.ErrorBackoff)
			}
		}
	}
}

// RunCycle waits for the blanking gate and runs one detection cycle
func (t *Tracker) RunCycle(ctx context.Context) (Cycle, error) {
	if err := t.gate.Wait(ctx); err != nil {
		return Cycle{}, err
	}

	ref, err := t.detector.Detect(ctx)
	if err != nil {
		if errors.Is(err, ErrNoPulse) {
			t.mu.Lock()
			t.idleCount++
			t.mu.Unlock()
			return Cycle{}, err
		}
		if ctx.Err() != nil {
			return Cycle{}, err
		}
		return t.fail(err)
	}

	t.cycles++
	cycle := Cycle{Number: t.cycles}

	corr, err := t.window.Correlate(ctx, ref)
	if err != nil {
		if ctx.Err() != nil {
			return cycle, err
		}
		return t.fail(err)
	}
	cycle.Correlation = corr

	if !corr.Matched() {
		t.gate.Rearm(OutcomeTimeout)
		cycle.Outcome = OutcomeTimeout

		t.mu.Lock()
		t.timeoutCount++
		t.lastActivity = time.Now()
		t.mu.Unlock()

		t.logger.Debug("secondary crossing timed out",
			"cycle", cycle.Number,
			"reference_at_us", ref.At,
			"window", t.cfg.Window,
		)
		return cycle, nil
	}

	est := t.estimator.Estimate(corr.DeltaT)
	smoothed := t.history.Push(est.Degrees)
	filled := t.history.Filled()

	angle := est.Degrees
	if filled {
		angle = smoothed
	}

	m := Measurement{
		Angle:     angle,
		RawAngle:  est.Degrees,
		DeltaTUs:  corr.DeltaT.Microseconds(),
		V1:        t.cfg.Converter.Volts(ref.Amplitude),
		V2:        t.cfg.Converter.Volts(corr.Secondary.Amplitude),
		Filled:    filled,
		Saturated: est.Saturated,
		Cycle:     cycle.Number,
		Timestamp: time.Now(),
	}

	t.reporter.Report(m)
	t.gate.Rearm(OutcomeMatched)

	cycle.Outcome = OutcomeMatched
	cycle.Estimate = est
	cycle.Measurement = m

	t.publish(m, t.history.Len(), filled)

	if est.Saturated {
		t.logger.Debug("sine ratio clamped",
			"cycle", cycle.Number,
			"delta_t_us", m.DeltaTUs,
			"angle", est.Degrees,
		)
	}

	return cycle, nil
}

func (t *Tracker) fail(err error) (Cycle, error) {
	t.gate.Rearm(OutcomeError)

	t.mu.Lock()
	t.errorCount++
	t.lastActivity = time.Now()
	t.mu.Unlock()

	return Cycle{Number: t.cycles, Outcome: OutcomeError}, err
}

func (t *Tracker) publish(m Measurement, histLen int, filled bool) {
	t.mu.Lock()
	t.latest = m
	t.hasLatest = true
	t.matchCount++
	if m.Saturated {
		t.saturated++
	}
	t.histLen = histLen
	t.histFilled = filled
	t.lastActivity = time.Now()
	t.mu.Unlock()

	t.notifySubscribers(m)
}

func (t *Tracker) notifySubscribers(m Measurement) {
	t.subsMu.RLock()
	defer t.subsMu.RUnlock()

	for ch := range t.subs {
		select {
		case ch <- m:
		default:
			// Drop if subscriber is slow
		}
	}
}

// Subscribe returns a channel that receives every new measurement
func (t *Tracker) Subscribe() chan Measurement {
	ch := make(chan Measurement, 16)

	t.subsMu.Lock()
	t.subs[ch] = struct{}{}
	t.subsMu.Unlock()

	return ch
}

// Unsubscribe removes a subscriber
func (t *Tracker) Unsubscribe(ch chan Measurement) {
	t.subsMu.Lock()
	if _, exists := t.subs[ch]; exists {
		delete(t.subs, ch)
		close(ch)
	}
	t.subsMu.Unlock()
}

// Latest returns the most recent measurement and whether there is one
func (t *Tracker) Latest() (Measurement, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest, t.hasLatest
}

// SessionID identifies this tracker instance
func (t *Tracker) SessionID() string {
	return t.sessionID
}

// Config returns the effective configuration
func (t *Tracker) Config() TrackerConfig {
	return t.cfg
}

// Stats returns tracker statistics
func (t *Tracker) Stats() TrackerStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	t.subsMu.RLock()
	subCount := len(t.subs)
	t.subsMu.RUnlock()

	cycles := t.matchCount + t.timeoutCount + t.errorCount
	matchRate := float64(0)
	if cycles > 0 {
		matchRate = float64(t.matchCount) / float64(cycles)
	}

	return TrackerStats{
		SessionID:       t.sessionID,
		CycleCount:      cycles,
		MatchCount:      t.matchCount,
		TimeoutCount:    t.timeoutCount,
		ErrorCount:      t.errorCount,
		IdleCount:       t.idleCount,
		SaturatedCount:  t.saturated,
		MatchRate:       matchRate,
		HistorySize:     t.histLen,
		HistoryFilled:   t.histFilled,
		SubscriberCount: subCount,
		SourceHealthy:   t.source.Healthy(),
		Stalled:         t.cfg.Watchdog > 0 && time.Since(t.lastActivity) > t.cfg.Watchdog,
		LastActivity:    t.lastActivity,
		CurrentAngle:    t.latest.Angle,
		LastDeltaTUs:    t.latest.DeltaTUs,
	}
}

// TrackerStats contains tracker statistics
type TrackerStats struct {
	SessionID       string    `json:"session_id"`
	CycleCount      int64     `json:"cycle_count"`
	MatchCount      int64     `json:"match_count"`
	TimeoutCount    int64     `json:"timeout_count"`
	ErrorCount      int64     `json:"error_count"`
	IdleCount       int64     `json:"idle_count"`
	SaturatedCount  int64     `json:"saturated_count"`
	MatchRate       float64   `json:"match_rate"`
	HistorySize     int       `json:"history_size"`
	HistoryFilled   bool      `json:"history_filled"`
	SubscriberCount int       `json:"subscriber_count"`
	SourceHealthy   bool      `json:"source_healthy"`
	Stalled         bool      `json:"stalled"`
	LastActivity    time.Time `json:"last_activity"`
	CurrentAngle    float64   `json:"current_angle"`
	LastDeltaTUs    int64     `json:"last_delta_t_us"`
}

// Stop stops the tracker gracefully
func (t *Tracker) Stop() {
	t.mu.RLock()
	cancel := t.cancel
	t.mu.RUnlock()

	if cancel != nil {
		cancel()
		<-t.done
	}

	// Close all subscriber channels
	t.subsMu.Lock()
	for ch := range t.subs {
		close(ch)
		delete(t.subs, ch)
	}
	t.subsMu.Unlock()
}
