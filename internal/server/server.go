// Package server provides the HTTP server for go-aoa
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-aoa/internal/aoa"
	"github.com/teslashibe/go-aoa/internal/config"
	"github.com/teslashibe/go-aoa/internal/health"
)

// Server is the HTTP server for go-aoa
type Server struct {
	app       *fiber.App
	cfg       config.ServerConfig
	tracker   *aoa.Tracker
	checker   *health.Checker
	logger    *slog.Logger
	wsHub     *WSHub
	startTime time.Time
	version   string
}

// New creates a new HTTP server. checker may be nil.
func New(cfg config.ServerConfig, tracker *aoa.Tracker, checker *health.Checker, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	app := fiber.New(fiber.Config{
		AppName:               "go-aoa",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(LoggingMiddleware(logger))

	s := &Server{
		app:       app,
		cfg:       cfg,
		tracker:   tracker,
		checker:   checker,
		logger:    logger,
		wsHub:     NewWSHub(tracker, logger),
		startTime: time.Now(),
		version:   version,
	}

	// Register routes
	s.registerRoutes()

	return s
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes() {
	// Health check
	s.app.Get("/health", s.healthHandler)

	// Metrics endpoint
	s.app.Get("/metrics", s.metricsHandler)

	api := s.app.Group("/api")

	// Bearing API
	api.Get("/aoa", s.aoaHandler)
	api.Get("/aoa/stream", s.wsHub.UpgradeHandler())

	// Config endpoint
	api.Get("/config", s.configHandler)

	// Stats endpoint
	api.Get("/stats", s.statsHandler)
}

// healthHandler returns service health
func (s *Server) healthHandler(c *fiber.Ctx) error {
	if s.checker != nil {
		s.checker.Refresh()
		return c.JSON(s.checker.GetStatus())
	}

	sourceHealthy := false
	if s.tracker != nil {
		sourceHealthy = s.tracker.Stats().SourceHealthy
	}

	status := "ok"
	if !sourceHealthy {
		status = "degraded"
	}

	return c.JSON(health.Status{
		Status:        status,
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Components: map[string]health.Check{
			health.ComponentSource: {Healthy: sourceHealthy, LastCheck: time.Now()},
		},
	})
}

// aoaHandler returns the latest measurement
func (s *Server) aoaHandler(c *fiber.Ctx) error {
	if s.tracker == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "tracker not available",
		})
	}

	m, ok := s.tracker.Latest()
	if !ok {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "no measurement yet",
		})
	}

	return c.JSON(m)
}

// configHandler returns the effective configuration
func (s *Server) configHandler(c *fiber.Ctx) error {
	out := fiber.Map{
		"server": fiber.Map{
			"port":             s.cfg.Port,
			"read_timeout_ms":  s.cfg.ReadTimeout.Milliseconds(),
			"write_timeout_ms": s.cfg.WriteTimeout.Milliseconds(),
		},
	}

	if s.tracker != nil {
		tc := s.tracker.Config()
		out["detector"] = fiber.Map{
			"reference_channel": tc.ReferenceChannel,
			"secondary_channel": tc.SecondaryChannel,
			"threshold":         tc.Threshold,
			"window_us":         tc.Window.Microseconds(),
			"blanking_ms":       tc.Blanking.Milliseconds(),
			"cooldown_us":       tc.Cooldown.Microseconds(),
			"max_wait_ms":       tc.MaxWait.Milliseconds(),
			"watchdog_ms":       tc.Watchdog.Milliseconds(),
		}
		out["array"] = fiber.Map{
			"spacing_m":    tc.Spacing,
			"speed_mps":    tc.Speed,
			"max_delay_us": aoa.NewEstimator(tc.Speed, tc.Spacing).MaxDelay().Microseconds(),
		}
		out["smoothing"] = fiber.Map{
			"median_window": tc.MedianWindow,
		}
		out["adc"] = fiber.Map{
			"bits": tc.Converter.Bits,
			"vref": tc.Converter.VRef,
		}
	}

	return c.JSON(out)
}

// statsHandler returns tracker statistics
func (s *Server) statsHandler(c *fiber.Ctx) error {
	if s.tracker == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "tracker not available",
		})
	}

	return c.JSON(s.tracker.Stats())
}

// metricsHandler returns Prometheus-format metrics
func (s *Server) metricsHandler(c *fiber.Ctx) error {
	if s.tracker == nil {
		return c.Status(fiber.StatusServiceUnavailable).SendString("# no tracker available\n")
	}

	stats := s.tracker.Stats()

	metrics := fmt.Sprintf(`# HELP go_aoa_angle_degrees Latest reported bearing in degrees
# TYPE go_aoa_angle_degrees gauge
go_aoa_angle_degrees %f

# HELP go_aoa_delta_t_microseconds Latest inter-channel delay
# TYPE go_aoa_delta_t_microseconds gauge
go_aoa_delta_t_microseconds %d

# HELP go_aoa_cycles_total Detection cycles that found a reference crossing
# TYPE go_aoa_cycles_total counter
go_aoa_cycles_total %d

# HELP go_aoa_matches_total Cycles with a secondary crossing inside the window
# TYPE go_aoa_matches_total counter
go_aoa_matches_total %d

# HELP go_aoa_timeouts_total Cycles whose correlation window expired
# TYPE go_aoa_timeouts_total counter
go_aoa_timeouts_total %d

# HELP go_aoa_errors_total Cycles aborted by a source error
# TYPE go_aoa_errors_total counter
go_aoa_errors_total %d

# HELP go_aoa_idle_total Reference searches that hit the max wait
# TYPE go_aoa_idle_total counter
go_aoa_idle_total %d

# HELP go_aoa_saturated_total Estimates whose sine ratio was clamped
# TYPE go_aoa_saturated_total counter
go_aoa_saturated_total %d

# HELP go_aoa_match_rate Fraction of cycles that matched
# TYPE go_aoa_match_rate gauge
go_aoa_match_rate %f

# HELP go_aoa_history_filled Median history filled (1=filled, 0=warming up)
# TYPE go_aoa_history_filled gauge
go_aoa_history_filled %d

# HELP go_aoa_source_healthy Sample source health (1=healthy, 0=unhealthy)
# TYPE go_aoa_source_healthy gauge
go_aoa_source_healthy %d

# HELP go_aoa_stalled Detector watchdog tripped (1=stalled)
# TYPE go_aoa_stalled gauge
go_aoa_stalled %d

# HELP go_aoa_uptime_seconds Server uptime in seconds
# TYPE go_aoa_uptime_seconds gauge
go_aoa_uptime_seconds %d

# HELP go_aoa_websocket_clients Current WebSocket client count
# TYPE go_aoa_websocket_clients gauge
go_aoa_websocket_clients %d
`,
		stats.CurrentAngle,
		stats.LastDeltaTUs,
		stats.CycleCount,
		stats.MatchCount,
		stats.TimeoutCount,
		stats.ErrorCount,
		stats.IdleCount,
		stats.SaturatedCount,
		stats.MatchRate,
		boolToInt(stats.HistoryFilled),
		boolToInt(stats.SourceHealthy),
		boolToInt(stats.Stalled),
		int64(time.Since(s.startTime).Seconds()),
		s.wsHub.ClientCount(),
	)

	c.Set("Content-Type", "text/plain; charset=utf-8")
	return c.SendString(metrics)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		"port", s.cfg.Port,
	)

	return s.app.Listen(fmt.Sprintf(":%d", s.cfg.Port))
}

// WSHub returns the WebSocket hub for external control
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close WebSocket hub
	s.wsHub.Close()

	// Shutdown Fiber with timeout from context
	done := make(chan error, 1)
	go func() {
		done <- s.app.Shutdown()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
