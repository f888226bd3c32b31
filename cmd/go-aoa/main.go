// go-aoa: angle-of-arrival daemon for a two-sensor acoustic array
// Provides bearing estimates over HTTP, WebSocket and a cloud uplink
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-aoa/internal/adc"
	"github.com/teslashibe/go-aoa/internal/aoa"
	"github.com/teslashibe/go-aoa/internal/cloud"
	"github.com/teslashibe/go-aoa/internal/config"
	"github.com/teslashibe/go-aoa/internal/health"
	"github.com/teslashibe/go-aoa/internal/protocol"
	"github.com/teslashibe/go-aoa/internal/report"
	"github.com/teslashibe/go-aoa/internal/server"
)

const (
	healthInterval = 5 * time.Second
	statsInterval  = 10 * time.Second
)

var (
	version = "0.1.0"

	flagConfig string
	flagDebug  bool
	flagMock   bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "go-aoa",
		Short: "Angle-of-arrival daemon for a two-sensor acoustic array",
		Long: `go-aoa times threshold crossings on two sensors, converts the delay into a
bearing and publishes smoothed estimates over HTTP, WebSocket and an
optional cloud uplink.

Use --mock to run against the built-in pulse simulator.`,
		Version:      version,
		SilenceUsage: true,
		RunE:         runDaemon,
	}

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "/etc/go-aoa/config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	rootCmd.Flags().BoolVar(&flagMock, "mock", false, "use the simulated sample source")

	rootCmd.AddCommand(newSimulateCmd())

	return rootCmd
}

// loadConfig loads and validates configuration, applying global flags
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config from %s: %v\n", flagConfig, err)
		cfg = config.Default()
	}

	// Override log level if debug flag is set
	if flagDebug {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if flagMock {
		cfg.Source.Type = adc.TypeSim
	}

	// Setup logging
	logger := setupLogger(cfg.Logging, os.Stdout)

	logger.Info("starting go-aoa",
		"version", version,
		"config", flagConfig,
		"port", cfg.Server.Port,
		"source", cfg.Source.Type,
	)

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize sample source
	source := adc.NewSourceWithFallback(cfg.SourceConfig(), logger.With("component", "source"))
	defer source.Close()

	logger.Info("sample source ready",
		"type", source.Name(),
		"healthy", source.Healthy(),
	)

	// Reporters
	reporters := aoa.MultiReporter{report.NewLog(logger.With("component", "report"), slog.LevelDebug)}
	if cfg.Report.Console {
		reporters = append(reporters, report.NewConsole(os.Stdout, cfg.Report.Color))
	}

	var uplink *cloud.Client
	if cfg.Cloud.Enabled {
		uplink = cloud.NewClient(cfg.CloudClientConfig(), logger.With("component", "cloud"))
		reporters = append(reporters, uplink)
	}

	// Create tracker
	tracker := aoa.NewTracker(source, cfg.TrackerConfig(), reporters, logger.With("component", "tracker"))

	// Health
	checker := health.NewChecker(version)
	checker.Register(health.ComponentSource, health.SourceProbe(source))
	checker.Register(health.ComponentDetector, health.DetectorProbe(tracker.Stats))

	if uplink != nil {
		uplink.SetHello(protocol.HelloData{
			SessionID: tracker.SessionID(),
			Version:   version,
			SpacingM:  cfg.Array.SpacingM,
			SpeedMPS:  cfg.Array.SpeedMPS,
		})
		connectUplink(ctx, uplink, cfg.Cloud.URL, logger)
		defer uplink.Close()

		checker.Register(health.ComponentCloud, health.ConnectionProbe(uplink.IsConnected))
		go sendStats(ctx, uplink, tracker, logger)
	}

	go checker.Watch(ctx, healthInterval, logger.With("component", "health"))

	// Start tracker in background
	go func() {
		if err := tracker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("tracker error", "error", err)
		}
	}()

	var srv *server.Server
	if cfg.Server.Enabled {
		srv = server.New(cfg.Server, tracker, checker, logger.With("component", "http"), version)

		// Start WebSocket hub in background
		go srv.WSHub().Run(ctx)

		// Start server in background
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("server error", "error", err)
				cancel()
			}
		}()
	}

	// Print startup info
	printStartupBanner(cfg, source.Name())

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		cfg.Server.GracefulTimeout,
	)
	defer shutdownCancel()

	// Stop in order: server -> tracker -> source
	if srv != nil {
		logger.Info("shutting down server...")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown error", "error", err)
		}
	}

	logger.Info("stopping tracker...")
	tracker.Stop()

	logger.Info("go-aoa stopped")
	return nil
}

type connector interface {
	Connect(ctx context.Context) error
}

// connectUplink starts the cloud connection, logging a failure. The
// daemon keeps running without the uplink.
func connectUplink(ctx context.Context, c connector, url string, logger *slog.Logger) bool {
	if err := c.Connect(ctx); err != nil {
		logger.Warn("cloud uplink failed to start", "url", url, "error", err)
		return false
	}
	logger.Info("cloud uplink started", "url", url)
	return true
}

// sendStats pushes tracker statistics to the cloud periodically
func sendStats(ctx context.Context, uplink *cloud.Client, tracker *aoa.Tracker, logger *slog.Logger) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !uplink.IsConnected() {
				continue
			}
			if err := uplink.SendStats(tracker.Stats()); err != nil {
				logger.Debug("stats upload failed", "error", err)
			}
		}
	}
}

func setupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

func printStartupBanner(cfg *config.Config, sourceName string) {
	fmt.Println()
	fmt.Println("📡 go-aoa v" + version)
	fmt.Printf("   %.3fm array, %s source, threshold %d\n", cfg.Array.SpacingM, sourceName, cfg.Detector.Threshold)
	fmt.Println()
	if cfg.Server.Enabled {
		fmt.Printf("🚀 Running at http://0.0.0.0:%d\n", cfg.Server.Port)
		fmt.Println()
		fmt.Println("   Endpoints:")
		fmt.Println("   GET  /health          - Health check")
		fmt.Println("   GET  /api/aoa         - Latest bearing")
		fmt.Println("   WS   /api/aoa/stream  - Real-time bearing stream")
		fmt.Println("   GET  /api/stats       - Tracker statistics")
		fmt.Println("   GET  /api/config      - Effective configuration")
		fmt.Println("   GET  /metrics         - Prometheus metrics")
		fmt.Println()
	}
	fmt.Println("   Press Ctrl+C to stop")
	fmt.Println()
}
