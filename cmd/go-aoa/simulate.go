package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-aoa/internal/adc"
	"github.com/teslashibe/go-aoa/internal/aoa"
	"github.com/teslashibe/go-aoa/internal/config"
	"github.com/teslashibe/go-aoa/internal/report"
)

type simulateOptions struct {
	cycles  int
	angle   float64
	sweep   bool
	seed    int64
	noise   int
	noColor bool
}

func newSimulateCmd() *cobra.Command {
	opts := simulateOptions{}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run detection cycles against the pulse simulator and print them",
		Long: `simulate drives the full detection pipeline with the built-in two-channel
pulse simulator on a virtual clock, so it runs as fast as the CPU allows
and needs no hardware. Detector, array and smoothing settings come from
the config file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if !cmd.Flags().Changed("angle") {
				opts.angle = cfg.Source.Sim.AngleDeg
			}
			if !cmd.Flags().Changed("seed") {
				opts.seed = cfg.Source.Sim.Seed
			}
			if !cmd.Flags().Changed("noise") {
				opts.noise = cfg.Source.Sim.Noise
			}

			logger := setupLogger(cfg.Logging, cmd.ErrOrStderr())
			_, err = runSimulation(cmd.Context(), cfg, opts, cmd.OutOrStdout(), logger)
			return err
		},
	}

	cmd.Flags().IntVarP(&opts.cycles, "cycles", "n", 20, "number of matched cycles to run")
	cmd.Flags().Float64Var(&opts.angle, "angle", 30, "bearing of the simulated emitter in degrees")
	cmd.Flags().BoolVar(&opts.sweep, "sweep", false, "sweep the bearing instead of holding it fixed")
	cmd.Flags().Int64Var(&opts.seed, "seed", 1, "noise seed")
	cmd.Flags().IntVar(&opts.noise, "noise", 20, "noise amplitude in ADC counts")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	return cmd
}

// runSimulation runs until opts.cycles measurements have been reported
func runSimulation(ctx context.Context, cfg *config.Config, opts simulateOptions, out io.Writer, logger *slog.Logger) (aoa.TrackerStats, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	srcCfg := cfg.SourceConfig()
	srcCfg.Sim.AngleDeg = opts.angle
	srcCfg.Sim.Sweep = opts.sweep
	srcCfg.Sim.Seed = opts.seed
	srcCfg.Sim.Noise = uint16(max(opts.noise, 0))
	srcCfg.Sim.Realtime = false

	source := adc.NewSimSource(srcCfg.Sim)
	defer source.Close()

	console := report.NewConsole(out, cfg.Report.Color && !opts.noColor)
	tracker := aoa.NewTracker(source, cfg.TrackerConfig(), console, logger)

	// Bound the run in case the configuration can never match
	limit := opts.cycles * 10
	for i := 0; i < limit; i++ {
		if tracker.Stats().MatchCount >= int64(opts.cycles) {
			break
		}
		if _, err := tracker.RunCycle(ctx); err != nil {
			if errors.Is(err, aoa.ErrNoPulse) {
				continue
			}
			return tracker.Stats(), fmt.Errorf("cycle %d: %w", i+1, err)
		}
	}

	stats := tracker.Stats()
	fmt.Fprintf(out, "\n%d cycles, %d matched, %d timed out, %d clamped (match rate %.0f%%)\n",
		stats.CycleCount, stats.MatchCount, stats.TimeoutCount, stats.SaturatedCount, stats.MatchRate*100)

	return stats, nil
}
