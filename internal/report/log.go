package report

import (
	"context"
	"log/slog"

	"github.com/teslashibe/go-aoa/internal/aoa"
)

// Log writes each measurement as a structured log record
type Log struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLog creates a log reporter writing at level
func NewLog(logger *slog.Logger, level slog.Level) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger, level: level}
}

// Report logs m
func (l *Log) Report(m aoa.Measurement) {
	l.logger.Log(context.Background(), l.level, "measurement",
		"cycle", m.Cycle,
		"angle", m.Angle,
		"raw_angle", m.RawAngle,
		"delta_t_us", m.DeltaTUs,
		"v1", m.V1,
		"v2", m.V2,
		"filled", m.Filled,
		"saturated", m.Saturated,
	)
}
