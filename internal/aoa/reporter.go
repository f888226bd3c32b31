package aoa

import "time"

// Measurement is what a completed cycle hands to reporters
type Measurement struct {
	Angle     float64 `json:"angle"`     // Smoothed angle, or raw until the history fills (degrees)
	RawAngle  float64 `json:"raw_angle"` // Unsmoothed estimate (degrees)
	DeltaTUs  int64   `json:"delta_t_us"`
	V1        float64 `json:"v1"` // Reference channel voltage at crossing
	V2        float64 `json:"v2"` // Secondary channel voltage at crossing
	Filled    bool    `json:"filled"`
	Saturated bool    `json:"saturated"`

	Cycle     uint64    `json:"cycle"`
	Timestamp time.Time `json:"timestamp"`
}

// Reporter receives measurements. Report must not block the cycle for
// long and has no effect on detection state.
type Reporter interface {
	Report(m Measurement)
}

// ReporterFunc adapts a function to a Reporter
type ReporterFunc func(m Measurement)

// Report calls f(m)
func (f ReporterFunc) Report(m Measurement) {
	f(m)
}

// MultiReporter fans a measurement out to several reporters in order
type MultiReporter []Reporter

// Report calls every reporter
func (mr MultiReporter) Report(m Measurement) {
	for _, r := range mr {
		if r != nil {
			r.Report(m)
		}
	}
}
