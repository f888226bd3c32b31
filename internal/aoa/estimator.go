package aoa

import (
	"math"
	"time"
)

// Propagation defaults for sound in air at roughly 20°C
const (
	SpeedOfSound   = 343.0 // m/s
	DefaultSpacing = 0.10  // m
)

// Estimate is a single angle of arrival estimate
type Estimate struct {
	Degrees   float64 `json:"degrees"`   // Bearing in [-90, 90], 0 = broadside
	Valid     bool    `json:"valid"`     // False when no coincident crossing was found
	Saturated bool    `json:"saturated"` // Sine ratio was outside [-1, 1] and clamped
}

// Estimator converts inter-sensor time differences into bearings
type Estimator struct {
	Speed   float64 // Propagation speed (m/s)
	Spacing float64 // Sensor spacing (m)
}

// NewEstimator creates an estimator for the given geometry
func NewEstimator(speed, spacing float64) Estimator {
	return Estimator{Speed: speed, Spacing: spacing}
}

// Estimate returns the bearing for a signed time difference, secondary
// crossing minus reference crossing
func (e Estimator) Estimate(dt time.Duration) Estimate {
	deg, saturated := AngleOfArrival(dt, e.Speed, e.Spacing)
	return Estimate{Degrees: deg, Valid: true, Saturated: saturated}
}

// MaxDelay returns the largest time difference the geometry can produce
func (e Estimator) MaxDelay() time.Duration {
	if e.Speed <= 0 {
		return 0
	}
	return time.Duration(e.Spacing / e.Speed * float64(time.Second))
}

// AngleOfArrival computes asin(speed*dt/spacing) in degrees. The ratio is
// clamped to [-1, 1] so the result is always finite and within [-90, 90].
// saturated reports whether clamping took place.
func AngleOfArrival(dt time.Duration, speed, spacing float64) (deg float64, saturated bool) {
	ratio := speed * dt.Seconds() / spacing
	if math.IsNaN(ratio) {
		return 0, true
	}

	clamped := Clamp(ratio, -1, 1)
	return math.Asin(clamped) * 180 / math.Pi, clamped != ratio
}

// DelayForAngle is the inverse of AngleOfArrival for deg in [-90, 90]
func DelayForAngle(deg, speed, spacing float64) time.Duration {
	if speed <= 0 {
		return 0
	}
	sec := spacing * math.Sin(deg*math.Pi/180) / speed
	return time.Duration(math.Round(sec * float64(time.Second)))
}
