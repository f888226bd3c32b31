package aoa

import "math"

// Converter maps quantized amplitudes to volts for reporting
type Converter struct {
	Bits int     // ADC resolution
	VRef float64 // Full-scale reference voltage
}

// DefaultConverter matches a 10-bit ADC on a 5V reference
func DefaultConverter() Converter {
	return Converter{Bits: 10, VRef: 5.0}
}

// MaxAmplitude returns the largest code the ADC can produce
func (c Converter) MaxAmplitude() uint16 {
	if c.Bits <= 0 {
		return 0
	}
	if c.Bits >= 16 {
		return math.MaxUint16
	}
	return uint16(1<<c.Bits - 1)
}

// Step returns the voltage of one quantization step
func (c Converter) Step() float64 {
	full := c.MaxAmplitude()
	if full == 0 {
		return 0
	}
	return c.VRef / float64(full)
}

// Volts converts an amplitude to volts
func (c Converter) Volts(amplitude uint16) float64 {
	return float64(amplitude) * c.Step()
}

// Quantize converts volts back to the nearest amplitude code
func (c Converter) Quantize(volts float64) uint16 {
	step := c.Step()
	if step == 0 || math.IsNaN(volts) {
		return 0
	}
	code := math.Round(volts / step)
	return uint16(Clamp(code, 0, float64(c.MaxAmplitude())))
}

// Clamp clamps a value to [min, max]
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
