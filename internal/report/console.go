// Package report renders measurements for humans and logs
package report

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/teslashibe/go-aoa/internal/aoa"
)

// Gauge geometry: one column per 5 degrees from -90 to +90
const (
	gaugeStep  = 5.0
	gaugeWidth = int(180/gaugeStep) + 1
)

// Color palette
var (
	colorAngle   = lipgloss.Color("#00FF41")
	colorRaw     = lipgloss.Color("#008F11")
	colorDelta   = lipgloss.Color("#33FF66")
	colorVolts   = lipgloss.Color("#00AA22")
	colorWarmup  = lipgloss.Color("#FFAA00")
	colorClamped = lipgloss.Color("#FF3300")
	colorGauge   = lipgloss.Color("#004A0A")
)

type consoleStyles struct {
	angle   lipgloss.Style
	raw     lipgloss.Style
	delta   lipgloss.Style
	volts   lipgloss.Style
	warmup  lipgloss.Style
	clamped lipgloss.Style
	gauge   lipgloss.Style
	needle  lipgloss.Style
}

func newConsoleStyles(r *lipgloss.Renderer) consoleStyles {
	return consoleStyles{
		angle:   r.NewStyle().Foreground(colorAngle).Bold(true),
		raw:     r.NewStyle().Foreground(colorRaw),
		delta:   r.NewStyle().Foreground(colorDelta),
		volts:   r.NewStyle().Foreground(colorVolts),
		warmup:  r.NewStyle().Foreground(colorWarmup),
		clamped: r.NewStyle().Foreground(colorClamped).Bold(true),
		gauge:   r.NewStyle().Foreground(colorGauge),
		needle:  r.NewStyle().Foreground(colorAngle).Bold(true),
	}
}

// Console writes one line per measurement
type Console struct {
	mu     sync.Mutex
	w      io.Writer
	styles consoleStyles
	gauge  bool
}

// ConsoleOption configures a Console
type ConsoleOption func(*Console)

// WithGauge toggles the bearing gauge column
func WithGauge(enabled bool) ConsoleOption {
	return func(c *Console) {
		c.gauge = enabled
	}
}

// NewConsole creates a console reporter. With color disabled the output
// is plain ASCII regardless of the terminal.
func NewConsole(w io.Writer, color bool, opts ...ConsoleOption) *Console {
	r := lipgloss.NewRenderer(w)
	if !color {
		r.SetColorProfile(termenv.Ascii)
	}

	c := &Console{
		w:      w,
		styles: newConsoleStyles(r),
		gauge:  true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Report writes m
func (c *Console) Report(m aoa.Measurement) {
	line := c.Format(m)

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, line)
}

// Format renders m without writing it
func (c *Console) Format(m aoa.Measurement) string {
	s := c.styles

	var b strings.Builder
	b.WriteString(s.angle.Render(fmt.Sprintf("AoA %+6.1f°", m.Angle)))
	b.WriteString("  ")
	b.WriteString(s.raw.Render(fmt.Sprintf("raw %+6.1f°", m.RawAngle)))
	b.WriteString("  ")
	b.WriteString(s.delta.Render(fmt.Sprintf("Δt %+5dµs", m.DeltaTUs)))
	b.WriteString("  ")
	b.WriteString(s.volts.Render(fmt.Sprintf("V1 %.2fV  V2 %.2fV", m.V1, m.V2)))

	if c.gauge {
		b.WriteString("  ")
		b.WriteString(c.renderGauge(m.Angle))
	}

	if !m.Filled {
		b.WriteString("  ")
		b.WriteString(s.warmup.Render("warmup"))
	}
	if m.Saturated {
		b.WriteString("  ")
		b.WriteString(s.clamped.Render("clamped"))
	}

	return b.String()
}

// renderGauge draws a -90..+90 scale with a needle at angle
func (c *Console) renderGauge(angle float64) string {
	pos := GaugePosition(angle)

	left := strings.Repeat("-", pos)
	right := strings.Repeat("-", gaugeWidth-pos-1)

	return c.styles.gauge.Render("["+left) +
		c.styles.needle.Render("|") +
		c.styles.gauge.Render(right+"]")
}

// GaugePosition maps an angle in degrees to a gauge column
func GaugePosition(angle float64) int {
	if math.IsNaN(angle) {
		angle = 0
	}
	angle = aoa.Clamp(angle, -90, 90)
	return int(math.Round((angle + 90) / gaugeStep))
}
