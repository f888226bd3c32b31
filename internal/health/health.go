// Package health provides health check functionality
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/teslashibe/go-aoa/internal/aoa"
)

// Component names
const (
	ComponentSource   = "sample_source"
	ComponentDetector = "detector"
	ComponentCloud    = "cloud"
)

// Status represents overall system health
type Status struct {
	Status        string           `json:"status"` // ok, degraded
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Components    map[string]Check `json:"components"`
}

// Check represents a component health check
type Check struct {
	Healthy   bool      `json:"healthy"`
	Message   string    `json:"message,omitempty"`
	LastCheck time.Time `json:"last_check"`
}

// Probe reports the current health of one component
type Probe func() (healthy bool, message string)

// Checker tracks health of system components
type Checker struct {
	mu         sync.RWMutex
	version    string
	startTime  time.Time
	components map[string]Check
	probes     map[string]Probe
}

// NewChecker creates a new health checker
func NewChecker(version string) *Checker {
	return &Checker{
		version:    version,
		startTime:  time.Now(),
		components: make(map[string]Check),
		probes:     make(map[string]Probe),
	}
}

// SetComponent updates a component's health status
func (c *Checker) SetComponent(name string, healthy bool, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.components[name] = Check{
		Healthy:   healthy,
		Message:   message,
		LastCheck: time.Now(),
	}
}

// Register adds a probe evaluated on every Refresh
func (c *Checker) Register(name string, probe Probe) {
	c.mu.Lock()
	c.probes[name] = probe
	c.mu.Unlock()

	c.refreshOne(name, probe)
}

// Refresh evaluates all registered probes
func (c *Checker) Refresh() {
	c.mu.RLock()
	names := make([]string, 0, len(c.probes))
	for name := range c.probes {
		names = append(names, name)
	}
	probes := make(map[string]Probe, len(c.probes))
	for k, v := range c.probes {
		probes[k] = v
	}
	c.mu.RUnlock()

	sort.Strings(names)
	for _, name := range names {
		c.refreshOne(name, probes[name])
	}
}

func (c *Checker) refreshOne(name string, probe Probe) {
	healthy, message := probe()
	c.SetComponent(name, healthy, message)
}

// Watch refreshes probes every interval until ctx is cancelled, logging
// each component transition
func (c *Checker) Watch(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := c.GetStatus().Components

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refresh()

			current := c.GetStatus().Components
			for name, check := range current {
				if old, ok := prev[name]; ok && old.Healthy == check.Healthy {
					continue
				}
				if check.Healthy {
					logger.Info("component healthy", "component", name, "message", check.Message)
				} else {
					logger.Warn("component unhealthy", "component", name, "message", check.Message)
				}
			}
			prev = current
		}
	}
}

// GetStatus returns the overall health status
func (c *Checker) GetStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := "ok"
	for _, check := range c.components {
		if !check.Healthy {
			status = "degraded"
			break
		}
	}

	// Copy components map
	components := make(map[string]Check)
	for k, v := range c.components {
		components[k] = v
	}

	return Status{
		Status:        status,
		Version:       c.version,
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
		Components:    components,
	}
}

// IsHealthy returns true if all components are healthy
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, check := range c.components {
		if !check.Healthy {
			return false
		}
	}
	return true
}

// SourceProbe reports the sample source's own health
func SourceProbe(source aoa.Source) Probe {
	return func() (bool, string) {
		if source.Healthy() {
			return true, source.Name()
		}
		return false, source.Name() + " unavailable"
	}
}

// DetectorProbe reports a stalled detector: no cycle has completed
// within the watchdog period
func DetectorProbe(stats func() aoa.TrackerStats) Probe {
	return func() (bool, string) {
		s := stats()
		if s.Stalled {
			return false, fmt.Sprintf("no activity since %s", s.LastActivity.Format(time.RFC3339))
		}
		return true, fmt.Sprintf("%d cycles", s.CycleCount)
	}
}

// ConnectionProbe reports whether an uplink is connected
func ConnectionProbe(connected func() bool) Probe {
	return func() (bool, string) {
		if connected() {
			return true, "connected"
		}
		return false, "disconnected"
	}
}
