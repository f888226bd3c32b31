package health

import (
	"context"
	"testing"
	"time"

	"github.com/teslashibe/go-aoa/internal/adc"
	"github.com/teslashibe/go-aoa/internal/aoa"
)

func TestChecker_Basic(t *testing.T) {
	checker := NewChecker("1.0.0")

	status := checker.GetStatus()

	if status.Status != "ok" {
		t.Errorf("expected status 'ok', got %s", status.Status)
	}

	if status.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got %s", status.Version)
	}

	if status.UptimeSeconds < 0 {
		t.Error("expected non-negative uptime")
	}
}

func TestChecker_SetComponent(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.SetComponent(ComponentSource, true, "connected")

	status := checker.GetStatus()

	if len(status.Components) != 1 {
		t.Errorf("expected 1 component, got %d", len(status.Components))
	}

	src, ok := status.Components[ComponentSource]
	if !ok {
		t.Fatal("expected sample_source component")
	}

	if !src.Healthy {
		t.Error("expected sample_source to be healthy")
	}

	if src.Message != "connected" {
		t.Errorf("expected message 'connected', got %s", src.Message)
	}
}

func TestChecker_Degraded(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.SetComponent(ComponentSource, true, "ok")
	checker.SetComponent(ComponentCloud, false, "disconnected")

	status := checker.GetStatus()

	if status.Status != "degraded" {
		t.Errorf("expected status 'degraded', got %s", status.Status)
	}

	if checker.IsHealthy() {
		t.Error("expected IsHealthy() to return false")
	}
}

func TestChecker_Recovery(t *testing.T) {
	checker := NewChecker("1.0.0")

	// Start unhealthy
	checker.SetComponent(ComponentSource, false, "error")

	if checker.IsHealthy() {
		t.Error("expected unhealthy")
	}

	// Recover
	checker.SetComponent(ComponentSource, true, "recovered")

	if !checker.IsHealthy() {
		t.Error("expected healthy after recovery")
	}

	status := checker.GetStatus()
	if status.Status != "ok" {
		t.Errorf("expected status 'ok', got %s", status.Status)
	}
}

func TestChecker_Probes(t *testing.T) {
	checker := NewChecker("1.0.0")

	source := adc.NewSimSource(adc.DefaultSimConfig())
	connected := false

	checker.Register(ComponentSource, SourceProbe(source))
	checker.Register(ComponentCloud, ConnectionProbe(func() bool { return connected }))

	status := checker.GetStatus()
	if !status.Components[ComponentSource].Healthy {
		t.Error("expected source healthy on register")
	}
	if status.Components[ComponentCloud].Healthy {
		t.Error("expected cloud unhealthy on register")
	}

	source.SetHealthy(false)
	connected = true
	checker.Refresh()

	status = checker.GetStatus()
	if status.Components[ComponentSource].Healthy {
		t.Error("expected source unhealthy after refresh")
	}
	if status.Components[ComponentSource].Message != "sim unavailable" {
		t.Errorf("unexpected message %q", status.Components[ComponentSource].Message)
	}
	if !status.Components[ComponentCloud].Healthy {
		t.Error("expected cloud healthy after refresh")
	}
}

func TestDetectorProbe(t *testing.T) {
	tests := []struct {
		name    string
		stats   aoa.TrackerStats
		healthy bool
	}{
		{"active", aoa.TrackerStats{CycleCount: 3}, true},
		{"stalled", aoa.TrackerStats{Stalled: true, LastActivity: time.Now().Add(-time.Minute)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe := DetectorProbe(func() aoa.TrackerStats { return tt.stats })

			healthy, msg := probe()
			if healthy != tt.healthy {
				t.Errorf("healthy = %v, want %v (%s)", healthy, tt.healthy, msg)
			}
			if msg == "" {
				t.Error("expected a message")
			}
		})
	}
}

func TestChecker_Watch(t *testing.T) {
	checker := NewChecker("1.0.0")

	source := adc.NewSimSource(adc.DefaultSimConfig())
	checker.Register(ComponentSource, SourceProbe(source))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Watch(ctx, 10*time.Millisecond, nil)
		close(done)
	}()

	source.SetHealthy(false)
	time.Sleep(50 * time.Millisecond)

	if checker.IsHealthy() {
		t.Error("expected watch to pick up unhealthy source")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestChecker_MultipleComponents(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.SetComponent(ComponentSource, true, "")
	checker.SetComponent(ComponentDetector, true, "")
	checker.SetComponent(ComponentCloud, true, "")

	status := checker.GetStatus()

	if len(status.Components) != 3 {
		t.Errorf("expected 3 components, got %d", len(status.Components))
	}

	if status.Status != "ok" {
		t.Errorf("expected status 'ok', got %s", status.Status)
	}
}
