package aoa

import (
	"context"
	"time"
)

// GateState is the state of the blanking gate
type GateState int

const (
	// Armed means the threshold detector may run
	Armed GateState = iota
	// Blanking means the gate is holding off re-triggering
	Blanking
)

func (s GateState) String() string {
	if s == Blanking {
		return "blanking"
	}
	return "armed"
}

// Outcome is how a detection cycle ended
type Outcome int

const (
	OutcomeMatched Outcome = iota
	OutcomeTimeout
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMatched:
		return "matched"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "error"
	}
}

// BlankingGate enforces an idle period after every detection cycle.
// A matched cycle holds for the full blanking duration so reverberation
// from the same pulse cannot re-trigger. Timeouts and errors only hold
// for the shorter cooldown.
type BlankingGate struct {
	clock    Clock
	blanking time.Duration
	cooldown time.Duration

	lastEnd Instant
	hold    time.Duration
}

// NewBlankingGate creates an armed gate
func NewBlankingGate(clock Clock, blanking, cooldown time.Duration) *BlankingGate {
	return &BlankingGate{
		clock:    clock,
		blanking: blanking,
		cooldown: cooldown,
	}
}

// Rearm records the end of a cycle and starts the hold period for it
func (g *BlankingGate) Rearm(outcome Outcome) {
	g.lastEnd = g.clock.Now()
	if outcome == OutcomeMatched {
		g.hold = g.blanking
	} else {
		g.hold = g.cooldown
	}
}

// Remaining returns how long until the gate arms
func (g *BlankingGate) Remaining() time.Duration {
	if g.hold <= 0 {
		return 0
	}
	elapsed := g.clock.Now().Sub(g.lastEnd)
	if elapsed < 0 {
		// Clock went backwards, e.g. the device restarted
		return g.hold
	}
	remaining := g.hold - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// State returns the current gate state
func (g *BlankingGate) State() GateState {
	if g.Remaining() > 0 {
		return Blanking
	}
	return Armed
}

// Wait blocks until the gate is armed
func (g *BlankingGate) Wait(ctx context.Context) error {
	// Restart the hold from now if the clock went backwards, otherwise
	// the gate would stay blanked until the clock caught up
	if now := g.clock.Now(); now < g.lastEnd {
		g.lastEnd = now
	}

	for {
		remaining := g.Remaining()
		if remaining <= 0 {
			return nil
		}
		if err := g.clock.Sleep(ctx, remaining); err != nil {
			return err
		}
	}
}

// LastEnd returns the instant the last cycle ended
func (g *BlankingGate) LastEnd() Instant {
	return g.lastEnd
}
