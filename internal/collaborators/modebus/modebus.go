// Package modebus implements the ModeBus collaborator (spec.md §6): pure
// sequencing logic mapping a three-position mode axis and an input axis
// into typed events for the tracker core and autopilot, with no
// third-party transport (spec.md §1 excludes "transport glue between
// processes" from the core's scope). Grounded on
// internal/orbital/tracking/tracker.go's channel-based event dispatch
// and simulator/config.py's three-position mode axis.
package modebus

import (
	"context"

	"github.com/asgard/fovea/internal/autopilot"
	"github.com/asgard/fovea/internal/stick"
	"github.com/asgard/fovea/internal/tracking"
)

// Mode is the three-position switch state from spec.md §6.
type Mode int

const (
	Standby Mode = iota
	Tracking
	Autopilot
)

// Mode axis raw values, per spec.md §6 ("mapped from a three-position
// mode axis with values {0, 1024, 2047}").
const (
	axisStandby   = 0
	axisTracking  = 1024
	axisAutopilot = 2047
)

// ModeFromAxis maps a raw three-position axis reading to a Mode. Values
// are matched to the nearest named position.
func ModeFromAxis(raw int) Mode {
	switch {
	case raw <= (axisStandby+axisTracking)/2:
		return Standby
	case raw <= (axisTracking+axisAutopilot)/2:
		return Tracking
	default:
		return Autopilot
	}
}

// reticleDivisor converts a raw scalar input axis into a reticle size,
// per spec.md §6 ("mapped from a scalar input axis divided by a fixed
// divisor").
const reticleDivisor = 20

// Bus dispatches ModeChanged/ReticleResize/StickPassThrough events to the
// Orchestrator, Autopilot and StickSink, implementing the gating rule
// from spec.md §6: stick pass-through is suppressed while AUTOPILOT is
// active.
type Bus struct {
	orch      *tracking.Orchestrator
	autopilot *autopilot.Controller
	stickSink stick.Sink

	// centreX, centreY are the reticle's resting image-centre position,
	// snapshotted into the initial box on Arm (spec.md §3: "(x,y) is
	// image centre at init").
	centreX, centreY int

	mode Mode
}

// NewBus wires a Bus around the components it dispatches into. w,h is
// the session's fixed frame resolution.
func NewBus(orch *tracking.Orchestrator, ap *autopilot.Controller, sink stick.Sink, w, h int) *Bus {
	return &Bus{orch: orch, autopilot: ap, stickSink: sink, centreX: w / 2, centreY: h / 2, mode: Standby}
}

// ModeChanged implements spec.md §6's ModeChanged(mode) event: it drives
// the Orchestrator's reset/init transitions and the Autopilot's
// enable/disable, matching spec.md §4.3's state table.
func (b *Bus) ModeChanged(ctx context.Context, raw int) {
	mode := ModeFromAxis(raw)
	if mode == b.mode {
		return
	}
	prev := b.mode
	b.mode = mode

	switch mode {
	case Standby:
		b.orch.Reset(ctx)
		b.autopilot.Disable()
	case Tracking:
		if prev == Standby {
			b.orch.Reset(ctx)
			b.orch.Arm(b.centreX, b.centreY)
		}
		b.orch.Init(ctx)
		b.autopilot.Disable()
	case Autopilot:
		if prev == Standby {
			b.orch.Reset(ctx)
			b.orch.Arm(b.centreX, b.centreY)
			b.orch.Init(ctx)
		}
		b.autopilot.Enable()
	}
}

// ReticleResize implements spec.md §6's ReticleResize(size) event.
func (b *Bus) ReticleResize(raw int) {
	size := raw / reticleDivisor
	if size <= 0 {
		return
	}
	b.orch.UpdateInitialBox(size)
}

// StickPassThrough implements spec.md §6's pass-through gate: forwarded
// verbatim to the StickSink unless AUTOPILOT is active.
func (b *Bus) StickPassThrough(ctx context.Context, axis stick.Axis, value int) {
	if b.mode == Autopilot {
		return
	}
	_ = b.stickSink.Send(ctx, axis, value)
}
