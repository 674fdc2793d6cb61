package autopilot

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/asgard/fovea/internal/platform/metrics"
	"github.com/asgard/fovea/internal/stick"
	"github.com/asgard/fovea/internal/tracking"
)

// State is AutopilotState from spec.md §3: the smoothed offset and size
// anchor the control law carries between targets. It is owned
// exclusively by the Controller's worker goroutine — no lock needed,
// per spec.md §5's "state is worker-private" concurrency note.
type State struct {
	Enabled     bool
	SDx, SDy    float64
	TargetSize0 *float64
}

// Controller is the Autopilot Controller from spec.md §4.4: it consumes
// TargetReports and emits smoothed, normalised stick deflections. The
// only cross-goroutine surface is an atomic enabled flag and a
// single-slot coalescing queue (spec.md §5), matching the teacher's
// bounded-channel-with-drop pattern in Valkyrie/internal/fusion.EKF.AddReading.
type Controller struct {
	cfg    Config
	sink   stick.Sink
	logger *logrus.Logger

	enabled atomic.Bool

	mu             sync.Mutex
	pendingDisable bool
	pendingReport  *tracking.TargetReport
	pendingOK      bool
	notify         chan struct{}

	state State
	res   struct{ w, h int }
}

// NewController wires a Controller around its StickSink, matching the
// teacher's New*(cfg, sink, logger) constructor shape.
func NewController(cfg Config, sink stick.Sink, logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	return &Controller{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		notify: make(chan struct{}, 1),
	}
}

// Enable implements spec.md §4.4's enable(): sets enabled=true. The next
// target update becomes the size₀ anchor.
func (c *Controller) Enable() {
	c.enabled.Store(true)
}

// Disable implements spec.md §4.4's disable(): sets enabled=false and
// schedules the worker-private state to be zeroed on its next wake,
// since only the worker goroutine may touch (SDx, SDy, TargetSize0).
func (c *Controller) Disable() {
	c.enabled.Store(false)
	c.mu.Lock()
	c.pendingDisable = true
	c.pendingReport = nil
	c.mu.Unlock()
	c.wake()
}

// PushTarget enqueues a TargetReport for the worker. While disabled,
// updates are discarded (spec.md §4.4). The queue is a single coalescing
// slot: a pending-but-unconsumed update is overwritten by the newest one,
// per spec.md §5's backpressure note.
func (c *Controller) PushTarget(report tracking.TargetReport, ok bool) {
	if !c.enabled.Load() {
		return
	}
	c.mu.Lock()
	c.pendingReport = &report
	c.pendingOK = ok
	c.mu.Unlock()
	c.wake()
}

func (c *Controller) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Run is the autopilot worker from spec.md §5: it blocks on the
// coalescing queue and wakes on each update.
func (c *Controller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.notify:
		}

		c.mu.Lock()
		disable := c.pendingDisable
		c.pendingDisable = false
		report := c.pendingReport
		ok := c.pendingOK
		c.pendingReport = nil
		c.mu.Unlock()

		if disable {
			c.state.SDx, c.state.SDy = 0, 0
			c.state.TargetSize0 = nil
			continue
		}
		if report == nil || !ok {
			continue
		}
		c.apply(ctx, *report)
	}
}

// SetResolution records the frame size used to derive the image centre
// (Cx, Cy) in the control law. Call once before Run; the contract never
// changes resolution mid-session (spec.md §3).
func (c *Controller) SetResolution(w, h int) {
	c.res.w, c.res.h = w, h
}

// apply runs spec.md §4.4's per-target control law and emits the four
// stick axis events.
func (c *Controller) apply(ctx context.Context, report tracking.TargetReport) {
	cx, cy := c.resolution()

	tx := float64(report.X)
	ty := float64(report.Y)
	tsz := float64(report.Size)

	if c.state.TargetSize0 == nil {
		v := tsz
		c.state.TargetSize0 = &v
	}

	dx := tx - cx
	dy := ty - cy + tsz/2
	ds := tsz - *c.state.TargetSize0

	alpha := c.cfg.Smoothing
	c.state.SDx = (1-alpha)*dx + alpha*c.state.SDx
	c.state.SDy = (1-alpha)*dy + alpha*c.state.SDy

	nx := c.state.SDx / cx
	ny := c.state.SDy / cy
	ns := ds / cy

	if absF(ny) < c.cfg.Deadzone {
		ny = 0
	}

	th := -(ny + ns + c.cfg.ThrottleBias)

	c.send(ctx, stick.Pitch, ny)
	c.send(ctx, stick.Roll, nx)
	c.send(ctx, stick.Yaw, nx)
	c.send(ctx, stick.Throttle, th)
}

func (c *Controller) send(ctx context.Context, axis stick.Axis, coef float64) {
	v := stick.Clamp11(coef)
	if err := c.sink.Send(ctx, axis, v); err != nil {
		c.logger.WithError(err).WithField("axis", axis).Warn("stick sink send failed")
		return
	}
	metrics.Get().StickEventsSent.WithLabelValues(axis.String()).Inc()
}

// resolution returns the image centre (Cx, Cy). A fixed resolution is
// good enough here: the autopilot's contract never changes image size
// mid-session (spec.md §3 "dimensions constant for a session").
func (c *Controller) resolution() (float64, float64) {
	if c.res.w == 0 || c.res.h == 0 {
		return 320, 240
	}
	return float64(c.res.w) / 2, float64(c.res.h) / 2
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
