package modebus

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/asgard/fovea/internal/autopilot"
	"github.com/asgard/fovea/internal/stick"
	"github.com/asgard/fovea/internal/tracking"
)

type noFrameSource struct{}

func (noFrameSource) Resolution(ctx context.Context) (int, int, error) { return 640, 480, nil }
func (noFrameSource) Read(ctx context.Context) (tracking.Frame, bool, error) {
	return tracking.Frame{}, false, nil
}

type nullSink struct{}

func (nullSink) UpdateTarget(ctx context.Context, report tracking.TargetReport, ok bool) error {
	return nil
}
func (nullSink) UpdateReticleSize(ctx context.Context, size int) error { return nil }

type fakeStickSink struct {
	sent []stick.Axis
}

func (s *fakeStickSink) Send(ctx context.Context, axis stick.Axis, value int) error {
	s.sent = append(s.sent, axis)
	return nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newTestBus() (*Bus, *tracking.Orchestrator, *autopilot.Controller) {
	orch := tracking.NewOrchestrator(tracking.DefaultConfig(), noFrameSource{}, nullSink{}, quietLogger())
	ap := autopilot.NewController(autopilot.DefaultConfig(), &fakeStickSink{}, quietLogger())
	bus := NewBus(orch, ap, &fakeStickSink{}, 640, 480)
	return bus, orch, ap
}

func TestModeFromAxis(t *testing.T) {
	require.Equal(t, Standby, ModeFromAxis(0))
	require.Equal(t, Tracking, ModeFromAxis(1024))
	require.Equal(t, Autopilot, ModeFromAxis(2047))
}

func TestModeChangedSameModeIsNoop(t *testing.T) {
	bus, _, _ := newTestBus()
	ctx := context.Background()

	bus.ModeChanged(ctx, 0) // already Standby: no-op
	require.Equal(t, Standby, bus.mode)
}

func TestModeChangedStandbyToTrackingArmsAndInits(t *testing.T) {
	bus, orch, _ := newTestBus()
	ctx := context.Background()

	bus.ModeChanged(ctx, 1024)
	require.Equal(t, Tracking, bus.mode)

	// No frame is ever available from noFrameSource, so Init cannot
	// complete the Armed->Tracking transition; it should at least have
	// reached Armed (Arm always succeeds from Idle).
	state := orch.State()
	require.True(t, state == tracking.Armed || state == tracking.Tracking)
}

func TestModeChangedToStandbyResetsAndDisablesAutopilot(t *testing.T) {
	bus, orch, _ := newTestBus()
	ctx := context.Background()
	apSink := &fakeStickSink{}
	ap := autopilot.NewController(autopilot.DefaultConfig(), apSink, quietLogger())
	bus.autopilot = ap

	bus.ModeChanged(ctx, 2047) // Autopilot
	ap.Enable()
	bus.ModeChanged(ctx, 0) // back to Standby

	require.Equal(t, tracking.Idle, orch.State())

	// A disabled autopilot discards target updates, so its worker emits
	// no stick events for this report.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go ap.Run(runCtx)
	ap.PushTarget(tracking.TargetReport{X: 400, Y: 300, Size: 40}, true)
	require.Never(t, func() bool { return len(apSink.sent) > 0 }, 50*time.Millisecond, time.Millisecond)
}

func TestReticleResizeAppliesDivisorAndIgnoresNonPositive(t *testing.T) {
	bus, _, _ := newTestBus()

	bus.ReticleResize(200) // 200/20 = 10, forwarded to UpdateInitialBox
	bus.ReticleResize(0)   // 0/20 = 0, ignored
	bus.ReticleResize(-40) // negative, ignored
}

func TestStickPassThroughSuppressedInAutopilotMode(t *testing.T) {
	bus, _, _ := newTestBus()
	ctx := context.Background()
	sink := &fakeStickSink{}
	bus.stickSink = sink

	bus.ModeChanged(ctx, 2047) // Autopilot
	bus.StickPassThrough(ctx, stick.Pitch, 1500)
	require.Empty(t, sink.sent)
}

func TestStickPassThroughForwardedInTrackingMode(t *testing.T) {
	bus, _, _ := newTestBus()
	ctx := context.Background()
	sink := &fakeStickSink{}
	bus.stickSink = sink

	bus.ModeChanged(ctx, 1024) // Tracking
	bus.StickPassThrough(ctx, stick.Pitch, 1500)
	require.Equal(t, []stick.Axis{stick.Pitch}, sink.sent)
}
