package autopilot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/asgard/fovea/internal/stick"
	"github.com/asgard/fovea/internal/tracking"
)

type recordingSink struct {
	mu     sync.Mutex
	values map[stick.Axis]int
	order  []stick.Axis
}

func newRecordingSink() *recordingSink {
	return &recordingSink{values: make(map[stick.Axis]int)}
}

func (s *recordingSink) Send(ctx context.Context, axis stick.Axis, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[axis] = value
	s.order = append(s.order, axis)
	return nil
}

func (s *recordingSink) get(axis stick.Axis) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[axis]
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestApplyThrottleBiasWithZeroOffsets(t *testing.T) {
	sink := newRecordingSink()
	c := NewController(DefaultConfig(), sink, quietLogger())
	c.SetResolution(640, 480)

	// cx=320, cy=240. Centring the target's vertical midpoint (ty + tsz/2)
	// on the image centre makes dx=dy=ds=0 on the anchoring report, so
	// only ThrottleBias=0.05 drives the throttle channel.
	c.apply(context.Background(), tracking.TargetReport{X: 320, Y: 215, Size: 50})

	require.Equal(t, 972, sink.get(stick.Throttle))
	require.Equal(t, 1023, sink.get(stick.Pitch))
	require.Equal(t, 1023, sink.get(stick.Roll))
}

func TestApplyDeadzoneGatesSmallPitch(t *testing.T) {
	sink := newRecordingSink()
	c := NewController(DefaultConfig(), sink, quietLogger())
	c.SetResolution(640, 480)

	// Anchor TargetSize0 and zero the smoothed state.
	c.apply(context.Background(), tracking.TargetReport{X: 320, Y: 215, Size: 50})

	// Raw dy=4px: smoothed SDy = (1-0.4)*4 = 2.4, ny = 2.4/240 = 0.01,
	// below the 0.02 deadzone, so pitch should land exactly on neutral.
	c.apply(context.Background(), tracking.TargetReport{X: 320, Y: 219, Size: 50})

	require.Equal(t, 1023, sink.get(stick.Pitch))
}

func TestApplyOutsideDeadzoneProducesNonNeutralPitch(t *testing.T) {
	sink := newRecordingSink()
	c := NewController(DefaultConfig(), sink, quietLogger())
	c.SetResolution(640, 480)

	c.apply(context.Background(), tracking.TargetReport{X: 320, Y: 215, Size: 50})

	// Raw dy=40px: smoothed SDy = 0.6*40 = 24, ny = 24/240 = 0.1, well
	// outside the deadzone, so pitch must move off neutral.
	c.apply(context.Background(), tracking.TargetReport{X: 320, Y: 255, Size: 50})

	require.NotEqual(t, 1023, sink.get(stick.Pitch))
}

func TestDisableZeroesWorkerPrivateState(t *testing.T) {
	sink := newRecordingSink()
	c := NewController(DefaultConfig(), sink, quietLogger())
	c.SetResolution(640, 480)

	c.apply(context.Background(), tracking.TargetReport{X: 400, Y: 300, Size: 80})
	require.NotZero(t, c.state.SDx)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	c.Disable()

	// Disable is processed by the worker goroutine; give it a moment to
	// drain its notify channel before asserting the zeroed state.
	require.Eventually(t, func() bool {
		return c.state.SDx == 0 && c.state.SDy == 0 && c.state.TargetSize0 == nil
	}, 500*time.Millisecond, time.Millisecond)
}

func TestPushTargetDiscardedWhileDisabled(t *testing.T) {
	sink := newRecordingSink()
	c := NewController(DefaultConfig(), sink, quietLogger())

	c.PushTarget(tracking.TargetReport{X: 1, Y: 1, Size: 1}, true)

	c.mu.Lock()
	pending := c.pendingReport
	c.mu.Unlock()
	require.Nil(t, pending)
}

func TestPushTargetEnqueuedWhileEnabled(t *testing.T) {
	sink := newRecordingSink()
	c := NewController(DefaultConfig(), sink, quietLogger())
	c.Enable()

	c.PushTarget(tracking.TargetReport{X: 1, Y: 2, Size: 3}, true)

	c.mu.Lock()
	pending := c.pendingReport
	c.mu.Unlock()
	require.NotNil(t, pending)
	require.Equal(t, 1, pending.X)
}
