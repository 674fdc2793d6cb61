package stick

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClamp11Neutral(t *testing.T) {
	require.Equal(t, 1023, Clamp11(0))
}

func TestClamp11FullDeflection(t *testing.T) {
	require.Equal(t, 2046, Clamp11(1))
	require.Equal(t, 0, Clamp11(-1))
}

func TestClamp11ClampsBeyondUnitRange(t *testing.T) {
	require.Equal(t, 2047, Clamp11(10))
	require.Equal(t, 0, Clamp11(-10))
}

func TestClamp11RoundsHalfAwayFromZero(t *testing.T) {
	// c chosen so 1023 + c*1023 lands exactly on a half-integer.
	c := 0.5 / 1023.0
	require.Equal(t, 1024, Clamp11(c))
}

func TestAxisString(t *testing.T) {
	cases := map[Axis]string{
		Pitch:    "pitch",
		Roll:     "roll",
		Yaw:      "yaw",
		Throttle: "throttle",
		Mode:     "mode",
		Reticle:  "reticle",
	}
	for axis, want := range cases {
		require.Equal(t, want, axis.String())
	}
}
