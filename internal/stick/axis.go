// Package stick defines the abstract stick-axis vocabulary shared by the
// Autopilot Controller and the ModeBus pass-through path (spec.md §6):
// both emit events against the same narrow Sink contract, and neither
// knows how an axis code maps to an OS-level input device.
package stick

import "context"

// Axis is one of the abstract stick/button codes from spec.md §6. Mapping
// to OS-level event codes is the Sink implementation's concern.
type Axis int

const (
	Pitch Axis = iota
	Roll
	Yaw
	Throttle
	Mode
	Reticle
)

func (a Axis) String() string {
	switch a {
	case Pitch:
		return "pitch"
	case Roll:
		return "roll"
	case Yaw:
		return "yaw"
	case Throttle:
		return "throttle"
	case Mode:
		return "mode"
	case Reticle:
		return "reticle"
	default:
		return "unknown"
	}
}

// Sink is the StickSink collaborator contract: send(axis_code, value).
// value is an 11-bit deflection in [0,2047]; the sink is responsible for
// appending any required report-synchronisation token.
type Sink interface {
	Send(ctx context.Context, axis Axis, value int) error
}

// Clamp11 maps a normalised coefficient c (typically in [-1,1]) to the
// 11-bit stick value v = clamp(round(1023 + c*1023), 0, 2047).
func Clamp11(c float64) int {
	v := int(roundHalfAwayFromZero(1023 + c*1023))
	if v < 0 {
		return 0
	}
	if v > 2047 {
		return 2047
	}
	return v
}

func roundHalfAwayFromZero(f float64) float64 {
	if f < 0 {
		return -roundHalfAwayFromZero(-f)
	}
	i := float64(int64(f))
	if f-i >= 0.5 {
		return i + 1
	}
	return i
}
