package tracking

import "fmt"

// NumericError signals a failed SKL update: an empty or ragged batch, a
// batch whose dimension does not match the model, degenerate sample
// weighting, or an SVD that did not converge. NaN particle scores and a
// zero-norm basis are not reported as NumericError (ParticleSet.Step
// falls back to uniform confidence on NaN). Recovery is a silent
// transition to Idle (spec.md §7).
type NumericError struct {
	Op  string
	Err error
}

func (e *NumericError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tracking: numeric error in %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("tracking: numeric error in %s", e.Op)
}

func (e *NumericError) Unwrap() error { return e.Err }

func newNumericError(op string, err error) *NumericError {
	return &NumericError{Op: op, Err: err}
}

// ErrFrameUnavailable names the FrameUnavailable condition. FrameSource
// implementations report it as ok=false from Read rather than by
// returning this error; the orchestrator recovers locally by skipping the
// tick.
var ErrFrameUnavailable = fmt.Errorf("tracking: frame unavailable")

// StateError signals an operation invoked from an incompatible state (e.g.
// init without an initial box). It is logged and ignored; it never
// propagates out of the orchestrator.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("tracking: operation %q invalid in state %s", e.Op, e.State)
}

func newStateError(op string, s State) *StateError {
	return &StateError{Op: op, State: s}
}

var (
	errEmptyBatch        = fmt.Errorf("empty batch")
	errRaggedBatch       = fmt.Errorf("batch templates have inconsistent dimensions")
	errDimMismatch       = fmt.Errorf("batch dimension does not match prior model dimension")
	errSVDConverge       = fmt.Errorf("SVD did not converge")
	errDegenerateWeights = fmt.Errorf("degenerate SKL sample weighting (m + f*n == 0)")
)
