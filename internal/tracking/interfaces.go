package tracking

import "context"

// FrameSource is the collaborator producing decoded BGR frames at a fixed
// resolution (spec.md §6). Resolution blocks until the stream has opened;
// Read returns ok=false ("none") when no frame is ready yet.
type FrameSource interface {
	Resolution(ctx context.Context) (w, h int, err error)
	Read(ctx context.Context) (Frame, bool, error)
}

// TargetSink is the overlay/reticle collaborator (spec.md §6). Update
// with ok=false publishes "no current target".
type TargetSink interface {
	UpdateTarget(ctx context.Context, report TargetReport, ok bool) error
	UpdateReticleSize(ctx context.Context, size int) error
}
