// Package framesrc implements the FrameSource collaborator (spec.md §6)
// in two flavours: a synthetic in-process generator for the cold-start
// demo and for tests (grounded on cmd/silenus/main.go's mockCamera +
// generateMockFrame), and a WebRTC-backed live ingest source (grounded
// on internal/api/webrtc.SFU).
package framesrc

import (
	"context"
	"math"
	"sync"

	"github.com/asgard/fovea/internal/tracking"
)

// Simulated is an in-process FrameSource that paints a moving disc on a
// black background, the same shape as cmd/silenus/main.go's mockCamera
// but producing tracking.Frame (BGR) windows instead of JPEG bytes, since
// the tracker core consumes raw pixels directly.
type Simulated struct {
	w, h int

	mu          sync.Mutex
	t           int
	discX       float64
	discY       float64
	discR       int
	orbitRadius float64
	orbitSpeed  float64
	stopped     bool
}

// NewSimulated builds a Simulated source at the given resolution with a
// disc orbiting the image centre, matching spec.md §8 scenario 2's
// "64-pixel white disc at (320,240) on 640x480 black" fixture when w=640,
// h=480 and orbit radius is 0.
func NewSimulated(w, h, discRadius int) *Simulated {
	return &Simulated{w: w, h: h, discX: float64(w) / 2, discY: float64(h) / 2, discR: discRadius}
}

// Resolution implements tracking.FrameSource.
func (s *Simulated) Resolution(ctx context.Context) (int, int, error) {
	return s.w, s.h, nil
}

// Read implements tracking.FrameSource: synthesises the next frame. It
// never returns FrameUnavailable (ok is always true) unless Stop was
// called, matching the cold-start scenario's "zero frames" case when the
// caller simply never calls Read.
func (s *Simulated) Read(ctx context.Context) (tracking.Frame, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return tracking.Frame{}, false, nil
	}
	s.t++
	return s.render(), true, nil
}

// Stop makes subsequent Read calls report FrameUnavailable, matching the
// "cold start, no mode change" scenario.
func (s *Simulated) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

// SetOrbit gives the disc a circular drift of the given radius and
// angular speed (radians/frame) around the image centre, useful for
// exercising the tracker beyond the static-disc scenario.
func (s *Simulated) SetOrbit(radius, radiansPerFrame float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orbitRadius = radius
	s.orbitSpeed = radiansPerFrame
}

func (s *Simulated) render() tracking.Frame {
	cx := float64(s.w)/2 + s.orbitRadius*math.Cos(s.orbitSpeed*float64(s.t))
	cy := float64(s.h)/2 + s.orbitRadius*math.Sin(s.orbitSpeed*float64(s.t))
	s.discX, s.discY = cx, cy

	pix := make([]byte, s.w*s.h*3)
	r2 := float64(s.discR * s.discR)
	for y := 0; y < s.h; y++ {
		dy := float64(y) - cy
		for x := 0; x < s.w; x++ {
			dx := float64(x) - cx
			i := (y*s.w + x) * 3
			if dx*dx+dy*dy <= r2 {
				pix[i], pix[i+1], pix[i+2] = 255, 255, 255
			}
		}
	}
	return tracking.Frame{Width: s.w, Height: s.h, Pix: pix}
}
