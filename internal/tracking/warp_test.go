package tracking

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func rampGray(w, h int) GrayFrame {
	pix := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			pix[y*w+x] = float64((x+y)%7) / 6.0
		}
	}
	return GrayFrame{Width: w, Height: h, Pix: pix}
}

func TestExtractIdentityRoundTripIsBitExact(t *testing.T) {
	gray := rampGray(32, 32)
	tmpl := extract(gray, 16, 16, 16, 16, 16, 16, 0)

	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			want := gray.Pix[(8+y)*32+(8+x)]
			got := tmpl[y*16+x]
			require.Equal(t, want, got, "pixel (%d,%d)", x, y)
		}
	}
}

func TestExtractOutOfBoundsReturnsZeroPatch(t *testing.T) {
	gray := rampGray(32, 32)
	tmpl := extract(gray, -100, -100, 16, 16, 16, 16, 0)

	for i, v := range tmpl {
		require.Zero(t, v, "index %d", i)
	}
	require.Len(t, tmpl, 16*16)
}

func TestExtractPartialOverlapClampsCrop(t *testing.T) {
	gray := rampGray(32, 32)
	// Centred near the top-left corner: the requested window overruns the
	// frame, so the clamp/resize path runs instead of the exact-copy path.
	tmpl := extract(gray, 2, 2, 16, 16, 8, 8, 0)
	require.Len(t, tmpl, 8*8)
	for _, v := range tmpl {
		require.GreaterOrEqual(t, v, 0.0)
		require.LessOrEqual(t, v, 1.0)
	}
}

func TestWarpScalesTemplateByScaleAndAspect(t *testing.T) {
	gray := rampGray(64, 64)
	s := NewAffineState(4, 32, 32, 1.0, 1.0)
	tmpl := warp(gray, s, 16, 16)
	require.Len(t, tmpl, 16*16)

	// scale=2, aspect=0.5 with T=16: a 32-wide, 16-tall window.
	s2 := NewAffineState(4, 32, 32, 2.0, 0.5)
	require.Equal(t, extract(gray, 32, 32, 32, 16, 16, 16, 0), warp(gray, s2, 16, 16))
}

func TestWarpManyProducesOneColumnPerParticle(t *testing.T) {
	gray := rampGray(64, 64)
	params := []AffineState{
		NewAffineState(4, 32, 32, 1.0, 1.0),
		NewAffineState(4, 20, 20, 0.5, 1.0),
		NewAffineState(4, 40, 40, 2.0, 1.2),
	}
	cols := warpMany(gray, params, 8, 8)
	require.Len(t, cols, 3)
	for _, c := range cols {
		require.Len(t, c, 64)
	}
}
