package tracking

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// grayImage adapts a GrayFrame to image.Image/draw.Image so the
// golang.org/x/image/draw scalers and transformers (the Go-ecosystem
// stand-in for cv2.warpAffine/cv2.resize used by the original
// src/utils.py::extract_subimage) can operate on it directly.
type grayImage struct {
	w, h int
	pix  []float64
}

func newGrayImage(w, h int) *grayImage {
	return &grayImage{w: w, h: h, pix: make([]float64, w*h)}
}

func (g *grayImage) ColorModel() color.Model { return color.Gray16Model }
func (g *grayImage) Bounds() image.Rectangle { return image.Rect(0, 0, g.w, g.h) }

func (g *grayImage) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= g.w || y >= g.h {
		return color.Gray16{}
	}
	v := g.pix[y*g.w+x]
	return color.Gray16{Y: floatToGray16(v)}
}

func (g *grayImage) Set(x, y int, c color.Color) {
	if x < 0 || y < 0 || x >= g.w || y >= g.h {
		return
	}
	gr := color.Gray16Model.Convert(c).(color.Gray16)
	g.pix[y*g.w+x] = float64(gr.Y) / 65535.0
}

func floatToGray16(v float64) uint16 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 65535
	}
	return uint16(math.Round(v * 65535.0))
}

// rotateAboutCenter rotates gray by angleRad radians about (cx,cy),
// producing a same-size frame with a constant-zero border, matching
// cv2.getRotationMatrix2D + cv2.warpAffine(..., borderMode=BORDER_CONSTANT).
func rotateAboutCenter(gray GrayFrame, cx, cy, angleRad float64) GrayFrame {
	src := &grayImage{w: gray.Width, h: gray.Height, pix: gray.Pix}
	dst := newGrayImage(gray.Width, gray.Height)

	cos := math.Cos(angleRad)
	sin := math.Sin(angleRad)

	// Affine matrix mapping source pixel coordinates to destination
	// coordinates (draw's Transform takes source-to-destination), laid out
	// as cv2.getRotationMatrix2D(center, angle, 1) lays out its matrix.
	m := f64.Aff3{
		cos, sin, cx - cos*cx - sin*cy,
		-sin, cos, cy + sin*cx - cos*cy,
	}

	draw.BiLinear.Transform(dst, m, src, src.Bounds(), draw.Src, nil)
	return GrayFrame{Width: dst.w, Height: dst.h, Pix: dst.pix}
}

// extract implements spec.md §4.5's extract(image, (cx,cy), w, h, (Tw,Th), theta).
func extract(gray GrayFrame, cx, cy, w, h float64, tw, th int, theta float64) Template {
	icx := int(math.Round(cx))
	icy := int(math.Round(cy))
	iw := int(math.Round(w))
	ih := int(math.Round(h))

	working := gray
	if math.Abs(theta) > 1e-5 {
		working = rotateAboutCenter(gray, float64(icx), float64(icy), -theta)
	}

	left := icx - iw/2
	top := icy - ih/2
	right := left + iw
	bottom := top + ih

	if left < 0 {
		left = 0
	}
	if top < 0 {
		top = 0
	}
	if right > working.Width {
		right = working.Width
	}
	if bottom > working.Height {
		bottom = working.Height
	}

	if left >= right || top >= bottom {
		return make(Template, tw*th)
	}

	cropW := right - left
	cropH := bottom - top

	if cropW == tw && cropH == th {
		// Exact match: copy directly, no resampling, so identity extracts
		// are bit-identical (spec.md §8 round-trip property).
		out := make(Template, tw*th)
		for y := 0; y < th; y++ {
			srcRow := (top + y) * working.Width
			dstRow := y * tw
			for x := 0; x < tw; x++ {
				out[dstRow+x] = working.Pix[srcRow+left+x]
			}
		}
		return out
	}

	src := &grayImage{w: working.Width, h: working.Height, pix: working.Pix}
	dst := newGrayImage(tw, th)
	draw.BiLinear.Scale(dst, dst.Bounds(), src, image.Rect(left, top, right, bottom), draw.Src, nil)
	return Template(dst.pix)
}

// warp is extract specialised to an AffineState (spec.md §4.5).
func warp(gray GrayFrame, s AffineState, tw, th int) Template {
	width := s.Scale() * float64(tw)
	height := s.Aspect() * width
	return extract(gray, s.CX(), s.CY(), width, height, tw, th, s.Theta())
}

// warpMany warps every particle's state and returns one length-D column
// per particle, i.e. warpMany(...)[i] is the template for params[i]. Implementation may parallelise; this one
// doesn't need to, since a single BATCH_SIZE-bounded frame's particle count
// is cheap relative to frame acquisition.
func warpMany(gray GrayFrame, params []AffineState, tw, th int) [][]float64 {
	d := tw * th
	out := make([][]float64, len(params))
	for i, s := range params {
		t := warp(gray, s, tw, th)
		col := make([]float64, d)
		copy(col, t)
		out[i] = col
	}
	return out
}
