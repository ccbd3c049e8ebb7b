// Package geometry maps decoder-space coordinates (pixels of the raw source frame) onto a
// display surface that is filled with a "cover" fit.
//
// Every function in this package is pure and sits on the per-tick hot path, so malformed
// input never panics: it yields ok == false (or a nil slice) instead.
package geometry

import (
	"image"
	"math"
)

// Point is a 2D coordinate.
type Point struct {
	X, Y float64
}

// Finite reports whether both coordinates are finite numbers.
func (p Point) Finite() bool {
	return finite(p.X) && finite(p.Y)
}

// Rect is an axis-aligned rectangle given by its origin and extents.
type Rect struct {
	X, Y, Width, Height float64
}

// Finite reports whether every field of the rectangle is a finite number.
func (r Rect) Finite() bool {
	return finite(r.X) && finite(r.Y) && finite(r.Width) && finite(r.Height)
}

// Max returns the bottom-right corner of the rectangle.
func (r Rect) Max() Point {
	return Point{X: r.X + r.Width, Y: r.Y + r.Height}
}

// Image converts the rectangle to an image.Rectangle, rounding each edge to the nearest pixel.
func (r Rect) Image() image.Rectangle {
	return image.Rect(
		int(math.Round(r.X)),
		int(math.Round(r.Y)),
		int(math.Round(r.X+r.Width)),
		int(math.Round(r.Y+r.Height)),
	).Canon()
}

// Metrics describes how a source frame is laid onto a target surface. It is recomputed on
// every call because the target surface may be resized between ticks.
type Metrics struct {
	Scale        float64
	OffsetX      float64
	OffsetY      float64
	TargetWidth  float64
	TargetHeight float64
}

// Cover computes cover-fit metrics for a source of sw×sh pixels shown on a target of tw×th
// pixels. The target is filled entirely and the centered overflow of the source is cropped.
//
// Arguments:
//   - sw, sh: The native source frame dimensions.
//   - tw, th: The target surface dimensions in device pixels.
//
// Returns:
//   - Metrics: The scale and centering offsets.
//   - bool: false when any dimension is missing, zero or non-finite.
//
// @example
// m, ok := geometry.Cover(1280, 720, 640, 480)
// // m.Scale == 2.0/3.0, m.OffsetX == -320.0/3.0, m.OffsetY == 0
func Cover(sw, sh, tw, th float64) (Metrics, bool) {
	if !positive(sw) || !positive(sh) || !positive(tw) || !positive(th) {
		return Metrics{}, false
	}

	scale := math.Max(tw/sw, th/sh)

	return Metrics{
		Scale:        scale,
		OffsetX:      (tw - sw*scale) / 2,
		OffsetY:      (th - sh*scale) / 2,
		TargetWidth:  tw,
		TargetHeight: th,
	}, true
}

// Apply maps a single source point into target space.
func (m Metrics) Apply(p Point) Point {
	return Point{
		X: p.X*m.Scale + m.OffsetX,
		Y: p.Y*m.Scale + m.OffsetY,
	}
}

// MapPoints maps every point into target space. Points that are, or become, non-finite are
// dropped individually. It returns nil when nothing survives.
func MapPoints(points []Point, m Metrics) []Point {
	if len(points) == 0 {
		return nil
	}

	var out []Point
	for _, p := range points {
		mapped := m.Apply(p)
		if !mapped.Finite() {
			continue
		}
		out = append(out, mapped)
	}

	return out
}

// MapRect maps a source rectangle into target space and clamps its edges to the target
// surface so that the part outside the visible area is cropped away.
//
// Returns:
//   - Rect: The visible part of the rectangle in target space.
//   - bool: false when the input is non-finite or nothing of it remains visible.
func MapRect(box Rect, m Metrics) (Rect, bool) {
	if !box.Finite() {
		return Rect{}, false
	}

	x0 := box.X*m.Scale + m.OffsetX
	y0 := box.Y*m.Scale + m.OffsetY
	x1 := (box.X+box.Width)*m.Scale + m.OffsetX
	y1 := (box.Y+box.Height)*m.Scale + m.OffsetY
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if y1 < y0 {
		y0, y1 = y1, y0
	}

	x0 = clamp(x0, 0, m.TargetWidth)
	x1 = clamp(x1, 0, m.TargetWidth)
	y0 = clamp(y0, 0, m.TargetHeight)
	y1 = clamp(y1, 0, m.TargetHeight)

	out := Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
	if !out.Finite() || out.Width <= 0 || out.Height <= 0 {
		return Rect{}, false
	}

	return out, true
}

// BoundingRectOf returns the axis-aligned envelope of the finite points. Width and height
// are floored at 1 so collinear shapes stay drawable.
func BoundingRectOf(points []Point) (Rect, bool) {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)

	n := 0
	for _, p := range points {
		if !p.Finite() {
			continue
		}
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
		n++
	}
	if n == 0 {
		return Rect{}, false
	}

	return Rect{
		X:      minX,
		Y:      minY,
		Width:  math.Max(maxX-minX, 1),
		Height: math.Max(maxY-minY, 1),
	}, true
}

// Pad grows r by pad pixels on each side and clamps the result to bounds. Width and height
// never drop below 1.
func Pad(r Rect, pad float64, bounds Rect) (Rect, bool) {
	if !r.Finite() || !bounds.Finite() || !finite(pad) {
		return Rect{}, false
	}

	x0 := clamp(r.X-pad, bounds.X, bounds.X+bounds.Width)
	y0 := clamp(r.Y-pad, bounds.Y, bounds.Y+bounds.Height)
	x1 := clamp(r.X+r.Width+pad, bounds.X, bounds.X+bounds.Width)
	y1 := clamp(r.Y+r.Height+pad, bounds.Y, bounds.Y+bounds.Height)

	return Rect{
		X:      x0,
		Y:      y0,
		Width:  math.Max(x1-x0, 1),
		Height: math.Max(y1-y0, 1),
	}, true
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func positive(v float64) bool {
	return finite(v) && v > 0
}
