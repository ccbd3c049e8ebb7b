// Package render draws tracked results onto a display surface whose pixel size may differ
// from the source frame's.
package render

import (
	"image/color"
	"math"
	"sync"

	"github.com/nvr-ai/go-barcode/geometry"
)

// Surface is a 2D drawing target measured in device pixels.
type Surface interface {
	Size() (width, height int)
	Clear()
	StrokeRect(r geometry.Rect, c color.RGBA, width float64)
	StrokePolygon(points []geometry.Point, c color.RGBA, width float64)
	FillPolygon(points []geometry.Point, c color.RGBA)
	Text(s string, at geometry.Point, c color.RGBA)
}

// Replacer is a Surface that can swap in a whole frame of operations at once, so readers on
// other goroutines never observe a partly drawn frame.
type Replacer interface {
	Surface
	Replace(ops []Op)
}

// OpKind identifies a recorded drawing operation.
type OpKind int

const (
	OpStrokeRect OpKind = iota
	OpStrokePolygon
	OpFillPolygon
	OpText
)

func (k OpKind) String() string {
	switch k {
	case OpStrokeRect:
		return "stroke_rect"
	case OpStrokePolygon:
		return "stroke_polygon"
	case OpFillPolygon:
		return "fill_polygon"
	case OpText:
		return "text"
	default:
		return "unknown"
	}
}

// Op is one recorded drawing operation.
type Op struct {
	Kind   OpKind
	Rect   geometry.Rect
	Points []geometry.Point
	Text   string
	At     geometry.Point
	Color  color.RGBA
	Width  float64
}

// DisplayList is a Surface that records drawing operations so another goroutine can replay
// them, typically the UI thread compositing them over the live frame.
//
// Its pixel size is its CSS size multiplied by the device pixel ratio.
type DisplayList struct {
	mu      sync.RWMutex
	width   int
	height  int
	ratio   float64
	ops     []Op
	version uint64
}

// NewDisplayList creates a display list for a cssWidth×cssHeight surface.
func NewDisplayList(cssWidth, cssHeight, devicePixelRatio float64) *DisplayList {
	l := &DisplayList{}
	l.Resize(cssWidth, cssHeight, devicePixelRatio)
	return l
}

// Resize changes the surface size. Non-finite or non-positive ratios count as 1.
func (l *DisplayList) Resize(cssWidth, cssHeight, devicePixelRatio float64) {
	if !(devicePixelRatio > 0) || math.IsInf(devicePixelRatio, 0) {
		devicePixelRatio = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.ratio = devicePixelRatio
	l.width = pixels(cssWidth * devicePixelRatio)
	l.height = pixels(cssHeight * devicePixelRatio)
	l.version++
}

// Size returns the surface size in device pixels.
func (l *DisplayList) Size() (width, height int) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.width, l.height
}

// DevicePixelRatio returns the ratio between device pixels and CSS pixels.
func (l *DisplayList) DevicePixelRatio() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.ratio
}

// Clear drops every recorded operation.
func (l *DisplayList) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ops = nil
	l.version++
}

// Replace swaps the recorded operations for ops in a single step.
func (l *DisplayList) Replace(ops []Op) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ops = ops
	l.version++
}

func (l *DisplayList) StrokeRect(r geometry.Rect, c color.RGBA, width float64) {
	l.record(strokeRectOp(r, c, width))
}

func (l *DisplayList) StrokePolygon(points []geometry.Point, c color.RGBA, width float64) {
	l.record(strokePolygonOp(points, c, width))
}

func (l *DisplayList) FillPolygon(points []geometry.Point, c color.RGBA) {
	l.record(fillPolygonOp(points, c))
}

func (l *DisplayList) Text(s string, at geometry.Point, c color.RGBA) {
	l.record(textOp(s, at, c))
}

// Ops returns a copy of the recorded operations together with the list version, which
// changes on every mutation.
func (l *DisplayList) Ops() ([]Op, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return append([]Op(nil), l.ops...), l.version
}

func (l *DisplayList) record(op Op) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ops = append(l.ops, op)
	l.version++
}

// batch builds a frame of operations off to the side for Replacer.Replace.
type batch struct {
	width, height int
	ops           []Op
}

func (b *batch) Size() (width, height int) { return b.width, b.height }
func (b *batch) Clear() { b.ops = b.ops[:0] }

func (b *batch) StrokeRect(r geometry.Rect, c color.RGBA, width float64) {
	b.ops = append(b.ops, strokeRectOp(r, c, width))
}

func (b *batch) StrokePolygon(points []geometry.Point, c color.RGBA, width float64) {
	b.ops = append(b.ops, strokePolygonOp(points, c, width))
}

func (b *batch) FillPolygon(points []geometry.Point, c color.RGBA) {
	b.ops = append(b.ops, fillPolygonOp(points, c))
}

func (b *batch) Text(s string, at geometry.Point, c color.RGBA) {
	b.ops = append(b.ops, textOp(s, at, c))
}

func strokeRectOp(r geometry.Rect, c color.RGBA, width float64) Op {
	return Op{Kind: OpStrokeRect, Rect: r, Color: c, Width: width}
}

func strokePolygonOp(points []geometry.Point, c color.RGBA, width float64) Op {
	return Op{Kind: OpStrokePolygon, Points: append([]geometry.Point(nil), points...), Color: c, Width: width}
}

func fillPolygonOp(points []geometry.Point, c color.RGBA) Op {
	return Op{Kind: OpFillPolygon, Points: append([]geometry.Point(nil), points...), Color: c}
}

func textOp(s string, at geometry.Point, c color.RGBA) Op {
	return Op{Kind: OpText, Text: s, At: at, Color: c}
}

func pixels(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0
	}
	return int(math.Round(v))
}
