package render

import (
	"image/color"
	"math"

	"github.com/nvr-ai/go-barcode/geometry"
	"github.com/nvr-ai/go-barcode/tracker"
)

// Style controls how results are drawn.
type Style struct {
	Stroke    color.RGBA
	Fill      color.RGBA
	Label     color.RGBA
	LineWidth float64
	// LabelHeight is the vertical room kept above a box for its label, in device pixels.
	LabelHeight float64
	// MaxLabel truncates payloads longer than this many runes.
	MaxLabel int
}

// DefaultStyle returns the overlay style for a surface with the given device pixel ratio.
func DefaultStyle(devicePixelRatio float64) Style {
	if !(devicePixelRatio > 0) {
		devicePixelRatio = 1
	}
	return Style{
		Stroke:      color.RGBA{R: 0, G: 230, B: 118, A: 255},
		Fill:        color.RGBA{R: 0, G: 230, B: 118, A: 64},
		Label:       color.RGBA{R: 255, G: 255, B: 255, A: 255},
		LineWidth:   2 * devicePixelRatio,
		LabelHeight: 14 * devicePixelRatio,
		MaxLabel:    48,
	}
}

// Overlay renders tracked results onto a Surface under a cover fit.
type Overlay struct {
	surface Surface
	style   Style
}

// NewOverlay creates an overlay drawing onto surface.
func NewOverlay(surface Surface, style Style) *Overlay {
	return &Overlay{surface: surface, style: style}
}

// Render redraws the surface with results, which are ordered most recent first; the most
// recent result is drawn last so it ends up on top. The source and target sizes are read
// on every call because either may change between ticks. A Replacer surface receives the
// whole frame in one Replace call.
//
// Returns:
//   - int: The number of results that were visible and drawn.
func (o *Overlay) Render(sourceWidth, sourceHeight int, results []tracker.Result) int {
	tw, th := o.surface.Size()
	m, ok := geometry.Cover(float64(sourceWidth), float64(sourceHeight), float64(tw), float64(th))
	if !ok {
		o.surface.Clear()
		return 0
	}

	var target Surface = o.surface
	replacer, swap := o.surface.(Replacer)
	if swap {
		target = &batch{width: tw, height: th}
	} else {
		o.surface.Clear()
	}

	drawn := 0
	for i := len(results) - 1; i >= 0; i-- {
		if o.draw(target, results[i], m) {
			drawn++
		}
	}

	if swap {
		replacer.Replace(target.(*batch).ops)
	}

	return drawn
}

func (o *Overlay) draw(target Surface, r tracker.Result, m geometry.Metrics) bool {
	box, ok := geometry.MapRect(r.Box, m)
	if !ok {
		return false
	}

	if points := geometry.MapPoints(r.Points, m); len(points) >= 3 {
		target.FillPolygon(points, o.style.Fill)
		target.StrokePolygon(points, o.style.Stroke, o.style.LineWidth)
	} else {
		target.StrokeRect(box, o.style.Stroke, o.style.LineWidth)
	}

	at := geometry.Point{X: box.X, Y: math.Max(box.Y-o.style.LineWidth*2, o.style.LabelHeight)}
	target.Text(Label(r, o.style.MaxLabel), at, o.style.Label)

	return true
}

// Clear wipes the surface.
func (o *Overlay) Clear() {
	o.surface.Clear()
}

// Label formats a result as "format: value", truncating long payloads.
func Label(r tracker.Result, limit int) string {
	value := r.RawValue
	if value == "" {
		value = "(empty)"
	}
	if runes := []rune(value); limit > 0 && len(runes) > limit {
		value = string(runes[:limit]) + "…"
	}
	return r.Format + ": " + value
}
