package decoder

import (
	"math"

	"github.com/nvr-ai/go-barcode/geometry"
)

// Sanitize normalizes raw engine output in place: detections with a non-finite box are
// discarded, non-finite corners are dropped, polygons with fewer than 3 corners are
// removed, empty formats become FormatUnknown and box extents are floored at 1.
func Sanitize(detections []Detection) []Detection {
	out := detections[:0]
	for _, d := range detections {
		if !d.Box.Finite() {
			continue
		}
		d.Box.Width = math.Max(d.Box.Width, 1)
		d.Box.Height = math.Max(d.Box.Height, 1)
		d.Points = finitePolygon(d.Points)
		if d.Format == "" {
			d.Format = FormatUnknown
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func finitePolygon(points []geometry.Point) []geometry.Point {
	var kept []geometry.Point
	for _, p := range points {
		if p.Finite() {
			kept = append(kept, p)
		}
	}
	if len(kept) < 3 {
		return nil
	}
	return kept
}
