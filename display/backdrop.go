package display

import (
	"image"
	"image/draw"
	"math"

	"github.com/nfnt/resize"
	"github.com/nvr-ai/go-barcode/geometry"
)

// Backdrop scales frame to cover a width×height canvas, centered and cropped, the same
// fit the overlay uses to map detections.
//
// Arguments:
//   - frame: The source frame.
//   - width: The canvas width in device pixels.
//   - height: The canvas height in device pixels.
//
// Returns:
//   - *image.RGBA: The canvas, black where the frame is missing.
//   - bool: false when either the frame or the canvas has no area.
func Backdrop(frame image.Image, width, height int) (*image.RGBA, bool) {
	if width <= 0 || height <= 0 {
		return nil, false
	}
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	if frame == nil {
		return canvas, false
	}

	b := frame.Bounds()
	m, ok := geometry.Cover(float64(b.Dx()), float64(b.Dy()), float64(width), float64(height))
	if !ok {
		return canvas, false
	}

	sw := uint(math.Round(float64(b.Dx()) * m.Scale))
	sh := uint(math.Round(float64(b.Dy()) * m.Scale))
	scaled := resize.Resize(sw, sh, frame, resize.Bilinear)

	// A negative offset means the scaled frame overflows the canvas on that axis.
	offset := image.Pt(int(math.Round(m.OffsetX)), int(math.Round(m.OffsetY)))
	draw.Draw(canvas, canvas.Bounds(), scaled, scaled.Bounds().Min.Sub(offset), draw.Src)

	return canvas, true
}
