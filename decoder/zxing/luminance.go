package zxing

import (
	"image"
	"image/draw"

	"github.com/chewxy/math32"
)

// Perceptual weights applied to linear RGB samples.
const (
	weightR float32 = 0.2126
	weightG float32 = 0.7152
	weightB float32 = 0.0722
)

// raster is the off-screen buffer a frame is drawn into before its pixels are read back.
// Both buffers are reused across frames while the native resolution stays the same.
type raster struct {
	rgba *image.RGBA
	luma []byte
}

// draw copies the frame into the raster, reallocating only when the frame size changes.
func (r *raster) draw(src image.Image) (width, height int) {
	b := src.Bounds()
	width, height = b.Dx(), b.Dy()

	if r.rgba == nil || r.rgba.Rect.Dx() != width || r.rgba.Rect.Dy() != height {
		r.rgba = image.NewRGBA(image.Rect(0, 0, width, height))
		r.luma = make([]byte, width*height)
	}
	draw.Draw(r.rgba, r.rgba.Rect, src, b.Min, draw.Src)

	return width, height
}

// luminance converts the raster's RGBA samples into the luma plane.
func (r *raster) luminance() []byte {
	return Luminance(r.luma, r.rgba.Pix)
}

// Luminance converts packed RGBA samples into one luma byte per pixel using
// 0.2126 R + 0.7152 G + 0.0722 B, rounded to the nearest integer and clamped to 0-255.
// dst is grown when it is too small and returned.
func Luminance(dst []byte, rgba []uint8) []byte {
	n := len(rgba) / 4
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	dst = dst[:n]

	for i, j := 0, 0; i < n; i, j = i+1, j+4 {
		l := weightR*float32(rgba[j]) + weightG*float32(rgba[j+1]) + weightB*float32(rgba[j+2])
		l = math32.Floor(l + 0.5)
		dst[i] = uint8(math32.Min(math32.Max(l, 0), 255))
	}

	return dst
}
