// Package decoder defines the canonical barcode detection shape and the capability set
// every decoding engine adapter implements.
package decoder

import (
	"context"
	"image"
	"time"

	"github.com/nvr-ai/go-barcode/geometry"
)

// FormatUnknown is reported when an engine cannot classify the symbology.
const FormatUnknown = "unknown"

// ID identifies a decoder variant inside a registry.
type ID string

const (
	// IDNative is the platform-native shape detector backed by OpenCV.
	IDNative ID = "native"
	// IDZXing is the luminance/contour engine backed by ZXing.
	IDZXing ID = "zxing"
)

// Frame is a single sample taken from a live frame source.
type Frame struct {
	Seq      uint64
	Image    image.Image
	Captured time.Time
}

// Size returns the native dimensions of the frame, or zeros when it carries no image.
func (f Frame) Size() (width, height int) {
	if f.Image == nil {
		return 0, 0
	}
	b := f.Image.Bounds()
	return b.Dx(), b.Dy()
}

// Detection is one decoded barcode in source-frame pixel coordinates.
type Detection struct {
	// RawValue is the decoded payload. An empty string is a valid decode.
	RawValue string
	// Format is the symbology name, FormatUnknown when unclassified.
	Format string
	// Box is the bounding rectangle; width and height are at least 1.
	Box geometry.Rect
	// Points is the optional corner polygon with at least 3 vertices.
	Points []geometry.Point
}

// Decoder is the capability set shared by every engine adapter. Callers cannot tell the
// engines apart except through Probe.
type Decoder interface {
	// Probe reports whether the engine can be used on this host.
	Probe(ctx context.Context) bool
	// Decode returns every barcode found in the frame. Expected-empty conditions (nothing
	// found, frame not ready) yield an empty slice and a nil error; a non-nil error is a
	// genuine engine fault.
	Decode(ctx context.Context, frame Frame) ([]Detection, error)
	// Close releases engine handles.
	Close() error
}
