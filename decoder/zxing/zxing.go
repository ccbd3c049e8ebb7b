// Package zxing adapts the ZXing luminance/contour engine to the decoder.Decoder
// capability set.
//
// The engine needs an explicit pixel buffer, so every frame is drawn into an off-screen
// raster at its native resolution, converted to luminance and binarized before decoding.
// The raster and the reader are reused across frames and are not reentrant: one Decoder
// must only ever be driven by a single caller at a time.
package zxing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/multi"
	"github.com/nvr-ai/go-barcode/decoder"
	"github.com/nvr-ai/go-barcode/geometry"
	"github.com/pkg/errors"
)

// DefaultPadding is the number of pixels a corner envelope is grown by on each side.
const DefaultPadding = 8

// Config configures the ZXing adapter.
type Config struct {
	// TryHarder spends more time per frame looking for a barcode.
	TryHarder bool
	// MultiResult enables multi-result decoding. When false, or when the multi-result
	// pass finds nothing, a single-result decode is used.
	MultiResult bool
	// Padding grows the corner envelope on each side, in source pixels.
	Padding float64
	// Readers overrides the engine readers. Empty means the default symbology set.
	Readers []gozxing.Reader
	// MultiReader overrides the multi-result reader. Nil means the QR code multi reader.
	MultiReader multi.MultipleBarcodeReader
	// Logger receives engine faults. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the configuration used by the registry.
func DefaultConfig() Config {
	return Config{
		TryHarder:   true,
		MultiResult: true,
		Padding:     DefaultPadding,
	}
}

// Decoder is the luminance/contour engine adapter.
type Decoder struct {
	reader      gozxing.Reader
	multiReader multi.MultipleBarcodeReader
	hints       map[gozxing.DecodeHintType]interface{}
	padding     float64
	logger      *slog.Logger

	raster  raster
	formats map[gozxing.BarcodeFormat]string
}

// New creates a ZXing adapter.
//
// Arguments:
//   - cfg: The adapter configuration.
//
// Returns:
//   - *Decoder: The adapter, ready to decode.
//   - error: An error if the engine cannot be initialized.
func New(cfg Config) (*Decoder, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hints := map[gozxing.DecodeHintType]interface{}{}
	if cfg.TryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}

	readers := cfg.Readers
	if len(readers) == 0 {
		readers = defaultReaders(hints)
	}
	for i, r := range readers {
		if r == nil {
			return nil, errors.Wrapf(decoder.ErrUnavailable, "zxing reader %d is nil", i)
		}
	}

	var reader gozxing.Reader
	if len(readers) == 1 {
		reader = readers[0]
	} else {
		reader = &formatReader{readers: readers}
	}

	d := &Decoder{
		reader:  reader,
		hints:   hints,
		padding: cfg.Padding,
		logger:  logger.With("decoder", string(decoder.IDZXing)),
		formats: make(map[gozxing.BarcodeFormat]string),
	}
	if cfg.MultiResult {
		d.multiReader = cfg.MultiReader
		if d.multiReader == nil {
			d.multiReader = defaultMultiReader()
		}
	}

	return d, nil
}

// Probe reports whether the engine is usable. The engine is pure Go, so a constructed
// adapter is always available.
func (d *Decoder) Probe(ctx context.Context) bool {
	return d.reader != nil && ctx.Err() == nil
}

// Decode draws the frame into the raster, converts it to luminance and runs the engine.
// Every engine failure is normalized to an empty result so that engine instability never
// reaches the sampling loop.
func (d *Decoder) Decode(ctx context.Context, frame decoder.Frame) (detections []decoder.Detection, err error) {
	if ctx.Err() != nil {
		return nil, nil
	}
	width, height := frame.Size()
	if width <= 0 || height <= 0 {
		return nil, nil
	}

	defer d.reader.Reset()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("zxing engine panicked", "panic", fmt.Sprint(r), "frame", frame.Seq)
			detections, err = nil, nil
		}
	}()

	d.raster.draw(frame.Image)
	source, err := gozxing.NewPlanarYUVLuminanceSource(d.raster.luminance(), width, height, 0, 0, width, height, false)
	if err != nil {
		d.logger.Error("failed to build luminance source", "error", err, "frame", frame.Seq)
		return nil, nil
	}
	bitmap, err := gozxing.NewBinaryBitmap(gozxing.NewHybridBinarizer(source))
	if err != nil {
		d.logger.Error("failed to build binary bitmap", "error", err, "frame", frame.Seq)
		return nil, nil
	}

	results, err := d.decode(bitmap)
	if err != nil {
		if !notFound(err) {
			d.logger.Error("zxing decode failed", "error", err, "frame", frame.Seq)
		}
		return nil, nil
	}

	bounds := geometry.Rect{Width: float64(width), Height: float64(height)}
	detections = make([]decoder.Detection, 0, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		detections = append(detections, d.detection(r, bounds))
	}

	return decoder.Sanitize(detections), nil
}

// decode runs the multi-result pass first. A pass that finds nothing falls back to the
// single-result readers so symbologies without multi-result support are still found.
func (d *Decoder) decode(bitmap *gozxing.BinaryBitmap) ([]*gozxing.Result, error) {
	if d.multiReader != nil {
		results, err := d.multiReader.DecodeMultiple(bitmap, d.hints)
		if err != nil && !notFound(err) {
			return nil, err
		}
		if err == nil && len(results) > 0 {
			return results, nil
		}
	}

	result, err := d.reader.Decode(bitmap, d.hints)
	if err != nil {
		return nil, err
	}
	return []*gozxing.Result{result}, nil
}

// detection converts one engine result. The corner envelope is padded and clamped to the
// frame; results without corners cover the whole frame.
func (d *Decoder) detection(r *gozxing.Result, bounds geometry.Rect) decoder.Detection {
	var points []geometry.Point
	for _, p := range r.GetResultPoints() {
		if p == nil {
			continue
		}
		pt := geometry.Point{X: p.GetX(), Y: p.GetY()}
		if pt.Finite() {
			points = append(points, pt)
		}
	}

	box := bounds
	if envelope, ok := geometry.BoundingRectOf(points); ok {
		if padded, ok := geometry.Pad(envelope, d.padding, bounds); ok {
			box = padded
		}
	}

	return decoder.Detection{
		RawValue: r.GetText(),
		Format:   d.formatName(r.GetBarcodeFormat()),
		Box:      box,
		Points:   points,
	}
}

// formatName resolves a symbology to its lower-case name, caching each distinct value.
func (d *Decoder) formatName(f gozxing.BarcodeFormat) string {
	if name, ok := d.formats[f]; ok {
		return name
	}

	name := strings.ToLower(f.String())
	if name == "" || strings.HasPrefix(name, decoder.FormatUnknown) {
		name = decoder.FormatUnknown
	}
	d.formats[f] = name

	return name
}

// Close drops the raster buffers.
func (d *Decoder) Close() error {
	d.raster = raster{}
	return nil
}
