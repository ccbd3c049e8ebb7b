// Package opencv adapts OpenCV's native QR code detector to the decoder.Decoder
// capability set. The detector accepts a frame directly and reports corner points in
// source coordinates, so no luminance preparation is needed.
package opencv

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nvr-ai/go-barcode/decoder"
	"github.com/nvr-ai/go-barcode/geometry"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// FormatQRCode is the only symbology the native detector understands.
const FormatQRCode = "qr_code"

// Decoder is the native shape detector adapter.
type Decoder struct {
	detector gocv.QRCodeDetector
	logger   *slog.Logger
}

// New creates the native adapter.
//
// Arguments:
//   - logger: Logger for engine diagnostics; nil means slog.Default().
//
// Returns:
//   - *Decoder: The adapter.
//   - error: decoder.ErrUnavailable when the OpenCV runtime is not usable.
func New(logger *slog.Logger) (d *Decoder, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	defer func() {
		if r := recover(); r != nil {
			d, err = nil, errors.Wrapf(decoder.ErrUnavailable, "opencv: %v", r)
		}
	}()

	if gocv.OpenCVVersion() == "" {
		return nil, errors.Wrap(decoder.ErrUnavailable, "opencv runtime not linked")
	}

	return &Decoder{
		detector: gocv.NewQRCodeDetector(),
		logger:   logger.With("decoder", string(decoder.IDNative)),
	}, nil
}

// Probe runs the detector once on a blank image to confirm the engine is callable.
func (d *Decoder) Probe(ctx context.Context) (ok bool) {
	if ctx.Err() != nil {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("native detector probe failed", "panic", fmt.Sprint(r))
			ok = false
		}
	}()

	blank := gocv.NewMatWithSize(32, 32, gocv.MatTypeCV8UC3)
	defer blank.Close()
	points := gocv.NewMat()
	defer points.Close()

	d.detector.Detect(blank, &points)
	return true
}

// Decode detects and decodes at most one QR code per frame. Frames that are not ready yield
// an empty result; a frame with pixels that cannot be converted, or any other fault, is
// returned wrapped in decoder.ErrEngine.
func (d *Decoder) Decode(ctx context.Context, frame decoder.Frame) ([]decoder.Detection, error) {
	if ctx.Err() != nil {
		return nil, nil
	}

	detections, err := d.decode(frame)
	if err != nil {
		if decoder.Expected(err) {
			d.logger.Debug("frame skipped", "reason", err, "frame", frame.Seq)
			return nil, nil
		}
		return nil, err
	}

	return detections, nil
}

func (d *Decoder) decode(frame decoder.Frame) (detections []decoder.Detection, err error) {
	width, height := frame.Size()
	if width <= 0 || height <= 0 {
		return nil, decoder.ErrNotReady
	}

	defer func() {
		if r := recover(); r != nil {
			detections, err = nil, errors.Wrapf(decoder.ErrEngine, "native detector panicked: %v", r)
		}
	}()

	img, err := gocv.ImageToMatRGB(frame.Image)
	if err != nil {
		return nil, errors.Wrapf(decoder.ErrEngine, "failed to convert frame: %v", err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, decoder.ErrNotReady
	}

	points := gocv.NewMat()
	defer points.Close()
	if !d.detector.Detect(img, &points) || points.Empty() {
		return nil, nil
	}

	straight := gocv.NewMat()
	defer straight.Close()
	value := d.detector.Decode(img, points, &straight)
	if straight.Empty() {
		// Located but not decodable in this frame.
		return nil, nil
	}

	corners, err := readCorners(points)
	if err != nil {
		return nil, errors.Wrap(decoder.ErrEngine, err.Error())
	}

	box, ok := geometry.BoundingRectOf(corners)
	if !ok {
		box = geometry.Rect{Width: float64(width), Height: float64(height)}
	}

	return decoder.Sanitize([]decoder.Detection{{
		RawValue: value,
		Format:   FormatQRCode,
		Box:      box,
		Points:   corners,
	}}), nil
}

// readCorners reads the float32 (x, y) pairs the detector stores in points.
func readCorners(points gocv.Mat) ([]geometry.Point, error) {
	data, err := points.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read corner points")
	}
	if len(data)%2 != 0 {
		return nil, errors.Errorf("odd corner coordinate count %d", len(data))
	}

	corners := make([]geometry.Point, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		corners = append(corners, geometry.Point{X: float64(data[i]), Y: float64(data[i+1])})
	}

	return corners, nil
}

// Close releases the detector handle.
func (d *Decoder) Close() error {
	return d.detector.Close()
}
