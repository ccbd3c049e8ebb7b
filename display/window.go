// Package display shows the live frame with the barcode overlay in a gocv window.
package display

import (
	"image"
	"image/color"
	"log/slog"
	"math"

	"github.com/nvr-ai/go-barcode/geometry"
	"github.com/nvr-ai/go-barcode/render"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Key codes returned by Poll.
const (
	KeyNone   = -1
	KeyEscape = 27
)

// Compose draws the frame cover-fitted to the display list size and replays the recorded
// overlay on top.
//
// Arguments:
//   - frame: The live frame, nil before the first capture.
//   - list: The overlay recorded by render.Overlay.
//   - logger: Receives draw failures at debug level. Defaults to slog.Default().
//
// Returns:
//   - gocv.Mat: A BGR image the caller must Close.
//   - error: When the canvas cannot be converted.
func Compose(frame image.Image, list *render.DisplayList, logger *slog.Logger) (gocv.Mat, error) {
	if logger == nil {
		logger = slog.Default()
	}

	width, height := list.Size()
	canvas, _ := Backdrop(frame, width, height)
	if canvas == nil {
		return gocv.NewMat(), errors.New("display surface has no area")
	}

	mat, err := gocv.ImageToMatRGB(canvas)
	if err != nil {
		return gocv.NewMat(), errors.Wrap(err, "failed to convert canvas")
	}

	ops, _ := list.Ops()
	replay(&mat, ops, list.DevicePixelRatio(), logger)

	return mat, nil
}

// replay draws recorded operations onto mat in order. A failed operation is logged and
// skipped.
func replay(mat *gocv.Mat, ops []render.Op, ratio float64, logger *slog.Logger) {
	fontScale := 0.5 * ratio
	textThickness := max(1, int(math.Round(ratio)))

	for _, op := range ops {
		var err error
		switch op.Kind {
		case render.OpStrokeRect:
			err = gocv.Rectangle(mat, op.Rect.Image(), op.Color, thickness(op.Width))

		case render.OpStrokePolygon:
			pv := pointsVector(op.Points)
			err = gocv.Polylines(mat, pv, true, op.Color, thickness(op.Width))
			pv.Close()

		case render.OpFillPolygon:
			err = fillTranslucent(mat, op.Points, op.Color)

		case render.OpText:
			at := image.Pt(int(math.Round(op.At.X)), int(math.Round(op.At.Y)))
			err = gocv.PutText(mat, op.Text, at, gocv.FontHersheySimplex, fontScale, op.Color, textThickness)
		}
		if err != nil {
			logger.Debug("overlay op not drawn", "op", op.Kind, "error", err)
		}
	}
}

// fillTranslucent fills a polygon blended by the color's alpha. gocv ignores alpha when
// filling, so the polygon is drawn on a copy and weighted back in.
func fillTranslucent(mat *gocv.Mat, points []geometry.Point, c color.RGBA) error {
	pv := pointsVector(points)
	defer pv.Close()

	if c.A == 255 {
		return gocv.FillPoly(mat, pv, c)
	}
	if c.A == 0 {
		return nil
	}

	layer := mat.Clone()
	defer layer.Close()

	alpha := float64(c.A) / 255
	c.A = 255
	if err := gocv.FillPoly(&layer, pv, c); err != nil {
		return errors.Wrap(err, "failed to fill polygon")
	}

	return errors.Wrap(gocv.AddWeighted(layer, alpha, *mat, 1-alpha, 0, mat), "failed to blend polygon")
}

func pointsVector(points []geometry.Point) gocv.PointsVector {
	pts := make([]image.Point, 0, len(points))
	for _, p := range points {
		pts = append(pts, image.Pt(int(math.Round(p.X)), int(math.Round(p.Y))))
	}
	return gocv.NewPointsVectorFromPoints([][]image.Point{pts})
}

func thickness(width float64) int {
	return max(1, int(math.Round(width)))
}

// Window is an on-screen gocv window. gocv windows must be driven from the main thread.
type Window struct {
	window      *gocv.Window
	list        *render.DisplayList
	logger      *slog.Logger
	lastVersion uint64
	lastSeq     uint64
	shown       bool
}

// NewWindow opens a window titled title showing list.
func NewWindow(title string, list *render.DisplayList, logger *slog.Logger) *Window {
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With("component", "display")

	window := gocv.NewWindow(title)
	width, height := list.Size()
	if err := window.ResizeWindow(int(math.Round(float64(width)/list.DevicePixelRatio())),
		int(math.Round(float64(height)/list.DevicePixelRatio()))); err != nil {
		logger.Debug("failed to resize window", "error", err)
	}

	return &Window{
		window: window,
		list:   list,
		logger: logger,
	}
}

// Show redraws the window when the frame or the overlay changed since the last call.
//
// Arguments:
//   - frame: The live frame.
//   - seq: The frame sequence number.
func (w *Window) Show(frame image.Image, seq uint64) {
	_, version := w.list.Ops()
	if w.shown && seq == w.lastSeq && version == w.lastVersion {
		return
	}

	mat, err := Compose(frame, w.list, w.logger)
	defer mat.Close()
	if err != nil {
		w.logger.Debug("frame not shown", "error", err)
		return
	}

	if err := w.window.IMShow(mat); err != nil {
		w.logger.Debug("frame not shown", "error", err)
		return
	}
	w.lastSeq, w.lastVersion, w.shown = seq, version, true
}

// Poll services window events for up to delay milliseconds and returns the pressed key,
// or KeyNone.
func (w *Window) Poll(delay int) int {
	return w.window.WaitKey(delay)
}

// Open reports whether the user has not closed the window.
func (w *Window) Open() bool {
	return w.window.IsOpen()
}

// Close destroys the window.
func (w *Window) Close() error {
	return errors.Wrap(w.window.Close(), "failed to close window")
}
