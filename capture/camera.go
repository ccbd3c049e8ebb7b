// Package capture opens live frame sources with gocv and keeps the latest frame available
// for sampling.
package capture

import (
	"context"
	"image"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nvr-ai/go-barcode/decoder"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ErrNoFrame is returned by Read before the first frame has arrived.
var ErrNoFrame = errors.New("no frame captured yet")

// grabber is the part of gocv.VideoCapture the camera uses.
type grabber interface {
	Read(m *gocv.Mat) bool
	Set(prop gocv.VideoCaptureProperties, param float64)
	Get(prop gocv.VideoCaptureProperties) float64
	Close() error
}

// Options configures a Camera.
type Options struct {
	// Device is a device index ("0"), a file path or a stream URL.
	Device string
	// Resolution is requested from the device. The device may pick another size.
	Resolution Resolution
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Camera reads frames continuously in the background and exposes the most recent one.
// It implements sampler.Source.
type Camera struct {
	device  string
	grabber grabber
	logger  *slog.Logger

	mu       sync.RWMutex
	active   bool
	latest   image.Image
	seq      uint64
	captured time.Time
	err      error

	fps        float64
	frameCount int
	lastTime   time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// Open opens the device and starts reading frames until ctx is done or Close is called.
//
// Arguments:
//   - ctx: Bounds the background reader.
//   - opts: The device and requested resolution.
//
// Returns:
//   - *Camera: The running camera.
//   - error: When the device cannot be opened.
//
// @example
//
//	cam, err := capture.Open(ctx, capture.Options{Device: "0"})
//	if err != nil {
//		return err
//	}
//	defer cam.Close()
func Open(ctx context.Context, opts Options) (*Camera, error) {
	vc, err := gocv.OpenVideoCapture(deviceArg(opts.Device))
	if err != nil {
		if vc != nil {
			vc.Close()
		}
		return nil, errors.Wrapf(err, "failed to open capture device %q", opts.Device)
	}

	return start(ctx, vc, opts), nil
}

// start applies the requested resolution and launches the reader.
func start(ctx context.Context, g grabber, opts Options) *Camera {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "capture", "device", opts.Device)

	if opts.Resolution.Width > 0 && opts.Resolution.Height > 0 {
		g.Set(gocv.VideoCaptureFrameWidth, float64(opts.Resolution.Width))
		g.Set(gocv.VideoCaptureFrameHeight, float64(opts.Resolution.Height))
	}
	logger.Info("capture opened",
		"requested", opts.Resolution.String(),
		"width", int(g.Get(gocv.VideoCaptureFrameWidth)),
		"height", int(g.Get(gocv.VideoCaptureFrameHeight)),
	)

	ctx, cancel := context.WithCancel(ctx)
	c := &Camera{
		device:   opts.Device,
		grabber:  g,
		logger:   logger,
		active:   true,
		lastTime: time.Now(),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go c.readLoop(ctx)

	return c
}

// deviceArg turns a numeric device string into the index gocv expects.
func deviceArg(device string) interface{} {
	device = strings.TrimSpace(device)
	if id, err := strconv.Atoi(device); err == nil {
		return id
	}
	return device
}

func (c *Camera) readLoop(ctx context.Context) {
	defer close(c.done)

	img := gocv.NewMat()
	defer img.Close()

	for {
		if ctx.Err() != nil {
			c.deactivate(nil)
			return
		}

		if ok := c.grabber.Read(&img); !ok {
			c.deactivate(errors.Errorf("cannot read device %s", c.device))
			return
		}
		if img.Empty() {
			continue
		}

		frame, err := img.ToImage()
		if err != nil {
			c.logger.Debug("frame conversion failed", "error", err)
			continue
		}
		c.store(frame)
	}
}

func (c *Camera) store(frame image.Image) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.latest = frame
	c.seq++
	c.captured = now

	c.frameCount++
	if elapsed := now.Sub(c.lastTime).Seconds(); elapsed >= 1.0 {
		c.fps = float64(c.frameCount) / elapsed
		c.frameCount = 0
		c.lastTime = now
	}
}

func (c *Camera) deactivate(err error) {
	c.mu.Lock()
	c.active = false
	c.err = err
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("capture ended", "error", err)
	}
}

// Active reports whether the device is still delivering frames.
func (c *Camera) Active() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// Ready reports whether a frame is available.
func (c *Camera) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active && c.latest != nil
}

// Read returns the most recent frame. The image is never written to again, so callers may
// keep it.
func (c *Camera) Read() (decoder.Frame, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.latest == nil {
		if c.err != nil {
			return decoder.Frame{}, c.err
		}
		return decoder.Frame{}, ErrNoFrame
	}
	return decoder.Frame{Seq: c.seq, Image: c.latest, Captured: c.captured}, nil
}

// Err returns why the capture ended, if it did.
func (c *Camera) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// FPS returns the measured capture rate over the last second.
func (c *Camera) FPS() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fps
}

// CollectMetrics implements profiler.MetricsCollector.
func (c *Camera) CollectMetrics() map[string]float64 {
	return map[string]float64{"capture_fps": c.FPS()}
}

// Close stops the reader and releases the device.
func (c *Camera) Close() error {
	c.cancel()
	<-c.done

	return errors.Wrap(c.grabber.Close(), "failed to close capture device")
}

// Devices probes device indices [0, limit) and returns those that open.
//
// Arguments:
//   - limit: The number of indices to probe.
//
// Returns:
//   - []int: The openable device indices in ascending order.
func Devices(limit int) []int {
	var found []int
	for id := 0; id < limit; id++ {
		vc, err := gocv.OpenVideoCapture(id)
		if err == nil && vc.IsOpened() {
			found = append(found, id)
		}
		if vc != nil {
			vc.Close()
		}
	}
	return found
}
