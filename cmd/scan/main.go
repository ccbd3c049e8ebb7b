// Command scan samples a camera, decodes barcodes and shows them over the live view.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/nvr-ai/go-barcode/capture"
	"github.com/nvr-ai/go-barcode/config"
	"github.com/nvr-ai/go-barcode/decoder"
	"github.com/nvr-ai/go-barcode/decoder/zxing"
	"github.com/nvr-ai/go-barcode/display"
	"github.com/nvr-ai/go-barcode/engines"
	"github.com/nvr-ai/go-barcode/profiler"
	"github.com/nvr-ai/go-barcode/registry"
	"github.com/nvr-ai/go-barcode/render"
	"github.com/nvr-ai/go-barcode/sampler"
	"github.com/nvr-ai/go-barcode/tracker"
	"github.com/pkg/errors"
)

const (
	// windowPollMS is how long each window event poll waits for a key.
	windowPollMS = 30
	// idlePoll is how often a headless run checks whether the source ended.
	idlePoll = 250 * time.Millisecond
)

// flags holds command line overrides. Empty values keep the configuration.
type flags struct {
	configPath  string
	device      string
	decoder     string
	listDevices bool
	noWindow    bool
}

func init() {
	// gocv windows must be driven from the main thread.
	runtime.LockOSThread()
}

func main() {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "Path to a YAML configuration file")
	flag.StringVar(&f.device, "device", "", "Capture device index, video file, stream URL or frame directory")
	flag.StringVar(&f.decoder, "decoder", "", "Preferred decoder (native, zxing)")
	flag.BoolVar(&f.listDevices, "list-devices", false, "List openable capture devices and exit")
	flag.BoolVar(&f.noWindow, "no-window", false, "Run without the preview window")
	flag.Parse()

	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan: %v\n", err)
		os.Exit(2)
	}

	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	if f.listDevices {
		for _, id := range capture.Devices(cfg.Capture.MaxDevices) {
			fmt.Println(id)
		}
		return
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("scan failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration file, if any, and applies flag overrides.
func loadConfig(f flags) (*config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if f.device != "" {
		cfg.Capture.Device = f.device
	}
	if f.decoder != "" {
		cfg.Decoder.Preferred = decoder.ID(strings.ToLower(f.decoder))
	}
	if f.noWindow {
		cfg.Display.Enabled = false
	}

	if err := config.Validate(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	if _, err := capture.SelectResolution(cfg.Capture.Resolution, cfg.Capture.MaxWidth, cfg.Capture.MaxHeight); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return cfg, nil
}

// newLogger builds the process logger from the log section.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cam, err := openSource(ctx, cfg.Capture, logger)
	if err != nil {
		return err
	}
	defer cam.Close()

	reg := registry.New(registry.WithLogger(logger))
	defer reg.Close()
	engines.Register(reg, engines.Options{
		Priority: cfg.Decoder.Priority,
		ZXing: zxing.Config{
			TryHarder:   cfg.Decoder.TryHarder,
			MultiResult: cfg.Decoder.MultiResult,
			Padding:     cfg.Decoder.Padding,
		},
		Logger: logger,
	})
	for _, s := range reg.ProbeAll(ctx) {
		logger.Info("decoder probed", "decoder", string(s.ID), "state", s.State.String(), "error", s.Err)
	}

	results := tracker.New(tracker.WithTTL(cfg.TTL()))
	list := render.NewDisplayList(cfg.Display.Width, cfg.Display.Height, cfg.Display.DevicePixelRatio)
	overlay := render.NewOverlay(list, render.DefaultStyle(list.DevicePixelRatio()))

	var prof *profiler.Profiler
	if cfg.Profiler.Enabled {
		prof = profiler.New(profiler.Options{ReportInterval: cfg.ReportInterval(), Logger: logger})
		prof.AddMetricsCollector(cam)
		defer prof.Stop()
	}

	loop, err := sampler.New(cam, reg, results, overlay, sampler.Config{
		Interval:  cfg.Interval(),
		Preferred: cfg.Decoder.Preferred,
		OnStatus: func(status sampler.Status, err error) {
			if err != nil {
				logger.Warn("scanner status", "status", status.String(), "error", err)
				return
			}
			logger.Info("scanner status", "status", status.String())
		},
		Profiler: prof,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	prof.AddMetricsCollector(loop)
	prof.Start(ctx)

	if err := loop.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start sampling")
	}
	defer loop.Stop()

	go handleVisibility(ctx, loop, logger)

	if !cfg.Display.Enabled {
		waitHeadless(ctx, loop)
		return nil
	}
	present(ctx, cam, list, loop, cfg.Display.Title, logger)
	return nil
}

// openSource opens the configured device, or replays it when it names a directory of
// recorded frames.
func openSource(ctx context.Context, cfg config.CaptureConfig, logger *slog.Logger) (*capture.Camera, error) {
	if capture.IsSequence(cfg.Device) {
		return capture.OpenSequence(ctx, cfg.Device, capture.DefaultSequenceFPS, capture.Options{Logger: logger})
	}

	resolution, err := capture.SelectResolution(cfg.Resolution, cfg.MaxWidth, cfg.MaxHeight)
	if err != nil {
		return nil, err
	}
	return capture.Open(ctx, capture.Options{
		Device:     cfg.Device,
		Resolution: resolution,
		Logger:     logger,
	})
}

// handleVisibility pauses sampling on SIGUSR1 and resumes it on SIGUSR2.
func handleVisibility(ctx context.Context, loop *sampler.Loop, logger *slog.Logger) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(signals)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-signals:
			switch sig {
			case syscall.SIGUSR1:
				loop.Pause()
			case syscall.SIGUSR2:
				if err := loop.Resume(); err != nil {
					logger.Warn("cannot resume sampling", "error", err)
				}
			}
		}
	}
}

// waitHeadless blocks until ctx is done or the loop stopped on its own.
func waitHeadless(ctx context.Context, loop *sampler.Loop) {
	ticker := time.NewTicker(idlePoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if loop.State() == sampler.StateIdle {
				return
			}
		}
	}
}

// present drives the preview window on the main thread until the user quits, the window
// is closed or the source ends.
func present(ctx context.Context, cam *capture.Camera, list *render.DisplayList, loop *sampler.Loop, title string, logger *slog.Logger) {
	window := display.NewWindow(title, list, logger)
	defer window.Close()

	for ctx.Err() == nil {
		if frame, err := cam.Read(); err == nil {
			window.Show(frame.Image, frame.Seq)
		}

		switch window.Poll(windowPollMS) {
		case 'c':
			loop.Reset()
			logger.Info("results cleared")
		case 'q', display.KeyEscape:
			return
		}

		if !window.Open() || loop.State() == sampler.StateIdle {
			return
		}
	}
}
