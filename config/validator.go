package config

import (
	"math"
	"strings"

	"github.com/nvr-ai/go-barcode/decoder"
	"github.com/pkg/errors"
)

var knownDecoders = map[decoder.ID]bool{
	decoder.IDNative: true,
	decoder.IDZXing:  true,
}

// Validate checks if the configuration is valid and fills derived defaults.
func Validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Capture.Device) == "" {
		return errors.New("capture.device is required")
	}
	if cfg.Capture.MaxWidth < 0 || cfg.Capture.MaxHeight < 0 {
		return errors.New("capture.max_width and capture.max_height must be >= 0")
	}
	if cfg.Capture.MaxDevices <= 0 {
		cfg.Capture.MaxDevices = 8
	}

	if err := validateDecoder(&cfg.Decoder); err != nil {
		return errors.Wrap(err, "decoder")
	}

	if cfg.Tracker.TTLMS <= 0 {
		return errors.New("tracker.ttl_ms must be > 0")
	}
	if cfg.Sampler.IntervalMS <= 0 {
		return errors.New("sampler.interval_ms must be > 0")
	}

	if cfg.Display.Enabled {
		if !positive(cfg.Display.Width) || !positive(cfg.Display.Height) {
			return errors.New("display.width and display.height must be > 0")
		}
		if cfg.Display.Title == "" {
			cfg.Display.Title = "Barcode Scanner"
		}
	}
	if !positive(cfg.Display.DevicePixelRatio) {
		cfg.Display.DevicePixelRatio = 1
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	case "":
		cfg.Log.Level = "info"
	default:
		return errors.Errorf("log.level %q is not one of debug, info, warn, error", cfg.Log.Level)
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "text", "json":
	case "":
		cfg.Log.Format = "text"
	default:
		return errors.Errorf("log.format %q is not one of text, json", cfg.Log.Format)
	}

	if cfg.Profiler.Enabled && cfg.Profiler.ReportIntervalS <= 0 {
		return errors.New("profiler.report_interval_s must be > 0")
	}

	return nil
}

// validateDecoder checks decoder ids and removes duplicates from the priority list.
func validateDecoder(d *DecoderConfig) error {
	if d.Preferred != "" && !knownDecoders[d.Preferred] {
		return errors.Errorf("unknown preferred decoder %q", d.Preferred)
	}

	if len(d.Priority) == 0 {
		d.Priority = []decoder.ID{decoder.IDNative, decoder.IDZXing}
	}
	seen := make(map[decoder.ID]bool, len(d.Priority))
	priority := d.Priority[:0]
	for _, id := range d.Priority {
		if !knownDecoders[id] {
			return errors.Errorf("unknown decoder %q in priority", id)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		priority = append(priority, id)
	}
	d.Priority = priority

	if d.Padding < 0 || math.IsNaN(d.Padding) || math.IsInf(d.Padding, 0) {
		return errors.New("padding must be a finite value >= 0")
	}

	return nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
