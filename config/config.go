// Package config loads the scanner configuration from YAML.
package config

import (
	"os"
	"time"

	"github.com/nvr-ai/go-barcode/decoder"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config represents the complete scanner configuration.
type Config struct {
	Capture  CaptureConfig  `yaml:"capture"`
	Decoder  DecoderConfig  `yaml:"decoder"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	Sampler  SamplerConfig  `yaml:"sampler"`
	Display  DisplayConfig  `yaml:"display"`
	Log      LogConfig      `yaml:"log"`
	Profiler ProfilerConfig `yaml:"profiler"`
}

// CaptureConfig contains frame source settings.
type CaptureConfig struct {
	Device     string `yaml:"device"`      // device index, file path or stream URL
	Resolution string `yaml:"resolution"`  // named resolution, empty for the device default
	MaxWidth   int    `yaml:"max_width"`   // upper bound on the requested width, 0 for none
	MaxHeight  int    `yaml:"max_height"`  // upper bound on the requested height, 0 for none
	MaxDevices int    `yaml:"max_devices"` // indices probed by -list-devices
}

// DecoderConfig contains decoder selection and engine settings.
type DecoderConfig struct {
	Preferred   decoder.ID   `yaml:"preferred"`    // native or zxing
	Priority    []decoder.ID `yaml:"priority"`     // registration order, highest priority first
	TryHarder   bool         `yaml:"try_harder"`   // zxing: spend more time per frame
	MultiResult bool         `yaml:"multi_result"` // zxing: find every code in a frame
	Padding     float64      `yaml:"padding"`      // zxing: pixels added around corner envelopes
}

// TrackerConfig contains result reconciliation settings.
type TrackerConfig struct {
	TTLMS int `yaml:"ttl_ms"` // how long a result stays visible after its last sighting
}

// SamplerConfig contains sampling loop settings.
type SamplerConfig struct {
	IntervalMS int `yaml:"interval_ms"` // gap between the end of one tick and the next
}

// DisplayConfig contains on-screen window settings.
type DisplayConfig struct {
	Enabled          bool    `yaml:"enabled"`
	Title            string  `yaml:"title"`
	Width            float64 `yaml:"width"`  // CSS pixels
	Height           float64 `yaml:"height"` // CSS pixels
	DevicePixelRatio float64 `yaml:"device_pixel_ratio"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// ProfilerConfig contains runtime profiler settings.
type ProfilerConfig struct {
	Enabled         bool `yaml:"enabled"`
	ReportIntervalS int  `yaml:"report_interval_s"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			Device:     "0",
			Resolution: "HD 720p",
			MaxDevices: 8,
		},
		Decoder: DecoderConfig{
			Preferred:   decoder.IDNative,
			Priority:    []decoder.ID{decoder.IDNative, decoder.IDZXing},
			TryHarder:   true,
			MultiResult: true,
			Padding:     8,
		},
		Tracker: TrackerConfig{TTLMS: 8000},
		Sampler: SamplerConfig{IntervalMS: 250},
		Display: DisplayConfig{
			Enabled:          true,
			Title:            "Barcode Scanner",
			Width:            960,
			Height:           540,
			DevicePixelRatio: 1,
		},
		Log:      LogConfig{Level: "info", Format: "text"},
		Profiler: ProfilerConfig{Enabled: false, ReportIntervalS: 10},
	}
}

// Load reads a YAML configuration file over the defaults and validates it.
//
// Arguments:
//   - path: The file to read.
//
// Returns:
//   - *Config: The merged configuration.
//   - error: When the file cannot be read, parsed or validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}

	if err := Validate(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return cfg, nil
}

// TTL returns the tracker TTL.
func (c *Config) TTL() time.Duration {
	return time.Duration(c.Tracker.TTLMS) * time.Millisecond
}

// Interval returns the sampling interval.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Sampler.IntervalMS) * time.Millisecond
}

// ReportInterval returns the profiler report interval.
func (c *Config) ReportInterval() time.Duration {
	return time.Duration(c.Profiler.ReportIntervalS) * time.Second
}
