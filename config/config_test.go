package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nvr-ai/go-barcode/decoder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))

	assert.Equal(t, 8000*time.Millisecond, cfg.TTL())
	assert.Equal(t, 250*time.Millisecond, cfg.Interval())
	assert.Equal(t, 10*time.Second, cfg.ReportInterval())
	assert.Equal(t, []decoder.ID{decoder.IDNative, decoder.IDZXing}, cfg.Decoder.Priority)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
capture:
  device: rtsp://camera.local/stream
  resolution: Full HD 1080p
decoder:
  preferred: zxing
  priority: [zxing, native, zxing]
  try_harder: false
tracker:
  ttl_ms: 5000
display:
  enabled: false
log:
  level: debug
  format: json
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "rtsp://camera.local/stream", cfg.Capture.Device)
	assert.Equal(t, "Full HD 1080p", cfg.Capture.Resolution)
	assert.Equal(t, decoder.IDZXing, cfg.Decoder.Preferred)
	assert.Equal(t, []decoder.ID{decoder.IDZXing, decoder.IDNative}, cfg.Decoder.Priority, "duplicates are dropped")
	assert.False(t, cfg.Decoder.TryHarder)
	assert.True(t, cfg.Decoder.MultiResult, "unset keys keep their defaults")
	assert.Equal(t, 5*time.Second, cfg.TTL())
	assert.Equal(t, 250*time.Millisecond, cfg.Interval())
	assert.False(t, cfg.Display.Enabled)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "malformed", yaml: "capture: [unterminated"},
		{name: "empty device", yaml: "capture:\n  device: \"\""},
		{name: "negative max width", yaml: "capture:\n  max_width: -1"},
		{name: "unknown preferred", yaml: "decoder:\n  preferred: quagga"},
		{name: "unknown priority", yaml: "decoder:\n  priority: [native, quagga]"},
		{name: "negative padding", yaml: "decoder:\n  padding: -1"},
		{name: "zero ttl", yaml: "tracker:\n  ttl_ms: 0"},
		{name: "zero interval", yaml: "sampler:\n  interval_ms: 0"},
		{name: "window without size", yaml: "display:\n  width: 0"},
		{name: "bad log level", yaml: "log:\n  level: loud"},
		{name: "bad log format", yaml: "log:\n  format: xml"},
		{name: "profiler without interval", yaml: "profiler:\n  enabled: true\n  report_interval_s: 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestValidateFillsDefaults(t *testing.T) {
	cfg := Default()
	cfg.Capture.MaxDevices = 0
	cfg.Decoder.Priority = nil
	cfg.Decoder.Preferred = ""
	cfg.Display.Title = ""
	cfg.Display.DevicePixelRatio = 0
	cfg.Log = LogConfig{}

	require.NoError(t, Validate(cfg))
	assert.Equal(t, 8, cfg.Capture.MaxDevices)
	assert.Equal(t, []decoder.ID{decoder.IDNative, decoder.IDZXing}, cfg.Decoder.Priority)
	assert.Equal(t, "Barcode Scanner", cfg.Display.Title)
	assert.Equal(t, 1.0, cfg.Display.DevicePixelRatio)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}
