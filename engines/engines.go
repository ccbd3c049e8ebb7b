// Package engines constructs the concrete decoder variants and registers them with a
// registry.
package engines

import (
	"log/slog"

	"github.com/nvr-ai/go-barcode/decoder"
	"github.com/nvr-ai/go-barcode/decoder/opencv"
	"github.com/nvr-ai/go-barcode/decoder/zxing"
	"github.com/nvr-ai/go-barcode/registry"
	"github.com/pkg/errors"
)

// Options configures the variants.
type Options struct {
	// Priority is the registration order. Empty means native first, then zxing.
	Priority []decoder.ID
	// ZXing configures the luminance/contour engine.
	ZXing zxing.Config
	// Logger is handed to every engine.
	Logger *slog.Logger
}

// DefaultOptions returns native-first priority and the default ZXing settings.
func DefaultOptions() Options {
	return Options{
		Priority: []decoder.ID{decoder.IDNative, decoder.IDZXing},
		ZXing:    zxing.DefaultConfig(),
	}
}

// New creates the decoder variant identified by id.
//
// This factory routes to the variant constructors so that adding an engine only touches
// this switch.
//
// Arguments:
//   - id: The variant to build.
//   - opts: Engine settings.
//
// Returns:
//   - decoder.Decoder: The constructed engine adapter.
//   - error: When the engine cannot be constructed on this host or id is unknown.
//
// @example
//
//	d, err := engines.New(decoder.IDZXing, engines.DefaultOptions())
//	if err != nil {
//		return err
//	}
//	defer d.Close()
func New(id decoder.ID, opts Options) (decoder.Decoder, error) {
	switch id {
	case decoder.IDNative:
		d, err := opencv.New(opts.Logger)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to construct decoder %s", id)
		}
		return d, nil
	case decoder.IDZXing:
		cfg := opts.ZXing
		if cfg.Logger == nil {
			cfg.Logger = opts.Logger
		}
		d, err := zxing.New(cfg)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to construct decoder %s", id)
		}
		return d, nil
	default:
		return nil, errors.Wrapf(decoder.ErrUnavailable, "unsupported decoder id: %s", id)
	}
}

// Register adds every variant in opts.Priority to r. Construction is deferred until the
// registry first needs the variant.
func Register(r *registry.Registry, opts Options) {
	priority := opts.Priority
	if len(priority) == 0 {
		priority = DefaultOptions().Priority
	}

	for _, id := range priority {
		r.Register(id, func() (decoder.Decoder, error) {
			return New(id, opts)
		})
	}
}
