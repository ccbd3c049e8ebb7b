package decoder

import "github.com/pkg/errors"

var (
	// ErrNotReady means the frame cannot be sampled yet.
	ErrNotReady = errors.New("frame not ready")
	// ErrBadArgument means the engine rejected the frame as input.
	ErrBadArgument = errors.New("bad decoder argument")
	// ErrEngine marks an unexpected fault inside a decoding engine.
	ErrEngine = errors.New("decoder engine failure")
	// ErrUnavailable means the engine cannot be constructed or used on this host.
	ErrUnavailable = errors.New("decoder unavailable")
	// ErrNoActiveDecoder means no usable decoder is selected.
	ErrNoActiveDecoder = errors.New("no active decoder")
)

// Expected reports whether err is a steady-state condition that callers should treat as
// "no results" rather than a fault.
func Expected(err error) bool {
	return errors.Is(err, ErrNotReady) || errors.Is(err, ErrBadArgument)
}
