// Package registry owns the set of decoder variants, constructs them lazily, tracks their
// availability and exposes the currently active decoder.
//
// Availability per id moves from Unprobed to Available or Unavailable once probed. An
// Available decoder is demoted to Unavailable when it fails unexpectedly while in use.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nvr-ai/go-barcode/decoder"
	"github.com/pkg/errors"
)

// State is the availability of one decoder id.
type State int

const (
	// StateUnprobed means the decoder has not been constructed or probed yet.
	StateUnprobed State = iota
	// StateAvailable means the decoder was constructed and its probe succeeded.
	StateAvailable
	// StateUnavailable means construction or probing failed, or the decoder was demoted.
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateUnprobed:
		return "unprobed"
	case StateAvailable:
		return "available"
	case StateUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Factory constructs a decoder. It is called at most once per id.
type Factory func() (decoder.Decoder, error)

// Status reports the availability of one decoder id.
type Status struct {
	ID     decoder.ID
	State  State
	Active bool
	Err    error
}

type entry struct {
	id       decoder.ID
	factory  Factory
	state    State
	built    bool
	instance decoder.Decoder
	err      error
}

// Registry holds decoder variants in priority order.
type Registry struct {
	mu      sync.Mutex
	order   []decoder.ID
	entries map[decoder.ID]*entry
	active  decoder.ID
	logger  *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for construction and demotion reports.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[decoder.ID]*entry),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "registry")

	return r
}

// Register adds a decoder variant. Registration order is priority order. Registering an
// id twice replaces its factory and resets it to Unprobed.
func (r *Registry) Register(id decoder.ID, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; !exists {
		r.order = append(r.order, id)
	}
	r.entries[id] = &entry{id: id, factory: factory}
	if r.active == id {
		r.active = ""
	}
}

// ProbeAll constructs and probes every registered variant. A failure of one variant never
// prevents the others from being probed.
//
// Returns:
//   - []Status: The availability of every variant in priority order.
func (r *Registry) ProbeAll(ctx context.Context) []Status {
	r.mu.Lock()
	for _, id := range r.order {
		r.probe(ctx, r.entries[id])
	}
	r.mu.Unlock()

	return r.Statuses()
}

// SelectActive makes preferred the active decoder when it is available, otherwise the
// first available variant in priority order. Unprobed variants are probed on demand.
//
// Returns:
//   - decoder.ID: The selected id.
//   - bool: false when no variant is usable, which is a valid state.
func (r *Registry) SelectActive(ctx context.Context, preferred decoder.ID) (decoder.ID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[preferred]; ok {
		if r.probe(ctx, e) == StateAvailable {
			r.activate(preferred)
			return preferred, true
		}
	}

	for _, id := range r.order {
		if r.probe(ctx, r.entries[id]) == StateAvailable {
			r.activate(id)
			return id, true
		}
	}

	if r.active != "" {
		r.logger.Warn("no decoder available")
	}
	r.active = ""
	return "", false
}

// Active returns the active decoder, constructing it on first use, or nil when none is
// selected or the selected one became unavailable.
func (r *Registry) Active(ctx context.Context) decoder.Decoder {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, d := r.current(ctx)
	return d
}

// ActiveID returns the id of the active decoder.
func (r *Registry) ActiveID() (decoder.ID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.active, r.active != ""
}

// Decode runs the active decoder on frame. An unexpected decoder failure demotes that
// decoder to Unavailable and returns an error wrapping decoder.ErrNoActiveDecoder so the
// caller can reselect.
func (r *Registry) Decode(ctx context.Context, frame decoder.Frame) ([]decoder.Detection, error) {
	r.mu.Lock()
	id, d := r.current(ctx)
	r.mu.Unlock()

	if d == nil {
		return nil, decoder.ErrNoActiveDecoder
	}

	detections, err := d.Decode(ctx, frame)
	if err != nil {
		if decoder.Expected(err) {
			return nil, nil
		}
		r.Demote(id, err)
		return nil, errors.Wrapf(decoder.ErrNoActiveDecoder, "decoder %s failed: %v", id, err)
	}

	return detections, nil
}

// Demote marks id as Unavailable after an active-use failure and clears it as the active
// decoder.
func (r *Registry) Demote(id decoder.ID, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return
	}
	e.state = StateUnavailable
	e.err = cause
	if r.active == id {
		r.active = ""
	}
	r.logger.Warn("decoder demoted", "decoder", string(id), "error", cause)
}

// Statuses reports every variant in priority order.
func (r *Registry) Statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Status, 0, len(r.order))
	for _, id := range r.order {
		e := r.entries[id]
		out = append(out, Status{ID: id, State: e.state, Active: r.active == id, Err: e.err})
	}
	return out
}

// Close releases every constructed decoder. The registry must not be used afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var first error
	for _, id := range r.order {
		e := r.entries[id]
		if e.instance == nil {
			continue
		}
		if err := e.instance.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "failed to close decoder %s", id)
		}
		e.instance = nil
	}
	r.active = ""

	return first
}

// current resolves the active entry. Callers hold r.mu.
func (r *Registry) current(ctx context.Context) (decoder.ID, decoder.Decoder) {
	if r.active == "" {
		return "", nil
	}
	e := r.entries[r.active]
	r.build(e)
	if e.instance == nil {
		e.state = StateUnavailable
		r.active = ""
		return "", nil
	}
	if e.state == StateUnprobed {
		r.probe(ctx, e)
	}
	if e.state != StateAvailable {
		r.active = ""
		return "", nil
	}
	return e.id, e.instance
}

func (r *Registry) activate(id decoder.ID) {
	if r.active != id {
		r.logger.Info("decoder selected", "decoder", string(id))
	}
	r.active = id
}

// probe constructs and probes e once. A probe under a cancelled context leaves e
// unprobed. Callers hold r.mu.
func (r *Registry) probe(ctx context.Context, e *entry) State {
	if e.state != StateUnprobed {
		return e.state
	}

	r.build(e)
	if e.instance == nil || ctx.Err() != nil {
		return e.state
	}

	if ok := r.safeProbe(ctx, e); !ok {
		if ctx.Err() != nil {
			// Cancelled mid-probe; probe again on the next attempt.
			return e.state
		}
		e.state = StateUnavailable
		if e.err == nil {
			e.err = errors.Wrapf(decoder.ErrUnavailable, "decoder %s probe failed", e.id)
		}
		r.logger.Warn("decoder unavailable", "decoder", string(e.id), "error", e.err)
		return e.state
	}

	e.state = StateAvailable
	r.logger.Debug("decoder available", "decoder", string(e.id))
	return e.state
}

// build calls the factory at most once. Construction failures, panics included, are
// captured on the entry.
func (r *Registry) build(e *entry) {
	if e.built {
		return
	}
	e.built = true

	instance, err := safeFactory(e.factory)
	if err == nil && instance == nil {
		err = errors.Wrapf(decoder.ErrUnavailable, "decoder %s factory returned nil", e.id)
	}
	if err != nil {
		e.state = StateUnavailable
		e.err = err
		r.logger.Error("decoder construction failed", "decoder", string(e.id), "error", err)
		return
	}
	e.instance = instance
}

func (r *Registry) safeProbe(ctx context.Context, e *entry) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			e.err = errors.Wrapf(decoder.ErrUnavailable, "decoder %s probe panicked: %v", e.id, p)
			ok = false
		}
	}()
	return e.instance.Probe(ctx)
}

func safeFactory(factory Factory) (d decoder.Decoder, err error) {
	if factory == nil {
		return nil, errors.Wrap(decoder.ErrUnavailable, "no factory")
	}
	defer func() {
		if p := recover(); p != nil {
			d, err = nil, errors.Wrapf(decoder.ErrUnavailable, "factory panicked: %v", p)
		}
	}()
	return factory()
}
