// Package sampler drives the periodic capture, decode, merge and render cycle.
//
// A Loop moves from Idle to Running on Start and back to Idle on Stop, or on its own when
// the capture source goes away. Exactly one tick runs at a time: the next tick is armed
// only after the current one, decode and render included, has finished.
package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nvr-ai/go-barcode/decoder"
	"github.com/nvr-ai/go-barcode/profiler"
	"github.com/nvr-ai/go-barcode/tracker"
	"github.com/pkg/errors"
)

// DefaultInterval is the gap between the end of one tick and the start of the next.
const DefaultInterval = 250 * time.Millisecond

// ErrSourceInactive is returned by Start and Resume when there is no capture source.
var ErrSourceInactive = errors.New("capture source is not active")

// Source is a live frame source.
type Source interface {
	// Active reports whether a capture stream is attached.
	Active() bool
	// Ready reports whether a frame can be sampled right now.
	Ready() bool
	// Read returns the most recent frame.
	Read() (decoder.Frame, error)
}

// Decoders resolves and runs the active decoder. *registry.Registry implements it.
type Decoders interface {
	Active(ctx context.Context) decoder.Decoder
	SelectActive(ctx context.Context, preferred decoder.ID) (decoder.ID, bool)
	Decode(ctx context.Context, frame decoder.Frame) ([]decoder.Detection, error)
}

// Renderer draws tracked results for a source of the given size. *render.Overlay
// implements it.
type Renderer interface {
	Render(sourceWidth, sourceHeight int, results []tracker.Result) int
	Clear()
}

// State is the lifecycle state of a Loop.
type State int

const (
	StateIdle State = iota
	StateRunning
	// StatePaused is a Running loop suspended by Pause. Tracked results are kept.
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is what the loop reports to its status callback.
type Status int

const (
	// StatusScanning means the last tick decoded a frame.
	StatusScanning Status = iota
	// StatusUnavailable means no decoder could be resolved; the loop keeps running.
	StatusUnavailable
	// StatusDecodeError means the active decoder failed; the loop keeps running.
	StatusDecodeError
	// StatusPaused means the loop was paused.
	StatusPaused
	// StatusStopped means the loop returned to Idle.
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusScanning:
		return "scanning"
	case StatusUnavailable:
		return "unavailable"
	case StatusDecodeError:
		return "decode error"
	case StatusPaused:
		return "paused"
	case StatusStopped:
		return "stopped"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// StatusFunc receives status changes. err is set for StatusDecodeError. It may call Stop
// or Pause; those then return without waiting for the loop goroutine to exit.
type StatusFunc func(status Status, err error)

// Config configures a Loop.
type Config struct {
	// Interval between ticks (default: DefaultInterval).
	Interval time.Duration
	// Preferred is the decoder id asked for when no decoder is active.
	Preferred decoder.ID
	// OnStatus is called from the loop goroutine on every status change.
	OnStatus StatusFunc
	// Profiler receives decode, merge and render timings. Optional.
	Profiler *profiler.Profiler
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Now is the clock used for tracker timestamps (default: time.Now).
	Now func() time.Time
}

// Loop is the sampling state machine.
type Loop struct {
	source   Source
	decoders Decoders
	tracker  *tracker.Tracker
	renderer Renderer

	interval  time.Duration
	preferred decoder.ID
	onStatus  StatusFunc
	profiler  *profiler.Profiler
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	state   State
	parent  context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	// notifying is the done channel of the run whose goroutine is inside OnStatus.
	notifying chan struct{}
	session   string
	log       *slog.Logger

	statusMu   sync.Mutex
	lastStatus Status
	reported   bool

	ticks        atomic.Uint64
	frames       atomic.Uint64
	decodeErrors atomic.Uint64
}

// New creates an idle loop.
//
// Arguments:
//   - source: The frame source sampled every tick.
//   - decoders: The decoder registry.
//   - results: The tracker merged into every tick.
//   - renderer: The render target redrawn when the tracked set changes.
//   - cfg: Loop configuration.
//
// Returns:
//   - *Loop: The idle loop.
//   - error: When a collaborator is missing.
func New(source Source, decoders Decoders, results *tracker.Tracker, renderer Renderer, cfg Config) (*Loop, error) {
	switch {
	case source == nil:
		return nil, errors.New("sampler: nil source")
	case decoders == nil:
		return nil, errors.New("sampler: nil decoders")
	case results == nil:
		return nil, errors.New("sampler: nil tracker")
	case renderer == nil:
		return nil, errors.New("sampler: nil renderer")
	}

	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	logger := cfg.Logger.With("component", "sampler")
	return &Loop{
		source:    source,
		decoders:  decoders,
		tracker:   results,
		renderer:  renderer,
		interval:  cfg.Interval,
		preferred: cfg.Preferred,
		onStatus:  cfg.OnStatus,
		profiler:  cfg.Profiler,
		logger:    logger,
		log:       logger,
		now:       cfg.Now,
	}, nil
}

// Start moves the loop to Running and performs the first tick immediately. Starting a
// running loop does nothing; starting a paused loop resumes it under a new session.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateRunning {
		return nil
	}
	if !l.source.Active() {
		return ErrSourceInactive
	}

	l.session = uuid.NewString()
	l.log = l.logger.With("session", l.session)
	l.parent = ctx
	l.launch()
	l.log.Info("sampling started", "interval", l.interval)

	return nil
}

// Stop cancels the pending tick, waits for an in-flight tick to finish and clears the
// render surface. Results of the in-flight decode are discarded. Tracked results are kept.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.state == StateIdle {
		l.mu.Unlock()
		return
	}
	cancel, done := l.detach()
	l.state = StateIdle
	reentrant := done != nil && done == l.notifying
	log := l.log
	l.mu.Unlock()

	l.release(cancel, done, reentrant)
	l.renderer.Clear()
	l.report(StatusStopped, nil)
	log.Info("sampling stopped")
}

// Pause stops ticking without clearing the render surface or the tracker. TTL eviction
// still uses wall-clock time, so results that go stale while paused are dropped on the
// first tick after Resume.
func (l *Loop) Pause() {
	l.mu.Lock()
	if l.state != StateRunning {
		l.mu.Unlock()
		return
	}
	cancel, done := l.detach()
	l.state = StatePaused
	reentrant := done != nil && done == l.notifying
	log := l.log
	l.mu.Unlock()

	l.release(cancel, done, reentrant)
	l.report(StatusPaused, nil)
	log.Info("sampling paused")
}

// Resume restarts a paused loop in the same session.
func (l *Loop) Resume() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StatePaused {
		return nil
	}
	if err := l.parent.Err(); err != nil {
		l.state = StateIdle
		return errors.Wrap(err, "sampler: cannot resume")
	}
	if !l.source.Active() {
		return ErrSourceInactive
	}

	l.launch()
	l.log.Info("sampling resumed")
	return nil
}

// Reset drops every tracked result and clears the render surface.
func (l *Loop) Reset() {
	l.tracker.Clear()
	l.renderer.Clear()
}

// State returns the lifecycle state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Session returns the id of the current or last run, empty before the first Start.
func (l *Loop) Session() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session
}

// CollectMetrics implements profiler.MetricsCollector.
func (l *Loop) CollectMetrics() map[string]float64 {
	return map[string]float64{
		"sampler_ticks":         float64(l.ticks.Load()),
		"sampler_frames":        float64(l.frames.Load()),
		"sampler_decode_errors": float64(l.decodeErrors.Load()),
		"tracked_results":       float64(l.tracker.Len()),
	}
}

// launch starts a run goroutine. Callers hold l.mu.
func (l *Loop) launch() {
	ctx, cancel := context.WithCancel(l.parent)
	done := make(chan struct{})
	l.cancel, l.done = cancel, done
	l.state = StateRunning

	go l.run(ctx, done, l.log)
}

// detach takes ownership of the current run. Callers hold l.mu.
func (l *Loop) detach() (context.CancelFunc, chan struct{}) {
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	return cancel, done
}

func wait(cancel context.CancelFunc, done chan struct{}) {
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (l *Loop) run(ctx context.Context, done chan struct{}, log *slog.Logger) {
	defer close(done)
	defer l.finish(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if !l.tick(ctx, done, log) {
			return
		}
		timer.Reset(l.interval)
	}
}

// finish returns the loop to Idle when the run ended on its own, because the source went
// away or the parent context was cancelled.
func (l *Loop) finish(done chan struct{}) {
	l.mu.Lock()
	if l.done != done {
		l.mu.Unlock()
		return
	}
	cancel, _ := l.detach()
	l.state = StateIdle
	log := l.log
	l.mu.Unlock()

	cancel()
	l.renderer.Clear()
	l.report(StatusStopped, nil)
	log.Info("sampling ended", "reason", "source inactive or context done")
}

// tick runs one sampling step. It returns false when the loop must stop.
func (l *Loop) tick(ctx context.Context, done chan struct{}, log *slog.Logger) bool {
	l.ticks.Add(1)

	if !l.source.Active() {
		return false
	}

	if l.decoders.Active(ctx) == nil {
		if _, ok := l.decoders.SelectActive(ctx, l.preferred); !ok {
			l.notify(done, StatusUnavailable, nil)
			return true
		}
	}

	if !l.source.Ready() {
		return true
	}
	frame, err := l.source.Read()
	if err != nil {
		log.Debug("frame not ready", "error", err)
		return true
	}
	l.frames.Add(1)

	stop := l.profiler.StartOperation("decode")
	detections, err := l.decoders.Decode(ctx, frame)
	stop()

	// Stopped or detached while decoding: the result belongs to nobody.
	if ctx.Err() != nil {
		return true
	}
	if !l.source.Active() {
		return false
	}

	if err != nil {
		l.decodeErrors.Add(1)
		log.Warn("decode failed", "seq", frame.Seq, "error", err)
		l.notify(done, StatusDecodeError, err)
		return true
	}
	l.notify(done, StatusScanning, nil)
	// The status callback may have stopped or paused the loop.
	if ctx.Err() != nil {
		return true
	}
	l.profiler.RecordMetric("detections_per_frame", float64(len(detections)))

	stop = l.profiler.StartOperation("merge")
	changed := l.tracker.Merge(detections, l.now())
	stop()

	if changed {
		w, h := frame.Size()
		stop = l.profiler.StartOperation("render")
		drawn := l.renderer.Render(w, h, l.tracker.Snapshot())
		stop()
		log.Debug("results rendered", "seq", frame.Seq, "drawn", drawn)
	}

	return true
}

// report forwards status changes to the callback. Decode errors are forwarded every time.
// notify reports status from the run owning done, marking that run as inside the
// callback.
func (l *Loop) notify(done chan struct{}, status Status, err error) {
	l.mu.Lock()
	l.notifying = done
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.notifying = nil
		l.mu.Unlock()
	}()

	l.report(status, err)
}

// release cancels a detached run and waits for it to exit, unless the caller is that
// run's own status callback.
func (l *Loop) release(cancel context.CancelFunc, done chan struct{}, reentrant bool) {
	if reentrant {
		cancel()
		return
	}
	wait(cancel, done)
}

func (l *Loop) report(status Status, err error) {
	l.statusMu.Lock()
	changed := !l.reported || l.lastStatus != status || err != nil
	l.lastStatus, l.reported = status, true
	l.statusMu.Unlock()

	if changed && l.onStatus != nil {
		l.onStatus(status, err)
	}
}
