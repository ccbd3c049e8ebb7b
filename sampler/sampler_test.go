package sampler

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nvr-ai/go-barcode/decoder"
	"github.com/nvr-ai/go-barcode/geometry"
	"github.com/nvr-ai/go-barcode/tracker"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = time.Second
	poll    = time.Millisecond
)

// fakeSource serves a blank 64x48 frame.
type fakeSource struct {
	active atomic.Bool
	ready  atomic.Bool
	seq    atomic.Uint64
}

func newFakeSource() *fakeSource {
	s := &fakeSource{}
	s.active.Store(true)
	s.ready.Store(true)
	return s
}

func (s *fakeSource) Active() bool { return s.active.Load() }
func (s *fakeSource) Ready() bool  { return s.ready.Load() }

func (s *fakeSource) Read() (decoder.Frame, error) {
	return decoder.Frame{
		Seq:      s.seq.Add(1),
		Image:    image.NewGray(image.Rect(0, 0, 64, 48)),
		Captured: time.Now(),
	}, nil
}

// fakeDecoders stands in for the registry.
type fakeDecoders struct {
	mu         sync.Mutex
	available  bool
	active     bool
	detections []decoder.Detection
	err        error
	block      chan struct{}
	started    chan struct{}
	decodes    int
	inFlight   int
	maxFlight  int
	selects    int
	preferred  decoder.ID
}

type nopDecoder struct{}

func (nopDecoder) Probe(context.Context) bool { return true }
func (nopDecoder) Decode(context.Context, decoder.Frame) ([]decoder.Detection, error) {
	return nil, nil
}
func (nopDecoder) Close() error { return nil }

func (f *fakeDecoders) Active(context.Context) decoder.Decoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return nil
	}
	return nopDecoder{}
}

func (f *fakeDecoders) SelectActive(_ context.Context, preferred decoder.ID) (decoder.ID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selects++
	f.preferred = preferred
	f.active = f.available
	return decoder.IDZXing, f.available
}

func (f *fakeDecoders) Decode(context.Context, decoder.Frame) ([]decoder.Detection, error) {
	f.mu.Lock()
	f.decodes++
	f.inFlight++
	if f.inFlight > f.maxFlight {
		f.maxFlight = f.inFlight
	}
	block, started := f.block, f.started
	f.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		<-block
	} else {
		time.Sleep(time.Millisecond)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	return f.detections, f.err
}

func (f *fakeDecoders) set(fn func(f *fakeDecoders)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeDecoders) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.decodes
}

// fakeRenderer records calls.
type fakeRenderer struct {
	mu      sync.Mutex
	renders int
	clears  int
	last    []tracker.Result
	width   int
	height  int
}

func (r *fakeRenderer) Render(w, h int, results []tracker.Result) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renders++
	r.last = results
	r.width, r.height = w, h
	return len(results)
}

func (r *fakeRenderer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears++
	r.last = nil
}

func (r *fakeRenderer) counts() (renders, clears int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.renders, r.clears
}

// statusLog records status callbacks.
type statusLog struct {
	mu       sync.Mutex
	statuses []Status
	errs     []error
}

func (s *statusLog) record(status Status, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	if err != nil {
		s.errs = append(s.errs, err)
	}
}

func (s *statusLog) has(status Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, got := range s.statuses {
		if got == status {
			return true
		}
	}
	return false
}

type harness struct {
	source   *fakeSource
	decoders *fakeDecoders
	tracker  *tracker.Tracker
	renderer *fakeRenderer
	status   *statusLog
	loop     *Loop
}

func newHarness(t *testing.T, detections ...decoder.Detection) *harness {
	t.Helper()

	h := &harness{
		source:   newFakeSource(),
		decoders: &fakeDecoders{available: true, detections: detections},
		tracker:  tracker.New(),
		renderer: &fakeRenderer{},
		status:   &statusLog{},
	}

	loop, err := New(h.source, h.decoders, h.tracker, h.renderer, Config{
		Interval:  time.Millisecond,
		Preferred: decoder.IDNative,
		OnStatus:  h.status.record,
	})
	require.NoError(t, err)
	h.loop = loop
	t.Cleanup(loop.Stop)

	return h
}

func detection(value string) decoder.Detection {
	return decoder.Detection{
		RawValue: value,
		Format:   "qr_code",
		Box:      geometry.Rect{X: 4, Y: 4, Width: 20, Height: 20},
	}
}

func TestNewValidates(t *testing.T) {
	src, dec, tr, rend := newFakeSource(), &fakeDecoders{}, tracker.New(), &fakeRenderer{}

	_, err := New(nil, dec, tr, rend, Config{})
	assert.Error(t, err)
	_, err = New(src, nil, tr, rend, Config{})
	assert.Error(t, err)
	_, err = New(src, dec, nil, rend, Config{})
	assert.Error(t, err)
	_, err = New(src, dec, tr, nil, Config{})
	assert.Error(t, err)

	loop, err := New(src, dec, tr, rend, Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, loop.interval)
	assert.Equal(t, StateIdle, loop.State())
}

func TestLoopDecodesMergesAndRenders(t *testing.T) {
	h := newHarness(t, detection("ABC"))

	require.NoError(t, h.loop.Start(context.Background()))
	assert.Equal(t, StateRunning, h.loop.State())
	assert.NotEmpty(t, h.loop.Session())

	require.Eventually(t, func() bool { return h.tracker.Len() == 1 }, waitFor, poll)
	require.Eventually(t, func() bool {
		renders, _ := h.renderer.counts()
		return renders >= 1
	}, waitFor, poll)

	h.renderer.mu.Lock()
	assert.Equal(t, 64, h.renderer.width)
	assert.Equal(t, 48, h.renderer.height)
	require.Len(t, h.renderer.last, 1)
	assert.Equal(t, "ABC", h.renderer.last[0].RawValue)
	h.renderer.mu.Unlock()

	h.decoders.mu.Lock()
	assert.Equal(t, decoder.IDNative, h.decoders.preferred, "the preferred id is asked for first")
	h.decoders.mu.Unlock()
	assert.True(t, h.status.has(StatusScanning))

	h.loop.Stop()
	assert.Equal(t, StateIdle, h.loop.State())
	_, clears := h.renderer.counts()
	assert.Equal(t, 1, clears, "stopping clears the render surface")
	assert.Equal(t, 1, h.tracker.Len(), "stopping keeps tracked results")
	assert.True(t, h.status.has(StatusStopped))
}

func TestLoopRendersOnlyOnChange(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.loop.Start(context.Background()))
	require.Eventually(t, func() bool { return h.decoders.count() >= 5 }, waitFor, poll)

	renders, _ := h.renderer.counts()
	assert.Zero(t, renders, "an empty merge into an empty tracker changes nothing")
}

func TestLoopUnavailableKeepsRunning(t *testing.T) {
	h := newHarness(t)
	h.decoders.set(func(f *fakeDecoders) { f.available = false })

	require.NoError(t, h.loop.Start(context.Background()))
	require.Eventually(t, func() bool { return h.status.has(StatusUnavailable) }, waitFor, poll)

	assert.Equal(t, StateRunning, h.loop.State())
	assert.Zero(t, h.decoders.count())

	h.decoders.set(func(f *fakeDecoders) {
		f.available = true
		f.detections = []decoder.Detection{detection("late")}
	})
	require.Eventually(t, func() bool { return h.tracker.Len() == 1 }, waitFor, poll)
}

func TestLoopSkipsUnreadyFrames(t *testing.T) {
	h := newHarness(t, detection("ABC"))
	h.source.ready.Store(false)

	require.NoError(t, h.loop.Start(context.Background()))
	require.Eventually(t, func() bool { return h.loop.ticks.Load() >= 5 }, waitFor, poll)
	assert.Zero(t, h.decoders.count())

	h.source.ready.Store(true)
	require.Eventually(t, func() bool { return h.tracker.Len() == 1 }, waitFor, poll)
}

func TestLoopStopsWhenSourceGoesAway(t *testing.T) {
	h := newHarness(t, detection("ABC"))

	require.NoError(t, h.loop.Start(context.Background()))
	require.Eventually(t, func() bool { return h.tracker.Len() == 1 }, waitFor, poll)

	h.source.active.Store(false)
	require.Eventually(t, func() bool { return h.loop.State() == StateIdle }, waitFor, poll)
	require.Eventually(t, func() bool {
		_, clears := h.renderer.counts()
		return clears == 1
	}, waitFor, poll)
	assert.True(t, h.status.has(StatusStopped))

	assert.ErrorIs(t, h.loop.Start(context.Background()), ErrSourceInactive)
}

func TestLoopStopsWithParentContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, h.loop.Start(ctx))
	cancel()

	require.Eventually(t, func() bool { return h.loop.State() == StateIdle }, waitFor, poll)
}

func TestLoopDecodeErrorIsTransient(t *testing.T) {
	h := newHarness(t)
	h.decoders.set(func(f *fakeDecoders) {
		f.err = errors.Wrap(decoder.ErrNoActiveDecoder, "engine crashed")
	})

	require.NoError(t, h.loop.Start(context.Background()))
	require.Eventually(t, func() bool { return h.status.has(StatusDecodeError) }, waitFor, poll)
	assert.Equal(t, StateRunning, h.loop.State())

	h.status.mu.Lock()
	require.NotEmpty(t, h.status.errs)
	assert.ErrorIs(t, h.status.errs[0], decoder.ErrNoActiveDecoder)
	h.status.mu.Unlock()

	h.decoders.set(func(f *fakeDecoders) {
		f.err = nil
		f.detections = []decoder.Detection{detection("recovered")}
	})
	require.Eventually(t, func() bool { return h.tracker.Len() == 1 }, waitFor, poll)
	assert.Positive(t, h.loop.CollectMetrics()["sampler_decode_errors"])
}

func TestLoopDiscardsResultsAfterStop(t *testing.T) {
	h := newHarness(t, detection("too late"))
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	h.decoders.set(func(f *fakeDecoders) {
		f.block = block
		f.started = started
	})

	require.NoError(t, h.loop.Start(context.Background()))
	<-started

	stopped := make(chan struct{})
	go func() {
		h.loop.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a decode was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(block)
	<-stopped

	assert.Zero(t, h.tracker.Len(), "the in-flight result is discarded")
	renders, _ := h.renderer.counts()
	assert.Zero(t, renders)
}

func TestLoopNeverOverlapsDecodes(t *testing.T) {
	h := newHarness(t, detection("ABC"))

	require.NoError(t, h.loop.Start(context.Background()))
	require.Eventually(t, func() bool { return h.decoders.count() >= 10 }, waitFor, poll)
	h.loop.Stop()

	h.decoders.mu.Lock()
	defer h.decoders.mu.Unlock()
	assert.Equal(t, 1, h.decoders.maxFlight)
}

func TestLoopIntervalMeasuredFromTickEnd(t *testing.T) {
	src, dec, tr, rend := newFakeSource(), &fakeDecoders{available: true}, tracker.New(), &fakeRenderer{}
	loop, err := New(src, dec, tr, rend, Config{Interval: 40 * time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, loop.Start(context.Background()))
	time.Sleep(100 * time.Millisecond)
	loop.Stop()

	// Ticks at ~0, ~41 and ~82 ms; a wall-clock aligned schedule would not be slower.
	assert.LessOrEqual(t, dec.count(), 3)
	assert.GreaterOrEqual(t, dec.count(), 2)
}

func TestPauseResume(t *testing.T) {
	h := newHarness(t, detection("ABC"))

	require.NoError(t, h.loop.Start(context.Background()))
	require.Eventually(t, func() bool { return h.tracker.Len() == 1 }, waitFor, poll)
	session := h.loop.Session()

	h.loop.Pause()
	assert.Equal(t, StatePaused, h.loop.State())
	assert.True(t, h.status.has(StatusPaused))

	paused := h.decoders.count()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, paused, h.decoders.count(), "no decoding while paused")
	assert.Equal(t, 1, h.tracker.Len(), "pausing keeps tracked results")
	_, clears := h.renderer.counts()
	assert.Zero(t, clears)

	require.NoError(t, h.loop.Resume())
	assert.Equal(t, StateRunning, h.loop.State())
	assert.Equal(t, session, h.loop.Session())
	require.Eventually(t, func() bool { return h.decoders.count() > paused }, waitFor, poll)

	assert.NoError(t, h.loop.Resume(), "resuming a running loop does nothing")
}

func TestStopFromStatusCallback(t *testing.T) {
	renderer := &fakeRenderer{}
	trk := tracker.New()
	stopped := make(chan struct{})
	var once sync.Once

	var loop *Loop
	loop, err := New(newFakeSource(), &fakeDecoders{available: true, detections: []decoder.Detection{detection("ABC")}}, trk, renderer, Config{
		Interval:  time.Millisecond,
		Preferred: decoder.IDNative,
		OnStatus: func(status Status, _ error) {
			if status == StatusScanning {
				once.Do(func() {
					loop.Stop()
					close(stopped)
				})
			}
		},
	})
	require.NoError(t, err)
	t.Cleanup(loop.Stop)

	require.NoError(t, loop.Start(context.Background()))
	select {
	case <-stopped:
	case <-time.After(waitFor):
		t.Fatal("Stop called from the status callback did not return")
	}

	assert.Equal(t, StateIdle, loop.State())
	time.Sleep(10 * time.Millisecond)
	renders, clears := renderer.counts()
	assert.Zero(t, renders, "the stopping tick does not render")
	assert.Equal(t, 1, clears)
	assert.Zero(t, trk.Len(), "the stopping tick does not merge")
}

func TestPauseFromStatusCallback(t *testing.T) {
	decoders := &fakeDecoders{available: true, detections: []decoder.Detection{detection("ABC")}}
	paused := make(chan struct{})
	var once sync.Once

	var loop *Loop
	loop, err := New(newFakeSource(), decoders, tracker.New(), &fakeRenderer{}, Config{
		Interval:  time.Millisecond,
		Preferred: decoder.IDNative,
		OnStatus: func(status Status, _ error) {
			if status == StatusScanning {
				once.Do(func() {
					loop.Pause()
					close(paused)
				})
			}
		},
	})
	require.NoError(t, err)
	t.Cleanup(loop.Stop)

	require.NoError(t, loop.Start(context.Background()))
	select {
	case <-paused:
	case <-time.After(waitFor):
		t.Fatal("Pause called from the status callback did not return")
	}
	assert.Equal(t, StatePaused, loop.State())

	before := decoders.count()
	require.NoError(t, loop.Resume())
	require.Eventually(t, func() bool { return decoders.count() > before }, waitFor, poll)
}

func TestStopWhilePaused(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.loop.Start(context.Background()))
	h.loop.Pause()
	h.loop.Stop()

	assert.Equal(t, StateIdle, h.loop.State())
	_, clears := h.renderer.counts()
	assert.Equal(t, 1, clears)
}

func TestTrackerEvictionUsesClock(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	src, dec, tr, rend := newFakeSource(), &fakeDecoders{available: true}, tracker.New(), &fakeRenderer{}
	dec.detections = []decoder.Detection{detection("ABC")}
	loop, err := New(src, dec, tr, rend, Config{Interval: time.Millisecond, Now: clock})
	require.NoError(t, err)
	t.Cleanup(loop.Stop)

	require.NoError(t, loop.Start(context.Background()))
	require.Eventually(t, func() bool { return tr.Len() == 1 }, waitFor, poll)

	loop.Pause()
	dec.set(func(f *fakeDecoders) { f.detections = nil })
	mu.Lock()
	now = now.Add(tracker.DefaultTTL + time.Millisecond)
	mu.Unlock()
	require.NoError(t, loop.Resume())

	require.Eventually(t, func() bool { return tr.Len() == 0 }, waitFor, poll)
	require.Eventually(t, func() bool {
		rend.mu.Lock()
		defer rend.mu.Unlock()
		return rend.renders >= 2 && len(rend.last) == 0
	}, waitFor, poll)
}

func TestReset(t *testing.T) {
	h := newHarness(t)
	h.tracker.Merge([]decoder.Detection{detection("A")}, time.Now())

	h.loop.Reset()
	assert.Zero(t, h.tracker.Len())
	_, clears := h.renderer.counts()
	assert.Equal(t, 1, clears)
}

func TestCollectMetrics(t *testing.T) {
	h := newHarness(t, detection("A"))

	require.NoError(t, h.loop.Start(context.Background()))
	require.Eventually(t, func() bool { return h.tracker.Len() == 1 }, waitFor, poll)
	h.loop.Stop()

	m := h.loop.CollectMetrics()
	assert.Positive(t, m["sampler_ticks"])
	assert.Positive(t, m["sampler_frames"])
	assert.Equal(t, 1.0, m["tracked_results"])
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "state(7)", State(7).String())
	assert.Equal(t, "unavailable", StatusUnavailable.String())
	assert.Equal(t, "decode error", StatusDecodeError.String())
	assert.Equal(t, "status(9)", Status(9).String())
}
