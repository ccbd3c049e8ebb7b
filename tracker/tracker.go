// Package tracker keeps the set of currently visible barcodes. Repeated sightings of the
// same code across frames are merged into one entry, and entries that have not been seen
// for longer than the TTL are evicted.
package tracker

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/nvr-ai/go-barcode/decoder"
)

// DefaultTTL is how long a result stays visible after its last sighting.
const DefaultTTL = 8000 * time.Millisecond

// Result is a tracked detection.
type Result struct {
	decoder.Detection
	LastSeen time.Time
}

// Key returns the identity of a detection: its payload when non-empty, otherwise a
// positional key from the rounded box origin. Two empty payloads at rounding-equal
// positions share a key; that approximation is accepted.
func Key(d decoder.Detection) string {
	if d.RawValue != "" {
		return "v:" + d.RawValue
	}
	return fmt.Sprintf("p:%d,%d", int64(math.Round(d.Box.X)), int64(math.Round(d.Box.Y)))
}

// Tracker is a time-windowed cache of results keyed by Key.
type Tracker struct {
	mu      sync.Mutex
	ttl     time.Duration
	results map[string]*Result
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithTTL overrides DefaultTTL. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(t *Tracker) {
		if ttl > 0 {
			t.ttl = ttl
		}
	}
}

// New creates an empty tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		ttl:     DefaultTTL,
		results: make(map[string]*Result),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TTL returns the eviction window.
func (t *Tracker) TTL() time.Duration {
	return t.ttl
}

// Merge upserts every detection with LastSeen = now, overwriting all fields of an existing
// entry, then evicts every entry last seen more than TTL before now.
//
// Arguments:
//   - detections: The detections of one frame.
//   - now: The sampling time.
//
// Returns:
//   - bool: true when an entry was inserted, overwritten or evicted, so callers can skip
//     redundant re-rendering otherwise.
func (t *Tracker) Merge(detections []decoder.Detection, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	changed := false
	for _, d := range detections {
		t.results[Key(d)] = &Result{Detection: d, LastSeen: now}
		changed = true
	}

	for key, r := range t.results {
		if now.Sub(r.LastSeen) > t.ttl {
			delete(t.results, key)
			changed = true
		}
	}

	return changed
}

// Snapshot returns copies of the tracked results, most recently seen first.
func (t *Tracker) Snapshot() []Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Result, 0, len(t.results))
	for _, r := range t.results {
		cp := *r
		if r.Points != nil {
			cp.Points = append(cp.Points[:0:0], r.Points...)
		}
		out = append(out, cp)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return Key(out[i].Detection) < Key(out[j].Detection)
	})

	return out
}

// Len returns the number of tracked results.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.results)
}

// Clear drops every tracked result.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.results = make(map[string]*Result)
}
