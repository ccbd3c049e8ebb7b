package tracker

import (
	"testing"
	"time"

	"github.com/nvr-ai/go-barcode/decoder"
	"github.com/nvr-ai/go-barcode/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return epoch.Add(time.Duration(ms) * time.Millisecond)
}

func detection(value string, x, y float64) decoder.Detection {
	return decoder.Detection{
		RawValue: value,
		Format:   "qr_code",
		Box:      geometry.Rect{X: x, Y: y, Width: 40, Height: 40},
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "v:ABC", Key(detection("ABC", 1, 2)))
	assert.Equal(t, Key(detection("ABC", 1, 2)), Key(detection("ABC", 300, 200)), "payload wins over position")

	assert.Equal(t, "p:10,20", Key(detection("", 10.2, 19.6)))
	assert.Equal(t, Key(detection("", 10.2, 19.6)), Key(detection("", 9.8, 20.4)), "rounding-equal positions collide")
	assert.NotEqual(t, Key(detection("", 10, 20)), Key(detection("", 12, 20)))
}

func TestMergeOverwritesWithinTTL(t *testing.T) {
	tr := New()

	first := detection("ABC", 10, 10)
	first.Points = []geometry.Point{{X: 10, Y: 10}, {X: 50, Y: 10}, {X: 10, Y: 50}}
	require.True(t, tr.Merge([]decoder.Detection{first}, at(0)))

	second := detection("ABC", 200, 120)
	second.Format = "micro_qr"
	require.True(t, tr.Merge([]decoder.Detection{second}, at(1500)))

	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, second, snap[0].Detection, "every field is overwritten, points included")
	assert.Equal(t, at(1500), snap[0].LastSeen)
}

func TestMergeEvictsAfterTTL(t *testing.T) {
	tr := New()
	tr.Merge([]decoder.Detection{detection("old", 0, 0)}, at(0))
	tr.Merge([]decoder.Detection{detection("fresh", 50, 50)}, at(5000))

	changed := tr.Merge(nil, at(int(DefaultTTL/time.Millisecond)+1))
	assert.True(t, changed)

	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "fresh", snap[0].RawValue)
}

func TestMergeTTLBoundary(t *testing.T) {
	tests := []struct {
		name    string
		nowMS   int
		present bool
	}{
		{name: "well within", nowMS: 9000, present: true},
		{name: "one millisecond before expiry", nowMS: 10999, present: true},
		{name: "exactly TTL after last sighting", nowMS: 11000, present: true},
		{name: "one millisecond after expiry", nowMS: 11001, present: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New()
			tr.Merge([]decoder.Detection{detection("ABC", 0, 0)}, at(0))
			tr.Merge([]decoder.Detection{detection("ABC", 0, 0)}, at(3000))

			tr.Merge(nil, at(tt.nowMS))

			if tt.present {
				assert.Equal(t, 1, tr.Len())
			} else {
				assert.Zero(t, tr.Len())
				assert.Empty(t, tr.Snapshot())
			}
		})
	}
}

func TestMergeReportsChanges(t *testing.T) {
	tr := New()

	assert.False(t, tr.Merge(nil, at(0)), "nothing tracked, nothing to evict")
	assert.True(t, tr.Merge([]decoder.Detection{detection("A", 0, 0)}, at(0)))
	assert.False(t, tr.Merge(nil, at(100)))
	assert.True(t, tr.Merge([]decoder.Detection{detection("A", 0, 0)}, at(200)), "a re-sighting refreshes the entry")
	assert.False(t, tr.Merge([]decoder.Detection{}, at(8200)))
	assert.True(t, tr.Merge(nil, at(8201)))
}

func TestMergeEmptyPayloadsByPosition(t *testing.T) {
	tr := New()
	tr.Merge([]decoder.Detection{
		detection("", 10, 10),
		detection("", 300, 10),
		detection("", 10.4, 9.6),
	}, at(0))

	assert.Equal(t, 2, tr.Len())
}

func TestSnapshotOrder(t *testing.T) {
	tr := New()
	tr.Merge([]decoder.Detection{detection("first", 0, 0)}, at(0))
	tr.Merge([]decoder.Detection{detection("second", 0, 0)}, at(100))
	tr.Merge([]decoder.Detection{detection("b", 0, 0), detection("a", 0, 0)}, at(200))
	tr.Merge([]decoder.Detection{detection("first", 0, 0)}, at(300))

	var order []string
	for _, r := range tr.Snapshot() {
		order = append(order, r.RawValue)
	}
	assert.Equal(t, []string{"first", "a", "b", "second"}, order)
}

func TestSnapshotIsACopy(t *testing.T) {
	tr := New()
	d := detection("ABC", 0, 0)
	d.Points = []geometry.Point{{X: 1, Y: 1}, {X: 2, Y: 2}, {X: 3, Y: 1}}
	tr.Merge([]decoder.Detection{d}, at(0))

	snap := tr.Snapshot()
	snap[0].RawValue = "mutated"
	snap[0].Points[0].X = 99

	again := tr.Snapshot()
	assert.Equal(t, "ABC", again[0].RawValue)
	assert.Equal(t, 1.0, again[0].Points[0].X)
}

func TestClear(t *testing.T) {
	tr := New()
	tr.Merge([]decoder.Detection{detection("A", 0, 0), detection("B", 0, 0)}, at(0))
	require.Equal(t, 2, tr.Len())

	tr.Clear()
	assert.Zero(t, tr.Len())
	assert.Empty(t, tr.Snapshot())
}

func TestWithTTL(t *testing.T) {
	tr := New(WithTTL(time.Second))
	assert.Equal(t, time.Second, tr.TTL())

	tr.Merge([]decoder.Detection{detection("A", 0, 0)}, at(0))
	tr.Merge(nil, at(1001))
	assert.Zero(t, tr.Len())

	assert.Equal(t, DefaultTTL, New(WithTTL(0)).TTL())
}
