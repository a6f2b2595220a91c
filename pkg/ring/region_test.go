package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegionPushAndReadRoundTrip(t *testing.T) {
	r := NewRegion(1, "file.wav", 44100, 44100, 2, 16)
	n := r.Push([]Frame{{L: 1, R: 1}, {L: 2, R: 2}})
	require.Equal(t, 2, n)

	out := make([]Frame, 2)
	got := r.Read(out)
	require.Equal(t, 2, got)
	assert.Equal(t, Frame{L: 1, R: 1}, out[0])
}

func TestRegionFillPercentTracksUsage(t *testing.T) {
	r := NewRegion(1, "f", 0, 44100, 2, 16)
	assert.Equal(t, 0.0, r.FillPercent())

	r.Push(make([]Frame, 8))
	assert.InDelta(t, 0.5, r.FillPercent(), 1e-9)
}

func TestRegionSeekBumpsVersionWithoutTouchingRing(t *testing.T) {
	r := NewRegion(1, "f", 0, 44100, 2, 16)
	r.Push(make([]Frame, 4))
	before := r.Version()

	r.Seek(1000)
	assert.Equal(t, before+1, r.Version())
	assert.Equal(t, 4, r.buf.ReadSpace()) // Seek itself doesn't drain
	assert.Equal(t, uint64(1000), r.FilePosition.Load())
}

func TestRegionDrainAllEmptiesRing(t *testing.T) {
	r := NewRegion(1, "f", 0, 44100, 2, 16)
	r.Push(make([]Frame, 4))
	dropped := r.DrainAll()
	assert.Equal(t, 4, dropped)
	assert.Equal(t, 0, r.buf.ReadSpace())
}
