package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapturePushAndDrainRoundTrip(t *testing.T) {
	c := NewCapture(1, "out.wav", 44100, 2, 16)
	n := c.Push([]Frame{{L: 0.5, R: -0.5}, {L: 1, R: -1}})
	require.Equal(t, 2, n)
	assert.Equal(t, 2, c.ReadSpace())

	out := make([]Frame, 2)
	got := c.Drain(out)
	require.Equal(t, 2, got)
	assert.Equal(t, Frame{L: 0.5, R: -0.5}, out[0])
	assert.Equal(t, uint64(2), c.FramesWritten.Load())
}

func TestCaptureFillPercentTracksUsage(t *testing.T) {
	c := NewCapture(1, "out.wav", 44100, 1, 16)
	c.Push(make([]Frame, 8))
	assert.InDelta(t, 0.5, c.FillPercent(), 1e-9)
}

func TestCapturePushDropsOnOverflowWithoutBlocking(t *testing.T) {
	c := NewCapture(1, "out.wav", 44100, 1, 2)
	n := c.Push(make([]Frame, 4))
	assert.Equal(t, 2, n) // only capacity accepted, rest dropped silently
}
