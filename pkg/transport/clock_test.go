package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockTicksAtExpectedRate(t *testing.T) {
	tm := NewTempoMap() // 120 BPM
	const sr = 48000
	c := NewClock(tm, sr)

	// 120 BPM = 2 beats/sec = 1 beat per 24000 samples at 48kHz.
	var last float64
	for i := 0; i < 24000; i++ {
		last = c.Tick()
	}
	// Tick returns the beat before advancing, so the last value is one
	// sample short of beat 1.
	assert.InDelta(t, 23999.0/24000, last, 1e-6)
	assert.InDelta(t, 1.0, c.CurrentBeat(), 1e-6)
}

func TestClockSeekAppliesBeforeNextSample(t *testing.T) {
	tm := NewTempoMap()
	c := NewClock(tm, 48000)
	c.Seek(10)
	beat := c.Tick()
	assert.Equal(t, 10.0, beat)
}

func TestClockPausedDoesNotAdvance(t *testing.T) {
	tm := NewTempoMap()
	c := NewClock(tm, 48000)
	c.PausedFlag().Set()
	for i := 0; i < 100; i++ {
		c.Tick()
	}
	assert.Equal(t, 0.0, c.CurrentBeat())
}

func TestClockLoopWrapsAtBoundary(t *testing.T) {
	tm := NewTempoMap()
	c := NewClock(tm, 48000)
	c.Seek(3.9)
	c.SetLoop(true, LoopRange{Start: 0, End: 4})

	c.Tick() // consumes seek at 3.9; the ticks below cross 4 and wrap
	for i := 0; i < 48000; i++ {
		c.Tick()
	}
	require.True(t, c.CurrentBeat() < 4)
	assert.True(t, c.CurrentBeat() >= 0)
}

func TestClockProcessFillsWholeBuffer(t *testing.T) {
	tm := NewTempoMap()
	c := NewClock(tm, 48000)
	out := make([]float64, 256)
	c.Process(out, 256)
	assert.Equal(t, 0.0, out[0])
	assert.Greater(t, out[255], out[0])
}

func TestClockWritebackPublishesOncePerProcessCall(t *testing.T) {
	tm := NewTempoMap()
	c := NewClock(tm, 48000)
	w := &Writeback{}
	c.SetWriteback(w)

	out := make([]float64, 512)
	c.Process(out, 512)
	assert.InDelta(t, c.CurrentBeat(), w.Load(), 1e-9)
}
