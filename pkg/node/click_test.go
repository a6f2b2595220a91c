package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClickRetriggerResetsPhaseToZero(t *testing.T) {
	c := NewClick(48000)
	f := c.Tick()
	assert.InDelta(t, 0, f.L, 1e-6) // sin(0) == 0 at phase 0

	for i := 0; i < 100; i++ {
		c.Tick()
	}
	c.Retrigger()
	f2 := c.Tick()
	assert.InDelta(t, 0, f2.L, 1e-6) // retrigger resets phase to 0 too
}

func TestClickEnvelopeDecaysOverTime(t *testing.T) {
	c := NewClick(48000)
	c.Retrigger()

	var peak float32
	for i := 0; i < 24; i++ { // a few periods at 1kHz/48kHz
		f := c.Tick()
		if f.L > peak {
			peak = f.L
		}
	}

	var laterPeak float32
	for i := 0; i < 2000; i++ {
		f := c.Tick()
		if f.L > laterPeak {
			laterPeak = f.L
		}
	}

	assert.Less(t, laterPeak, peak)
}

func TestClickProcessFillsRequestedFrames(t *testing.T) {
	c := NewClick(48000)
	out := make([]Frame, 128)
	c.Process(128, out)
	assert.Equal(t, out[0].L, out[0].R) // mono duplicated to stereo
}
