package node

import "math"

// Click is the metronome click node the callback mixes in while rolling
// (spec.md §4.6 step 4: "If not paused, pull one stereo frame from the
// click node; add into the output"). It is a simple decaying sine burst
// retriggered once per beat, not a DSP feature this core specifies in
// depth — the callback only needs something that behaves like a node.
type Click struct {
	sampleRate   int
	beatPerSample float64
	lastBeat      float64
	phase         float64
	envelope      float64
	freqHz        float64
	decayPerSample float64
}

// NewClick creates a click node for the given sample rate.
func NewClick(sampleRate int) *Click {
	return &Click{
		sampleRate:     sampleRate,
		freqHz:         1000,
		decayPerSample: math.Pow(0.0005, 1.0/float64(sampleRate/50+1)),
	}
}

// Retrigger restarts the click envelope, called by the audio callback
// once per beat boundary crossed.
func (c *Click) Retrigger() {
	c.phase = 0
	c.envelope = 1
}

// Tick renders one decaying-sine sample, mono duplicated to stereo.
func (c *Click) Tick() Frame {
	v := float32(math.Sin(c.phase) * c.envelope)
	c.phase += 2 * math.Pi * c.freqHz / float64(c.sampleRate)
	c.envelope *= c.decayPerSample
	return Frame{L: v, R: v}
}

// Process renders size frames.
func (c *Click) Process(size int, out []Frame) {
	for i := 0; i < size && i < len(out); i++ {
		out[i] = c.Tick()
	}
}
