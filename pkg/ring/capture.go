package ring

import "github.com/tutti-audio/tutti-core/pkg/lockfree"

// Capture is a recording ring: the audio thread produces captured
// samples into it, the butler drains and flushes them to disk (spec.md
// §4.8). The WAV writer the drained frames go to is held by the butler
// beside this ring; ring itself knows nothing about file formats.
type Capture struct {
	ID             uint64
	OutputFilePath string
	SampleRate     int
	Channels       int

	FramesWritten lockfree.U64 // total frames handed to the writer so far

	buf *lockfree.SPSCRing[Frame]
}

// NewCapture creates a capture ring with the given frame capacity.
func NewCapture(id uint64, outputFilePath string, sampleRate, channels, capacity int) *Capture {
	return &Capture{
		ID:             id,
		OutputFilePath: outputFilePath,
		SampleRate:     sampleRate,
		Channels:       channels,
		buf:            lockfree.NewSPSCRing[Frame](capacity),
	}
}

// Capacity returns the ring's total frame capacity.
func (c *Capture) Capacity() int { return c.buf.Capacity() }

// FillPercent returns used_capacity/total_capacity in [0,1].
func (c *Capture) FillPercent() float64 {
	cap := c.buf.Capacity()
	if cap == 0 {
		return 0
	}
	return float64(c.buf.ReadSpace()) / float64(cap)
}

// Push writes newly captured frames into the ring (audio-thread side,
// never blocks; if full, frames are dropped and the caller should count
// an overrun).
func (c *Capture) Push(frames []Frame) int { return c.buf.Write(frames) }

// Drain pulls up to len(out) frames for flushing to disk (butler side).
func (c *Capture) Drain(out []Frame) int {
	n := c.buf.ReadInto(out)
	c.FramesWritten.Add(uint64(n))
	return n
}

// ReadSpace reports how many frames are currently buffered, used by the
// butler's flush-threshold check.
func (c *Capture) ReadSpace() int { return c.buf.ReadSpace() }
