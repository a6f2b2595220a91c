package transport

import (
	"math"

	"github.com/tutti-audio/tutti-core/pkg/lockfree"
)

// LoopRange is a loop region in beats; End must be greater than Start to
// be active.
type LoopRange struct {
	Start float64
	End   float64
}

// Valid reports whether the range is usable (end > start); an invalid
// range disables looping rather than erroring, per spec.md §7.
func (l LoopRange) Valid() bool { return l.End > l.Start }

// Writeback is the optional cell the clock publishes current_beat to once
// per tick (or once per buffer in Process), so a UI poller can display
// position without touching the clock directly.
type Writeback = lockfree.Float64

// Clock is the transport's generator node: zero inputs, one output
// (current beat). It is ticked once per output sample by the audio
// callback (spec.md §4.2).
type Clock struct {
	tempo *TempoMap

	currentBeat   float64
	beatPerSample float64
	sampleRate    int
	lastBPM       float32

	paused *lockfree.Flag

	seekTarget  lockfree.Float64
	seekPending lockfree.Flag

	loopEnabled lockfree.Flag
	loopStart   lockfree.Float64
	loopEnd     lockfree.Float64

	writeback *Writeback
}

// NewClock creates a clock reading tempo from tm and advancing at
// sampleRate samples/second. The clock starts unpaused with its own
// paused flag, into which a transport manager mirrors Stopped and
// DeclickToStop through PausedFlag.
func NewClock(tm *TempoMap, sampleRate int) *Clock {
	c := &Clock{
		tempo:      tm,
		sampleRate: sampleRate,
		paused:     &lockfree.Flag{},
	}
	c.recomputeBeatPerSample()
	return c
}

// SetWriteback installs the cell the clock publishes current_beat to.
func (c *Clock) SetWriteback(w *Writeback) { c.writeback = w }

// PausedFlag returns the shared paused flag so a transport manager can
// mirror motion-state pause/unpause into it.
func (c *Clock) PausedFlag() *lockfree.Flag { return c.paused }

func (c *Clock) recomputeBeatPerSample() {
	bpm := c.currentTempoBPM()
	c.lastBPM = bpm
	c.beatPerSample = float64(bpm) / 60 / float64(c.sampleRate)
}

// currentTempoBPM finds the tempo active at currentBeat by walking the
// published tempo points.
func (c *Clock) currentTempoBPM() float32 {
	points := c.tempo.snapshot().points
	if len(points) == 0 {
		return 120
	}
	bpm := points[0].BPM
	for _, p := range points {
		if p.Beat > c.currentBeat {
			break
		}
		bpm = p.BPM
	}
	return bpm
}

// Seek arms a pending seek; the next Tick call applies it before
// advancing, per spec.md's "seek is exactly applied before the first
// output sample of the segment in which the flag is set."
func (c *Clock) Seek(beat float64) {
	c.seekTarget.Store(beat)
	c.seekPending.Set()
}

// SetLoop enables/configures the loop region. An invalid range (end <=
// start) is accepted but treated as disabled by Tick/Process.
func (c *Clock) SetLoop(enabled bool, r LoopRange) {
	c.loopStart.Store(r.Start)
	c.loopEnd.Store(r.End)
	if enabled && r.Valid() {
		c.loopEnabled.Set()
	} else {
		c.loopEnabled.Clear()
	}
}

// CurrentBeat returns the clock's current position. Safe from any
// thread; for cross-thread reads prefer the writeback cell.
func (c *Clock) CurrentBeat() float64 { return c.currentBeat }

// SampleRate returns the rate this clock advances at.
func (c *Clock) SampleRate() int { return c.sampleRate }

// Tempo returns the tempo map this clock reads from, so a poller can
// convert beat positions to sample positions without duplicating the
// clock's own tempo lookups.
func (c *Clock) Tempo() *TempoMap { return c.tempo }

// LoopEnabled reports whether looping is currently active.
func (c *Clock) LoopEnabled() bool { return c.loopEnabled.IsSet() }

// LoopBounds returns the currently configured loop range, regardless of
// whether it is enabled.
func (c *Clock) LoopBounds() LoopRange {
	return LoopRange{Start: c.loopStart.Load(), End: c.loopEnd.Load()}
}

// Tick advances the clock by exactly one sample and returns the beat
// value valid for that sample, applying pending seek and loop wrap at
// sample granularity (spec.md §4.2).
func (c *Clock) Tick() float64 {
	if c.seekPending.TestAndClear() {
		c.currentBeat = c.seekTarget.Load()
	}

	bpm := c.currentTempoBPM()
	if absf32(bpm-c.lastBPM) > 0.001 {
		c.lastBPM = bpm
		c.beatPerSample = float64(bpm) / 60 / float64(c.sampleRate)
	}

	out := c.currentBeat

	if !c.paused.IsSet() {
		c.currentBeat += c.beatPerSample
	}

	if c.loopEnabled.IsSet() {
		start := c.loopStart.Load()
		end := c.loopEnd.Load()
		length := end - start
		if length > 0 && c.currentBeat >= end {
			overshoot := c.currentBeat - end
			c.currentBeat = start + mod(overshoot, length)
		}
	}

	if c.writeback != nil {
		c.writeback.Store(c.currentBeat)
	}
	return out
}

// Process ticks the clock n times, writing each sample's beat value into
// out (len(out) must be >= n). Loop bounds are sampled once at the top of
// the call (mid-buffer loop-param changes are deferred to the next
// buffer, per spec.md §4.2), and the writeback cell is updated once at
// the end rather than every sample.
func (c *Clock) Process(out []float64, n int) {
	loopEnabled := c.loopEnabled.IsSet()
	loopStart := c.loopStart.Load()
	loopEnd := c.loopEnd.Load()

	prevWriteback := c.writeback
	c.writeback = nil // suppress per-sample writeback; update once below
	for i := 0; i < n; i++ {
		if c.seekPending.TestAndClear() {
			c.currentBeat = c.seekTarget.Load()
		}
		bpm := c.currentTempoBPM()
		if absf32(bpm-c.lastBPM) > 0.001 {
			c.lastBPM = bpm
			c.beatPerSample = float64(bpm) / 60 / float64(c.sampleRate)
		}
		out[i] = c.currentBeat
		if !c.paused.IsSet() {
			c.currentBeat += c.beatPerSample
		}
		if loopEnabled {
			length := loopEnd - loopStart
			if length > 0 && c.currentBeat >= loopEnd {
				overshoot := c.currentBeat - loopEnd
				c.currentBeat = loopStart + mod(overshoot, length)
			}
		}
	}
	c.writeback = prevWriteback
	if c.writeback != nil {
		c.writeback.Store(c.currentBeat)
	}
}

func mod(a, b float64) float64 {
	m := math.Mod(a, b)
	if m < 0 {
		m += b
	}
	return m
}

func absf32(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}
