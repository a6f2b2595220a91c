// Package callback implements the sample-accurate audio render loop:
// the fixed-latency callback that splits each output buffer at MIDI
// event boundaries, advances the transport clock per sample, and emits
// the final interleaved stereo frames (spec.md §4.6).
package callback

import (
	"sort"
	"time"

	"github.com/tutti-audio/tutti-core/pkg/lockfree"
	"github.com/tutti-audio/tutti-core/pkg/midi"
	"github.com/tutti-audio/tutti-core/pkg/midiio"
	"github.com/tutti-audio/tutti-core/pkg/node"
	"github.com/tutti-audio/tutti-core/pkg/recording"
	"github.com/tutti-audio/tutti-core/pkg/ring"
	"github.com/tutti-audio/tutti-core/pkg/transport"
)

// maxSplitPoints caps per-buffer segmentation work and aliasing, per
// spec.md §4.6 step 3 ("A fixed maximum (e.g., 258) caps work").
const maxSplitPoints = 258

// maxMIDIEventsPerBuffer bounds the preallocated MIDI scratch buffer.
const maxMIDIEventsPerBuffer = 1024

// maxCaptureFrames bounds the preallocated capture-ring scratch buffer;
// a buffer longer than this only has its leading frames pushed to
// AudioInput captures (the mix itself still renders in full).
const maxCaptureFrames = 4096

// captureSource is the subset of *butler.Butler the callback needs to
// reach a channel's live capture ring; declared here instead of
// importing pkg/butler to avoid a cycle (butler already depends on
// ring/wavfile, not on callback).
type captureSource interface {
	Capture(channel int) (*ring.Capture, bool)
}

// Stats are the RT-observable counters this expansion adds (SPEC_FULL.md
// "XRun and underrun counters exposed as a snapshot"): every failure
// mode in spec.md §7 that the callback can hit locally bumps one of
// these instead of logging or erroring.
type Stats struct {
	Underruns       lockfree.U64
	XRuns           lockfree.U64
	BuffersRendered lockfree.U64
	LastBufferFrames lockfree.U64
	SamplePosition  lockfree.U64
}

// StatsSnapshot is a point-in-time copy of Stats for a UI poller to log.
type StatsSnapshot struct {
	Underruns        uint64
	XRuns            uint64
	BuffersRendered  uint64
	LastBufferFrames uint64
	SamplePosition   uint64
}

// Snapshot copies the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Underruns:        s.Underruns.Load(),
		XRuns:            s.XRuns.Load(),
		BuffersRendered:  s.BuffersRendered.Load(),
		LastBufferFrames: s.LastBufferFrames.Load(),
		SamplePosition:   s.SamplePosition.Load(),
	}
}

// taggedEvent is one (frame_offset, port, event) triple collected from
// the MIDI input for the current buffer.
type taggedEvent struct {
	frameOffset int
	port        midi.PortID
	event       midi.Event
}

// Callback is the fixed-latency render loop. One instance drives one
// audio stream; it owns no threads of its own, it IS the function the
// audio backend calls once per buffer exchange.
type Callback struct {
	Manager  *transport.Manager
	Clock    *transport.Clock
	Routing  *midi.SnapshotPointer
	MIDIIn   midiio.Source
	Graph    node.Graph
	Click    *node.Click

	// Recording and Butler are both optional: nil disables MIDI/audio
	// capture recording and XRun logging without affecting playback.
	Recording *recording.Manager
	Butler    captureSource

	Stats Stats

	midiScratch    [maxMIDIEventsPerBuffer]taggedEvent
	splitPoints    [maxSplitPoints]int
	captureScratch [maxCaptureFrames]ring.Frame

	lastBeat float64
}

// Render fills out (interleaved stereo, len(out) == 2*frames) for one
// callback invocation starting at bufferStart with the given
// sampleRate, and always writes exactly 2*frames samples (spec.md §6,
// §4.6). It is not allocation-free or lock-free: an attached recording
// manager may allocate (channel lists, audio-chunk copies) and takes its
// mutexes, and a node.Mixer graph takes its mutex once per sample.
func (c *Callback) Render(out []float32, frames int, bufferStart time.Time, sampleRate int) {
	// Step 1: drain commands.
	c.Manager.ProcessCommands()

	beatBefore := c.Clock.CurrentBeat()

	// Step 2: collect MIDI.
	n := c.collectMIDI(frames, bufferStart, sampleRate)

	// Step 3: build split points.
	numSplits := c.buildSplitPoints(n, frames)

	// Step 4: segment render loop.
	segmentStart := 0
	midiIdx := 0
	for s := 0; s <= numSplits; s++ {
		p := frames
		if s < numSplits {
			p = c.splitPoints[s]
		}
		segmentFrames := p - segmentStart

		midiIdx = c.routeSegment(midiIdx, n, segmentStart, p)

		c.renderSegment(out, segmentStart, segmentFrames, sampleRate)

		segmentStart = p
	}

	// Step 5: advance the per-buffer recording and declick bookkeeping
	// that doesn't belong to any single segment.
	c.Manager.AdvanceDeclickFrames(frames)
	c.advanceRecording(beatBefore, c.Clock.CurrentBeat())
	c.pushCaptures(out, frames)
	c.recordInternalAudio(out, frames)

	// Step 6: publish sample position.
	c.Stats.SamplePosition.Add(uint64(frames))
	c.Stats.BuffersRendered.Add(1)
	c.Stats.LastBufferFrames.Store(uint64(frames))
}

// advanceRecording runs the once-per-buffer recording-session machinery
// that spec.md §4.11 describes in terms of "current beat" rather than
// per-segment state: punch transitions and preroll countdowns.
func (c *Callback) advanceRecording(beatBefore, beatAfter float64) {
	if c.Recording == nil {
		return
	}
	delta := beatAfter - beatBefore
	if delta < 0 {
		delta = 0 // loop wrap mid-buffer; preroll countdowns never go backward
	}
	c.Recording.ProcessPunchAll(beatAfter)
	c.Recording.UpdatePrerolls(delta)
}

// pushCaptures feeds the rendered mix into every channel currently
// recording from AudioInput; the audio thread is the sole producer of
// each channel's capture ring (spec.md §4.9's capture-ring contract),
// and this engine has no hardware input path of its own (spec.md §1's
// non-goal), so the mix is the only signal available to capture.
func (c *Callback) pushCaptures(out []float32, frames int) {
	if c.Recording == nil || c.Butler == nil {
		return
	}
	channels := c.Recording.AudioInputChannels()
	if len(channels) == 0 {
		return
	}

	n := frames
	if n > maxCaptureFrames {
		n = maxCaptureFrames
	}
	for i := 0; i < n; i++ {
		c.captureScratch[i] = ring.Frame{L: out[i*2], R: out[i*2+1]}
	}
	buf := c.captureScratch[:n]

	for _, ch := range channels {
		cr, ok := c.Butler.Capture(ch)
		if !ok {
			continue
		}
		cr.Push(buf)
	}
}

// collectMIDI drains the MIDI source (even with no routes, to prevent
// input overflow per spec.md §7) and stable-sorts by frame offset.
func (c *Callback) collectMIDI(frames int, bufferStart time.Time, sampleRate int) int {
	if c.MIDIIn == nil || !c.MIDIIn.HasActiveInputs() {
		return 0
	}
	events := c.MIDIIn.CycleRead(frames, bufferStart, sampleRate)

	n := 0
	for _, pe := range events {
		if n >= maxMIDIEventsPerBuffer {
			break
		}
		c.midiScratch[n] = taggedEvent{frameOffset: pe.Event.FrameOffset, port: pe.Port, event: pe.Event}
		n++
	}

	sort.SliceStable(c.midiScratch[:n], func(i, j int) bool {
		return c.midiScratch[i].frameOffset < c.midiScratch[j].frameOffset
	})
	return n
}

// buildSplitPoints collects unique frame offsets in (0, frames), capped
// at maxSplitPoints, per spec.md §4.6 step 3.
func (c *Callback) buildSplitPoints(n, frames int) int {
	count := 0
	last := -1
	for i := 0; i < n && count < maxSplitPoints; i++ {
		off := c.midiScratch[i].frameOffset
		if off <= 0 || off >= frames {
			continue
		}
		if off == last {
			continue
		}
		c.splitPoints[count] = off
		count++
		last = off
	}
	return count
}

// routeSegment dispatches every buffered MIDI event whose frame offset
// falls in [segStart, segEnd) to the routing registry, returning the
// index of the first event not yet routed.
func (c *Callback) routeSegment(midiIdx, n, segStart, segEnd int) int {
	snap := c.Routing.Load()
	for midiIdx < n {
		te := c.midiScratch[midiIdx]
		if te.frameOffset < segStart {
			midiIdx++
			continue
		}
		if te.frameOffset >= segEnd {
			break
		}
		it := midi.Route(snap, te.port, &te.event)
		for {
			target, ok := it.Next()
			if !ok {
				break
			}
			if c.Graph != nil {
				c.Graph.Dispatch(target, te.event)
			}
			if c.Recording != nil {
				sample := int64(c.Stats.SamplePosition.Load()) + int64(te.frameOffset)
				c.recordEvent(int(target), te.event, sample)
			}
		}
		midiIdx++
	}
	return midiIdx
}

// recordInternalAudio appends the rendered mix to every InternalAudio or
// Pattern session's buffer directly, bypassing the butler capture ring
// those sources never use.
func (c *Callback) recordInternalAudio(out []float32, frames int) {
	if c.Recording == nil {
		return
	}
	channels := c.Recording.NonButlerAudioChannels()
	if len(channels) == 0 {
		return
	}
	for _, ch := range channels {
		c.Recording.RecordAudioChunk(ch, out[:frames*2])
	}
}

// recordEvent forwards one routed MIDI event to channel's recording
// session, if it is actively recording (spec.md §4.11's per-event
// recording methods, one per message kind).
func (c *Callback) recordEvent(channel int, ev midi.Event, sample int64) {
	msg := ev.Msg
	switch msg.Kind {
	case midi.NoteOn:
		c.Recording.RecordMIDINoteOnWithSample(channel, ev.Channel, msg.Note, msg.Velocity, sample)
	case midi.NoteOff:
		c.Recording.RecordMIDINoteOffWithSample(channel, msg.Note, sample)
	case midi.ControlChange:
		c.Recording.RecordMIDICCWithSample(channel, ev.Channel, msg.Controller, msg.Value, sample)
	case midi.PitchBend:
		c.Recording.RecordMIDIPitchBendWithSample(channel, ev.Channel, msg.Bend, sample)
	case midi.ProgramChange:
		c.Recording.RecordMIDIProgramChangeWithSample(channel, ev.Channel, msg.Value, sample)
	}
}

// renderSegment ticks the clock once per sample in the segment, pulling
// graph and click audio and writing the mixed frame to out.
func (c *Callback) renderSegment(out []float32, segStart, segFrames, sampleRate int) {
	paused := c.Clock.PausedFlag().IsSet()

	if c.Graph == nil {
		for i := 0; i < segFrames; i++ {
			c.tickClockAndClick(paused)
		}
		for i := 0; i < segFrames; i++ {
			out[(segStart+i)*2] = 0
			out[(segStart+i)*2+1] = 0
		}
		c.Stats.Underruns.Add(1)
		c.Stats.XRuns.Add(1)
		c.recordXRun(segStart)
		return
	}

	for i := 0; i < segFrames; i++ {
		beat := c.Clock.Tick()
		c.maybeRetriggerClick(beat)

		l, r := c.Graph.GetStereo()

		if !paused && c.Click != nil {
			click := c.Click.Tick()
			l += click.L
			r += click.R
		}

		out[(segStart+i)*2] = l
		out[(segStart+i)*2+1] = r
	}
}

// recordXRun logs a buffer underrun against every channel currently
// recording, per spec.md §7: "XRun detected: log in recording session
// if any; never fatal."
func (c *Callback) recordXRun(segStart int) {
	if c.Recording == nil {
		return
	}
	sample := int64(c.Stats.SamplePosition.Load()) + int64(segStart)
	beat := c.Clock.CurrentBeat()
	for _, ch := range c.Recording.ActiveChannels() {
		c.Recording.RecordXRun(ch, sample, beat, recording.XRunOutput)
	}
}

// tickClockAndClick advances position-only when there is no graph
// backend, per spec.md §4.6: "If there is no graph backend, still tick
// the clock segment_frames times so position keeps advancing."
func (c *Callback) tickClockAndClick(paused bool) {
	beat := c.Clock.Tick()
	c.maybeRetriggerClick(beat)
	_ = paused
}

// maybeRetriggerClick fires the click once per integer beat crossed.
func (c *Callback) maybeRetriggerClick(beat float64) {
	if c.Click == nil {
		return
	}
	if int64(beat) != int64(c.lastBeat) && beat >= c.lastBeat {
		c.Click.Retrigger()
	}
	c.lastBeat = beat
}
