// Package midiio defines the MIDI input contract the audio callback
// drives. No concrete backend ships in the core; a specific MIDI
// hardware backend is explicitly a non-goal (spec.md §1).
package midiio

import (
	"time"

	"github.com/tutti-audio/tutti-core/pkg/midi"
)

// PortEvent pairs a MIDI event with the port it arrived on.
type PortEvent struct {
	Port  midi.PortID
	Event midi.Event
}

// Source is the audio thread's view of a MIDI input backend (spec.md
// §6). CycleRead must not allocate and the returned slice is only valid
// until the next call.
type Source interface {
	// CycleRead returns every event whose wall-clock timestamp falls
	// within [bufferStart, bufferStart + nFrames/sampleRate), each
	// annotated with a FrameOffset computed from
	// floor((eventInstant - bufferStart) * sampleRate), clamped to
	// [0, nFrames).
	CycleRead(nFrames int, bufferStart time.Time, sampleRate int) []PortEvent

	// HasActiveInputs reports whether any input is currently attached,
	// so the callback can decide whether collecting MIDI is worthwhile.
	HasActiveInputs() bool
}
