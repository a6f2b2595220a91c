package node

import (
	"fmt"

	"github.com/sinshu/go-meltysynth/meltysynth"
	"github.com/tutti-audio/tutti-core/pkg/midi"
)

// SynthUnit is a concrete AudioUnit wrapping go-meltysynth's Synthesizer,
// the teacher's own software-synthesis backend (pkg/vm/audio/midi.go).
// It gives the callback and demo command a real node to drive without
// pulling a full plugin host into the core (spec.md §1 excludes plugin
// hosting; this is the in-scope "DSP node as external collaborator").
type SynthUnit struct {
	synth      *meltysynth.Synthesizer
	sampleRate int

	left, right [1]float32 // one-sample scratch, avoids per-Tick allocation
}

// NewSynthUnit creates a SynthUnit from a SoundFont the caller has
// already parsed (for example with LoadSoundFont).
func NewSynthUnit(sf2 *meltysynth.SoundFont, sampleRate int) (*SynthUnit, error) {
	settings := meltysynth.NewSynthesizerSettings(sampleRate)
	synth, err := meltysynth.NewSynthesizer(sf2, settings)
	if err != nil {
		return nil, fmt.Errorf("node: create synthesizer: %w", err)
	}
	return &SynthUnit{synth: synth, sampleRate: sampleRate}, nil
}

// Tick renders one stereo frame.
func (u *SynthUnit) Tick() Frame {
	u.synth.Render(u.left[:], u.right[:])
	return Frame{L: u.left[0], R: u.right[0]}
}

// Process renders size frames in one call, more efficient than size
// repeated Tick calls for a synth backend that can batch internally.
func (u *SynthUnit) Process(size int, out []Frame) {
	left := make([]float32, size)
	right := make([]float32, size)
	u.synth.Render(left, right)
	for i := 0; i < size && i < len(out); i++ {
		out[i] = Frame{L: left[i], R: right[i]}
	}
}

// Enqueue translates a routed MIDI event into the matching meltysynth
// synth call. Unknown/unsupported message kinds are dropped, matching
// spec.md §7's "no core operation panics."
func (u *SynthUnit) Enqueue(ev midi.Event) {
	ch := int32(ev.Channel)
	switch ev.Msg.Kind {
	case midi.NoteOn:
		if ev.Msg.Velocity == 0 {
			u.synth.NoteOff(ch, int32(ev.Msg.Note))
		} else {
			u.synth.NoteOn(ch, int32(ev.Msg.Note), int32(ev.Msg.Velocity))
		}
	case midi.NoteOff:
		u.synth.NoteOff(ch, int32(ev.Msg.Note))
	case midi.ControlChange:
		u.synth.ProcessMidiMessage(ch, 0xB0, int32(ev.Msg.Controller), int32(ev.Msg.Value))
	case midi.ProgramChange:
		u.synth.ProcessMidiMessage(ch, 0xC0, int32(ev.Msg.Value), 0)
	case midi.PitchBend:
		// meltysynth expects a 14-bit unsigned bend value (0..16383,
		// 8192 = center); ev.Msg.Bend is signed and centered at 0.
		raw := int32(ev.Msg.Bend) + 8192
		u.synth.ProcessMidiMessage(ch, 0xE0, raw&0x7F, (raw>>7)&0x7F)
	case midi.Pressure:
		u.synth.ProcessMidiMessage(ch, 0xD0, int32(ev.Msg.Value), 0)
	}
}
