package recording

// maxAudioChunkFrames bounds each entry appended to a Buffer's audio
// chunk log (spec.md §4.11: "audio chunks of fixed max frames").
const maxAudioChunkFrames = 4096

// Note is a paired Note On/Off recorded with absolute sample positions.
// EndSample is -1 until the matching Note Off arrives.
type Note struct {
	Channel     uint8
	Number      uint8
	Velocity    uint8
	StartSample int64
	EndSample   int64
}

// CC is a recorded MIDI control-change event.
type CC struct {
	Channel    uint8
	Controller uint8
	Value      uint8
	SamplePos  int64
}

// PitchBend is a recorded MIDI pitch-bend event.
type PitchBend struct {
	Channel   uint8
	Value     int16
	SamplePos int64
}

// ProgramChange is a recorded MIDI program-change event.
type ProgramChange struct {
	Channel   uint8
	Program   uint8
	SamplePos int64
}

// Buffer is the append-only recording target for one session (spec.md
// §4.11/§4.12: "grows-on-event collections... All additions are
// append-only; no shrinking happens while recording"). Active notes are
// tracked by note number so a Note Off can compute duration from its
// paired Note On, per spec.md's "HashMap keyed by note number."
type Buffer struct {
	StartBeat  float64
	SampleRate int

	notes          []Note
	activeNotes    map[uint8]int // note number -> index into notes
	ccs            []CC
	pitchBends     []PitchBend
	programChanges []ProgramChange
	audioChunks    [][]float32
}

// NewBuffer creates an empty recording buffer starting at startBeat.
func NewBuffer(startBeat float64, sampleRate int) *Buffer {
	return &Buffer{
		StartBeat:   startBeat,
		SampleRate:  sampleRate,
		activeNotes: make(map[uint8]int),
	}
}

// NoteOn opens a new active note. A stuck note already active at the
// same number stays in the log with EndSample -1 and is no longer
// tracked as active — a repeated Note On with no intervening Off is a
// source error, not a reason to lose the later note.
func (b *Buffer) NoteOn(channel, number, velocity uint8, sample int64) {
	n := Note{Channel: channel, Number: number, Velocity: velocity, StartSample: sample, EndSample: -1}
	b.notes = append(b.notes, n)
	b.activeNotes[number] = len(b.notes) - 1
}

// NoteOff closes the active note at number, if one exists, setting its
// EndSample. An Off with no matching On is dropped (spec.md §7 implies
// unmatched events never block recording).
func (b *Buffer) NoteOff(number uint8, sample int64) {
	i, ok := b.activeNotes[number]
	if !ok {
		return
	}
	b.notes[i].EndSample = sample
	delete(b.activeNotes, number)
}

func (b *Buffer) AddCC(channel, controller, value uint8, sample int64) {
	b.ccs = append(b.ccs, CC{Channel: channel, Controller: controller, Value: value, SamplePos: sample})
}

func (b *Buffer) AddPitchBend(channel uint8, value int16, sample int64) {
	b.pitchBends = append(b.pitchBends, PitchBend{Channel: channel, Value: value, SamplePos: sample})
}

func (b *Buffer) AddProgramChange(channel, program uint8, sample int64) {
	b.programChanges = append(b.programChanges, ProgramChange{Channel: channel, Program: program, SamplePos: sample})
}

// AddAudioChunk appends samples to the audio log, splitting into pieces
// no larger than maxAudioChunkFrames.
func (b *Buffer) AddAudioChunk(samples []float32) {
	for len(samples) > 0 {
		n := len(samples)
		if n > maxAudioChunkFrames {
			n = maxAudioChunkFrames
		}
		chunk := make([]float32, n)
		copy(chunk, samples[:n])
		b.audioChunks = append(b.audioChunks, chunk)
		samples = samples[n:]
	}
}

// Notes returns a copy of every recorded note, including any still open
// (EndSample == -1).
func (b *Buffer) Notes() []Note {
	out := make([]Note, len(b.notes))
	copy(out, b.notes)
	return out
}

func (b *Buffer) CCs() []CC {
	out := make([]CC, len(b.ccs))
	copy(out, b.ccs)
	return out
}

func (b *Buffer) PitchBends() []PitchBend {
	out := make([]PitchBend, len(b.pitchBends))
	copy(out, b.pitchBends)
	return out
}

func (b *Buffer) ProgramChanges() []ProgramChange {
	out := make([]ProgramChange, len(b.programChanges))
	copy(out, b.programChanges)
	return out
}

func (b *Buffer) AudioChunks() [][]float32 {
	out := make([][]float32, len(b.audioChunks))
	copy(out, b.audioChunks)
	return out
}
