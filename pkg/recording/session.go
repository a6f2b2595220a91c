// Package recording implements the per-channel recording session state
// machine and event log (spec.md §4.11): arm/punch/preroll handling and
// the append-only MIDI/audio buffer each session records into.
package recording

import (
	"fmt"
	"sync"

	"github.com/tutti-audio/tutti-core/pkg/butler"
	"github.com/tutti-audio/tutti-core/pkg/lockfree"
)

// Source identifies what a session records from.
type Source uint8

const (
	MidiInput Source = iota
	AudioInput
	InternalAudio
	Pattern
)

// Mode selects whether recording replaces or layers onto existing
// material.
type Mode uint8

const (
	Replace Mode = iota
	Overdub
)

// State is a session's discrete recording state.
type State uint8

const (
	Stopped State = iota
	Armed
	Recording
	Overdubbing
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Armed:
		return "Armed"
	case Recording:
		return "Recording"
	case Overdubbing:
		return "Overdubbing"
	default:
		return "Unknown"
	}
}

// PunchEventKind distinguishes a punch-in from a punch-out transition.
type PunchEventKind uint8

const (
	PunchIn PunchEventKind = iota
	PunchOut
)

// PunchEvent records one punch transition at a beat position.
type PunchEvent struct {
	Kind PunchEventKind
	Beat float64
}

// PunchRange is the beat span over which punch recording is active; a
// zero-value range (End <= Start) disables punch handling.
type PunchRange struct {
	Start float64
	End   float64
}

func (r PunchRange) enabled() bool { return r.End > r.Start }

// XRunKind distinguishes where an XRun was detected.
type XRunKind uint8

const (
	XRunInput XRunKind = iota
	XRunOutput
)

// XRunEvent logs one buffer under/overrun, per spec.md's "XRun detected:
// log in recording session if any; never fatal."
type XRunEvent struct {
	SamplePosition int64
	Beat           float64
	Kind           XRunKind
}

// Session is one channel's recording state: armed/recording/overdub FSM,
// punch range, preroll countdown, and logs, plus the buffer it records
// into (spec.md §4.11).
type Session struct {
	Channel int
	Source  Source
	Mode    Mode

	state      lockfree.U8
	recordSafe lockfree.Flag

	mu           sync.Mutex
	prerollBeats float64
	punchRange   PunchRange
	punchLog     []PunchEvent
	xrunLog      []XRunEvent
	buffer       *Buffer

	captureID  uint64
	filePath   string
	sampleRate int
	channels   int
}

// State returns the session's current recording state. Lock-free.
func (s *Session) State() State { return State(s.state.Load()) }

// SetRecordSafe toggles the channel's record-safe flag; a record-safe
// channel never accepts new events even while Recording/Overdubbing.
func (s *Session) SetRecordSafe(safe bool) {
	if safe {
		s.recordSafe.Set()
	} else {
		s.recordSafe.Clear()
	}
}

func (s *Session) recordable() bool {
	state := s.State()
	return (state == Recording || state == Overdubbing) && !s.recordSafe.IsSet()
}

// Buffer returns the session's current recording buffer.
func (s *Session) Buffer() *Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer
}

// PunchLog returns a copy of the recorded punch transitions.
func (s *Session) PunchLog() []PunchEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PunchEvent, len(s.punchLog))
	copy(out, s.punchLog)
	return out
}

// XRunLog returns a copy of the recorded XRun events.
func (s *Session) XRunLog() []XRunEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]XRunEvent, len(s.xrunLog))
	copy(out, s.xrunLog)
	return out
}

// ButlerTarget is the subset of *butler.Butler a Manager needs to create
// and finalize capture files for AudioInput sessions; an interface so
// tests can substitute a fake.
type ButlerTarget interface {
	Post(cmd butler.Command) bool
	FinalizeCapture(channel int) (uint64, error)
}

// Manager owns every channel's recording Session (spec.md §4.11's
// top-level API: start_recording, stop_recording, process_punch_all,
// update_prerolls, record_xrun, and the per-event recording methods).
type Manager struct {
	mu       sync.Mutex
	sessions map[int]*Session
	butler   ButlerTarget
	nextCap  uint64
}

// NewManager creates a Manager that instructs target for AudioInput
// capture lifecycle.
func NewManager(target ButlerTarget) *Manager {
	return &Manager{sessions: make(map[int]*Session), butler: target}
}

// StartOptions carries the parameters start_recording needs beyond the
// channel/source/mode/beat quadruple spec.md names directly.
type StartOptions struct {
	PrerollBeats float64
	PunchRange   PunchRange // zero value disables punch
	SampleRate   int
	Channels     int
	FilePath     string // required when Source == AudioInput
}

// StartRecording creates (or replaces) the session for channel, per
// spec.md §4.11: "create session; if AudioInput, allocate a capture ring
// and instruct the butler to create a WAV file for it." The session
// starts Armed if a preroll is configured, otherwise Recording (or
// Overdubbing for Mode == Overdub).
func (m *Manager) StartRecording(channel int, source Source, mode Mode, currentBeat float64, opts StartOptions) (*Session, error) {
	s := &Session{
		Channel:      channel,
		Source:       source,
		Mode:         mode,
		prerollBeats: opts.PrerollBeats,
		punchRange:   opts.PunchRange,
		buffer:       NewBuffer(currentBeat, opts.SampleRate),
		sampleRate:   opts.SampleRate,
		channels:     opts.Channels,
		filePath:     opts.FilePath,
	}

	initial := Recording
	if mode == Overdub {
		initial = Overdubbing
	}
	if opts.PrerollBeats > 0 {
		initial = Armed
	}
	s.state.Store(uint8(initial))

	if source == AudioInput {
		if opts.FilePath == "" {
			return nil, fmt.Errorf("recording: AudioInput session on channel %d requires a FilePath", channel)
		}
		m.mu.Lock()
		m.nextCap++
		s.captureID = m.nextCap
		m.mu.Unlock()
		m.butler.Post(butler.Command{
			Kind:       butler.CmdRegisterCapture,
			CaptureID:  s.captureID,
			Channel:    channel,
			FilePath:   opts.FilePath,
			SampleRate: opts.SampleRate,
			Channels:   opts.Channels,
		})
	}

	m.mu.Lock()
	m.sessions[channel] = s
	m.mu.Unlock()
	return s, nil
}

// StopResult reports what StopRecording finalized: Buffer for non-audio
// sources, or the capture file's metadata for AudioInput sources.
type StopResult struct {
	Buffer               *Buffer
	CaptureFilePath      string
	CaptureFramesWritten uint64
}

// StopRecording marks channel's session Stopped and finalizes its
// output, per spec.md §4.11: "if AudioInput, send a flush and
// remove-capture to the butler, then read back the resulting file
// metadata; otherwise swap the buffer out."
func (m *Manager) StopRecording(channel int) (StopResult, error) {
	m.mu.Lock()
	s, ok := m.sessions[channel]
	m.mu.Unlock()
	if !ok {
		return StopResult{}, fmt.Errorf("recording: no session on channel %d", channel)
	}

	s.state.Store(uint8(Stopped))

	if s.Source == AudioInput {
		frames, err := m.butler.FinalizeCapture(channel)
		if err != nil {
			return StopResult{}, err
		}
		return StopResult{CaptureFilePath: s.filePath, CaptureFramesWritten: frames}, nil
	}

	s.mu.Lock()
	old := s.buffer
	s.buffer = NewBuffer(old.StartBeat, old.SampleRate)
	s.mu.Unlock()
	return StopResult{Buffer: old}, nil
}

// ProcessPunchAll advances every armed/recording session's punch-range
// state machine against currentBeat, per spec.md §4.11:
// "for each session whose punch range covers current_beat, transition
// state (Armed->Recording at punch-in, Recording->Stopped at punch-out)
// and record the event."
func (m *Manager) ProcessPunchAll(currentBeat float64) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		if !s.punchRange.enabled() {
			continue
		}
		switch s.State() {
		case Armed:
			if currentBeat >= s.punchRange.Start {
				s.state.Store(uint8(Recording))
				s.mu.Lock()
				s.punchLog = append(s.punchLog, PunchEvent{Kind: PunchIn, Beat: currentBeat})
				s.mu.Unlock()
			}
		case Recording, Overdubbing:
			if currentBeat >= s.punchRange.End {
				s.state.Store(uint8(Stopped))
				s.mu.Lock()
				s.punchLog = append(s.punchLog, PunchEvent{Kind: PunchOut, Beat: currentBeat})
				s.mu.Unlock()
			}
		}
	}
}

// UpdatePrerolls subtracts deltaBeats from every Armed session's
// remaining preroll, transitioning to Recording once it reaches zero,
// per spec.md §4.11.
func (m *Manager) UpdatePrerolls(deltaBeats float64) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		if s.State() != Armed {
			continue
		}
		s.mu.Lock()
		if s.prerollBeats > 0 {
			s.prerollBeats -= deltaBeats
			if s.prerollBeats <= 0 {
				initial := Recording
				if s.Mode == Overdub {
					initial = Overdubbing
				}
				s.state.Store(uint8(initial))
			}
		}
		s.mu.Unlock()
	}
}

// RecordXRun appends an XRun to channel's session log, if one exists;
// never returns an error (spec.md: "never fatal").
func (m *Manager) RecordXRun(channel int, samplePosition int64, beat float64, kind XRunKind) {
	s := m.session(channel)
	if s == nil {
		return
	}
	s.mu.Lock()
	s.xrunLog = append(s.xrunLog, XRunEvent{SamplePosition: samplePosition, Beat: beat, Kind: kind})
	s.mu.Unlock()
}

func (m *Manager) session(channel int) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[channel]
}

// AudioInputChannels lists every channel currently holding an AudioInput
// session, so the audio callback knows which capture rings to push
// rendered frames into each buffer.
func (m *Manager) AudioInputChannels() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int
	for ch, s := range m.sessions {
		if s.Source == AudioInput {
			out = append(out, ch)
		}
	}
	return out
}

// NonButlerAudioChannels lists every channel recording audio that never
// touches a butler capture ring (InternalAudio/Pattern sources record
// straight into the session's buffer instead of a WAV file).
func (m *Manager) NonButlerAudioChannels() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int
	for ch, s := range m.sessions {
		if s.Source == InternalAudio || s.Source == Pattern {
			out = append(out, ch)
		}
	}
	return out
}

// ActiveChannels lists every channel that has a session, regardless of
// source or state (StopRecording leaves the session in place), so a
// buffer-wide event like an XRun can be logged against all of them.
func (m *Manager) ActiveChannels() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, 0, len(m.sessions))
	for ch := range m.sessions {
		out = append(out, ch)
	}
	return out
}

// RecordMIDINoteOnWithSample appends a Note On to channel's buffer, if
// the session is actively recording and not record-safe.
func (m *Manager) RecordMIDINoteOnWithSample(channel int, midiChannel, note, velocity uint8, sample int64) {
	s := m.session(channel)
	if s == nil || !s.recordable() {
		return
	}
	s.mu.Lock()
	s.buffer.NoteOn(midiChannel, note, velocity, sample)
	s.mu.Unlock()
}

func (m *Manager) RecordMIDINoteOffWithSample(channel int, note uint8, sample int64) {
	s := m.session(channel)
	if s == nil || !s.recordable() {
		return
	}
	s.mu.Lock()
	s.buffer.NoteOff(note, sample)
	s.mu.Unlock()
}

func (m *Manager) RecordMIDICCWithSample(channel int, midiChannel, controller, value uint8, sample int64) {
	s := m.session(channel)
	if s == nil || !s.recordable() {
		return
	}
	s.mu.Lock()
	s.buffer.AddCC(midiChannel, controller, value, sample)
	s.mu.Unlock()
}

func (m *Manager) RecordMIDIPitchBendWithSample(channel int, midiChannel uint8, value int16, sample int64) {
	s := m.session(channel)
	if s == nil || !s.recordable() {
		return
	}
	s.mu.Lock()
	s.buffer.AddPitchBend(midiChannel, value, sample)
	s.mu.Unlock()
}

func (m *Manager) RecordMIDIProgramChangeWithSample(channel int, midiChannel, program uint8, sample int64) {
	s := m.session(channel)
	if s == nil || !s.recordable() {
		return
	}
	s.mu.Lock()
	s.buffer.AddProgramChange(midiChannel, program, sample)
	s.mu.Unlock()
}

// RecordAudioChunk appends raw audio samples for InternalAudio/Pattern
// sources that record through the buffer rather than a butler capture.
func (m *Manager) RecordAudioChunk(channel int, samples []float32) {
	s := m.session(channel)
	if s == nil || !s.recordable() {
		return
	}
	s.mu.Lock()
	s.buffer.AddAudioChunk(samples)
	s.mu.Unlock()
}
