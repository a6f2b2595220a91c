package transport

import (
	"math"

	"github.com/tutti-audio/tutti-core/pkg/lockfree"
)

// MotionState is the transport's discrete playback state.
type MotionState uint8

const (
	Stopped MotionState = iota
	Rolling
	FastForward
	Rewind
	DeclickToStop
	DeclickToLocate
)

func (m MotionState) String() string {
	switch m {
	case Stopped:
		return "Stopped"
	case Rolling:
		return "Rolling"
	case FastForward:
		return "FastForward"
	case Rewind:
		return "Rewind"
	case DeclickToStop:
		return "DeclickToStop"
	case DeclickToLocate:
		return "DeclickToLocate"
	default:
		return "Unknown"
	}
}

// DeclickDuration resolves the spec's "open question - declick length":
// 8ms, the middle of the suggested 5-10ms range. Callers convert to
// samples at the live sample rate.
const DeclickDuration = 8 * 0.001 // seconds

// CommandKind identifies one of the closed set of transport events.
type CommandKind uint8

const (
	CmdPlay CommandKind = iota
	CmdStop
	CmdStopWithDeclick
	CmdLocate
	CmdLocateAndPlay
	CmdLocateWithDeclick
	CmdSetLoopRange
	CmdClearLoop
	CmdToggleLoop
	CmdFastForward
	CmdRewind
	CmdEndScrub
	CmdReverse
)

// Command is a tagged union of transport FSM events; Beat/Start/End are
// only meaningful for the kinds that use them.
type Command struct {
	Kind  CommandKind
	Beat  float64
	Start float64
	End   float64
}

// DefaultCommandQueueCapacity resolves the spec's "open question -
// command-queue sizing": comfortably above the documented >=128 floor
// for UI scrub bursts and bridge polling.
const DefaultCommandQueueCapacity = 256

// Manager owns the motion FSM. Its queue accepts commands from any
// thread; the FSM itself is advanced only by ProcessCommands, which
// spec.md requires be called from the audio thread at the top of every
// callback.
type Manager struct {
	queue *lockfree.MPMCQueue[Command]

	clock *Clock
	tempo *TempoMap

	motion                  lockfree.U8
	declickSamplesRemaining int64 // samples left in the current declick ramp, 0 = not declicking
	declickTo               float64 // target beat for DeclickToLocate
	reverse                 bool

	sync lockfree.Snapshot[SyncSnapshot]
}

// NewManager creates a Manager driving clock and reading/writing tempo.
func NewManager(clock *Clock, tempo *TempoMap) *Manager {
	m := &Manager{
		queue: lockfree.NewMPMCQueue[Command](DefaultCommandQueueCapacity),
		clock: clock,
		tempo: tempo,
	}
	m.motion.Store(uint8(Stopped))
	m.sync.Store(&SyncSnapshot{Source: SyncInternal, Status: SyncLocked})
	m.syncPausedFlag()
	return m
}

// Post enqueues a command from any thread (UI, bridge). Returns false if
// the queue was full, per spec.md's drop-on-overflow policy; state is
// unchanged in that case.
func (m *Manager) Post(cmd Command) bool {
	return m.queue.TryEnqueue(cmd)
}

// Motion returns the currently published motion state. Lock-free.
func (m *Manager) Motion() MotionState {
	return MotionState(m.motion.Load())
}

// ProcessCommands drains the command queue and applies every transition,
// mirroring motion/paused/loop/seek into the shared atomics the audio
// thread's clock reads. Must be called from the audio thread only
// (spec.md §4.4: "the FSM itself is never touched from non-audio
// threads").
func (m *Manager) ProcessCommands() {
	var buf [DefaultCommandQueueCapacity]Command
	n := m.queue.DrainInto(buf[:])
	for i := 0; i < n; i++ {
		m.apply(buf[i])
	}
	m.syncPausedFlag()
}

func (m *Manager) setMotion(s MotionState) {
	m.motion.Store(uint8(s))
}

func (m *Manager) apply(cmd Command) {
	state := m.Motion()
	switch cmd.Kind {
	case CmdPlay:
		if state == Stopped {
			m.setMotion(Rolling)
		}
	case CmdStop:
		m.setMotion(Stopped)
	case CmdStopWithDeclick:
		if state == Rolling {
			m.startDeclick()
			m.setMotion(DeclickToStop)
		} else {
			m.setMotion(Stopped)
		}
	case CmdLocate:
		m.clock.Seek(cmd.Beat)
		m.setMotion(Stopped)
	case CmdLocateAndPlay:
		m.clock.Seek(cmd.Beat)
		m.setMotion(Rolling)
	case CmdLocateWithDeclick:
		if state == Rolling {
			m.declickTo = cmd.Beat
			m.startDeclick()
			m.setMotion(DeclickToLocate)
		} else {
			m.clock.Seek(cmd.Beat)
			m.setMotion(Rolling)
		}
	case CmdSetLoopRange:
		r := LoopRange{Start: cmd.Start, End: cmd.End}
		m.clock.SetLoop(r.Valid(), r)
	case CmdClearLoop:
		m.clock.SetLoop(false, LoopRange{})
	case CmdToggleLoop:
		if m.clock.loopEnabled.IsSet() {
			m.clock.loopEnabled.Clear()
		} else {
			m.clock.loopEnabled.Set()
		}
	case CmdFastForward:
		m.setMotion(FastForward)
	case CmdRewind:
		m.setMotion(Rewind)
	case CmdEndScrub:
		if state == FastForward || state == Rewind {
			m.setMotion(Rolling)
		}
	case CmdReverse:
		m.reverse = !m.reverse
	}
}

// AdvanceDeclick, when done is true, notifies the manager that the
// current declick ramp has completed, transitioning
// DeclickToStop->Stopped or DeclickToLocate->Rolling (at the declick
// target); done == false is a no-op. AdvanceDeclickFrames calls this
// once the declick window has been rendered.
func (m *Manager) AdvanceDeclick(done bool) {
	if !done {
		return
	}
	switch m.Motion() {
	case DeclickToStop:
		m.setMotion(Stopped)
	case DeclickToLocate:
		m.clock.Seek(m.declickTo)
		m.setMotion(Rolling)
	}
}

// startDeclick arms the declick countdown at DeclickDuration seconds,
// converted to samples at the clock's live rate.
func (m *Manager) startDeclick() {
	m.declickSamplesRemaining = int64(math.Round(DeclickDuration * float64(m.clock.SampleRate())))
}

// AdvanceDeclickFrames retires frames worth of the declick ramp; the
// audio callback calls this once per rendered buffer so DeclickToStop
// and DeclickToLocate resolve back to Stopped/Rolling once the ramp has
// actually played out (spec.md §4.4).
func (m *Manager) AdvanceDeclickFrames(frames int) {
	if m.declickSamplesRemaining <= 0 {
		return
	}
	m.declickSamplesRemaining -= int64(frames)
	if m.declickSamplesRemaining <= 0 {
		m.declickSamplesRemaining = 0
		m.AdvanceDeclick(true)
	}
}

func (m *Manager) syncPausedFlag() {
	paused := m.Motion() == Stopped || m.Motion() == DeclickToStop
	if paused {
		m.clock.PausedFlag().Set()
	} else {
		m.clock.PausedFlag().Clear()
	}
}

// PublishSync republishes the external-sync snapshot; called by the
// bridge/UI side, never the audio thread's FSM mutation path.
func (m *Manager) PublishSync(s SyncSnapshot) {
	m.sync.Store(&s)
}

// Sync returns the currently published external-sync snapshot.
func (m *Manager) Sync() SyncSnapshot {
	return *m.sync.Load()
}

// Tempo-map passthroughs: delegate to the published tempo-map snapshot,
// lock-free on the read side, copy-on-write on the UI-thread write side
// (spec.md §4.4).

func (m *Manager) AddTempoPoint(beat float64, bpm float32) { m.tempo.AddTempoPoint(beat, bpm) }
func (m *Manager) RemoveTempoPoint(beat float64)           { m.tempo.RemoveTempoPoint(beat) }
func (m *Manager) ClearTempoAutomation()                   { m.tempo.ClearTempoAutomation() }
func (m *Manager) SetTimeSignature(num, den uint32)        { m.tempo.SetTimeSignature(num, den) }
func (m *Manager) SetTempo(bpm float32)                    { m.tempo.SetTempo(bpm) }
