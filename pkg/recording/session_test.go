package recording

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutti-audio/tutti-core/pkg/butler"
)

type fakeButlerTarget struct {
	posted           []butler.Command
	finalizeFrames   uint64
	finalizeErr      error
	finalizedChannel int
}

func (f *fakeButlerTarget) Post(cmd butler.Command) bool {
	f.posted = append(f.posted, cmd)
	return true
}

func (f *fakeButlerTarget) FinalizeCapture(channel int) (uint64, error) {
	f.finalizedChannel = channel
	return f.finalizeFrames, f.finalizeErr
}

func TestStartRecordingWithPrerollStartsArmed(t *testing.T) {
	m := NewManager(&fakeButlerTarget{})
	s, err := m.StartRecording(0, MidiInput, Replace, 0, StartOptions{PrerollBeats: 2, SampleRate: 44100})
	require.NoError(t, err)
	assert.Equal(t, Armed, s.State())
}

func TestStartRecordingWithoutPrerollStartsRecording(t *testing.T) {
	m := NewManager(&fakeButlerTarget{})
	s, err := m.StartRecording(0, MidiInput, Replace, 0, StartOptions{SampleRate: 44100})
	require.NoError(t, err)
	assert.Equal(t, Recording, s.State())
}

func TestStartRecordingOverdubModeStartsOverdubbing(t *testing.T) {
	m := NewManager(&fakeButlerTarget{})
	s, err := m.StartRecording(0, MidiInput, Overdub, 0, StartOptions{SampleRate: 44100})
	require.NoError(t, err)
	assert.Equal(t, Overdubbing, s.State())
}

func TestStartRecordingAudioInputRequiresFilePath(t *testing.T) {
	m := NewManager(&fakeButlerTarget{})
	_, err := m.StartRecording(0, AudioInput, Replace, 0, StartOptions{SampleRate: 44100})
	assert.Error(t, err)
}

func TestStartRecordingAudioInputRegistersCapture(t *testing.T) {
	target := &fakeButlerTarget{}
	m := NewManager(target)
	_, err := m.StartRecording(2, AudioInput, Replace, 0, StartOptions{SampleRate: 44100, Channels: 2, FilePath: "out.wav"})
	require.NoError(t, err)
	require.Len(t, target.posted, 1)
	assert.Equal(t, butler.CmdRegisterCapture, target.posted[0].Kind)
	assert.Equal(t, "out.wav", target.posted[0].FilePath)
}

func TestUpdatePrerollsTransitionsArmedToRecordingAtZero(t *testing.T) {
	m := NewManager(&fakeButlerTarget{})
	s, _ := m.StartRecording(0, MidiInput, Replace, 0, StartOptions{PrerollBeats: 1, SampleRate: 44100})
	m.UpdatePrerolls(0.5)
	assert.Equal(t, Armed, s.State())
	m.UpdatePrerolls(0.6)
	assert.Equal(t, Recording, s.State())
}

func TestProcessPunchAllTransitionsOnRangeBoundaries(t *testing.T) {
	m := NewManager(&fakeButlerTarget{})
	s, _ := m.StartRecording(0, MidiInput, Replace, 0, StartOptions{
		SampleRate: 44100,
		PunchRange: PunchRange{Start: 4, End: 8},
	})
	s.state.Store(uint8(Armed))

	m.ProcessPunchAll(2)
	assert.Equal(t, Armed, s.State())

	m.ProcessPunchAll(4)
	assert.Equal(t, Recording, s.State())
	require.Len(t, s.PunchLog(), 1)
	assert.Equal(t, PunchIn, s.PunchLog()[0].Kind)

	m.ProcessPunchAll(8)
	assert.Equal(t, Stopped, s.State())
	require.Len(t, s.PunchLog(), 2)
	assert.Equal(t, PunchOut, s.PunchLog()[1].Kind)
}

func TestRecordMIDIEventsOnlyAppliedWhileRecording(t *testing.T) {
	m := NewManager(&fakeButlerTarget{})
	s, _ := m.StartRecording(0, MidiInput, Replace, 0, StartOptions{PrerollBeats: 1, SampleRate: 44100})
	require.Equal(t, Armed, s.State())

	m.RecordMIDINoteOnWithSample(0, 0, 60, 100, 10)
	assert.Empty(t, s.Buffer().Notes(), "armed session must not record events yet")

	m.UpdatePrerolls(1)
	require.Equal(t, Recording, s.State())
	m.RecordMIDINoteOnWithSample(0, 0, 60, 100, 10)
	assert.Len(t, s.Buffer().Notes(), 1)
}

func TestRecordMIDIEventsSkippedWhenRecordSafe(t *testing.T) {
	m := NewManager(&fakeButlerTarget{})
	s, _ := m.StartRecording(0, MidiInput, Replace, 0, StartOptions{SampleRate: 44100})
	s.SetRecordSafe(true)
	m.RecordMIDINoteOnWithSample(0, 0, 60, 100, 10)
	assert.Empty(t, s.Buffer().Notes())
}

func TestRecordXRunNeverErrorsWithoutSession(t *testing.T) {
	m := NewManager(&fakeButlerTarget{})
	m.RecordXRun(99, 1000, 1.0, XRunInput) // no panic, no error return
}

func TestStopRecordingMidiSwapsBufferAndReturnsOld(t *testing.T) {
	m := NewManager(&fakeButlerTarget{})
	s, _ := m.StartRecording(0, MidiInput, Replace, 0, StartOptions{SampleRate: 44100})
	m.RecordMIDINoteOnWithSample(0, 0, 60, 100, 10)

	result, err := m.StopRecording(0)
	require.NoError(t, err)
	require.NotNil(t, result.Buffer)
	assert.Len(t, result.Buffer.Notes(), 1)
	assert.Empty(t, s.Buffer().Notes(), "the session's live buffer must be a fresh one after stop")
	assert.Equal(t, Stopped, s.State())
}

func TestStopRecordingAudioInputFinalizesCapture(t *testing.T) {
	target := &fakeButlerTarget{finalizeFrames: 44100}
	m := NewManager(target)
	_, err := m.StartRecording(3, AudioInput, Replace, 0, StartOptions{SampleRate: 44100, Channels: 2, FilePath: "take.wav"})
	require.NoError(t, err)

	result, err := m.StopRecording(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(44100), result.CaptureFramesWritten)
	assert.Equal(t, "take.wav", result.CaptureFilePath)
	assert.Equal(t, 3, target.finalizedChannel)
}
