package recording

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferNoteOnOffPairsByNumber(t *testing.T) {
	b := NewBuffer(0, 44100)
	b.NoteOn(0, 60, 100, 1000)
	b.NoteOff(60, 1500)

	notes := b.Notes()
	require.Len(t, notes, 1)
	assert.Equal(t, int64(1000), notes[0].StartSample)
	assert.Equal(t, int64(1500), notes[0].EndSample)
}

func TestBufferNoteOffWithoutMatchingOnIsDropped(t *testing.T) {
	b := NewBuffer(0, 44100)
	b.NoteOff(60, 1500)
	assert.Empty(t, b.Notes())
}

func TestBufferRepeatedNoteOnReplacesActiveNote(t *testing.T) {
	b := NewBuffer(0, 44100)
	b.NoteOn(0, 60, 100, 1000)
	b.NoteOn(0, 60, 110, 2000) // stuck note, no Off between
	b.NoteOff(60, 2500)

	notes := b.Notes()
	require.Len(t, notes, 2)
	assert.Equal(t, int64(-1), notes[0].EndSample, "first note never received its Off")
	assert.Equal(t, int64(2500), notes[1].EndSample)
}

func TestBufferAudioChunkSplitsAtMaxFrames(t *testing.T) {
	b := NewBuffer(0, 44100)
	samples := make([]float32, maxAudioChunkFrames+10)
	b.AddAudioChunk(samples)

	chunks := b.AudioChunks()
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], maxAudioChunkFrames)
	assert.Len(t, chunks[1], 10)
}

func TestBufferAccessorsReturnCopiesNotAliases(t *testing.T) {
	b := NewBuffer(0, 44100)
	b.AddCC(0, 7, 100, 10)
	ccs := b.CCs()
	ccs[0].Value = 0
	assert.Equal(t, uint8(100), b.CCs()[0].Value, "mutating a returned copy must not affect the buffer")
}
