package wavfile

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterProducesValidHeaderAndDataSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	w, err := Create(path, 44100, 2)
	require.NoError(t, err)

	frames := make([]float32, 4*2) // 4 stereo frames
	for i := range frames {
		frames[i] = float32(i) * 0.1
	}
	require.NoError(t, w.WriteFrames(frames))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(data), 44)

	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, "fmt ", string(data[12:16]))
	assert.Equal(t, uint16(3), binary.LittleEndian.Uint16(data[20:22])) // IEEE float tag
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(data[22:24]))
	assert.Equal(t, uint32(44100), binary.LittleEndian.Uint32(data[24:28]))
	assert.Equal(t, uint16(32), binary.LittleEndian.Uint16(data[34:36]))

	dataBytes := binary.LittleEndian.Uint32(data[40:44])
	assert.Equal(t, uint32(4*2*4), dataBytes) // 4 frames * 2 channels * 4 bytes
	assert.Equal(t, uint64(4), w.Frames())
}

func TestWriterMultipleWriteFramesCallsAccumulate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	w, err := Create(path, 48000, 1)
	require.NoError(t, err)

	require.NoError(t, w.WriteFrames([]float32{0.1, 0.2}))
	require.NoError(t, w.WriteFrames([]float32{0.3}))
	require.NoError(t, w.Close())

	assert.Equal(t, uint64(3), w.Frames())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	dataBytes := binary.LittleEndian.Uint32(data[40:44])
	assert.Equal(t, uint32(3*1*4), dataBytes)
}
