package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutti-audio/tutti-core/pkg/butler"
	"github.com/tutti-audio/tutti-core/pkg/midi"
	"github.com/tutti-audio/tutti-core/pkg/node"
)

// fakeRegistry is a minimal node.Graph + unitRegistry double that only
// records what StreamAudioFile/StopStreaming register, without mixing
// any actual audio.
type fakeRegistry struct {
	units map[midi.TargetUnitID]node.AudioUnit
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{units: make(map[midi.TargetUnitID]node.AudioUnit)}
}

func (g *fakeRegistry) GetStereo() (float32, float32)              { return 0, 0 }
func (g *fakeRegistry) Dispatch(target midi.TargetUnitID, ev midi.Event) {}
func (g *fakeRegistry) AddUnit(id midi.TargetUnitID, unit node.AudioUnit) {
	g.units[id] = unit
}
func (g *fakeRegistry) RemoveUnit(id midi.TargetUnitID) {
	delete(g.units, id)
}

func TestStreamAudioFileRegistersRegionPlayerInGraph(t *testing.T) {
	graph := newFakeRegistry()
	b := butler.New(nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	s := &Session{SampleRate: 48000, Butler: b, Graph: graph}

	err := s.StreamAudioFile(context.Background(), 3, "nonexistent.wav", 0, 1, 1)
	require.NoError(t, err)

	unitID := streamUnitIDBase + midi.TargetUnitID(3)
	_, ok := graph.units[unitID]
	assert.True(t, ok, "expected a RegionPlayer registered for the streamed channel")

	region, ok := b.Region(3)
	require.True(t, ok)
	assert.Equal(t, "nonexistent.wav", region.FilePath)

	ok = s.StopStreaming(3)
	assert.True(t, ok)
	_, ok = graph.units[unitID]
	assert.False(t, ok, "expected RegionPlayer removed after StopStreaming")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("butler.Run did not exit after context cancellation")
	}
}
