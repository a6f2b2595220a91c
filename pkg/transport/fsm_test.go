package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() (*Manager, *Clock) {
	tm := NewTempoMap()
	c := NewClock(tm, 48000)
	return NewManager(c, tm), c
}

func TestManagerStartsStopped(t *testing.T) {
	m, c := newTestManager()
	assert.Equal(t, Stopped, m.Motion())
	assert.True(t, c.PausedFlag().IsSet())
}

func TestManagerPlayFromStoppedRolls(t *testing.T) {
	m, c := newTestManager()
	require.True(t, m.Post(Command{Kind: CmdPlay}))
	m.ProcessCommands()
	assert.Equal(t, Rolling, m.Motion())
	assert.False(t, c.PausedFlag().IsSet())
}

func TestManagerStopWithDeclickFromRollingDeclicks(t *testing.T) {
	m, _ := newTestManager()
	m.Post(Command{Kind: CmdPlay})
	m.ProcessCommands()

	m.Post(Command{Kind: CmdStopWithDeclick})
	m.ProcessCommands()
	assert.Equal(t, DeclickToStop, m.Motion())

	m.AdvanceDeclick(true)
	assert.Equal(t, Stopped, m.Motion())
}

func TestManagerLocateAndPlaySeeksAndRolls(t *testing.T) {
	m, c := newTestManager()
	m.Post(Command{Kind: CmdLocateAndPlay, Beat: 16})
	m.ProcessCommands()

	assert.Equal(t, Rolling, m.Motion())
	c.Tick() // apply the armed seek
	assert.Equal(t, 16.0, c.CurrentBeat())
}

func TestManagerToggleLoopFlipsEachCall(t *testing.T) {
	m, c := newTestManager()
	m.Post(Command{Kind: CmdSetLoopRange, Start: 0, End: 8})
	m.ProcessCommands()
	require.True(t, c.loopEnabled.IsSet())

	m.Post(Command{Kind: CmdToggleLoop})
	m.ProcessCommands()
	assert.False(t, c.loopEnabled.IsSet())

	m.Post(Command{Kind: CmdToggleLoop})
	m.ProcessCommands()
	assert.True(t, c.loopEnabled.IsSet())
}

func TestManagerCommandQueueDropsOnOverflowWithoutChangingState(t *testing.T) {
	m, _ := newTestManager()
	for i := 0; i < DefaultCommandQueueCapacity; i++ {
		require.True(t, m.Post(Command{Kind: CmdFastForward}))
	}
	// one more should be dropped, not block or panic
	assert.False(t, m.Post(Command{Kind: CmdFastForward}))
}

func TestManagerEndScrubReturnsToRollingOnlyFromScrubStates(t *testing.T) {
	m, _ := newTestManager()
	m.Post(Command{Kind: CmdEndScrub})
	m.ProcessCommands()
	assert.Equal(t, Stopped, m.Motion())

	m.Post(Command{Kind: CmdFastForward})
	m.ProcessCommands()
	m.Post(Command{Kind: CmdEndScrub})
	m.ProcessCommands()
	assert.Equal(t, Rolling, m.Motion())
}
