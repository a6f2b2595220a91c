package butler

import (
	"context"
	"time"

	"github.com/tutti-audio/tutti-core/pkg/transport"
)

// bridgePollInterval matches spec.md §4.10's "poll transport state roughly
// every 5ms" contract; the bridge never touches the audio callback
// directly, only Manager/Clock state and Post.
const bridgePollInterval = 5 * time.Millisecond

// BridgeTarget is the subset of Butler the bridge drives; an interface so
// bridge_test.go can substitute a recording fake without a real Butler.
type BridgeTarget interface {
	Post(cmd Command) bool
	SetBufferMargin(margin float64)
}

// SetBufferMargin posts a CmdSetBufferMargin directly; margin changes are
// idempotent so a dropped post under queue pressure is harmless.
func (b *Butler) SetBufferMargin(margin float64) {
	b.Post(Command{Kind: CmdSetBufferMargin, BufferMargin: margin})
}

// bridgeState is the last-seen transport state the bridge diffs against
// each poll, per spec.md §4.10 ("last-seen-value diffing").
type bridgeState struct {
	beat        float64
	loopEnabled bool
	loopStart   float64
	loopEnd     float64
	slaved      bool
	locked      bool
	initialized bool
}

// Bridge translates transport.Manager/Clock state into butler commands on
// a fixed poll, entirely off the realtime audio thread (spec.md §5:
// "Bridge thread owns: transport-to-butler translation, no RT
// obligations").
type Bridge struct {
	manager *transport.Manager
	clock   *transport.Clock
	target  BridgeTarget

	// channels lists the streaming channel indices the bridge keeps
	// seek-synced on large transport jumps and loop-range changes.
	channels []int

	prev bridgeState
}

// NewBridge wires a Bridge to poll manager/clock and drive target.
func NewBridge(manager *transport.Manager, clock *transport.Clock, target BridgeTarget, channels []int) *Bridge {
	return &Bridge{manager: manager, clock: clock, target: target, channels: channels}
}

// Run polls until ctx is canceled. Intended for errgroup.Group.Go
// alongside Butler.Run.
func (br *Bridge) Run(ctx context.Context) error {
	ticker := time.NewTicker(bridgePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			br.poll()
		}
	}
}

// largeJumpBeats is the threshold above which a beat-position change is
// treated as a locate (triggering a stream reseek) rather than ordinary
// playback advance, which the butler's own refill loop already tracks.
const largeJumpBeats = 0.5

func (br *Bridge) poll() {
	beat := br.clock.CurrentBeat()
	sync := br.manager.Sync()
	slaved := sync.Source == transport.SyncExternal
	locked := sync.Status == transport.SyncLocked

	if !br.prev.initialized || slaved != br.prev.slaved || locked != br.prev.locked {
		margin := 1.0
		if slaved && locked {
			margin = 1.5
		}
		br.target.SetBufferMargin(margin)
	}

	if br.prev.initialized {
		jumped := beat-br.prev.beat > largeJumpBeats || br.prev.beat-beat > largeJumpBeats
		if jumped {
			samplePos := br.clock.Tempo().BeatsToSamples(beat, br.clock.SampleRate())
			for _, ch := range br.channels {
				br.target.Post(Command{Kind: CmdSeekStream, Channel: ch, PositionSamples: samplePos})
			}
		}
	}

	loopEnabled := br.clock.LoopEnabled()
	loop := br.clock.LoopBounds()
	if !br.prev.initialized || loopEnabled != br.prev.loopEnabled || loop.Start != br.prev.loopStart || loop.End != br.prev.loopEnd {
		for _, ch := range br.channels {
			if loopEnabled {
				startSamples := br.clock.Tempo().BeatsToSamples(loop.Start, br.clock.SampleRate())
				endSamples := br.clock.Tempo().BeatsToSamples(loop.End, br.clock.SampleRate())
				br.target.Post(Command{Kind: CmdSetLoopRange, Channel: ch, LoopStartSamples: startSamples, LoopEndSamples: endSamples})
			} else {
				br.target.Post(Command{Kind: CmdClearLoopRange, Channel: ch})
			}
		}
	}

	br.prev = bridgeState{
		beat:        beat,
		loopEnabled: loopEnabled,
		loopStart:   loop.Start,
		loopEnd:     loop.End,
		slaved:      slaved,
		locked:      locked,
		initialized: true,
	}
}
