// Package engine wires the transport, MIDI routing, audio callback,
// butler, bridge, and recording manager into the three-thread session
// spec.md §5 describes: an audio thread pulling fixed-size buffers, a
// butler goroutine streaming disk I/O, and a bridge goroutine
// translating transport state into butler commands.
package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/hajimehoshi/ebiten/v2/audio"
	"golang.org/x/sync/errgroup"

	"github.com/tutti-audio/tutti-core/internal/config"
	"github.com/tutti-audio/tutti-core/pkg/butler"
	"github.com/tutti-audio/tutti-core/pkg/callback"
	"github.com/tutti-audio/tutti-core/pkg/logger"
	"github.com/tutti-audio/tutti-core/pkg/midi"
	"github.com/tutti-audio/tutti-core/pkg/midiio"
	"github.com/tutti-audio/tutti-core/pkg/node"
	"github.com/tutti-audio/tutti-core/pkg/recording"
	"github.com/tutti-audio/tutti-core/pkg/transport"
)

// defaultSynthUnitID is the TargetUnitID the built-in soundfont synth
// registers under when settings.SoundFontPath names a file; routing
// rules that target it reach this unit with no further wiring.
const defaultSynthUnitID = midi.TargetUnitID(1)

// unitRegistry is the subset of *node.Mixer NewSession and StreamAudioFile
// need to seed units into the graph at runtime; graphs that don't
// implement it (a caller's own fixed composition) simply skip that
// wiring.
type unitRegistry interface {
	AddUnit(id midi.TargetUnitID, unit node.AudioUnit)
	RemoveUnit(id midi.TargetUnitID)
}

// Session owns every subsystem for one running engine instance and the
// goroutines that drive the non-realtime ones.
type Session struct {
	SampleRate int

	TempoMap *transport.TempoMap
	Clock    *transport.Clock
	Manager  *transport.Manager
	Routing  *midi.SnapshotPointer
	Callback *callback.Callback
	Graph    node.Graph
	Butler   *butler.Butler
	Bridge   *butler.Bridge
	Recording *recording.Manager

	audioCtx *audio.Context
	stream   *stream
	player   *audio.Player
}

// NewSession constructs every subsystem from settings and wires them
// together; midiIn and graph are supplied by the caller since neither
// has a concrete backend in core (spec.md §1's explicit non-goals).
func NewSession(settings *config.Settings, midiIn midiio.Source, graph node.Graph) (*Session, error) {
	tm := transport.NewTempoMap()
	tm.SetTempo(float32(settings.InitialBPM))
	tm.SetTimeSignature(settings.TimeSigNumerator, settings.TimeSigDenominator)

	clock := transport.NewClock(tm, settings.SampleRate)
	manager := transport.NewManager(clock, tm)
	routing := midi.NewSnapshotPointer()

	if settings.SoundFontPath != "" {
		if registry, ok := graph.(unitRegistry); ok {
			sf2, err := node.LoadSoundFont(nil, settings.SoundFontPath)
			if err != nil {
				return nil, fmt.Errorf("engine: load soundfont: %w", err)
			}
			synth, err := node.NewSynthUnit(sf2, settings.SampleRate)
			if err != nil {
				return nil, fmt.Errorf("engine: create synth unit: %w", err)
			}
			registry.AddUnit(defaultSynthUnitID, synth)
		}
	}

	b := butler.New(logger.Component("butler"))
	bridge := butler.NewBridge(manager, clock, b, nil)
	rec := recording.NewManager(b)

	cb := &callback.Callback{
		Manager:   manager,
		Clock:     clock,
		Routing:   routing,
		MIDIIn:    midiIn,
		Graph:     graph,
		Click:     node.NewClick(settings.SampleRate),
		Recording: rec,
		Butler:    b,
	}

	audioCtx := audio.NewContext(settings.SampleRate)

	s := &Session{
		SampleRate: settings.SampleRate,
		TempoMap:   tm,
		Clock:      clock,
		Manager:    manager,
		Routing:    routing,
		Callback:   cb,
		Graph:      graph,
		Butler:     b,
		Bridge:     bridge,
		Recording:  rec,
		audioCtx:   audioCtx,
		stream:     &stream{cb: cb, sampleRate: settings.SampleRate},
	}

	player, err := audioCtx.NewPlayer(s.stream)
	if err != nil {
		return nil, fmt.Errorf("engine: create audio player: %w", err)
	}
	s.player = player
	return s, nil
}

// streamUnitIDBase offsets a streaming channel's TargetUnitID away from
// the small IDs MIDI routing targets (like defaultSynthUnitID); a
// streamed file is pulled straight into the mix and never MIDI-dispatched,
// so its unit only needs a slot distinct from every routed unit.
const streamUnitIDBase = midi.TargetUnitID(1 << 16)

// StreamAudioFile starts disk-streamed playback on channel: it posts
// CmdStreamAudioFile to the butler, waits for the butler to have
// registered the region, then wraps the resulting ring.Region in a
// node.RegionPlayer and adds it to the graph so the channel's decoded
// audio actually reaches the mix (spec.md §4.7, §3 "Stream state").
func (s *Session) StreamAudioFile(ctx context.Context, channel int, path string, startSeconds, speed, gain float64) error {
	registry, ok := s.Graph.(unitRegistry)
	if !ok {
		return fmt.Errorf("engine: graph does not support streaming playback units")
	}

	if !s.Butler.Post(butler.Command{
		Kind:         butler.CmdStreamAudioFile,
		Channel:      channel,
		FilePath:     path,
		SampleRate:   s.SampleRate,
		Channels:     2,
		StartSeconds: startSeconds,
		Speed:        speed,
		Gain:         gain,
	}) {
		return fmt.Errorf("engine: butler command queue full, could not start streaming channel %d", channel)
	}
	if err := s.Butler.WaitForCompletion(ctx); err != nil {
		return fmt.Errorf("engine: wait for streaming channel %d: %w", channel, err)
	}

	region, ok := s.Butler.Region(channel)
	if !ok {
		return fmt.Errorf("engine: butler has no region for channel %d after streaming command", channel)
	}

	registry.AddUnit(streamUnitIDBase+midi.TargetUnitID(channel), node.NewRegionPlayer(region))
	return nil
}

// StopStreaming reverses StreamAudioFile: it removes channel's
// RegionPlayer from the graph and tells the butler to tear down the
// underlying region.
func (s *Session) StopStreaming(channel int) bool {
	if registry, ok := s.Graph.(unitRegistry); ok {
		registry.RemoveUnit(streamUnitIDBase + midi.TargetUnitID(channel))
	}
	return s.Butler.Post(butler.Command{Kind: butler.CmdStopStreaming, Channel: channel})
}

// Run launches the butler and bridge goroutines, starts audio playback,
// and blocks until ctx is canceled (spec.md §5's three-thread ownership
// table: audio, butler, bridge).
func (s *Session) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	s.Butler.RunGroup(ctx, g)
	g.Go(func() error { return s.Bridge.Run(ctx) })

	s.player.Play()
	<-ctx.Done()
	s.player.Pause()

	return g.Wait()
}

// stream adapts Callback.Render to the io.Reader ebiten/v2/audio.Player
// pulls from, following the teacher's MIDIStream.Read shape
// (pkg/vm/audio/midi.go): render float32 stereo, convert to 16-bit
// little-endian interleaved PCM.
type stream struct {
	cb         *callback.Callback
	sampleRate int
	scratch    []float32
}

func (st *stream) Read(p []byte) (int, error) {
	frames := len(p) / 4
	if frames == 0 {
		return 0, nil
	}
	if cap(st.scratch) < frames*2 {
		st.scratch = make([]float32, frames*2)
	}
	out := st.scratch[:frames*2]

	st.cb.Render(out, frames, time.Now(), st.sampleRate)

	for i := 0; i < frames; i++ {
		l := clampSample(out[i*2]) * 32767
		r := clampSample(out[i*2+1]) * 32767
		binary.LittleEndian.PutUint16(p[i*4:], uint16(int16(l)))
		binary.LittleEndian.PutUint16(p[i*4+2:], uint16(int16(r)))
	}
	return frames * 4, nil
}

func clampSample(x float32) float32 {
	if x > 1 {
		return 1
	}
	if x < -1 {
		return -1
	}
	return x
}
