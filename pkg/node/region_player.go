package node

import (
	"github.com/tutti-audio/tutti-core/pkg/midi"
	"github.com/tutti-audio/tutti-core/pkg/ring"
)

// RegionPlayer is the audio-thread side of a streaming-playback channel:
// it drains one stereo sample per Tick from the butler-filled region
// ring (spec.md §4.7), underrunning to silence once the ring runs dry
// rather than blocking.
type RegionPlayer struct {
	region  *ring.Region
	scratch [1]ring.Frame
	version uint32 // last region discontinuity version seen
}

// NewRegionPlayer wraps region as an AudioUnit.
func NewRegionPlayer(region *ring.Region) *RegionPlayer {
	return &RegionPlayer{region: region, version: region.Version()}
}

// Tick pulls one frame from the region ring, silence on underrun. When
// the region's version has changed (a seek), the stale buffered frames
// are drained first.
func (p *RegionPlayer) Tick() Frame {
	if v := p.region.Version(); v != p.version {
		p.version = v
		p.region.DrainAll()
	}
	if p.region.Read(p.scratch[:]) == 0 {
		return Frame{}
	}
	return Frame{L: p.scratch[0].L, R: p.scratch[0].R}
}

// Process renders size frames.
func (p *RegionPlayer) Process(size int, out []Frame) {
	for i := 0; i < size && i < len(out); i++ {
		out[i] = p.Tick()
	}
}

// Enqueue is a no-op: a streamed region is driven by the transport and
// butler, not by routed MIDI.
func (p *RegionPlayer) Enqueue(ev midi.Event) {}
