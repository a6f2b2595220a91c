// Package node defines the node-graph contract the audio callback drives
// (spec.md §6) and the modulation matrix every node contract exposes
// (spec.md §4.12). Individual DSP nodes (synths, samplers, effects) are
// external collaborators specified only through AudioUnit; AudioUnit is
// the sole place in this engine where dynamic dispatch is acceptable,
// since concrete node types vary at composition time (spec.md §9).
package node

import "github.com/tutti-audio/tutti-core/pkg/midi"

// Frame is one stereo sample pair.
type Frame struct {
	L, R float32
}

// AudioUnit is a node in the render graph: it accepts routed MIDI and
// produces audio, one sample or one block at a time.
type AudioUnit interface {
	// Tick renders exactly one stereo frame, advancing the unit's
	// internal state by one sample.
	Tick() Frame

	// Process renders size frames into out (len(out) must be >= size),
	// for nodes that can batch more efficiently than per-sample Tick.
	Process(size int, out []Frame)

	// Enqueue delivers a routed MIDI event to this unit's "next render
	// call" queue, per spec.md §4.5: routing "enqueues them for the
	// target audio units' next render call."
	Enqueue(ev midi.Event)
}

// Graph is the backend the audio callback pulls from: a composition of
// AudioUnits, addressable by TargetUnitID for MIDI routing, reduced to
// a single pulled stereo stream as far as the callback is concerned.
type Graph interface {
	// GetStereo pulls one rendered stereo sample, advancing the graph.
	GetStereo() (float32, float32)

	// Dispatch delivers a routed event to the target unit, a no-op if
	// the unit ID is unknown (spec.md §7: "invalid routing ... silently
	// ignored").
	Dispatch(target midi.TargetUnitID, ev midi.Event)
}
