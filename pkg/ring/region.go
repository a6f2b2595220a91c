// Package ring implements the two SPSC stereo-sample rings that cross
// the audio-thread/butler-thread boundary: region rings (file -> audio)
// and capture rings (audio -> file), plus the small amount of state each
// one carries beyond its ring buffer (spec.md §4.7/§4.8).
package ring

import (
	"github.com/tutti-audio/tutti-core/pkg/lockfree"
)

// Frame is one interleaved stereo sample pair flowing through a ring.
type Frame struct {
	L, R float32
}

// Region is a streaming-playback ring: the butler produces decoded file
// samples into it, the audio thread (via a stream's consumer handle)
// reads them out. file_position is advanced by the butler as it reads
// ahead and read by its refill and loop checks; the fill percentage
// comes from the ring itself.
type Region struct {
	ID       uint64
	FilePath string

	FileLengthSamples int64
	FileSampleRate    int
	Channels          int

	FilePosition lockfree.U64 // AtomicU64, samples already queued from file

	// version increments on every SeekRegion, letting the audio-thread
	// consumer detect a discontinuity and drain stale samples instead of
	// playing them (spec.md §4.7).
	version lockfree.U32

	buf *lockfree.SPSCRing[Frame]
}

// NewRegion creates a region ring with the given total frame capacity.
func NewRegion(id uint64, filePath string, fileLengthSamples int64, fileSampleRate, channels, capacity int) *Region {
	r := &Region{
		ID:                id,
		FilePath:          filePath,
		FileLengthSamples: fileLengthSamples,
		FileSampleRate:    fileSampleRate,
		Channels:          channels,
		buf:               lockfree.NewSPSCRing[Frame](capacity),
	}
	return r
}

// Capacity returns the ring's total frame capacity.
func (r *Region) Capacity() int { return r.buf.Capacity() }

// FillPercent returns used_capacity/total_capacity in [0,1], used by the
// butler's adaptive-refill brackets (spec.md §4.9).
func (r *Region) FillPercent() float64 {
	cap := r.buf.Capacity()
	if cap == 0 {
		return 0
	}
	return float64(r.buf.ReadSpace()) / float64(cap)
}

// WriteSpace reports free producer-side slots (butler-side).
func (r *Region) WriteSpace() int { return r.buf.WriteSpace() }

// Push writes frames produced from the file into the ring, returning how
// many were actually accepted (butler-side, never blocks).
func (r *Region) Push(frames []Frame) int { return r.buf.Write(frames) }

// Read pulls frames for playback into out, returning how many were
// available. Fewer than len(out) frames read is an underrun; the caller
// fills the remainder with silence (audio-thread side).
func (r *Region) Read(out []Frame) int { return r.buf.ReadInto(out) }

// Seek atomically repositions file_position and bumps the discontinuity
// version; it does not itself touch the ring (the audio-thread consumer
// drains it on next read once it observes the version change).
func (r *Region) Seek(samplePosition int64) {
	r.FilePosition.Store(uint64(samplePosition))
	r.version.Add(1)
}

// Version returns the current discontinuity version.
func (r *Region) Version() uint32 { return r.version.Load() }

// DrainAll discards every currently buffered frame, used by the consumer
// once it observes a version bump.
func (r *Region) DrainAll() int { return r.buf.DropAll() }
