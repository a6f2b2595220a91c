// Package transport implements the musical clock: tempo map, per-sample
// clock, and the motion finite-state machine that drives them.
package transport

import (
	"math"
	"sort"
	"sync"

	"github.com/tutti-audio/tutti-core/pkg/lockfree"
)

const (
	minBPM = 1.0
	maxBPM = 999.0

	// tempoEpsilonBeats is the minimum beat spacing between distinct
	// tempo points (spec.md: "no duplicates within 1e-3 beat").
	tempoEpsilonBeats = 1e-3
)

// TempoPoint is one piecewise-constant tempo segment start.
type TempoPoint struct {
	Beat float64
	BPM  float32
}

// TimeSignature affects only bar/beat conversion.
type TimeSignature struct {
	Numerator   uint32
	Denominator uint32
}

// BeatsPerBar returns how many beats make up one bar under this
// signature: numerator * 4 / denominator, per spec.md §4.3.
func (ts TimeSignature) BeatsPerBar() float64 {
	if ts.Denominator == 0 {
		return 4
	}
	return float64(ts.Numerator) * 4 / float64(ts.Denominator)
}

// BBT is a musician-facing Bar/Beat/Ticks position. Bar and Beat are
// 1-indexed; Ticks runs 0..960.
type BBT struct {
	Bar   int
	Beat  int
	Ticks int
}

// tempoMapData is the immutable payload published through a Snapshot.
// Mutators clone-modify-publish; readers only ever see a whole value.
type tempoMapData struct {
	points []TempoPoint // sorted by Beat, point at beat 0 always present
	sig    TimeSignature
}

// TempoMap holds the current tempo schedule and time signature, and
// publishes immutable snapshots for lock-free reading from the audio
// thread.
type TempoMap struct {
	mu   sync.Mutex // serializes UI-thread mutators only
	snap *lockfree.Snapshot[tempoMapData]
}

// NewTempoMap creates a tempo map defaulting to 120 BPM, 4/4.
func NewTempoMap() *TempoMap {
	data := tempoMapData{
		points: []TempoPoint{{Beat: 0, BPM: 120}},
		sig:    TimeSignature{Numerator: 4, Denominator: 4},
	}
	return &TempoMap{snap: lockfree.NewSnapshot(&data)}
}

func clampBPM(bpm float32) float32 {
	if bpm < minBPM {
		return minBPM
	}
	if bpm > maxBPM {
		return maxBPM
	}
	return bpm
}

// snapshot returns the currently published, read-only tempo data. Safe
// to call from the audio thread; wait-free.
func (t *TempoMap) snapshot() tempoMapData {
	return *t.snap.Load()
}

// TimeSignature returns the current time signature.
func (t *TempoMap) TimeSignature() TimeSignature {
	return t.snapshot().sig
}

// Points returns a copy of the current sorted tempo points.
func (t *TempoMap) Points() []TempoPoint {
	data := t.snapshot()
	out := make([]TempoPoint, len(data.points))
	copy(out, data.points)
	return out
}

// AddTempoPoint clamps bpm to [1,999] and inserts/replaces the point at
// beat. A point at beat 0 already existing makes a second beat-0 add a
// no-op for the beat-0 slot's position but still updates its BPM (a
// re-add at 0 is how the UI changes the starting tempo).
func (t *TempoMap) AddTempoPoint(beat float64, bpm float32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	bpm = clampBPM(bpm)
	cur := t.snapshot()
	points := append([]TempoPoint(nil), cur.points...)

	idx := sort.Search(len(points), func(i int) bool {
		return points[i].Beat >= beat-tempoEpsilonBeats
	})
	if idx < len(points) && math.Abs(points[idx].Beat-beat) < tempoEpsilonBeats {
		points[idx].BPM = bpm
		points[idx].Beat = beat
	} else {
		points = append(points, TempoPoint{})
		copy(points[idx+1:], points[idx:])
		points[idx] = TempoPoint{Beat: beat, BPM: bpm}
	}

	ensureBeatZero(&points)
	next := tempoMapData{points: points, sig: cur.sig}
	t.snap.Store(&next)
}

// ensureBeatZero synthesizes a beat-0 point from the earliest tempo if
// one is not already present, per spec.md §4.3.
func ensureBeatZero(points *[]TempoPoint) {
	p := *points
	if len(p) == 0 {
		*points = []TempoPoint{{Beat: 0, BPM: 120}}
		return
	}
	if p[0].Beat > tempoEpsilonBeats {
		synth := TempoPoint{Beat: 0, BPM: p[0].BPM}
		*points = append([]TempoPoint{synth}, p...)
	}
}

// RemoveTempoPoint removes the point nearest beat, if one exists within
// tempoEpsilonBeats. The point at beat 0 is never removed (it is
// resynthesized immediately if removal would drop it), matching the
// invariant that a beat-0 point is always present.
func (t *TempoMap) RemoveTempoPoint(beat float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.snapshot()
	points := append([]TempoPoint(nil), cur.points...)
	for i, p := range points {
		if math.Abs(p.Beat-beat) < tempoEpsilonBeats {
			points = append(points[:i], points[i+1:]...)
			break
		}
	}
	ensureBeatZero(&points)
	next := tempoMapData{points: points, sig: cur.sig}
	t.snap.Store(&next)
}

// ClearTempoAutomation resets to a single point at beat 0 carrying the
// tempo that was active at beat 0 before clearing.
func (t *TempoMap) ClearTempoAutomation() {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.snapshot()
	bpm := float32(120)
	if len(cur.points) > 0 {
		bpm = cur.points[0].BPM
	}
	next := tempoMapData{points: []TempoPoint{{Beat: 0, BPM: bpm}}, sig: cur.sig}
	t.snap.Store(&next)
}

// SetTempo is a convenience that sets the beat-0 tempo, used by "set a
// flat tempo with no automation."
func (t *TempoMap) SetTempo(bpm float32) {
	t.AddTempoPoint(0, bpm)
}

// SetTimeSignature updates numerator/denominator; it never touches
// tempo points.
func (t *TempoMap) SetTimeSignature(num, den uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.snapshot()
	next := tempoMapData{points: cur.points, sig: TimeSignature{Numerator: num, Denominator: den}}
	t.snap.Store(&next)
}

// BeatsToSeconds converts a beat position to elapsed seconds from beat 0
// by walking tempo segments, per spec.md §4.3.
func (t *TempoMap) BeatsToSeconds(b float64) float64 {
	return beatsToSeconds(t.snapshot().points, b)
}

func beatsToSeconds(points []TempoPoint, b float64) float64 {
	if len(points) == 0 {
		return b * 60 / 120
	}
	if len(points) == 1 {
		return b * 60 / float64(points[0].BPM)
	}

	seconds := 0.0
	for i := 0; i < len(points)-1; i++ {
		p, next := points[i], points[i+1]
		if b < next.Beat {
			return seconds + (b-p.Beat)*60/float64(p.BPM)
		}
		seconds += (next.Beat - p.Beat) * 60 / float64(p.BPM)
	}
	last := points[len(points)-1]
	return seconds + (b-last.Beat)*60/float64(last.BPM)
}

// SecondsToBeats is the mirror-image walk of BeatsToSeconds.
func (t *TempoMap) SecondsToBeats(s float64) float64 {
	return secondsToBeats(t.snapshot().points, s)
}

func secondsToBeats(points []TempoPoint, s float64) float64 {
	if len(points) == 0 {
		return s * 120 / 60
	}
	if len(points) == 1 {
		return s * float64(points[0].BPM) / 60
	}

	elapsed := 0.0
	for i := 0; i < len(points)-1; i++ {
		p, next := points[i], points[i+1]
		segSeconds := (next.Beat - p.Beat) * 60 / float64(p.BPM)
		if s < elapsed+segSeconds {
			return p.Beat + (s-elapsed)*float64(p.BPM)/60
		}
		elapsed += segSeconds
	}
	last := points[len(points)-1]
	return last.Beat + (s-elapsed)*float64(last.BPM)/60
}

// BeatsToSamples converts a beat position to an absolute sample index at
// the given sample rate.
func (t *TempoMap) BeatsToSamples(b float64, sampleRate int) int64 {
	return int64(math.Round(t.BeatsToSeconds(b) * float64(sampleRate)))
}

// SamplesToBeats is the symmetric inverse of BeatsToSamples.
func (t *TempoMap) SamplesToBeats(samples int64, sampleRate int) float64 {
	return t.SecondsToBeats(float64(samples) / float64(sampleRate))
}

// BeatsToBBT converts a beat position to Bar/Beat/Ticks under the current
// time signature, per spec.md §4.3.
func (t *TempoMap) BeatsToBBT(b float64) BBT {
	return beatsToBBT(b, t.TimeSignature())
}

func beatsToBBT(b float64, sig TimeSignature) BBT {
	bpb := sig.BeatsPerBar()
	if bpb <= 0 {
		bpb = 4
	}
	bar := int(math.Floor(b/bpb)) + 1
	beatInBar := math.Mod(b, bpb)
	if beatInBar < 0 {
		beatInBar += bpb
	}
	beat := int(math.Floor(beatInBar)) + 1
	frac := beatInBar - math.Floor(beatInBar)
	ticks := int(math.Round(frac * 960))
	if ticks >= 960 {
		ticks = 0
		beat++
		if beat > int(bpb) {
			beat = 1
			bar++
		}
	}
	return BBT{Bar: bar, Beat: beat, Ticks: ticks}
}

// BBTToBeats is the 1-indexed inverse of BeatsToBBT.
func (t *TempoMap) BBTToBeats(bbt BBT) float64 {
	return bbtToBeats(bbt, t.TimeSignature())
}

func bbtToBeats(bbt BBT, sig TimeSignature) float64 {
	bpb := sig.BeatsPerBar()
	if bpb <= 0 {
		bpb = 4
	}
	return float64(bbt.Bar-1)*bpb + float64(bbt.Beat-1) + float64(bbt.Ticks)/960
}
