package node

// Fixed capacities for the modulation matrix, per spec.md §4.12.
const (
	MaxRoutes     = 32
	MaxLFOs       = 8
	MaxEnvelopes  = 4
	MaxCCs        = 128
	NumDestinations = int(DestLFORate) + 1
)

// ModSource identifies where a modulation amount comes from.
type ModSource uint8

const (
	SrcLFO ModSource = iota // indexed 0..MaxLFOs-1 via Route.SourceIndex
	SrcEnvelope              // indexed 0..MaxEnvelopes-1
	SrcVelocity
	SrcAftertouch
	SrcModWheel
	SrcPitchBend
	SrcExpression
	SrcBreath
	SrcCC // indexed 0..MaxCCs-1
	SrcKeyTrack
	SrcRandom
)

// unipolarSource reports whether a source's natural range is [0,1]
// (true) or already bipolar [-1,1] (false). Unipolar sources are
// remapped x*2-1 before being applied, per spec.md §4.12.
func unipolarSource(s ModSource) bool {
	switch s {
	case SrcPitchBend:
		return false
	default:
		return true
	}
}

// ModDestination identifies a modulation target parameter.
type ModDestination uint8

const (
	DestPitch ModDestination = iota
	DestFilterCutoff
	DestFilterQ
	DestAmplitude
	DestPan
	DestOscMix
	DestPWM
	DestLFORate
)

// Route is one modulation-matrix entry.
type Route struct {
	Source      ModSource
	SourceIndex uint8 // LFO/Envelope/CC index, ignored otherwise
	Dest        ModDestination
	Amount      float32
	Bipolar     bool // carried with the route; Compute does not read it (the remap follows Source, see unipolarSource)
	Active      bool
}

// SourceValues is the preallocated array of live source values the
// caller fills in before calling Compute.
type SourceValues struct {
	LFO        [MaxLFOs]float32      // [0,1]
	Envelope   [MaxEnvelopes]float32 // [0,1]
	Velocity   float32               // [0,1]
	Aftertouch float32               // [0,1]
	ModWheel   float32               // [0,1]
	PitchBend  float32               // [-1,1]
	Expression float32               // [0,1]
	Breath     float32               // [0,1]
	CC         [MaxCCs]float32       // [0,1]
	KeyTrack   float32               // [0,1]
	Random     float32               // [0,1]
}

func (sv *SourceValues) value(src ModSource, idx uint8) float32 {
	switch src {
	case SrcLFO:
		if int(idx) < MaxLFOs {
			return sv.LFO[idx]
		}
	case SrcEnvelope:
		if int(idx) < MaxEnvelopes {
			return sv.Envelope[idx]
		}
	case SrcVelocity:
		return sv.Velocity
	case SrcAftertouch:
		return sv.Aftertouch
	case SrcModWheel:
		return sv.ModWheel
	case SrcPitchBend:
		return sv.PitchBend
	case SrcExpression:
		return sv.Expression
	case SrcBreath:
		return sv.Breath
	case SrcCC:
		if int(idx) < MaxCCs {
			return sv.CC[idx]
		}
	case SrcKeyTrack:
		return sv.KeyTrack
	case SrcRandom:
		return sv.Random
	}
	return 0
}

// DestinationValues is the preallocated output array Compute writes
// into, indexed by ModDestination.
type DestinationValues [NumDestinations]float32

// Matrix is the fixed-capacity modulation routing table every node
// contract exposes (spec.md §4.12). All operations are in-place on
// preallocated arrays; nothing here allocates.
type Matrix struct {
	routes [MaxRoutes]Route
	count  int
}

// AddRoute appends r if capacity remains, returning false otherwise.
func (m *Matrix) AddRoute(r Route) bool {
	if m.count >= MaxRoutes {
		return false
	}
	m.routes[m.count] = r
	m.count++
	return true
}

// Clear empties the route table.
func (m *Matrix) Clear() { m.count = 0 }

// Compute resets dest, then for every active route normalizes its source
// to bipolar [-1,1] (remapping unipolar sources via x*2-1), multiplies
// by Amount, and adds into dest[Dest]. Entirely in-place, no allocation.
func (m *Matrix) Compute(src *SourceValues, dest *DestinationValues) *DestinationValues {
	for i := range dest {
		dest[i] = 0
	}
	for i := 0; i < m.count; i++ {
		r := m.routes[i]
		if !r.Active {
			continue
		}
		v := src.value(r.Source, r.SourceIndex)
		if unipolarSource(r.Source) {
			v = v*2 - 1
		}
		dest[r.Dest] += v * r.Amount
	}
	return dest
}
