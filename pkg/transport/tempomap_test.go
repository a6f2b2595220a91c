package transport

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTempoMapDefaults(t *testing.T) {
	tm := NewTempoMap()
	points := tm.Points()
	require.Len(t, points, 1)
	assert.Equal(t, float32(120), points[0].BPM)
	assert.Equal(t, uint32(4), tm.TimeSignature().Numerator)
	assert.Equal(t, uint32(4), tm.TimeSignature().Denominator)
}

func TestBeatsToSecondsConstantTempo(t *testing.T) {
	tm := NewTempoMap()
	// 120 BPM: 2 beats/sec, so 4 beats = 2 seconds.
	assert.InDelta(t, 2.0, tm.BeatsToSeconds(4), 1e-9)
}

func TestSecondsToBeatsIsInverseOfBeatsToSeconds(t *testing.T) {
	tm := NewTempoMap()
	tm.AddTempoPoint(4, 90)
	tm.AddTempoPoint(8, 200)

	props := gopter.NewProperties(nil)
	props.Property("seconds_to_beats(beats_to_seconds(b)) == b", prop.ForAll(
		func(beat float64) bool {
			sec := tm.BeatsToSeconds(beat)
			back := tm.SecondsToBeats(sec)
			return almostEqual(back, beat, 1e-6)
		},
		gen.Float64Range(0, 20),
	))
	props.TestingRun(t)
}

func TestAddTempoPointReplacesWithinEpsilon(t *testing.T) {
	tm := NewTempoMap()
	tm.AddTempoPoint(4, 100)
	tm.AddTempoPoint(4.0000001, 140)

	points := tm.Points()
	require.Len(t, points, 2)
	assert.Equal(t, float32(140), points[1].BPM)
}

func TestClampBPMKeepsTempoInRange(t *testing.T) {
	tm := NewTempoMap()
	tm.AddTempoPoint(2, 0)
	tm.AddTempoPoint(3, 5000)

	points := tm.Points()
	assert.GreaterOrEqual(t, points[1].BPM, float32(1))
	assert.LessOrEqual(t, points[2].BPM, float32(999))
}

func TestRemoveTempoPointKeepsBeatZero(t *testing.T) {
	tm := NewTempoMap()
	tm.AddTempoPoint(0, 140)
	tm.RemoveTempoPoint(0)

	points := tm.Points()
	require.NotEmpty(t, points)
	assert.Equal(t, 0.0, points[0].Beat)
}

func TestClearTempoAutomationLeavesSingleDefaultPoint(t *testing.T) {
	tm := NewTempoMap()
	tm.AddTempoPoint(4, 90)
	tm.AddTempoPoint(8, 200)
	tm.ClearTempoAutomation()

	points := tm.Points()
	require.Len(t, points, 1)
	assert.Equal(t, 0.0, points[0].Beat)
}

func TestBeatsToBBTAndBack(t *testing.T) {
	tm := NewTempoMap()
	tm.SetTimeSignature(4, 4)

	bbt := tm.BeatsToBBT(5.5)
	assert.Equal(t, 2, bbt.Bar) // beats 0-3 = bar 1, beat 4 starts bar 2
	back := tm.BBTToBeats(bbt)
	assert.InDelta(t, 5.5, back, 1e-6)
}

func TestBeatsToSamplesRoundTrip(t *testing.T) {
	tm := NewTempoMap()
	const sr = 48000
	samples := tm.BeatsToSamples(2, sr)
	beats := tm.SamplesToBeats(samples, sr)
	assert.InDelta(t, 2.0, beats, 1e-6)
}

func almostEqual(a, b, eps float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < eps
}
