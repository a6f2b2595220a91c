package node

import (
	"testing"

	"github.com/tutti-audio/tutti-core/pkg/midi"
)

type fakeUnit struct {
	frame    Frame
	enqueued []midi.Event
}

func (f *fakeUnit) Tick() Frame                { return f.frame }
func (f *fakeUnit) Process(size int, out []Frame) {}
func (f *fakeUnit) Enqueue(ev midi.Event)      { f.enqueued = append(f.enqueued, ev) }

func TestMixerGetStereoSumsAllUnits(t *testing.T) {
	m := NewMixer()
	m.AddUnit(1, &fakeUnit{frame: Frame{L: 0.2, R: 0.1}})
	m.AddUnit(2, &fakeUnit{frame: Frame{L: 0.3, R: 0.4}})

	l, r := m.GetStereo()
	if l != 0.5 {
		t.Fatalf("expected L sum 0.5, got %v", l)
	}
	if r != 0.5 {
		t.Fatalf("expected R sum 0.5, got %v", r)
	}
}

func TestMixerRemoveUnitExcludesItFromSum(t *testing.T) {
	m := NewMixer()
	m.AddUnit(1, &fakeUnit{frame: Frame{L: 1, R: 1}})
	m.RemoveUnit(1)

	l, r := m.GetStereo()
	if l != 0 || r != 0 {
		t.Fatalf("expected silence after removal, got %v %v", l, r)
	}
}

func TestMixerDispatchDeliversToTargetUnit(t *testing.T) {
	m := NewMixer()
	unit := &fakeUnit{}
	m.AddUnit(5, unit)

	ev := midi.Event{}
	m.Dispatch(5, ev)

	if len(unit.enqueued) != 1 {
		t.Fatalf("expected 1 enqueued event, got %d", len(unit.enqueued))
	}
}

func TestMixerDispatchToUnknownTargetIsSilentNoOp(t *testing.T) {
	m := NewMixer()
	m.Dispatch(999, midi.Event{})
}
