package node

import (
	"sort"
	"sync"

	"github.com/tutti-audio/tutti-core/pkg/midi"
)

// Mixer is the reference Graph: a flat sum of AudioUnits addressable by
// TargetUnitID, the simplest composition that satisfies the callback's
// contract without committing to a particular routing topology.
type Mixer struct {
	mu    sync.Mutex
	units map[midi.TargetUnitID]AudioUnit
	order []midi.TargetUnitID
}

// NewMixer returns an empty Mixer ready to accept units.
func NewMixer() *Mixer {
	return &Mixer{units: make(map[midi.TargetUnitID]AudioUnit)}
}

// AddUnit registers a unit under id, replacing whatever was there.
func (m *Mixer) AddUnit(id midi.TargetUnitID, unit AudioUnit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.units[id]; !exists {
		m.order = append(m.order, id)
		sort.Slice(m.order, func(i, j int) bool { return m.order[i] < m.order[j] })
	}
	m.units[id] = unit
}

// RemoveUnit drops the unit registered under id, if any.
func (m *Mixer) RemoveUnit(id midi.TargetUnitID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.units[id]; !exists {
		return
	}
	delete(m.units, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// GetStereo sums one tick from every registered unit, in ascending
// TargetUnitID order so the mix is deterministic across runs.
func (m *Mixer) GetStereo() (float32, float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var l, r float32
	for _, id := range m.order {
		f := m.units[id].Tick()
		l += f.L
		r += f.R
	}
	return l, r
}

// Dispatch hands ev to the unit registered under target, a silent no-op
// if target names nothing (spec.md §7).
func (m *Mixer) Dispatch(target midi.TargetUnitID, ev midi.Event) {
	m.mu.Lock()
	unit, ok := m.units[target]
	m.mu.Unlock()
	if !ok {
		return
	}
	unit.Enqueue(ev)
}
