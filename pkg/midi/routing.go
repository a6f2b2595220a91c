package midi

import "github.com/tutti-audio/tutti-core/pkg/lockfree"

// TargetUnitID identifies an audio unit a routed event is delivered to.
type TargetUnitID uint32

// anyChannelSlot is channel_lookup's slot 16, "any channel" per spec.md
// §4.5.
const anyChannelSlot = 16

// maxRouteTargets bounds how many targets a single rule may carry, per
// spec.md's "bounded list of target_unit_id".
const maxRouteTargets = 16

// dedupCap bounds the routing iterator's "seen" stack buffer, per
// spec.md §4.5/§9: "keeps a small fixed-size seen array on its own
// stack frame."
const dedupCap = 16

// Rule is one staged routing rule: match on an optional port and/or
// channel, fan out to a bounded list of targets.
type Rule struct {
	PortFilter    *PortID // nil = any port
	ChannelFilter *uint8  // nil = any channel
	Targets       []TargetUnitID
	Enabled       bool
}

// Table is the UI-owned staging area for routing changes. Nothing here
// is read by the audio thread directly; Commit publishes an immutable
// Snapshot.
type Table struct {
	rules    []Rule
	fallback *TargetUnitID
}

// NewTable creates an empty routing table.
func NewTable() *Table { return &Table{} }

// Channel stages a rule routing every message on ch (any port) to
// target.
func (t *Table) Channel(ch uint8, target TargetUnitID) *Table {
	c := ch
	t.rules = append(t.rules, Rule{ChannelFilter: &c, Targets: []TargetUnitID{target}, Enabled: true})
	return t
}

// Port stages a rule routing every message on port (any channel) to
// target.
func (t *Table) Port(port PortID, target TargetUnitID) *Table {
	p := port
	t.rules = append(t.rules, Rule{PortFilter: &p, Targets: []TargetUnitID{target}, Enabled: true})
	return t
}

// PortChannel stages a rule routing messages matching both port and
// channel to target.
func (t *Table) PortChannel(port PortID, ch uint8, target TargetUnitID) *Table {
	p, c := port, ch
	t.rules = append(t.rules, Rule{PortFilter: &p, ChannelFilter: &c, Targets: []TargetUnitID{target}, Enabled: true})
	return t
}

// Layer stages a rule fanning any-port/any-channel events out to every
// target in targets (capped at maxRouteTargets).
func (t *Table) Layer(targets ...TargetUnitID) *Table {
	if len(targets) > maxRouteTargets {
		targets = targets[:maxRouteTargets]
	}
	cp := append([]TargetUnitID(nil), targets...)
	t.rules = append(t.rules, Rule{Targets: cp, Enabled: true})
	return t
}

// RemoveUnit removes id from every rule's target list (the rules
// themselves stay) and clears it as fallback, so that a later
// Commit+route no longer emits it. Per spec.md §7,
// "invalid routing (unknown target)" must never crash the iterator, so
// stale IDs are simply filtered rather than causing a panic; RemoveUnit
// is how the UI proactively retires one.
func (t *Table) RemoveUnit(id TargetUnitID) *Table {
	for i := range t.rules {
		// fresh slice: committed snapshots share the old backing array
		kept := make([]TargetUnitID, 0, len(t.rules[i].Targets))
		for _, tg := range t.rules[i].Targets {
			if tg != id {
				kept = append(kept, tg)
			}
		}
		t.rules[i].Targets = kept
	}
	if t.fallback != nil && *t.fallback == id {
		t.fallback = nil
	}
	return t
}

// Fallback stages the target emitted when no rule produces any targets
// for an event.
func (t *Table) Fallback(id TargetUnitID) *Table {
	t.fallback = &id
	return t
}

// Snapshot is the immutable, precomputed routing table the audio thread
// reads. ChannelLookup[16] is the "any channel" slot.
type Snapshot struct {
	rules         []Rule
	channelLookup [17][]TargetUnitID
	fallback      *TargetUnitID
}

// Commit builds an immutable Snapshot from the currently staged rules.
func (t *Table) Commit() *Snapshot {
	s := &Snapshot{
		rules:    append([]Rule(nil), t.rules...),
		fallback: t.fallback,
	}
	for _, r := range t.rules {
		if !r.Enabled || r.PortFilter != nil {
			continue // port-filtered rules are walked directly by Route, not precomputed
		}
		slot := anyChannelSlot
		if r.ChannelFilter != nil {
			slot = int(*r.ChannelFilter)
		}
		s.channelLookup[slot] = append(s.channelLookup[slot], r.Targets...)
	}
	return s
}

// SnapshotPointer is the atomic cell the UI publishes Commit's result
// through and the audio thread reads from.
type SnapshotPointer = lockfree.Snapshot[Snapshot]

// NewSnapshotPointer creates a SnapshotPointer holding an empty routing
// snapshot, matching spec.md §6: "routing table starts empty."
func NewSnapshotPointer() *SnapshotPointer {
	return lockfree.NewSnapshot(NewTable().Commit())
}

// Iterator yields each routed target at most once for a given (port,
// event), allocation-free (spec.md §4.5/§9).
type Iterator struct {
	snap  *Snapshot
	port  PortID
	event *Event

	seen    [dedupCap]TargetUnitID
	seenLen int

	stage      int // 0=channel lookup, 1=any-channel, 2=port rules, 3=fallback, 4=done
	slice      []TargetUnitID
	sliceIdx   int
	ruleIdx    int
	emittedAny bool
}

// NewIterator constructs a zero-allocation route iterator over snap for
// the given port and event.
func NewIterator(snap *Snapshot, port PortID, event *Event) Iterator {
	return Iterator{snap: snap, port: port, event: event}
}

func (it *Iterator) markSeen(id TargetUnitID) bool {
	for i := 0; i < it.seenLen; i++ {
		if it.seen[i] == id {
			return false
		}
	}
	if it.seenLen < dedupCap {
		it.seen[it.seenLen] = id
		it.seenLen++
	}
	return true
}

// Next returns the next routed target, or ok=false once exhausted.
func (it *Iterator) Next() (TargetUnitID, bool) {
	for {
		switch it.stage {
		case 0:
			if it.slice == nil {
				ch := int(it.event.Channel)
				if ch < 0 || ch > 15 {
					ch = 0
				}
				it.slice = it.snap.channelLookup[ch]
				it.sliceIdx = 0
			}
			if it.sliceIdx < len(it.slice) {
				id := it.slice[it.sliceIdx]
				it.sliceIdx++
				if it.markSeen(id) {
					it.emittedAny = true
					return id, true
				}
				continue
			}
			it.stage = 1
			it.slice = nil
		case 1:
			if it.slice == nil {
				it.slice = it.snap.channelLookup[anyChannelSlot]
				it.sliceIdx = 0
			}
			if it.sliceIdx < len(it.slice) {
				id := it.slice[it.sliceIdx]
				it.sliceIdx++
				if it.markSeen(id) {
					it.emittedAny = true
					return id, true
				}
				continue
			}
			it.stage = 2
			it.slice = nil
			it.ruleIdx = 0
		case 2:
			for it.ruleIdx < len(it.snap.rules) {
				r := it.snap.rules[it.ruleIdx]
				if it.slice == nil {
					if !r.Enabled || r.PortFilter == nil || *r.PortFilter != it.port {
						it.ruleIdx++
						continue
					}
					if r.ChannelFilter != nil && *r.ChannelFilter != it.event.Channel {
						it.ruleIdx++
						continue
					}
					it.slice = r.Targets
					it.sliceIdx = 0
				}
				if it.sliceIdx < len(it.slice) {
					id := it.slice[it.sliceIdx]
					it.sliceIdx++
					if it.markSeen(id) {
						it.emittedAny = true
						return id, true
					}
					continue
				}
				it.slice = nil
				it.ruleIdx++
			}
			it.stage = 3
		case 3:
			it.stage = 4
			if !it.emittedAny && it.snap.fallback != nil {
				return *it.snap.fallback, true
			}
		default:
			return 0, false
		}
	}
}

// Route is the convenience entry point: builds and returns an iterator
// over snap for (port, event).
func Route(snap *Snapshot, port PortID, event *Event) Iterator {
	return NewIterator(snap, port, event)
}
