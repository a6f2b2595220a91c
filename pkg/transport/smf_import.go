package transport

import (
	"errors"
	"sort"
)

// ErrNotStandardMIDIFile is returned by ImportFromSMF when the header
// chunk is missing or malformed.
var ErrNotStandardMIDIFile = errors.New("transport: not a Standard MIDI File")

// smfTempoEvent is a raw (tick, microsPerBeat) tempo meta-event, the same
// shape the teacher's ParseMIDITempoMap extracts.
type smfTempoEvent struct {
	tick          int
	microsPerBeat int
}

// ImportFromSMF seeds the tempo map from a Standard MIDI File's tempo
// meta-events (0xFF 0x51), converting each event's tick position to a
// beat using the file's PPQ (time division). This supplements spec.md's
// UI-driven add_tempo_point API with the file-import path the original
// engine also supported; the resulting points are what the same tempo
// changes, added in tick order through AddTempoPoint, would produce.
// Points the map held before the import are replaced.
func (t *TempoMap) ImportFromSMF(data []byte) error {
	events, ppq, err := parseSMFTempoEvents(data)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Tracks are scanned one after another, so order events by tick; a
	// later event within tempoEpsilonBeats replaces the earlier one.
	sort.SliceStable(events, func(i, j int) bool { return events[i].tick < events[j].tick })
	points := make([]TempoPoint, 0, len(events))
	for _, e := range events {
		beat := float64(e.tick) / float64(ppq)
		bpm := clampBPM(float32(60_000_000.0 / float64(e.microsPerBeat)))
		if n := len(points); n > 0 && beat-points[n-1].Beat < tempoEpsilonBeats {
			points[n-1] = TempoPoint{Beat: beat, BPM: bpm}
			continue
		}
		points = append(points, TempoPoint{Beat: beat, BPM: bpm})
	}
	ensureBeatZero(&points)

	cur := t.snapshot()
	next := tempoMapData{points: points, sig: cur.sig}
	t.snap.Store(&next)
	return nil
}

// parseSMFTempoEvents scans every track of a Standard MIDI File for
// tempo meta-events, porting the teacher's ParseMIDITempoMap scan
// (pkg/vm/audio/midi.go) from its MIDI-tick-only representation into the
// raw (tick, microsPerBeat) pairs ImportFromSMF needs.
func parseSMFTempoEvents(data []byte) ([]smfTempoEvent, int, error) {
	ppq := 480
	if len(data) < 14 || string(data[0:4]) != "MThd" {
		return nil, 0, ErrNotStandardMIDIFile
	}

	timeDivision := int(data[12])<<8 | int(data[13])
	if timeDivision&0x8000 == 0 {
		ppq = timeDivision
	}

	var events []smfTempoEvent
	offset := 14
	for offset < len(data) {
		if offset+8 > len(data) || string(data[offset:offset+4]) != "MTrk" {
			break
		}
		trackLen := int(data[offset+4])<<24 | int(data[offset+5])<<16 | int(data[offset+6])<<8 | int(data[offset+7])
		trackEnd := offset + 8 + trackLen
		if trackEnd > len(data) {
			trackEnd = len(data)
		}
		pos := offset + 8
		currentTick := 0
		lastStatus := byte(0)

		for pos < trackEnd {
			delta, n := readVarLen(data[pos:])
			pos += n
			currentTick += delta
			if pos >= trackEnd {
				break
			}

			eventByte := data[pos]
			if eventByte < 0x80 {
				eventByte = lastStatus
			} else {
				pos++
				if eventByte < 0xF0 {
					lastStatus = eventByte
				}
			}

			switch {
			case eventByte == 0xFF:
				if pos >= trackEnd {
					break
				}
				metaType := data[pos]
				pos++
				length, n := readVarLen(data[pos:])
				pos += n
				if metaType == 0x51 && length == 3 && pos+3 <= trackEnd {
					micros := int(data[pos])<<16 | int(data[pos+1])<<8 | int(data[pos+2])
					events = append(events, smfTempoEvent{tick: currentTick, microsPerBeat: micros})
				}
				pos += length
			case eventByte == 0xF0 || eventByte == 0xF7:
				length, n := readVarLen(data[pos:])
				pos += n + length
			case eventByte >= 0x80:
				if eventByte >= 0xC0 && eventByte < 0xE0 {
					pos++
				} else {
					pos += 2
				}
			}
		}
		offset = trackEnd
	}

	if len(events) == 0 {
		events = []smfTempoEvent{{tick: 0, microsPerBeat: 500000}}
	} else if events[0].tick > 0 {
		events = append([]smfTempoEvent{{tick: 0, microsPerBeat: 500000}}, events...)
	}
	return events, ppq, nil
}

func readVarLen(data []byte) (int, int) {
	value := 0
	n := 0
	for i := 0; i < len(data) && i < 4; i++ {
		n++
		value = (value << 7) | int(data[i]&0x7F)
		if data[i]&0x80 == 0 {
			break
		}
	}
	return value, n
}
