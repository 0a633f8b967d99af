// Package midiops is the native MIDI engine: duration probing, tick-zero
// normalization and marker-based section cutting, all on gomidi/smf.
package midiops

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gitlab.com/gomidi/midi/v2/smf"
)

// ErrSectionNotFound means the requested section marker is absent from
// the style's embedded MIDI.
var ErrSectionNotFound = errors.New("section marker not found in midi")

// Percussion channels in Yamaha styles (zero-based). Bank/program state
// on these channels addresses drum kits, not melodic instruments.
var drumChannels = map[uint8]bool{9: true, 10: true}

const defaultTicksPerQuarter = 480

func readSMF(path string) (*smf.SMF, error) {
	s, err := smf.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read midi %s: %w", path, err)
	}
	return s, nil
}

func writeSMF(s *smf.SMF, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create midi %s: %w", path, err)
	}
	defer f.Close()
	if _, err := s.WriteTo(f); err != nil {
		return fmt.Errorf("write midi %s: %w", path, err)
	}
	return nil
}

func ticksPerQuarter(s *smf.SMF) uint32 {
	if tf, ok := s.TimeFormat.(smf.MetricTicks); ok {
		return uint32(tf)
	}
	return defaultTicksPerQuarter
}

type tempoChange struct {
	tick uint64
	bpm  float64
}

// tempoMap collects set-tempo events across all tracks, sorted by tick.
// A 120 BPM change at tick zero is implied when none is present.
func tempoMap(s *smf.SMF) []tempoChange {
	var changes []tempoChange
	for _, tr := range s.Tracks {
		var abs uint64
		for _, ev := range tr {
			abs += uint64(ev.Delta)
			var bpm float64
			if ev.Message.GetMetaTempo(&bpm) && bpm > 0 {
				changes = append(changes, tempoChange{tick: abs, bpm: bpm})
			}
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].tick < changes[j].tick })
	if len(changes) == 0 || changes[0].tick > 0 {
		changes = append([]tempoChange{{tick: 0, bpm: 120}}, changes...)
	}
	return changes
}

func endTick(s *smf.SMF) uint64 {
	var max uint64
	for _, tr := range s.Tracks {
		var abs uint64
		for _, ev := range tr {
			abs += uint64(ev.Delta)
		}
		if abs > max {
			max = abs
		}
	}
	return max
}

// ticksToSeconds walks the tempo map piecewise up to tick.
func ticksToSeconds(changes []tempoChange, tpq uint32, tick uint64) float64 {
	var sec float64
	for i, ch := range changes {
		segStart := ch.tick
		if segStart >= tick {
			break
		}
		segEnd := tick
		if i+1 < len(changes) && changes[i+1].tick < tick {
			segEnd = changes[i+1].tick
		}
		sec += float64(segEnd-segStart) * 60.0 / (ch.bpm * float64(tpq))
	}
	return sec
}

// Duration returns the playing time of a MIDI file in seconds, honoring
// every tempo change.
func Duration(path string) (float64, error) {
	s, err := readSMF(path)
	if err != nil {
		return 0, err
	}
	return ticksToSeconds(tempoMap(s), ticksPerQuarter(s), endTick(s)), nil
}

// Tempo returns the first set-tempo event's BPM, defaulting to 120.
func Tempo(path string) (float64, error) {
	s, err := readSMF(path)
	if err != nil {
		return 0, err
	}
	return tempoMap(s)[0].bpm, nil
}

// Meter returns the first time signature, defaulting to 4/4.
func Meter(path string) (num, denom int, err error) {
	s, err := readSMF(path)
	if err != nil {
		return 0, 0, err
	}
	firstTick := uint64(1<<63 - 1)
	num, denom = 4, 4
	for _, tr := range s.Tracks {
		var abs uint64
		for _, ev := range tr {
			abs += uint64(ev.Delta)
			var n, d uint8
			if ev.Message.GetMetaMeter(&n, &d) && abs < firstTick {
				firstTick = abs
				num, denom = int(n), int(d)
			}
		}
	}
	return num, denom, nil
}
