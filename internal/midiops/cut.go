package midiops

import (
	"fmt"
	"sort"
	"strings"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

type markerEvent struct {
	tick  uint64
	label string
}

// sectionMarkers returns marker metas only (section starts) and the wider
// marker/text/cuepoint set (section ends), both sorted by tick.
func sectionMarkers(s *smf.SMF) (starts, all []markerEvent) {
	seen := map[string]bool{}
	for _, tr := range s.Tracks {
		var abs uint64
		for _, ev := range tr {
			abs += uint64(ev.Delta)
			var text string
			switch {
			case ev.Message.GetMetaMarker(&text):
				if key := markerKey(abs, text, "marker"); !seen[key] {
					seen[key] = true
					starts = append(starts, markerEvent{tick: abs, label: strings.TrimSpace(text)})
					all = append(all, markerEvent{tick: abs, label: strings.TrimSpace(text)})
				}
			case ev.Message.GetMetaText(&text):
				if key := markerKey(abs, text, "text"); !seen[key] {
					seen[key] = true
					all = append(all, markerEvent{tick: abs, label: strings.TrimSpace(text)})
				}
			case ev.Message.GetMetaCuepoint(&text):
				if key := markerKey(abs, text, "cue"); !seen[key] {
					seen[key] = true
					all = append(all, markerEvent{tick: abs, label: strings.TrimSpace(text)})
				}
			}
		}
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].tick < starts[j].tick })
	sort.Slice(all, func(i, j int) bool { return all[i].tick < all[j].tick })
	return starts, all
}

func markerKey(tick uint64, text, kind string) string {
	return fmt.Sprintf("%s|%s|%d", kind, strings.TrimSpace(text), tick)
}

// labelsEqual folds case, underscores and duplicate spaces so a style
// whose markers read "MAIN_A" still matches the canonical "Main A".
func labelsEqual(a, b string) bool {
	fold := func(s string) string {
		return strings.ToLower(strings.Join(strings.Fields(strings.ReplaceAll(s, "_", " ")), " "))
	}
	return fold(a) == fold(b)
}

// sectionBounds finds [start, end) ticks for a label: start at the first
// marker equal to the label, end at the first meta event strictly after it
// (any kind), falling back to the end of the file.
func sectionBounds(s *smf.SMF, label string) (start, end uint64, ok bool) {
	starts, all := sectionMarkers(s)
	found := false
	for _, m := range starts {
		if labelsEqual(m.label, label) {
			start = m.tick
			found = true
			break
		}
	}
	if !found {
		return 0, 0, false
	}
	end = endTick(s)
	for _, m := range all {
		if m.tick > start {
			end = m.tick
			break
		}
	}
	if end <= start {
		end = start + 1
	}
	return start, end, true
}

// trackState is everything established before the section window that the
// cut file must replay at tick zero to sound right in isolation.
type trackState struct {
	metas   []midi.Message // tempo, time signature, key signature, in order seen
	sysex   []midi.Message
	bankMSB map[uint8]uint8
	bankLSB map[uint8]uint8
	program map[uint8]uint8
}

func newTrackState() *trackState {
	return &trackState{
		bankMSB: map[uint8]uint8{},
		bankLSB: map[uint8]uint8{},
		program: map[uint8]uint8{},
	}
}

func (st *trackState) observe(msg smf.Message) {
	var bpm float64
	var n, d uint8
	if msg.GetMetaTempo(&bpm) || msg.GetMetaMeter(&n, &d) || msg.Is(smf.MetaKeySigMsg) {
		st.metas = append(st.metas, midi.Message(msg))
		return
	}
	var data []byte
	if msg.GetSysEx(&data) {
		st.sysex = append(st.sysex, midi.Message(msg))
		return
	}
	var ch, cc, val uint8
	if msg.GetControlChange(&ch, &cc, &val) {
		if cc == 0 {
			st.bankMSB[ch] = val
		}
		if cc == 32 {
			st.bankLSB[ch] = val
		}
		return
	}
	var prog uint8
	if msg.GetProgramChange(&ch, &prog) {
		st.program[ch] = prog
	}
}

func (st *trackState) emit(dst *smf.Track) {
	for _, m := range st.sysex {
		dst.Add(0, m)
	}
	for _, m := range st.metas {
		dst.Add(0, m)
	}
	for ch := uint8(0); ch < 16; ch++ {
		if v, ok := st.bankMSB[ch]; ok {
			dst.Add(0, midi.ControlChange(ch, 0, v))
		}
		if v, ok := st.bankLSB[ch]; ok {
			dst.Add(0, midi.ControlChange(ch, 32, v))
		}
		if p, ok := st.program[ch]; ok {
			dst.Add(0, midi.ProgramChange(ch, p))
		}
	}
}

func isSectionMeta(msg smf.Message) bool {
	var text string
	return msg.GetMetaMarker(&text) || msg.GetMetaText(&text) || msg.GetMetaCuepoint(&text)
}

// CutSection writes the [start, end) window of the named section to
// dstPath and returns its duration in seconds. Pre-window instrument and
// tempo state is injected at tick zero, dangling notes are closed at the
// window end, and the marker metas themselves are stripped.
func CutSection(srcPath, dstPath, label string) (float64, error) {
	s, err := readSMF(srcPath)
	if err != nil {
		return 0, err
	}
	start, end, ok := sectionBounds(s, label)
	if !ok {
		return 0, ErrSectionNotFound
	}

	out := smf.New()
	out.TimeFormat = s.TimeFormat

	for _, src := range s.Tracks {
		var dst smf.Track
		state := newTrackState()
		pending := map[[2]uint8]bool{} // (channel, key) of open notes

		var abs uint64
		inWindow := false
		lastEmit := start

		for _, ev := range src {
			abs += uint64(ev.Delta)

			if abs < start {
				state.observe(ev.Message)
			}
			if abs >= end {
				break
			}
			if abs < start {
				continue
			}

			if !inWindow {
				state.emit(&dst)
				inWindow = true
				lastEmit = start
			}
			if isSectionMeta(ev.Message) || ev.Message.Is(smf.MetaEndOfTrackMsg) {
				continue
			}

			dst.Add(uint32(abs-lastEmit), midi.Message(ev.Message))
			lastEmit = abs

			var ch, key, vel uint8
			if ev.Message.GetNoteStart(&ch, &key, &vel) {
				pending[[2]uint8{ch, key}] = true
			} else if ev.Message.GetNoteEnd(&ch, &key) {
				delete(pending, [2]uint8{ch, key})
			}
		}

		if inWindow {
			for nk := range pending {
				dst.Add(uint32(end-lastEmit), midi.NoteOff(nk[0], nk[1]))
				lastEmit = end
			}
			// Sustain off, all notes off, reset controllers, placed at
			// the window end so trailing silence inside the section is
			// preserved.
			delta := uint32(end - lastEmit)
			for ch := uint8(0); ch < 16; ch++ {
				dst.Add(delta, midi.ControlChange(ch, 64, 0))
				delta = 0
				dst.Add(0, midi.ControlChange(ch, 123, 0))
				dst.Add(0, midi.ControlChange(ch, 121, 0))
			}
		}
		dst.Close(0)
		out.Add(dst)
	}

	if err := writeSMF(out, dstPath); err != nil {
		return 0, err
	}
	return Duration(dstPath)
}
