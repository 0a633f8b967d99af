package midiops

import (
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// channelState is the first bank select / program change seen per channel.
type channelState struct {
	bankMSB *uint8
	bankLSB *uint8
	program *uint8
}

// NormalizeAtZero rewrites the file so that the first bank-select pair and
// program change of every melodic channel, plus the first tempo and time
// signature anywhere in the file, are re-emitted on a setup track at tick
// zero. A section cut from the middle of an arrangement depends on state
// set earlier in the full file; without this it plays with wrong
// instruments or at the wrong tempo. Percussion channels are skipped for
// bank/program hoisting: drum kits are bank-addressed differently and the
// renderer locks them separately.
func NormalizeAtZero(path string) error {
	s, err := readSMF(path)
	if err != nil {
		return err
	}

	states := map[uint8]*channelState{}
	var tempoMsg, meterMsg midi.Message

	for _, tr := range s.Tracks {
		for _, ev := range tr {
			var bpm float64
			if tempoMsg == nil && ev.Message.GetMetaTempo(&bpm) {
				tempoMsg = midi.Message(ev.Message)
			}
			var n, d uint8
			if meterMsg == nil && ev.Message.GetMetaMeter(&n, &d) {
				meterMsg = midi.Message(ev.Message)
			}

			var ch, cc, val uint8
			if ev.Message.GetControlChange(&ch, &cc, &val) && !drumChannels[ch] {
				st := stateFor(states, ch)
				if cc == 0 && st.bankMSB == nil {
					v := val
					st.bankMSB = &v
				}
				if cc == 32 && st.bankLSB == nil {
					v := val
					st.bankLSB = &v
				}
			}
			var prog uint8
			if ev.Message.GetProgramChange(&ch, &prog) && !drumChannels[ch] {
				st := stateFor(states, ch)
				if st.program == nil {
					p := prog
					st.program = &p
				}
			}
		}
	}

	var setup smf.Track
	if tempoMsg != nil {
		setup.Add(0, tempoMsg)
	}
	if meterMsg != nil {
		setup.Add(0, meterMsg)
	}
	// MSB before LSB before program change, per channel.
	for ch := uint8(0); ch < 16; ch++ {
		st, ok := states[ch]
		if !ok {
			continue
		}
		if st.bankMSB != nil {
			setup.Add(0, midi.ControlChange(ch, 0, *st.bankMSB))
		}
		if st.bankLSB != nil {
			setup.Add(0, midi.ControlChange(ch, 32, *st.bankLSB))
		}
		if st.program != nil {
			setup.Add(0, midi.ProgramChange(ch, *st.program))
		}
	}
	setup.Close(0)

	out := smf.New()
	out.TimeFormat = s.TimeFormat
	out.Add(setup)
	for _, tr := range s.Tracks {
		copied := make(smf.Track, len(tr))
		copy(copied, tr)
		out.Add(copied)
	}
	return writeSMF(out, path)
}

func stateFor(states map[uint8]*channelState, ch uint8) *channelState {
	st, ok := states[ch]
	if !ok {
		st = &channelState{}
		states[ch] = st
	}
	return st
}
