package synth

import (
	"math"
	"reflect"
	"testing"
)

func TestBarDuration(t *testing.T) {
	if d := BarDuration(120, 4); math.Abs(d-2.0) > 1e-9 {
		t.Errorf("BarDuration(120, 4) = %v, want 2.0", d)
	}
	if d := BarDuration(100, 3); math.Abs(d-1.8) > 1e-9 {
		t.Errorf("BarDuration(100, 3) = %v, want 1.8", d)
	}
}

func TestQuantizeBars(t *testing.T) {
	cases := []struct {
		raw, bar float64
		bars     int
		target   float64
	}{
		{7.1, 4.0, 2, 8.0},
		{1.9, 4.0, 1, 4.0},
		{4.0, 2.0, 2, 4.0},
		{0.3, 2.0, 1, 2.0}, // shorter than half a bar still yields one bar
		{0.0, 2.0, 1, 2.0},
		{5.1, 2.0, 3, 6.0},
	}
	for _, c := range cases {
		bars, target := QuantizeBars(c.raw, c.bar)
		if bars != c.bars || math.Abs(target-c.target) > 1e-9 {
			t.Errorf("QuantizeBars(%v, %v) = (%d, %v), want (%d, %v)",
				c.raw, c.bar, bars, target, c.bars, c.target)
		}
	}
}

func TestFluidsynthCmd(t *testing.T) {
	cmd := FluidsynthCmd("fluidsynth", "/sf2/a.sf2", "/tmp/in.mid", "/tmp/out.wav", 44100)
	want := []string{
		"-ni",
		"-a", "file",
		"-F", "/tmp/out.wav",
		"-T", "wav",
		"-r", "44100",
		"-g", "1.0",
		"-o", "synth.dynamic-sample-loading=1",
		"-o", "synth.reverb.active=0",
		"-o", "synth.chorus.active=0",
		"/sf2/a.sf2",
		"/tmp/in.mid",
	}
	if cmd.Bin != "fluidsynth" || !reflect.DeepEqual(cmd.Args, want) {
		t.Errorf("FluidsynthCmd args = %v, want %v", cmd.Args, want)
	}
}

func TestTimidityCmd(t *testing.T) {
	cmd := TimidityCmd("timidity", "/sf2/a.sf2", "/tmp/in.mid", "/tmp/out.wav", 44100)
	want := []string{
		"-x", "soundfont /sf2/a.sf2",
		"-Ow",
		"-s", "44100",
		"-o", "/tmp/out.wav",
		"-EFreverb=0",
		"-EFchorus=0",
		"/tmp/in.mid",
	}
	if cmd.Bin != "timidity" || !reflect.DeepEqual(cmd.Args, want) {
		t.Errorf("TimidityCmd args = %v, want %v", cmd.Args, want)
	}
}

func TestTrimCmdFilterOrder(t *testing.T) {
	cmd := trimCmd("ffmpeg", "in.wav", "out.wav")
	want := []string{
		"-y", "-i", "in.wav",
		"-af", "areverse,silenceremove=start_periods=1:start_threshold=-50dB," +
			"areverse,silenceremove=start_periods=1:start_threshold=-50dB",
		"out.wav",
	}
	if !reflect.DeepEqual(cmd.Args, want) {
		t.Errorf("trimCmd args = %v, want %v", cmd.Args, want)
	}
}

func TestCutCmd(t *testing.T) {
	cmd := cutCmd("ffmpeg", "in.wav", "out.wav", 4.0, 44100)
	want := []string{
		"-y", "-i", "in.wav",
		"-t", "4.000",
		"-acodec", "pcm_s16le",
		"-ar", "44100",
		"out.wav",
	}
	if !reflect.DeepEqual(cmd.Args, want) {
		t.Errorf("cutCmd args = %v, want %v", cmd.Args, want)
	}
}
