package synth

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/go-audio/wav"

	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/execx"
)

const silenceThreshold = "-50dB"

// BarDuration is the length of one bar in seconds.
func BarDuration(bpm float64, beatsPerBar int) float64 {
	return 60.0 / bpm * float64(beatsPerBar)
}

// QuantizeBars rounds a raw duration to the nearest whole number of bars,
// flooring at one bar so that a short clip never collapses to zero.
func QuantizeBars(rawSec, barSec float64) (bars int, target float64) {
	if barSec <= 0 {
		return 1, rawSec
	}
	bars = int(math.Round(rawSec / barSec))
	if bars < 1 {
		bars = 1
	}
	return bars, float64(bars) * barSec
}

// trimCmd strips silence from both ends: reverse, cut leading silence of
// the reversed signal (i.e. trailing silence), reverse back, cut true
// leading silence.
func trimCmd(bin, inPath, outPath string) execx.Command {
	filter := strings.Join([]string{
		"areverse",
		"silenceremove=start_periods=1:start_threshold=" + silenceThreshold,
		"areverse",
		"silenceremove=start_periods=1:start_threshold=" + silenceThreshold,
	}, ",")
	return execx.Command{
		Bin:  bin,
		Args: []string{"-y", "-i", inPath, "-af", filter, outPath},
	}
}

// cutCmd hard-cuts the wav to exactly targetSec seconds of 16-bit PCM.
func cutCmd(bin, inPath, outPath string, targetSec float64, sampleRate int) execx.Command {
	return execx.Command{
		Bin: bin,
		Args: []string{
			"-y", "-i", inPath,
			"-t", strconv.FormatFloat(targetSec, 'f', 3, 64),
			"-acodec", "pcm_s16le",
			"-ar", strconv.Itoa(sampleRate),
			outPath,
		},
	}
}

func probeCmd(bin, wavPath string) execx.Command {
	return execx.Command{
		Bin: bin,
		Args: []string{
			"-v", "error",
			"-show_entries", "format=duration",
			"-of", "default=noprint_wrappers=1:nokey=1",
			wavPath,
		},
	}
}

// ProbeDuration asks ffprobe for the wav duration, falling back to
// decoding the file header when ffprobe is missing or unparseable.
func (s *Synth) ProbeDuration(ctx context.Context, wavPath string) (float64, error) {
	res, err := s.runner.Run(ctx, probeCmd(s.cfg.FFprobeBin, wavPath))
	if err == nil {
		if sec, perr := strconv.ParseFloat(res.LastStdoutLine(), 64); perr == nil && sec > 0 {
			return sec, nil
		}
	}
	return wavFileDuration(wavPath)
}

func wavFileDuration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()
	d, err := wav.NewDecoder(f).Duration()
	if err != nil {
		return 0, fmt.Errorf("decode wav duration: %w", err)
	}
	return d.Seconds(), nil
}

// TrimAndQuantize removes leading/trailing silence and cuts the wav to a
// whole number of bars at the section's own tempo, replacing the file in
// place. Returns the final duration.
func (s *Synth) TrimAndQuantize(ctx context.Context, wavPath string, bpm float64, beatsPerBar int) (float64, error) {
	trimmed := wavPath + ".trim.wav"
	defer os.Remove(trimmed)

	if _, err := s.runner.Run(ctx, trimCmd(s.cfg.FFmpegBin, wavPath, trimmed)); err != nil {
		return 0, fmt.Errorf("%w: silence trim: %v", ErrTrim, err)
	}

	rawSec, err := s.ProbeDuration(ctx, trimmed)
	if err != nil {
		return 0, fmt.Errorf("%w: probe: %v", ErrTrim, err)
	}

	barSec := BarDuration(bpm, beatsPerBar)
	bars, targetSec := QuantizeBars(rawSec, barSec)
	s.log.WithFields(map[string]interface{}{
		"raw":  rawSec,
		"bars": bars,
		"cut":  targetSec,
	}).Debug("✂️ quantizing to bar boundary")

	cut := wavPath + ".cut.wav"
	defer os.Remove(cut)
	if _, err := s.runner.Run(ctx, cutCmd(s.cfg.FFmpegBin, trimmed, cut, targetSec, s.cfg.SampleRate)); err != nil {
		return 0, fmt.Errorf("%w: bar cut: %v", ErrTrim, err)
	}
	if err := os.Rename(cut, wavPath); err != nil {
		return 0, fmt.Errorf("%w: replace wav: %v", ErrTrim, err)
	}
	return targetSec, nil
}
