// Package synth renders section MIDI to WAV through an external
// synthesizer (FluidSynth, with TiMidity as the alternate engine) and
// post-processes the result with ffmpeg.
package synth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/config"
	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/execx"
)

var (
	// ErrRender means both synthesis engines failed for a section.
	ErrRender = errors.New("audio render failed")
	// ErrTrim means ffmpeg post-processing failed.
	ErrTrim = errors.New("wav trim failed")
)

type Synth struct {
	cfg    *config.Config
	runner *execx.Runner
	log    *logrus.Logger
}

func New(cfg *config.Config, log *logrus.Logger) *Synth {
	return &Synth{cfg: cfg, runner: execx.NewRunner(), log: log}
}

// FluidsynthCmd builds the fluidsynth invocation: file driver, no
// reverb/chorus, fixed gain, 16-bit WAV.
func FluidsynthCmd(bin, sf2, midPath, wavPath string, sampleRate int) execx.Command {
	return execx.Command{
		Bin: bin,
		Args: []string{
			"-ni",
			"-a", "file",
			"-F", wavPath,
			"-T", "wav",
			"-r", strconv.Itoa(sampleRate),
			"-g", "1.0",
			"-o", "synth.dynamic-sample-loading=1",
			"-o", "synth.reverb.active=0",
			"-o", "synth.chorus.active=0",
			sf2,
			midPath,
		},
	}
}

// TimidityCmd builds the timidity invocation with an inline soundfont
// directive, so no config file has to be written.
func TimidityCmd(bin, sf2, midPath, wavPath string, sampleRate int) execx.Command {
	return execx.Command{
		Bin: bin,
		Args: []string{
			"-x", "soundfont " + sf2,
			"-Ow",
			"-s", strconv.Itoa(sampleRate),
			"-o", wavPath,
			"-EFreverb=0",
			"-EFchorus=0",
			midPath,
		},
	}
}

// engineOrder decides which engine renders first. Auto prefers
// fluidsynth but switches to timidity when the soundfont is too large to
// load into memory comfortably.
func (s *Synth) engineOrder() []string {
	switch s.cfg.SynthEngine {
	case config.EngineFluidsynth:
		return []string{config.EngineFluidsynth, config.EngineTimidity}
	case config.EngineTimidity:
		return []string{config.EngineTimidity, config.EngineFluidsynth}
	}
	if fi, err := os.Stat(s.cfg.SoundFontPath); err == nil && fi.Size() > s.cfg.SF2MaxBytes {
		s.log.WithFields(logrus.Fields{
			"sf2":   s.cfg.SoundFontPath,
			"bytes": fi.Size(),
		}).Info("📀 soundfont above size threshold, preferring timidity")
		return []string{config.EngineTimidity, config.EngineFluidsynth}
	}
	return []string{config.EngineFluidsynth, config.EngineTimidity}
}

func (s *Synth) commandFor(engine, midPath, wavPath string) execx.Command {
	if engine == config.EngineTimidity {
		return TimidityCmd(s.cfg.TimidityBin, s.cfg.SoundFontPath, midPath, wavPath, s.cfg.SampleRate)
	}
	return FluidsynthCmd(s.cfg.FluidsynthBin, s.cfg.SoundFontPath, midPath, wavPath, s.cfg.SampleRate)
}

// RenderToWAV synthesizes midPath into wavPath. The primary engine's
// failure is retried once on the other engine; both failing is fatal for
// the section.
func (s *Synth) RenderToWAV(ctx context.Context, midPath, wavPath string) error {
	var lastErr error
	for _, engine := range s.engineOrder() {
		cmd := s.commandFor(engine, midPath, wavPath)
		s.log.WithField("cmd", cmd.String()).Debug("🎶 synthesizing")
		_, err := s.runner.Run(ctx, cmd)
		if err == nil {
			if _, statErr := os.Stat(wavPath); statErr == nil {
				return nil
			}
			err = fmt.Errorf("%s exited 0 but produced no wav", engine)
		}
		s.log.WithField("engine", engine).WithError(err).Warn("⚠️ synthesis attempt failed")
		lastErr = err
	}
	return fmt.Errorf("%w: %v", ErrRender, lastErr)
}
