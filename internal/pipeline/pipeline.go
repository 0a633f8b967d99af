// Package pipeline turns an uploaded style file into playable section
// WAVs: extract the embedded MIDI, cut the requested section, normalize
// its setup state, synthesize, then trim and quantize the audio to whole
// bars. Results are cached on disk and optionally mirrored to object
// storage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/config"
	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/execx"
	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/midiops"
	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/section"
	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/storage"
	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/styfile"
	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/synth"
)

// ErrInvalidLabel is returned for labels outside the style vocabulary.
var ErrInvalidLabel = errors.New("unknown section label")

const presignTTL = time.Hour

// Beat is the slice of a beats row the pipeline needs.
type Beat struct {
	ID          string
	Title       string
	Tempo       int
	BeatsPerBar int
	BeatUnit    int
	Filename    string
	URL         string
}

// SectionResult describes one rendered, bar-quantized section.
type SectionResult struct {
	Label       string       `json:"label"`
	Role        section.Role `json:"role"`
	WavPath     string       `json:"-"`
	URL         string       `json:"url"`
	DurationSec float64      `json:"durationSec"`
	Bars        int          `json:"bars"`
	TempoBPM    float64      `json:"tempoBpm"`
}

type Pipeline struct {
	cfg        *config.Config
	log        *logrus.Logger
	extractor  Extractor
	normalizer Normalizer
	synth      *synth.Synth
	store      storage.ObjectStore

	flight singleflight.Group
}

// New wires the pipeline from config. The extractor and normalizer
// backends are chosen once at startup; store may be nil.
func New(cfg *config.Config, log *logrus.Logger, store storage.ObjectStore) *Pipeline {
	runner := execx.NewRunner()

	var ex Extractor = NativeExtractor{}
	if cfg.ExtractorBackend == "script" {
		ex = &ScriptExtractor{PythonBin: cfg.PythonBin, Script: cfg.ExtractScript, Runner: runner, Log: log}
	}
	var norm Normalizer = NativeNormalizer{}
	if cfg.NormalizerBackend == "script" {
		norm = &ScriptNormalizer{PythonBin: cfg.PythonBin, Script: cfg.NormalizeScript, Runner: runner}
	}

	return &Pipeline{
		cfg:        cfg,
		log:        log,
		extractor:  ex,
		normalizer: norm,
		synth:      synth.New(cfg, log),
		store:      store,
	}
}

func (p *Pipeline) stylePath(beat *Beat) string {
	return filepath.Join(p.cfg.UploadDir, beat.Filename)
}

func (p *Pipeline) fullMidPath(beatID string) string {
	return filepath.Join(p.cfg.TempDir, beatID+"_full.mid")
}

func (p *Pipeline) sectionMidPath(beatID, label string) string {
	return filepath.Join(p.cfg.TempDir, beatID+"_"+section.FileStem(label)+".mid")
}

func (p *Pipeline) sectionWavPath(beatID, label string) string {
	return filepath.Join(p.cfg.TempDir, beatID+"_"+section.FileStem(label)+".wav")
}

func (p *Pipeline) sectionKey(beatID, label string) string {
	return beatID + "/" + section.FileStem(label) + ".wav"
}

// sectionURL resolves where a client should fetch the wav from:
// a presigned object URL when storage is configured, the local /temp
// mount otherwise.
func (p *Pipeline) sectionURL(ctx context.Context, beatID, label string) string {
	if p.store != nil {
		u, err := p.store.PresignGet(ctx, p.sectionKey(beatID, label), presignTTL)
		if err == nil {
			return u
		}
		p.log.WithError(err).Warn("⚠️ presign failed, falling back to local url")
	}
	return p.cfg.PublicBaseURL + "/temp/" + filepath.Base(p.sectionWavPath(beatID, label))
}

// ensureStyle makes sure the raw .sty is on local disk, pulling it from
// the beat's remote URL when the upload dir was wiped (fresh deploy).
func (p *Pipeline) ensureStyle(ctx context.Context, beat *Beat) (string, error) {
	path := p.stylePath(beat)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if p.store != nil {
		if err := p.store.Download(ctx, "styles/"+beat.Filename, path); err == nil {
			return path, nil
		}
	}
	if beat.URL == "" {
		return "", fmt.Errorf("style file %s missing and no remote url", beat.Filename)
	}
	p.log.WithFields(logrus.Fields{"beat": beat.ID, "url": beat.URL}).Info("⬇️ fetching style file")
	if err := fetchToFile(ctx, beat.URL, path); err != nil {
		return "", fmt.Errorf("fetch style: %w", err)
	}
	return path, nil
}

// fetchToFile downloads through a temp name and renames on success, so
// a fetch that dies mid-body never leaves a truncated file at dstPath
// for a later os.Stat to mistake for a complete style.
func fetchToFile(ctx context.Context, rawURL, dstPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	tmp := dstPath + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dstPath)
}

// PrepareSection renders one section end to end, coalescing concurrent
// requests for the same beat+label and short-circuiting on a cached wav.
func (p *Pipeline) PrepareSection(ctx context.Context, beat *Beat, label string) (*SectionResult, error) {
	label = section.Normalize(label)
	if !section.Valid(label) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}

	// The render is shared across coalesced callers, so it must not die
	// with whichever request happened to arrive first.
	renderCtx := context.WithoutCancel(ctx)

	key := beat.ID + "|" + label
	v, err, _ := p.flight.Do(key, func() (interface{}, error) {
		return p.prepareSection(renderCtx, beat, label)
	})
	if err != nil {
		return nil, err
	}
	return v.(*SectionResult), nil
}

func (p *Pipeline) prepareSection(ctx context.Context, beat *Beat, label string) (*SectionResult, error) {
	wavPath := p.sectionWavPath(beat.ID, label)
	if cached := p.cachedResult(ctx, beat, label); cached != nil {
		return cached, nil
	}

	styPath, err := p.ensureStyle(ctx, beat)
	if err != nil {
		return nil, err
	}

	fullMid := p.fullMidPath(beat.ID)
	if _, err := os.Stat(fullMid); err != nil {
		if err := styfile.ExtractToFile(styPath, fullMid); err != nil {
			return nil, err
		}
	}

	sectionMid := p.sectionMidPath(beat.ID, label)
	if _, err := p.extractor.ExtractSection(ctx, fullMid, sectionMid, label); err != nil {
		return nil, err
	}

	if err := p.normalizer.Normalize(ctx, sectionMid); err != nil {
		// still renders, just with default patches
		p.log.WithError(err).WithField("label", label).Warn("⚠️ normalize failed, rendering as-is")
	}

	if err := p.synth.RenderToWAV(ctx, sectionMid, wavPath); err != nil {
		return nil, err
	}

	bpm := p.sectionTempo(sectionMid, beat)
	beatsPerBar := p.sectionMeter(sectionMid, beat)
	targetSec, err := p.synth.TrimAndQuantize(ctx, wavPath, bpm, beatsPerBar)
	if err != nil {
		return nil, err
	}

	bars, _ := synth.QuantizeBars(targetSec, synth.BarDuration(bpm, beatsPerBar))
	res := &SectionResult{
		Label:       label,
		Role:        section.Classify(label),
		WavPath:     wavPath,
		DurationSec: targetSec,
		Bars:        bars,
		TempoBPM:    bpm,
	}

	if p.store != nil {
		if err := p.store.Upload(ctx, p.sectionKey(beat.ID, label), wavPath, "audio/wav"); err != nil {
			p.log.WithError(err).Warn("⚠️ wav mirror upload failed, serving locally")
		}
	}
	res.URL = p.sectionURL(ctx, beat.ID, label)

	p.log.WithFields(logrus.Fields{
		"beat":  beat.ID,
		"label": label,
		"bars":  bars,
		"sec":   targetSec,
	}).Info("✅ section ready")
	return res, nil
}

// CachedSection returns the already rendered section without triggering
// any work, or nil when nothing is cached for the label.
func (p *Pipeline) CachedSection(ctx context.Context, beat *Beat, label string) (*SectionResult, error) {
	label = section.Normalize(label)
	if !section.Valid(label) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	return p.cachedResult(ctx, beat, label), nil
}

// cachedResult returns a result built from an already rendered wav, or
// nil on cache miss.
func (p *Pipeline) cachedResult(ctx context.Context, beat *Beat, label string) *SectionResult {
	wavPath := p.sectionWavPath(beat.ID, label)
	if _, err := os.Stat(wavPath); err != nil {
		return nil
	}
	dur, err := p.synth.ProbeDuration(ctx, wavPath)
	if err != nil || dur <= 0 {
		return nil
	}
	sectionMid := p.sectionMidPath(beat.ID, label)
	bpm := p.sectionTempo(sectionMid, beat)
	bars, _ := synth.QuantizeBars(dur, synth.BarDuration(bpm, p.sectionMeter(sectionMid, beat)))
	return &SectionResult{
		Label:       label,
		Role:        section.Classify(label),
		WavPath:     wavPath,
		URL:         p.sectionURL(ctx, beat.ID, label),
		DurationSec: dur,
		Bars:        bars,
		TempoBPM:    bpm,
	}
}

// sectionTempo prefers the tempo embedded in the cut section MIDI and
// falls back to the tempo stored on the beat row.
func (p *Pipeline) sectionTempo(sectionMid string, beat *Beat) float64 {
	if bpm, err := midiops.Tempo(sectionMid); err == nil && bpm > 0 {
		return bpm
	}
	return float64(beat.Tempo)
}

// sectionMeter reads beats per bar from the cut section MIDI, falling
// back to the beat row like sectionTempo does. A 6/8 style quantizes to
// very wrong bar lengths if we assume the uploader's default 4.
func (p *Pipeline) sectionMeter(sectionMid string, beat *Beat) int {
	if num, _, err := midiops.Meter(sectionMid); err == nil && num > 0 {
		return num
	}
	return beat.BeatsPerBar
}

// SectionOutcome tags one label of a PrepareAll run.
type SectionOutcome struct {
	Label  string         `json:"label"`
	Result *SectionResult `json:"result,omitempty"`
	Err    error          `json:"-"`
}

// Status distinguishes sections missing from the style (normal, most
// styles do not carry all sixteen labels) from real render failures.
func (o SectionOutcome) Status() string {
	switch {
	case o.Err == nil:
		return "ok"
	case errors.Is(o.Err, midiops.ErrSectionNotFound):
		return "absent"
	default:
		return "failed"
	}
}

// PrepareAll renders every label in the style vocabulary sequentially.
// One label failing never aborts the rest.
func (p *Pipeline) PrepareAll(ctx context.Context, beat *Beat) []SectionOutcome {
	outcomes := make([]SectionOutcome, 0, len(section.AllLabels))
	for _, label := range section.AllLabels {
		res, err := p.PrepareSection(ctx, beat, label)
		if err != nil && !errors.Is(err, midiops.ErrSectionNotFound) {
			p.log.WithError(err).WithFields(logrus.Fields{
				"beat":  beat.ID,
				"label": label,
			}).Error("❌ section render failed")
		}
		outcomes = append(outcomes, SectionOutcome{Label: label, Result: res, Err: err})
	}
	return outcomes
}

// Cleanup removes every temp artifact of a beat and, when configured,
// its mirrored wavs.
func (p *Pipeline) Cleanup(ctx context.Context, beatID string) error {
	pattern := filepath.Join(p.cfg.TempDir, beatID+"_*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}
	for _, m := range matches {
		if rmErr := os.Remove(m); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = rmErr
		}
	}
	if p.store != nil {
		if sErr := p.store.DeletePrefix(ctx, beatID+"/"); sErr != nil {
			p.log.WithError(sErr).Warn("⚠️ remote artifact cleanup failed")
		}
	}
	p.log.WithFields(logrus.Fields{"beat": beatID, "files": len(matches)}).Info("🧹 cleaned up artifacts")
	return err
}

// MirrorStyle copies a freshly uploaded style file into object storage
// so a later deploy can re-fetch it.
func (p *Pipeline) MirrorStyle(ctx context.Context, filename, srcPath string) {
	if p.store == nil {
		return
	}
	if err := p.store.Upload(ctx, "styles/"+filename, srcPath, "application/octet-stream"); err != nil {
		p.log.WithError(err).Warn("⚠️ style mirror upload failed")
	}
}

// DeleteStyleBlob removes the stored .sty from disk and the mirror.
func (p *Pipeline) DeleteStyleBlob(ctx context.Context, beat *Beat) {
	if beat.Filename == "" {
		return
	}
	if err := os.Remove(p.stylePath(beat)); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.log.WithError(err).Warn("⚠️ could not remove style file")
	}
	if p.store != nil {
		if err := p.store.DeletePrefix(ctx, "styles/"+beat.Filename); err != nil {
			p.log.WithError(err).Warn("⚠️ could not remove mirrored style file")
		}
	}
}
