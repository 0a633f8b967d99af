package pipeline

import (
	"context"
	"fmt"

	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/midiops"
	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/section"
	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/synth"
)

// a cache miss is reported like a section missing from the style
var errNotCached = fmt.Errorf("%w: not rendered", midiops.ErrSectionNotFound)

// Manifest is the client sequencer contract: everything a player needs
// to schedule loops and one-shots on bar boundaries without touching
// MIDI itself.
type Manifest struct {
	BeatID         string            `json:"beatId"`
	Title          string            `json:"title"`
	BaseTempoBPM   float64           `json:"baseTempoBpm"`
	BeatsPerBar    int               `json:"beatsPerBar"`
	BeatUnit       int               `json:"beatUnit"`
	BarDurSec      float64           `json:"barDurSec"`
	QuantizeLeadMs int               `json:"quantizeLeadMs"`
	FillMap        map[string]string `json:"fillMap"`
	Sections       []ManifestSection `json:"sections"`
}

type ManifestSection struct {
	Label          string  `json:"label"`
	Status         string  `json:"status"` // ok | absent | failed
	URL            string  `json:"url,omitempty"`
	Loop           bool    `json:"loop"`
	OneShot        bool    `json:"oneShot"`
	DurationSec    float64 `json:"durationSec,omitempty"`
	Bars           int     `json:"bars,omitempty"`
	QuantizeLeadMs int     `json:"quantizeLeadMs,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// quantizeLead is the scheduling lead the client should leave before a
// bar boundary, a sixteenth of a bar clamped to sane wall-clock bounds.
func quantizeLead(barSec float64) int {
	ms := int(barSec * 1000 / 16)
	if ms < 40 {
		ms = 40
	}
	if ms > 200 {
		ms = 200
	}
	return ms
}

// BuildManifest assembles the sequencer manifest from a PrepareAll run.
// The base tempo comes from the first rendered section, since the style
// MIDI is authoritative over whatever was typed at upload time.
func BuildManifest(beat *Beat, outcomes []SectionOutcome) *Manifest {
	baseBPM := float64(beat.Tempo)
	for _, o := range outcomes {
		if o.Err == nil && o.Result != nil && o.Result.TempoBPM > 0 {
			baseBPM = o.Result.TempoBPM
			break
		}
	}
	barSec := synth.BarDuration(baseBPM, beat.BeatsPerBar)

	m := &Manifest{
		BeatID:         beat.ID,
		Title:          beat.Title,
		BaseTempoBPM:   baseBPM,
		BeatsPerBar:    beat.BeatsPerBar,
		BeatUnit:       beat.BeatUnit,
		BarDurSec:      barSec,
		QuantizeLeadMs: quantizeLead(barSec),
		FillMap:        section.FillMap(),
		Sections:       make([]ManifestSection, 0, len(outcomes)),
	}

	for _, o := range outcomes {
		role := section.Classify(o.Label)
		ms := ManifestSection{
			Label:   o.Label,
			Status:  o.Status(),
			Loop:    role.Loop,
			OneShot: role.OneShot,
		}
		if o.Err == nil && o.Result != nil {
			ms.URL = o.Result.URL
			ms.DurationSec = o.Result.DurationSec
			ms.Bars = o.Result.Bars
			// lead follows the section's own tempo when it differs
			ms.QuantizeLeadMs = quantizeLead(synth.BarDuration(o.Result.TempoBPM, beat.BeatsPerBar))
		} else if ms.Status == "failed" {
			ms.Error = o.Err.Error()
		}
		m.Sections = append(m.Sections, ms)
	}
	return m
}

// ManifestFromCache rebuilds a manifest from already rendered wavs
// without triggering any synthesis. Labels with no cached wav are
// reported absent.
func (p *Pipeline) ManifestFromCache(ctx context.Context, beat *Beat) *Manifest {
	outcomes := make([]SectionOutcome, 0, len(section.AllLabels))
	for _, label := range section.AllLabels {
		if res := p.cachedResult(ctx, beat, label); res != nil {
			outcomes = append(outcomes, SectionOutcome{Label: label, Result: res})
		} else {
			outcomes = append(outcomes, SectionOutcome{Label: label, Err: errNotCached})
		}
	}
	return BuildManifest(beat, outcomes)
}
