package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/sirupsen/logrus"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/config"
	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/midiops"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.PanicLevel)
	return log
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		TempDir:       t.TempDir(),
		UploadDir:     t.TempDir(),
		PublicBaseURL: "http://localhost:8080",
		FFmpegBin:     "ffmpeg-not-installed",
		FFprobeBin:    "ffprobe-not-installed",
		FluidsynthBin: "fluidsynth-not-installed",
		TimidityBin:   "timidity-not-installed",
		SampleRate:    44100,
	}
}

// writeTestWAV writes seconds of silence as 16-bit mono PCM.
func writeTestWAV(t *testing.T, path string, seconds float64) {
	t.Helper()
	const rate = 8000
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           make([]int, int(seconds*rate)),
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
}

// writeSectionMid writes a minimal one-note SMF carrying the given tempo
// and time signature.
func writeSectionMid(t *testing.T, path string, num, denom uint8, bpm float64) {
	t.Helper()
	s := smf.New()
	s.TimeFormat = smf.MetricTicks(480)
	var tr smf.Track
	tr.Add(0, smf.MetaTempo(bpm))
	tr.Add(0, smf.MetaMeter(num, denom))
	tr.Add(0, midi.NoteOn(0, 60, 100))
	tr.Add(480, midi.NoteOff(0, 60))
	tr.Close(0)
	s.Add(tr)

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := s.WriteTo(f); err != nil {
		t.Fatal(err)
	}
}

type failingExtractor struct{ calls int }

func (e *failingExtractor) ExtractSection(ctx context.Context, fullMid, dstMid, label string) (float64, error) {
	e.calls++
	return 0, errors.New("extractor should not run")
}

type ctxRecordingExtractor struct {
	called    bool
	sawCancel bool
}

func (e *ctxRecordingExtractor) ExtractSection(ctx context.Context, fullMid, dstMid, label string) (float64, error) {
	e.called = true
	e.sawCancel = ctx.Err() != nil
	return 0, errors.New("stopping after context check")
}

func TestPrepareSectionInvalidLabel(t *testing.T) {
	p := New(testConfig(t), testLogger(), nil)
	beat := &Beat{ID: "b1", Tempo: 120, BeatsPerBar: 4}

	_, err := p.PrepareSection(context.Background(), beat, "Chorus 1")
	if !errors.Is(err, ErrInvalidLabel) {
		t.Fatalf("err = %v, want ErrInvalidLabel", err)
	}
}

func TestPrepareSectionServesCachedWav(t *testing.T) {
	cfg := testConfig(t)
	p := New(cfg, testLogger(), nil)
	ex := &failingExtractor{}
	p.extractor = ex

	beat := &Beat{ID: "b1", Tempo: 120, BeatsPerBar: 4, BeatUnit: 4, Filename: "x.sty"}
	writeTestWAV(t, filepath.Join(cfg.TempDir, "b1_Main_A.wav"), 2.0)

	res, err := p.PrepareSection(context.Background(), beat, "Main A")
	if err != nil {
		t.Fatalf("PrepareSection: %v", err)
	}
	if ex.calls != 0 {
		t.Errorf("extractor ran %d times for a cached section", ex.calls)
	}
	if math.Abs(res.DurationSec-2.0) > 0.01 {
		t.Errorf("DurationSec = %v, want ~2.0", res.DurationSec)
	}
	if res.Bars != 1 {
		t.Errorf("Bars = %d, want 1", res.Bars)
	}
	if !res.Role.Loop || res.Role.OneShot {
		t.Errorf("Main A role = %+v, want loop", res.Role)
	}
	if res.URL != "http://localhost:8080/temp/b1_Main_A.wav" {
		t.Errorf("URL = %q", res.URL)
	}
}

func TestPrepareSectionNormalizesLabel(t *testing.T) {
	cfg := testConfig(t)
	p := New(cfg, testLogger(), nil)
	p.extractor = &failingExtractor{}

	beat := &Beat{ID: "b1", Tempo: 100, BeatsPerBar: 4, Filename: "x.sty"}
	writeTestWAV(t, filepath.Join(cfg.TempDir, "b1_Intro_B.wav"), 2.4)

	res, err := p.PrepareSection(context.Background(), beat, "intro_b")
	if err != nil {
		t.Fatalf("PrepareSection: %v", err)
	}
	if res.Label != "Intro B" {
		t.Errorf("Label = %q, want %q", res.Label, "Intro B")
	}
	if res.Role.Loop || !res.Role.OneShot {
		t.Errorf("Intro B role = %+v, want one-shot", res.Role)
	}
}

func TestCachedSectionUsesEmbeddedMeter(t *testing.T) {
	cfg := testConfig(t)
	p := New(cfg, testLogger(), nil)
	beat := &Beat{ID: "b1", Tempo: 120, BeatsPerBar: 4, Filename: "x.sty"}

	writeTestWAV(t, filepath.Join(cfg.TempDir, "b1_Main_A.wav"), 6.0)
	writeSectionMid(t, filepath.Join(cfg.TempDir, "b1_Main_A.mid"), 3, 4, 120)

	res, err := p.CachedSection(context.Background(), beat, "Main A")
	if err != nil {
		t.Fatalf("CachedSection: %v", err)
	}
	if res == nil {
		t.Fatal("CachedSection returned nil for a rendered wav")
	}
	// A 3/4 bar at 120 BPM lasts 1.5s, so six seconds is four bars. The
	// beat row's 4/4 default would call it three.
	if res.Bars != 4 {
		t.Errorf("Bars = %d, want 4 from the section's 3/4 meter", res.Bars)
	}
}

func TestCachedSectionMeterFallsBackToBeatRow(t *testing.T) {
	cfg := testConfig(t)
	p := New(cfg, testLogger(), nil)
	beat := &Beat{ID: "b1", Tempo: 120, BeatsPerBar: 3, Filename: "x.sty"}

	// No section MIDI on disk, only the wav.
	writeTestWAV(t, filepath.Join(cfg.TempDir, "b1_Main_A.wav"), 6.0)

	res, err := p.CachedSection(context.Background(), beat, "Main A")
	if err != nil {
		t.Fatalf("CachedSection: %v", err)
	}
	if res == nil {
		t.Fatal("CachedSection returned nil for a rendered wav")
	}
	if res.Bars != 4 {
		t.Errorf("Bars = %d, want 4 from the beat row's 3 beats per bar", res.Bars)
	}
}

func TestPrepareSectionOutlivesCallerCancel(t *testing.T) {
	cfg := testConfig(t)
	p := New(cfg, testLogger(), nil)
	ex := &ctxRecordingExtractor{}
	p.extractor = ex

	beat := &Beat{ID: "b1", Tempo: 120, BeatsPerBar: 4, Filename: "x.sty"}
	if err := os.WriteFile(filepath.Join(cfg.UploadDir, "x.sty"), []byte("sty"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfg.TempDir, "b1_full.mid"), []byte("mid"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.PrepareSection(ctx, beat, "Main A"); err == nil {
		t.Fatal("expected the recording extractor's error")
	}
	if !ex.called {
		t.Fatal("extractor never ran")
	}
	if ex.sawCancel {
		t.Error("render context inherited the caller's cancellation")
	}
}

func TestFetchToFileDiscardsTruncatedDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		io.WriteString(w, "partial body")
		panic(http.ErrAbortHandler)
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "style.sty")
	if err := fetchToFile(context.Background(), srv.URL, dst); err == nil {
		t.Fatal("fetchToFile accepted a truncated body")
	}
	if _, err := os.Stat(dst); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("truncated download left a file at %s", dst)
	}
	if _, err := os.Stat(dst + ".part"); !errors.Is(err, os.ErrNotExist) {
		t.Error("temp file was not cleaned up")
	}
}

func TestFetchToFileWritesWholeBody(t *testing.T) {
	const body = "complete style bytes"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, body)
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "style.sty")
	if err := fetchToFile(context.Background(), srv.URL, dst); err != nil {
		t.Fatalf("fetchToFile: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != body {
		t.Errorf("file content = %q, want %q", got, body)
	}
}

func TestSectionOutcomeStatus(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("%w: Main C", midiops.ErrSectionNotFound), "absent"},
		{errNotCached, "absent"},
		{errors.New("fluidsynth exploded"), "failed"},
	}
	for _, c := range cases {
		o := SectionOutcome{Label: "Main C", Err: c.err}
		if got := o.Status(); got != c.want {
			t.Errorf("Status() with err %v = %q, want %q", c.err, got, c.want)
		}
	}
}

func TestQuantizeLead(t *testing.T) {
	if ms := quantizeLead(2.0); ms != 125 {
		t.Errorf("quantizeLead(2.0) = %d, want 125", ms)
	}
	if ms := quantizeLead(0.2); ms != 40 {
		t.Errorf("quantizeLead(0.2) = %d, want 40 (floor)", ms)
	}
	if ms := quantizeLead(10.0); ms != 200 {
		t.Errorf("quantizeLead(10.0) = %d, want 200 (ceiling)", ms)
	}
}

func TestBuildManifest(t *testing.T) {
	beat := &Beat{ID: "b1", Title: "Funk 120", Tempo: 110, BeatsPerBar: 4, BeatUnit: 4}
	outcomes := []SectionOutcome{
		{Label: "Intro A", Err: fmt.Errorf("%w: Intro A", midiops.ErrSectionNotFound)},
		{Label: "Main A", Result: &SectionResult{
			Label: "Main A", URL: "http://x/a.wav", DurationSec: 8.0, Bars: 4, TempoBPM: 120,
		}},
		{Label: "Main B", Err: errors.New("render blew up")},
	}

	m := BuildManifest(beat, outcomes)

	if m.BaseTempoBPM != 120 {
		t.Errorf("BaseTempoBPM = %v, want 120 (from first rendered section)", m.BaseTempoBPM)
	}
	if math.Abs(m.BarDurSec-2.0) > 1e-9 {
		t.Errorf("BarDurSec = %v, want 2.0", m.BarDurSec)
	}
	if m.QuantizeLeadMs != 125 {
		t.Errorf("QuantizeLeadMs = %d, want 125", m.QuantizeLeadMs)
	}
	if m.FillMap["Main A"] != "Fill In AA" {
		t.Errorf("FillMap[Main A] = %q", m.FillMap["Main A"])
	}
	if len(m.Sections) != 3 {
		t.Fatalf("len(Sections) = %d, want 3", len(m.Sections))
	}

	intro, mainA, mainB := m.Sections[0], m.Sections[1], m.Sections[2]
	if intro.Status != "absent" || intro.URL != "" || intro.Error != "" {
		t.Errorf("absent section = %+v", intro)
	}
	if !intro.OneShot || intro.Loop {
		t.Errorf("Intro A flags = %+v, want one-shot", intro)
	}
	if mainA.Status != "ok" || mainA.URL != "http://x/a.wav" || mainA.Bars != 4 {
		t.Errorf("ok section = %+v", mainA)
	}
	if mainA.QuantizeLeadMs != 125 {
		t.Errorf("per-section QuantizeLeadMs = %d, want 125", mainA.QuantizeLeadMs)
	}
	if !mainA.Loop || mainA.OneShot {
		t.Errorf("Main A flags = %+v, want loop", mainA)
	}
	if mainB.Status != "failed" || mainB.Error == "" {
		t.Errorf("failed section = %+v", mainB)
	}
}

func TestBuildManifestFallsBackToBeatTempo(t *testing.T) {
	beat := &Beat{ID: "b1", Tempo: 95, BeatsPerBar: 4}
	m := BuildManifest(beat, []SectionOutcome{
		{Label: "Main A", Err: errNotCached},
	})
	if m.BaseTempoBPM != 95 {
		t.Errorf("BaseTempoBPM = %v, want 95", m.BaseTempoBPM)
	}
}

func TestManifestFromCache(t *testing.T) {
	cfg := testConfig(t)
	p := New(cfg, testLogger(), nil)
	beat := &Beat{ID: "b1", Title: "T", Tempo: 120, BeatsPerBar: 4, Filename: "x.sty"}
	writeTestWAV(t, filepath.Join(cfg.TempDir, "b1_Main_A.wav"), 2.0)

	m := p.ManifestFromCache(context.Background(), beat)

	var okCount int
	for _, s := range m.Sections {
		switch s.Label {
		case "Main A":
			if s.Status != "ok" {
				t.Errorf("Main A status = %q, want ok", s.Status)
			}
			okCount++
		default:
			if s.Status != "absent" {
				t.Errorf("%s status = %q, want absent", s.Label, s.Status)
			}
		}
	}
	if okCount != 1 {
		t.Errorf("ok sections = %d, want 1", okCount)
	}
}

func TestCleanupRemovesTempArtifacts(t *testing.T) {
	cfg := testConfig(t)
	p := New(cfg, testLogger(), nil)

	for _, name := range []string{"b1_full.mid", "b1_Main_A.mid", "b1_Main_A.wav"} {
		if err := os.WriteFile(filepath.Join(cfg.TempDir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	other := filepath.Join(cfg.TempDir, "b2_Main_A.wav")
	if err := os.WriteFile(other, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := p.Cleanup(context.Background(), "b1"); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	left, err := filepath.Glob(filepath.Join(cfg.TempDir, "*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 1 || left[0] != other {
		t.Errorf("files left = %v, want only %s", left, other)
	}
}
