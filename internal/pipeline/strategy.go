package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/execx"
	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/midiops"
)

// Extractor cuts one labeled section out of a full style MIDI and
// writes it as a standalone file. Returns the section duration in
// seconds. A label not present in the file is midiops.ErrSectionNotFound.
type Extractor interface {
	ExtractSection(ctx context.Context, fullMid, dstMid, label string) (float64, error)
}

// Normalizer hoists the style's setup state (tempo, bank selects,
// program changes) to tick zero of an already cut section so it plays
// correctly in isolation.
type Normalizer interface {
	Normalize(ctx context.Context, midPath string) error
}

// NativeExtractor cuts sections in-process.
type NativeExtractor struct{}

func (NativeExtractor) ExtractSection(ctx context.Context, fullMid, dstMid, label string) (float64, error) {
	return midiops.CutSection(fullMid, dstMid, label)
}

// NativeNormalizer rewrites the section in-process.
type NativeNormalizer struct{}

func (NativeNormalizer) Normalize(ctx context.Context, midPath string) error {
	return midiops.NormalizeAtZero(midPath)
}

// ScriptExtractor shells out to the legacy python cutter. The script
// prints the section duration as its last stdout line; exit code 2
// means the label does not exist in the style.
type ScriptExtractor struct {
	PythonBin string
	Script    string
	Runner    *execx.Runner
	Log       *logrus.Logger
}

func (e *ScriptExtractor) ExtractSection(ctx context.Context, fullMid, dstMid, label string) (float64, error) {
	res, err := e.Runner.Run(ctx, execx.Command{
		Bin:  e.PythonBin,
		Args: []string{e.Script, fullMid, dstMid, label},
	})
	if err != nil {
		var xe *execx.ExitError
		if errors.As(err, &xe) && xe.Code == 2 {
			return 0, fmt.Errorf("%w: %s", midiops.ErrSectionNotFound, label)
		}
		return 0, fmt.Errorf("extract script: %w", err)
	}
	if sec, perr := strconv.ParseFloat(res.LastStdoutLine(), 64); perr == nil && sec > 0 {
		return sec, nil
	}
	e.Log.WithField("mid", dstMid).Warn("⚠️ extract script printed no duration, probing file")
	return midiops.Duration(dstMid)
}

// ScriptNormalizer shells out to the legacy python normalizer, which
// rewrites the file in place.
type ScriptNormalizer struct {
	PythonBin string
	Script    string
	Runner    *execx.Runner
}

func (n *ScriptNormalizer) Normalize(ctx context.Context, midPath string) error {
	_, err := n.Runner.Run(ctx, execx.Command{
		Bin:  n.PythonBin,
		Args: []string{n.Script, midPath},
	})
	if err != nil {
		return fmt.Errorf("normalize script: %w", err)
	}
	return nil
}
