// Package section defines the fixed vocabulary of Yamaha style sections
// and how each one behaves in the sequencer.
package section

import (
	"regexp"
	"strings"
)

// AllLabels is the complete section vocabulary of a PSR style, in the
// order markers usually appear in the embedded MIDI.
var AllLabels = []string{
	"Intro A", "Intro B", "Intro C", "Intro D",
	"Fill In AA", "Fill In BB", "Fill In CC", "Fill In DD",
	"Main A", "Main B", "Main C", "Main D",
	"Ending A", "Ending B", "Ending C", "Ending D",
}

var (
	mainRe   = regexp.MustCompile(`^Main [A-D]$`)
	fillRe   = regexp.MustCompile(`^Fill In [A-D]{2}$`)
	introRe  = regexp.MustCompile(`^Intro [A-D]$`)
	endingRe = regexp.MustCompile(`^Ending [A-D]$`)
)

// Role tells the client sequencer how to schedule a section.
type Role struct {
	Loop    bool `json:"loop"`
	OneShot bool `json:"oneShot"`
}

// Classify pattern-matches a label into its playback role. Labels outside
// the vocabulary get neither flag; they are still playable.
func Classify(label string) Role {
	switch {
	case mainRe.MatchString(label):
		return Role{Loop: true}
	case fillRe.MatchString(label), introRe.MatchString(label), endingRe.MatchString(label):
		return Role{OneShot: true}
	default:
		return Role{}
	}
}

// Valid reports whether label belongs to the fixed vocabulary.
func Valid(label string) bool {
	for _, l := range AllLabels {
		if l == label {
			return true
		}
	}
	return false
}

// Normalize folds underscores and duplicate spaces so "Main_A" and
// " main a " both resolve to "Main A". Returns "" if the result is not
// in the vocabulary.
func Normalize(label string) string {
	folded := strings.Join(strings.Fields(strings.ReplaceAll(label, "_", " ")), " ")
	for _, l := range AllLabels {
		if strings.EqualFold(l, folded) {
			return l
		}
	}
	return ""
}

// FileStem is the label as used in temp file names: spaces replaced by
// underscores ("Fill In AA" -> "Fill_In_AA").
func FileStem(label string) string {
	return strings.ReplaceAll(label, " ", "_")
}

// MainLabel builds "Main X" from a bare letter A-D; returns "" otherwise.
func MainLabel(letter string) string {
	letter = strings.ToUpper(strings.TrimSpace(letter))
	if len(letter) != 1 || letter[0] < 'A' || letter[0] > 'D' {
		return ""
	}
	return "Main " + letter
}

// FillMap associates each Main variation with the fill-in played when
// switching to it.
func FillMap() map[string]string {
	return map[string]string{
		"Main A": "Fill In AA",
		"Main B": "Fill In BB",
		"Main C": "Fill In CC",
		"Main D": "Fill In DD",
	}
}
