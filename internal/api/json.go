package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/midiops"
	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/pipeline"
	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/styfile"
	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/synth"
)

const maxJSONBytes = 1 << 20

func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxJSONBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string, details ...string) {
	resp := errorResponse{Error: msg}
	if len(details) > 0 {
		resp.Details = details[0]
	}
	writeJSON(w, status, resp)
}

// writePipelineError maps render pipeline failures onto the HTTP error
// taxonomy without leaking internals for plain 500s.
func writePipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrInvalidLabel):
		writeError(w, http.StatusBadRequest, "unknown section label", err.Error())
	case errors.Is(err, midiops.ErrSectionNotFound):
		writeError(w, http.StatusNotFound, "section not present in style", err.Error())
	case errors.Is(err, styfile.ErrNoMIDIHeader):
		writeError(w, http.StatusUnprocessableEntity, "style file has no embedded MIDI")
	case errors.Is(err, synth.ErrRender):
		writeError(w, http.StatusInternalServerError, "audio synthesis failed", err.Error())
	case errors.Is(err, synth.ErrTrim):
		writeError(w, http.StatusInternalServerError, "audio post-processing failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "section preparation failed")
	}
}
