package api

import (
	"net/http"
	"os"

	"github.com/google/uuid"

	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/pipeline"
	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/section"
)

// resolveLabel picks the requested section: an explicit label wins,
// otherwise the main letter shorthand, otherwise Main A.
func resolveLabel(req *PlayerRequest) string {
	if req.Label != "" {
		return req.Label
	}
	if req.MainLetter != "" {
		return section.MainLabel(req.MainLetter)
	}
	return "Main A"
}

func (s *Server) playerBeat(w http.ResponseWriter, r *http.Request, beatID string) *pipeline.Beat {
	if _, err := uuid.Parse(beatID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid beatId")
		return nil
	}
	beat, err := s.loadBeat(r.Context(), beatID)
	if err != nil {
		writeError(w, http.StatusNotFound, "beat not found")
		return nil
	}
	return toPipelineBeat(beat)
}

func (s *Server) readPlayerRequest(w http.ResponseWriter, r *http.Request) (*PlayerRequest, *pipeline.Beat) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return nil, nil
	}
	var req PlayerRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return nil, nil
	}
	beat := s.playerBeat(w, r, req.BeatID)
	if beat == nil {
		return nil, nil
	}
	return &req, beat
}

func prepareResponse(res *pipeline.SectionResult) PrepareResponse {
	return PrepareResponse{
		WavURL:      res.URL,
		Label:       res.Label,
		DurationSec: res.DurationSec,
		Bars:        res.Bars,
		TempoBPM:    res.TempoBPM,
	}
}

func (s *Server) handlePrepareMain(w http.ResponseWriter, r *http.Request) {
	req, beat := s.readPlayerRequest(w, r)
	if req == nil {
		return
	}
	res, err := s.Pipe.PrepareSection(r.Context(), beat, resolveLabel(req))
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prepareResponse(res))
}

func (s *Server) handlePrepareAll(w http.ResponseWriter, r *http.Request) {
	req, beat := s.readPlayerRequest(w, r)
	if req == nil {
		return
	}
	outcomes := s.Pipe.PrepareAll(r.Context(), beat)

	sections := make(map[string]bool, len(outcomes))
	for _, o := range outcomes {
		sections[o.Label] = o.Err == nil
	}
	writeJSON(w, http.StatusOK, map[string]any{"sections": sections})
}

func (s *Server) handlePrepareAllSections(w http.ResponseWriter, r *http.Request) {
	req, beat := s.readPlayerRequest(w, r)
	if req == nil {
		return
	}
	outcomes := s.Pipe.PrepareAll(r.Context(), beat)
	writeJSON(w, http.StatusOK, pipeline.BuildManifest(beat, outcomes))
}

func (s *Server) handleSequencerManifest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	beat := s.playerBeat(w, r, r.URL.Query().Get("beatId"))
	if beat == nil {
		return
	}
	writeJSON(w, http.StatusOK, s.Pipe.ManifestFromCache(r.Context(), beat))
}

// handlePlaySection never renders, it only reports where an already
// prepared wav lives.
func (s *Server) handlePlaySection(w http.ResponseWriter, r *http.Request) {
	req, beat := s.readPlayerRequest(w, r)
	if req == nil {
		return
	}
	res, err := s.Pipe.CachedSection(r.Context(), beat, resolveLabel(req))
	if err != nil {
		writePipelineError(w, err)
		return
	}
	if res == nil {
		writeError(w, http.StatusNotFound, "section not rendered, call prepare first")
		return
	}
	writeJSON(w, http.StatusOK, prepareResponse(res))
}

// handleStream serves the wav bytes directly, Range requests included,
// for clients that cannot follow presigned URLs.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	beat := s.playerBeat(w, r, q.Get("beatId"))
	if beat == nil {
		return
	}
	req := &PlayerRequest{MainLetter: q.Get("mainLetter"), Label: q.Get("label")}

	res, err := s.Pipe.CachedSection(r.Context(), beat, resolveLabel(req))
	if err != nil {
		writePipelineError(w, err)
		return
	}
	if res == nil {
		writeError(w, http.StatusNotFound, "section not rendered, call prepare first")
		return
	}
	if _, err := os.Stat(res.WavPath); err != nil {
		writeError(w, http.StatusNotFound, "wav missing on server")
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	http.ServeFile(w, r, res.WavPath)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	req, beat := s.readPlayerRequest(w, r)
	if req == nil {
		return
	}
	if err := s.Pipe.Cleanup(r.Context(), beat.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "cleanup failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleaned"})
}
