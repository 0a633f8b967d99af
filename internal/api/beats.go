package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/pipeline"
	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/styfile"
)

const maxUploadBytes = 50 << 20 // 50 MB

// Yamaha keyboards write several container flavors, all MIDI inside.
var allowedStyleExts = map[string]bool{
	".sty": true,
	".prs": true,
	".bcs": true,
	".sst": true,
}

func (s *Server) ensureBeatOwnership(ctx context.Context, userID, beatID string) error {
	var exists bool
	err := s.DB.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM beats WHERE id=$1 AND user_id=$2)`,
		beatID, userID,
	).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return errors.New("not found")
	}
	return nil
}

func (s *Server) loadBeat(ctx context.Context, beatID string) (*BeatResponse, error) {
	var b BeatResponse
	var desc, url *string
	err := s.DB.QueryRow(ctx,
		`SELECT id, user_id, title, tempo, beats_per_bar, beat_unit, description, filename, url, created_at
		 FROM beats WHERE id=$1`,
		beatID,
	).Scan(&b.ID, &b.UserID, &b.Title, &b.Tempo, &b.BeatsPerBar, &b.BeatUnit, &desc, &b.Filename, &url, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	if desc != nil {
		b.Description = *desc
	}
	if url != nil {
		b.URL = *url
	}
	return &b, nil
}

func toPipelineBeat(b *BeatResponse) *pipeline.Beat {
	return &pipeline.Beat{
		ID:          b.ID,
		Title:       b.Title,
		Tempo:       b.Tempo,
		BeatsPerBar: b.BeatsPerBar,
		BeatUnit:    b.BeatUnit,
		Filename:    b.Filename,
		URL:         b.URL,
	}
}

// saveStyleUpload validates and persists one uploaded style file,
// returning the generated filename. The container must carry an
// embedded MIDI chunk or the upload is rejected outright.
func (s *Server) saveStyleUpload(r *http.Request) (string, int, error) {
	file, header, err := r.FormFile("beat")
	if err != nil {
		return "", http.StatusBadRequest, errors.New("file field 'beat' required")
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedStyleExts[ext] {
		return "", http.StatusBadRequest, errors.New("unsupported style file type")
	}

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		return "", http.StatusInternalServerError, errors.New("read upload failed")
	}
	if len(data) > maxUploadBytes {
		return "", http.StatusBadRequest, errors.New("file too large")
	}
	if _, err := styfile.ExtractEmbeddedMIDI(data); err != nil {
		return "", http.StatusUnprocessableEntity, errors.New("style file has no embedded MIDI")
	}

	filename := uuid.New().String() + ext
	dst := filepath.Join(s.Cfg.UploadDir, filename)
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", http.StatusInternalServerError, errors.New("store upload failed")
	}

	if s.Pipe != nil {
		s.Pipe.MirrorStyle(r.Context(), filename, dst)
	}
	return filename, 0, nil
}

func (s *Server) handleBeatUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID, _ := UserIDFromContext(r.Context())

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "bad multipart form")
		return
	}

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		writeError(w, http.StatusBadRequest, "title required")
		return
	}
	tempo := formInt(r, "tempo", 120)
	beatsPerBar := formInt(r, "beats_per_bar", 4)
	beatUnit := formInt(r, "beat_unit", 4)
	if tempo < 30 || tempo > 300 {
		writeError(w, http.StatusBadRequest, "tempo out of range")
		return
	}
	if beatsPerBar < 1 || beatsPerBar > 12 {
		writeError(w, http.StatusBadRequest, "beats_per_bar out of range")
		return
	}
	description := strings.TrimSpace(r.FormValue("description"))

	filename, status, err := s.saveStyleUpload(r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	var b BeatResponse
	err = s.DB.QueryRow(r.Context(),
		`INSERT INTO beats (user_id, title, tempo, beats_per_bar, beat_unit, description, filename)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 RETURNING id, created_at`,
		userID, title, tempo, beatsPerBar, beatUnit, description, filename,
	).Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "insert failed")
		return
	}

	b.UserID = userID
	b.Title = title
	b.Tempo = tempo
	b.BeatsPerBar = beatsPerBar
	b.BeatUnit = beatUnit
	b.Description = description
	b.Filename = filename
	s.Log.WithField("beat", b.ID).Info("🥁 style uploaded")
	writeJSON(w, http.StatusCreated, b)
}

func formInt(r *http.Request, field string, fallback int) int {
	v := strings.TrimSpace(r.FormValue(field))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func (s *Server) listBeats(w http.ResponseWriter, r *http.Request, query string, args ...any) {
	rows, err := s.DB.Query(r.Context(), query, args...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	defer rows.Close()

	out := []BeatResponse{}
	for rows.Next() {
		var b BeatResponse
		var desc, url *string
		if err := rows.Scan(&b.ID, &b.UserID, &b.Title, &b.Tempo, &b.BeatsPerBar, &b.BeatUnit, &desc, &b.Filename, &url, &b.CreatedAt); err != nil {
			writeError(w, http.StatusInternalServerError, "scan failed")
			return
		}
		if desc != nil {
			b.Description = *desc
		}
		if url != nil {
			b.URL = *url
		}
		out = append(out, b)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBeatsPublic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.listBeats(w, r,
		`SELECT id, user_id, title, tempo, beats_per_bar, beat_unit, description, filename, url, created_at
		 FROM beats ORDER BY created_at DESC`)
}

func (s *Server) handleBeatsMine(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID, _ := UserIDFromContext(r.Context())
	s.listBeats(w, r,
		`SELECT id, user_id, title, tempo, beats_per_bar, beat_unit, description, filename, url, created_at
		 FROM beats WHERE user_id=$1 ORDER BY created_at DESC`, userID)
}

func (s *Server) handleBeatByID(w http.ResponseWriter, r *http.Request) {
	beatID := strings.TrimPrefix(r.URL.Path, "/api/beats/")
	beatID = strings.TrimSuffix(beatID, "/")
	if beatID == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}
	if _, err := uuid.Parse(beatID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid uuid")
		return
	}
	userID, _ := UserIDFromContext(r.Context())

	switch r.Method {
	case http.MethodGet:
		s.handleBeatDownload(w, r, beatID)
	case http.MethodPut:
		s.handleBeatUpdate(w, r, userID, beatID)
	case http.MethodDelete:
		s.handleBeatDelete(w, r, userID, beatID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleBeatDownload streams the raw .sty back. Any authenticated user
// may fetch any style, the catalog is shared.
func (s *Server) handleBeatDownload(w http.ResponseWriter, r *http.Request, beatID string) {
	beat, err := s.loadBeat(r.Context(), beatID)
	if err != nil {
		writeError(w, http.StatusNotFound, "beat not found")
		return
	}
	path := filepath.Join(s.Cfg.UploadDir, beat.Filename)
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "style file missing on server")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+beat.Filename+`"`)
	http.ServeFile(w, r, path)
}

func (s *Server) handleBeatUpdate(w http.ResponseWriter, r *http.Request, userID, beatID string) {
	if err := s.ensureBeatOwnership(r.Context(), userID, beatID); err != nil {
		writeError(w, http.StatusForbidden, "not your beat")
		return
	}

	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		s.handleBeatReplaceFile(w, r, beatID)
		return
	}

	var req UpdateBeatRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if req.Tempo != nil && (*req.Tempo < 30 || *req.Tempo > 300) {
		writeError(w, http.StatusBadRequest, "tempo out of range")
		return
	}

	_, err := s.DB.Exec(r.Context(),
		`UPDATE beats SET
		   title         = COALESCE($2, title),
		   tempo         = COALESCE($3, tempo),
		   beats_per_bar = COALESCE($4, beats_per_bar),
		   beat_unit     = COALESCE($5, beat_unit),
		   description   = COALESCE($6, description)
		 WHERE id=$1`,
		beatID, req.Title, req.Tempo, req.BeatsPerBar, req.BeatUnit, req.Description,
	)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}

	beat, err := s.loadBeat(r.Context(), beatID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reload failed")
		return
	}
	writeJSON(w, http.StatusOK, beat)
}

// handleBeatReplaceFile swaps the style file and metadata in one shot.
// Cached renders of the old file are stale, so they go too.
func (s *Server) handleBeatReplaceFile(w http.ResponseWriter, r *http.Request, beatID string) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "bad multipart form")
		return
	}

	old, err := s.loadBeat(r.Context(), beatID)
	if err != nil {
		writeError(w, http.StatusNotFound, "beat not found")
		return
	}

	filename, status, err := s.saveStyleUpload(r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	tempo := formInt(r, "tempo", old.Tempo)
	beatsPerBar := formInt(r, "beats_per_bar", old.BeatsPerBar)
	beatUnit := formInt(r, "beat_unit", old.BeatUnit)
	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		title = old.Title
	}

	_, err = s.DB.Exec(r.Context(),
		`UPDATE beats SET title=$2, tempo=$3, beats_per_bar=$4, beat_unit=$5, filename=$6 WHERE id=$1`,
		beatID, title, tempo, beatsPerBar, beatUnit, filename,
	)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}

	_ = s.Pipe.Cleanup(r.Context(), beatID)
	s.Pipe.DeleteStyleBlob(r.Context(), toPipelineBeat(old))

	beat, err := s.loadBeat(r.Context(), beatID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reload failed")
		return
	}
	s.Log.WithField("beat", beatID).Info("🔄 style file replaced")
	writeJSON(w, http.StatusOK, beat)
}

func (s *Server) handleBeatDelete(w http.ResponseWriter, r *http.Request, userID, beatID string) {
	if err := s.ensureBeatOwnership(r.Context(), userID, beatID); err != nil {
		writeError(w, http.StatusForbidden, "not your beat")
		return
	}

	beat, err := s.loadBeat(r.Context(), beatID)
	if err != nil {
		writeError(w, http.StatusNotFound, "beat not found")
		return
	}

	_ = s.Pipe.Cleanup(r.Context(), beatID)
	s.Pipe.DeleteStyleBlob(r.Context(), toPipelineBeat(beat))

	if _, err := s.DB.Exec(r.Context(), `DELETE FROM beats WHERE id=$1`, beatID); err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	s.Log.WithField("beat", beatID).Info("🗑️ beat deleted")
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
