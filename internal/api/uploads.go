package api

import (
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const signedURLTTL = 15 * time.Minute

type signedURLRequest struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
}

type signedURLResponse struct {
	ObjectKey    string `json:"object_key"`
	SignedPutURL string `json:"signed_put_url"`
}

// handleSignedUploadURL hands out a short-lived presigned PUT so large
// style files can go straight to the bucket instead of through us.
func (s *Server) handleSignedUploadURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID, ok := UserIDFromContext(r.Context())
	if !ok || userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req signedURLRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.Filename = strings.TrimSpace(req.Filename)
	req.MimeType = strings.ToLower(strings.TrimSpace(req.MimeType))
	if req.Filename == "" || req.MimeType == "" {
		writeError(w, http.StatusBadRequest, "filename and mime_type required")
		return
	}

	ext := strings.ToLower(filepath.Ext(req.Filename))
	if !allowedStyleExts[ext] {
		writeError(w, http.StatusBadRequest, "unsupported style file type")
		return
	}

	if s.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "object storage not configured")
		return
	}

	key := "uploads/" + userID + "/" + uuid.NewString() + ext
	url, err := s.Store.PresignPut(r.Context(), key, req.MimeType, signedURLTTL)
	if err != nil {
		s.Log.WithError(err).Error("❌ presign put failed")
		writeError(w, http.StatusInternalServerError, "could not sign upload url")
		return
	}

	writeJSON(w, http.StatusOK, signedURLResponse{
		ObjectKey:    key,
		SignedPutURL: url,
	})
}
