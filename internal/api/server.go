// Package api is the HTTP surface: auth, beat CRUD and the player
// endpoints that drive the render pipeline.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/config"
	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/pipeline"
	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/storage"
)

type Server struct {
	Cfg   *config.Config
	DB    *pgxpool.Pool
	Log   *logrus.Logger
	Pipe  *pipeline.Pipeline
	Store storage.ObjectStore
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Public
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.HandleFunc("/api/auth/google", s.handleGoogleRedirect)
	mux.HandleFunc("/api/auth/google/callback", s.handleGoogleCallback)
	mux.HandleFunc("/api/player/ping", s.handlePing)

	// Rendered artifacts for local playback
	mux.Handle("/temp/", http.StripPrefix("/temp/",
		http.FileServer(http.Dir(s.Cfg.TempDir))))

	// Protected (wrap individual handlers)
	jwt := s.Cfg.JWTSecret
	mux.Handle("/api/auth/me", AuthMiddleware(jwt, http.HandlerFunc(s.handleMe)))
	mux.Handle("/api/beats/upload", AuthMiddleware(jwt, http.HandlerFunc(s.handleBeatUpload)))
	mux.Handle("/api/beats/public", AuthMiddleware(jwt, http.HandlerFunc(s.handleBeatsPublic)))
	mux.Handle("/api/beats/me", AuthMiddleware(jwt, http.HandlerFunc(s.handleBeatsMine)))
	mux.Handle("/api/beats/", AuthMiddleware(jwt, http.HandlerFunc(s.handleBeatByID)))
	mux.Handle("/api/uploads/signed-url", AuthMiddleware(jwt, http.HandlerFunc(s.handleSignedUploadURL)))

	mux.Handle("/api/player/prepare-main", AuthMiddleware(jwt, http.HandlerFunc(s.handlePrepareMain)))
	mux.Handle("/api/player/prepare-all", AuthMiddleware(jwt, http.HandlerFunc(s.handlePrepareAll)))
	mux.Handle("/api/player/prepare-all-sections", AuthMiddleware(jwt, http.HandlerFunc(s.handlePrepareAllSections)))
	mux.Handle("/api/player/sequencer-manifest", AuthMiddleware(jwt, http.HandlerFunc(s.handleSequencerManifest)))
	mux.Handle("/api/player/play-section", AuthMiddleware(jwt, http.HandlerFunc(s.handlePlaySection)))
	mux.Handle("/api/player/stream", AuthMiddleware(jwt, http.HandlerFunc(s.handleStream)))
	mux.Handle("/api/player/cleanup", AuthMiddleware(jwt, http.HandlerFunc(s.handleCleanup)))

	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.DB.Ping(ctx); err != nil {
		http.Error(w, "db not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
