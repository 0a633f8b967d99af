package api

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/auth"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req RegisterRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Email == "" || len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "username, email and a password of at least 8 chars required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "hash failed")
		return
	}

	var userID string
	err = s.DB.QueryRow(r.Context(),
		`INSERT INTO users (username, email, password_hash) VALUES ($1,$2,$3) RETURNING id`,
		req.Username, req.Email, hash,
	).Scan(&userID)
	if err != nil {
		// unique violation etc.
		writeError(w, http.StatusBadRequest, "could not create user (maybe email exists)")
		return
	}

	token, err := auth.SignJWT(userID, s.Cfg.JWTSecret)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "jwt failed")
		return
	}
	writeJSON(w, http.StatusCreated, AuthResponse{
		Token: token,
		User:  UserResponse{ID: userID, Username: req.Username, Email: req.Email},
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req LoginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password required")
		return
	}

	var userID, username, hash string
	err := s.DB.QueryRow(r.Context(),
		`SELECT id, username, password_hash FROM users WHERE email=$1`,
		req.Email,
	).Scan(&userID, &username, &hash)
	if err != nil || !auth.CheckPassword(hash, req.Password) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := auth.SignJWT(userID, s.Cfg.JWTSecret)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "jwt failed")
		return
	}
	writeJSON(w, http.StatusOK, AuthResponse{
		Token: token,
		User:  UserResponse{ID: userID, Username: username, Email: req.Email},
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var u UserResponse
	err := s.DB.QueryRow(r.Context(),
		`SELECT id, username, email FROM users WHERE id=$1`,
		userID,
	).Scan(&u.ID, &u.Username, &u.Email)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

const oauthStateCookie = "oauth_state"

func (s *Server) handleGoogleRedirect(w http.ResponseWriter, r *http.Request) {
	if s.Cfg.GoogleClientID == "" {
		writeError(w, http.StatusServiceUnavailable, "google oauth not configured")
		return
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		writeError(w, http.StatusInternalServerError, "state generation failed")
		return
	}
	state := hex.EncodeToString(buf)
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/api/auth/google",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
	})

	oc := auth.GoogleOAuthConfig(s.Cfg.GoogleClientID, s.Cfg.GoogleClientSecret, s.Cfg.OAuthRedirectURL)
	http.Redirect(w, r, oc.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

func (s *Server) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	cookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || cookie.Value != state {
		writeError(w, http.StatusBadRequest, "oauth state mismatch")
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing code")
		return
	}

	oc := auth.GoogleOAuthConfig(s.Cfg.GoogleClientID, s.Cfg.GoogleClientSecret, s.Cfg.OAuthRedirectURL)
	gu, err := auth.ExchangeGoogleCode(r.Context(), oc, code)
	if err != nil {
		s.Log.WithError(err).Warn("⚠️ google code exchange failed")
		writeError(w, http.StatusUnauthorized, "google authentication failed")
		return
	}

	email := strings.TrimSpace(strings.ToLower(gu.Email))
	username := gu.Name
	if username == "" {
		username = email
	}

	var userID string
	err = s.DB.QueryRow(r.Context(),
		`INSERT INTO users (username, email, password_hash)
		 VALUES ($1,$2,'')
		 ON CONFLICT (email) DO UPDATE SET username = users.username
		 RETURNING id`,
		username, email,
	).Scan(&userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not upsert user")
		return
	}

	token, err := auth.SignJWT(userID, s.Cfg.JWTSecret)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "jwt failed")
		return
	}
	writeJSON(w, http.StatusOK, AuthResponse{
		Token: token,
		User:  UserResponse{ID: userID, Username: username, Email: email},
	})
}
