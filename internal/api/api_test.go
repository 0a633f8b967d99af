package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/auth"
	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/midiops"
	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/pipeline"
	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/styfile"
	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/synth"
)

func TestResolveLabel(t *testing.T) {
	cases := []struct {
		req  PlayerRequest
		want string
	}{
		{PlayerRequest{Label: "Fill In BB"}, "Fill In BB"},
		{PlayerRequest{MainLetter: "C"}, "Main C"},
		{PlayerRequest{MainLetter: "b"}, "Main B"},
		{PlayerRequest{Label: "Intro A", MainLetter: "D"}, "Intro A"},
		{PlayerRequest{}, "Main A"},
	}
	for _, c := range cases {
		if got := resolveLabel(&c.req); got != c.want {
			t.Errorf("resolveLabel(%+v) = %q, want %q", c.req, got, c.want)
		}
	}
}

func TestAuthMiddleware(t *testing.T) {
	const secret = "test-secret"
	var gotUserID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	h := AuthMiddleware(secret, next)

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		req.Header.Set("Authorization", "Bearer not.a.jwt")
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := auth.SignJWT("user-42", secret)
		if err != nil {
			t.Fatal(err)
		}
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if gotUserID != "user-42" {
			t.Errorf("userID in context = %q, want user-42", gotUserID)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := auth.SignJWT("user-42", "other-secret")
		if err != nil {
			t.Fatal(err)
		}
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})
}

func TestWithCORS(t *testing.T) {
	origins := []string{"http://localhost:5173"}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := WithCORS(origins, next)

	t.Run("allowed origin", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/beats/public", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		h.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
			t.Errorf("Allow-Origin = %q", got)
		}
	})

	t.Run("unknown origin", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/beats/public", nil)
		req.Header.Set("Origin", "http://evil.example")
		h.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Allow-Origin = %q, want empty", got)
		}
	})

	t.Run("preflight", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodOptions, "/api/beats/upload", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Errorf("preflight status = %d, want 204", rec.Code)
		}
	})
}

type fakeStore struct {
	putKey  string
	putType string
}

func (f *fakeStore) Upload(ctx context.Context, key, srcPath, contentType string) error { return nil }
func (f *fakeStore) Download(ctx context.Context, key, dstPath string) error            { return nil }
func (f *fakeStore) DeletePrefix(ctx context.Context, prefix string) error              { return nil }
func (f *fakeStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://bucket.example/" + key, nil
}
func (f *fakeStore) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	f.putKey, f.putType = key, contentType
	return "https://bucket.example/" + key + "?signed", nil
}

func TestSignedUploadURL(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	post := func(body string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/uploads/signed-url", strings.NewReader(body))
		return req.WithContext(context.WithValue(req.Context(), userIDKey, "user-42"))
	}

	t.Run("signs a bucket key under the user's prefix", func(t *testing.T) {
		store := &fakeStore{}
		s := &Server{Log: log, Store: store}
		rec := httptest.NewRecorder()
		s.handleSignedUploadURL(rec, post(`{"filename":"funk.sty","mime_type":"application/octet-stream"}`))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
		}
		var resp signedURLResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("body not json: %v", err)
		}
		if !strings.HasPrefix(resp.ObjectKey, "uploads/user-42/") || !strings.HasSuffix(resp.ObjectKey, ".sty") {
			t.Errorf("ObjectKey = %q", resp.ObjectKey)
		}
		if resp.SignedPutURL == "" || !strings.Contains(resp.SignedPutURL, resp.ObjectKey) {
			t.Errorf("SignedPutURL = %q", resp.SignedPutURL)
		}
		if store.putType != "application/octet-stream" {
			t.Errorf("presigned content type = %q", store.putType)
		}
	})

	t.Run("storage not configured", func(t *testing.T) {
		s := &Server{Log: log}
		rec := httptest.NewRecorder()
		s.handleSignedUploadURL(rec, post(`{"filename":"funk.sty","mime_type":"application/octet-stream"}`))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})

	t.Run("rejects non-style extension", func(t *testing.T) {
		s := &Server{Log: log, Store: &fakeStore{}}
		rec := httptest.NewRecorder()
		s.handleSignedUploadURL(rec, post(`{"filename":"track.mp3","mime_type":"audio/mpeg"}`))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("rejects get", func(t *testing.T) {
		s := &Server{Log: log, Store: &fakeStore{}}
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/uploads/signed-url", nil)
		req = req.WithContext(context.WithValue(req.Context(), userIDKey, "user-42"))
		s.handleSignedUploadURL(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", rec.Code)
		}
	})

	t.Run("no user in context", func(t *testing.T) {
		s := &Server{Log: log, Store: &fakeStore{}}
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/uploads/signed-url",
			strings.NewReader(`{"filename":"funk.sty","mime_type":"application/octet-stream"}`))
		s.handleSignedUploadURL(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})
}

func TestWritePipelineError(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: %q", pipeline.ErrInvalidLabel, "Chorus"), http.StatusBadRequest},
		{fmt.Errorf("%w: Main D", midiops.ErrSectionNotFound), http.StatusNotFound},
		{styfile.ErrNoMIDIHeader, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: boom", synth.ErrRender), http.StatusInternalServerError},
		{fmt.Errorf("%w: boom", synth.ErrTrim), http.StatusInternalServerError},
		{errors.New("something else"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		writePipelineError(rec, c.err)
		if rec.Code != c.status {
			t.Errorf("status for %v = %d, want %d", c.err, rec.Code, c.status)
		}
		var body errorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("body not json: %v", err)
		}
		if body.Error == "" {
			t.Errorf("empty error field for %v", c.err)
		}
	}
}
