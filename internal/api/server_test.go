package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pagevault/pagevault/internal/capture"
	"github.com/pagevault/pagevault/internal/session"
	"github.com/pagevault/pagevault/internal/store"
	"github.com/pagevault/pagevault/internal/vault"
)

type stubService struct {
	outcome *vault.Outcome
	err     error
	calls   int
	lastURL string
}

func (s *stubService) CaptureURL(ctx context.Context, rawURL string, forceRefresh bool) (*vault.Outcome, error) {
	s.calls++
	s.lastURL = rawURL
	if s.err != nil {
		return nil, s.err
	}
	return s.outcome, nil
}

func newTestServer(t *testing.T, svc Service) (http.Handler, *store.Store) {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New() error: %v", err)
	}
	return NewServer(svc, st, session.NewTokenProvider("tok")), st
}

func doJSON(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		r.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestCaptureEndpoint(t *testing.T) {
	outcome := &vault.Outcome{Path: "example.com_page_12345678", ResourceCount: 3, Method: vault.MethodFull, Title: "Example"}

	t.Run("requires_session", func(t *testing.T) {
		svc := &stubService{outcome: outcome}
		h, _ := newTestServer(t, svc)

		w := doJSON(t, h, http.MethodPost, "/api/v1/captures", "", `{"url":"https://example.com/page"}`)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", w.Code)
		}
		if svc.calls != 0 {
			t.Fatalf("unauthenticated request reached the service")
		}

		w = doJSON(t, h, http.MethodPost, "/api/v1/captures", "wrong", `{"url":"https://example.com/page"}`)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d for bad token, want 401", w.Code)
		}
	})

	t.Run("success", func(t *testing.T) {
		svc := &stubService{outcome: outcome}
		h, _ := newTestServer(t, svc)

		w := doJSON(t, h, http.MethodPost, "/api/v1/captures", "tok", `{"url":"https://example.com/page","force_refresh":true}`)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
		}
		if svc.lastURL != "https://example.com/page" {
			t.Fatalf("service got url %q", svc.lastURL)
		}

		var resp struct {
			Success       bool   `json:"success"`
			Path          string `json:"path"`
			Cached        bool   `json:"cached"`
			ResourceCount int    `json:"resource_count"`
			Method        string `json:"method"`
			Title         string `json:"title"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if !resp.Success || resp.Path != outcome.Path || resp.Method != "playwright" || resp.ResourceCount != 3 {
			t.Fatalf("response = %+v", resp)
		}
	})

	t.Run("validation_error_maps_to_400", func(t *testing.T) {
		svc := &stubService{err: &capture.CodedError{Code: capture.CodeValidation, Message: "url is required"}}
		h, _ := newTestServer(t, svc)

		w := doJSON(t, h, http.MethodPost, "/api/v1/captures", "tok", `{"url":""}`)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})

	t.Run("capture_error_maps_to_500", func(t *testing.T) {
		svc := &stubService{err: &capture.CodedError{Code: capture.CodeCaptureFailed, Message: "tab crashed"}}
		h, _ := newTestServer(t, svc)

		w := doJSON(t, h, http.MethodPost, "/api/v1/captures", "tok", `{"url":"https://example.com/page"}`)
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want 500", w.Code)
		}
	})
}

func TestValidateEndpoint(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	h, _ := newTestServer(t, &stubService{})

	t.Run("requires_session", func(t *testing.T) {
		w := doJSON(t, h, http.MethodPost, "/api/v1/validate", "", `{"url":"https://example.com"}`)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", w.Code)
		}
	})

	t.Run("reachable", func(t *testing.T) {
		w := doJSON(t, h, http.MethodPost, "/api/v1/validate", "tok", `{"url":"`+target.URL+`"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
		}
		var resp struct {
			Valid  bool   `json:"valid"`
			Status int    `json:"status"`
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if !resp.Valid || resp.Status != http.StatusOK {
			t.Fatalf("response = %+v", resp)
		}
	})

	t.Run("bad_format", func(t *testing.T) {
		w := doJSON(t, h, http.MethodPost, "/api/v1/validate", "tok", `{"url":"not a url"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		var resp struct {
			Valid  bool   `json:"valid"`
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if resp.Valid || resp.Reason == "" {
			t.Fatalf("response = %+v", resp)
		}
	})

	t.Run("unreachable_host", func(t *testing.T) {
		w := doJSON(t, h, http.MethodPost, "/api/v1/validate", "tok", `{"url":"http://127.0.0.1:1/"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		var resp struct {
			Valid bool `json:"valid"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if resp.Valid {
			t.Fatalf("unreachable host reported valid")
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	h, _ := newTestServer(t, &stubService{})

	// health stays open without a session
	w := doJSON(t, h, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestServeEndpoints(t *testing.T) {
	h, st := newTestServer(t, &stubService{})

	staged, err := st.Stage("https://example.com/page")
	if err != nil {
		t.Fatalf("Stage() error: %v", err)
	}
	if _, err := staged.AddResource("https://example.com/m.css", []byte("body{}"), "text/css"); err != nil {
		t.Fatalf("AddResource() error: %v", err)
	}
	if err := staged.WriteIndex([]byte("<html><body>page</body></html>")); err != nil {
		t.Fatalf("WriteIndex() error: %v", err)
	}
	dirID := staged.DirID()
	if err := staged.Publish(); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	t.Run("replay_is_open_without_session", func(t *testing.T) {
		w := doJSON(t, h, http.MethodGet, "/serve/"+dirID+"/m.css", "", "")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		if got := w.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/css") {
			t.Fatalf("Content-Type = %q", got)
		}
		if got := w.Header().Get("Cache-Control"); got != "public, max-age=86400" {
			t.Fatalf("Cache-Control = %q", got)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Fatalf("Access-Control-Allow-Origin = %q", got)
		}
	})

	t.Run("bare_directory_serves_index", func(t *testing.T) {
		for _, path := range []string{"/serve/" + dirID, "/serve/" + dirID + "/"} {
			w := doJSON(t, h, http.MethodGet, path, "", "")
			if w.Code != http.StatusOK {
				t.Fatalf("GET %s status = %d", path, w.Code)
			}
			if !strings.Contains(w.Body.String(), "page") {
				t.Fatalf("GET %s body = %s", path, w.Body.String())
			}
			if got := w.Header().Get("X-Frame-Options"); got != "SAMEORIGIN" {
				t.Fatalf("X-Frame-Options = %q", got)
			}
		}
	})

	t.Run("traversal_rejected", func(t *testing.T) {
		w := doJSON(t, h, http.MethodGet, "/serve/"+dirID+"/../../etc/passwd", "", "")
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})

	t.Run("missing_file_404", func(t *testing.T) {
		w := doJSON(t, h, http.MethodGet, "/serve/"+dirID+"/absent.css", "", "")
		if w.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", w.Code)
		}
		w = doJSON(t, h, http.MethodGet, "/serve/unknown_dir_00000000", "", "")
		if w.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", w.Code)
		}
	})
}
