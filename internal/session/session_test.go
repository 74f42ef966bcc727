package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTokenProvider(t *testing.T) {
	p := NewTokenProvider("hunter2")

	t.Run("bearer_header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/captures", nil)
		r.Header.Set("Authorization", "Bearer hunter2")
		if !p.Validate(r) {
			t.Fatalf("Validate() = false for matching bearer token")
		}
	})

	t.Run("cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/captures", nil)
		r.AddCookie(&http.Cookie{Name: "pagevault_session", Value: "hunter2"})
		if !p.Validate(r) {
			t.Fatalf("Validate() = false for matching cookie")
		}
	})

	t.Run("wrong_token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/captures", nil)
		r.Header.Set("Authorization", "Bearer hunter3")
		if p.Validate(r) {
			t.Fatalf("Validate() = true for wrong token")
		}
	})

	t.Run("no_credentials", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/captures", nil)
		if p.Validate(r) {
			t.Fatalf("Validate() = true without credentials")
		}
	})

	t.Run("case_insensitive_scheme", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/captures", nil)
		r.Header.Set("Authorization", "bearer hunter2")
		if !p.Validate(r) {
			t.Fatalf("Validate() = false for lowercase scheme")
		}
	})

	t.Run("empty_token_rejects_all", func(t *testing.T) {
		empty := NewTokenProvider("")
		r := httptest.NewRequest(http.MethodPost, "/api/v1/captures", nil)
		r.Header.Set("Authorization", "Bearer ")
		if empty.Validate(r) {
			t.Fatalf("Validate() = true on unconfigured provider")
		}
	})
}
