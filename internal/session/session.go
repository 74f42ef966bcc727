// Package session abstracts the identity provider. The capture engine only
// asks whether a request carries a valid session; issuing and storing
// sessions belongs to an external system.
package session

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Provider reports whether a request carries a valid authenticated session.
type Provider interface {
	Validate(r *http.Request) bool
}

// TokenProvider validates requests against a single shared bearer token.
// An empty token rejects everything, so an unconfigured server never
// exposes the capture endpoint.
type TokenProvider struct {
	token string
}

func NewTokenProvider(token string) *TokenProvider {
	return &TokenProvider{token: token}
}

func (p *TokenProvider) Validate(r *http.Request) bool {
	if p.token == "" {
		return false
	}
	presented := bearerToken(r)
	if presented == "" {
		if c, err := r.Cookie("pagevault_session"); err == nil {
			presented = c.Value
		}
	}
	if presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(p.token)) == 1
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}
