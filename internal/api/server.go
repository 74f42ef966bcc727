package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pagevault/pagevault/internal/capture"
	"github.com/pagevault/pagevault/internal/session"
	"github.com/pagevault/pagevault/internal/store"
	"github.com/pagevault/pagevault/internal/vault"
)

// Service is the capture surface the API exposes.
type Service interface {
	CaptureURL(ctx context.Context, rawURL string, forceRefresh bool) (*vault.Outcome, error)
}

// NewServer assembles the HTTP handler: JSON endpoints through huma, the
// static replay surface as a raw chi route.
func NewServer(svc Service, st *store.Store, sessions session.Provider) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)
	router.Use(sessionGuard(sessions))

	cfg := huma.DefaultConfig("Pagevault API", "1.0.0")
	api := humachi.New(router, cfg)

	registerCaptureHandlers(api, svc)
	registerValidateHandlers(api)
	registerHealthHandlers(api)

	router.Get(store.ServeRoot+"{dir}/*", serveCapture(st))
	router.Get(store.ServeRoot+"{dir}", serveCaptureIndex(st))

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *capture.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case capture.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case capture.CodeBrowserLaunch:
			return huma.Error500InternalServerError("browser could not be launched", errors.New(coded.Message))
		case capture.CodeCaptureFailed:
			return huma.Error500InternalServerError("capture failed", errors.New(coded.Message))
		}
	}
	if errors.Is(err, store.ErrNotFound) {
		return huma.Error404NotFound("capture not found")
	}
	if errors.Is(err, store.ErrPathTraversal) {
		return huma.Error400BadRequest("invalid path")
	}
	return huma.Error500InternalServerError(err.Error())
}
