package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/pagevault/pagevault/internal/fetch"
)

func registerCaptureHandlers(api huma.API, svc Service) {
	type captureInput struct {
		Body struct {
			URL          string `json:"url" doc:"Page to capture"`
			ForceRefresh bool   `json:"force_refresh,omitempty" doc:"Discard any existing capture and re-render"`
		}
	}
	type captureOutput struct {
		Body struct {
			Success       bool   `json:"success"`
			Path          string `json:"path" doc:"Directory id of the capture, replayed under /serve/"`
			Cached        bool   `json:"cached"`
			ResourceCount int    `json:"resource_count"`
			Method        string `json:"method" enum:"playwright,playwright-partial,playwright-emergency,fallback"`
			Title         string `json:"title,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "capture-page", Method: http.MethodPost, Path: "/api/v1/captures", Summary: "Capture a page snapshot", Tags: []string{"Capture"}},
		func(ctx context.Context, input *captureInput) (*captureOutput, error) {
			outcome, err := svc.CaptureURL(ctx, input.Body.URL, input.Body.ForceRefresh)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &captureOutput{}
			out.Body.Success = true
			out.Body.Path = outcome.Path
			out.Body.Cached = outcome.Cached
			out.Body.ResourceCount = outcome.ResourceCount
			out.Body.Method = outcome.Method
			out.Body.Title = outcome.Title
			return out, nil
		})
}

func registerValidateHandlers(api huma.API) {
	type validateInput struct {
		Body struct {
			URL string `json:"url" doc:"URL to check for format and reachability"`
		}
	}
	type validateOutput struct {
		Body struct {
			Valid  bool   `json:"valid"`
			Status int    `json:"status,omitempty" doc:"HTTP status of the HEAD probe"`
			Reason string `json:"reason,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "validate-url", Method: http.MethodPost, Path: "/api/v1/validate", Summary: "Validate a URL before capturing", Tags: []string{"Capture"}},
		func(ctx context.Context, input *validateInput) (*validateOutput, error) {
			out := &validateOutput{}

			raw := strings.TrimSpace(input.Body.URL)
			parsed, err := url.Parse(raw)
			if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
				out.Body.Reason = "url must be absolute http or https"
				return out, nil
			}

			status, err := fetch.Head(ctx, raw, 10*time.Second)
			if err != nil {
				out.Body.Reason = "host not reachable"
				return out, nil
			}
			out.Body.Status = status
			out.Body.Valid = status < 400
			if !out.Body.Valid {
				out.Body.Reason = "host responded with an error status"
			}
			return out, nil
		})
}

func registerHealthHandlers(api huma.API) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})
}
