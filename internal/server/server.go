// Package server exposes the HTTP API: agent processing, project
// lifecycle, report generation and the inbound webhook.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"auditflow/internal/agent"
	"auditflow/internal/clickup"
	"auditflow/internal/events"
	"auditflow/internal/orchestrator"
	"auditflow/internal/repo"
	"auditflow/internal/signature"
	"auditflow/internal/webhook"
)

// Version reported by the status endpoint.
const Version = "2.0.0"

// Config for the HTTP API handler.
type Config struct {
	Agent    *agent.Agent
	Orch     *orchestrator.Orchestrator
	Gen      agent.ContentGenerator
	Repo     repo.Repo
	Events   events.Writer
	Hooks    *webhook.Sender
	Codec    *signature.Codec
	Tracker  *clickup.Client
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"project not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Auditflow API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Repo))
	hcfg := huma.DefaultConfig("Auditflow API", Version)
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg)
	registerAgent(group, cfg)
	registerProjects(group, cfg)
	registerReports(group, cfg)
	registerEvents(group, cfg)
	registerWebhooks(group, cfg)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, orchestrator.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, orchestrator.ErrNotActive):
		return newAPIError(http.StatusConflict, "project_not_active", err.Error(), nil)
	case errors.Is(err, agent.ErrInactive):
		return newAPIError(http.StatusConflict, "agent_stopped", err.Error(), nil)
	case errors.Is(err, agent.ErrBadMode),
		errors.Is(err, agent.ErrBadThreshold),
		errors.Is(err, agent.ErrEmptyInput),
		errors.Is(err, agent.ErrUnknownCommand),
		errors.Is(err, orchestrator.ErrEmptyName),
		errors.Is(err, orchestrator.ErrUnknownKind),
		errors.Is(err, webhook.ErrUnknownChannel):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.Is(err, webhook.ErrQueueFull):
		return newAPIError(http.StatusServiceUnavailable, "queue_full", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// withTx runs fn in a single transaction so a state change and its
// event log entry land together or not at all.
func withTx(ctx context.Context, cfg Config, fn func(tx *sql.Tx) error) error {
	tx, err := cfg.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// recordEvent appends to the event log outside any caller transaction.
// Failures are logged, never surfaced: the API response already
// happened or is about to.
func recordEvent(ctx context.Context, cfg Config, evtType, entityKind, entityID, actorID string, payload events.EventPayload) {
	tx, err := cfg.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		log.Error().Err(err).Str("type", evtType).Msg("event log begin failed")
		return
	}
	defer tx.Rollback()
	if err := cfg.Events.Append(ctx, tx, evtType, entityKind, entityID, actorID, payload); err != nil {
		log.Error().Err(err).Str("type", evtType).Msg("event log append failed")
		return
	}
	if err := tx.Commit(); err != nil {
		log.Error().Err(err).Str("type", evtType).Msg("event log commit failed")
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var doc []byte
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		if doc == nil {
			doc, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func swaggerHTML(basePath string) string {
	docURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Auditflow API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, docURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Service status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		body := map[string]any{
			"service":       "auditflow",
			"version":       Version,
			"agent":         cfg.Agent.Status(),
			"projects":      cfg.Orch.Metrics(),
			"ai_configured": cfg.Gen != nil,
		}
		if cfg.Hooks != nil {
			body["webhooks"] = cfg.Hooks.Stats()
		}
		if cfg.Tracker != nil {
			body["tracker_configured"] = cfg.Tracker.Configured()
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: body}, nil
	})
}
