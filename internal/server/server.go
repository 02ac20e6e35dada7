package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"timeline/internal/document"
	"timeline/internal/domain"
	"timeline/internal/engine"
	"timeline/internal/metrics"
	"timeline/internal/repo"
	"timeline/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Metrics  *Metrics
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"conflict"`
	Message string         `json:"message" example:"project \"app\" already exists; merge to replace it"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"id\":\"app\"}"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Timeline API under BasePath and
// Prometheus metrics at /metrics.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine.Store == nil {
		return nil, errors.New("server: engine has no store")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(cfg.Engine.Store)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(cfg.Metrics.middleware)
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	router.Handle("/metrics", cfg.Metrics.Handler())
	hcfg := huma.DefaultConfig("Timeline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{engine: cfg.Engine, metrics: cfg.Metrics, log: cfg.Logger}
	registerDocs(router, basePath)
	registerHealth(group)
	h.registerProjects(group)
	h.registerImport(group)
	h.registerAnalytics(group)
	h.registerEvents(group)
	h.registerReload(group)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

type handlers struct {
	engine  engine.Engine
	metrics *Metrics
	log     *slog.Logger
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
	var ve *document.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), map[string]any{"path": ve.Path})
	}
	var pe *document.ParseError
	if errors.As(err, &pe) {
		return newAPIError(http.StatusBadRequest, "parse_error", err.Error(), nil)
	}
	var ce *store.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), map[string]any{"id": ce.ID, "read_only": ce.ReadOnly})
	}
	if errors.Is(err, engine.ErrReadOnly) {
		return newAPIError(http.StatusConflict, "read_only", err.Error(), nil)
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
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
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var oasJSON []byte
	oasPath := path.Join(basePath, "openapi.json")
	r.Get(oasPath, func(w http.ResponseWriter, r *http.Request) {
		if oasJSON == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas)
			oasJSON, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(oasJSON)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

// applyAuthSecurity marks mutating operations as bearer protected; reads are public.
func applyAuthSecurity(oas *huma.OpenAPI) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Post, item.Put, item.Patch, item.Delete} {
			if op != nil {
				op.Security = security
			}
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Timeline API Docs</title>
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
      Imports and removals require Authorization: Bearer &lt;token&gt; when a JWT secret is configured.
    </p>
  </body>
</html>`, specURL)
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

type filterQuery struct {
	Status   string `query:"status" doc:"project status or all"`
	Priority string `query:"priority" doc:"priority or all"`
	Search   string `query:"search" doc:"case-insensitive match on name and description"`
}

func (q filterQuery) filter() store.Filter {
	return store.Filter{Status: q.Status, Priority: q.Priority, Search: q.Search}
}

// resolveNow accepts an RFC 3339 instant or a calendar date; empty means the
// engine clock.
func (h handlers) resolveNow(raw string) (time.Time, huma.StatusError) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return h.engine.Clock(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := domain.ParseDate(raw); err == nil {
		return t, nil
	}
	return time.Time{}, newAPIError(http.StatusBadRequest, "bad_request", "invalid now", map[string]any{"now": raw})
}

func (h handlers) registerProjects(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, input *filterQuery) (*struct {
		Body paginatedProjects `json:"body"`
	}, error) {
		items := h.engine.List(input.filter())
		return &struct {
			Body paginatedProjects `json:"body"`
		}{Body: paginatedProjects{Items: mapProjects(h.engine.Store, items), Total: len(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		data, err := h.engine.Get(input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(h.engine.Store, data)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-project",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}",
		Summary:     "Remove an imported project",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body engine.RemoveResult `json:"body"`
	}, error) {
		res, err := h.engine.Remove(ctx, input.ProjectID, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.RemoveResult `json:"body"`
		}{Body: res}, nil
	})
}

func (h handlers) registerImport(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "import-project",
		Method:        http.MethodPost,
		Path:          "/projects/import",
		Summary:       "Import a project document",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body ImportRequest `json:"body"`
	}) (*struct {
		Body engine.ImportResult `json:"body"`
	}, error) {
		mode := engine.Mode(input.Body.Mode)
		res, err := h.engine.Import(ctx, []byte(input.Body.Document), mode, actorFromContext(ctx))
		if err != nil {
			h.metrics.importResult(importFailure(err))
			return nil, handleError(err)
		}
		h.metrics.importResult(string(res.Outcome))
		return &struct {
			Body engine.ImportResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-project",
		Method:      http.MethodPost,
		Path:        "/projects/validate",
		Summary:     "Validate a project document without storing it",
	}, func(ctx context.Context, input *struct {
		Body ValidateRequest `json:"body"`
	}) (*struct {
		Body ValidateResponse `json:"body"`
	}, error) {
		data, err := document.ValidateAndParse([]byte(input.Body.Document))
		resp := ValidateResponse{Valid: err == nil}
		if err != nil {
			resp.Error = err.Error()
			var ve *document.ValidationError
			if errors.As(err, &ve) {
				resp.Path = ve.Path
			}
		} else {
			resp.Project = &data
		}
		return &struct {
			Body ValidateResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func importFailure(err error) string {
	var ce *store.ConflictError
	if errors.As(err, &ce) {
		return "conflict"
	}
	var ve *document.ValidationError
	var pe *document.ParseError
	if errors.As(err, &ve) || errors.As(err, &pe) {
		return "rejected"
	}
	return "error"
}

func (h handlers) registerAnalytics(api huma.API) {
	type projectNow struct {
		ProjectID string `path:"project_id"`
		Now       string `query:"now" doc:"RFC 3339 instant or YYYY-MM-DD; defaults to the server clock"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "project-report",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/report",
		Summary:     "Health, forecast, timeline and milestones for one project",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *projectNow) (*struct {
		Body metrics.Report `json:"body"`
	}, error) {
		now, herr := h.resolveNow(input.Now)
		if herr != nil {
			return nil, herr
		}
		report, err := h.engine.Report(input.ProjectID, now)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body metrics.Report `json:"body"`
		}{Body: report}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-activity",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/activity",
		Summary:     "Derived activity log, newest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []metrics.Activity `json:"body"`
	}, error) {
		data, err := h.engine.Get(input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []metrics.Activity `json:"body"`
		}{Body: nonNilSlice(metrics.ActivityLog(data))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "monthly-hours",
		Method:      http.MethodGet,
		Path:        "/hours",
		Summary:     "Planned and spent hours per month",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		filterQuery
		Now string `query:"now"`
	}) (*struct {
		Body []metrics.MonthSummary `json:"body"`
	}, error) {
		now, herr := h.resolveNow(input.Now)
		if herr != nil {
			return nil, herr
		}
		return &struct {
			Body []metrics.MonthSummary `json:"body"`
		}{Body: nonNilSlice(h.engine.MonthlyHours(input.filter(), now))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "summary",
		Method:      http.MethodGet,
		Path:        "/summary",
		Summary:     "Hour totals and status counts",
	}, func(ctx context.Context, input *filterQuery) (*struct {
		Body metrics.Summary `json:"body"`
	}, error) {
		return &struct {
			Body metrics.Summary `json:"body"`
		}{Body: h.engine.Summary(input.filter())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "gantt",
		Method:      http.MethodGet,
		Path:        "/gantt",
		Summary:     "Gantt rows at project or task level",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		filterQuery
		Level string `query:"level" enum:"project,task" default:"project"`
		Now   string `query:"now"`
	}) (*struct {
		Body []metrics.GanttRow `json:"body"`
	}, error) {
		now, herr := h.resolveNow(input.Now)
		if herr != nil {
			return nil, herr
		}
		level := metrics.GanttLevel(input.Level)
		if !level.Valid() {
			level = metrics.GanttProjects
		}
		return &struct {
			Body []metrics.GanttRow `json:"body"`
		}{Body: nonNilSlice(h.engine.Gantt(input.filter(), level, now))}, nil
	})
}

func (h handlers) registerEvents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent journal events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
		Type      string `query:"type"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := h.engine.Journal(ctx, limit+1, cursorID, repo.EventFilter{ProjectID: input.ProjectID, Type: input.Type})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func (h handlers) registerReload(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "reload-seeds",
		Method:      http.MethodPost,
		Path:        "/reload",
		Summary:     "Re-read the built-in projects",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		if err := h.engine.Reload(ctx, actorFromContext(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: map[string]int{"projects": h.engine.Store.Len()}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
