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
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"adoptline/internal/domain"
	"adoptline/internal/engine"
	"adoptline/internal/logging"
	"adoptline/internal/progress"
	"adoptline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine         engine.Engine
	BasePath       string
	AllowedOrigins []string
	Log            *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"plan 'p1' not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"resource\":\"plan\"}"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the adoption plan API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Log
	if log == nil {
		log = logging.Discard()
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
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(log))
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}
	hcfg := huma.DefaultConfig("adoptline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerPlans(group, cfg.Engine)
	registerSync(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerTelemetry(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start))
		})
	}
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
	var ve *engine.ValidationError
	if errors.As(err, &ve) {
		details := map[string]any{}
		if ve.Field != "" {
			details["field"] = ve.Field
		}
		if ve.Value != nil {
			details["value"] = ve.Value
		}
		if len(details) == 0 {
			details = nil
		}
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), details)
	}
	var nf *engine.NotFoundError
	if errors.As(err, &nf) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), map[string]any{"resource": nf.Resource, "id": nf.ID})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var ce *engine.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), map[string]any{"plan_id": ce.PlanID})
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
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
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join("/", basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
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

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>adoptline API Docs</title>
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

type planPath struct {
	PlanID string `path:"plan_id"`
}

func registerPlans(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-plans",
		Method:      http.MethodGet,
		Path:        "/plans",
		Summary:     "List adoption plans",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		CustomerID string `query:"customer_id"`
		ProductID  string `query:"product_id"`
		NeedsSync  string `query:"needs_sync" enum:"true,false"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedPlans `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		filter := repo.PlanFilters{
			CustomerID:      input.CustomerID,
			ProductID:       input.ProductID,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		}
		if input.NeedsSync != "" {
			needs, err := strconv.ParseBool(input.NeedsSync)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "needs_sync must be true or false", nil)
			}
			filter.NeedsSync = &needs
		}
		plans, err := e.ListPlans(ctx, filter)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedPlans{Items: []domain.AdoptionPlan{}}
		if len(plans) > limit {
			plans = plans[:limit]
			last := plans[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
		}
		resp.Items = append(resp.Items, plans...)
		return &struct {
			Body paginatedPlans `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-plan",
		Method:      http.MethodGet,
		Path:        "/plans/{plan_id}",
		Summary:     "Get adoption plan",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *planPath) (*struct {
		Body domain.AdoptionPlan `json:"body"`
	}, error) {
		p, err := e.GetPlan(ctx, input.PlanID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AdoptionPlan `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-plan-tasks",
		Method:      http.MethodGet,
		Path:        "/plans/{plan_id}/tasks",
		Summary:     "List task instances of a plan",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PlanID         string `path:"plan_id"`
		IncludeRetired bool   `query:"include_retired"`
	}) (*struct {
		Body taskList `json:"body"`
	}, error) {
		tasks, err := e.ListTasks(ctx, input.PlanID, input.IncludeRetired)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body taskList `json:"body"`
		}{Body: taskList{Items: nonNilTasks(tasks)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "plan-progress",
		Method:      http.MethodGet,
		Path:        "/plans/{plan_id}/progress",
		Summary:     "Compute plan progress",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *planPath) (*struct {
		Body progress.Summary `json:"body"`
	}, error) {
		summary, err := e.ComputeProgress(ctx, input.PlanID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body progress.Summary `json:"body"`
		}{Body: summary}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "evaluate-plan",
		Method:      http.MethodPost,
		Path:        "/plans/{plan_id}/evaluate",
		Summary:     "Evaluate every live task of a plan",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusInternalServerError},
	}, func(ctx context.Context, input *planPath) (*struct {
		Body evaluationList `json:"body"`
	}, error) {
		results, err := e.EvaluatePlan(ctx, input.PlanID)
		if err != nil {
			return nil, handleError(err)
		}
		if results == nil {
			results = []engine.EvaluationResult{}
		}
		return &struct {
			Body evaluationList `json:"body"`
		}{Body: evaluationList{PlanID: input.PlanID, Items: results}}, nil
	})
}

func registerSync(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "sync-plans",
		Method:      http.MethodPost,
		Path:        "/plans/sync",
		Summary:     "Synchronize many plans",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body *BatchSyncRequest `json:"body" required:"false"`
	}) (*struct {
		Body engine.BatchReport `json:"body"`
	}, error) {
		opts := engine.BatchOptions{}
		if input.Body != nil {
			opts.PlanIDs = input.Body.PlanIDs
			opts.NeedsSyncOnly = input.Body.NeedsSyncOnly
			opts.Concurrency = input.Body.Concurrency
		}
		report, err := e.SynchronizeAll(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		if report.Results == nil {
			report.Results = []engine.BatchResult{}
		}
		return &struct {
			Body engine.BatchReport `json:"body"`
		}{Body: report}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sync-plan",
		Method:      http.MethodPost,
		Path:        "/plans/{plan_id}/sync",
		Summary:     "Synchronize a plan with its entitlement",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *planPath) (*struct {
		Body engine.SyncReport `json:"body"`
	}, error) {
		report, err := e.Synchronize(ctx, input.PlanID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.SyncReport `json:"body"`
		}{Body: report}, nil
	})
}

type taskPath struct {
	TaskID string `path:"task_id"`
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task instance",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body domain.TaskInstance `json:"body"`
	}, error) {
		t, err := e.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TaskInstance `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "evaluate-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/evaluate",
		Summary:     "Evaluate task telemetry",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusInternalServerError},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body engine.EvaluationResult `json:"body"`
	}, error) {
		res, err := e.EvaluateTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.EvaluationResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task-status",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}/status",
		Summary:     "Set task status manually",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string              `path:"task_id"`
		Body   UpdateStatusRequest `json:"body"`
	}) (*struct {
		Body domain.TaskInstance `json:"body"`
	}, error) {
		t, err := e.UpdateTaskStatus(ctx, engine.StatusUpdate{
			TaskInstanceID: input.TaskID,
			Status:         domain.Status(input.Body.Status),
			Notes:          input.Body.Notes,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TaskInstance `json:"body"`
		}{Body: t}, nil
	})
}

type attributePath struct {
	AttributeID string `path:"attribute_id"`
}

func registerTelemetry(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-telemetry",
		Method:        http.MethodPost,
		Path:          "/attributes/{attribute_id}/values",
		Summary:       "Record a telemetry value",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		AttributeID string                 `path:"attribute_id"`
		Body        RecordTelemetryRequest `json:"body"`
	}) (*struct {
		Body domain.TelemetryValue `json:"body"`
	}, error) {
		raw, err := json.Marshal(input.Body.Value)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid value", map[string]any{"error": err.Error()})
		}
		v, err := e.RecordTelemetryValue(ctx, engine.TelemetryInput{
			AttributeID: input.AttributeID,
			Value:       raw,
			Notes:       input.Body.Notes,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TelemetryValue `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-telemetry",
		Method:      http.MethodGet,
		Path:        "/attributes/{attribute_id}/values",
		Summary:     "List telemetry history, newest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AttributeID string `path:"attribute_id"`
		Limit       int    `query:"limit" default:"50"`
	}) (*struct {
		Body telemetryValueList `json:"body"`
	}, error) {
		values, err := e.ListTelemetryValues(ctx, input.AttributeID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		if values == nil {
			values = []domain.TelemetryValue{}
		}
		return &struct {
			Body telemetryValueList `json:"body"`
		}{Body: telemetryValueList{AttributeID: input.AttributeID, Items: values}}, nil
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

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
