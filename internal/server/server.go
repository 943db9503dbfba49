package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"claimcheck/internal/domain"
	"claimcheck/internal/engine"
	"claimcheck/internal/repo"
	"claimcheck/internal/rules"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"run not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope returned by every endpoint.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Claimcheck API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Claimcheck API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerRules(group, cfg.Engine)
	registerRuns(group, cfg.Engine)
	registerFailures(group, cfg.Engine)
	registerReports(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
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
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrEmptyRecordSet) {
		return newAPIError(http.StatusUnprocessableEntity, "empty_record_set", err.Error(), nil)
	}
	if errors.Is(err, rules.ErrUnknownSeverity) || errors.Is(err, rules.ErrDuplicateRuleID) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_configuration", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
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

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{Status: "ok"}}, nil
	})
}

func registerRules(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-rules",
		Method:      http.MethodGet,
		Path:        "/rules",
		Summary:     "List registered rules",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body RulesResponse `json:"body"`
	}, error) {
		weights := e.Config.WeightTable()
		disabled := e.Config.DisabledRules()
		out := make([]RuleResponse, 0, e.Registry.Len())
		for _, r := range e.Registry.List(nil) {
			w, err := weights.Weight(r.Severity)
			if err != nil {
				return nil, handleError(err)
			}
			out = append(out, RuleResponse{
				ID:       r.ID,
				Name:     r.Name,
				Category: r.Category,
				Severity: r.Severity,
				Weight:   w,
				Enabled:  !disabled[r.ID],
			})
		}
		return &struct {
			Body RulesResponse `json:"body"`
		}{Body: RulesResponse{Rules: out}}, nil
	})
}

func registerRuns(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "start-run",
		Method:      http.MethodPost,
		Path:        "/runs",
		Summary:     "Evaluate all enabled rules against the current record set",
		Errors:      []int{http.StatusUnauthorized, http.StatusUnprocessableEntity, http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body RunResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		run, err := e.Run(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunResponse `json:"body"`
		}{Body: runResponse(run)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List past runs, most recent first",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"20" minimum:"1" maximum:"200"`
	}) (*struct {
		Body RunsResponse `json:"body"`
	}, error) {
		runs, err := e.Repo.ListRuns(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]RunResponse, 0, len(runs))
		for _, r := range runs {
			out = append(out, runResponse(r))
		}
		return &struct {
			Body RunsResponse `json:"body"`
		}{Body: RunsResponse{Runs: out}}, nil
	})
}

func registerFailures(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-failures",
		Method:      http.MethodGet,
		Path:        "/failures",
		Summary:     "List persisted validation failures",
	}, func(ctx context.Context, input *struct {
		RecordID string `query:"record_id"`
		RuleID   string `query:"rule_id"`
		Category string `query:"category"`
	}) (*struct {
		Body FailuresResponse `json:"body"`
	}, error) {
		failures, err := e.Repo.ListFailures(ctx, repo.FailureFilter{
			RecordID: input.RecordID,
			RuleID:   input.RuleID,
			Category: input.Category,
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]FailureResponse, 0, len(failures))
		for _, f := range failures {
			out = append(out, FailureResponse{
				RuleID:     f.RuleID,
				RuleName:   f.RuleName,
				Category:   f.Category,
				Severity:   f.Severity,
				RecordID:   f.RecordID,
				Reason:     f.Reason,
				DetectedAt: f.DetectedAt,
			})
		}
		return &struct {
			Body FailuresResponse `json:"body"`
		}{Body: FailuresResponse{Failures: out}}, nil
	})
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "report-rules",
		Method:      http.MethodGet,
		Path:        "/reports/rules",
		Summary:     "Per-rule failure counts and weighted impact",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body RuleSummariesResponse `json:"body"`
	}, error) {
		rows, err := e.RuleSummaries(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RuleSummariesResponse `json:"body"`
		}{Body: RuleSummariesResponse{Rules: rows}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-categories",
		Method:      http.MethodGet,
		Path:        "/reports/categories",
		Summary:     "Weighted risk score per category",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CategoryRisksResponse `json:"body"`
	}, error) {
		rows, err := e.CategoryRisks(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CategoryRisksResponse `json:"body"`
		}{Body: CategoryRisksResponse{Categories: rows}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-severities",
		Method:      http.MethodGet,
		Path:        "/reports/severities",
		Summary:     "Failure counts by severity",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SeverityDistributionResponse `json:"body"`
	}, error) {
		rows, err := e.SeverityDistribution(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SeverityDistributionResponse `json:"body"`
		}{Body: SeverityDistributionResponse{Severities: rows}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-scorecard",
		Method:      http.MethodGet,
		Path:        "/reports/scorecard",
		Summary:     "Executive data quality scorecard",
		Errors:      []int{http.StatusUnprocessableEntity},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ScorecardResponse `json:"body"`
	}, error) {
		card, err := e.Scorecard(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ScorecardResponse `json:"body"`
		}{Body: ScorecardResponse{
			TotalRecords:       card.TotalRecords,
			RecordsWithIssues:  card.RecordsWithIssues,
			HighSeverityIssues: card.HighSeverityIssues,
			QualityScore:       card.QualityScore,
		}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail the append-only event log",
	}, func(ctx context.Context, input *struct {
		Limit   int   `query:"limit" default:"50" minimum:"1" maximum:"500"`
		AfterID int64 `query:"after_id" minimum:"0"`
	}) (*struct {
		Body EventsResponse `json:"body"`
	}, error) {
		var (
			events []domain.Event
			err    error
		)
		if input.AfterID > 0 {
			events, err = e.Repo.EventsAfter(ctx, input.Limit, input.AfterID)
		} else {
			events, err = e.Repo.TailEvents(ctx, input.Limit)
		}
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EventResponse, 0, len(events))
		for _, ev := range events {
			out = append(out, eventResponse(ev))
		}
		return &struct {
			Body EventsResponse `json:"body"`
		}{Body: EventsResponse{Events: out}}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
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
						Schema: &huma.Schema{
							Type: "object",
							Properties: map[string]*huma.Schema{
								"error": {
									Type: "object",
									Properties: map[string]*huma.Schema{
										"code":    {Type: "string"},
										"message": {Type: "string"},
										"details": {Type: "object"},
									},
								},
							},
						},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
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
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	healthPath := path.Join(basePath, "health")
	for p, item := range oas.Paths {
		if p == healthPath {
			continue
		}
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			op.Security = []map[string][]string{
				{"bearerAuth": {}},
				{"apiKeyAuth": {}},
			}
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join(basePath, "openapi.json")
	return `<!DOCTYPE html>
<html>
<head>
  <title>Claimcheck API</title>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
<script>
  window.onload = () => {
    window.ui = SwaggerUIBundle({
      url: '` + specURL + `',
      dom_id: '#swagger-ui',
    });
  };
</script>
</body>
</html>`
}
