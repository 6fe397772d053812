package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"inspectline/internal/document"
	"inspectline/internal/domain"
	"inspectline/internal/engine"
	"inspectline/internal/engine/auth"
	"inspectline/internal/geofence"
	"inspectline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine         engine.Engine
	BasePath       string
	Auth           AuthConfig
	Log            *zap.SugaredLogger
	AllowedOrigins []string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"mission order cannot move from draft to for inspection"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"field\":\"comment\"}"`
}

type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Inspectline API.
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
		log = zap.NewNop().Sugar()
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors are 400 bad_request.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(requestLogger(log))
	router.Use(chimw.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Api-Key", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil || r.Header.Get("Upgrade") != "" {
				next.ServeHTTP(w, r)
				return
			}
			buf, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(buf))
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), bodyBytesKey{}, buf)))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	router.Get(path.Join(basePath, "ws"), newFeed(cfg.Engine, log).serve)

	hcfg := huma.DefaultConfig("Inspectline API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerIntake(group, cfg.Engine)
	registerBusinesses(group, cfg.Engine)
	registerCases(group, cfg.Engine)
	registerMissionOrders(group, cfg.Engine)
	registerAssignments(group, cfg.Engine)
	registerActors(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	if cfg.Auth.DevLogin {
		registerDevAuth(group, cfg.Engine, cfg.Auth)
	}
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

func fieldDetails(err error) map[string]any {
	var verr *engine.ValidationError
	if errors.As(err, &verr) && verr.Field != "" {
		return map[string]any{"field": verr.Field}
	}
	return nil
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	msg := err.Error()
	switch {
	case errors.Is(err, engine.ErrMissingRationale):
		return newAPIError(http.StatusUnprocessableEntity, "missing_rationale", msg, fieldDetails(err))
	case errors.Is(err, engine.ErrNoInspectorsAssigned):
		return newAPIError(http.StatusUnprocessableEntity, "no_inspectors_assigned", msg, fieldDetails(err))
	case errors.Is(err, geofence.ErrCameraRequired):
		return newAPIError(http.StatusUnprocessableEntity, "camera_required", msg, fieldDetails(err))
	case errors.Is(err, document.ErrLockedField):
		return newAPIError(http.StatusUnprocessableEntity, "locked_field", msg, nil)
	case errors.Is(err, document.ErrEditOutOfRange):
		return newAPIError(http.StatusUnprocessableEntity, "edit_out_of_range", msg, nil)
	case errors.Is(err, engine.ErrStaleState):
		return newAPIError(http.StatusConflict, "stale_state", "the record was changed by someone else; reload and try again", nil)
	case errors.Is(err, engine.ErrInvalidTransition):
		return newAPIError(http.StatusConflict, "invalid_transition", msg, nil)
	case errors.Is(err, engine.ErrMissionOrderLocked):
		return newAPIError(http.StatusConflict, "mission_order_locked", msg, nil)
	case errors.Is(err, engine.ErrCaseNotApproved):
		return newAPIError(http.StatusConflict, "case_not_approved", msg, nil)
	case errors.Is(err, engine.ErrIntakeClosed):
		return newAPIError(http.StatusConflict, "intake_closed", msg, nil)
	case errors.Is(err, engine.ErrAssignmentNotFound):
		return newAPIError(http.StatusNotFound, "assignment_not_found", msg, nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, engine.ErrUpstreamUnavailable):
		return newAPIError(http.StatusBadGateway, "upstream_unavailable", msg, nil)
	case errors.Is(err, engine.ErrInvalidInput):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, fieldDetails(err))
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
	case http.StatusForbidden:
		return "forbidden"
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
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
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
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if publicRoute(basePath, route) {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
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
    <title>Inspectline API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key. Intake routes are public.
    </p>
  </body>
</html>`, specURL)
}

type healthOutput struct {
	Body map[string]string `json:"body"`
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*healthOutput, error) {
		return &healthOutput{Body: map[string]string{"status": "ok"}}, nil
	})
}

type caseOutput struct {
	Body domain.Case `json:"body"`
}

type casesOutput struct {
	Body []domain.Case `json:"body"`
}

type missionOrderOutput struct {
	Body MissionOrderResponse `json:"body"`
}

type missionOrdersOutput struct {
	Body []MissionOrderResponse `json:"body"`
}

type intakeOutput struct {
	Body IntakeResponse `json:"body"`
}

func missionOrderResult(mo domain.MissionOrder, err error) (*missionOrderOutput, error) {
	if err != nil {
		return nil, handleError(err)
	}
	return &missionOrderOutput{Body: missionOrderResponse(mo)}, nil
}

func registerIntake(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-intake",
		Method:        http.MethodPost,
		Path:          "/intake",
		Summary:       "Open a complaint intake session",
		Description:   "Fixes the session's location classification. Proximity failures classify the session as unavailable instead of failing.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Body StartIntakeRequest `json:"body"`
	}) (*intakeOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		view, err := e.StartIntake(ctx, actor, input.Body.options())
		if err != nil {
			return nil, handleError(err)
		}
		return &intakeOutput{Body: intakeResponse(view)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-intake",
		Method:      http.MethodGet,
		Path:        "/intake/{session_id}",
		Summary:     "Get an intake session",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
	}) (*intakeOutput, error) {
		view, err := e.GetIntake(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &intakeOutput{Body: intakeResponse(view)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-evidence",
		Method:      http.MethodPost,
		Path:        "/intake/{session_id}/evidence",
		Summary:     "Add an evidence item",
		Description: "Verified sessions accept uploads only after a live camera capture.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		SessionID string             `path:"session_id"`
		Body      AddEvidenceRequest `json:"body"`
	}) (*intakeOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in := engine.EvidenceInput{
			Source: geofence.Source(input.Body.Source),
			Name:   input.Body.Name,
			URI:    input.Body.URI,
		}
		if len(input.Body.Content) > 0 {
			in.Body = bytes.NewReader(input.Body.Content)
		}
		view, err := e.AddEvidence(ctx, input.SessionID, actor, in)
		if err != nil {
			return nil, handleError(err)
		}
		return &intakeOutput{Body: intakeResponse(view)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "submit-intake",
		Method:        http.MethodPost,
		Path:          "/intake/{session_id}/submit",
		Summary:       "File the complaint",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		SessionID string              `path:"session_id"`
		Body      SubmitIntakeRequest `json:"body"`
	}) (*caseOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.SubmitIntake(ctx, input.SessionID, actor, input.Body.options())
		if err != nil {
			return nil, handleError(err)
		}
		return &caseOutput{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "submit-complaint",
		Method:        http.MethodPost,
		Path:          "/complaints",
		Summary:       "File a complaint without evidence uploads",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Body SubmitComplaintRequest `json:"body"`
	}) (*caseOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.SubmitComplaint(ctx, actor, input.Body.StartIntakeRequest.options(), input.Body.SubmitIntakeRequest.options())
		if err != nil {
			return nil, handleError(err)
		}
		return &caseOutput{Body: c}, nil
	})
}

func registerBusinesses(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "search-businesses",
		Method:      http.MethodGet,
		Path:        "/businesses",
		Summary:     "Search the business directory",
		Errors:      []int{http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Query string `query:"q"`
		Limit int    `query:"limit" default:"20"`
	}) (*struct {
		Body []domain.Business `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.SearchBusinesses(ctx, actor, input.Query, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Business `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

func registerCases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-cases",
		Method:      http.MethodGet,
		Path:        "/cases",
		Summary:     "List cases",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Limit  int    `query:"limit" default:"50"`
	}) (*casesOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f := repo.CaseFilter{Limit: normalizeLimit(input.Limit)}
		if input.Status != "" {
			s, err := domain.ParseCaseStatus(input.Status)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": "status"})
			}
			f.Status = &s
		}
		items, err := e.ListCases(ctx, actor, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &casesOutput{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-case",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}",
		Summary:     "Get case",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*caseOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.GetCase(ctx, input.CaseID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &caseOutput{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decide-case",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/decision",
		Summary:     "Approve or decline a submitted case",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string            `path:"case_id"`
		Body   DecideCaseRequest `json:"body"`
	}) (*caseOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		decision, err := domain.ParseCaseStatus(input.Body.Decision)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": "decision"})
		}
		c, err := e.Decide(ctx, input.CaseID, decision, actor, input.Body.Comment)
		if err != nil {
			return nil, handleError(err)
		}
		return &caseOutput{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "start-mission-order",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/mission-orders",
		Summary:       "Start the case's mission order",
		Description:   "Returns the case's open mission order, or drafts a new one from the template.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		CaseID string                   `path:"case_id"`
		Body   StartMissionOrderRequest `json:"body" required:"false"`
	}) (*missionOrderOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return missionOrderResult(e.StartMissionOrder(ctx, input.CaseID, actor, input.Body.Title))
	})
}

func registerMissionOrders(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-mission-orders",
		Method:      http.MethodGet,
		Path:        "/mission-orders",
		Summary:     "List mission orders",
		Description: "Inspectors only see their own orders that are approved for inspection.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		CaseID      string `query:"case_id"`
		Status      string `query:"status"`
		InspectorID string `query:"inspector_id"`
		Limit       int    `query:"limit" default:"50"`
	}) (*missionOrdersOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f := repo.MissionOrderFilter{CaseID: input.CaseID, InspectorID: input.InspectorID, Limit: normalizeLimit(input.Limit)}
		if input.Status != "" {
			s, err := domain.ParseMissionOrderStatus(input.Status)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": "status"})
			}
			f.Status = &s
		}
		items, err := e.ListMissionOrders(ctx, actor, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &missionOrdersOutput{Body: mapMissionOrders(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-mission-order",
		Method:      http.MethodGet,
		Path:        "/mission-orders/{mo_id}",
		Summary:     "Get mission order",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		MissionOrderID string `path:"mo_id"`
	}) (*missionOrderOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return missionOrderResult(e.GetMissionOrder(ctx, input.MissionOrderID, actor))
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-mission-order-body",
		Method:      http.MethodPatch,
		Path:        "/mission-orders/{mo_id}/body",
		Summary:     "Edit the mission order body",
		Description: "Edits are applied in order against the text returned by the previous edit. Edits that touch a locked field are refused.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		MissionOrderID string            `path:"mo_id"`
		Body           UpdateBodyRequest `json:"body"`
	}) (*missionOrderOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return missionOrderResult(e.UpdateBody(ctx, input.MissionOrderID, actor, input.Body.Edits, input.Body.Title))
	})

	type transitionInput struct {
		MissionOrderID string `path:"mo_id"`
	}
	transitionErrors := []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity}

	huma.Register(api, huma.Operation{
		OperationID: "submit-mission-order",
		Method:      http.MethodPost,
		Path:        "/mission-orders/{mo_id}/submit",
		Summary:     "Submit a staffed draft for review",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *transitionInput) (*missionOrderOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return missionOrderResult(e.Submit(ctx, input.MissionOrderID, actor))
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-mission-order",
		Method:      http.MethodPost,
		Path:        "/mission-orders/{mo_id}/approve",
		Summary:     "Approve an issued mission order for inspection",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *transitionInput) (*missionOrderOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return missionOrderResult(e.Approve(ctx, input.MissionOrderID, actor))
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-mission-order",
		Method:      http.MethodPost,
		Path:        "/mission-orders/{mo_id}/reject",
		Summary:     "Cancel an issued mission order",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		MissionOrderID string                    `path:"mo_id"`
		Body           RejectMissionOrderRequest `json:"body"`
	}) (*missionOrderOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return missionOrderResult(e.Reject(ctx, input.MissionOrderID, actor, input.Body.Comment))
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-mission-order",
		Method:      http.MethodGet,
		Path:        "/mission-orders/{mo_id}/export",
		Summary:     "Printable HTML for a mission order",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *transitionInput) (*struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		out, err := e.RenderMissionOrder(ctx, input.MissionOrderID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ContentType string `header:"Content-Type"`
			Body        []byte
		}{ContentType: "text/html; charset=utf-8", Body: []byte(out)}, nil
	})
}

func registerAssignments(api huma.API, e engine.Engine) {
	type assignmentInput struct {
		MissionOrderID string `path:"mo_id"`
		InspectorID    string `path:"inspector_id"`
	}
	assignmentErrors := []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict}

	huma.Register(api, huma.Operation{
		OperationID: "list-assigned-inspectors",
		Method:      http.MethodGet,
		Path:        "/mission-orders/{mo_id}/inspectors",
		Summary:     "List the order's inspectors",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		MissionOrderID string `path:"mo_id"`
	}) (*struct {
		Body []domain.Assignment `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListAssigned(ctx, input.MissionOrderID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Assignment `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-inspector",
		Method:      http.MethodPut,
		Path:        "/mission-orders/{mo_id}/inspectors/{inspector_id}",
		Summary:     "Assign an inspector",
		Description: "Idempotent: assigning an inspector twice changes nothing.",
		Errors:      assignmentErrors,
	}, func(ctx context.Context, input *assignmentInput) (*missionOrderOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return missionOrderResult(e.Assign(ctx, input.MissionOrderID, input.InspectorID, actor))
	})

	huma.Register(api, huma.Operation{
		OperationID: "unassign-inspector",
		Method:      http.MethodDelete,
		Path:        "/mission-orders/{mo_id}/inspectors/{inspector_id}",
		Summary:     "Remove an inspector",
		Errors:      assignmentErrors,
	}, func(ctx context.Context, input *assignmentInput) (*missionOrderOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return missionOrderResult(e.Unassign(ctx, input.MissionOrderID, input.InspectorID, actor))
	})

	huma.Register(api, huma.Operation{
		OperationID: "inspector-mission-orders",
		Method:      http.MethodGet,
		Path:        "/inspectors/{inspector_id}/mission-orders",
		Summary:     "Mission orders ready for an inspector",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		InspectorID string `path:"inspector_id"`
	}) (*missionOrdersOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.InspectorDashboard(ctx, input.InspectorID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &missionOrdersOutput{Body: mapMissionOrders(items)}, nil
	})
}

type actorsOutput struct {
	Body []domain.ActorProfile `json:"body"`
}

func registerActors(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-inspectors",
		Method:      http.MethodGet,
		Path:        "/inspectors",
		Summary:     "List assignable inspectors",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*actorsOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListInspectors(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &actorsOutput{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-actors",
		Method:      http.MethodGet,
		Path:        "/actors",
		Summary:     "List actors",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Role string `query:"role"`
	}) (*actorsOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var role domain.Role
		if input.Role != "" {
			r, err := domain.ParseRole(input.Role)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": "role"})
			}
			role = r
		}
		items, err := e.ListActors(ctx, actor, role)
		if err != nil {
			return nil, handleError(err)
		}
		return &actorsOutput{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "register-actor",
		Method:      http.MethodPut,
		Path:        "/actors/{actor_id}",
		Summary:     "Create or update an actor",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ActorID string               `path:"actor_id"`
		Body    RegisterActorRequest `json:"body"`
	}) (*struct {
		Body domain.ActorProfile `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.ID != "" && input.Body.ID != input.ActorID {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body id does not match path", map[string]any{"field": "id"})
		}
		p, err := e.RegisterActor(ctx, actor, domain.ActorProfile{
			ID:          input.ActorID,
			Role:        domain.Role(input.Body.Role),
			DisplayName: input.Body.DisplayName,
			Email:       input.Body.Email,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ActorProfile `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Issue an API key",
		Description:   "The secret is only returned in this response.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		key, secret, err := e.CreateAPIKey(ctx, actor, input.Body.ActorID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{Key: key, Secret: secret}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-api-key",
		Method:        http.MethodDelete,
		Path:          "/api-keys/{key_id}",
		Summary:       "Revoke an API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RevokeAPIKey(ctx, actor, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"case,mission_order,intake,actor,api_key,config"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		var before int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			before = parsed
		}
		items, err := e.ListEvents(ctx, actor, repo.EventFilter{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Limit:      limit + 1,
			Before:     before,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		resp := WhoAmIResponse{
			ActorID:     principal.ActorID,
			Role:        string(principal.Role),
			Source:      principal.Source,
			Permissions: nonNilSlice(e.Auth.ActorPermissions(principal.Actor())),
		}
		if p, err := e.GetActor(ctx, principal.ActorID); err == nil {
			resp.DisplayName = p.DisplayName
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-dashboard",
		Method:      http.MethodGet,
		Path:        "/me/dashboard",
		Summary:     "Role dashboard",
		Description: "The listed entities depend on the caller's role and the view/status query.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		View   string `query:"view"`
		Status string `query:"status"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body DashboardResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		q := url.Values{}
		if input.View != "" {
			q.Set("view", input.View)
		}
		if input.Status != "" {
			q.Set("status", input.Status)
		}
		view, err := ResolveView(actor.Role, q)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		resp, err := dashboard(ctx, e, actor, view, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DashboardResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func dashboard(ctx context.Context, e engine.Engine, actor domain.Actor, view View, limit int) (DashboardResponse, error) {
	resp := DashboardResponse{View: view.Name}
	switch view.Name {
	case ViewCases:
		if view.CaseStatus != nil {
			resp.Status = string(*view.CaseStatus)
		}
		items, err := e.ListCases(ctx, actor, repo.CaseFilter{Status: view.CaseStatus, Limit: limit})
		if err != nil {
			return resp, err
		}
		resp.Cases = nonNilSlice(items)
	case ViewMissionOrders:
		if view.MissionOrderStatus != nil {
			resp.Status = string(*view.MissionOrderStatus)
		}
		items, err := e.ListMissionOrders(ctx, actor, repo.MissionOrderFilter{Status: view.MissionOrderStatus, Limit: limit})
		if err != nil {
			return resp, err
		}
		resp.MissionOrders = mapMissionOrders(items)
	case ViewInspections:
		resp.Status = string(domain.MissionOrderForInspection)
		items, err := e.InspectorDashboard(ctx, actor.ID, actor)
		if err != nil {
			return resp, err
		}
		resp.MissionOrders = mapMissionOrders(items)
	case ViewEvents:
		items, err := e.ListEvents(ctx, actor, repo.EventFilter{Limit: limit})
		if err != nil {
			return resp, err
		}
		resp.Events = []EventResponse{}
		for _, evt := range items {
			resp.Events = append(resp.Events, eventResponse(evt))
		}
	}
	return resp, nil
}

func registerDevAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for a registered actor",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID := strings.TrimSpace(input.Body.ActorID)
		if actorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", map[string]any{"field": "actor_id"})
		}
		p, err := e.GetActor(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		token, err := SignToken(authCfg.JWTSecret, p.ID, p.Role, 0)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	return nil
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
