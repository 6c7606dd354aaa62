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

	"github.com/fmeleard84/team-dash-manager-sub011/internal/domain"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/engine"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/events"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Feed     *events.Feed
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_state"`
	Message string         `json:"message" example:"invalid state: cannot claim requirement r-1 in state declined"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"from\":\"declined\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type out[T any] struct {
	Body T
}

func reply[T any](v T) *out[T] { return &out[T]{Body: v} }

// New returns an HTTP handler exposing the booking API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Logger
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
	router.Use(requestLogger(cfg.Logger))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Team Dash booking API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerRoles(group, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerRequirements(group, cfg.Engine)
	registerWorkers(group, cfg.Engine)
	registerSweeps(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	if cfg.Feed != nil {
		registerFeed(group, cfg.Engine, cfg.Feed)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = loggerOr(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
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
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var ise *domain.InvalidStateError
	if errors.As(err, &ise) {
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), map[string]any{
			"entity": ise.Entity, "id": ise.ID, "from": ise.From, "op": ise.Op,
		})
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrValidation):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.Is(err, domain.ErrNoSyntheticWorker):
		return newAPIError(http.StatusConflict, "no_synthetic_worker", err.Error(), nil)
	case errors.Is(err, domain.ErrTransient):
		return newAPIError(http.StatusServiceUnavailable, "transient", err.Error(), map[string]any{"retryable": true})
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusServiceUnavailable:
		return "transient"
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
		doc  []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
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
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
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
    <title>Team Dash booking API</title>
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

var commonErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusServiceUnavailable,
	http.StatusInternalServerError,
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*out[map[string]string], error) {
		return reply(map[string]string{"status": "ok"}), nil
	})
}

func registerRoles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-roles",
		Method:      http.MethodGet,
		Path:        "/roles",
		Summary:     "List the role catalog",
	}, func(ctx context.Context, _ *struct{}) (*out[listResponse[RoleResponse]], error) {
		items := append([]RoleResponse{}, e.Config.Roles...)
		return reply(listResponse[RoleResponse]{Items: items}), nil
	})
}

type idPath struct {
	ID string `path:"id"`
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest
	}) (*out[ProjectResponse], error) {
		if err := requireRole(ctx, RoleClient); err != nil {
			return nil, handleError(err)
		}
		owner := input.Body.OwnerID
		if owner == "" {
			owner = actorID(ctx)
		}
		p, err := e.CreateProject(ctx, input.Body.Title, owner)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*out[listResponse[ProjectResponse]], error) {
		items, err := e.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Project{}
		}
		return reply(listResponse[ProjectResponse]{Items: items}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*out[ProjectResponse], error) {
		p, err := e.Repo.GetProject(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "open-project",
		Method:      http.MethodPost,
		Path:        "/projects/{id}/open",
		Summary:     "Start searching for every draft requirement",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *idPath) (*out[OpenProjectResponse], error) {
		if err := requireRole(ctx, RoleClient); err != nil {
			return nil, handleError(err)
		}
		p, reqs, err := e.OpenProject(ctx, input.ID, actorID(ctx))
		if err != nil && reqs == nil {
			return nil, handleError(err)
		}
		if err != nil {
			// The project is open; some requirements stayed in draft and are
			// listed as such.
			loggerOr(e.Logger).Warn("open project: requirements left in draft", "project", p.ID, "err", err)
		}
		if reqs == nil {
			reqs = []domain.Requirement{}
		}
		return reply(OpenProjectResponse{Project: p, Requirements: reqs}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-project",
		Method:      http.MethodPost,
		Path:        "/projects/{id}/complete",
		Summary:     "Complete an active project and release its holders",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *idPath) (*out[ProjectResponse], error) {
		if err := requireRole(ctx, RoleClient); err != nil {
			return nil, handleError(err)
		}
		p, err := e.CompleteProject(ctx, input.ID, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-project-requirements",
		Method:      http.MethodGet,
		Path:        "/projects/{id}/requirements",
		Summary:     "List a project's requirements",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*out[listResponse[RequirementResponse]], error) {
		if _, err := e.Repo.GetProject(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListRequirementsByProject(ctx, e.DB, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Requirement{}
		}
		for i := range items {
			items[i] = redactHolder(ctx, items[i])
		}
		return reply(listResponse[RequirementResponse]{Items: items}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-requirement",
		Method:        http.MethodPost,
		Path:          "/projects/{id}/requirements",
		Summary:       "Add a role requirement",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body CreateRequirementRequest
	}) (*out[RequirementResponse], error) {
		if err := requireRole(ctx, RoleClient); err != nil {
			return nil, handleError(err)
		}
		req, err := e.CreateRequirement(ctx, engine.RequirementOptions{
			ProjectID:  input.ID,
			RoleID:     input.Body.RoleID,
			Seniority:  domain.Seniority(input.Body.Seniority),
			Languages:  input.Body.Languages,
			Expertises: input.Body.Expertises,
			ActorID:    actorID(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(req), nil
	})
}

func registerRequirements(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-requirement",
		Method:      http.MethodGet,
		Path:        "/requirements/{id}",
		Summary:     "Get requirement",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*out[RequirementResponse], error) {
		req, err := e.Repo.GetRequirement(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(redactHolder(ctx, req)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "open-requirement",
		Method:      http.MethodPost,
		Path:        "/requirements/{id}/open",
		Summary:     "Open a draft requirement for search",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *idPath) (*out[RequirementResponse], error) {
		if err := requireRole(ctx, RoleClient); err != nil {
			return nil, handleError(err)
		}
		req, err := e.OpenForSearch(ctx, input.ID, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(req), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-requirement",
		Method:      http.MethodPost,
		Path:        "/requirements/{id}/claim",
		Summary:     "Claim a searching requirement",
		Description: "Losing the race or no longer qualifying is reported in status, not as an error.",
		Errors:      append([]int{http.StatusForbidden}, commonErrors...),
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body ClaimRequest
	}) (*out[ClaimResponse], error) {
		if err := requireSelf(ctx, input.Body.WorkerID); err != nil {
			return nil, handleError(err)
		}
		res, err := e.Claim(ctx, input.ID, input.Body.WorkerID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(claimResponse(res)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decline-requirement",
		Method:      http.MethodPost,
		Path:        "/requirements/{id}/decline",
		Summary:     "Decline a requirement",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body *DeclineRequest
	}) (*out[RequirementResponse], error) {
		if err := requireRole(ctx, RoleClient); err != nil {
			return nil, handleError(err)
		}
		reason := ""
		if input.Body != nil {
			reason = input.Body.Reason
		}
		req, err := e.Decline(ctx, input.ID, reason, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(req), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "expire-requirement",
		Method:      http.MethodPost,
		Path:        "/requirements/{id}/expire",
		Summary:     "Expire a searching requirement",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *idPath) (*out[RequirementResponse], error) {
		if err := requireRole(ctx, RoleClient); err != nil {
			return nil, handleError(err)
		}
		req, err := e.Expire(ctx, input.ID, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(req), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "auto-accept-requirement",
		Method:      http.MethodPost,
		Path:        "/requirements/{id}/auto-accept",
		Summary:     "Assign a synthetic requirement to its role's synthetic worker",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *idPath) (*out[ClaimResponse], error) {
		if err := requireRole(ctx, RoleClient); err != nil {
			return nil, handleError(err)
		}
		res, err := e.AutoAccept(ctx, input.ID, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(claimResponse(res)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "eligible-workers",
		Method:      http.MethodGet,
		Path:        "/requirements/{id}/eligible",
		Summary:     "Workers currently eligible for a requirement",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*out[listResponse[WorkerResponse]], error) {
		if err := requireRole(ctx, RoleClient); err != nil {
			return nil, handleError(err)
		}
		items, err := e.EligibleWorkers(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(listResponse[WorkerResponse]{Items: items}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-claim-attempts",
		Method:      http.MethodGet,
		Path:        "/requirements/{id}/claims",
		Summary:     "Claim audit trail",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*out[listResponse[domain.ClaimAttempt]], error) {
		if err := requireRole(ctx, RoleClient); err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetRequirement(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListClaimAttempts(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.ClaimAttempt{}
		}
		return reply(listResponse[domain.ClaimAttempt]{Items: items}), nil
	})
}

func registerWorkers(api huma.API, e engine.Engine) {
	register := func(id, p, summary string, synthetic bool, fn func(context.Context, engine.WorkerOptions) (domain.Worker, error)) {
		huma.Register(api, huma.Operation{
			OperationID:   id,
			Method:        http.MethodPost,
			Path:          p,
			Summary:       summary,
			DefaultStatus: http.StatusCreated,
			Errors:        commonErrors,
		}, func(ctx context.Context, input *struct {
			Body RegisterWorkerRequest
		}) (*out[WorkerResponse], error) {
			workerID := input.Body.ID
			if synthetic {
				if err := requireRole(ctx); err != nil {
					return nil, handleError(err)
				}
			} else if p, ok := workerOnly(ctx); ok {
				// Workers may only onboard themselves.
				if workerID == "" {
					workerID = p.ActorID
				}
				if err := requireSelf(ctx, workerID); err != nil {
					return nil, handleError(err)
				}
			}
			w, err := fn(ctx, engine.WorkerOptions{
				ID:           workerID,
				RoleID:       input.Body.RoleID,
				DisplayName:  input.Body.DisplayName,
				Seniority:    domain.Seniority(input.Body.Seniority),
				Languages:    input.Body.Languages,
				Expertises:   input.Body.Expertises,
				Availability: domain.Availability(input.Body.Availability),
				ActorID:      actorID(ctx),
			})
			if err != nil {
				return nil, handleError(err)
			}
			return reply(w), nil
		})
	}
	register("register-worker", "/workers", "Register a human worker", false, e.RegisterWorker)
	register("register-synthetic-worker", "/workers/synthetic", "Register or refresh a role's synthetic worker", true, e.RegisterSyntheticWorker)

	huma.Register(api, huma.Operation{
		OperationID: "list-workers",
		Method:      http.MethodGet,
		Path:        "/workers",
		Summary:     "List workers",
	}, func(ctx context.Context, input *struct {
		RoleID string `query:"role_id"`
	}) (*out[listResponse[WorkerResponse]], error) {
		items, err := e.Repo.ListWorkers(ctx, input.RoleID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Worker{}
		}
		return reply(listResponse[WorkerResponse]{Items: items}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-worker",
		Method:      http.MethodGet,
		Path:        "/workers/{id}",
		Summary:     "Get worker",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*out[WorkerResponse], error) {
		w, err := e.Repo.GetWorker(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(w), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-worker",
		Method:      http.MethodPatch,
		Path:        "/workers/{id}",
		Summary:     "Update a worker profile or availability",
		Errors:      append([]int{http.StatusForbidden}, commonErrors...),
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body UpdateWorkerRequest
	}) (*out[WorkerResponse], error) {
		if err := requireSelf(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		patch := engine.WorkerPatch{
			DisplayName: input.Body.DisplayName,
			Languages:   input.Body.Languages,
			Expertises:  input.Body.Expertises,
			ActorID:     actorID(ctx),
		}
		if input.Body.Seniority != nil {
			s := domain.Seniority(*input.Body.Seniority)
			patch.Seniority = &s
		}
		if input.Body.Availability != nil {
			a := domain.Availability(*input.Body.Availability)
			patch.Availability = &a
		}
		w, err := e.UpdateWorker(ctx, input.ID, patch)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(w), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "worker-missions",
		Method:      http.MethodGet,
		Path:        "/workers/{id}/missions",
		Summary:     "Open offers and held requirements for a worker",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*out[listResponse[engine.Mission]], error) {
		if err := requireSelf(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.MissionsForWorker(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(missionsResponse(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "worker-mission-status",
		Method:      http.MethodGet,
		Path:        "/workers/{id}/missions/{requirement_id}",
		Summary:     "Whether a requirement is still open for a worker",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID            string `path:"id"`
		RequirementID string `path:"requirement_id"`
	}) (*out[MissionStatusResponse], error) {
		if err := requireSelf(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		status, err := e.MissionStatus(ctx, input.RequirementID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(MissionStatusResponse{RequirementID: input.RequirementID, WorkerID: input.ID, Status: string(status)}), nil
	})
}

func registerSweeps(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "sweep-expired",
		Method:      http.MethodPost,
		Path:        "/sweeps/expire",
		Summary:     "Expire searching requirements past their deadline",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		Body *SweepRequest
	}) (*out[SweepResponse], error) {
		if err := requireRole(ctx, RoleClient); err != nil {
			return nil, handleError(err)
		}
		now := time.Now().UTC()
		if input.Body != nil && input.Body.Now != "" {
			parsed, err := time.Parse(time.RFC3339, input.Body.Now)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid now", map[string]any{"now": input.Body.Now})
			}
			now = parsed.UTC()
		}
		n, err := e.ExpireDue(ctx, now, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(SweepResponse{Expired: n, At: now.Format(time.RFC3339)}), nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Poll committed events in order",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
		WorkerID  string `query:"worker_id"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor" doc:"Return events after this id"`
	}) (*out[paginatedEvents], error) {
		workerID, err := workerScope(ctx, input.WorkerID)
		if err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || parsed < 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		scope := repo.EventScope{ProjectID: input.ProjectID, WorkerID: workerID}
		items, err := e.Repo.EventsAfter(ctx, limit+1, cursorID, scope)
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
		return reply(resp), nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 500 {
		return 500
	}
	return in
}
