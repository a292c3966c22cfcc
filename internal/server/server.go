package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"gigline/internal/domain"
	"gigline/internal/engine"
	"gigline/internal/engine/guard"
	"gigline/internal/identity"
	"gigline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"forbidden"`
	Message string         `json:"message" example:"wrong_role: client role required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"action\":\"publish_task\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Gigline API.
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
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(raw))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, raw)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Gigline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerIdentity(group, cfg.Engine, cfg.Auth)
	registerTasks(group, cfg.Engine)
	registerApplications(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
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
	if errors.Is(err, identity.ErrUnauthenticated) {
		return newAPIError(http.StatusUnauthorized, "unauthorized", err.Error(), nil)
	}
	var rns identity.RoleNotSetError
	if errors.As(err, &rns) {
		return newAPIError(http.StatusForbidden, "role_not_set", err.Error(), map[string]any{"principal_id": rns.PrincipalID})
	}
	var ras identity.RoleAlreadySetError
	if errors.As(err, &ras) {
		return newAPIError(http.StatusConflict, "role_already_set", err.Error(), map[string]any{
			"principal_id": ras.PrincipalID,
			"role":         string(ras.Role),
		})
	}
	var ire identity.InvalidRoleError
	if errors.As(err, &ire) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"role": ire.Role})
	}
	var de guard.DeniedError
	if errors.As(err, &de) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{
			"action": string(de.Action),
			"reason": string(de.Reason),
		})
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), map[string]any{
			"field":  ve.Field,
			"reason": ve.Reason,
		})
	}
	var ite engine.InvalidTransitionError
	if errors.As(err, &ite) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{
			"entity": ite.Entity,
			"from":   ite.From,
			"to":     ite.To,
		})
	}
	var tno engine.TaskNotOpenError
	if errors.As(err, &tno) {
		return newAPIError(http.StatusConflict, "task_not_open", err.Error(), map[string]any{
			"task_id": tno.TaskID,
			"status":  string(tno.Status),
		})
	}
	var dup engine.DuplicateApplicationError
	if errors.As(err, &dup) {
		return newAPIError(http.StatusConflict, "duplicate_application", err.Error(), map[string]any{
			"task_id":       dup.TaskID,
			"freelancer_id": dup.FreelancerID,
		})
	}
	var stale repo.StaleStateError
	if errors.As(err, &stale) {
		return newAPIError(http.StatusConflict, "stale_state", err.Error(), map[string]any{
			"entity": stale.Entity,
			"id":     stale.ID,
		})
	}
	var ce engine.ConsistencyError
	if errors.As(err, &ce) {
		log.Printf("FATAL: %v", ce)
		return newAPIError(http.StatusInternalServerError, "consistency_violation", "internal consistency violation", map[string]any{"op": ce.Op})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if se, ok := err.(huma.StatusError); ok {
		return se
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
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusUnauthorized:
		return "unauthorized"
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
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	openPaths := map[string]bool{
		"/" + strings.TrimPrefix(path.Join(basePath, "health"), "/"):         true,
		"/" + strings.TrimPrefix(path.Join(basePath, "auth/dev/login"), "/"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if openPaths[route] {
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
    <title>Gigline API Docs</title>
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

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Service status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if _, authErr := accountIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		counts, err := e.Repo.CountTasksByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		latest, err := e.Repo.LatestEventID(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"task_counts":     counts,
			"latest_event_id": latest,
		}}, nil
	})
}

func registerIdentity(api huma.API, e engine.Engine, authCfg AuthConfig) {
	if authCfg.EnableDevLogin {
		huma.Register(api, huma.Operation{
			OperationID: "dev-login",
			Method:      http.MethodPost,
			Path:        "/auth/dev/login",
			Summary:     "Issue a development token",
			Errors:      []int{http.StatusBadRequest},
		}, func(ctx context.Context, input *struct {
			Body struct {
				AccountID string `json:"account_id"`
			} `json:"body"`
		}) (*struct {
			Body map[string]string `json:"body"`
		}, error) {
			if input.Body.AccountID == "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "account_id is required", nil)
			}
			token, err := issueDevToken(authCfg.JWTSecret, input.Body.AccountID, e.Now())
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body map[string]string `json:"body"`
			}{Body: map[string]string{"token": token}}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID:   "register",
		Method:        http.MethodPost,
		Path:          "/me/register",
		Summary:       "Choose a role for the authenticated account",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body RegisterRequest `json:"body"`
	}) (*struct {
		Body PrincipalResponse `json:"body"`
	}, error) {
		accountID, authErr := accountIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Role == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "role is required", nil)
		}
		p, err := e.Identity.Register(ctx, accountID, domain.Role(input.Body.Role), input.Body.DisplayName)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PrincipalResponse `json:"body"`
		}{Body: principalResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Resolved principal for the authenticated account",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body PrincipalResponse `json:"body"`
	}, error) {
		accountID, authErr := accountIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Identity.Resolve(ctx, accountID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PrincipalResponse `json:"body"`
		}{Body: principalResponse(p)}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		accountID, authErr := accountIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.CreateTaskOptions{
			ActorID:     accountID,
			Title:       input.Body.Title,
			Description: stringOrEmpty(input.Body.Description),
			Deadline:    input.Body.Deadline,
			Budget:      input.Body.Budget,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		t, err := e.CreateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		OwnerID    string `query:"owner_id"`
		Status     string `query:"status"`
		AssigneeID string `query:"assignee_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedTasks `json:"body"`
	}, error) {
		if _, authErr := accountIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		filter := repo.TaskFilters{
			OwnerID:         input.OwnerID,
			Status:          domain.TaskStatus(input.Status),
			AssigneeID:      input.AssigneeID,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		}
		tasks, err := e.Repo.ListTasks(ctx, filter)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedTasks{Items: []TaskResponse{}}
		if len(tasks) > limit {
			tasks = tasks[:limit]
			resp.NextCursor = composeCursor(tasks[limit-1].CreatedAt, tasks[limit-1].ID)
		}
		resp.Items = mapTasks(tasks)
		return &struct {
			Body paginatedTasks `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if _, authErr := accountIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		t, err := e.Repo.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "edit-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Edit task fields",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string          `path:"task_id"`
		Body   EditTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		accountID, authErr := accountIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.EditTask(ctx, engine.EditTaskOptions{
			ActorID:     accountID,
			TaskID:      input.TaskID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Deadline:    input.Body.Deadline,
			Budget:      input.Body.Budget,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	registerTaskTransition(api, "publish-task", "publish", "Publish task", e.PublishTask)
	registerTaskTransition(api, "cancel-task", "cancel", "Cancel task", e.CancelTask)
	registerTaskTransition(api, "start-work", "start", "Start work on an assigned task", e.StartWork)
	registerTaskTransition(api, "complete-task", "complete", "Approve a submission and complete the task", e.CompleteTask)

	huma.Register(api, huma.Operation{
		OperationID: "submit-work",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/submit",
		Summary:     "Submit a deliverable",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   SubmitWorkRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		accountID, authErr := accountIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.SubmitWork(ctx, accountID, input.TaskID, input.Body.Deliverable)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-revision",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/revision",
		Summary:     "Send a submission back for revision",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string                 `path:"task_id"`
		Body   RequestRevisionRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		accountID, authErr := accountIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.RequestRevision(ctx, accountID, input.TaskID, stringOrEmpty(input.Body.Note))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "apply",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/applications",
		Summary:       "Apply to an open task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string       `path:"task_id"`
		Body   ApplyRequest `json:"body"`
	}) (*struct {
		Body ApplicationResponse `json:"body"`
	}, error) {
		accountID, authErr := accountIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.ApplyOptions{
			ActorID:        accountID,
			TaskID:         input.TaskID,
			Message:        stringOrEmpty(input.Body.Message),
			ProposedBudget: input.Body.ProposedBudget,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		a, err := e.Apply(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ApplicationResponse `json:"body"`
		}{Body: applicationResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-task-applications",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/applications",
		Summary:     "List applications for a task",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Status string `query:"status"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedApplications `json:"body"`
	}, error) {
		if _, authErr := accountIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListApplications(ctx, repo.ApplicationFilters{
			TaskID:          input.TaskID,
			Status:          domain.ApplicationStatus(input.Status),
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedApplications{Items: []ApplicationResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = composeCursor(items[limit-1].CreatedAt, items[limit-1].ID)
		}
		resp.Items = mapApplications(items)
		return &struct {
			Body paginatedApplications `json:"body"`
		}{Body: resp}, nil
	})
}

func registerTaskTransition(
	api huma.API,
	operationID string,
	slug string,
	summary string,
	fn func(ctx context.Context, actorID, taskID string) (domain.Task, error),
) {
	huma.Register(api, huma.Operation{
		OperationID: operationID,
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/" + slug,
		Summary:     summary,
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		accountID, authErr := accountIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := fn(ctx, accountID, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})
}

func registerApplications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-applications",
		Method:      http.MethodGet,
		Path:        "/applications",
		Summary:     "List applications",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		FreelancerID string `query:"freelancer_id"`
		Status       string `query:"status"`
		Limit        int    `query:"limit" default:"50"`
		Cursor       string `query:"cursor"`
	}) (*struct {
		Body paginatedApplications `json:"body"`
	}, error) {
		if _, authErr := accountIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListApplications(ctx, repo.ApplicationFilters{
			FreelancerID:    input.FreelancerID,
			Status:          domain.ApplicationStatus(input.Status),
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedApplications{Items: []ApplicationResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = composeCursor(items[limit-1].CreatedAt, items[limit-1].ID)
		}
		resp.Items = mapApplications(items)
		return &struct {
			Body paginatedApplications `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-application",
		Method:      http.MethodGet,
		Path:        "/applications/{application_id}",
		Summary:     "Get application",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ApplicationID string `path:"application_id"`
	}) (*struct {
		Body ApplicationResponse `json:"body"`
	}, error) {
		if _, authErr := accountIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		a, err := e.Repo.GetApplication(ctx, input.ApplicationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ApplicationResponse `json:"body"`
		}{Body: applicationResponse(a)}, nil
	})

	registerApplicationTransition(api, "withdraw-application", "withdraw", "Withdraw an application", e.WithdrawApplication)
	registerApplicationTransition(api, "accept-application", "accept", "Accept an application and assign the task", e.AcceptApplication)
	registerApplicationTransition(api, "reject-application", "reject", "Reject an application", e.RejectApplication)
}

func registerApplicationTransition(
	api huma.API,
	operationID string,
	slug string,
	summary string,
	fn func(ctx context.Context, actorID, applicationID string) (domain.Application, error),
) {
	huma.Register(api, huma.Operation{
		OperationID: operationID,
		Method:      http.MethodPost,
		Path:        "/applications/{application_id}/" + slug,
		Summary:     summary,
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ApplicationID string `path:"application_id"`
	}) (*struct {
		Body ApplicationResponse `json:"body"`
	}, error) {
		accountID, authErr := accountIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := fn(ctx, accountID, input.ApplicationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ApplicationResponse `json:"body"`
		}{Body: applicationResponse(a)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Event journal, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, authErr := accountIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		var cursor int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || parsed < 1 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursor = parsed
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursor, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		resp.Items = mapEvents(items)
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-apikey",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key for the authenticated account",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		accountID, authErr := accountIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		raw := "glk_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		key := domain.APIKey{
			ID:          uuid.NewString(),
			PrincipalID: accountID,
			Name:        input.Body.Name,
			KeyHash:     repo.HashAPIKey(raw),
			CreatedAt:   e.Now().UTC().Format("2006-01-02T15:04:05Z07:00"),
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return nil, handleError(err)
		}
		defer tx.Rollback()
		if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
			return nil, handleError(err)
		}
		if err := tx.Commit(); err != nil {
			return nil, handleError(err)
		}
		resp := apiKeyResponse(key)
		resp.Key = raw
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-apikeys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys for the authenticated account",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		accountID, authErr := accountIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListAPIKeys(ctx, accountID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]APIKeyResponse, 0, len(items))
		for _, k := range items {
			res = append(res, apiKeyResponse(k))
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-apikey",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{key_id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		accountID, authErr := accountIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListAPIKeys(ctx, accountID)
		if err != nil {
			return nil, handleError(err)
		}
		owned := false
		for _, k := range items {
			if k.ID == input.KeyID {
				owned = true
				break
			}
		}
		if !owned {
			return nil, newAPIError(http.StatusNotFound, "not_found", "api key not found", nil)
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	raw, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return raw
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
