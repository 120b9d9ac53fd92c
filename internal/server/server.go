// Package server exposes the loandesk engine over HTTP with a huma/chi API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"loandesk/internal/engine"
	"loandesk/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"assignment abc: not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the loandesk API.
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
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Loandesk API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerWorkspaces(group, cfg.Engine)
	registerClients(group, cfg.Engine)
	registerLoanTypes(group, cfg.Engine)
	registerTemplates(group, cfg.Engine)
	registerAssignments(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerStats(group, cfg.Engine)
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
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, engine.ErrValidation):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), nil)
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

// workspaceFromHeader prefers the X-Workspace-Id header, then the configured
// workspace.
func workspaceFromHeader(ctx context.Context, e engine.Engine) string {
	if r, ok := ctx.Value(requestKey{}).(*http.Request); ok {
		if ws := strings.TrimSpace(r.Header.Get("X-Workspace-Id")); ws != "" {
			return ws
		}
	}
	return e.Config.Workspace.ID
}

func nowFor(e engine.Engine) time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
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
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
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
    <title>Loandesk API Docs</title>
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

func registerWorkspaces(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-workspaces",
		Method:      http.MethodGet,
		Path:        "/workspaces",
		Summary:     "List workspaces",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []WorkspaceBody `json:"body"`
	}, error) {
		items, err := e.Repo.ListWorkspaces(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]WorkspaceBody, 0, len(items))
		for _, w := range items {
			res = append(res, WorkspaceBody{Workspace: w})
		}
		return &struct {
			Body []WorkspaceBody `json:"body"`
		}{Body: res}, nil
	})
}

func registerClients(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-client",
		Method:        http.MethodPost,
		Path:          "/clients",
		Summary:       "Create client",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateClientRequest `json:"body"`
	}) (*struct {
		Body ClientBody `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		c, err := e.CreateClient(ctx, engine.CreateClientOptions{
			WorkspaceID: workspaceFromHeader(ctx, e),
			Name:        input.Body.Name,
			Email:       input.Body.Email,
			Phone:       input.Body.Phone,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ClientBody `json:"body"`
		}{Body: ClientBody{Client: c}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-clients",
		Method:      http.MethodGet,
		Path:        "/clients",
		Summary:     "List clients",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ClientBody `json:"body"`
	}, error) {
		items, err := e.Repo.ListClients(ctx, workspaceFromHeader(ctx, e))
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]ClientBody, 0, len(items))
		for _, c := range items {
			res = append(res, ClientBody{Client: c})
		}
		return &struct {
			Body []ClientBody `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-client",
		Method:      http.MethodGet,
		Path:        "/clients/{id}",
		Summary:     "Get client",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ClientBody `json:"body"`
	}, error) {
		c, err := e.Repo.GetClient(ctx, workspaceFromHeader(ctx, e), input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ClientBody `json:"body"`
		}{Body: ClientBody{Client: c}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-client",
		Method:      http.MethodPatch,
		Path:        "/clients/{id}",
		Summary:     "Update client",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body UpdateClientRequest `json:"body"`
	}) (*struct {
		Body ClientBody `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.UpdateClient(ctx, engine.UpdateClientOptions{
			WorkspaceID: workspaceFromHeader(ctx, e),
			ClientID:    input.ID,
			Patch: repo.ClientUpdate{
				Name:   input.Body.Name,
				Email:  input.Body.Email,
				Phone:  input.Body.Phone,
				Status: input.Body.Status,
			},
			ActorID: actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ClientBody `json:"body"`
		}{Body: ClientBody{Client: c}}, nil
	})
}

func registerLoanTypes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-loan-type",
		Method:        http.MethodPost,
		Path:          "/loan-types",
		Summary:       "Create loan type",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateLoanTypeRequest `json:"body"`
	}) (*struct {
		Body LoanTypeBody `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		lt, err := e.CreateLoanType(ctx, engine.CreateLoanTypeOptions{
			WorkspaceID: workspaceFromHeader(ctx, e),
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Category:    input.Body.Category,
			Stages:      input.Body.Stages,
			MinAmount:   input.Body.MinAmount,
			MaxAmount:   input.Body.MaxAmount,
			MinRate:     input.Body.MinRate,
			MaxRate:     input.Body.MaxRate,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LoanTypeBody `json:"body"`
		}{Body: LoanTypeBody{LoanType: lt}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-loan-types",
		Method:      http.MethodGet,
		Path:        "/loan-types",
		Summary:     "List loan types",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []LoanTypeBody `json:"body"`
	}, error) {
		items, err := e.Repo.ListLoanTypes(ctx, workspaceFromHeader(ctx, e))
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]LoanTypeBody, 0, len(items))
		for _, lt := range items {
			res = append(res, LoanTypeBody{LoanType: lt})
		}
		return &struct {
			Body []LoanTypeBody `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-loan-type",
		Method:      http.MethodGet,
		Path:        "/loan-types/{id}",
		Summary:     "Get loan type",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body LoanTypeBody `json:"body"`
	}, error) {
		lt, err := e.Repo.GetLoanType(ctx, workspaceFromHeader(ctx, e), input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LoanTypeBody `json:"body"`
		}{Body: LoanTypeBody{LoanType: lt}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-loan-type",
		Method:      http.MethodPatch,
		Path:        "/loan-types/{id}",
		Summary:     "Update loan type",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body UpdateLoanTypeRequest `json:"body"`
	}) (*struct {
		Body LoanTypeBody `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		lt, err := e.UpdateLoanType(ctx, engine.UpdateLoanTypeOptions{
			WorkspaceID: workspaceFromHeader(ctx, e),
			LoanTypeID:  input.ID,
			Patch: repo.LoanTypeUpdate{
				Name:        input.Body.Name,
				Description: input.Body.Description,
				Category:    input.Body.Category,
				Stages:      input.Body.Stages,
				StagesSet:   input.Body.Stages != nil,
				Status:      input.Body.Status,
				MinAmount:   input.Body.MinAmount,
				MaxAmount:   input.Body.MaxAmount,
				MinRate:     input.Body.MinRate,
				MaxRate:     input.Body.MaxRate,
			},
			ActorID: actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LoanTypeBody `json:"body"`
		}{Body: LoanTypeBody{LoanType: lt}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-loan-type-templates",
		Method:      http.MethodGet,
		Path:        "/loan-types/{id}/templates",
		Summary:     "List templates linked to a loan type",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []TaskTemplateBody `json:"body"`
	}, error) {
		workspaceID := workspaceFromHeader(ctx, e)
		if _, err := e.Repo.GetLoanType(ctx, workspaceID, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.TemplatesForLoanType(ctx, workspaceID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]TaskTemplateBody, 0, len(items))
		for _, tt := range items {
			res = append(res, TaskTemplateBody{TaskTemplate: tt})
		}
		return &struct {
			Body []TaskTemplateBody `json:"body"`
		}{Body: res}, nil
	})
}

func registerTemplates(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task-template",
		Method:        http.MethodPost,
		Path:          "/task-templates",
		Summary:       "Create task template",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskTemplateRequest `json:"body"`
	}) (*struct {
		Body TaskTemplateBody `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		tt, err := e.CreateTaskTemplate(ctx, engine.CreateTaskTemplateOptions{
			WorkspaceID:        workspaceFromHeader(ctx, e),
			Title:              input.Body.Title,
			AssigneeRole:       input.Body.AssigneeRole,
			Instructions:       input.Body.Instructions,
			IsRequired:         input.Body.IsRequired,
			DueInDays:          input.Body.DueInDays,
			AttachmentsAllowed: input.Body.AttachmentsAllowed,
			Priority:           input.Body.Priority,
			DisplayOrder:       input.Body.DisplayOrder,
			ActorID:            actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskTemplateBody `json:"body"`
		}{Body: TaskTemplateBody{TaskTemplate: tt}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-task-templates",
		Method:      http.MethodGet,
		Path:        "/task-templates",
		Summary:     "List task templates",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []TaskTemplateBody `json:"body"`
	}, error) {
		items, err := e.Repo.ListTaskTemplates(ctx, workspaceFromHeader(ctx, e))
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]TaskTemplateBody, 0, len(items))
		for _, tt := range items {
			res = append(res, TaskTemplateBody{TaskTemplate: tt})
		}
		return &struct {
			Body []TaskTemplateBody `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task-template",
		Method:      http.MethodGet,
		Path:        "/task-templates/{id}",
		Summary:     "Get task template",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body TaskTemplateBody `json:"body"`
	}, error) {
		tt, err := e.Repo.GetTaskTemplate(ctx, workspaceFromHeader(ctx, e), input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskTemplateBody `json:"body"`
		}{Body: TaskTemplateBody{TaskTemplate: tt}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task-template",
		Method:      http.MethodPatch,
		Path:        "/task-templates/{id}",
		Summary:     "Update task template",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string                    `path:"id"`
		Body UpdateTaskTemplateRequest `json:"body"`
	}) (*struct {
		Body TaskTemplateBody `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tt, err := e.UpdateTaskTemplate(ctx, engine.UpdateTaskTemplateOptions{
			WorkspaceID: workspaceFromHeader(ctx, e),
			TemplateID:  input.ID,
			Patch: repo.TaskTemplateUpdate{
				Title:              input.Body.Title,
				AssigneeRole:       input.Body.AssigneeRole,
				Instructions:       input.Body.Instructions,
				IsRequired:         input.Body.IsRequired,
				DueInDays:          input.Body.DueInDays,
				AttachmentsAllowed: input.Body.AttachmentsAllowed,
				Priority:           input.Body.Priority,
				DisplayOrder:       input.Body.DisplayOrder,
			},
			ActorID: actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskTemplateBody `json:"body"`
		}{Body: TaskTemplateBody{TaskTemplate: tt}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "link-task-template",
		Method:        http.MethodPost,
		Path:          "/loan-types/{loan_type_id}/templates/{template_id}",
		Summary:       "Link template to loan type",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		LoanTypeID string `path:"loan_type_id"`
		TemplateID string `path:"template_id"`
	}) (*struct {
		Body AssociationBody `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.LinkTemplate(ctx, engine.LinkTemplateOptions{
			WorkspaceID: workspaceFromHeader(ctx, e),
			TemplateID:  input.TemplateID,
			LoanTypeID:  input.LoanTypeID,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AssociationBody `json:"body"`
		}{Body: AssociationBody{TemplateAssociation: a}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unlink-task-template",
		Method:      http.MethodDelete,
		Path:        "/loan-types/{loan_type_id}/templates/{template_id}",
		Summary:     "Unlink template from loan type",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		LoanTypeID string `path:"loan_type_id"`
		TemplateID string `path:"template_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		err := e.UnlinkTemplate(ctx, engine.UnlinkTemplateOptions{
			WorkspaceID: workspaceFromHeader(ctx, e),
			TemplateID:  input.TemplateID,
			LoanTypeID:  input.LoanTypeID,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerAssignments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "assign-loan-type",
		Method:        http.MethodPost,
		Path:          "/clients/{client_id}/assignments",
		Summary:       "Assign loan type to client",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ClientID string                `path:"client_id"`
		Body     AssignLoanTypeRequest `json:"body"`
	}) (*struct {
		Body AssignResultResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.LoanTypeID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "loan_type_id is required", nil)
		}
		res, err := e.AssignLoanType(ctx, engine.AssignOptions{
			WorkspaceID: workspaceFromHeader(ctx, e),
			ClientID:    input.ClientID,
			LoanTypeID:  input.Body.LoanTypeID,
			CustomName:  input.Body.CustomName,
			Notes:       input.Body.Notes,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AssignResultResponse `json:"body"`
		}{Body: AssignResultResponse{
			Assignment:  assignmentResponse(res.Assignment),
			TasksCloned: res.TasksCloned,
			Message:     assignMessage(res),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-client-assignments",
		Method:      http.MethodGet,
		Path:        "/clients/{client_id}/assignments",
		Summary:     "List a client's assignments",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClientID string `path:"client_id"`
	}) (*struct {
		Body []AssignmentResponse `json:"body"`
	}, error) {
		workspaceID := workspaceFromHeader(ctx, e)
		if _, err := e.Repo.GetClient(ctx, workspaceID, input.ClientID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListAssignmentsByClient(ctx, workspaceID, input.ClientID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AssignmentResponse `json:"body"`
		}{Body: mapAssignments(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-assignment",
		Method:      http.MethodPatch,
		Path:        "/assignments/{id}",
		Summary:     "Update assignment",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                  `path:"id"`
		Body UpdateAssignmentRequest `json:"body"`
	}) (*struct {
		Body AssignmentResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.UpdateAssignment(ctx, engine.UpdateAssignmentOptions{
			WorkspaceID:  workspaceFromHeader(ctx, e),
			AssignmentID: input.ID,
			CustomName:   input.Body.CustomName,
			Notes:        input.Body.Notes,
			CustomOrder:  input.Body.CustomOrder,
			IsActive:     input.Body.IsActive,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AssignmentResponse `json:"body"`
		}{Body: assignmentResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-assignment",
		Method:      http.MethodDelete,
		Path:        "/assignments/{id}",
		Summary:     "Remove assignment and its tasks",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body RemoveAssignmentResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		deleted, err := e.RemoveAssignment(ctx, engine.RemoveAssignmentOptions{
			WorkspaceID:  workspaceFromHeader(ctx, e),
			AssignmentID: input.ID,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RemoveAssignmentResponse `json:"body"`
		}{Body: RemoveAssignmentResponse{TasksDeleted: deleted}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reorder-client-assignments",
		Method:      http.MethodPost,
		Path:        "/clients/{client_id}/assignments/reorder",
		Summary:     "Reorder a client's assignments",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ClientID string         `path:"client_id"`
		Body     ReorderRequest `json:"body"`
	}) (*struct {
		Body []AssignmentResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		workspaceID := workspaceFromHeader(ctx, e)
		err := e.ReorderAssignments(ctx, engine.ReorderAssignmentsOptions{
			WorkspaceID: workspaceID,
			ClientID:    input.ClientID,
			Orders:      input.Body.Orders,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListAssignmentsByClient(ctx, workspaceID, input.ClientID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AssignmentResponse `json:"body"`
		}{Body: mapAssignments(items)}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/assignments/{assignment_id}/tasks",
		Summary:       "Create ad-hoc task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		AssignmentID string            `path:"assignment_id"`
		Body         CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		t, err := e.CreateTask(ctx, engine.CreateTaskOptions{
			WorkspaceID:        workspaceFromHeader(ctx, e),
			AssignmentID:       input.AssignmentID,
			Title:              input.Body.Title,
			AssigneeRole:       input.Body.AssigneeRole,
			Instructions:       input.Body.Instructions,
			IsRequired:         input.Body.IsRequired,
			DueInDays:          input.Body.DueInDays,
			AttachmentsAllowed: input.Body.AttachmentsAllowed,
			Priority:           input.Body.Priority,
			ActorID:            actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t, nowFor(e))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-assignment-tasks",
		Method:      http.MethodGet,
		Path:        "/assignments/{assignment_id}/tasks",
		Summary:     "List an assignment's tasks",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AssignmentID string `path:"assignment_id"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		workspaceID := workspaceFromHeader(ctx, e)
		if _, err := e.Repo.GetAssignment(ctx, workspaceID, input.AssignmentID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListTasksByAssignment(ctx, workspaceID, input.AssignmentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(items, nowFor(e))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-client-tasks",
		Method:      http.MethodGet,
		Path:        "/clients/{client_id}/tasks",
		Summary:     "List all tasks for a client",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClientID string `path:"client_id"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		workspaceID := workspaceFromHeader(ctx, e)
		if _, err := e.Repo.GetClient(ctx, workspaceID, input.ClientID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListTasksByClient(ctx, workspaceID, input.ClientID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(items, nowFor(e))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, workspaceFromHeader(ctx, e), input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t, nowFor(e))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Update task fields",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UpdateTask(ctx, engine.UpdateTaskOptions{
			WorkspaceID:        workspaceFromHeader(ctx, e),
			TaskID:             input.ID,
			Title:              input.Body.Title,
			AssigneeRole:       input.Body.AssigneeRole,
			Instructions:       input.Body.Instructions,
			IsRequired:         input.Body.IsRequired,
			DueInDays:          input.Body.DueInDays,
			AttachmentsAllowed: input.Body.AttachmentsAllowed,
			Priority:           input.Body.Priority,
			AssigneeID:         input.Body.AssigneeID,
			ClientNote:         input.Body.ClientNote,
			ActorID:            actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t, nowFor(e))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task-status",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}/status",
		Summary:     "Update task status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string                  `path:"id"`
		Body UpdateTaskStatusRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Status == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "status is required", nil)
		}
		t, err := e.UpdateTaskStatus(ctx, engine.TaskStatusOptions{
			WorkspaceID: workspaceFromHeader(ctx, e),
			TaskID:      input.ID,
			Status:      input.Body.Status,
			CompletedAt: input.Body.CompletedAt,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t, nowFor(e))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{id}",
		Summary:     "Delete task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTask(ctx, engine.DeleteTaskOptions{
			WorkspaceID: workspaceFromHeader(ctx, e),
			TaskID:      input.ID,
			ActorID:     actorID,
		}); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task-note",
		Method:        http.MethodPost,
		Path:          "/tasks/{id}/notes",
		Summary:       "Append task note",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body CreateTaskNoteRequest `json:"body"`
	}) (*struct {
		Body TaskNoteBody `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.AppendTaskNote(ctx, engine.TaskNoteOptions{
			WorkspaceID: workspaceFromHeader(ctx, e),
			TaskID:      input.ID,
			Text:        input.Body.Text,
			AuthorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskNoteBody `json:"body"`
		}{Body: TaskNoteBody{TaskNote: n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-task-notes",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/notes",
		Summary:     "List task notes",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []TaskNoteBody `json:"body"`
	}, error) {
		workspaceID := workspaceFromHeader(ctx, e)
		if _, err := e.Repo.GetTask(ctx, workspaceID, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListTaskNotes(ctx, workspaceID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]TaskNoteBody, 0, len(items))
		for _, n := range items {
			res = append(res, TaskNoteBody{TaskNote: n})
		}
		return &struct {
			Body []TaskNoteBody `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reorder-assignment-tasks",
		Method:      http.MethodPost,
		Path:        "/assignments/{assignment_id}/tasks/reorder",
		Summary:     "Reorder an assignment's tasks",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		AssignmentID string         `path:"assignment_id"`
		Body         ReorderRequest `json:"body"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		workspaceID := workspaceFromHeader(ctx, e)
		err := e.ReorderTasks(ctx, engine.ReorderTasksOptions{
			WorkspaceID:  workspaceID,
			AssignmentID: input.AssignmentID,
			Orders:       input.Body.Orders,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListTasksByAssignment(ctx, workspaceID, input.AssignmentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(items, nowFor(e))}, nil
	})
}

func registerStats(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "assignment-stats",
		Method:      http.MethodGet,
		Path:        "/assignments/{id}/stats",
		Summary:     "Assignment progress rollup",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body AssignmentStatsBody `json:"body"`
	}, error) {
		stats, err := e.AssignmentStats(ctx, workspaceFromHeader(ctx, e), input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AssignmentStatsBody `json:"body"`
		}{Body: AssignmentStatsBody{AssignmentStats: stats}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "client-task-stats",
		Method:      http.MethodGet,
		Path:        "/clients/{id}/stats",
		Summary:     "Client task rollup",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ClientTaskStatsBody `json:"body"`
	}, error) {
		stats, err := e.ClientTaskStats(ctx, workspaceFromHeader(ctx, e), input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ClientTaskStatsBody `json:"body"`
		}{Body: ClientTaskStatsBody{ClientTaskStats: stats}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Latest events",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" default:"20"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []EventBody `json:"body"`
	}, error) {
		items, err := e.Repo.LatestEvents(ctx, input.Limit, workspaceFromHeader(ctx, e), input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]EventBody, 0, len(items))
		for _, ev := range items {
			res = append(res, EventBody{Event: ev})
		}
		return &struct {
			Body []EventBody `json:"body"`
		}{Body: res}, nil
	})
}
