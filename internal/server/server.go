package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/ryanoZphoto/aws/internal/domain"
	"github.com/ryanoZphoto/aws/internal/engine"
	"github.com/ryanoZphoto/aws/internal/provider"
	"github.com/ryanoZphoto/aws/internal/repo"
	"github.com/ryanoZphoto/aws/internal/scheduler"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Sweeper  *scheduler.Scheduler
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"task not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the task execution API.
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Task Execution API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerCredentials(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerExecutions(group, cfg.Engine)
	registerSweeps(group, cfg.Sweeper)
	registerAPIKeys(group, cfg.Engine)
	registerEvents(group, cfg.Engine)

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
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "required") || strings.Contains(lowered, "invalid") || strings.Contains(lowered, "unknown"):
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
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerCredentials(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-credential",
		Method:        http.MethodPost,
		Path:          "/credentials",
		Summary:       "Store a credential",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateCredentialRequest `json:"body"`
	}) (*struct {
		Body CredentialResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.CredentialCreateOptions{
			UserID:          userID,
			Name:            input.Body.Name,
			AccessKeyID:     input.Body.AccessKeyID,
			SecretAccessKey: input.Body.SecretAccessKey,
			IsDefault:       input.Body.IsDefault,
		}
		if input.Body.SessionToken != nil {
			opts.SessionToken = *input.Body.SessionToken
		}
		if input.Body.Region != nil {
			opts.Region = *input.Body.Region
		}
		if input.Body.RoleARN != nil {
			opts.RoleARN = *input.Body.RoleARN
		}
		c, err := e.CreateCredential(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CredentialResponse `json:"body"`
		}{Body: credentialResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-credentials",
		Method:      http.MethodGet,
		Path:        "/credentials",
		Summary:     "List credentials",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []CredentialResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListCredentials(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []CredentialResponse `json:"body"`
		}{Body: mapCredentials(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-credential",
		Method:      http.MethodGet,
		Path:        "/credentials/{credential_id}",
		Summary:     "Get credential",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CredentialID string `path:"credential_id"`
	}) (*struct {
		Body CredentialResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.Repo.GetCredential(ctx, input.CredentialID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CredentialResponse `json:"body"`
		}{Body: credentialResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-credential",
		Method:      http.MethodPatch,
		Path:        "/credentials/{credential_id}",
		Summary:     "Update credential",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CredentialID string                  `path:"credential_id"`
		Body         UpdateCredentialRequest `json:"body"`
	}) (*struct {
		Body CredentialResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		patch := repo.CredentialPatch{
			Name:      input.Body.Name,
			Region:    input.Body.Region,
			RoleARN:   input.Body.RoleARN,
			IsDefault: input.Body.IsDefault,
			IsActive:  input.Body.IsActive,
			UpdatedAt: nowStamp(e),
		}
		if input.Body.IsDefault != nil && *input.Body.IsDefault {
			// default transfers go through the engine so the change is audited
			if _, err := e.SetDefaultCredential(ctx, input.CredentialID, userID); err != nil {
				return nil, handleError(err)
			}
			patch.IsDefault = nil
		}
		if err := e.Repo.UpdateCredential(ctx, input.CredentialID, userID, patch); err != nil {
			return nil, handleError(err)
		}
		c, err := e.Repo.GetCredential(ctx, input.CredentialID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CredentialResponse `json:"body"`
		}{Body: credentialResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-credential",
		Method:        http.MethodDelete,
		Path:          "/credentials/{credential_id}",
		Summary:       "Delete credential",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CredentialID string `path:"credential_id"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteCredential(ctx, input.CredentialID, userID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.TaskCreateOptions{
			UserID:    userID,
			Name:      input.Body.Name,
			Service:   input.Body.Service,
			Operation: input.Body.Operation,
			Params:    input.Body.Params,
			Frequency: domain.TaskFrequency(input.Body.Frequency),
		}
		if input.Body.Description != nil {
			opts.Description = *input.Body.Description
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
	}, func(ctx context.Context, input *struct {
		Frequency  string `query:"frequency" enum:"daily,weekly,monthly,on_demand" required:"false"`
		ActiveOnly bool   `query:"active_only" required:"false"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
			UserID:     userID,
			Frequency:  domain.TaskFrequency(input.Frequency),
			ActiveOnly: input.ActiveOnly,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.Repo.GetUserTask(ctx, input.TaskID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		patch := repo.TaskPatch{
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Service:     input.Body.Service,
			Operation:   input.Body.Operation,
			IsActive:    input.Body.IsActive,
			UpdatedAt:   nowStamp(e),
		}
		if input.Body.Frequency != nil {
			freq := domain.TaskFrequency(*input.Body.Frequency)
			if !domain.ValidFrequency(freq) {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown frequency "+*input.Body.Frequency, nil)
			}
			patch.Frequency = &freq
		}
		if input.Body.Params != nil {
			data, err := marshalParams(*input.Body.Params)
			if err != nil {
				return nil, handleError(err)
			}
			patch.ParamsJSON = &data
		}
		if err := e.Repo.UpdateTask(ctx, input.TaskID, userID, patch); err != nil {
			return nil, handleError(err)
		}
		t, err := e.Repo.GetUserTask(ctx, input.TaskID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{task_id}",
		Summary:       "Delete task and its execution history",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteTask(ctx, input.TaskID, userID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerExecutions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "run-task",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/executions",
		Summary:       "Run task now",
		Description:   "Runs the task synchronously. A failed provider call still returns the completed execution record with its classified error.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string         `path:"task_id"`
		Body   RunTaskRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body ExecutionResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetUserTask(ctx, input.TaskID, userID); err != nil {
			return nil, handleError(err)
		}
		exec, err := e.Execute(ctx, input.TaskID, input.Body.CredentialID)
		if err != nil {
			var fault *provider.Fault
			if !errors.As(err, &fault) {
				return nil, handleError(err)
			}
			// fault is recorded on the execution row; return it
		}
		return &struct {
			Body ExecutionResponse `json:"body"`
		}{Body: executionResponse(exec)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-executions",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/executions",
		Summary:     "List executions for a task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Limit  int    `query:"limit" minimum:"1" maximum:"200" required:"false"`
		Cursor string `query:"cursor" required:"false"`
	}) (*struct {
		Body ExecutionListResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetUserTask(ctx, input.TaskID, userID); err != nil {
			return nil, handleError(err)
		}
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		filters := repo.ExecutionFilters{TaskID: input.TaskID, Limit: limit}
		if input.Cursor != "" {
			startedAt, id, err := decodeCursor(input.Cursor)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", nil)
			}
			filters.CursorStartedAt = startedAt
			filters.CursorID = id
		}
		items, err := e.Repo.ListExecutions(ctx, filters)
		if err != nil {
			return nil, handleError(err)
		}
		resp := ExecutionListResponse{Items: mapExecutions(items)}
		if len(items) == limit {
			last := items[len(items)-1]
			resp.NextCursor = encodeCursor(last.StartedAt, last.ID)
		}
		return &struct {
			Body ExecutionListResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-execution",
		Method:      http.MethodGet,
		Path:        "/executions/{execution_id}",
		Summary:     "Get execution",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ExecutionID string `path:"execution_id"`
	}) (*struct {
		Body ExecutionResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		exec, err := getUserExecution(ctx, e, input.ExecutionID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ExecutionResponse `json:"body"`
		}{Body: executionResponse(exec)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-execution-result",
		Method:      http.MethodGet,
		Path:        "/executions/{execution_id}/result",
		Summary:     "Get execution result",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ExecutionID string `path:"execution_id"`
	}) (*struct {
		Body ResultResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := getUserExecution(ctx, e, input.ExecutionID, userID); err != nil {
			return nil, handleError(err)
		}
		res, err := e.Repo.GetResult(ctx, input.ExecutionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ResultResponse `json:"body"`
		}{Body: resultResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-execution",
		Method:      http.MethodPost,
		Path:        "/executions/{execution_id}/cancel",
		Summary:     "Cancel a pending execution",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ExecutionID string `path:"execution_id"`
	}) (*struct {
		Body ExecutionResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		exec, err := e.Cancel(ctx, input.ExecutionID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ExecutionResponse `json:"body"`
		}{Body: executionResponse(exec)}, nil
	})
}

func registerSweeps(api huma.API, s *scheduler.Scheduler) {
	huma.Register(api, huma.Operation{
		OperationID: "run-sweep",
		Method:      http.MethodPost,
		Path:        "/sweeps/{frequency}",
		Summary:     "Run a cadence sweep now",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Frequency string `path:"frequency" enum:"daily,weekly,monthly"`
	}) (*struct {
		Body SweepResponse `json:"body"`
	}, error) {
		freq := domain.TaskFrequency(input.Frequency)
		switch freq {
		case domain.FrequencyDaily, domain.FrequencyWeekly, domain.FrequencyMonthly:
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown sweep frequency "+input.Frequency, nil)
		}
		if s == nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", "scheduler not configured", nil)
		}
		outcomes, err := s.Sweep(ctx, freq)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SweepResponse `json:"body"`
		}{Body: SweepResponse{Frequency: input.Frequency, Outcomes: outcomes}}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key",
		Description:   "The raw key is returned once and never stored.",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		key, raw, err := e.CreateAPIKey(ctx, userID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{ID: key.ID, Name: key.Name, Key: raw, CreatedAt: key.CreatedAt}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListAPIKeys(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeyResponse, 0, len(items))
		for _, k := range items {
			out = append(out, APIKeyResponse{ID: k.ID, Name: k.Name, CreatedAt: k.CreatedAt})
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-api-key",
		Method:        http.MethodDelete,
		Path:          "/apikeys/{key_id}",
		Summary:       "Revoke API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.Repo.ListAPIKeys(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		for _, k := range keys {
			if k.ID == input.KeyID {
				if err := e.Repo.DeleteAPIKey(ctx, k.ID); err != nil {
					return nil, handleError(err)
				}
				return &struct{}{}, nil
			}
		}
		return nil, newAPIError(http.StatusNotFound, "not_found", "api key not found", nil)
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List audit events",
	}, func(ctx context.Context, input *struct {
		EntityKind string `query:"entity_kind" required:"false"`
		EntityID   string `query:"entity_id" required:"false"`
		Limit      int    `query:"limit" minimum:"1" maximum:"500" required:"false"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := input.Limit
		if limit <= 0 {
			limit = 100
		}
		items, err := e.Repo.ListEvents(ctx, repo.EventFilters{
			UserID:     userID,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Limit:      limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

// getUserExecution loads an execution and enforces that its task belongs to
// the caller. Foreign executions surface as not found.
func getUserExecution(ctx context.Context, e engine.Engine, executionID, userID string) (domain.TaskExecution, error) {
	exec, err := e.Repo.GetExecution(ctx, executionID)
	if err != nil {
		return domain.TaskExecution{}, err
	}
	if _, err := e.Repo.GetUserTask(ctx, exec.TaskID, userID); err != nil {
		return domain.TaskExecution{}, err
	}
	return exec, nil
}

func nowStamp(e engine.Engine) string {
	return e.Now().UTC().Format(time.RFC3339)
}

func marshalParams(params map[string]any) (string, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func encodeCursor(startedAt, id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(startedAt + "|" + id))
}

func decodeCursor(cursor string) (startedAt, id string, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", "", err
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("malformed cursor")
	}
	return parts[0], parts[1], nil
}
