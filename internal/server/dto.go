package server

import (
	"encoding/json"

	"github.com/ryanoZphoto/aws/internal/domain"
	"github.com/ryanoZphoto/aws/internal/scheduler"
)

// Request payloads

type CreateCredentialRequest struct {
	Name            string  `json:"name"`
	AccessKeyID     string  `json:"access_key_id"`
	SecretAccessKey string  `json:"secret_access_key"`
	SessionToken    *string `json:"session_token,omitempty"`
	Region          *string `json:"region,omitempty"`
	RoleARN         *string `json:"role_arn,omitempty"`
	IsDefault       bool    `json:"is_default,omitempty"`
}

type UpdateCredentialRequest struct {
	Name      *string `json:"name,omitempty"`
	Region    *string `json:"region,omitempty"`
	RoleARN   *string `json:"role_arn,omitempty"`
	IsDefault *bool   `json:"is_default,omitempty"`
	IsActive  *bool   `json:"is_active,omitempty"`
}

type CreateTaskRequest struct {
	Name        string         `json:"name"`
	Description *string        `json:"description,omitempty"`
	Service     string         `json:"service"`
	Operation   string         `json:"operation"`
	Params      map[string]any `json:"params,omitempty"`
	Frequency   string         `json:"frequency,omitempty" enum:"daily,weekly,monthly,on_demand"`
}

type UpdateTaskRequest struct {
	Name        *string         `json:"name,omitempty"`
	Description *string         `json:"description,omitempty"`
	Service     *string         `json:"service,omitempty"`
	Operation   *string         `json:"operation,omitempty"`
	Params      *map[string]any `json:"params,omitempty"`
	Frequency   *string         `json:"frequency,omitempty" enum:"daily,weekly,monthly,on_demand"`
	IsActive    *bool           `json:"is_active,omitempty"`
}

type RunTaskRequest struct {
	CredentialID *string `json:"credential_id,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// Response payloads

type CredentialResponse struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Region    string  `json:"region"`
	RoleARN   *string `json:"role_arn,omitempty"`
	IsDefault bool    `json:"is_default"`
	IsActive  bool    `json:"is_active"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

type TaskResponse struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Service     string          `json:"service"`
	Operation   string          `json:"operation"`
	Params      json.RawMessage `json:"params,omitempty"`
	Frequency   string          `json:"frequency"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
}

type ExecutionResponse struct {
	ID           string  `json:"id"`
	TaskID       string  `json:"task_id"`
	Status       string  `json:"status"`
	StartedAt    string  `json:"started_at"`
	CompletedAt  *string `json:"completed_at,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
	ErrorKind    *string `json:"error_kind,omitempty"`
	JobID        *string `json:"job_id,omitempty"`
}

type ExecutionListResponse struct {
	Items      []ExecutionResponse `json:"items"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

type ResultResponse struct {
	ID          string          `json:"id"`
	ExecutionID string          `json:"execution_id"`
	Data        json.RawMessage `json:"data"`
	RequestID   *string         `json:"request_id,omitempty"`
	CreatedAt   string          `json:"created_at"`
}

type SweepResponse struct {
	Frequency string              `json:"frequency"`
	Outcomes  []scheduler.Outcome `json:"outcomes"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at"`
}

// Mapping helpers

func credentialResponse(c domain.Credential) CredentialResponse {
	return CredentialResponse{
		ID:        c.ID,
		Name:      c.Name,
		Region:    c.Region,
		RoleARN:   c.RoleARN,
		IsDefault: c.IsDefault,
		IsActive:  c.IsActive,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func mapCredentials(items []domain.Credential) []CredentialResponse {
	out := make([]CredentialResponse, 0, len(items))
	for _, c := range items {
		out = append(out, credentialResponse(c))
	}
	return out
}

func taskResponse(t domain.Task) TaskResponse {
	resp := TaskResponse{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Service:     t.Service,
		Operation:   t.Operation,
		Frequency:   string(t.Frequency),
		IsActive:    t.IsActive,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
	if t.ParamsJSON != nil {
		resp.Params = json.RawMessage(*t.ParamsJSON)
	}
	return resp
}

func mapTasks(items []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		out = append(out, taskResponse(t))
	}
	return out
}

func executionResponse(e domain.TaskExecution) ExecutionResponse {
	return ExecutionResponse{
		ID:           e.ID,
		TaskID:       e.TaskID,
		Status:       string(e.Status),
		StartedAt:    e.StartedAt,
		CompletedAt:  e.CompletedAt,
		ErrorMessage: e.ErrorMessage,
		ErrorKind:    e.ErrorKind,
		JobID:        e.JobID,
	}
}

func mapExecutions(items []domain.TaskExecution) []ExecutionResponse {
	out := make([]ExecutionResponse, 0, len(items))
	for _, e := range items {
		out = append(out, executionResponse(e))
	}
	return out
}

func resultResponse(r domain.TaskResult) ResultResponse {
	return ResultResponse{
		ID:          r.ID,
		ExecutionID: r.ExecutionID,
		Data:        json.RawMessage(r.DataJSON),
		RequestID:   r.RequestID,
		CreatedAt:   r.CreatedAt,
	}
}
