package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ryanoZphoto/aws/internal/config"
	"github.com/ryanoZphoto/aws/internal/domain"
	"github.com/ryanoZphoto/aws/internal/events"
	"github.com/ryanoZphoto/aws/internal/provider"
	"github.com/ryanoZphoto/aws/internal/repo"
	"github.com/ryanoZphoto/aws/internal/secrets"
)

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Cipher    *secrets.Cipher
	Config    *config.Config
	Transport provider.TransportFactory
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config, cipher *secrets.Cipher) Engine {
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{DB: db},
		Cipher:    cipher,
		Config:    cfg,
		Transport: provider.NewHTTPTransport,
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// CredentialCreateOptions are parameters for storing a credential.
type CredentialCreateOptions struct {
	UserID          string
	Name            string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
	RoleARN         string
	IsDefault       bool
}

// CreateCredential encrypts the secret fields and stores the credential.
// The first credential a user stores becomes their default automatically.
func (e Engine) CreateCredential(ctx context.Context, opts CredentialCreateOptions) (domain.Credential, error) {
	if opts.UserID == "" {
		return domain.Credential{}, errors.New("user is required")
	}
	if opts.Name == "" {
		return domain.Credential{}, errors.New("name is required")
	}
	if opts.AccessKeyID == "" || opts.SecretAccessKey == "" {
		return domain.Credential{}, errors.New("access key id and secret access key are required")
	}
	if opts.Region == "" {
		opts.Region = e.Config.Provider.DefaultRegion
	}
	existing, err := e.Repo.ListCredentials(ctx, opts.UserID)
	if err != nil {
		return domain.Credential{}, err
	}
	if len(existing) == 0 {
		opts.IsDefault = true
	}

	encKey, err := e.Cipher.Encrypt(opts.AccessKeyID)
	if err != nil {
		return domain.Credential{}, err
	}
	encSecret, err := e.Cipher.Encrypt(opts.SecretAccessKey)
	if err != nil {
		return domain.Credential{}, err
	}
	now := e.stamp()
	c := domain.Credential{
		ID:              uuid.NewString(),
		UserID:          opts.UserID,
		Name:            opts.Name,
		AccessKeyID:     encKey,
		SecretAccessKey: encSecret,
		Region:          opts.Region,
		IsDefault:       opts.IsDefault,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if opts.SessionToken != "" {
		encToken, err := e.Cipher.Encrypt(opts.SessionToken)
		if err != nil {
			return domain.Credential{}, err
		}
		c.SessionToken = &encToken
	}
	if opts.RoleARN != "" {
		c.RoleARN = &opts.RoleARN
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Credential{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertCredentialTx(ctx, tx, c); err != nil {
		return domain.Credential{}, fmt.Errorf("insert credential: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "credential.created", c.UserID, "credential", c.ID,
		events.EventPayload{"name": c.Name, "region": c.Region, "is_default": c.IsDefault}); err != nil {
		return domain.Credential{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Credential{}, err
	}
	return c, nil
}

// SetDefaultCredential transfers the default flag to the named credential and
// records the change.
func (e Engine) SetDefaultCredential(ctx context.Context, id, userID string) (domain.Credential, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Credential{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetDefaultCredentialTx(ctx, tx, id, userID, e.stamp()); err != nil {
		return domain.Credential{}, err
	}
	if err := e.Events.Append(ctx, tx, "credential.default_changed", userID, "credential", id, nil); err != nil {
		return domain.Credential{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Credential{}, err
	}
	return e.Repo.GetCredential(ctx, id, userID)
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	UserID      string
	Name        string
	Description string
	Service     string
	Operation   string
	Params      map[string]any
	Frequency   domain.TaskFrequency
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.UserID == "" {
		return domain.Task{}, errors.New("user is required")
	}
	if opts.Name == "" {
		return domain.Task{}, errors.New("name is required")
	}
	if opts.Service == "" || opts.Operation == "" {
		return domain.Task{}, errors.New("service and operation are required")
	}
	if opts.Frequency == "" {
		opts.Frequency = domain.FrequencyOnDemand
	}
	if !domain.ValidFrequency(opts.Frequency) {
		return domain.Task{}, fmt.Errorf("unknown frequency %q", opts.Frequency)
	}
	now := e.stamp()
	t := domain.Task{
		ID:          uuid.NewString(),
		UserID:      opts.UserID,
		Name:        opts.Name,
		Description: opts.Description,
		Service:     opts.Service,
		Operation:   opts.Operation,
		Frequency:   opts.Frequency,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if len(opts.Params) > 0 {
		data, err := json.Marshal(opts.Params)
		if err != nil {
			return domain.Task{}, fmt.Errorf("marshal params: %w", err)
		}
		s := string(data)
		t.ParamsJSON = &s
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "task.created", t.UserID, "task", t.ID,
		events.EventPayload{"name": t.Name, "service": t.Service, "operation": t.Operation, "frequency": string(t.Frequency)}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// Execute runs a task right now. The execution row is created running before
// any provider work, so every attempt leaves exactly one durable record even
// when the process dies mid-call. A classified failure is returned as error
// alongside the completed (failed) execution.
func (e Engine) Execute(ctx context.Context, taskID string, credentialID *string) (domain.TaskExecution, error) {
	task, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.TaskExecution{}, err
	}
	exec := domain.TaskExecution{
		ID:        uuid.NewString(),
		TaskID:    task.ID,
		Status:    domain.StatusRunning,
		StartedAt: e.stamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskExecution{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertExecutionTx(ctx, tx, exec); err != nil {
		return domain.TaskExecution{}, fmt.Errorf("insert execution: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "execution.started", task.UserID, "execution", exec.ID,
		events.EventPayload{"task_id": task.ID, "service": task.Service, "operation": task.Operation}); err != nil {
		return domain.TaskExecution{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TaskExecution{}, err
	}
	return e.run(ctx, task, exec, credentialID)
}

// Enqueue records a pending execution for later promotion by a worker.
func (e Engine) Enqueue(ctx context.Context, taskID, jobID string) (domain.TaskExecution, error) {
	task, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.TaskExecution{}, err
	}
	exec := domain.TaskExecution{
		ID:        uuid.NewString(),
		TaskID:    task.ID,
		Status:    domain.StatusPending,
		StartedAt: e.stamp(),
	}
	if jobID != "" {
		exec.JobID = &jobID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskExecution{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertExecutionTx(ctx, tx, exec); err != nil {
		return domain.TaskExecution{}, fmt.Errorf("insert execution: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "execution.enqueued", task.UserID, "execution", exec.ID,
		events.EventPayload{"task_id": task.ID, "job_id": jobID}); err != nil {
		return domain.TaskExecution{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TaskExecution{}, err
	}
	return exec, nil
}

// ExecutePending promotes a pending execution to running and runs it. A
// cancelled or already-promoted execution returns repo.ErrNotFound.
func (e Engine) ExecutePending(ctx context.Context, executionID string, credentialID *string) (domain.TaskExecution, error) {
	exec, err := e.Repo.GetExecution(ctx, executionID)
	if err != nil {
		return domain.TaskExecution{}, err
	}
	task, err := e.Repo.GetTask(ctx, exec.TaskID)
	if err != nil {
		return domain.TaskExecution{}, err
	}
	startedAt := e.stamp()
	if err := e.Repo.MarkExecutionRunning(ctx, executionID, startedAt); err != nil {
		return domain.TaskExecution{}, err
	}
	exec.Status = domain.StatusRunning
	exec.StartedAt = startedAt
	return e.run(ctx, task, exec, credentialID)
}

// Cancel flips a pending execution to cancelled. When userID is non-empty the
// execution must belong to one of that user's tasks.
func (e Engine) Cancel(ctx context.Context, executionID, userID string) (domain.TaskExecution, error) {
	exec, err := e.Repo.GetExecution(ctx, executionID)
	if err != nil {
		return domain.TaskExecution{}, err
	}
	task, err := e.Repo.GetTask(ctx, exec.TaskID)
	if err != nil {
		return domain.TaskExecution{}, err
	}
	if userID != "" && task.UserID != userID {
		return domain.TaskExecution{}, repo.ErrNotFound
	}
	completedAt := e.stamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskExecution{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.CancelExecutionTx(ctx, tx, executionID, completedAt); err != nil {
		return domain.TaskExecution{}, err
	}
	if err := e.Events.Append(ctx, tx, "execution.cancelled", task.UserID, "execution", executionID,
		events.EventPayload{"task_id": task.ID}); err != nil {
		return domain.TaskExecution{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TaskExecution{}, err
	}
	exec.Status = domain.StatusCancelled
	exec.CompletedAt = &completedAt
	return exec, nil
}

// run performs the provider call for an already-running execution and
// persists the terminal state. Failures are classified and recorded; they
// never leave the execution running, even when the caller's context expired
// during the provider call.
func (e Engine) run(ctx context.Context, task domain.Task, exec domain.TaskExecution, credentialID *string) (domain.TaskExecution, error) {
	result, fault := e.invoke(ctx, task, credentialID)
	completedAt := e.stamp()

	var data []byte
	if fault == nil {
		var err error
		data, err = json.Marshal(result)
		if err != nil {
			fault = provider.Classify(fmt.Errorf("marshal result: %w", err))
		}
	}

	// the terminal write must outlive caller cancellation: a timed-out call
	// is recorded as a failed execution, not abandoned in running
	ctx = context.WithoutCancel(ctx)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return exec, err
	}
	defer tx.Rollback()

	if fault != nil {
		msg := fault.Error()
		kind := string(fault.Kind)
		if err := e.Repo.CompleteExecutionFailureTx(ctx, tx, exec.ID, completedAt, msg, kind); err != nil {
			return exec, err
		}
		if err := e.Events.Append(ctx, tx, "execution.failed", task.UserID, "execution", exec.ID,
			events.EventPayload{"task_id": task.ID, "error_kind": kind, "error_code": fault.Code}); err != nil {
			return exec, err
		}
		if err := tx.Commit(); err != nil {
			return exec, err
		}
		exec.Status = domain.StatusFailed
		exec.CompletedAt = &completedAt
		exec.ErrorMessage = &msg
		exec.ErrorKind = &kind
		return exec, fault
	}

	res := domain.TaskResult{
		ID:          uuid.NewString(),
		ExecutionID: exec.ID,
		DataJSON:    string(data),
		CreatedAt:   completedAt,
	}
	if result.RequestID != "" {
		res.RequestID = &result.RequestID
	}
	if err := e.Repo.CompleteExecutionSuccessTx(ctx, tx, exec.ID, completedAt, res); err != nil {
		return exec, err
	}
	if err := e.Events.Append(ctx, tx, "execution.succeeded", task.UserID, "execution", exec.ID,
		events.EventPayload{"task_id": task.ID, "request_id": result.RequestID}); err != nil {
		return exec, err
	}
	if err := tx.Commit(); err != nil {
		return exec, err
	}
	exec.Status = domain.StatusSuccess
	exec.CompletedAt = &completedAt
	return exec, nil
}

// invoke resolves the credential, builds the adapter for the task's category
// and performs the provider call.
func (e Engine) invoke(ctx context.Context, task domain.Task, credentialID *string) (provider.Result, *provider.Fault) {
	cred, fault := e.resolveCredential(ctx, task.UserID, credentialID)
	if fault != nil {
		return provider.Result{}, fault
	}
	sess, err := e.session(cred)
	if err != nil {
		return provider.Result{}, provider.Classify(err)
	}

	params := map[string]any{}
	if task.ParamsJSON != nil && *task.ParamsJSON != "" {
		if err := json.Unmarshal([]byte(*task.ParamsJSON), &params); err != nil {
			return provider.Result{}, provider.NewFault(provider.FaultProvider, "", fmt.Sprintf("invalid task params: %v", err))
		}
	}
	params["service"] = task.Service

	category := provider.ResolveCategory(task.Service)
	adapter := provider.NewAdapter(category, e.Transport(sess))
	result, err := adapter.Invoke(ctx, task.Operation, params)
	if err != nil {
		return provider.Result{}, provider.Classify(err)
	}
	return result, nil
}

// resolveCredential picks the explicit credential when one is named,
// otherwise the user's active default. Missing either way is a no_credential
// fault, not a lookup error.
func (e Engine) resolveCredential(ctx context.Context, userID string, credentialID *string) (domain.Credential, *provider.Fault) {
	if credentialID != nil && *credentialID != "" {
		cred, err := e.Repo.GetCredential(ctx, *credentialID, userID)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Credential{}, provider.NewFault(provider.FaultNoCredential, "",
				fmt.Sprintf("credential %s not found", *credentialID))
		}
		if err != nil {
			return domain.Credential{}, provider.Classify(err)
		}
		return cred, nil
	}
	cred, err := e.Repo.GetDefaultCredential(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Credential{}, provider.NewFault(provider.FaultNoCredential, "", "no credentials found for user")
	}
	if err != nil {
		return domain.Credential{}, provider.Classify(err)
	}
	return cred, nil
}

// session decrypts the credential fields into a one-shot provider session.
func (e Engine) session(cred domain.Credential) (provider.Session, error) {
	accessKey, err := e.Cipher.Decrypt(cred.AccessKeyID)
	if err != nil {
		return provider.Session{}, err
	}
	secretKey, err := e.Cipher.Decrypt(cred.SecretAccessKey)
	if err != nil {
		return provider.Session{}, err
	}
	sess := provider.Session{
		AccessKeyID:     accessKey,
		SecretAccessKey: secretKey,
		Region:          cred.Region,
	}
	if sess.Region == "" {
		sess.Region = e.Config.Provider.DefaultRegion
	}
	if cred.SessionToken != nil {
		token, err := e.Cipher.Decrypt(*cred.SessionToken)
		if err != nil {
			return provider.Session{}, err
		}
		sess.SessionToken = token
	}
	if cred.RoleARN != nil {
		sess.RoleARN = *cred.RoleARN
	}
	return sess, nil
}

// CreateAPIKey mints a raw key, stores only its hash and returns the raw key
// once. It cannot be recovered later.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name string) (domain.APIKey, string, error) {
	if userID == "" {
		return domain.APIKey{}, "", errors.New("user is required")
	}
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return domain.APIKey{}, "", err
	}
	rawKey := "ak_" + hex.EncodeToString(raw)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(rawKey),
		CreatedAt: e.stamp(),
	}
	if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, rawKey, nil
}
