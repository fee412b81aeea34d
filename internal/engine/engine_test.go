package engine_test

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ryanoZphoto/aws/internal/config"
	"github.com/ryanoZphoto/aws/internal/db"
	"github.com/ryanoZphoto/aws/internal/domain"
	"github.com/ryanoZphoto/aws/internal/engine"
	"github.com/ryanoZphoto/aws/internal/migrate"
	"github.com/ryanoZphoto/aws/internal/provider"
	"github.com/ryanoZphoto/aws/internal/repo"
	"github.com/ryanoZphoto/aws/internal/secrets"
)

type testEnv struct {
	Engine    engine.Engine
	Transport *fakeTransport
	Ctx       context.Context
}

// fakeTransport records the last call and returns a canned response or fault.
type fakeTransport struct {
	sess    provider.Session
	service string
	action  string
	params  map[string]any
	calls   int
	resp    provider.Response
	err     error
}

func (f *fakeTransport) Call(_ context.Context, service, action string, params map[string]any) (provider.Response, error) {
	f.calls++
	f.service, f.action, f.params = service, action, params
	if f.err != nil {
		return provider.Response{}, f.err
	}
	return f.resp, nil
}

func testCipher(t *testing.T) *secrets.Cipher {
	t.Helper()
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		t.Fatal(err)
	}
	c, err := secrets.New(base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	return c
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ft := &fakeTransport{resp: provider.Response{Data: json.RawMessage(`{"Buckets":[]}`), RequestID: "req-1"}}
	eng := engine.New(conn, config.Default(), testCipher(t))
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	eng.Transport = func(sess provider.Session) provider.Transport {
		ft.sess = sess
		return ft
	}
	return testEnv{Engine: eng, Transport: ft, Ctx: context.Background()}
}

func seedCredential(t *testing.T, env testEnv) domain.Credential {
	t.Helper()
	cred, err := env.Engine.CreateCredential(env.Ctx, engine.CredentialCreateOptions{
		UserID:          "u-1",
		Name:            "primary",
		AccessKeyID:     "AKIAEXAMPLE",
		SecretAccessKey: "secret-material",
		Region:          "eu-west-1",
	})
	if err != nil {
		t.Fatalf("create credential: %v", err)
	}
	return cred
}

func seedTask(t *testing.T, env testEnv) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		UserID:    "u-1",
		Name:      "inventory buckets",
		Service:   "s3",
		Operation: "list_buckets",
		Params:    map[string]any{"MaxBuckets": 50},
		Frequency: domain.FrequencyDaily,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestCreateCredentialEncryptsAndDefaults(t *testing.T) {
	env := newTestEnv(t)
	cred := seedCredential(t, env)

	if !cred.IsDefault {
		t.Error("first credential should become the default")
	}
	stored, err := env.Engine.Repo.GetCredential(env.Ctx, cred.ID, "u-1")
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if stored.AccessKeyID == "AKIAEXAMPLE" || stored.SecretAccessKey == "secret-material" {
		t.Fatal("secret fields must not be stored in clear")
	}

	second, err := env.Engine.CreateCredential(env.Ctx, engine.CredentialCreateOptions{
		UserID: "u-1", Name: "secondary", AccessKeyID: "AKIA2", SecretAccessKey: "s2", IsDefault: true,
	})
	if err != nil {
		t.Fatalf("create second credential: %v", err)
	}
	if !second.IsDefault {
		t.Error("second credential should be default when asked")
	}
	first, err := env.Engine.Repo.GetCredential(env.Ctx, cred.ID, "u-1")
	if err != nil {
		t.Fatal(err)
	}
	if first.IsDefault {
		t.Error("previous default should be cleared")
	}
	if second.Region != "us-east-1" {
		t.Errorf("region should default from config, got %s", second.Region)
	}
}

func TestSetDefaultCredential(t *testing.T) {
	env := newTestEnv(t)
	first := seedCredential(t, env)
	second, err := env.Engine.CreateCredential(env.Ctx, engine.CredentialCreateOptions{
		UserID: "u-1", Name: "secondary", AccessKeyID: "AKIA2", SecretAccessKey: "s2",
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := env.Engine.SetDefaultCredential(env.Ctx, second.ID, "u-1")
	if err != nil {
		t.Fatalf("set default: %v", err)
	}
	if !got.IsDefault {
		t.Error("credential should be default after transfer")
	}
	prev, err := env.Engine.Repo.GetCredential(env.Ctx, first.ID, "u-1")
	if err != nil {
		t.Fatal(err)
	}
	if prev.IsDefault {
		t.Error("previous default should be cleared")
	}

	evts, err := env.Engine.Repo.ListEvents(env.Ctx, repo.EventFilters{EntityKind: "credential", EntityID: second.ID})
	if err != nil {
		t.Fatal(err)
	}
	var seen bool
	for _, e := range evts {
		if e.Type == "credential.default_changed" {
			seen = true
		}
	}
	if !seen {
		t.Error("default transfer should be audited")
	}

	// a foreign user cannot transfer the default
	if _, err := env.Engine.SetDefaultCredential(env.Ctx, second.ID, "u-2"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExecuteSuccess(t *testing.T) {
	env := newTestEnv(t)
	seedCredential(t, env)
	task := seedTask(t, env)

	exec, err := env.Engine.Execute(env.Ctx, task.ID, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != domain.StatusSuccess {
		t.Fatalf("status = %s", exec.Status)
	}
	if exec.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}

	// the transport saw the decrypted session and merged params
	if env.Transport.sess.AccessKeyID != "AKIAEXAMPLE" || env.Transport.sess.SecretAccessKey != "secret-material" {
		t.Error("session should carry decrypted credentials")
	}
	if env.Transport.sess.Region != "eu-west-1" {
		t.Errorf("session region = %s", env.Transport.sess.Region)
	}
	if env.Transport.action != "ListBuckets" || env.Transport.service != "s3" {
		t.Errorf("transport saw %s/%s", env.Transport.service, env.Transport.action)
	}
	if env.Transport.params["MaxBuckets"] != float64(50) {
		t.Errorf("task params not forwarded: %v", env.Transport.params)
	}

	res, err := env.Engine.Repo.GetResult(env.Ctx, exec.ID)
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	var envelope provider.Result
	if err := json.Unmarshal([]byte(res.DataJSON), &envelope); err != nil {
		t.Fatalf("result data: %v", err)
	}
	if envelope.Service != "s3" || envelope.Operation != "ListBuckets" || !envelope.Success {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
	if res.RequestID == nil || *res.RequestID != "req-1" {
		t.Error("request id not persisted")
	}
	if n, _ := env.Engine.Repo.CountResults(env.Ctx, exec.ID); n != 1 {
		t.Fatalf("results per execution = %d", n)
	}
}

func TestExecuteProviderFailure(t *testing.T) {
	env := newTestEnv(t)
	seedCredential(t, env)
	task := seedTask(t, env)
	env.Transport.err = provider.NewFault(provider.FaultPermission, "AccessDenied", "not allowed")

	exec, err := env.Engine.Execute(env.Ctx, task.ID, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var f *provider.Fault
	if !errors.As(err, &f) || f.Kind != provider.FaultPermission {
		t.Fatalf("expected permission fault, got %v", err)
	}
	if exec.Status != domain.StatusFailed {
		t.Fatalf("status = %s", exec.Status)
	}
	if exec.ErrorKind == nil || *exec.ErrorKind != "permission" {
		t.Fatalf("error kind = %v", exec.ErrorKind)
	}
	if exec.ErrorMessage == nil || !strings.Contains(*exec.ErrorMessage, "AccessDenied") {
		t.Fatalf("error message = %v", exec.ErrorMessage)
	}
	// no result row on the failure path
	if _, err := env.Engine.Repo.GetResult(env.Ctx, exec.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected no result, got %v", err)
	}
	// the row is durable and terminal
	stored, err := env.Engine.Repo.GetExecution(env.Ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.Status.Terminal() {
		t.Fatalf("stored status %s not terminal", stored.Status)
	}
}

// stallingTransport blocks until the caller's context expires.
type stallingTransport struct{}

func (stallingTransport) Call(ctx context.Context, _, _ string, _ map[string]any) (provider.Response, error) {
	<-ctx.Done()
	return provider.Response{}, ctx.Err()
}

func TestExecuteTimeoutRecordsFailure(t *testing.T) {
	env := newTestEnv(t)
	seedCredential(t, env)
	task := seedTask(t, env)
	env.Engine.Transport = func(provider.Session) provider.Transport { return stallingTransport{} }

	ctx, cancel := context.WithTimeout(env.Ctx, 50*time.Millisecond)
	defer cancel()
	exec, err := env.Engine.Execute(ctx, task.ID, nil)

	var f *provider.Fault
	if !errors.As(err, &f) {
		t.Fatalf("expected classified fault, got %v", err)
	}
	if f.Kind != provider.FaultProvider || f.Code != "RequestTimeout" {
		t.Fatalf("fault = %s/%s", f.Kind, f.Code)
	}
	if exec.Status != domain.StatusFailed {
		t.Fatalf("status = %s", exec.Status)
	}

	// the row must not be left running after the deadline fired
	stored, err := env.Engine.Repo.GetExecution(env.Ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.StatusFailed {
		t.Fatalf("stored status = %s", stored.Status)
	}
	if stored.ErrorKind == nil || *stored.ErrorKind != "provider" {
		t.Fatalf("error kind = %v", stored.ErrorKind)
	}
	if stored.ErrorMessage == nil || !strings.Contains(*stored.ErrorMessage, "RequestTimeout") {
		t.Fatalf("error message = %v", stored.ErrorMessage)
	}
}

func TestExecuteNoCredential(t *testing.T) {
	env := newTestEnv(t)
	task := seedTask(t, env)

	exec, err := env.Engine.Execute(env.Ctx, task.ID, nil)
	var f *provider.Fault
	if !errors.As(err, &f) || f.Kind != provider.FaultNoCredential {
		t.Fatalf("expected no_credential fault, got %v", err)
	}
	if exec.Status != domain.StatusFailed {
		t.Fatalf("status = %s", exec.Status)
	}
	if env.Transport.calls != 0 {
		t.Error("provider must not be called without a credential")
	}
}

func TestExecuteExplicitCredential(t *testing.T) {
	env := newTestEnv(t)
	seedCredential(t, env)
	other, err := env.Engine.CreateCredential(env.Ctx, engine.CredentialCreateOptions{
		UserID: "u-1", Name: "audit", AccessKeyID: "AKIA-AUDIT", SecretAccessKey: "s-audit", Region: "us-west-2",
	})
	if err != nil {
		t.Fatal(err)
	}
	task := seedTask(t, env)

	if _, err := env.Engine.Execute(env.Ctx, task.ID, &other.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if env.Transport.sess.AccessKeyID != "AKIA-AUDIT" {
		t.Error("explicit credential should win over the default")
	}

	// a credential belonging to another user is invisible
	missing := "nonexistent"
	_, err = env.Engine.Execute(env.Ctx, task.ID, &missing)
	var f *provider.Fault
	if !errors.As(err, &f) || f.Kind != provider.FaultNoCredential {
		t.Fatalf("expected no_credential fault, got %v", err)
	}
}

func TestExecuteUnsupportedOperation(t *testing.T) {
	env := newTestEnv(t)
	seedCredential(t, env)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		UserID: "u-1", Name: "bad", Service: "s3", Operation: "delete_bucket",
	})
	if err != nil {
		t.Fatal(err)
	}
	exec, err := env.Engine.Execute(env.Ctx, task.ID, nil)
	var f *provider.Fault
	if !errors.As(err, &f) || f.Kind != provider.FaultUnsupportedOperation {
		t.Fatalf("expected unsupported_operation fault, got %v", err)
	}
	if exec.Status != domain.StatusFailed {
		t.Fatalf("status = %s", exec.Status)
	}
}

func TestEnqueueAndExecutePending(t *testing.T) {
	env := newTestEnv(t)
	seedCredential(t, env)
	task := seedTask(t, env)

	exec, err := env.Engine.Enqueue(env.Ctx, task.ID, "job-42")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if exec.Status != domain.StatusPending {
		t.Fatalf("status = %s", exec.Status)
	}
	if exec.JobID == nil || *exec.JobID != "job-42" {
		t.Fatalf("job id = %v", exec.JobID)
	}

	done, err := env.Engine.ExecutePending(env.Ctx, exec.ID, nil)
	if err != nil {
		t.Fatalf("execute pending: %v", err)
	}
	if done.Status != domain.StatusSuccess {
		t.Fatalf("status = %s", done.Status)
	}

	// already-terminal executions cannot be promoted again
	if _, err := env.Engine.ExecutePending(env.Ctx, exec.ID, nil); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCancelPendingOnly(t *testing.T) {
	env := newTestEnv(t)
	seedCredential(t, env)
	task := seedTask(t, env)

	exec, err := env.Engine.Enqueue(env.Ctx, task.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	cancelled, err := env.Engine.Cancel(env.Ctx, exec.ID, "u-1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.StatusCancelled {
		t.Fatalf("status = %s", cancelled.Status)
	}

	// a cancelled execution is not promotable
	if _, err := env.Engine.ExecutePending(env.Ctx, exec.ID, nil); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("cancelled execution revived: %v", err)
	}

	// terminal executions cannot be cancelled
	done, err := env.Engine.Execute(env.Ctx, task.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Cancel(env.Ctx, done.ID, "u-1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// ownership is enforced
	other, err := env.Engine.Enqueue(env.Ctx, task.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Cancel(env.Ctx, other.ID, "u-2"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("foreign user should not cancel, got %v", err)
	}
}

func TestCreateAPIKey(t *testing.T) {
	env := newTestEnv(t)
	key, raw, err := env.Engine.CreateAPIKey(env.Ctx, "u-1", "ci")
	if err != nil {
		t.Fatalf("create api key: %v", err)
	}
	if !strings.HasPrefix(raw, "ak_") {
		t.Errorf("raw key = %q", raw)
	}
	stored, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(raw))
	if err != nil {
		t.Fatalf("lookup by hash: %v", err)
	}
	if stored.ID != key.ID || stored.UserID != "u-1" {
		t.Fatalf("stored key mismatch: %+v", stored)
	}
	if stored.KeyHash == raw {
		t.Error("raw key must not be stored")
	}
}
