package repo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ryanoZphoto/aws/internal/db"
	"github.com/ryanoZphoto/aws/internal/domain"
	"github.com/ryanoZphoto/aws/internal/migrate"
	"github.com/ryanoZphoto/aws/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func stamp() string { return time.Now().UTC().Format(time.RFC3339) }

func newCredential(userID, name string, isDefault bool) domain.Credential {
	now := stamp()
	return domain.Credential{
		ID: uuid.NewString(), UserID: userID, Name: name,
		AccessKeyID: "enc-ak", SecretAccessKey: "enc-sk",
		Region: "us-east-1", IsDefault: isDefault, IsActive: true,
		CreatedAt: now, UpdatedAt: now,
	}
}

func newTask(userID string, freq domain.TaskFrequency) domain.Task {
	now := stamp()
	return domain.Task{
		ID: uuid.NewString(), UserID: userID, Name: "t",
		Service: "s3", Operation: "ListBuckets",
		Frequency: freq, IsActive: true, CreatedAt: now, UpdatedAt: now,
	}
}

func TestSingleDefaultCredentialPerUser(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	a := newCredential("u-1", "a", true)
	b := newCredential("u-1", "b", true)
	other := newCredential("u-2", "c", true)
	for _, c := range []domain.Credential{a, b, other} {
		if err := r.InsertCredential(ctx, c); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	// inserting b as default cleared a
	got, err := r.GetDefaultCredential(ctx, "u-1")
	if err != nil {
		t.Fatalf("get default: %v", err)
	}
	if got.ID != b.ID {
		t.Fatalf("default = %s want %s", got.ID, b.ID)
	}
	// u-2's default is untouched
	if got, err = r.GetDefaultCredential(ctx, "u-2"); err != nil || got.ID != other.ID {
		t.Fatalf("u-2 default = %v %v", got.ID, err)
	}

	// promoting a via update clears b
	yes := true
	if err := r.UpdateCredential(ctx, a.ID, "u-1", repo.CredentialPatch{IsDefault: &yes, UpdatedAt: stamp()}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got, err = r.GetDefaultCredential(ctx, "u-1"); err != nil || got.ID != a.ID {
		t.Fatalf("default after update = %v %v", got.ID, err)
	}

	// deactivating the default means no default resolves
	no := false
	if err := r.UpdateCredential(ctx, a.ID, "u-1", repo.CredentialPatch{IsActive: &no, UpdatedAt: stamp()}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.GetDefaultCredential(ctx, "u-1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("inactive default should not resolve, got %v", err)
	}
}

func TestCredentialOwnerScoping(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	c := newCredential("u-1", "a", false)
	if err := r.InsertCredential(ctx, c); err != nil {
		t.Fatal(err)
	}
	if _, err := r.GetCredential(ctx, c.ID, "u-2"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("foreign credential visible: %v", err)
	}
	if err := r.DeleteCredential(ctx, c.ID, "u-2"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("foreign credential deletable: %v", err)
	}
}

func TestDeleteTaskCascades(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	task := newTask("u-1", domain.FrequencyDaily)
	if err := r.InsertTask(ctx, task); err != nil {
		t.Fatal(err)
	}
	exec := domain.TaskExecution{ID: uuid.NewString(), TaskID: task.ID, Status: domain.StatusRunning, StartedAt: stamp()}
	tx, err := r.DB.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if err := r.InsertExecutionTx(ctx, tx, exec); err != nil {
		t.Fatal(err)
	}
	res := domain.TaskResult{ID: uuid.NewString(), ExecutionID: exec.ID, DataJSON: `{"ok":true}`, CreatedAt: stamp()}
	if err := r.CompleteExecutionSuccessTx(ctx, tx, exec.ID, stamp(), res); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	if err := r.DeleteTask(ctx, task.ID, "u-1"); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	if _, err := r.GetExecution(ctx, exec.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("execution survived cascade: %v", err)
	}
	if _, err := r.GetResult(ctx, exec.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("result survived cascade: %v", err)
	}
}

func TestExecutionStatusGuards(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	task := newTask("u-1", domain.FrequencyOnDemand)
	if err := r.InsertTask(ctx, task); err != nil {
		t.Fatal(err)
	}

	exec := domain.TaskExecution{ID: uuid.NewString(), TaskID: task.ID, Status: domain.StatusPending, StartedAt: stamp()}
	tx, _ := r.DB.Begin()
	if err := r.InsertExecutionTx(ctx, tx, exec); err != nil {
		t.Fatal(err)
	}
	tx.Commit()

	if err := r.MarkExecutionRunning(ctx, exec.ID, stamp()); err != nil {
		t.Fatalf("promote pending: %v", err)
	}
	// promoting twice fails
	if err := r.MarkExecutionRunning(ctx, exec.ID, stamp()); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("double promote: %v", err)
	}
	// cancelling a running execution fails
	tx, _ = r.DB.Begin()
	if err := r.CancelExecutionTx(ctx, tx, exec.ID, stamp()); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("cancel running: %v", err)
	}
	tx.Rollback()

	// completing failure flips running to failed
	tx, _ = r.DB.Begin()
	if err := r.CompleteExecutionFailureTx(ctx, tx, exec.ID, stamp(), "provider: boom", "provider"); err != nil {
		t.Fatalf("complete failure: %v", err)
	}
	tx.Commit()
	got, err := r.GetExecution(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusFailed || got.ErrorKind == nil || *got.ErrorKind != "provider" {
		t.Fatalf("execution = %+v", got)
	}

	// a terminal execution cannot be completed again
	tx, _ = r.DB.Begin()
	if err := r.CompleteExecutionFailureTx(ctx, tx, exec.ID, stamp(), "again", "provider"); err == nil {
		t.Fatal("terminal execution completed twice")
	}
	tx.Rollback()
}

func TestListExecutionsCursor(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	task := newTask("u-1", domain.FrequencyOnDemand)
	if err := r.InsertTask(ctx, task); err != nil {
		t.Fatal(err)
	}
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 5; i++ {
		exec := domain.TaskExecution{
			ID: uuid.NewString(), TaskID: task.ID, Status: domain.StatusSuccess,
			StartedAt: base.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
		}
		tx, _ := r.DB.Begin()
		if err := r.InsertExecutionTx(ctx, tx, exec); err != nil {
			t.Fatal(err)
		}
		tx.Commit()
		ids = append(ids, exec.ID)
	}

	page1, err := r.ListExecutions(ctx, repo.ExecutionFilters{TaskID: task.ID, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page1) != 2 || page1[0].ID != ids[4] || page1[1].ID != ids[3] {
		t.Fatalf("page1 = %+v", page1)
	}
	page2, err := r.ListExecutions(ctx, repo.ExecutionFilters{
		TaskID: task.ID, Limit: 2,
		CursorStartedAt: page1[1].StartedAt, CursorID: page1[1].ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(page2) != 2 || page2[0].ID != ids[2] || page2[1].ID != ids[1] {
		t.Fatalf("page2 = %+v", page2)
	}
}

func TestListDueTasks(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	daily := newTask("u-1", domain.FrequencyDaily)
	weekly := newTask("u-1", domain.FrequencyWeekly)
	inactive := newTask("u-1", domain.FrequencyDaily)
	inactive.IsActive = false
	for _, task := range []domain.Task{daily, weekly, inactive} {
		if err := r.InsertTask(ctx, task); err != nil {
			t.Fatal(err)
		}
	}
	due, err := r.ListDueTasks(ctx, domain.FrequencyDaily)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ID != daily.ID {
		t.Fatalf("due = %+v", due)
	}
}
