package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ryanoZphoto/aws/internal/domain"
)

const executionColumns = `id,task_id,status,started_at,completed_at,error_message,error_kind,job_id`

func scanExecution(scan func(dest ...any) error) (domain.TaskExecution, error) {
	var e domain.TaskExecution
	var completedAt, errMsg, errKind, jobID sql.NullString
	err := scan(&e.ID, &e.TaskID, &e.Status, &e.StartedAt, &completedAt, &errMsg, &errKind, &jobID)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if completedAt.Valid {
		e.CompletedAt = &completedAt.String
	}
	if errMsg.Valid {
		e.ErrorMessage = &errMsg.String
	}
	if errKind.Valid {
		e.ErrorKind = &errKind.String
	}
	if jobID.Valid {
		e.JobID = &jobID.String
	}
	return e, nil
}

func (r Repo) InsertExecutionTx(ctx context.Context, tx *sql.Tx, e domain.TaskExecution) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_executions(`+executionColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		e.ID, e.TaskID, string(e.Status), e.StartedAt, nullableStringPtr(e.CompletedAt),
		nullableStringPtr(e.ErrorMessage), nullableStringPtr(e.ErrorKind), nullableStringPtr(e.JobID))
	return err
}

func (r Repo) GetExecution(ctx context.Context, id string) (domain.TaskExecution, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM task_executions WHERE id=?`, id)
	return scanExecution(row.Scan)
}

// MarkExecutionRunning promotes a pending execution. Fails with ErrNotFound
// when the row is absent or already past pending, so a cancelled queued job
// is never revived.
func (r Repo) MarkExecutionRunning(ctx context.Context, id, startedAt string) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE task_executions SET status=?, started_at=? WHERE id=? AND status=?`,
		string(domain.StatusRunning), startedAt, id, string(domain.StatusPending))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteExecutionSuccessTx writes the result row and flips the execution to
// success inside the caller's transaction, so a reader observes both or neither.
func (r Repo) CompleteExecutionSuccessTx(ctx context.Context, tx *sql.Tx, executionID, completedAt string, res domain.TaskResult) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO task_results(id,execution_id,data_json,metrics_json,request_id,created_at) VALUES (?,?,?,?,?,?)`,
		res.ID, executionID, res.DataJSON, nullableStringPtr(res.MetricsJSON), nullableStringPtr(res.RequestID), res.CreatedAt); err != nil {
		return fmt.Errorf("insert task result: %w", err)
	}
	out, err := tx.ExecContext(ctx,
		`UPDATE task_executions SET status=?, completed_at=? WHERE id=? AND status=?`,
		string(domain.StatusSuccess), completedAt, executionID, string(domain.StatusRunning))
	if err != nil {
		return err
	}
	if n, _ := out.RowsAffected(); n == 0 {
		return fmt.Errorf("execution %s not running", executionID)
	}
	return nil
}

// CompleteExecutionFailureTx records a classified failure inside the caller's
// transaction. No result row is written on this path.
func (r Repo) CompleteExecutionFailureTx(ctx context.Context, tx *sql.Tx, executionID, completedAt, errorMessage, errorKind string) error {
	out, err := tx.ExecContext(ctx,
		`UPDATE task_executions SET status=?, completed_at=?, error_message=?, error_kind=? WHERE id=? AND status=?`,
		string(domain.StatusFailed), completedAt, errorMessage, errorKind, executionID, string(domain.StatusRunning))
	if err != nil {
		return err
	}
	if n, _ := out.RowsAffected(); n == 0 {
		return fmt.Errorf("execution %s not running", executionID)
	}
	return nil
}

// CancelExecutionTx flips a pending execution to cancelled. Pending is the
// only state cancellation is reachable from.
func (r Repo) CancelExecutionTx(ctx context.Context, tx *sql.Tx, id, completedAt string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE task_executions SET status=?, completed_at=? WHERE id=? AND status=?`,
		string(domain.StatusCancelled), completedAt, id, string(domain.StatusPending))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ExecutionFilters page through a task's executions, most recent first.
type ExecutionFilters struct {
	TaskID          string
	Limit           int
	CursorStartedAt string
	CursorID        string
}

func (r Repo) ListExecutions(ctx context.Context, f ExecutionFilters) ([]domain.TaskExecution, error) {
	clauses := []string{"task_id=?"}
	args := []any{f.TaskID}
	if f.CursorStartedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(started_at < ? OR (started_at = ? AND id < ?))")
		args = append(args, f.CursorStartedAt, f.CursorStartedAt, f.CursorID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := `SELECT ` + executionColumns + ` FROM task_executions ` + where + ` ORDER BY started_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskExecution
	for rows.Next() {
		e, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// GetResult returns the result row for an execution, if any.
func (r Repo) GetResult(ctx context.Context, executionID string) (domain.TaskResult, error) {
	var t domain.TaskResult
	var metrics, requestID sql.NullString
	err := r.DB.QueryRowContext(ctx,
		`SELECT id,execution_id,data_json,metrics_json,request_id,created_at FROM task_results WHERE execution_id=?`, executionID).
		Scan(&t.ID, &t.ExecutionID, &t.DataJSON, &metrics, &requestID, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if metrics.Valid {
		t.MetricsJSON = &metrics.String
	}
	if requestID.Valid {
		t.RequestID = &requestID.String
	}
	return t, nil
}

// CountResults returns how many result rows exist for an execution.
func (r Repo) CountResults(ctx context.Context, executionID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM task_results WHERE execution_id=?`, executionID).Scan(&n)
	return n, err
}
