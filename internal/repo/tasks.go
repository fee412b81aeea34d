package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ryanoZphoto/aws/internal/domain"
)

const taskColumns = `id,user_id,name,description,service,operation,params_json,frequency,is_active,created_at,updated_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var description, paramsJSON sql.NullString
	var isActive int
	err := scan(&t.ID, &t.UserID, &t.Name, &description, &t.Service, &t.Operation,
		&paramsJSON, &t.Frequency, &isActive, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if description.Valid {
		t.Description = description.String
	}
	if paramsJSON.Valid {
		t.ParamsJSON = &paramsJSON.String
	}
	t.IsActive = isActive != 0
	return t, nil
}

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.UserID, t.Name, nullable(t.Description), t.Service, t.Operation,
		nullableStringPtr(t.ParamsJSON), string(t.Frequency), boolToInt(t.IsActive), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) InsertTask(ctx context.Context, t domain.Task) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.InsertTaskTx(ctx, tx, t); err != nil {
		return err
	}
	return tx.Commit()
}

// GetTask fetches a task by id, regardless of owner. Engine and scheduler
// paths use this; the server scopes through GetUserTask.
func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

// GetUserTask fetches a task scoped to its owner.
func (r Repo) GetUserTask(ctx context.Context, id, userID string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=? AND user_id=?`, id, userID)
	return scanTask(row.Scan)
}

// TaskFilters narrow ListTasks; zero values are ignored.
type TaskFilters struct {
	UserID     string
	Frequency  domain.TaskFrequency
	ActiveOnly bool
	Limit      int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.Frequency != "" {
		clauses = append(clauses, "frequency=?")
		args = append(args, string(f.Frequency))
	}
	if f.ActiveOnly {
		clauses = append(clauses, "is_active=1")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// ListDueTasks returns active tasks matching a cadence, for one sweep.
func (r Repo) ListDueTasks(ctx context.Context, freq domain.TaskFrequency) ([]domain.Task, error) {
	return r.ListTasks(ctx, TaskFilters{Frequency: freq, ActiveOnly: true})
}

// TaskPatch is a partial task update. Nil fields are left as-is.
type TaskPatch struct {
	Name        *string
	Description *string
	Service     *string
	Operation   *string
	ParamsJSON  *string
	Frequency   *domain.TaskFrequency
	IsActive    *bool
	UpdatedAt   string
}

func (r Repo) UpdateTask(ctx context.Context, id, userID string, p TaskPatch) error {
	var (
		fields []string
		args   []any
	)
	if p.Name != nil {
		fields = append(fields, "name=?")
		args = append(args, *p.Name)
	}
	if p.Description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*p.Description))
	}
	if p.Service != nil {
		fields = append(fields, "service=?")
		args = append(args, *p.Service)
	}
	if p.Operation != nil {
		fields = append(fields, "operation=?")
		args = append(args, *p.Operation)
	}
	if p.ParamsJSON != nil {
		fields = append(fields, "params_json=?")
		args = append(args, nullable(*p.ParamsJSON))
	}
	if p.Frequency != nil {
		fields = append(fields, "frequency=?")
		args = append(args, string(*p.Frequency))
	}
	if p.IsActive != nil {
		fields = append(fields, "is_active=?")
		args = append(args, boolToInt(*p.IsActive))
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, p.UpdatedAt, id, userID)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE tasks SET %s WHERE id=? AND user_id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTask removes a task and, via cascade, its executions and results.
func (r Repo) DeleteTask(ctx context.Context, id, userID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM tasks WHERE id=? AND user_id=?`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUserTasks removes every task owned by a user (owner deletion cascade).
func (r Repo) DeleteUserTasks(ctx context.Context, userID string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM tasks WHERE user_id=?`, userID)
	return err
}
