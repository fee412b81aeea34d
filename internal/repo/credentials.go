package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ryanoZphoto/aws/internal/domain"
)

const credentialColumns = `id,user_id,name,access_key_id,secret_access_key,session_token,region,role_arn,is_default,is_active,created_at,updated_at`

func scanCredential(scan func(dest ...any) error) (domain.Credential, error) {
	var c domain.Credential
	var sessionToken, roleARN sql.NullString
	var isDefault, isActive int
	err := scan(&c.ID, &c.UserID, &c.Name, &c.AccessKeyID, &c.SecretAccessKey, &sessionToken,
		&c.Region, &roleARN, &isDefault, &isActive, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if sessionToken.Valid {
		c.SessionToken = &sessionToken.String
	}
	if roleARN.Valid {
		c.RoleARN = &roleARN.String
	}
	c.IsDefault = isDefault != 0
	c.IsActive = isActive != 0
	return c, nil
}

// InsertCredentialTx stores a credential inside the caller's transaction.
// When the credential is flagged default, any prior default for the same user
// is cleared first so at most one default exists per user.
func (r Repo) InsertCredentialTx(ctx context.Context, tx *sql.Tx, c domain.Credential) error {
	if c.IsDefault {
		if _, err := tx.ExecContext(ctx, `UPDATE credentials SET is_default=0 WHERE user_id=?`, c.UserID); err != nil {
			return err
		}
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO credentials(`+credentialColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.UserID, c.Name, c.AccessKeyID, c.SecretAccessKey, nullableStringPtr(c.SessionToken),
		c.Region, nullableStringPtr(c.RoleARN), boolToInt(c.IsDefault), boolToInt(c.IsActive),
		c.CreatedAt, c.UpdatedAt)
	return err
}

// InsertCredential stores a credential in its own transaction.
func (r Repo) InsertCredential(ctx context.Context, c domain.Credential) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.InsertCredentialTx(ctx, tx, c); err != nil {
		return err
	}
	return tx.Commit()
}

// GetCredential fetches a credential scoped to its owner.
func (r Repo) GetCredential(ctx context.Context, id, userID string) (domain.Credential, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE id=? AND user_id=?`, id, userID)
	return scanCredential(row.Scan)
}

// GetDefaultCredential returns the owner's active default credential.
func (r Repo) GetDefaultCredential(ctx context.Context, userID string) (domain.Credential, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE user_id=? AND is_default=1 AND is_active=1`, userID)
	return scanCredential(row.Scan)
}

// ListCredentials returns all credentials for a user, newest first.
func (r Repo) ListCredentials(ctx context.Context, userID string) ([]domain.Credential, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE user_id=? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Credential
	for rows.Next() {
		c, err := scanCredential(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// SetDefaultCredentialTx transfers the default flag to the named credential
// inside the caller's transaction.
func (r Repo) SetDefaultCredentialTx(ctx context.Context, tx *sql.Tx, id, userID, updatedAt string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE credentials SET is_default=0 WHERE user_id=? AND id<>?`, userID, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE credentials SET is_default=1, updated_at=? WHERE id=? AND user_id=?`, updatedAt, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CredentialPatch is a partial credential update. Nil fields are left as-is.
type CredentialPatch struct {
	Name      *string
	Region    *string
	RoleARN   *string
	IsDefault *bool
	IsActive  *bool
	UpdatedAt string
}

// UpdateCredential applies a patch scoped to the owner. Setting
// IsDefault=true clears the previous default in the same transaction.
func (r Repo) UpdateCredential(ctx context.Context, id, userID string, p CredentialPatch) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if p.IsDefault != nil && *p.IsDefault {
		if _, err := tx.ExecContext(ctx, `UPDATE credentials SET is_default=0 WHERE user_id=? AND id<>?`, userID, id); err != nil {
			return err
		}
	}
	var (
		fields []string
		args   []any
	)
	if p.Name != nil {
		fields = append(fields, "name=?")
		args = append(args, *p.Name)
	}
	if p.Region != nil {
		fields = append(fields, "region=?")
		args = append(args, *p.Region)
	}
	if p.RoleARN != nil {
		fields = append(fields, "role_arn=?")
		args = append(args, nullable(*p.RoleARN))
	}
	if p.IsDefault != nil {
		fields = append(fields, "is_default=?")
		args = append(args, boolToInt(*p.IsDefault))
	}
	if p.IsActive != nil {
		fields = append(fields, "is_active=?")
		args = append(args, boolToInt(*p.IsActive))
	}
	if len(fields) == 0 {
		return tx.Commit()
	}
	fields = append(fields, "updated_at=?")
	args = append(args, p.UpdatedAt, id, userID)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE credentials SET %s WHERE id=? AND user_id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// DeleteCredential removes a credential scoped to the owner.
func (r Repo) DeleteCredential(ctx context.Context, id, userID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM credentials WHERE id=? AND user_id=?`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
