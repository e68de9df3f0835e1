package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/garnizeh/hostel/internal/models"
	"github.com/garnizeh/hostel/pkg/repository"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const identityColumns = `uid, email, display_name, password_hash, disabled, created, updated`

func (r *SQLiteRepo) CreateIdentity(ctx context.Context, i *models.Identity) error {
	if i == nil {
		return fmt.Errorf("identity is nil")
	}
	i.Email = strings.ToLower(strings.TrimSpace(i.Email))
	ts := now()
	i.Created, i.Updated = ts, ts

	_, err := r.conn.Exec(ctx, `INSERT INTO identities (`+identityColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		i.UID, i.Email, i.DisplayName, nullString(i.PasswordHash), i.Disabled, i.Created, i.Updated)
	if isUniqueViolation(err) {
		return repository.ErrDuplicateEmail
	}
	return err
}

func scanIdentity(row rowScanner) (*models.Identity, error) {
	var i models.Identity
	var hash sql.NullString
	if err := row.Scan(&i.UID, &i.Email, &i.DisplayName, &hash, &i.Disabled, &i.Created, &i.Updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	i.PasswordHash = fromNull(hash)
	return &i, nil
}

func (r *SQLiteRepo) GetIdentity(ctx context.Context, uid string) (*models.Identity, error) {
	return scanIdentity(r.conn.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE uid = ?`, uid))
}

func (r *SQLiteRepo) GetIdentityByEmail(ctx context.Context, email string) (*models.Identity, error) {
	return scanIdentity(r.conn.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE email = ?`, strings.ToLower(strings.TrimSpace(email))))
}

func (r *SQLiteRepo) SetPasswordHash(ctx context.Context, uid, current, hash string) (bool, error) {
	res, err := r.conn.Exec(ctx, `UPDATE identities SET password_hash = ?, updated = ? WHERE uid = ? AND COALESCE(password_hash, '') = ?`, hash, now(), uid, current)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *SQLiteRepo) DeleteIdentity(ctx context.Context, uid string) error {
	_, err := r.conn.Exec(ctx, `DELETE FROM identities WHERE uid = ?`, uid)
	return err
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
