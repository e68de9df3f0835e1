package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/garnizeh/hostel/pkg/models"
)

const profileColumns = `uid, name, email, role, status, roll_no, hostel_no, room_no, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*models.Profile, error) {
	var (
		p                        models.Profile
		role, status             string
		rollNo, hostelNo, roomNo sql.NullString
		updated                  sql.NullInt64
	)
	if err := row.Scan(&p.UID, &p.Name, &p.Email, &role, &status, &rollNo, &hostelNo, &roomNo, &p.CreatedAt, &updated); err != nil {
		return nil, err
	}
	p.Role = models.Role(role)
	p.Status = models.AccountStatus(status)
	p.RollNo = fromNull(rollNo)
	p.HostelNo = fromNull(hostelNo)
	p.RoomNo = fromNull(roomNo)
	p.UpdatedAt = fromNullInt(updated)
	return &p, nil
}

func (r *SQLiteRepo) CreateProfile(ctx context.Context, p *models.Profile) error {
	if p == nil {
		return fmt.Errorf("profile is nil")
	}
	if p.Status == "" {
		p.Status = models.AccountActive
	}
	if p.CreatedAt == 0 {
		p.CreatedAt = now()
	}

	_, err := r.conn.Exec(ctx, `INSERT INTO users (`+profileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UID, p.Name, p.Email, string(p.Role), string(p.Status),
		nullString(p.RollNo), nullString(p.HostelNo), nullString(p.RoomNo), p.CreatedAt, nullInt(p.UpdatedAt))
	return err
}

// GetProfile returns the profile with its device tokens, or (nil, nil).
func (r *SQLiteRepo) GetProfile(ctx context.Context, uid string) (*models.Profile, error) {
	p, err := scanProfile(r.conn.QueryRow(ctx, `SELECT `+profileColumns+` FROM users WHERE uid = ?`, uid))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	tokens, err := r.ListDeviceTokens(ctx, uid)
	if err != nil {
		return nil, err
	}
	p.DeviceTokens = tokens
	return p, nil
}

func (r *SQLiteRepo) UpdateProfile(ctx context.Context, uid string, fn func(p *models.Profile) error) (*models.Profile, error) {
	var (
		p     *models.Profile
		fnErr error
	)
	err := r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		p, err = scanProfile(tx.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM users WHERE uid = ?`, uid))
		if err != nil {
			return err
		}
		if fnErr = fn(p); fnErr != nil {
			return fnErr
		}
		p.UID = uid
		p.UpdatedAt = now()
		_, err = tx.ExecContext(ctx, `UPDATE users SET name = ?, role = ?, status = ?, roll_no = ?, hostel_no = ?, room_no = ?, updated_at = ? WHERE uid = ?`,
			p.Name, string(p.Role), string(p.Status), nullString(p.RollNo), nullString(p.HostelNo), nullString(p.RoomNo), p.UpdatedAt, uid)
		return err
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case fnErr != nil:
		return nil, fnErr
	case err != nil:
		return nil, fmt.Errorf("update profile %s: %w", uid, err)
	}

	if p.DeviceTokens, err = r.ListDeviceTokens(ctx, uid); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *SQLiteRepo) UpdateProfileName(ctx context.Context, uid, name string) error {
	_, err := r.conn.Exec(ctx, `UPDATE users SET name = ?, updated_at = ? WHERE uid = ?`, name, now(), uid)
	return err
}

// ListProfiles returns profiles ordered by name. Device tokens are not loaded.
func (r *SQLiteRepo) ListProfiles(ctx context.Context, f models.ProfileFilter) ([]models.Profile, error) {
	var (
		where []string
		args  []any
	)
	if f.Role != "" {
		where = append(where, "role = ?")
		args = append(args, string(f.Role))
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	q := `SELECT ` + profileColumns + ` FROM users`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY name ASC, uid ASC`

	rows, err := r.conn.QueryRows(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
