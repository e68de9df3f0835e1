package sqlite

import (
	"context"
	"fmt"
)

// AddDeviceToken adds token to the profile's device set. Adding a token that
// is already registered is a no-op.
func (r *SQLiteRepo) AddDeviceToken(ctx context.Context, uid, token string) error {
	if uid == "" || token == "" {
		return fmt.Errorf("uid and token are required")
	}
	_, err := r.conn.Exec(ctx, `INSERT INTO device_tokens (uid, token, created) VALUES (?, ?, ?) ON CONFLICT(uid, token) DO NOTHING`, uid, token, now())
	return err
}

func (r *SQLiteRepo) ListDeviceTokens(ctx context.Context, uid string) ([]string, error) {
	rows, err := r.conn.QueryRows(ctx, `SELECT token FROM device_tokens WHERE uid = ? ORDER BY created ASC, token ASC`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var tok string
		if err := rows.Scan(&tok); err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
	return out, rows.Err()
}
