package sqlite

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/garnizeh/hostel/internal/db"
	"github.com/garnizeh/hostel/pkg/repository"
)

// SQLiteRepo implements repository interfaces using the internal DB wrapper.
type SQLiteRepo struct {
	conn         *db.DB
	logger       *slog.Logger
	feedAttempts int
}

// Ensure SQLiteRepo implements the public interfaces.
var _ repository.ProfileRepo = (*SQLiteRepo)(nil)
var _ repository.DeviceRepo = (*SQLiteRepo)(nil)
var _ repository.LeaveRepo = (*SQLiteRepo)(nil)
var _ repository.ComplaintRepo = (*SQLiteRepo)(nil)
var _ repository.IdentityRepo = (*SQLiteRepo)(nil)
var _ repository.SchemaRepo = (*SQLiteRepo)(nil)

func New(conn *db.DB, logger *slog.Logger) *SQLiteRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteRepo{conn: conn, logger: logger}
}

// WithChangeFeedAttempts sets how often a recorded change event is
// delivered before it is dead-lettered.
func (r *SQLiteRepo) WithChangeFeedAttempts(n int) *SQLiteRepo {
	r.feedAttempts = n
	return r
}

func now() int64 {
	return time.Now().UTC().UnixMilli()
}

// nullString stores empty strings as NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}

func fromNull(s sql.NullString) string {
	if s.Valid {
		return s.String
	}
	return ""
}

func fromNullInt(n sql.NullInt64) int64 {
	if n.Valid {
		return n.Int64
	}
	return 0
}
