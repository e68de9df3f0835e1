package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/garnizeh/hostel/internal/changefeed"
	"github.com/garnizeh/hostel/pkg/models"
	"github.com/google/uuid"
)

const leaveColumns = `id, student_id, from_date, to_date, reason, status, remarks, applied_at, updated_at`

func scanLeave(row rowScanner) (*models.Leave, error) {
	var l models.Leave
	var updated sql.NullInt64
	if err := row.Scan(&l.ID, &l.StudentID, &l.FromDate, &l.ToDate, &l.Reason, &l.Status, &l.Remarks, &l.AppliedAt, &updated); err != nil {
		return nil, err
	}
	l.UpdatedAt = fromNullInt(updated)
	return &l, nil
}

// CreateLeave stores a new request as Pending and assigns its id.
func (r *SQLiteRepo) CreateLeave(ctx context.Context, l *models.Leave) error {
	if l == nil {
		return fmt.Errorf("leave is nil")
	}
	l.ID = uuid.NewString()
	l.Status = models.StatusPending
	l.Remarks = ""
	l.AppliedAt = now()
	l.UpdatedAt = 0

	_, err := r.conn.Exec(ctx, `INSERT INTO leaves (`+leaveColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		l.ID, l.StudentID, l.FromDate, l.ToDate, l.Reason, l.Status, l.Remarks, l.AppliedAt)
	return err
}

func (r *SQLiteRepo) GetLeave(ctx context.Context, id string) (*models.Leave, error) {
	l, err := scanLeave(r.conn.QueryRow(ctx, `SELECT `+leaveColumns+` FROM leaves WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return l, err
}

// ListLeaves returns the student's leaves, newest first. An empty studentID
// lists every leave.
func (r *SQLiteRepo) ListLeaves(ctx context.Context, studentID string) ([]models.Leave, error) {
	q := `SELECT ` + leaveColumns + ` FROM leaves`
	var args []any
	if studentID != "" {
		q += ` WHERE student_id = ?`
		args = append(args, studentID)
	}
	q += ` ORDER BY applied_at DESC, id ASC`

	rows, err := r.conn.QueryRows(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Leave
	for rows.Next() {
		l, err := scanLeave(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// ModerateLeave applies a moderator decision and records the change event in
// the same transaction. It returns (nil, nil) when the leave does not exist.
func (r *SQLiteRepo) ModerateLeave(ctx context.Context, id string, m models.Moderation) (*models.Leave, error) {
	var after *models.Leave
	err := r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		before, err := scanLeave(tx.QueryRowContext(ctx, `SELECT `+leaveColumns+` FROM leaves WHERE id = ?`, id))
		if err != nil {
			return err
		}

		updated := *before
		updated.Status = m.Status
		updated.Remarks = m.Remarks
		updated.UpdatedAt = now()
		if _, err := tx.ExecContext(ctx, `UPDATE leaves SET status = ?, remarks = ?, updated_at = ? WHERE id = ?`,
			updated.Status, updated.Remarks, updated.UpdatedAt, id); err != nil {
			return err
		}

		if err := r.recordChange(ctx, tx, changefeed.CollectionLeaves, id, before, &updated); err != nil {
			return err
		}
		after = &updated
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("moderate leave %s: %w", id, err)
	}
	return after, nil
}

func (r *SQLiteRepo) recordChange(ctx context.Context, tx *sql.Tx, collection, id string, before, after any) error {
	b, err := changefeed.Snapshot(before)
	if err != nil {
		return err
	}
	a, err := changefeed.Snapshot(after)
	if err != nil {
		return err
	}
	return changefeed.Record(ctx, tx, changefeed.Event{
		Collection: collection,
		DocumentID: id,
		Before:     b,
		After:      a,
	}, r.feedAttempts)
}
