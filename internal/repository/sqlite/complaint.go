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

const complaintColumns = `id, student_id, category, description, status, remarks, created_at, updated_at`

func scanComplaint(row rowScanner) (*models.Complaint, error) {
	var c models.Complaint
	var updated sql.NullInt64
	if err := row.Scan(&c.ID, &c.StudentID, &c.Category, &c.Description, &c.Status, &c.Remarks, &c.CreatedAt, &updated); err != nil {
		return nil, err
	}
	c.UpdatedAt = fromNullInt(updated)
	return &c, nil
}

func (r *SQLiteRepo) CreateComplaint(ctx context.Context, c *models.Complaint) error {
	if c == nil {
		return fmt.Errorf("complaint is nil")
	}
	c.ID = uuid.NewString()
	c.Status = models.StatusPending
	c.Remarks = ""
	c.CreatedAt = now()
	c.UpdatedAt = 0

	_, err := r.conn.Exec(ctx, `INSERT INTO complaints (`+complaintColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, NULL)`,
		c.ID, c.StudentID, c.Category, c.Description, c.Status, c.Remarks, c.CreatedAt)
	return err
}

func (r *SQLiteRepo) GetComplaint(ctx context.Context, id string) (*models.Complaint, error) {
	c, err := scanComplaint(r.conn.QueryRow(ctx, `SELECT `+complaintColumns+` FROM complaints WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (r *SQLiteRepo) ListComplaints(ctx context.Context, studentID string) ([]models.Complaint, error) {
	q := `SELECT ` + complaintColumns + ` FROM complaints`
	var args []any
	if studentID != "" {
		q += ` WHERE student_id = ?`
		args = append(args, studentID)
	}
	q += ` ORDER BY created_at DESC, id ASC`

	rows, err := r.conn.QueryRows(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Complaint
	for rows.Next() {
		c, err := scanComplaint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *SQLiteRepo) ModerateComplaint(ctx context.Context, id string, m models.Moderation) (*models.Complaint, error) {
	var after *models.Complaint
	err := r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		before, err := scanComplaint(tx.QueryRowContext(ctx, `SELECT `+complaintColumns+` FROM complaints WHERE id = ?`, id))
		if err != nil {
			return err
		}

		updated := *before
		updated.Status = m.Status
		updated.Remarks = m.Remarks
		updated.UpdatedAt = now()
		if _, err := tx.ExecContext(ctx, `UPDATE complaints SET status = ?, remarks = ?, updated_at = ? WHERE id = ?`,
			updated.Status, updated.Remarks, updated.UpdatedAt, id); err != nil {
			return err
		}

		if err := r.recordChange(ctx, tx, changefeed.CollectionComplaints, id, before, &updated); err != nil {
			return err
		}
		after = &updated
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("moderate complaint %s: %w", id, err)
	}
	return after, nil
}
