package sqlite

import (
	"context"
	"fmt"

	"github.com/garnizeh/hostel/internal/models"
)

func (r *SQLiteRepo) ListSchemas(ctx context.Context) ([]models.PayloadSchema, error) {
	rows, err := r.conn.QueryRows(ctx, `SELECT id, name, version, description, schema_json, created, updated FROM payload_schemas ORDER BY name, version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PayloadSchema
	for rows.Next() {
		var s models.PayloadSchema
		if err := rows.Scan(&s.ID, &s.Name, &s.Version, &s.Description, &s.SchemaJSON, &s.Created, &s.Updated); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SQLiteRepo) UpsertSchema(ctx context.Context, s *models.PayloadSchema) error {
	if s == nil {
		return fmt.Errorf("schema is nil")
	}
	ts := now()
	_, err := r.conn.Exec(ctx, `INSERT INTO payload_schemas (name, version, description, schema_json, created, updated) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name, version) DO UPDATE SET description = excluded.description, schema_json = excluded.schema_json, updated = excluded.updated`,
		s.Name, s.Version, s.Description, s.SchemaJSON, ts, ts)
	return err
}
