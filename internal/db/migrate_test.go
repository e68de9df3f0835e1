package db_test

import (
	"context"
	"testing"

	dbfs "github.com/garnizeh/hostel/db"
	"github.com/garnizeh/hostel/internal/db"
)

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()

	d, err := db.New(ctx, ":memory:", nil)
	if err != nil {
		t.Fatalf("failed to open in-memory db: %v", err)
	}
	defer d.Close()

	if err := db.Migrate(ctx, d, dbfs.Migrations, dbfs.SeedFiles); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if err := db.Migrate(ctx, d, dbfs.Migrations, dbfs.SeedFiles); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}

	var count int
	if err := d.QueryRow(ctx, `SELECT COUNT(1) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("scan schema_migrations count: %v", err)
	}
	if count < 1 {
		t.Fatalf("expected at least 1 migration recorded, got %d", count)
	}

	for _, table := range []string{"users", "identities", "device_tokens", "leaves", "complaints", "jobs", "dead_letter_jobs"} {
		var name string
		if err := d.QueryRow(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name); err != nil {
			t.Fatalf("expected %s table exists: %v", table, err)
		}
	}

	var schemas int
	if err := d.QueryRow(ctx, `SELECT COUNT(1) FROM payload_schemas WHERE name = 'create_account' AND version = 'v1'`).Scan(&schemas); err != nil {
		t.Fatalf("count payload schemas: %v", err)
	}
	if schemas != 1 {
		t.Fatalf("expected seeded create_account schema once, got %d", schemas)
	}
}
