package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

// Migrate applies migrations and seed files embedded in the db package.
// Applied versions are tracked in `schema_migrations`; each migration runs in
// its own transaction together with its bookkeeping row. Seed files under
// seed/ named <name>_<version>.json are upserted into payload_schemas.
func Migrate(ctx context.Context, d *DB, migrationFS embed.FS, seedFS embed.FS) error {
	if _, err := d.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	files, err := sqlFiles(migrationFS, "migrations")
	if err != nil {
		return err
	}

	for _, fname := range files {
		version := strings.TrimSuffix(fname, path.Ext(fname))

		var count int
		if err := d.QueryRow(ctx, `SELECT COUNT(1) FROM schema_migrations WHERE version = ?`, version).Scan(&count); err != nil {
			return fmt.Errorf("scan migration applied count: %w", err)
		}
		if count > 0 {
			continue
		}

		b, err := fs.ReadFile(migrationFS, path.Join("migrations", fname))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", fname, err)
		}
		err = d.WithTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(b)); err != nil {
				return fmt.Errorf("exec migration %s: %w", fname, err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied) VALUES (?, ?)`, version, time.Now().UTC().UnixMilli()); err != nil {
				return fmt.Errorf("record migration %s: %w", fname, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		d.logger.Info("db: migration applied", "version", version)
	}

	return seedSchemas(ctx, d, seedFS)
}

func sqlFiles(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(e.Name()), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func seedSchemas(ctx context.Context, d *DB, seedFS embed.FS) error {
	entries, err := fs.ReadDir(seedFS, "seed")
	if err != nil {
		// seeds are optional
		return nil
	}
	for _, e := range entries {
		fname := e.Name()
		if e.IsDir() || path.Ext(fname) != ".json" {
			continue
		}
		base := strings.TrimSuffix(fname, ".json")
		i := strings.LastIndex(base, "_")
		if i <= 0 {
			return fmt.Errorf("seed %s: expected <name>_<version>.json", fname)
		}
		name, version := base[:i], base[i+1:]

		b, err := fs.ReadFile(seedFS, path.Join("seed", fname))
		if err != nil {
			return fmt.Errorf("read seed %s: %w", fname, err)
		}
		now := time.Now().UTC().UnixMilli()
		q := `INSERT INTO payload_schemas (name, version, description, schema_json, created, updated) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(name, version) DO UPDATE SET schema_json = excluded.schema_json, updated = excluded.updated`
		if _, err := d.Exec(ctx, q, name, version, "seeded from "+fname, string(b), now, now); err != nil {
			return fmt.Errorf("seed schema %s: %w", fname, err)
		}
	}
	return nil
}
