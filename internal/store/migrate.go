package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const migrationsTable = "cirrus_migrations"

// ApplyMigrations runs every pending .up.sql file in migrationsDir in
// lexical order, each inside its own transaction. Applied versions are
// recorded in cirrus_migrations, keyed by the filename without its
// .up.sql suffix, so restarts are idempotent.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+migrationsTable+` (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("create %s: %w", migrationsTable, err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read %s: %w", migrationsDir, err)
	}

	var pending []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		if applied[strings.TrimSuffix(name, ".up.sql")] {
			continue
		}
		pending = append(pending, name)
	}
	sort.Strings(pending)

	for _, name := range pending {
		if err := runMigration(ctx, db, migrationsDir, name); err != nil {
			return err
		}
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM `+migrationsTable)
	if err != nil {
		return nil, fmt.Errorf("load applied versions: %w", err)
	}
	defer rows.Close()

	applied := map[string]bool{}
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func runMigration(ctx context.Context, db *sql.DB, dir, name string) error {
	version := strings.TrimSuffix(name, ".up.sql")

	statements, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("migration %s: read: %w", version, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %s: begin: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, string(statements)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migration %s: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO `+migrationsTable+`(version) VALUES($1)`, version); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migration %s: record: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migration %s: commit: %w", version, err)
	}
	return nil
}
