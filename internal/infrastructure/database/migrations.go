package database

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

const (
	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

// Migration is one versioned schema change.
type Migration struct {
	Version string // YYYYMMDD_HHMMSS
	Name    string
	Up      string
	Down    string
}

// MigrationState reports whether a migration has been applied.
type MigrationState struct {
	Version   string
	Name      string
	Applied   bool
	AppliedAt time.Time
}

// LoadMigrations reads every *.up.sql (and matching *.down.sql) at the
// root of src, ordered by version.
func LoadMigrations(src fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(src, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		file := e.Name()
		var base string
		var up bool
		switch {
		case strings.HasSuffix(file, upSuffix):
			base, up = strings.TrimSuffix(file, upSuffix), true
		case strings.HasSuffix(file, downSuffix):
			base = strings.TrimSuffix(file, downSuffix)
		default:
			continue
		}
		version, name, err := splitMigrationName(base)
		if err != nil {
			return nil, err
		}
		body, err := fs.ReadFile(src, file)
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", file, err)
		}
		m, ok := byVersion[version]
		if !ok {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if up {
			m.Up = string(body)
		} else {
			m.Down = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			return nil, fmt.Errorf("migration %s_%s has no up file", m.Version, m.Name)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// splitMigrationName parses "20260501_000000_scheduled_jobs".
func splitMigrationName(base string) (version, name string, err error) {
	parts := strings.SplitN(base, "_", 3)
	if len(parts) != 3 || len(parts[0]) != 8 || len(parts[1]) != 6 {
		return "", "", fmt.Errorf("invalid migration filename %q", base)
	}
	if _, err := time.Parse("20060102_150405", parts[0]+"_"+parts[1]); err != nil {
		return "", "", fmt.Errorf("invalid migration version in %q: %w", base, err)
	}
	return parts[0] + "_" + parts[1], parts[2], nil
}

func (db *DB) ensureMigrationsTable(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)`)
	return err
}

func (db *DB) appliedVersions(ctx context.Context) (map[string]time.Time, error) {
	rows, err := db.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("querying applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]time.Time)
	for rows.Next() {
		var version, at string
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("scanning applied migration: %w", err)
		}
		ts, _ := time.Parse(time.RFC3339, at) //nolint:errcheck // informational only
		applied[version] = ts
	}
	return applied, rows.Err()
}

// Migrate applies every pending up migration from src, each in its own
// transaction. It returns the number applied.
func (db *DB) Migrate(ctx context.Context, src fs.FS) (int, error) {
	if err := db.ensureMigrationsTable(ctx); err != nil {
		return 0, err
	}
	migrations, err := LoadMigrations(src)
	if err != nil {
		return 0, err
	}
	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, m := range migrations {
		if _, ok := applied[m.Version]; ok {
			continue
		}
		if err := db.applyMigration(ctx, m, m.Up, true); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// MigrateDown reverts the most recently applied migration. It returns
// false when nothing was applied.
func (db *DB) MigrateDown(ctx context.Context, src fs.FS) (bool, error) {
	if err := db.ensureMigrationsTable(ctx); err != nil {
		return false, err
	}
	migrations, err := LoadMigrations(src)
	if err != nil {
		return false, err
	}
	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return false, err
	}
	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		if _, ok := applied[m.Version]; !ok {
			continue
		}
		if m.Down == "" {
			return false, fmt.Errorf("migration %s_%s has no down file", m.Version, m.Name)
		}
		return true, db.applyMigration(ctx, m, m.Down, false)
	}
	return false, nil
}

func (db *DB) applyMigration(ctx context.Context, m Migration, body string, up bool) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("migration %s_%s: %w", m.Version, m.Name, err)
	}
	if up {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			m.Version, m.Name, time.Now().UTC().Format(time.RFC3339))
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = ?`, m.Version)
	}
	if err != nil {
		return fmt.Errorf("recording migration %s: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration %s: %w", m.Version, err)
	}
	return nil
}

// MigrationStatus lists every migration in src with its applied state.
func (db *DB) MigrationStatus(ctx context.Context, src fs.FS) ([]MigrationState, error) {
	if err := db.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}
	migrations, err := LoadMigrations(src)
	if err != nil {
		return nil, err
	}
	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]MigrationState, len(migrations))
	for i, m := range migrations {
		at, ok := applied[m.Version]
		out[i] = MigrationState{Version: m.Version, Name: m.Name, Applied: ok, AppliedAt: at}
	}
	return out, nil
}
