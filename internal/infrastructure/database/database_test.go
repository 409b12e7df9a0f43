package database

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/nerrad567/hubrelay/internal/infrastructure/config"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "sub", "test.db"),
		WALMode:     true,
		BusyTimeout: 1,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_CreatesDirectoryAndPasses(t *testing.T) {
	db := openTestDB(t)
	if err := db.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	if filepath.Base(db.Path()) != "test.db" {
		t.Errorf("Path() = %q", db.Path())
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open(config.DatabaseConfig{}); err == nil {
		t.Fatal("Open() with empty path should fail")
	}
}

func TestClose_NilSafe(t *testing.T) {
	var db *DB
	if err := db.Close(); err != nil {
		t.Errorf("Close() on nil = %v", err)
	}
}

var testMigrations = fstest.MapFS{
	"20260101_000000_widgets.up.sql":   {Data: []byte(`CREATE TABLE widgets (id TEXT PRIMARY KEY);`)},
	"20260101_000000_widgets.down.sql": {Data: []byte(`DROP TABLE widgets;`)},
	"20260102_000000_gadgets.up.sql":   {Data: []byte(`CREATE TABLE gadgets (id TEXT PRIMARY KEY);`)},
	"README.md":                        {Data: []byte("ignored")},
}

func TestLoadMigrations(t *testing.T) {
	ms, err := LoadMigrations(testMigrations)
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(ms) != 2 {
		t.Fatalf("len = %d, want 2", len(ms))
	}
	if ms[0].Name != "widgets" || ms[0].Down == "" {
		t.Errorf("first = %+v", ms[0])
	}
	if ms[1].Version != "20260102_000000" || ms[1].Down != "" {
		t.Errorf("second = %+v", ms[1])
	}
}

func TestLoadMigrations_InvalidNames(t *testing.T) {
	tests := []struct {
		name string
		file string
	}{
		{"no version", "widgets.up.sql"},
		{"short date", "2026_000000_x.up.sql"},
		{"bad time", "20261399_000000_x.up.sql"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := fstest.MapFS{tt.file: {Data: []byte("SELECT 1;")}}
			if _, err := LoadMigrations(src); err == nil {
				t.Error("LoadMigrations() should fail")
			}
		})
	}
}

func TestLoadMigrations_DownWithoutUp(t *testing.T) {
	src := fstest.MapFS{"20260101_000000_x.down.sql": {Data: []byte("SELECT 1;")}}
	if _, err := LoadMigrations(src); err == nil {
		t.Error("LoadMigrations() should reject an orphan down file")
	}
}

func TestMigrate_UpStatusDown(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	n, err := db.Migrate(ctx, testMigrations)
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Migrate() applied %d, want 2", n)
	}
	if n, _ := db.Migrate(ctx, testMigrations); n != 0 {
		t.Errorf("second Migrate() applied %d, want 0", n)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO widgets (id) VALUES ('a')`); err != nil {
		t.Fatalf("insert into migrated table: %v", err)
	}

	status, err := db.MigrationStatus(ctx, testMigrations)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	for _, s := range status {
		if !s.Applied {
			t.Errorf("%s not applied", s.Name)
		}
	}

	// Latest migration has no down file.
	if _, err := db.MigrateDown(ctx, testMigrations); err == nil {
		t.Error("MigrateDown() without a down file should fail")
	}
}

func TestMigrateDown_Reverts(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	src := fstest.MapFS{
		"20260101_000000_widgets.up.sql":   testMigrations["20260101_000000_widgets.up.sql"],
		"20260101_000000_widgets.down.sql": testMigrations["20260101_000000_widgets.down.sql"],
	}
	if _, err := db.Migrate(ctx, src); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	reverted, err := db.MigrateDown(ctx, src)
	if err != nil || !reverted {
		t.Fatalf("MigrateDown() = %v, %v", reverted, err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO widgets (id) VALUES ('a')`); err == nil {
		t.Error("table should be dropped")
	}
	if reverted, _ := db.MigrateDown(ctx, src); reverted {
		t.Error("MigrateDown() with nothing applied should report false")
	}
}
