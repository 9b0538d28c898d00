package mysql

import (
	"context"
	"database/sql/driver"
	"strings"
	"testing"
	"testing/fstest"

	"AgentStep/internal/testutil/sqlmock"
)

const createSchemaMigrations = `CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`

func TestMigrateAppliesPendingFiles(t *testing.T) {
	statements := embeddedStatements(t)

	ops := []sqlmock.Operation{
		sqlmock.Exec(createSchemaMigrations, sqlmock.Result{}),
		sqlmock.Query(`SELECT version FROM schema_migrations`, sqlmock.Rows{Columns: []string{"version"}}),
		sqlmock.Begin(),
	}
	for _, stmt := range statements {
		ops = append(ops, sqlmock.Exec(stmt, sqlmock.Result{}))
	}
	ops = append(ops,
		sqlmock.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, sqlmock.Result{Affected: 1}),
		sqlmock.Commit(),
	)

	db, drv := sqlmock.Open(t, ops...)
	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	drv.AssertConsumed(t)
}

func TestMigrateSkipsAppliedVersions(t *testing.T) {
	db, drv := sqlmock.Open(t,
		sqlmock.Exec(createSchemaMigrations, sqlmock.Result{}),
		sqlmock.Query(`SELECT version FROM schema_migrations`, sqlmock.Rows{
			Columns: []string{"version"},
			Values:  [][]driver.Value{{"0001"}},
		}),
	)
	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	drv.AssertConsumed(t)
}

func TestLoadMigrationFilesOrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_b.sql": {Data: []byte("SELECT 2;")},
		"0001_a.sql": {Data: []byte("SELECT 1; SELECT 11;")},
		"empty.sql":  {Data: []byte("  ;  ")},
		"README.md":  {Data: []byte("ignored")},
	}
	files, err := loadMigrationFiles(fsys)
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(files))
	}
	if files[0].version != "0001" || len(files[0].statements) != 2 {
		t.Fatalf("unexpected first migration: %+v", files[0])
	}
	if files[1].version != "0002" {
		t.Fatalf("unexpected second migration: %+v", files[1])
	}
}

func TestNormalizeDSN(t *testing.T) {
	if _, err := normalizeDSN("  "); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
	dsn, err := normalizeDSN("user:pass@tcp(127.0.0.1:3306)/agentstep")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if want := "timeout=5s"; !strings.Contains(dsn, want) {
		t.Fatalf("expected %q in %q", want, dsn)
	}
}

func embeddedStatements(t *testing.T) []string {
	t.Helper()
	files, err := loadMigrationFiles(embeddedMigrations)
	if err != nil {
		t.Fatalf("load embedded migrations: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected a single embedded migration, got %d", len(files))
	}
	return files[0].statements
}
