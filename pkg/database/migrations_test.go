package database

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pressly/goose/v3"
)

func TestMigrationsCreateTables(t *testing.T) {
	db := newTestDB(t)

	for _, table := range []string{"users", "files", "messages", "goose_db_version"} {
		var count int
		err := db.conn.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil {
			t.Fatalf("Failed to check for table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s not found", table)
		}
	}

	version, err := goose.GetDBVersionContext(context.Background(), db.writeConn)
	if err != nil {
		t.Fatalf("Failed to read version: %v", err)
	}
	if version != 1 {
		t.Errorf("Expected version 1, got %d", version)
	}
}

func TestReopenIsUpToDate(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	db.Close()

	called := false
	orig := gooseUp
	gooseUp = func(ctx context.Context, conn *sql.DB, dir string) error {
		called = true
		return orig(ctx, conn, dir)
	}
	t.Cleanup(func() { gooseUp = orig })

	db, err = OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	defer db.Close()

	if called {
		t.Fatal("expected no migrations to run on an up-to-date database")
	}

	entries, err := os.ReadDir(filepath.Dir(dbPath))
	if err != nil {
		t.Fatalf("Failed to read dir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".backup-") {
			t.Fatalf("unexpected backup %s for up-to-date database", e.Name())
		}
	}
}

func TestBackupDatabase(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	// Missing file is not an error
	if err := backupDatabase(dbPath, 1); err != nil {
		t.Fatalf("backup of missing database failed: %v", err)
	}

	if err := os.WriteFile(dbPath, []byte("sqlite data"), 0o644); err != nil {
		t.Fatalf("Failed to write database: %v", err)
	}
	if err := backupDatabase(dbPath, 3); err != nil {
		t.Fatalf("backup failed: %v", err)
	}

	matches, err := filepath.Glob(dbPath + ".backup-v3-*")
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one backup file, got %v", matches)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("Failed to read backup: %v", err)
	}
	if string(data) != "sqlite data" {
		t.Fatalf("backup content mismatch: %q", data)
	}
}

func TestMigrationDialect(t *testing.T) {
	if d, dir := migrationDialect(DriverPostgres); d != "postgres" || dir != "migrations/postgres" {
		t.Fatalf("unexpected postgres dialect %s %s", d, dir)
	}
	if d, dir := migrationDialect(DriverSQLite); d != "sqlite3" || dir != "migrations/sqlite" {
		t.Fatalf("unexpected sqlite dialect %s %s", d, dir)
	}
}
