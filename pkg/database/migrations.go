package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFiles embed.FS

// gooseMu guards goose's package-level base FS and dialect
var gooseMu sync.Mutex

// gooseUp is a seam for testing goose.UpContext.
var gooseUp = func(ctx context.Context, db *sql.DB, dir string) error {
	return goose.UpContext(ctx, db, dir)
}

func migrationDialect(driver string) (string, string) {
	if driver == DriverPostgres {
		return "postgres", "migrations/postgres"
	}
	return "sqlite3", "migrations/sqlite"
}

// pendingMigrations reports whether the embedded migrations are ahead of the database
func pendingMigrations(ctx context.Context, db *sql.DB, dir string) (current int64, pending bool, err error) {
	current, err = goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, false, fmt.Errorf("failed to get current version: %w", err)
	}

	migrations, err := goose.CollectMigrations(dir, 0, goose.MaxVersion)
	if err != nil {
		return 0, false, fmt.Errorf("failed to load migrations: %w", err)
	}

	last, err := migrations.Last()
	if err != nil {
		return current, false, nil
	}
	return current, last.Version > current, nil
}

// backupDatabase creates a backup of the database file before migrations
func backupDatabase(dbPath string, currentVersion int64) error {
	// Don't backup if database doesn't exist yet
	info, err := os.Stat(dbPath)
	if os.IsNotExist(err) || (err == nil && info.Size() == 0) {
		return nil
	}

	backupPath := fmt.Sprintf("%s.backup-v%d-%s", dbPath, currentVersion, time.Now().Format("20060102-150405"))

	src, err := os.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database for backup: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(backupPath)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy database: %w", err)
	}

	log.Printf("Created database backup: %s", filepath.Base(backupPath))
	return nil
}

// runMigrations applies the embedded migrations for the driver's dialect.
// SQLite files are backed up first when an existing database has pending migrations.
func runMigrations(ctx context.Context, db *sql.DB, driver, dbPath string) error {
	dialect, dir := migrationDialect(driver)

	sub, err := fs.Sub(migrationFiles, dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(sub)
	goose.SetLogger(log.New(io.Discard, "", 0))
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set dialect %s: %w", dialect, err)
	}

	current, pending, err := pendingMigrations(ctx, db, ".")
	if err != nil {
		return err
	}

	if !pending {
		log.Printf("Database is up to date (version %d)", current)
		return nil
	}

	if dbPath != "" && current > 0 {
		if err := backupDatabase(dbPath, current); err != nil {
			return fmt.Errorf("failed to backup database: %w", err)
		}
	}

	if err := gooseUp(ctx, db, "."); err != nil {
		return fmt.Errorf("migration failed from version %d: %w\nRestore from backup if needed", current, err)
	}

	after, err := goose.GetDBVersionContext(ctx, db)
	if err == nil {
		log.Printf("Applied migrations from version %d to %d", current, after)
	}
	return nil
}
