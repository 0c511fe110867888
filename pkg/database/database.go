package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// RootDirectoryID is the id of the directory seeded by the initial migration
const RootDirectoryID int64 = 1

var (
	// ErrFileNotFound indicates the file or directory does not exist.
	ErrFileNotFound = errors.New("file not found")
	// ErrUserNotFound indicates the user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrNotDirectory indicates a directory operation targeted a regular file.
	ErrNotDirectory = errors.New("not a directory")
	// ErrUnsupportedDriver is returned by Open for unknown driver names.
	ErrUnsupportedDriver = errors.New("unsupported database driver")
)

// Config selects the backing relational store
type Config struct {
	Driver string // "sqlite" or "postgres"
	Path   string // SQLite database file
	DSN    string // PostgreSQL DSN
}

// DB wraps the relational store holding users, files and chat messages
type DB struct {
	conn      *sql.DB // Read connection pool
	writeConn *sql.DB // Dedicated write connection (same pool for postgres)
	driver    string
	snowflake *Snowflake
}

// Open opens the configured database and applies pending migrations
func Open(cfg Config) (*DB, error) {
	switch cfg.Driver {
	case DriverSQLite, "":
		return OpenSQLite(cfg.Path)
	case DriverPostgres:
		return OpenPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}
}

// sqliteDSN enables WAL, a busy timeout and foreign keys on every pooled connection
func sqliteDSN(path string) string {
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"
}

// OpenSQLite opens a SQLite database at the given path
func OpenSQLite(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL allows multiple readers and one writer at the same time
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// Create dedicated write connection (single connection, no pooling)
	writeConn, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open write connection: %w", err)
	}
	writeConn.SetMaxOpenConns(1)
	writeConn.SetMaxIdleConns(1)
	writeConn.SetConnMaxLifetime(0)

	db := newDB(conn, writeConn, DriverSQLite)

	// Migrations run on the write connection; this will backup the database if migrations are pending
	if err := runMigrations(context.Background(), writeConn, DriverSQLite, path); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// OpenPostgres opens a PostgreSQL database through the pgx stdlib driver
func OpenPostgres(dsn string) (*DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	db := newDB(conn, conn, DriverPostgres)

	if err := runMigrations(ctx, conn, DriverPostgres, ""); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

func newDB(conn, writeConn *sql.DB, driver string) *DB {
	// Snowflake ID generator (epoch: 2024-01-01)
	epoch := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

	return &DB{
		conn:      conn,
		writeConn: writeConn,
		driver:    driver,
		snowflake: NewSnowflake(epoch),
	}
}

// Close closes the database connections
func (db *DB) Close() error {
	if db.writeConn != db.conn {
		db.writeConn.Close()
	}
	return db.conn.Close()
}

// Ping checks that the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Driver returns the name of the backing driver
func (db *DB) Driver() string {
	return db.driver
}

// rebind rewrites '?' placeholders into '$N' for postgres
func (db *DB) rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// nowMillis returns current time as Unix timestamp in milliseconds
func nowMillis() int64 {
	return time.Now().UnixMilli()
}
