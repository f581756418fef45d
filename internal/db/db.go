package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/pressly/goose/v3"

	"github.com/vonshlovens/tripsync/internal/config"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

// goose keeps its dialect and table name in package globals
var gooseMu sync.Mutex

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DB is the local store. All writes go through Update, which holds the
// write lock for the duration of one SQL transaction; reads hold the read
// lock, so readers never observe a writer mid-flight.
type DB struct {
	conn    *sqlx.DB
	driver  string
	schema  string
	connStr string
	mu      sync.RWMutex
}

// New opens the store selected by the configuration
func New(ctx context.Context, cfg *config.Config) (*DB, error) {
	switch cfg.Store.Driver {
	case DriverPostgres:
		return OpenPostgres(ctx, &cfg.Store.Postgres)
	case DriverSQLite, "":
		return OpenSQLite(ctx, cfg.SQLitePath())
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

// OpenSQLite opens (creating if needed) an embedded SQLite store at path
func OpenSQLite(ctx context.Context, path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)"
	conn, err := sqlx.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	slog.Debug("opened sqlite store", "path", path)

	return &DB{
		conn:    conn,
		driver:  DriverSQLite,
		connStr: connStr,
	}, nil
}

// OpenPostgres connects to a Postgres store through the pgx stdlib driver
func OpenPostgres(ctx context.Context, cfg *config.DatabaseConfig) (*DB, error) {
	connStr := cfg.ConnectionString()
	conn, err := sqlx.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(time.Hour)
	conn.SetConnMaxIdleTime(30 * time.Minute)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("connected to database",
		"host", cfg.Host,
		"database", cfg.Database,
		"schema", cfg.Schema)

	return &DB{
		conn:    conn,
		driver:  DriverPostgres,
		schema:  cfg.Schema,
		connStr: connStr,
	}, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	err := db.conn.Close()
	slog.Debug("database connection closed", "driver", db.driver)
	return err
}

// Driver reports the backend in use
func (db *DB) Driver() string {
	return db.driver
}

// Ping checks if the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// EnsureSchema creates the account schema if it doesn't exist (postgres only)
func (db *DB) EnsureSchema(ctx context.Context) error {
	if db.driver != DriverPostgres || db.schema == "" {
		return nil
	}

	_, err := db.conn.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", db.schema))
	if err != nil {
		return fmt.Errorf("failed to create schema %s: %w", db.schema, err)
	}

	slog.Info("schema ready", "schema", db.schema)
	return nil
}

// RunMigrations executes all pending migrations for the active dialect
func (db *DB) RunMigrations(ctx context.Context) error {
	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	dir, err := db.prepareGoose()
	if err != nil {
		return err
	}
	defer gooseMu.Unlock()

	if err := goose.UpContext(ctx, db.conn.DB, dir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Debug("migrations completed", "driver", db.driver, "schema", db.schema)
	return nil
}

// MigrationVersion returns the current schema version
func (db *DB) MigrationVersion(ctx context.Context) (int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if _, err := db.prepareGoose(); err != nil {
		return 0, err
	}
	defer gooseMu.Unlock()

	return goose.GetDBVersionContext(ctx, db.conn.DB)
}

// prepareGoose configures goose for this store and returns the migrations
// directory. The caller must release gooseMu.
func (db *DB) prepareGoose() (string, error) {
	gooseMu.Lock()

	dialect, dir := "sqlite3", "migrations/sqlite"
	if db.driver == DriverPostgres {
		dialect, dir = "postgres", "migrations/postgres"
	}

	if _, err := fs.Stat(migrationFS, dir); err != nil {
		gooseMu.Unlock()
		return "", fmt.Errorf("missing embedded migrations %s: %w", dir, err)
	}

	goose.SetBaseFS(migrationFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		gooseMu.Unlock()
		return "", fmt.Errorf("failed to set dialect: %w", err)
	}

	// Schema-specific version table avoids conflicts between accounts
	table := "goose_db_version"
	if db.schema != "" {
		table = db.schema + ".goose_db_version"
	}
	goose.SetTableName(table)

	return dir, nil
}

// GetStatus returns counts of local entities
func (db *DB) GetStatus(ctx context.Context) (*SyncStatus, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	status := &SyncStatus{Driver: db.driver}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM trips WHERE deleted_at IS NULL", &status.Trips},
		{"SELECT COUNT(*) FROM trip_records WHERE deleted_at IS NULL", &status.Records},
		{"SELECT COUNT(*) FROM photos WHERE deleted_at IS NULL", &status.Photos},
		{`SELECT
			(SELECT COUNT(*) FROM trips WHERE deleted_at IS NOT NULL) +
			(SELECT COUNT(*) FROM trip_records WHERE deleted_at IS NOT NULL) +
			(SELECT COUNT(*) FROM photos WHERE deleted_at IS NOT NULL)`, &status.Tombstones},
	}
	for _, c := range counts {
		if err := db.conn.GetContext(ctx, c.dest, c.query); err != nil {
			return nil, fmt.Errorf("failed to count rows: %w", err)
		}
	}

	latest, err := latestUpdate(ctx, db.conn)
	if err != nil {
		return nil, err
	}
	status.LatestUpdate = latest

	return status, nil
}

// LatestUpdate returns the newest updated_at across all entities, or nil
// for an empty store
func (db *DB) LatestUpdate(ctx context.Context) (*time.Time, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return latestUpdate(ctx, db.conn)
}
