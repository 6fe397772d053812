package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const defaultDBName = "inspectline.db"

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

type Config struct {
	Workspace string
	// Driver is sqlite (default), postgres or mysql.
	Driver string
	// DSN is required for postgres and mysql; sqlite lives in the workspace.
	DSN string
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".inspectline", defaultDBName)
}

// EnsureWorkspace creates workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, ".inspectline")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the configured database. SQLite runs with foreign keys, WAL and
// a single connection so writers queue instead of failing with SQLITE_BUSY.
func Open(cfg Config) (*sqlx.DB, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", DriverSQLite:
		if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
			return nil, err
		}
		dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath(cfg.Workspace))
		conn, err := sqlx.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		conn.SetMaxOpenConns(1)
		return conn, nil
	case DriverPostgres, "pgx":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("db-dsn is required for postgres")
		}
		conn, err := sqlx.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, err
		}
		return conn, ping(conn)
	case DriverMySQL:
		dsn, err := mysqlDSN(cfg.DSN)
		if err != nil {
			return nil, err
		}
		conn, err := sqlx.Open("mysql", dsn)
		if err != nil {
			return nil, err
		}
		conn.SetConnMaxLifetime(5 * time.Minute)
		return conn, ping(conn)
	}
	return nil, fmt.Errorf("unsupported db driver %q", cfg.Driver)
}

// mysqlDSN makes RowsAffected count matched rows, which the guarded
// row-lock updates rely on.
func mysqlDSN(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("db-dsn is required for mysql")
	}
	mc, err := mysql.ParseDSN(raw)
	if err != nil {
		return "", fmt.Errorf("invalid mysql dsn: %w", err)
	}
	mc.ClientFoundRows = true
	return mc.FormatDSN(), nil
}

func ping(conn *sqlx.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Dialect maps a sqlx driver name to the migration dialect.
func Dialect(conn *sqlx.DB) string {
	switch conn.DriverName() {
	case "pgx", "postgres":
		return DriverPostgres
	case "mysql":
		return DriverMySQL
	}
	return DriverSQLite
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}
