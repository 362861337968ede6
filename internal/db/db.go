package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	defaultDBName = "adoptline.db"
	workspaceDir  = ".adoptline"
)

// Dialect names a supported SQL backend.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", s)
}

type Config struct {
	Driver Dialect
	// DSN overrides the default location. For sqlite it may be a plain file
	// path; for postgres it is a connection URL.
	DSN       string
	Workspace string
}

// Handle is an open database together with its dialect.
type Handle struct {
	*sql.DB
	Dialect Dialect
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, workspaceDir, defaultDBName)
}

// EnsureWorkspace creates workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, workspaceDir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the configured database. SQLite connections take write locks at
// BEGIN so concurrent writers queue on busy_timeout instead of failing mid
// transaction.
func Open(cfg Config) (Handle, error) {
	switch cfg.Driver {
	case "", SQLite:
		return openSQLite(cfg)
	case Postgres:
		return openPostgres(cfg)
	}
	return Handle{}, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

func openSQLite(cfg Config) (Handle, error) {
	path := cfg.DSN
	if path == "" {
		if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
			return Handle{}, err
		}
		path = dbPath(cfg.Workspace)
	} else if dir := filepath.Dir(strings.TrimPrefix(path, "file:")); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Handle{}, err
		}
	}
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return Handle{}, err
	}
	return Handle{DB: conn, Dialect: SQLite}, nil
}

func openPostgres(cfg Config) (Handle, error) {
	if cfg.DSN == "" {
		return Handle{}, errors.New("postgres driver requires a dsn")
	}
	conn, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return Handle{}, err
	}
	return Handle{DB: conn, Dialect: Postgres}, nil
}

// Path returns the default sqlite path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}

// Rebind rewrites ? placeholders into the dialect's bind syntax.
func (d Dialect) Rebind(query string) string {
	if d != Postgres || !strings.Contains(query, "?") {
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

// LiveTaskIndex is the unique index allowing one live task per template and
// plan.
const LiveTaskIndex = "idx_task_instances_live_template"

// IsContention reports whether err is a lock or serialization failure that
// the caller may retry.
func IsContention(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		case "23505":
			// A concurrent sync of the same plan won the live task slot.
			return pgErr.ConstraintName == LiveTaskIndex
		}
	}
	return false
}
