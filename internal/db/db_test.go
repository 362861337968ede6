package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestRebind(t *testing.T) {
	q := `SELECT id FROM plans WHERE a=? AND (b=? OR c=?) LIMIT ?`
	if got := SQLite.Rebind(q); got != q {
		t.Fatalf("sqlite should not rewrite, got %q", got)
	}
	want := `SELECT id FROM plans WHERE a=$1 AND (b=$2 OR c=$3) LIMIT $4`
	if got := Postgres.Rebind(q); got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestParseDialect(t *testing.T) {
	for in, want := range map[string]Dialect{"": SQLite, "sqlite3": SQLite, "Postgres": Postgres, "pgx": Postgres} {
		got, err := ParseDialect(in)
		if err != nil || got != want {
			t.Fatalf("ParseDialect(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseDialect("mysql"); err == nil {
		t.Fatalf("expected error for mysql")
	}
}

func TestOpenCreatesWorkspace(t *testing.T) {
	dir := t.TempDir()
	h, err := Open(Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.Close()
	if err := h.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if h.Dialect != SQLite {
		t.Fatalf("expected sqlite dialect, got %s", h.Dialect)
	}
	if _, err := os.Stat(filepath.Join(dir, ".adoptline", "adoptline.db")); err != nil {
		t.Fatalf("db file missing: %v", err)
	}
}

func TestOpenPostgresRequiresDSN(t *testing.T) {
	if _, err := Open(Config{Driver: Postgres}); err == nil {
		t.Fatalf("expected error without dsn")
	}
}

func TestIsContention(t *testing.T) {
	if IsContention(nil) || IsContention(errors.New("boom")) {
		t.Fatalf("plain errors are not contention")
	}
	serialization := fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"})
	if !IsContention(serialization) {
		t.Fatalf("serialization failure should be contention")
	}
	if IsContention(&pgconn.PgError{Code: "23505", ConstraintName: "adoption_plans_entitlement_id_key"}) {
		t.Fatalf("unrelated unique violation is not contention")
	}
	liveTask := fmt.Errorf("insert task: %w", &pgconn.PgError{Code: "23505", ConstraintName: LiveTaskIndex})
	if !IsContention(liveTask) {
		t.Fatalf("duplicate live task from a concurrent sync should be contention")
	}
}
