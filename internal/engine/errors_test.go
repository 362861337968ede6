package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"adoptline/internal/db"
	"adoptline/internal/repo"
)

func TestClassify(t *testing.T) {
	var conflict *ConflictError
	if err := classify("p1", fmt.Errorf("update: %w", repo.ErrVersionConflict)); !errors.As(err, &conflict) || conflict.PlanID != "p1" {
		t.Fatalf("version miss should be a conflict, got %v", err)
	}
	if err := classify("p1", &pgconn.PgError{Code: "40P01"}); !errors.Is(err, &ConflictError{}) {
		t.Fatalf("deadlock should be a conflict, got %v", err)
	}
	dup := fmt.Errorf("insert task: %w", &pgconn.PgError{Code: "23505", ConstraintName: db.LiveTaskIndex})
	if err := classify("p1", dup); !errors.As(err, &conflict) {
		t.Fatalf("duplicate live task should be a conflict, got %v", err)
	}
	plain := errors.New("disk full")
	if err := classify("p1", plain); err != plain {
		t.Fatalf("other errors pass through, got %v", err)
	}
	if classify("p1", nil) != nil {
		t.Fatalf("nil stays nil")
	}
}

func TestPlanLocksRelease(t *testing.T) {
	locks := newPlanLocks()
	unlock := locks.lock("a")
	unlock2 := make(chan func())
	go func() { unlock2 <- locks.lock("a") }()
	unlock()
	(<-unlock2)()
	if len(locks.locks) != 0 {
		t.Fatalf("lock entries should be released, have %d", len(locks.locks))
	}
}
