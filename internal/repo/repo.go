package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"adoptline/internal/criteria"
	"adoptline/internal/db"
	"adoptline/internal/domain"
)

// Repo is the SQL store for catalog, plan and telemetry data. Queries are
// written with ? placeholders and rebound for the active dialect.
type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
}

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
)

// New wraps an open handle.
func New(h db.Handle) Repo {
	return Repo{DB: h.DB, Dialect: h.Dialect}
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(query string) string {
	return r.Dialect.Rebind(query)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeSelection(s domain.Selection) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeSelection(raw string) (domain.Selection, error) {
	var s domain.Selection
	if raw == "" {
		return s, nil
	}
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return s, fmt.Errorf("decode selection %q: %w", raw, err)
	}
	return s, nil
}

func encodeCriterion(spec criteria.Spec) (any, error) {
	if spec.Criterion == nil {
		return nil, nil
	}
	b, err := criteria.Marshal(spec.Criterion)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// decodeCriterion keeps unparseable stored criteria as Unknown so evaluation
// can report them instead of failing the whole read.
func decodeCriterion(raw sql.NullString) criteria.Spec {
	if !raw.Valid || raw.String == "" {
		return criteria.Spec{}
	}
	c, err := criteria.Parse([]byte(raw.String))
	if err != nil {
		return criteria.Spec{Criterion: criteria.Unknown{Raw: json.RawMessage(raw.String)}}
	}
	return criteria.Spec{Criterion: c}
}

func affectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
