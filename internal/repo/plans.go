package repo

import (
	"context"
	"database/sql"
	"strings"

	"adoptline/internal/db"
	"adoptline/internal/domain"
)

const planSelect = `SELECT id,entitlement_id,customer_id,product_id,needs_sync,last_synced_at,total_weight,completed_weight,progress_percentage,version,created_at,updated_at FROM adoption_plans`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (domain.AdoptionPlan, error) {
	var (
		p         domain.AdoptionPlan
		needsSync int64
		lastSync  sql.NullString
	)
	err := row.Scan(&p.ID, &p.EntitlementID, &p.CustomerID, &p.ProductID, &needsSync, &lastSync,
		&p.TotalWeight, &p.CompletedWeight, &p.ProgressPercentage, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.NeedsSync = needsSync != 0
	if lastSync.Valid {
		p.LastSyncedAt = &lastSync.String
	}
	return p, nil
}

func (r Repo) InsertPlanTx(ctx context.Context, tx *sql.Tx, p domain.AdoptionPlan) error {
	_, err := tx.ExecContext(ctx, r.q(`INSERT INTO adoption_plans(id,entitlement_id,customer_id,product_id,needs_sync,last_synced_at,total_weight,completed_weight,progress_percentage,version,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`),
		p.ID, p.EntitlementID, p.CustomerID, p.ProductID, boolInt(p.NeedsSync), nullableStringPtr(p.LastSyncedAt),
		p.TotalWeight, p.CompletedWeight, p.ProgressPercentage, p.Version, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetPlan(ctx context.Context, id string) (domain.AdoptionPlan, error) {
	return scanPlan(r.DB.QueryRowContext(ctx, r.q(planSelect+` WHERE id=?`), id))
}

// GetPlanTx reads the plan inside tx. On Postgres the row stays locked until
// tx ends so writers of one plan queue behind each other.
func (r Repo) GetPlanTx(ctx context.Context, tx *sql.Tx, id string) (domain.AdoptionPlan, error) {
	query := planSelect + ` WHERE id=?`
	if r.Dialect == db.Postgres {
		query += ` FOR UPDATE`
	}
	return scanPlan(tx.QueryRowContext(ctx, r.q(query), id))
}

func (r Repo) GetPlanByEntitlementTx(ctx context.Context, tx *sql.Tx, entitlementID string) (domain.AdoptionPlan, error) {
	return scanPlan(tx.QueryRowContext(ctx, r.q(planSelect+` WHERE entitlement_id=?`), entitlementID))
}

type PlanFilters struct {
	CustomerID      string
	ProductID       string
	NeedsSync       *bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

// ListPlans pages through plans oldest first using a (created_at, id) cursor.
func (r Repo) ListPlans(ctx context.Context, f PlanFilters) ([]domain.AdoptionPlan, error) {
	var clauses []string
	var args []any
	if f.CustomerID != "" {
		clauses = append(clauses, "customer_id=?")
		args = append(args, f.CustomerID)
	}
	if f.ProductID != "" {
		clauses = append(clauses, "product_id=?")
		args = append(args, f.ProductID)
	}
	if f.NeedsSync != nil {
		clauses = append(clauses, "needs_sync=?")
		args = append(args, boolInt(*f.NeedsSync))
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at > ? OR (created_at = ? AND id > ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := planSelect
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AdoptionPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdatePlanTx persists rollup and sync fields when the stored version still
// equals expectedVersion, and bumps it. It returns ErrVersionConflict when
// another writer got there first.
func (r Repo) UpdatePlanTx(ctx context.Context, tx *sql.Tx, p domain.AdoptionPlan, expectedVersion int64) error {
	res, err := tx.ExecContext(ctx, r.q(`UPDATE adoption_plans SET needs_sync=?, last_synced_at=?, total_weight=?, completed_weight=?, progress_percentage=?,
version=version+1, updated_at=? WHERE id=? AND version=?`),
		boolInt(p.NeedsSync), nullableStringPtr(p.LastSyncedAt), p.TotalWeight, p.CompletedWeight, p.ProgressPercentage,
		p.UpdatedAt, p.ID, expectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.GetPlanTx(ctx, tx, p.ID); err != nil {
			return err
		}
		return ErrVersionConflict
	}
	return nil
}

// MarkNeedsSync flags one plan. Like the batch variants it bumps version so a
// sync that read the plan before the flag was set fails its version check.
func (r Repo) MarkNeedsSync(ctx context.Context, planID, now string) error {
	res, err := r.DB.ExecContext(ctx, r.q(`UPDATE adoption_plans SET needs_sync=1, version=version+1, updated_at=? WHERE id=?`), now, planID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// MarkNeedsSyncByProductTx flags every plan of the product, for template changes.
func (r Repo) MarkNeedsSyncByProductTx(ctx context.Context, tx *sql.Tx, productID, now string) (int64, error) {
	res, err := tx.ExecContext(ctx, r.q(`UPDATE adoption_plans SET needs_sync=1, version=version+1, updated_at=? WHERE product_id=? AND needs_sync=0`), now, productID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkNeedsSyncByEntitlementTx flags the plan of one entitlement.
func (r Repo) MarkNeedsSyncByEntitlementTx(ctx context.Context, tx *sql.Tx, entitlementID, now string) (int64, error) {
	res, err := tx.ExecContext(ctx, r.q(`UPDATE adoption_plans SET needs_sync=1, version=version+1, updated_at=? WHERE entitlement_id=? AND needs_sync=0`), now, entitlementID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// EnsurePlanTx returns the entitlement's plan, creating an empty one flagged
// for sync when none exists. The bool reports whether a plan was created.
func (r Repo) EnsurePlanTx(ctx context.Context, tx *sql.Tx, ent domain.Entitlement, newID, now string) (domain.AdoptionPlan, bool, error) {
	p, err := r.GetPlanByEntitlementTx(ctx, tx, ent.ID)
	if err == nil {
		return p, false, nil
	}
	if err != ErrNotFound {
		return p, false, err
	}
	p = domain.AdoptionPlan{
		ID:            newID,
		EntitlementID: ent.ID,
		CustomerID:    ent.CustomerID,
		ProductID:     ent.ProductID,
		NeedsSync:     true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.InsertPlanTx(ctx, tx, p); err != nil {
		return p, false, err
	}
	return p, true, nil
}
