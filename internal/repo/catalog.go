package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"adoptline/internal/criteria"
	"adoptline/internal/domain"
)

func (r Repo) UpsertProductTx(ctx context.Context, tx *sql.Tx, p domain.Product, now string) error {
	_, err := tx.ExecContext(ctx, r.q(`INSERT INTO products(id,name,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, updated_at=excluded.updated_at`),
		p.ID, p.Name, now, now)
	return err
}

func (r Repo) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	var p domain.Product
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT id,name FROM products WHERE id=?`), id).Scan(&p.ID, &p.Name)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpsertTemplateTx writes the template row and replaces its attribute
// definitions with t.Attributes.
func (r Repo) UpsertTemplateTx(ctx context.Context, tx *sql.Tx, t domain.TaskTemplate) error {
	outcomes, err := encodeSelection(t.OutcomeIDs)
	if err != nil {
		return err
	}
	releases, err := encodeSelection(t.ReleaseIDs)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, r.q(`INSERT INTO task_templates(id,product_id,name,description,weight,license_tier,outcome_ids,release_ids,sequence_number,active,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET product_id=excluded.product_id, name=excluded.name, description=excluded.description,
weight=excluded.weight, license_tier=excluded.license_tier, outcome_ids=excluded.outcome_ids, release_ids=excluded.release_ids,
sequence_number=excluded.sequence_number, active=excluded.active, updated_at=excluded.updated_at`),
		t.ID, t.ProductID, t.Name, nullable(t.Description), t.Weight, int(t.LicenseTier), outcomes, releases,
		t.SequenceNumber, boolInt(t.Active), t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert template %s: %w", t.ID, err)
	}
	if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM template_attributes WHERE template_id=?`), t.ID); err != nil {
		return err
	}
	for i, a := range t.Attributes {
		crit, err := encodeCriterion(a.Criterion)
		if err != nil {
			return fmt.Errorf("attribute %s: %w", a.ID, err)
		}
		order := a.Order
		if order == 0 {
			order = i + 1
		}
		_, err = tx.ExecContext(ctx, r.q(`INSERT INTO template_attributes(id,template_id,name,description,data_type,required,success_criteria,sort_order)
VALUES (?,?,?,?,?,?,?,?)`),
			a.ID, t.ID, a.Name, nullable(a.Description), string(a.DataType), boolInt(a.Required), crit, order)
		if err != nil {
			return fmt.Errorf("insert attribute %s: %w", a.ID, err)
		}
	}
	return nil
}

// DeactivateTemplatesExceptTx marks every active template of the product whose
// id is not in keep as inactive and returns how many changed.
func (r Repo) DeactivateTemplatesExceptTx(ctx context.Context, tx *sql.Tx, productID string, keep []string, now string) (int64, error) {
	query := `UPDATE task_templates SET active=0, updated_at=? WHERE product_id=? AND active=1`
	args := []any{now, productID}
	if len(keep) > 0 {
		query += ` AND id NOT IN (` + strings.TrimSuffix(strings.Repeat("?,", len(keep)), ",") + `)`
		for _, id := range keep {
			args = append(args, id)
		}
	}
	res, err := tx.ExecContext(ctx, r.q(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) GetTemplate(ctx context.Context, id string) (domain.TaskTemplate, error) {
	return r.getTemplate(ctx, r.DB, id)
}

func (r Repo) getTemplate(ctx context.Context, qr querier, id string) (domain.TaskTemplate, error) {
	rows, err := qr.QueryContext(ctx, r.q(templateSelect+` WHERE id=?`), id)
	if err != nil {
		return domain.TaskTemplate{}, err
	}
	templates, err := scanTemplates(rows)
	if err != nil {
		return domain.TaskTemplate{}, err
	}
	if len(templates) == 0 {
		return domain.TaskTemplate{}, ErrNotFound
	}
	if err := r.loadDefinitions(ctx, qr, templates); err != nil {
		return domain.TaskTemplate{}, err
	}
	return templates[0], nil
}

// ListTemplates returns a product's templates with their attribute
// definitions, ordered by sequence number.
func (r Repo) ListTemplates(ctx context.Context, productID string, activeOnly bool) ([]domain.TaskTemplate, error) {
	return r.listTemplates(ctx, r.DB, productID, activeOnly)
}

func (r Repo) ListTemplatesTx(ctx context.Context, tx *sql.Tx, productID string, activeOnly bool) ([]domain.TaskTemplate, error) {
	return r.listTemplates(ctx, tx, productID, activeOnly)
}

const templateSelect = `SELECT id,product_id,name,COALESCE(description,''),weight,license_tier,outcome_ids,release_ids,sequence_number,active,updated_at FROM task_templates`

func (r Repo) listTemplates(ctx context.Context, qr querier, productID string, activeOnly bool) ([]domain.TaskTemplate, error) {
	query := templateSelect + ` WHERE product_id=?`
	if activeOnly {
		query += ` AND active=1`
	}
	query += ` ORDER BY sequence_number, id`
	rows, err := qr.QueryContext(ctx, r.q(query), productID)
	if err != nil {
		return nil, err
	}
	templates, err := scanTemplates(rows)
	if err != nil {
		return nil, err
	}
	if err := r.loadDefinitions(ctx, qr, templates); err != nil {
		return nil, err
	}
	return templates, nil
}

func scanTemplates(rows *sql.Rows) ([]domain.TaskTemplate, error) {
	defer rows.Close()
	var res []domain.TaskTemplate
	for rows.Next() {
		var (
			t                  domain.TaskTemplate
			tier               int
			active             int64
			outcomes, releases string
		)
		if err := rows.Scan(&t.ID, &t.ProductID, &t.Name, &t.Description, &t.Weight, &tier, &outcomes, &releases,
			&t.SequenceNumber, &active, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.LicenseTier = domain.LicenseTier(tier)
		t.Active = active != 0
		var err error
		if t.OutcomeIDs, err = decodeSelection(outcomes); err != nil {
			return nil, err
		}
		if t.ReleaseIDs, err = decodeSelection(releases); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) loadDefinitions(ctx context.Context, qr querier, templates []domain.TaskTemplate) error {
	for i := range templates {
		defs, err := r.listDefinitions(ctx, qr, templates[i].ID)
		if err != nil {
			return err
		}
		templates[i].Attributes = defs
	}
	return nil
}

func (r Repo) listDefinitions(ctx context.Context, qr querier, templateID string) ([]domain.TelemetryAttributeDefinition, error) {
	rows, err := qr.QueryContext(ctx, r.q(`SELECT id,template_id,name,COALESCE(description,''),data_type,required,success_criteria,sort_order
FROM template_attributes WHERE template_id=? ORDER BY sort_order, id`), templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TelemetryAttributeDefinition
	for rows.Next() {
		var (
			d        domain.TelemetryAttributeDefinition
			dataType string
			required int64
			crit     sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.TemplateID, &d.Name, &d.Description, &dataType, &required, &crit, &d.Order); err != nil {
			return nil, err
		}
		d.DataType = criteria.DataType(dataType)
		d.Required = required != 0
		d.Criterion = decodeCriterion(crit)
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) UpsertEntitlementTx(ctx context.Context, tx *sql.Tx, e domain.Entitlement) error {
	outcomes, err := encodeSelection(e.OutcomeIDs)
	if err != nil {
		return err
	}
	releases, err := encodeSelection(e.ReleaseIDs)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, r.q(`INSERT INTO entitlements(id,customer_id,product_id,license_tier,outcome_ids,release_ids,updated_at)
VALUES (?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET customer_id=excluded.customer_id, product_id=excluded.product_id, license_tier=excluded.license_tier,
outcome_ids=excluded.outcome_ids, release_ids=excluded.release_ids, updated_at=excluded.updated_at`),
		e.ID, e.CustomerID, e.ProductID, int(e.LicenseTier), outcomes, releases, e.UpdatedAt)
	return err
}

func (r Repo) GetEntitlement(ctx context.Context, id string) (domain.Entitlement, error) {
	return r.getEntitlement(ctx, r.DB, id)
}

func (r Repo) GetEntitlementTx(ctx context.Context, tx *sql.Tx, id string) (domain.Entitlement, error) {
	return r.getEntitlement(ctx, tx, id)
}

func (r Repo) getEntitlement(ctx context.Context, qr querier, id string) (domain.Entitlement, error) {
	var (
		e                  domain.Entitlement
		tier               int
		outcomes, releases string
	)
	err := qr.QueryRowContext(ctx, r.q(`SELECT id,customer_id,product_id,license_tier,outcome_ids,release_ids,updated_at FROM entitlements WHERE id=?`), id).
		Scan(&e.ID, &e.CustomerID, &e.ProductID, &tier, &outcomes, &releases, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.LicenseTier = domain.LicenseTier(tier)
	if e.OutcomeIDs, err = decodeSelection(outcomes); err != nil {
		return e, err
	}
	if e.ReleaseIDs, err = decodeSelection(releases); err != nil {
		return e, err
	}
	return e, nil
}

func (r Repo) ListEntitlements(ctx context.Context, productID string) ([]domain.Entitlement, error) {
	query := `SELECT id FROM entitlements`
	var args []any
	if productID != "" {
		query += ` WHERE product_id=?`
		args = append(args, productID)
	}
	query += ` ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res := make([]domain.Entitlement, 0, len(ids))
	for _, id := range ids {
		e, err := r.GetEntitlement(ctx, id)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, nil
}
