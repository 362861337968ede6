package repo

import (
	"context"
	"database/sql"
	"fmt"

	"adoptline/internal/criteria"
	"adoptline/internal/domain"
)

const instanceSelect = `SELECT id,plan_id,template_id,name,COALESCE(description,''),weight,license_tier,outcome_ids,release_ids,sequence_number,
status,status_updated_at,status_update_source,COALESCE(status_notes,''),COALESCE(notes,''),retired_at,created_at,updated_at FROM task_instances`

func scanInstance(row rowScanner) (domain.TaskInstance, error) {
	var (
		t                  domain.TaskInstance
		tier               int
		outcomes, releases string
		status, source     string
		retiredAt          sql.NullString
	)
	err := row.Scan(&t.ID, &t.PlanID, &t.TemplateID, &t.Name, &t.Description, &t.Weight, &tier, &outcomes, &releases,
		&t.SequenceNumber, &status, &t.StatusUpdatedAt, &source, &t.StatusNotes, &t.Notes, &retiredAt, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.LicenseTier = domain.LicenseTier(tier)
	t.Status = domain.Status(status)
	t.StatusUpdateSource = domain.UpdateSource(source)
	if retiredAt.Valid {
		t.RetiredAt = &retiredAt.String
	}
	if t.OutcomeIDs, err = decodeSelection(outcomes); err != nil {
		return t, err
	}
	if t.ReleaseIDs, err = decodeSelection(releases); err != nil {
		return t, err
	}
	return t, nil
}

func (r Repo) InsertInstanceTx(ctx context.Context, tx *sql.Tx, t domain.TaskInstance) error {
	outcomes, err := encodeSelection(t.OutcomeIDs)
	if err != nil {
		return err
	}
	releases, err := encodeSelection(t.ReleaseIDs)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, r.q(`INSERT INTO task_instances(id,plan_id,template_id,name,description,weight,license_tier,outcome_ids,release_ids,sequence_number,
status,status_updated_at,status_update_source,status_notes,notes,retired_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		t.ID, t.PlanID, t.TemplateID, t.Name, nullable(t.Description), t.Weight, int(t.LicenseTier), outcomes, releases, t.SequenceNumber,
		string(t.Status), t.StatusUpdatedAt, string(t.StatusUpdateSource), nullable(t.StatusNotes), nullable(t.Notes),
		nullableStringPtr(t.RetiredAt), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task instance: %w", err)
	}
	return nil
}

// UpdateSnapshotTx rewrites the template-derived fields of an instance. Status
// fields are left alone.
func (r Repo) UpdateSnapshotTx(ctx context.Context, tx *sql.Tx, t domain.TaskInstance) error {
	outcomes, err := encodeSelection(t.OutcomeIDs)
	if err != nil {
		return err
	}
	releases, err := encodeSelection(t.ReleaseIDs)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, r.q(`UPDATE task_instances SET name=?, description=?, weight=?, license_tier=?, outcome_ids=?, release_ids=?,
sequence_number=?, updated_at=? WHERE id=?`),
		t.Name, nullable(t.Description), t.Weight, int(t.LicenseTier), outcomes, releases, t.SequenceNumber, t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// UpdateStatusTx records a status transition.
func (r Repo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, t domain.TaskInstance) error {
	res, err := tx.ExecContext(ctx, r.q(`UPDATE task_instances SET status=?, status_updated_at=?, status_update_source=?, status_notes=?, notes=?,
retired_at=?, updated_at=? WHERE id=?`),
		string(t.Status), t.StatusUpdatedAt, string(t.StatusUpdateSource), nullable(t.StatusNotes), nullable(t.Notes),
		nullableStringPtr(t.RetiredAt), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) GetInstance(ctx context.Context, id string) (domain.TaskInstance, error) {
	return r.getInstance(ctx, r.DB, id)
}

func (r Repo) GetInstanceTx(ctx context.Context, tx *sql.Tx, id string) (domain.TaskInstance, error) {
	return r.getInstance(ctx, tx, id)
}

func (r Repo) getInstance(ctx context.Context, qr querier, id string) (domain.TaskInstance, error) {
	t, err := scanInstance(qr.QueryRowContext(ctx, r.q(instanceSelect+` WHERE id=?`), id))
	if err != nil {
		return t, err
	}
	attrs, err := r.listAttributes(ctx, qr, `task_instance_id=?`, id)
	if err != nil {
		return t, err
	}
	t.Attributes = attrs
	return t, nil
}

// ListInstances returns a plan's instances with their attributes, ordered by
// sequence number.
func (r Repo) ListInstances(ctx context.Context, planID string, includeRetired bool) ([]domain.TaskInstance, error) {
	return r.listInstances(ctx, r.DB, planID, includeRetired)
}

func (r Repo) ListInstancesTx(ctx context.Context, tx *sql.Tx, planID string, includeRetired bool) ([]domain.TaskInstance, error) {
	return r.listInstances(ctx, tx, planID, includeRetired)
}

func (r Repo) listInstances(ctx context.Context, qr querier, planID string, includeRetired bool) ([]domain.TaskInstance, error) {
	query := instanceSelect + ` WHERE plan_id=?`
	if !includeRetired {
		query += ` AND retired_at IS NULL`
	}
	query += ` ORDER BY sequence_number, created_at, id`
	rows, err := qr.QueryContext(ctx, r.q(query), planID)
	if err != nil {
		return nil, err
	}
	var res []domain.TaskInstance
	for rows.Next() {
		t, err := scanInstance(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	attrs, err := r.listAttributes(ctx, qr, `task_instance_id IN (SELECT id FROM task_instances WHERE plan_id=?)`, planID)
	if err != nil {
		return nil, err
	}
	byInstance := map[string][]domain.CustomerTelemetryAttribute{}
	for _, a := range attrs {
		byInstance[a.TaskInstanceID] = append(byInstance[a.TaskInstanceID], a)
	}
	for i := range res {
		res[i].Attributes = byInstance[res[i].ID]
	}
	return res, nil
}

const attributeSelect = `SELECT id,task_instance_id,definition_id,name,COALESCE(description,''),data_type,required,success_criteria,active,sort_order,created_at,updated_at FROM customer_attributes`

func scanAttribute(row rowScanner) (domain.CustomerTelemetryAttribute, error) {
	var (
		a                domain.CustomerTelemetryAttribute
		dataType         string
		required, active int64
		crit             sql.NullString
	)
	err := row.Scan(&a.ID, &a.TaskInstanceID, &a.DefinitionID, &a.Name, &a.Description, &dataType, &required, &crit,
		&active, &a.Order, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.DataType = criteria.DataType(dataType)
	a.Required = required != 0
	a.Active = active != 0
	a.Criterion = decodeCriterion(crit)
	return a, nil
}

func (r Repo) listAttributes(ctx context.Context, qr querier, where string, args ...any) ([]domain.CustomerTelemetryAttribute, error) {
	rows, err := qr.QueryContext(ctx, r.q(attributeSelect+` WHERE `+where+` ORDER BY sort_order, id`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CustomerTelemetryAttribute
	for rows.Next() {
		a, err := scanAttribute(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) GetAttribute(ctx context.Context, id string) (domain.CustomerTelemetryAttribute, error) {
	return scanAttribute(r.DB.QueryRowContext(ctx, r.q(attributeSelect+` WHERE id=?`), id))
}

func (r Repo) InsertAttributeTx(ctx context.Context, tx *sql.Tx, a domain.CustomerTelemetryAttribute) error {
	crit, err := encodeCriterion(a.Criterion)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, r.q(`INSERT INTO customer_attributes(id,task_instance_id,definition_id,name,description,data_type,required,success_criteria,active,sort_order,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`),
		a.ID, a.TaskInstanceID, a.DefinitionID, a.Name, nullable(a.Description), string(a.DataType), boolInt(a.Required), crit,
		boolInt(a.Active), a.Order, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert attribute: %w", err)
	}
	return nil
}

// UpdateAttributeTx rewrites the definition-derived fields and the active flag.
func (r Repo) UpdateAttributeTx(ctx context.Context, tx *sql.Tx, a domain.CustomerTelemetryAttribute) error {
	crit, err := encodeCriterion(a.Criterion)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, r.q(`UPDATE customer_attributes SET name=?, description=?, data_type=?, required=?, success_criteria=?, active=?,
sort_order=?, updated_at=? WHERE id=?`),
		a.Name, nullable(a.Description), string(a.DataType), boolInt(a.Required), crit, boolInt(a.Active), a.Order, a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}
