package engine

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"

	"adoptline/internal/criteria"
	"adoptline/internal/domain"
	"adoptline/internal/eligibility"
	"adoptline/internal/progress"
)

// SyncChange describes one instance touched by a sync.
type SyncChange struct {
	InstanceID string   `json:"instance_id"`
	TemplateID string   `json:"template_id"`
	Name       string   `json:"name"`
	Fields     []string `json:"fields,omitempty"`
}

type SyncReport struct {
	PlanID   string           `json:"plan_id"`
	Created  []SyncChange     `json:"created"`
	Retired  []SyncChange     `json:"retired"`
	Updated  []SyncChange     `json:"updated"`
	Progress progress.Summary `json:"progress"`
	SyncedAt string           `json:"synced_at" format:"date-time"`
}

// Changed reports whether the sync created, retired or updated anything.
func (r SyncReport) Changed() bool {
	return len(r.Created)+len(r.Retired)+len(r.Updated) > 0
}

const retiredNote = "template no longer eligible for this entitlement"

// Synchronize reconciles a plan's live task instances with the templates its
// entitlement currently makes eligible. All changes are applied in a single
// transaction; on error nothing is written.
func (e Engine) Synchronize(ctx context.Context, planID string) (SyncReport, error) {
	unlock := e.lockPlan(planID)
	defer unlock()

	var report SyncReport
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		report, err = e.synchronizeTx(ctx, tx, planID)
		return err
	})
	if err != nil {
		return SyncReport{}, classify(planID, err)
	}
	e.log().Info("plan synchronized",
		"plan_id", planID,
		"created", len(report.Created),
		"retired", len(report.Retired),
		"updated", len(report.Updated),
		"progress", report.Progress.ProgressPercentage)
	return report, nil
}

func (e Engine) synchronizeTx(ctx context.Context, tx *sql.Tx, planID string) (SyncReport, error) {
	plan, err := e.Repo.GetPlanTx(ctx, tx, planID)
	if err != nil {
		return SyncReport{}, notFound(err, "plan", planID)
	}
	ent, err := e.Repo.GetEntitlementTx(ctx, tx, plan.EntitlementID)
	if err != nil {
		return SyncReport{}, notFound(err, "entitlement", plan.EntitlementID)
	}
	templates, err := e.Repo.ListTemplatesTx(ctx, tx, plan.ProductID, true)
	if err != nil {
		return SyncReport{}, fmt.Errorf("load templates: %w", err)
	}
	eligible := eligibility.Filter(ent, templates)
	if total := eligibility.TotalWeight(eligible); total > MaxTotalWeight+weightEpsilon {
		return SyncReport{}, NewValidationError(
			fmt.Sprintf("eligible template weights sum to %.2f, exceeding %.0f", total, MaxTotalWeight)).
			WithField("weight").WithValue(total)
	}

	live, err := e.Repo.ListInstancesTx(ctx, tx, planID, false)
	if err != nil {
		return SyncReport{}, fmt.Errorf("load instances: %w", err)
	}
	byTemplate := make(map[string]domain.TaskInstance, len(live))
	for _, inst := range live {
		byTemplate[inst.TemplateID] = inst
	}

	now := e.stamp()
	report := SyncReport{
		PlanID:   planID,
		Created:  []SyncChange{},
		Retired:  []SyncChange{},
		Updated:  []SyncChange{},
		SyncedAt: now,
	}

	keep := make(map[string]struct{}, len(eligible))
	for _, tpl := range eligible {
		keep[tpl.ID] = struct{}{}
		inst, ok := byTemplate[tpl.ID]
		if !ok {
			created, err := e.createInstanceTx(ctx, tx, planID, tpl, now)
			if err != nil {
				return SyncReport{}, err
			}
			report.Created = append(report.Created, SyncChange{InstanceID: created.ID, TemplateID: tpl.ID, Name: created.Name})
			continue
		}
		fields, err := e.refreshInstanceTx(ctx, tx, inst, tpl, now)
		if err != nil {
			return SyncReport{}, err
		}
		if len(fields) > 0 {
			report.Updated = append(report.Updated, SyncChange{InstanceID: inst.ID, TemplateID: tpl.ID, Name: tpl.Name, Fields: fields})
		}
	}

	for _, inst := range live {
		if _, ok := keep[inst.TemplateID]; ok {
			continue
		}
		inst.Status = domain.StatusRetired
		inst.StatusUpdatedAt = now
		inst.StatusUpdateSource = domain.SourceSync
		inst.StatusNotes = retiredNote
		inst.RetiredAt = &now
		inst.UpdatedAt = now
		if err := e.Repo.UpdateStatusTx(ctx, tx, inst); err != nil {
			return SyncReport{}, fmt.Errorf("retire instance %s: %w", inst.ID, err)
		}
		report.Retired = append(report.Retired, SyncChange{InstanceID: inst.ID, TemplateID: inst.TemplateID, Name: inst.Name})
	}

	plan.NeedsSync = false
	plan.LastSyncedAt = &now
	summary, err := e.storeRollupTx(ctx, tx, plan, now)
	if err != nil {
		return SyncReport{}, err
	}
	report.Progress = summary
	return report, nil
}

func (e Engine) createInstanceTx(ctx context.Context, tx *sql.Tx, planID string, tpl domain.TaskTemplate, now string) (domain.TaskInstance, error) {
	inst := domain.TaskInstance{
		ID:                 newID(),
		PlanID:             planID,
		TemplateID:         tpl.ID,
		Status:             domain.StatusNotStarted,
		StatusUpdatedAt:    now,
		StatusUpdateSource: domain.SourceSync,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	applySnapshot(&inst, tpl)
	if err := e.Repo.InsertInstanceTx(ctx, tx, inst); err != nil {
		return inst, err
	}
	for _, def := range tpl.Attributes {
		attr := domain.CustomerTelemetryAttribute{
			ID:             newID(),
			TaskInstanceID: inst.ID,
			DefinitionID:   def.ID,
			Active:         true,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		applyDefinition(&attr, def)
		if err := e.Repo.InsertAttributeTx(ctx, tx, attr); err != nil {
			return inst, err
		}
		inst.Attributes = append(inst.Attributes, attr)
	}
	return inst, nil
}

// refreshInstanceTx brings the template snapshot and attribute copies of a
// surviving instance up to date and returns the names of the fields that
// changed. Status and telemetry history are never touched.
func (e Engine) refreshInstanceTx(ctx context.Context, tx *sql.Tx, inst domain.TaskInstance, tpl domain.TaskTemplate, now string) ([]string, error) {
	fields := snapshotDiff(inst, tpl)
	if len(fields) > 0 {
		applySnapshot(&inst, tpl)
		inst.UpdatedAt = now
		if err := e.Repo.UpdateSnapshotTx(ctx, tx, inst); err != nil {
			return nil, fmt.Errorf("refresh instance %s: %w", inst.ID, err)
		}
	}

	attrChanged := false
	byDefinition := make(map[string]domain.CustomerTelemetryAttribute, len(inst.Attributes))
	for _, attr := range inst.Attributes {
		byDefinition[attr.DefinitionID] = attr
	}
	defined := make(map[string]struct{}, len(tpl.Attributes))
	for _, def := range tpl.Attributes {
		defined[def.ID] = struct{}{}
		attr, ok := byDefinition[def.ID]
		if !ok {
			attr = domain.CustomerTelemetryAttribute{
				ID:             newID(),
				TaskInstanceID: inst.ID,
				DefinitionID:   def.ID,
				Active:         true,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			applyDefinition(&attr, def)
			if err := e.Repo.InsertAttributeTx(ctx, tx, attr); err != nil {
				return nil, err
			}
			attrChanged = true
			continue
		}
		if attr.Active && definitionMatches(attr, def) {
			continue
		}
		applyDefinition(&attr, def)
		attr.Active = true
		attr.UpdatedAt = now
		if err := e.Repo.UpdateAttributeTx(ctx, tx, attr); err != nil {
			return nil, err
		}
		attrChanged = true
	}
	for _, attr := range inst.Attributes {
		if _, ok := defined[attr.DefinitionID]; ok || !attr.Active {
			continue
		}
		attr.Active = false
		attr.UpdatedAt = now
		if err := e.Repo.UpdateAttributeTx(ctx, tx, attr); err != nil {
			return nil, err
		}
		attrChanged = true
	}
	if attrChanged {
		fields = append(fields, "attributes")
	}
	return fields, nil
}

func applySnapshot(inst *domain.TaskInstance, tpl domain.TaskTemplate) {
	inst.Name = tpl.Name
	inst.Description = tpl.Description
	inst.Weight = tpl.Weight
	inst.LicenseTier = tpl.LicenseTier
	inst.OutcomeIDs = tpl.OutcomeIDs
	inst.ReleaseIDs = tpl.ReleaseIDs
	inst.SequenceNumber = tpl.SequenceNumber
}

func snapshotDiff(inst domain.TaskInstance, tpl domain.TaskTemplate) []string {
	var fields []string
	if inst.Name != tpl.Name {
		fields = append(fields, "name")
	}
	if inst.Description != tpl.Description {
		fields = append(fields, "description")
	}
	if inst.Weight != tpl.Weight {
		fields = append(fields, "weight")
	}
	if inst.LicenseTier != tpl.LicenseTier {
		fields = append(fields, "license_tier")
	}
	if !inst.OutcomeIDs.Equal(tpl.OutcomeIDs) {
		fields = append(fields, "outcome_ids")
	}
	if !inst.ReleaseIDs.Equal(tpl.ReleaseIDs) {
		fields = append(fields, "release_ids")
	}
	if inst.SequenceNumber != tpl.SequenceNumber {
		fields = append(fields, "sequence_number")
	}
	return fields
}

func applyDefinition(attr *domain.CustomerTelemetryAttribute, def domain.TelemetryAttributeDefinition) {
	attr.Name = def.Name
	attr.Description = def.Description
	attr.DataType = def.DataType
	attr.Required = def.Required
	attr.Criterion = def.Criterion
	attr.Order = def.Order
}

func definitionMatches(attr domain.CustomerTelemetryAttribute, def domain.TelemetryAttributeDefinition) bool {
	return attr.Name == def.Name &&
		attr.Description == def.Description &&
		attr.DataType == def.DataType &&
		attr.Required == def.Required &&
		attr.Order == def.Order &&
		criteriaEqual(attr.Criterion, def.Criterion)
}

func criteriaEqual(a, b criteria.Spec) bool {
	if a.Criterion == nil || b.Criterion == nil {
		return a.Criterion == nil && b.Criterion == nil
	}
	ab, errA := criteria.Marshal(a.Criterion)
	bb, errB := criteria.Marshal(b.Criterion)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
