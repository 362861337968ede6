package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"adoptline/internal/criteria"
	"adoptline/internal/domain"
	"adoptline/internal/progress"
	"adoptline/internal/repo"
)

// TelemetryProgress summarizes how many of a task's active attributes are met.
type TelemetryProgress struct {
	TotalAttributes       int     `json:"total_attributes"`
	RequiredAttributes    int     `json:"required_attributes"`
	MetAttributes         int     `json:"met_attributes"`
	MetRequiredAttributes int     `json:"met_required_attributes"`
	CompletionPercentage  float64 `json:"completion_percentage"`
	AllRequiredMet        bool    `json:"all_required_met"`
}

type AttributeResult struct {
	AttributeID     string          `json:"attribute_id"`
	DefinitionID    string          `json:"definition_id"`
	Name            string          `json:"name"`
	Required        bool            `json:"required"`
	Criterion       string          `json:"criterion"`
	Match           criteria.Match  `json:"match" enum:"MET,NOT_MET,INDETERMINATE"`
	Warning         string          `json:"warning,omitempty"`
	Value           json.RawMessage `json:"value,omitempty"`
	ValueRecordedAt string          `json:"value_recorded_at,omitempty"`
}

type EvaluationResult struct {
	TaskInstanceID string            `json:"task_instance_id"`
	PlanID         string            `json:"plan_id"`
	PreviousStatus domain.Status     `json:"previous_status"`
	Status         domain.Status     `json:"status"`
	StatusChanged  bool              `json:"status_changed"`
	Telemetry      TelemetryProgress `json:"telemetry"`
	Attributes     []AttributeResult `json:"attributes"`
	Warnings       []string          `json:"warnings"`
	EvaluatedAt    string            `json:"evaluated_at" format:"date-time"`
}

const completedNote = "all required telemetry criteria met"

// EvaluateTask evaluates the latest telemetry of a task instance against its
// success criteria and moves it to COMPLETED when every required attribute is
// met. Data-quality problems are reported as warnings, never as errors.
func (e Engine) EvaluateTask(ctx context.Context, instanceID string) (EvaluationResult, error) {
	inst, err := e.Repo.GetInstance(ctx, instanceID)
	if err != nil {
		return EvaluationResult{}, notFound(err, "task", instanceID)
	}
	unlock := e.lockPlan(inst.PlanID)
	defer unlock()

	var res EvaluationResult
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		inst, err := e.Repo.GetInstanceTx(ctx, tx, instanceID)
		if err != nil {
			return notFound(err, "task", instanceID)
		}
		now := e.stamp()
		res, err = e.evaluateInstanceTx(ctx, tx, inst, now)
		if err != nil {
			return err
		}
		if !res.StatusChanged {
			return nil
		}
		plan, err := e.Repo.GetPlanTx(ctx, tx, inst.PlanID)
		if err != nil {
			return notFound(err, "plan", inst.PlanID)
		}
		_, err = e.storeRollupTx(ctx, tx, plan, now)
		return err
	})
	if err != nil {
		return EvaluationResult{}, classify(inst.PlanID, err)
	}
	e.logEvaluation(res)
	return res, nil
}

// EvaluatePlan evaluates every live task instance of a plan in one
// transaction and returns one result per task.
func (e Engine) EvaluatePlan(ctx context.Context, planID string) ([]EvaluationResult, error) {
	unlock := e.lockPlan(planID)
	defer unlock()

	var results []EvaluationResult
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		plan, err := e.Repo.GetPlanTx(ctx, tx, planID)
		if err != nil {
			return notFound(err, "plan", planID)
		}
		instances, err := e.Repo.ListInstancesTx(ctx, tx, planID, false)
		if err != nil {
			return err
		}
		now := e.stamp()
		changed := false
		results = make([]EvaluationResult, 0, len(instances))
		for _, inst := range instances {
			res, err := e.evaluateInstanceTx(ctx, tx, inst, now)
			if err != nil {
				return err
			}
			changed = changed || res.StatusChanged
			results = append(results, res)
		}
		if !changed {
			return nil
		}
		_, err = e.storeRollupTx(ctx, tx, plan, now)
		return err
	})
	if err != nil {
		return nil, classify(planID, err)
	}
	for _, res := range results {
		e.logEvaluation(res)
	}
	return results, nil
}

func (e Engine) evaluateInstanceTx(ctx context.Context, tx *sql.Tx, inst domain.TaskInstance, now string) (EvaluationResult, error) {
	res := EvaluationResult{
		TaskInstanceID: inst.ID,
		PlanID:         inst.PlanID,
		PreviousStatus: inst.Status,
		Status:         inst.Status,
		Attributes:     []AttributeResult{},
		Warnings:       []string{},
		EvaluatedAt:    now,
	}
	for _, attr := range inst.Attributes {
		if !attr.Active {
			continue
		}
		ar, err := e.evaluateAttributeTx(ctx, tx, attr)
		if err != nil {
			return res, err
		}
		res.Attributes = append(res.Attributes, ar)
		if ar.Warning != "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %s", attr.Name, ar.Warning))
		}
	}
	res.Telemetry = summarize(res.Attributes)

	if inst.Retired() {
		return res, nil
	}
	if inst.Status.AutoCompletable() && res.Telemetry.RequiredAttributes > 0 && res.Telemetry.AllRequiredMet {
		inst.Status = domain.StatusCompleted
		inst.StatusUpdatedAt = now
		inst.StatusUpdateSource = domain.SourceTelemetry
		inst.StatusNotes = completedNote
		inst.UpdatedAt = now
		if err := e.Repo.UpdateStatusTx(ctx, tx, inst); err != nil {
			return res, fmt.Errorf("complete task %s: %w", inst.ID, err)
		}
		res.Status = inst.Status
		res.StatusChanged = true
	}
	return res, nil
}

func (e Engine) evaluateAttributeTx(ctx context.Context, tx *sql.Tx, attr domain.CustomerTelemetryAttribute) (AttributeResult, error) {
	ar := AttributeResult{
		AttributeID:  attr.ID,
		DefinitionID: attr.DefinitionID,
		Name:         attr.Name,
		Required:     attr.Required,
		Criterion:    criteria.Describe(attr.Criterion.Criterion),
	}
	value := criteria.Missing(attr.DataType)
	latest, err := e.Repo.LatestTelemetryValueTx(ctx, tx, attr.ID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
	case err != nil:
		return ar, fmt.Errorf("latest value for %s: %w", attr.ID, err)
	default:
		ar.Value = latest.Value
		ar.ValueRecordedAt = latest.CreatedAt
		decoded, derr := criteria.Decode(attr.DataType, latest.Value)
		if derr != nil {
			ar.Match = criteria.Indeterminate
			ar.Warning = derr.Error()
			return ar, nil
		}
		value = decoded
	}
	result := criteria.Evaluate(attr.Criterion.Criterion, value)
	ar.Match = result.Match
	ar.Warning = result.Warning
	return ar, nil
}

func summarize(results []AttributeResult) TelemetryProgress {
	var p TelemetryProgress
	for _, r := range results {
		p.TotalAttributes++
		if r.Required {
			p.RequiredAttributes++
		}
		if r.Match == criteria.Met {
			p.MetAttributes++
			if r.Required {
				p.MetRequiredAttributes++
			}
		}
	}
	p.CompletionPercentage = progress.Percentage(float64(p.MetAttributes), float64(p.TotalAttributes))
	p.AllRequiredMet = p.MetRequiredAttributes == p.RequiredAttributes
	return p
}

func (e Engine) logEvaluation(res EvaluationResult) {
	for _, w := range res.Warnings {
		e.log().Warn("telemetry data quality", "task_id", res.TaskInstanceID, "plan_id", res.PlanID, "warning", w)
	}
	if res.StatusChanged {
		e.log().Info("task status updated from telemetry",
			"task_id", res.TaskInstanceID, "from", res.PreviousStatus, "to", res.Status)
	}
}
