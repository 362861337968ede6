package engine

import (
	"context"
	"database/sql"

	"adoptline/internal/domain"
	"adoptline/internal/progress"
)

// storeRollupTx recomputes the plan's weighted progress from its instances and
// persists it together with any sync fields already set on plan. The update is
// conditional on the version read earlier in the transaction.
func (e Engine) storeRollupTx(ctx context.Context, tx *sql.Tx, plan domain.AdoptionPlan, now string) (progress.Summary, error) {
	instances, err := e.Repo.ListInstancesTx(ctx, tx, plan.ID, true)
	if err != nil {
		return progress.Summary{}, err
	}
	summary := progress.Aggregate(instances)
	plan.TotalWeight = summary.TotalWeight
	plan.CompletedWeight = summary.CompletedWeight
	plan.ProgressPercentage = summary.ProgressPercentage
	plan.UpdatedAt = now
	if err := e.Repo.UpdatePlanTx(ctx, tx, plan, plan.Version); err != nil {
		return progress.Summary{}, err
	}
	return summary, nil
}

// ComputeProgress aggregates a plan's current instances without writing.
func (e Engine) ComputeProgress(ctx context.Context, planID string) (progress.Summary, error) {
	if _, err := e.Repo.GetPlan(ctx, planID); err != nil {
		return progress.Summary{}, notFound(err, "plan", planID)
	}
	instances, err := e.Repo.ListInstances(ctx, planID, true)
	if err != nil {
		return progress.Summary{}, err
	}
	return progress.Aggregate(instances), nil
}
