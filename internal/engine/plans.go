package engine

import (
	"context"
	"database/sql"

	"adoptline/internal/domain"
	"adoptline/internal/repo"
)

// EnsurePlan returns the adoption plan for an entitlement, creating an empty
// one flagged for sync if the entitlement has none yet.
func (e Engine) EnsurePlan(ctx context.Context, entitlementID string) (domain.AdoptionPlan, bool, error) {
	var (
		plan    domain.AdoptionPlan
		created bool
	)
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		ent, err := e.Repo.GetEntitlementTx(ctx, tx, entitlementID)
		if err != nil {
			return notFound(err, "entitlement", entitlementID)
		}
		plan, created, err = e.Repo.EnsurePlanTx(ctx, tx, ent, newID(), e.stamp())
		return err
	})
	if err != nil {
		return domain.AdoptionPlan{}, false, err
	}
	if created {
		e.log().Info("adoption plan created", "plan_id", plan.ID, "entitlement_id", entitlementID)
	}
	return plan, created, nil
}

func (e Engine) GetPlan(ctx context.Context, planID string) (domain.AdoptionPlan, error) {
	p, err := e.Repo.GetPlan(ctx, planID)
	if err != nil {
		return p, notFound(err, "plan", planID)
	}
	return p, nil
}

func (e Engine) ListPlans(ctx context.Context, f repo.PlanFilters) ([]domain.AdoptionPlan, error) {
	return e.Repo.ListPlans(ctx, f)
}

func (e Engine) GetTask(ctx context.Context, instanceID string) (domain.TaskInstance, error) {
	t, err := e.Repo.GetInstance(ctx, instanceID)
	if err != nil {
		return t, notFound(err, "task", instanceID)
	}
	return t, nil
}

// ListTasks returns a plan's task instances ordered by sequence number.
func (e Engine) ListTasks(ctx context.Context, planID string, includeRetired bool) ([]domain.TaskInstance, error) {
	if _, err := e.GetPlan(ctx, planID); err != nil {
		return nil, err
	}
	return e.Repo.ListInstances(ctx, planID, includeRetired)
}
