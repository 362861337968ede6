package engine

import (
	"context"
	"database/sql"
	"fmt"

	"adoptline/internal/domain"
)

// StatusUpdate is a manual status change requested by a user.
type StatusUpdate struct {
	TaskInstanceID string
	Status         domain.Status
	Notes          string
}

// UpdateTaskStatus applies a manual status change. Manual updates always win
// over automatic evaluation; RETIRED is reserved for sync.
func (e Engine) UpdateTaskStatus(ctx context.Context, upd StatusUpdate) (domain.TaskInstance, error) {
	status, err := domain.ParseStatus(string(upd.Status))
	if err != nil {
		return domain.TaskInstance{}, NewValidationError(err.Error()).WithField("status").WithValue(upd.Status)
	}
	if status == domain.StatusRetired {
		return domain.TaskInstance{}, NewValidationError("RETIRED is set by plan sync only").WithField("status").WithValue(status)
	}
	inst, err := e.Repo.GetInstance(ctx, upd.TaskInstanceID)
	if err != nil {
		return domain.TaskInstance{}, notFound(err, "task", upd.TaskInstanceID)
	}
	unlock := e.lockPlan(inst.PlanID)
	defer unlock()

	err = e.inTx(ctx, func(tx *sql.Tx) error {
		cur, err := e.Repo.GetInstanceTx(ctx, tx, upd.TaskInstanceID)
		if err != nil {
			return notFound(err, "task", upd.TaskInstanceID)
		}
		if cur.Retired() {
			return NewValidationError("task has been retired from its plan").WithField("task_id").WithValue(cur.ID)
		}
		now := e.stamp()
		cur.Status = status
		cur.StatusUpdatedAt = now
		cur.StatusUpdateSource = domain.SourceManual
		cur.StatusNotes = upd.Notes
		cur.UpdatedAt = now
		if err := e.Repo.UpdateStatusTx(ctx, tx, cur); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		plan, err := e.Repo.GetPlanTx(ctx, tx, cur.PlanID)
		if err != nil {
			return notFound(err, "plan", cur.PlanID)
		}
		if _, err := e.storeRollupTx(ctx, tx, plan, now); err != nil {
			return err
		}
		inst = cur
		return nil
	})
	if err != nil {
		return domain.TaskInstance{}, classify(inst.PlanID, err)
	}
	e.log().Info("task status updated manually", "task_id", inst.ID, "status", inst.Status)
	return inst, nil
}
