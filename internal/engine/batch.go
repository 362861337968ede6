package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"adoptline/internal/repo"
)

type BatchOptions struct {
	// PlanIDs limits the batch to the given plans; empty means all plans.
	PlanIDs []string
	// NeedsSyncOnly skips plans that are not flagged for sync. Ignored when
	// PlanIDs is set.
	NeedsSyncOnly bool
	// Concurrency overrides config.sync.concurrency when positive.
	Concurrency int
}

type BatchResult struct {
	PlanID string      `json:"plan_id"`
	Report *SyncReport `json:"report,omitempty"`
	Error  string      `json:"error,omitempty"`
	err    error
}

// Err returns the plan's sync error, if any.
func (r BatchResult) Err() error { return r.err }

type BatchReport struct {
	Results []BatchResult `json:"results"`
	Synced  int           `json:"synced"`
	Failed  int           `json:"failed"`
}

// SynchronizeAll synchronizes many plans with bounded parallelism. A failing
// plan is recorded in its result and never stops the others.
func (e Engine) SynchronizeAll(ctx context.Context, opts BatchOptions) (BatchReport, error) {
	planIDs := opts.PlanIDs
	if len(planIDs) == 0 {
		f := repo.PlanFilters{}
		if opts.NeedsSyncOnly {
			needs := true
			f.NeedsSync = &needs
		}
		plans, err := e.Repo.ListPlans(ctx, f)
		if err != nil {
			return BatchReport{}, err
		}
		for _, p := range plans {
			planIDs = append(planIDs, p.ID)
		}
	}

	limit := opts.Concurrency
	if limit <= 0 && e.Config != nil {
		limit = e.Config.Sync.Concurrency
	}
	if limit <= 0 {
		limit = 1
	}

	results := make([]BatchResult, len(planIDs))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, id := range planIDs {
		i, id := i, id
		g.Go(func() error {
			results[i].PlanID = id
			if err := ctx.Err(); err != nil {
				results[i].err = err
				results[i].Error = err.Error()
				return nil
			}
			report, err := e.Synchronize(ctx, id)
			if err != nil {
				results[i].err = err
				results[i].Error = err.Error()
				return nil
			}
			results[i].Report = &report
			return nil
		})
	}
	_ = g.Wait()

	out := BatchReport{Results: results}
	for _, r := range results {
		if r.err != nil {
			out.Failed++
			e.log().Warn("plan sync failed", "plan_id", r.PlanID, "error", r.err)
			continue
		}
		out.Synced++
	}
	e.log().Info("batch sync finished", "plans", len(planIDs), "synced", out.Synced, "failed", out.Failed)
	return out, nil
}
