package repo_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"adoptline/internal/criteria"
	"adoptline/internal/db"
	"adoptline/internal/domain"
	"adoptline/internal/migrate"
	"adoptline/internal/repo"
)

const ts = "2024-01-01T00:00:00.000000Z"

func newRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	h, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	ctx := context.Background()
	if _, err := migrate.Migrate(ctx, h); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.New(h), ctx
}

func seedPlan(t *testing.T, r repo.Repo, ctx context.Context) domain.AdoptionPlan {
	t.Helper()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := r.UpsertProductTx(ctx, tx, domain.Product{ID: "p1", Name: "Product"}, ts); err != nil {
		t.Fatal(err)
	}
	ent := domain.Entitlement{ID: "e1", CustomerID: "c1", ProductID: "p1", LicenseTier: domain.TierAdvantage,
		OutcomeIDs: domain.Of("o2", "o1"), ReleaseIDs: domain.All(), UpdatedAt: ts}
	if err := r.UpsertEntitlementTx(ctx, tx, ent); err != nil {
		t.Fatal(err)
	}
	plan, created, err := r.EnsurePlanTx(ctx, tx, ent, "plan-1", ts)
	if err != nil || !created {
		t.Fatalf("ensure plan: %v created=%v", err, created)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	return plan
}

func TestEntitlementSelectionsRoundTrip(t *testing.T) {
	r, ctx := newRepo(t)
	seedPlan(t, r, ctx)
	ent, err := r.GetEntitlement(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if !ent.ReleaseIDs.All || ent.OutcomeIDs.All || !ent.OutcomeIDs.Equal(domain.Of("o1", "o2")) {
		t.Fatalf("selections not preserved: %+v", ent)
	}
	if _, err := r.GetEntitlement(ctx, "nope"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEnsurePlanReturnsExisting(t *testing.T) {
	r, ctx := newRepo(t)
	plan := seedPlan(t, r, ctx)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	ent, err := r.GetEntitlementTx(ctx, tx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	again, created, err := r.EnsurePlanTx(ctx, tx, ent, "plan-2", ts)
	if err != nil || created || again.ID != plan.ID {
		t.Fatalf("expected existing plan, got %+v created=%v err=%v", again, created, err)
	}
}

func TestMarkNeedsSyncInvalidatesStaleWriters(t *testing.T) {
	r, ctx := newRepo(t)
	plan := seedPlan(t, r, ctx)

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	plan.NeedsSync = false
	if err := r.UpdatePlanTx(ctx, tx, plan, plan.Version); err != nil {
		t.Fatalf("clear flag: %v", err)
	}
	synced, err := r.GetPlanTx(ctx, tx, plan.ID)
	if err != nil {
		t.Fatal(err)
	}
	n, err := r.MarkNeedsSyncByProductTx(ctx, tx, "p1", ts)
	if err != nil || n != 1 {
		t.Fatalf("flag by product: n=%d err=%v", n, err)
	}
	if err := r.UpdatePlanTx(ctx, tx, synced, synced.Version); !errors.Is(err, repo.ErrVersionConflict) {
		t.Fatalf("write based on a read before the flag should conflict, got %v", err)
	}
	n, err = r.MarkNeedsSyncByEntitlementTx(ctx, tx, "e1", ts)
	if err != nil || n != 0 {
		t.Fatalf("already flagged plan should be left alone: n=%d err=%v", n, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	stored, err := r.GetPlan(ctx, plan.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.NeedsSync || stored.Version != synced.Version+1 {
		t.Fatalf("unexpected stored plan: %+v", stored)
	}
	if err := r.MarkNeedsSync(ctx, plan.ID, ts); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if again, _ := r.GetPlan(ctx, plan.ID); again.Version != stored.Version+1 {
		t.Fatalf("mark should bump version, got %d", again.Version)
	}
	if err := r.MarkNeedsSync(ctx, "missing", ts); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdatePlanVersionConflict(t *testing.T) {
	r, ctx := newRepo(t)
	plan := seedPlan(t, r, ctx)

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	plan.TotalWeight = 50
	if err := r.UpdatePlanTx(ctx, tx, plan, plan.Version); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if err := r.UpdatePlanTx(ctx, tx, plan, plan.Version); !errors.Is(err, repo.ErrVersionConflict) {
		t.Fatalf("stale version should conflict, got %v", err)
	}
	plan.ID = "missing"
	if err := r.UpdatePlanTx(ctx, tx, plan, 0); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("missing plan should be not found, got %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	stored, err := r.GetPlan(ctx, "plan-1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Version != 1 || stored.TotalWeight != 50 {
		t.Fatalf("unexpected stored plan: %+v", stored)
	}
}

func TestListPlansFilters(t *testing.T) {
	r, ctx := newRepo(t)
	seedPlan(t, r, ctx)
	needs := true
	plans, err := r.ListPlans(ctx, repo.PlanFilters{NeedsSync: &needs, CustomerID: "c1"})
	if err != nil || len(plans) != 1 {
		t.Fatalf("expected one plan needing sync: %v %+v", err, plans)
	}
	needs = false
	plans, err = r.ListPlans(ctx, repo.PlanFilters{NeedsSync: &needs})
	if err != nil || len(plans) != 0 {
		t.Fatalf("expected no synced plans: %v %+v", err, plans)
	}
	plans, err = r.ListPlans(ctx, repo.PlanFilters{CursorCreatedAt: ts, CursorID: "plan-1"})
	if err != nil || len(plans) != 0 {
		t.Fatalf("cursor should skip past the only plan: %v %+v", err, plans)
	}
}

func TestInstancesAttributesAndTelemetry(t *testing.T) {
	r, ctx := newRepo(t)
	plan := seedPlan(t, r, ctx)

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	inst := domain.TaskInstance{
		ID: "i1", PlanID: plan.ID, TemplateID: "t1", Name: "Task", Weight: 25,
		LicenseTier: domain.TierEssential, OutcomeIDs: domain.All(), ReleaseIDs: domain.Of("r1"),
		Status: domain.StatusNotStarted, StatusUpdatedAt: ts, StatusUpdateSource: domain.SourceSync,
		CreatedAt: ts, UpdatedAt: ts,
	}
	if err := r.InsertInstanceTx(ctx, tx, inst); err != nil {
		t.Fatal(err)
	}
	attr := domain.CustomerTelemetryAttribute{
		ID: "a1", TaskInstanceID: "i1", DefinitionID: "d1", Name: "logins", DataType: criteria.TypeNumber,
		Required: true, Criterion: criteria.Spec{Criterion: criteria.Threshold{Operator: criteria.GreaterThan, Threshold: 3}},
		Active: true, Order: 1, CreatedAt: ts, UpdatedAt: ts,
	}
	if err := r.InsertAttributeTx(ctx, tx, attr); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	got, err := r.GetInstance(ctx, "i1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Attributes) != 1 || got.Retired() || !got.ReleaseIDs.Equal(domain.Of("r1")) {
		t.Fatalf("unexpected instance: %+v", got)
	}
	th, ok := got.Attributes[0].Criterion.Criterion.(criteria.Threshold)
	if !ok || th.Threshold != 3 || th.Operator != criteria.GreaterThan {
		t.Fatalf("criterion not preserved: %#v", got.Attributes[0].Criterion)
	}

	for i, v := range []string{"1", "5"} {
		err := r.InsertTelemetryValue(ctx, domain.TelemetryValue{
			ID: []string{"v1", "v2"}[i], AttributeID: "a1", Value: json.RawMessage(v), CreatedAt: ts,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	history, err := r.ListTelemetryValues(ctx, "a1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[0].ID != "v2" {
		t.Fatalf("history should be newest first: %+v", history)
	}

	tx, err = r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	latest, err := r.LatestTelemetryValueTx(ctx, tx, "a1")
	if err != nil || string(latest.Value) != "5" {
		t.Fatalf("latest value: %v %+v", err, latest)
	}
	if _, err := r.LatestTelemetryValueTx(ctx, tx, "a-none"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
