package app

import (
	"context"
	"testing"

	"adoptline/internal/config"
	"adoptline/internal/repo"
)

func TestOpenMigratesAndBuildsEngine(t *testing.T) {
	ctx := context.Background()
	rt, err := Open(ctx, t.TempDir(), config.Default(), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	plans, err := rt.Engine.ListPlans(ctx, repo.PlanFilters{})
	if err != nil || len(plans) != 0 {
		t.Fatalf("expected empty store, got %v %v", plans, err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = "oracle"
	if _, err := Open(context.Background(), t.TempDir(), cfg, nil); err == nil {
		t.Fatalf("expected driver error")
	}
}
