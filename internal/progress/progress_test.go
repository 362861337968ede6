package progress

import (
	"testing"

	"adoptline/internal/domain"
)

func inst(weight float64, status domain.Status) domain.TaskInstance {
	return domain.TaskInstance{Weight: weight, Status: status}
}

func TestAggregateWeightedPercentage(t *testing.T) {
	got := Aggregate([]domain.TaskInstance{
		inst(30, domain.StatusCompleted),
		inst(30, domain.StatusDone),
		inst(40, domain.StatusInProgress),
	})
	if got.TotalWeight != 100 || got.CompletedWeight != 60 {
		t.Fatalf("unexpected weights: %+v", got)
	}
	if got.ProgressPercentage != 60 {
		t.Fatalf("expected 60%%, got %v", got.ProgressPercentage)
	}
	if got.CompletedCount != 2 || got.TaskCount != 3 {
		t.Fatalf("unexpected counts: %+v", got)
	}
	if got.StatusBreakdown[domain.StatusInProgress] != 1 {
		t.Fatalf("unexpected breakdown: %+v", got.StatusBreakdown)
	}
}

func TestAggregateEmptyPlan(t *testing.T) {
	got := Aggregate(nil)
	if got.TotalWeight != 0 || got.ProgressPercentage != 0 {
		t.Fatalf("expected zero summary, got %+v", got)
	}
}

func TestAggregateSkipsRetired(t *testing.T) {
	retiredAt := "2025-01-01T00:00:00.000000Z"
	retired := inst(50, domain.StatusRetired)
	retired.RetiredAt = &retiredAt
	got := Aggregate([]domain.TaskInstance{
		inst(50, domain.StatusNotApplicable),
		retired,
	})
	if got.TotalWeight != 50 || got.ProgressPercentage != 100 {
		t.Fatalf("retired instance leaked into rollup: %+v", got)
	}
	if got.RetiredCount != 1 {
		t.Fatalf("expected one retired instance, got %d", got.RetiredCount)
	}
}

func TestPercentageRounding(t *testing.T) {
	if got := Percentage(1, 3); got != 33.33 {
		t.Fatalf("got %v", got)
	}
	if got := Percentage(2, 3); got != 66.67 {
		t.Fatalf("got %v", got)
	}
	if got := Percentage(5, 0); got != 0 {
		t.Fatalf("got %v", got)
	}
}
