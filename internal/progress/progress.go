// Package progress rolls task instance weights up into plan progress.
package progress

import (
	"math"

	"adoptline/internal/domain"
)

// Summary is the weighted rollup of a plan's live instances.
type Summary struct {
	TotalWeight        float64               `json:"total_weight"`
	CompletedWeight    float64               `json:"completed_weight"`
	ProgressPercentage float64               `json:"progress_percentage"`
	TaskCount          int                   `json:"task_count"`
	CompletedCount     int                   `json:"completed_count"`
	RetiredCount       int                   `json:"retired_count"`
	StatusBreakdown    map[domain.Status]int `json:"status_breakdown"`
}

// Aggregate sums weights across instances. Retired instances are counted in
// RetiredCount but contribute nothing to the weights.
func Aggregate(instances []domain.TaskInstance) Summary {
	out := Summary{StatusBreakdown: map[domain.Status]int{}}
	for _, inst := range instances {
		if inst.Retired() || inst.Status == domain.StatusRetired {
			out.RetiredCount++
			continue
		}
		out.TaskCount++
		out.StatusBreakdown[inst.Status]++
		out.TotalWeight += inst.Weight
		if inst.Status.CountsAsDone() {
			out.CompletedCount++
			out.CompletedWeight += inst.Weight
		}
	}
	out.TotalWeight = Round(out.TotalWeight)
	out.CompletedWeight = Round(out.CompletedWeight)
	out.ProgressPercentage = Percentage(out.CompletedWeight, out.TotalWeight)
	return out
}

// Percentage returns part/total as a percentage rounded to two decimals, or 0
// when total is not positive.
func Percentage(part, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return Round(part * 100 / total)
}

// Round rounds to two decimal places.
func Round(v float64) float64 {
	return math.Round(v*100) / 100
}
