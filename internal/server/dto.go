package server

import (
	"adoptline/internal/domain"
	"adoptline/internal/engine"
)

// Request payloads

type BatchSyncRequest struct {
	PlanIDs       []string `json:"plan_ids,omitempty"`
	NeedsSyncOnly bool     `json:"needs_sync_only,omitempty"`
	Concurrency   int      `json:"concurrency,omitempty" minimum:"0"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" enum:"NOT_STARTED,IN_PROGRESS,COMPLETED,DONE,NOT_APPLICABLE,NO_LONGER_USING"`
	Notes  string `json:"notes,omitempty"`
}

type RecordTelemetryRequest struct {
	// Value is any JSON document; it is stored compacted.
	Value any    `json:"value"`
	Notes string `json:"notes,omitempty"`
}

// Response payloads

type paginatedPlans struct {
	Items      []domain.AdoptionPlan `json:"items"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

type taskList struct {
	Items []domain.TaskInstance `json:"items"`
}

type evaluationList struct {
	PlanID string                    `json:"plan_id"`
	Items  []engine.EvaluationResult `json:"items"`
}

type telemetryValueList struct {
	AttributeID string                  `json:"attribute_id"`
	Items       []domain.TelemetryValue `json:"items"`
}

func nonNilTasks(items []domain.TaskInstance) []domain.TaskInstance {
	if items == nil {
		return []domain.TaskInstance{}
	}
	return items
}
