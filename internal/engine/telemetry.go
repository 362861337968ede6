package engine

import (
	"bytes"
	"context"
	"encoding/json"

	"adoptline/internal/domain"
)

// TelemetryInput is a value to append to an attribute's history.
type TelemetryInput struct {
	AttributeID string
	Value       json.RawMessage
	Notes       string
}

// RecordTelemetryValue appends a value to an attribute's history. It does not
// evaluate the task; callers run EvaluateTask when they want status updates.
func (e Engine) RecordTelemetryValue(ctx context.Context, in TelemetryInput) (domain.TelemetryValue, error) {
	raw := bytes.TrimSpace(in.Value)
	if len(raw) == 0 {
		return domain.TelemetryValue{}, NewValidationError("value is required").WithField("value")
	}
	if !json.Valid(raw) {
		return domain.TelemetryValue{}, NewValidationError("value must be valid JSON").WithField("value").WithValue(string(raw))
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return domain.TelemetryValue{}, NewValidationError(err.Error()).WithField("value")
	}
	attr, err := e.Repo.GetAttribute(ctx, in.AttributeID)
	if err != nil {
		return domain.TelemetryValue{}, notFound(err, "attribute", in.AttributeID)
	}
	if !attr.Active {
		return domain.TelemetryValue{}, NewValidationError("attribute is no longer active on its task").
			WithField("attribute_id").WithValue(attr.ID)
	}
	inst, err := e.Repo.GetInstance(ctx, attr.TaskInstanceID)
	if err != nil {
		return domain.TelemetryValue{}, notFound(err, "task", attr.TaskInstanceID)
	}
	if inst.Retired() {
		return domain.TelemetryValue{}, NewValidationError("task has been retired from its plan").
			WithField("attribute_id").WithValue(attr.ID)
	}
	v := domain.TelemetryValue{
		ID:          newID(),
		AttributeID: attr.ID,
		Value:       compact.Bytes(),
		Notes:       in.Notes,
		CreatedAt:   e.stamp(),
	}
	if err := e.Repo.InsertTelemetryValue(ctx, v); err != nil {
		return domain.TelemetryValue{}, err
	}
	e.log().Debug("telemetry value recorded", "attribute_id", attr.ID, "task_id", inst.ID)
	return v, nil
}

// ListTelemetryValues returns an attribute's history, newest first.
func (e Engine) ListTelemetryValues(ctx context.Context, attributeID string, limit int) ([]domain.TelemetryValue, error) {
	if _, err := e.Repo.GetAttribute(ctx, attributeID); err != nil {
		return nil, notFound(err, "attribute", attributeID)
	}
	return e.Repo.ListTelemetryValues(ctx, attributeID, limit)
}
