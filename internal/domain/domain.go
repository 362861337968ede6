package domain

import (
	"encoding/json"
	"time"

	"adoptline/internal/criteria"
)

// TimestampLayout is the fixed-width UTC layout used for every stored
// timestamp so that lexical order matches chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// FormatTime renders t in TimestampLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

type Product struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type TaskTemplate struct {
	ID             string                         `json:"id"`
	ProductID      string                         `json:"product_id"`
	Name           string                         `json:"name"`
	Description    string                         `json:"description,omitempty"`
	Weight         float64                        `json:"weight" minimum:"0" maximum:"100"`
	LicenseTier    LicenseTier                    `json:"license_tier"`
	OutcomeIDs     Selection                      `json:"outcome_ids"`
	ReleaseIDs     Selection                      `json:"release_ids"`
	SequenceNumber int                            `json:"sequence_number"`
	Active         bool                           `json:"active"`
	Attributes     []TelemetryAttributeDefinition `json:"attributes"`
	UpdatedAt      string                         `json:"updated_at" format:"date-time"`
}

type TelemetryAttributeDefinition struct {
	ID          string            `json:"id"`
	TemplateID  string            `json:"template_id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	DataType    criteria.DataType `json:"data_type" enum:"boolean,number,string,json"`
	Required    bool              `json:"required"`
	Criterion   criteria.Spec     `json:"success_criteria"`
	Order       int               `json:"order"`
}

type Entitlement struct {
	ID          string      `json:"id"`
	CustomerID  string      `json:"customer_id"`
	ProductID   string      `json:"product_id"`
	LicenseTier LicenseTier `json:"license_tier"`
	OutcomeIDs  Selection   `json:"outcome_ids"`
	ReleaseIDs  Selection   `json:"release_ids"`
	UpdatedAt   string      `json:"updated_at" format:"date-time"`
}

type AdoptionPlan struct {
	ID                 string  `json:"id"`
	EntitlementID      string  `json:"entitlement_id"`
	CustomerID         string  `json:"customer_id"`
	ProductID          string  `json:"product_id"`
	NeedsSync          bool    `json:"needs_sync"`
	LastSyncedAt       *string `json:"last_synced_at,omitempty" format:"date-time"`
	TotalWeight        float64 `json:"total_weight"`
	CompletedWeight    float64 `json:"completed_weight"`
	ProgressPercentage float64 `json:"progress_percentage"`
	Version            int64   `json:"version"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
	UpdatedAt          string  `json:"updated_at" format:"date-time"`
}

type TaskInstance struct {
	ID                 string                       `json:"id"`
	PlanID             string                       `json:"plan_id"`
	TemplateID         string                       `json:"template_id"`
	Name               string                       `json:"name"`
	Description        string                       `json:"description,omitempty"`
	Weight             float64                      `json:"weight"`
	LicenseTier        LicenseTier                  `json:"license_tier"`
	OutcomeIDs         Selection                    `json:"outcome_ids"`
	ReleaseIDs         Selection                    `json:"release_ids"`
	SequenceNumber     int                          `json:"sequence_number"`
	Status             Status                       `json:"status"`
	StatusUpdatedAt    string                       `json:"status_updated_at" format:"date-time"`
	StatusUpdateSource UpdateSource                 `json:"status_update_source"`
	StatusNotes        string                       `json:"status_notes,omitempty"`
	Notes              string                       `json:"notes,omitempty"`
	RetiredAt          *string                      `json:"retired_at,omitempty" format:"date-time"`
	CreatedAt          string                       `json:"created_at" format:"date-time"`
	UpdatedAt          string                       `json:"updated_at" format:"date-time"`
	Attributes         []CustomerTelemetryAttribute `json:"attributes"`
}

// Retired reports whether sync has removed the instance from its plan.
func (t TaskInstance) Retired() bool {
	return t.RetiredAt != nil
}

type CustomerTelemetryAttribute struct {
	ID             string            `json:"id"`
	TaskInstanceID string            `json:"task_instance_id"`
	DefinitionID   string            `json:"definition_id"`
	Name           string            `json:"name"`
	Description    string            `json:"description,omitempty"`
	DataType       criteria.DataType `json:"data_type" enum:"boolean,number,string,json"`
	Required       bool              `json:"required"`
	Criterion      criteria.Spec     `json:"success_criteria"`
	Active         bool              `json:"active"`
	Order          int               `json:"order"`
	CreatedAt      string            `json:"created_at" format:"date-time"`
	UpdatedAt      string            `json:"updated_at" format:"date-time"`
}

type TelemetryValue struct {
	ID          string          `json:"id"`
	AttributeID string          `json:"attribute_id"`
	Value       json.RawMessage `json:"value"`
	Notes       string          `json:"notes,omitempty"`
	CreatedAt   string          `json:"created_at" format:"date-time"`
}
