package adoptlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal adoptline HTTP API client.
type Client struct {
	BaseURL    string
	BasePath   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// Plan represents an adoption plan.
type Plan struct {
	ID                 string  `json:"id"`
	EntitlementID      string  `json:"entitlement_id"`
	CustomerID         string  `json:"customer_id"`
	ProductID          string  `json:"product_id"`
	NeedsSync          bool    `json:"needs_sync"`
	LastSyncedAt       string  `json:"last_synced_at,omitempty"`
	TotalWeight        float64 `json:"total_weight"`
	CompletedWeight    float64 `json:"completed_weight"`
	ProgressPercentage float64 `json:"progress_percentage"`
	Version            int64   `json:"version"`
}

// Attribute is a customer telemetry attribute (partial).
type Attribute struct {
	ID           string `json:"id"`
	DefinitionID string `json:"definition_id"`
	Name         string `json:"name"`
	DataType     string `json:"data_type"`
	Required     bool   `json:"required"`
	Active       bool   `json:"active"`
}

// Task represents a task instance (partial).
type Task struct {
	ID                 string      `json:"id"`
	PlanID             string      `json:"plan_id"`
	TemplateID         string      `json:"template_id"`
	Name               string      `json:"name"`
	Weight             float64     `json:"weight"`
	Status             string      `json:"status"`
	StatusUpdateSource string      `json:"status_update_source"`
	StatusNotes        string      `json:"status_notes,omitempty"`
	RetiredAt          string      `json:"retired_at,omitempty"`
	Attributes         []Attribute `json:"attributes"`
}

// Change is one task touched by a sync.
type Change struct {
	InstanceID string   `json:"instance_id"`
	TemplateID string   `json:"template_id"`
	Name       string   `json:"name"`
	Fields     []string `json:"fields,omitempty"`
}

// Progress is a plan's weighted rollup.
type Progress struct {
	TotalWeight        float64        `json:"total_weight"`
	CompletedWeight    float64        `json:"completed_weight"`
	ProgressPercentage float64        `json:"progress_percentage"`
	TaskCount          int            `json:"task_count"`
	CompletedCount     int            `json:"completed_count"`
	RetiredCount       int            `json:"retired_count"`
	StatusBreakdown    map[string]int `json:"status_breakdown"`
}

// SyncReport lists what a plan sync changed.
type SyncReport struct {
	PlanID   string   `json:"plan_id"`
	Created  []Change `json:"created"`
	Retired  []Change `json:"retired"`
	Updated  []Change `json:"updated"`
	Progress Progress `json:"progress"`
	SyncedAt string   `json:"synced_at"`
}

// BatchReport is the outcome of a multi-plan sync.
type BatchReport struct {
	Results []struct {
		PlanID string      `json:"plan_id"`
		Report *SyncReport `json:"report,omitempty"`
		Error  string      `json:"error,omitempty"`
	} `json:"results"`
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

// Evaluation is the result of evaluating one task's telemetry.
type Evaluation struct {
	TaskInstanceID string `json:"task_instance_id"`
	PlanID         string `json:"plan_id"`
	PreviousStatus string `json:"previous_status"`
	Status         string `json:"status"`
	StatusChanged  bool   `json:"status_changed"`
	Telemetry      struct {
		TotalAttributes       int     `json:"total_attributes"`
		RequiredAttributes    int     `json:"required_attributes"`
		MetAttributes         int     `json:"met_attributes"`
		MetRequiredAttributes int     `json:"met_required_attributes"`
		CompletionPercentage  float64 `json:"completion_percentage"`
		AllRequiredMet        bool    `json:"all_required_met"`
	} `json:"telemetry"`
	Warnings    []string `json:"warnings"`
	EvaluatedAt string   `json:"evaluated_at"`
}

// TelemetryValue is one recorded attribute value.
type TelemetryValue struct {
	ID          string          `json:"id"`
	AttributeID string          `json:"attribute_id"`
	Value       json.RawMessage `json:"value"`
	Notes       string          `json:"notes,omitempty"`
	CreatedAt   string          `json:"created_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedPlans wraps list responses with cursors.
type PaginatedPlans struct {
	Items      []Plan `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// PlanQuery filters ListPlans. NeedsSync is ignored when nil.
type PlanQuery struct {
	CustomerID string
	ProductID  string
	NeedsSync  *bool
	Limit      int
	Cursor     string
}

// ListPlans returns one page of plans.
func (c *Client) ListPlans(ctx context.Context, q PlanQuery) (PaginatedPlans, error) {
	params := url.Values{}
	if q.CustomerID != "" {
		params.Set("customer_id", q.CustomerID)
	}
	if q.ProductID != "" {
		params.Set("product_id", q.ProductID)
	}
	if q.NeedsSync != nil {
		params.Set("needs_sync", fmt.Sprint(*q.NeedsSync))
	}
	if q.Limit > 0 {
		params.Set("limit", fmt.Sprint(q.Limit))
	}
	if q.Cursor != "" {
		params.Set("cursor", q.Cursor)
	}
	endpoint := "plans"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp PaginatedPlans
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) GetPlan(ctx context.Context, planID string) (Plan, error) {
	var resp Plan
	err := c.do(ctx, http.MethodGet, "plans/"+url.PathEscape(planID), nil, &resp)
	return resp, err
}

// ListTasks returns a plan's tasks; retired ones only when includeRetired.
func (c *Client) ListTasks(ctx context.Context, planID string, includeRetired bool) ([]Task, error) {
	var resp struct {
		Items []Task `json:"items"`
	}
	endpoint := fmt.Sprintf("plans/%s/tasks", url.PathEscape(planID))
	if includeRetired {
		endpoint += "?include_retired=true"
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) SyncPlan(ctx context.Context, planID string) (SyncReport, error) {
	var resp SyncReport
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("plans/%s/sync", url.PathEscape(planID)), nil, &resp)
	return resp, err
}

// SyncPlans synchronizes the given plans, or every plan (optionally only the
// flagged ones) when planIDs is empty.
func (c *Client) SyncPlans(ctx context.Context, planIDs []string, needsSyncOnly bool) (BatchReport, error) {
	body := map[string]any{
		"needs_sync_only": needsSyncOnly,
	}
	if len(planIDs) > 0 {
		body["plan_ids"] = planIDs
	}
	var resp BatchReport
	err := c.do(ctx, http.MethodPost, "plans/sync", body, &resp)
	return resp, err
}

func (c *Client) Progress(ctx context.Context, planID string) (Progress, error) {
	var resp Progress
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("plans/%s/progress", url.PathEscape(planID)), nil, &resp)
	return resp, err
}

func (c *Client) EvaluatePlan(ctx context.Context, planID string) ([]Evaluation, error) {
	var resp struct {
		Items []Evaluation `json:"items"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("plans/%s/evaluate", url.PathEscape(planID)), nil, &resp)
	return resp.Items, err
}

func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(taskID), nil, &resp)
	return resp, err
}

func (c *Client) EvaluateTask(ctx context.Context, taskID string) (Evaluation, error) {
	var resp Evaluation
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/evaluate", url.PathEscape(taskID)), nil, &resp)
	return resp, err
}

// SetTaskStatus applies a manual status change.
func (c *Client) SetTaskStatus(ctx context.Context, taskID, status, notes string) (Task, error) {
	body := map[string]any{"status": status}
	if notes != "" {
		body["notes"] = notes
	}
	var resp Task
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("tasks/%s/status", url.PathEscape(taskID)), body, &resp)
	return resp, err
}

// RecordTelemetry appends a value to an attribute's history. value is
// encoded as JSON.
func (c *Client) RecordTelemetry(ctx context.Context, attributeID string, value any, notes string) (TelemetryValue, error) {
	body := map[string]any{"value": value}
	if notes != "" {
		body["notes"] = notes
	}
	var resp TelemetryValue
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("attributes/%s/values", url.PathEscape(attributeID)), body, &resp)
	return resp, err
}

func (c *Client) TelemetryHistory(ctx context.Context, attributeID string, limit int) ([]TelemetryValue, error) {
	var resp struct {
		Items []TelemetryValue `json:"items"`
	}
	endpoint := fmt.Sprintf("attributes/%s/values", url.PathEscape(attributeID))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
