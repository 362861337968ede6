package adoptlinesdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestListPlansEncodesQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/plans" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("needs_sync") != "true" || q.Get("customer_id") != "acme" || q.Get("limit") != "10" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"items":       []map[string]any{{"id": "p1", "customer_id": "acme", "needs_sync": true}},
			"next_cursor": "ts|p1",
		})
	}))
	defer srv.Close()

	needs := true
	page, err := New(srv.URL).ListPlans(context.Background(), PlanQuery{CustomerID: "acme", NeedsSync: &needs, Limit: 10})
	if err != nil {
		t.Fatalf("list plans: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "p1" || page.NextCursor != "ts|p1" {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestRecordTelemetrySendsJSONValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/attributes/a1/values" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if string(body["value"]) != `{"enabled":true}` {
			t.Errorf("unexpected value %s", string(body["value"]))
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"id": "v1", "attribute_id": "a1", "value": json.RawMessage(body["value"])})
	}))
	defer srv.Close()

	v, err := New(srv.URL).RecordTelemetry(context.Background(), "a1", map[string]any{"enabled": true}, "")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if v.ID != "v1" || string(v.Value) != `{"enabled":true}` {
		t.Fatalf("unexpected value: %+v", v)
	}
}

func TestAPIErrorParsesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"code":"conflict","message":"plan p1 was modified concurrently"}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).SyncPlan(context.Background(), "p1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != "conflict" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}
