package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"

	"adoptline/internal/catalog"
	"adoptline/internal/config"
	"adoptline/internal/db"
	"adoptline/internal/domain"
	"adoptline/internal/engine"
	"adoptline/internal/migrate"
	"adoptline/internal/progress"
)

const seed = `
products:
  - id: secure-access
    name: Secure Access
    templates:
      - id: tpl-mfa
        name: Enable MFA
        weight: 40
        license_tier: Essential
        sequence_number: 1
      - id: tpl-sso
        name: Configure SSO
        weight: 60
        license_tier: Advantage
        sequence_number: 2
        attributes:
          - id: def-sso-apps
            name: sso_apps
            data_type: number
            required: true
            success_criteria: {type: threshold, operator: greaterThanOrEqual, threshold: 5}
entitlements:
  - id: ent-acme
    customer_id: acme
    product_id: secure-access
    license_tier: Signature
  - id: ent-globex
    customer_id: globex
    product_id: secure-access
    license_tier: Essential
`

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	ctx := context.Background()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	f, err := catalog.Parse([]byte(seed))
	if err != nil {
		t.Fatalf("parse seed: %v", err)
	}
	if _, err := catalog.Apply(ctx, e.Repo, f, domain.FormatTime(e.Now())); err != nil {
		t.Fatalf("apply seed: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v1"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func planFor(t *testing.T, srv *testServer, customerID string) domain.AdoptionPlan {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/plans?customer_id="+customerID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list plans: %d %s", res.StatusCode, string(data))
	}
	var page paginatedPlans
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal plans: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected one plan for %s, got %d", customerID, len(page.Items))
	}
	return page.Items[0]
}

func TestHealth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestSyncEvaluateAndProgress(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	plan := planFor(t, srv, "acme")
	if !plan.NeedsSync {
		t.Fatalf("new plan should be flagged for sync: %+v", plan)
	}

	syncRes, syncBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/plans/"+plan.ID+"/sync", nil, nil)
	if syncRes.StatusCode != http.StatusOK {
		t.Fatalf("sync status %d: %s", syncRes.StatusCode, string(syncBody))
	}
	var report engine.SyncReport
	if err := json.Unmarshal(syncBody, &report); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if len(report.Created) != 2 {
		t.Fatalf("expected two created tasks, got %+v", report.Created)
	}

	tasksRes, tasksBody := doJSON(t, client, http.MethodGet, srv.URL+"/v1/plans/"+plan.ID+"/tasks", nil, nil)
	if tasksRes.StatusCode != http.StatusOK {
		t.Fatalf("list tasks status %d: %s", tasksRes.StatusCode, string(tasksBody))
	}
	var tasks taskList
	if err := json.Unmarshal(tasksBody, &tasks); err != nil {
		t.Fatalf("unmarshal tasks: %v", err)
	}
	var sso domain.TaskInstance
	for _, task := range tasks.Items {
		if task.TemplateID == "tpl-sso" {
			sso = task
		}
	}
	if sso.ID == "" || len(sso.Attributes) != 1 {
		t.Fatalf("sso task missing from %s", string(tasksBody))
	}

	attrID := sso.Attributes[0].ID
	recRes, recBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/attributes/"+attrID+"/values", map[string]any{
		"value": 7,
		"notes": "from connector",
	}, nil)
	if recRes.StatusCode != http.StatusCreated {
		t.Fatalf("record status %d: %s", recRes.StatusCode, string(recBody))
	}

	evalRes, evalBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+sso.ID+"/evaluate", nil, nil)
	if evalRes.StatusCode != http.StatusOK {
		t.Fatalf("evaluate status %d: %s", evalRes.StatusCode, string(evalBody))
	}
	var result engine.EvaluationResult
	if err := json.Unmarshal(evalBody, &result); err != nil {
		t.Fatalf("unmarshal evaluation: %v", err)
	}
	if result.Status != domain.StatusCompleted || !result.StatusChanged {
		t.Fatalf("expected automatic completion, got %+v", result)
	}

	progRes, progBody := doJSON(t, client, http.MethodGet, srv.URL+"/v1/plans/"+plan.ID+"/progress", nil, nil)
	if progRes.StatusCode != http.StatusOK {
		t.Fatalf("progress status %d: %s", progRes.StatusCode, string(progBody))
	}
	var summary progress.Summary
	if err := json.Unmarshal(progBody, &summary); err != nil {
		t.Fatalf("unmarshal progress: %v", err)
	}
	if summary.ProgressPercentage != 60 {
		t.Fatalf("expected 60%%, got %+v", summary)
	}

	histRes, histBody := doJSON(t, client, http.MethodGet, srv.URL+"/v1/attributes/"+attrID+"/values", nil, nil)
	if histRes.StatusCode != http.StatusOK {
		t.Fatalf("history status %d: %s", histRes.StatusCode, string(histBody))
	}
	var history telemetryValueList
	if err := json.Unmarshal(histBody, &history); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(history.Items) != 1 || string(history.Items[0].Value) != "7" {
		t.Fatalf("unexpected history: %s", string(histBody))
	}
}

func TestManualStatusUpdate(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	plan := planFor(t, srv, "globex")
	if res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v1/plans/"+plan.ID+"/sync", nil, nil); res.StatusCode != http.StatusOK {
		t.Fatalf("sync status %d: %s", res.StatusCode, string(body))
	}
	_, tasksBody := doJSON(t, client, http.MethodGet, srv.URL+"/v1/plans/"+plan.ID+"/tasks", nil, nil)
	var tasks taskList
	_ = json.Unmarshal(tasksBody, &tasks)
	if len(tasks.Items) != 1 {
		t.Fatalf("expected one task for the essential tier, got %s", string(tasksBody))
	}
	taskID := tasks.Items[0].ID

	res, body := doJSON(t, client, http.MethodPatch, srv.URL+"/v1/tasks/"+taskID+"/status", map[string]any{
		"status": "NOT_APPLICABLE",
		"notes":  "customer uses hardware tokens",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status %d: %s", res.StatusCode, string(body))
	}
	var updated domain.TaskInstance
	if err := json.Unmarshal(body, &updated); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if updated.Status != domain.StatusNotApplicable || updated.StatusUpdateSource != domain.SourceManual {
		t.Fatalf("unexpected task after update: %+v", updated)
	}

	bad, badBody := doJSON(t, client, http.MethodPatch, srv.URL+"/v1/tasks/"+taskID+"/status", map[string]any{
		"status": "RETIRED",
	}, nil)
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for RETIRED, got %d %s", bad.StatusCode, string(badBody))
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/tasks/missing", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "not_found" || envelope.Error.Details["resource"] != "task" {
		t.Fatalf("unexpected envelope: %s", string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/attributes/missing/values", map[string]any{"value": true}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown attribute, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/plans?cursor=broken", nil, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cursor, got %d %s", res.StatusCode, string(data))
	}
}

func TestListPlansPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/plans?limit=1", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list plans: %d %s", res.StatusCode, string(data))
	}
	var first paginatedPlans
	_ = json.Unmarshal(data, &first)
	if len(first.Items) != 1 || first.NextCursor == "" {
		t.Fatalf("expected a first page with cursor, got %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/plans?limit=1&cursor="+first.NextCursor, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list plans page 2: %d %s", res.StatusCode, string(data))
	}
	var second paginatedPlans
	_ = json.Unmarshal(data, &second)
	if len(second.Items) != 1 || second.NextCursor != "" || second.Items[0].ID == first.Items[0].ID {
		t.Fatalf("unexpected second page: %s", string(data))
	}
}

func TestBatchSyncNeedsSyncOnly(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	acme := planFor(t, srv, "acme")
	if res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v1/plans/"+acme.ID+"/sync", nil, nil); res.StatusCode != http.StatusOK {
		t.Fatalf("sync status %d: %s", res.StatusCode, string(body))
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/plans/sync", map[string]any{"needs_sync_only": true}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("batch sync status %d: %s", res.StatusCode, string(data))
	}
	var report engine.BatchReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("unmarshal batch report: %v", err)
	}
	if report.Synced != 1 || report.Failed != 0 || len(report.Results) != 1 || report.Results[0].PlanID == acme.ID {
		t.Fatalf("expected only the flagged plan to sync, got %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/plans?needs_sync=true", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list flagged plans: %d %s", res.StatusCode, string(data))
	}
	var page paginatedPlans
	_ = json.Unmarshal(data, &page)
	if len(page.Items) != 0 {
		t.Fatalf("no plan should still need sync: %s", string(data))
	}
}

func TestOpenAPIDocument(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal openapi: %v", err)
	}
	paths, _ := doc["paths"].(map[string]any)
	if _, ok := paths["/v1/plans/{plan_id}/sync"]; !ok {
		t.Fatalf("sync route missing from openapi paths")
	}
}

func TestOpenAPIDocumentConcurrentFirstFetch(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	const n = 8
	var wg sync.WaitGroup
	bodies := make([][]byte, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := srv.Client().Get(srv.URL + "/v1/openapi.json")
			if err != nil {
				errs[i] = err
				return
			}
			defer res.Body.Close()
			bodies[i], errs[i] = io.ReadAll(res.Body)
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("fetch %d: %v", i, errs[i])
		}
		if len(bodies[i]) == 0 || !bytes.Equal(bodies[i], bodies[0]) {
			t.Fatalf("fetch %d returned a different document", i)
		}
	}
}
