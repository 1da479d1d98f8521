package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"auditflow/internal/agent"
	"auditflow/internal/db"
	"auditflow/internal/domain"
	"auditflow/internal/events"
	"auditflow/internal/migrate"
	"auditflow/internal/orchestrator"
	"auditflow/internal/repo"
	"auditflow/internal/signature"
	"auditflow/internal/webhook"
)

const testWebhookSecret = "test-webhook-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
	repo   repo.Repo
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

type testGen struct{ fail bool }

func (g testGen) GenerateReport(ctx context.Context, kind, clientName, projectName, description string) (string, error) {
	if g.fail {
		return "", io.ErrUnexpectedEOF
	}
	return "# " + kind + " report for " + clientName, nil
}

func (testGen) ContentModel() string { return "gemini-2.5-flash" }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	codec := signature.New(testWebhookSecret)
	hooks := webhook.New(nil, codec, "auditflow-test")
	orch := orchestrator.New(nil, hooks)
	gen := testGen{}
	exec := &agent.Executor{Hooks: hooks, Gen: gen, Orch: orch, Reports: r}
	a := agent.New(nil, exec, "autonomous", 0.75)
	handler, err := New(Config{
		Agent:  a,
		Orch:   orch,
		Gen:    gen,
		Repo:   r,
		Events: events.Writer{DB: conn},
		Hooks:  hooks,
		Codec:  codec,
		Auth:   AuthConfig{AllowActorHeader: true},
	})
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
		repo:   r,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

var actorHeaders = map[string]string{"X-Actor-Id": "tester"}

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

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/status", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("unexpected error code %q", envelope.Error.Code)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	key := domain.APIKey{ID: "key-1", ActorID: "ops", KeyHash: repo.HashAPIKey("s3cret")}
	if err := srv.repo.InsertAPIKey(context.Background(), nil, key); err != nil {
		t.Fatalf("insert api key: %v", err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/status", nil, map[string]string{"X-Api-Key": "s3cret"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/status", nil, map[string]string{"X-Api-Key": "wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad key, got %d", res.StatusCode)
	}
}

func TestStatusReportsAIConfigured(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/status", nil, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	configured, ok := body["ai_configured"].(bool)
	if !ok || !configured {
		t.Fatalf("expected ai_configured true, got %v", body["ai_configured"])
	}
	if body["service"] != "auditflow" {
		t.Fatalf("unexpected service name: %v", body["service"])
	}
}

func TestAgentProcessFallback(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/agent/process", map[string]any{
		"request": "urgent forensic audit of subsidiary accounts",
	}, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("process status %d: %s", res.StatusCode, string(data))
	}
	var result agent.ProcessResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.Analysis.Source != domain.SourceFallback {
		t.Fatalf("expected fallback analysis without model, got %s", result.Analysis.Source)
	}
	for _, r := range result.Results {
		if r.Status != domain.ResultSkipped {
			t.Fatalf("low-confidence fallback should skip actions, got %+v", r)
		}
	}

	// The processed request lands in the event log.
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/events?type=request.processed", nil, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var evts EventListResponse
	if err := json.Unmarshal(data, &evts); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(evts.Events) != 1 || evts.Events[0].ActorID != "tester" {
		t.Fatalf("unexpected events: %+v", evts.Events)
	}
}

func TestAgentModeAndThreshold(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/agent/mode", map[string]any{"mode": "supervised"}, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set mode status %d: %s", res.StatusCode, string(data))
	}
	var st agent.Status
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if st.Mode != "supervised" {
		t.Fatalf("expected supervised, got %s", st.Mode)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/agent/mode", map[string]any{"mode": "chaotic"}, actorHeaders)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid mode, got %d", res.StatusCode)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/agent/threshold", map[string]any{"confidence_threshold": 0.4}, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set threshold status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if st.ConfidenceThreshold != 0.4 {
		t.Fatalf("expected threshold 0.4, got %v", st.ConfidenceThreshold)
	}
}

func TestProjectLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/projects/start", map[string]any{
		"name":   "Acme ledger review",
		"client": "Acme",
		"type":   "audit_forensic",
	}, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start status %d: %s", res.StatusCode, string(data))
	}
	var p domain.Project
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	if p.Status != domain.ProjectActive {
		t.Fatalf("unexpected project: %+v", p)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/projects", nil, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var list ProjectListResponse
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if list.Count != 1 {
		t.Fatalf("expected 1 active project, got %d", list.Count)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/projects/finish", map[string]any{
		"project": p.ID,
	}, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("finish status %d: %s", res.StatusCode, string(data))
	}
	var done domain.Project
	if err := json.Unmarshal(data, &done); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	if done.Status != domain.ProjectCompleted || done.Phase != domain.PhaseOmega {
		t.Fatalf("unexpected finished project: %+v", done)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/projects/finish", map[string]any{
		"project": p.ID,
	}, actorHeaders)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 finishing archived project, got %d", res.StatusCode)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/projects/"+p.ID, nil, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get archived status %d: %s", res.StatusCode, string(data))
	}
}

func TestProjectFailOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	_, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/projects/start", map[string]any{
		"name": "Acme ledger review",
	}, actorHeaders)
	var p domain.Project
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/projects/"+p.ID+"/fail", map[string]any{
		"reason": "tracker unreachable",
	}, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("fail status %d: %s", res.StatusCode, string(data))
	}
	var failed domain.Project
	if err := json.Unmarshal(data, &failed); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	if failed.Status != domain.ProjectFailed || failed.Error != "tracker unreachable" {
		t.Fatalf("unexpected failed project: %+v", failed)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/projects/finish", map[string]any{
		"project": p.ID,
	}, actorHeaders)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 finishing failed project, got %d", res.StatusCode)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/projects/missing/fail", map[string]any{
		"reason": "x",
	}, actorHeaders)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown project, got %d", res.StatusCode)
	}
}

func TestProjectTemplatesAndMetrics(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/projects/templates", nil, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("templates status %d: %s", res.StatusCode, string(data))
	}
	var templates map[string][]string
	if err := json.Unmarshal(data, &templates); err != nil {
		t.Fatalf("unmarshal templates: %v", err)
	}
	if len(templates["audit_forensic"]) != 7 {
		t.Fatalf("unexpected audit template: %v", templates["audit_forensic"])
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/projects/metrics", nil, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d: %s", res.StatusCode, string(data))
	}
}

func TestReportGenerationOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/reports", map[string]any{
		"type":         "audit",
		"client_name":  "Acme",
		"project_name": "Ledger review",
		"description":  "Q1 anomalies",
	}, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create report status %d: %s", res.StatusCode, string(data))
	}
	var report domain.Report
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if report.Status != domain.ReportCompleted || report.Content == "" {
		t.Fatalf("unexpected report: %+v", report)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/reports/"+report.ID, nil, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get report status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/reports?status=completed", nil, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list reports status %d: %s", res.StatusCode, string(data))
	}
	var list ReportListResponse
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if list.Count != 1 {
		t.Fatalf("expected 1 report, got %d", list.Count)
	}

	// The report row and its events were committed together.
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/events?entity_id="+report.ID, nil, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var evts EventListResponse
	if err := json.Unmarshal(data, &evts); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	types := map[string]bool{}
	for _, e := range evts.Events {
		types[e.Type] = true
	}
	if !types["report.created"] || !types["report.completed"] {
		t.Fatalf("expected report.created and report.completed events, got %+v", evts.Events)
	}
}

func TestReportFallbackWithoutGenerator(t *testing.T) {
	content, model, err := generateReportContent(context.Background(), Config{}, domain.Report{
		Type:        "audit",
		ClientName:  "Acme",
		ProjectName: "Ledger review",
		Description: "Q1 anomalies",
	})
	if err != nil {
		t.Fatalf("fallback content: %v", err)
	}
	if model != "fallback" {
		t.Fatalf("expected fallback model, got %q", model)
	}
	if !bytes.Contains([]byte(content), []byte("Acme")) || !bytes.Contains([]byte(content), []byte("Forensic Audit")) {
		t.Fatalf("unexpected fallback content:\n%s", content)
	}
}

func signedInbound(t *testing.T, srv *testServer, payload map[string]any, secret string) (*http.Response, []byte) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/webhooks/inbound", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Auditflow-Signature", signature.New(secret).Sign(body))
	res, err := srv.Client().Do(req)
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

func TestInboundWebhookSignature(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := signedInbound(t, srv, map[string]any{
		"event": "agent_command",
		"data":  map[string]any{"command": "status"},
	}, testWebhookSecret)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("inbound status %d: %s", res.StatusCode, string(data))
	}
	var resp InboundWebhookResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !resp.Handled || resp.Event != "agent_command" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	res, _ = signedInbound(t, srv, map[string]any{
		"event": "agent_command",
		"data":  map[string]any{"command": "status"},
	}, "wrong-secret")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", res.StatusCode)
	}
}

func TestInboundAuditRequest(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := signedInbound(t, srv, map[string]any{
		"event": "audit_request",
		"data":  map[string]any{"description": "audit the vendor contracts"},
	}, testWebhookSecret)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("inbound status %d: %s", res.StatusCode, string(data))
	}
	var resp InboundWebhookResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !resp.Handled || resp.RequestID == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestInboundUnknownEventAcknowledged(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := signedInbound(t, srv, map[string]any{
		"event": "solar_flare",
	}, testWebhookSecret)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("inbound status %d: %s", res.StatusCode, string(data))
	}
	var resp InboundWebhookResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Handled {
		t.Fatalf("unknown event should not be handled: %+v", resp)
	}
}

func TestInboundAgentCommandInvalid(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, _ := signedInbound(t, srv, map[string]any{
		"event": "agent_command",
		"data":  map[string]any{"command": "self_destruct"},
	}, testWebhookSecret)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown command, got %d", res.StatusCode)
	}
}
