package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/opsleuth/opsleuth/internal/analytics"
	"github.com/opsleuth/opsleuth/internal/api"
	"github.com/opsleuth/opsleuth/internal/api/handlers"
	"github.com/opsleuth/opsleuth/internal/artifact"
	"github.com/opsleuth/opsleuth/internal/config"
	"github.com/opsleuth/opsleuth/internal/orchestrator"
	"github.com/opsleuth/opsleuth/internal/plan"
	"github.com/opsleuth/opsleuth/internal/store"
	"github.com/opsleuth/opsleuth/pkg/models"
)

const triageReply = "```json" + `
{"status":"success","confidence":0.9,"evidence":{"error_signature":"OOMKilled","stack_trace":"at svc.ingest(ingest.go:77)"},"blockers":[],"recommendations":[]}
` + "```"

const analysisReply = "```json" + `
{"status":"success","confidence":0.85,"root_cause":{"file":"ingest.go","line":77,"function":"ingest","defect_type":"unbounded_buffer","evidence":"batch size grows without cap"},"dependency_chain":[],"hypothesis":"ingestion buffers entire batch","blockers":[],"recommendations":[]}
` + "```"

func synthesisReply() string {
	rca := "# Executive Summary\nIngestion ran out of memory buffering whole batches.\n" +
		"# Root Cause\ningest.go line 77 accumulates the full batch in memory with no upper bound.\n" +
		"# Recommended Fix\nStream records in fixed-size chunks and cap the in-flight batch size."
	b, _ := json.Marshal(map[string]interface{}{
		"status": "success", "confidence": 0.88, "rca_content": rca,
		"limitations": []string{}, "blockers": []string{}, "recommendations": []string{},
	})
	return string(b)
}

func specialistStub() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/sre"):
			fmt.Fprint(w, triageReply)
		case strings.HasSuffix(r.URL.Path, "/investigator"):
			fmt.Fprint(w, analysisReply)
		case strings.HasSuffix(r.URL.Path, "/architect"):
			fmt.Fprint(w, synthesisReply())
		default:
			http.NotFound(w, r)
		}
	})
}

func newTestRouter(t *testing.T) (http.Handler, store.SessionRepository, func()) {
	t.Helper()
	specialists := httptest.NewServer(specialistStub())
	artifacts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"url": "https://artifacts.local/rca.md"})
	}))

	cfg := &config.Config{
		Version: "test",
		Budgets: config.BudgetConfig{
			MaxAttempts:         3,
			AttemptTimeout:      5 * time.Second,
			InvestigationBudget: time.Minute,
			VersionPenalty:      0.1,
		},
		Endpoints: config.EndpointConfig{
			SpecialistBaseURL: specialists.URL,
			ArtifactURL:       artifacts.URL,
		},
	}

	sessions := store.NewMemoryStore(time.Hour, time.Hour)
	engine := orchestrator.NewEngine(
		sessions,
		plan.New("", 0),
		artifact.NewStore(artifacts.URL, 5*time.Second),
		analytics.NewSink(""),
		cfg,
	).WithSleep(func(ctx context.Context, d time.Duration) error { return nil })

	router := api.NewRouter(cfg, handlers.New(sessions, engine))
	cleanup := func() {
		specialists.Close()
		artifacts.Close()
		sessions.Close()
	}
	return router, sessions, cleanup
}

func TestHealthEndpoint(t *testing.T) {
	router, _, cleanup := newTestRouter(t)
	defer cleanup()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health status = %d, want 200", rec.Code)
	}
	var body map[string]string
	json.NewDecoder(rec.Body).Decode(&body)
	if body["status"] != "healthy" {
		t.Errorf(`health status = %q, want "healthy"`, body["status"])
	}
}

func TestVersionEndpoint(t *testing.T) {
	router, _, cleanup := newTestRouter(t)
	defer cleanup()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	var body map[string]string
	json.NewDecoder(rec.Body).Decode(&body)
	if body["version"] != "test" {
		t.Errorf("version = %q, want test", body["version"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router, _, cleanup := newTestRouter(t)
	defer cleanup()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d, want 200", rec.Code)
	}
}

func TestTroubleshootEndToEnd(t *testing.T) {
	router, sessions, cleanup := newTestRouter(t)
	defer cleanup()

	payload := `{"user_request":"ingestion pods OOM under load","project_id":"pipeline-prod","repo_url":"https://git.local/pipeline.git"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/troubleshoot", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("POST /troubleshoot status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp handlers.TroubleshootResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != models.StatusSuccess {
		t.Fatalf("Status = %s, want SUCCESS", resp.Status)
	}
	if resp.SessionID == "" {
		t.Error("SessionID should be set")
	}
	if resp.Confidence < 0.8 {
		t.Errorf("Confidence = %.2f, want the aggregate of the three phases", resp.Confidence)
	}
	if resp.RCAURL == "" {
		t.Error("RCAURL should point at the published artifact")
	}

	// The terminal session is retrievable afterwards.
	stored, err := sessions.GetSession(context.Background(), resp.SessionID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if stored.Phase != models.PhaseCompleted {
		t.Errorf("stored Phase = %s, want COMPLETED", stored.Phase)
	}
}

func TestTroubleshootRejectsBadRequests(t *testing.T) {
	router, _, cleanup := newTestRouter(t)
	defer cleanup()

	for name, payload := range map[string]string{
		"invalid json":         "{not json",
		"missing user_request": `{"project_id":"p"}`,
	} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/troubleshoot", strings.NewReader(payload))
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, rec.Code)
		}
	}
}

func TestSessionLifecycleEndpoints(t *testing.T) {
	router, sessions, cleanup := newTestRouter(t)
	defer cleanup()

	sess := models.NewSession("sess-api", "db latency spike", "proj", "https://git.local/db.git", "")
	if err := sessions.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/sess-api", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET session status = %d, want 200", rec.Code)
	}
	var got models.InvestigationSession
	json.NewDecoder(rec.Body).Decode(&got)
	if got.SessionID != "sess-api" || got.Phase != models.PhaseIntake {
		t.Errorf("got session %s/%s, want sess-api/INTAKE", got.SessionID, got.Phase)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list sessions status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/sess-api", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE session status = %d, want 204", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/sess-api", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET deleted session status = %d, want 404", rec.Code)
	}
}
