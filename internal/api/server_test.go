package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"supplychain-orchestrator/internal/bus"
	"supplychain-orchestrator/internal/config"
	"supplychain-orchestrator/internal/decision"
	"supplychain-orchestrator/internal/models"
	"supplychain-orchestrator/internal/ratelimit"
	"supplychain-orchestrator/internal/store"
)

type testEnv struct {
	server *httptest.Server
	svc    *decision.Service
	bus    *bus.RedisStreams
}

func newTestEnv(t *testing.T, capacity int) *testEnv {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.RunMigrations(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := config.Config{WorkspaceID: 1, DLQName: "agents.dlq", ApprovalTimeout: 24 * time.Hour}
	svc := decision.NewService(cfg, st, nil)
	b := bus.NewRedisStreamsWithClient(client, cfg)
	var limiter *ratelimit.TokenBucket
	if capacity > 0 {
		limiter = ratelimit.NewTokenBucket(client, capacity, 0.001, time.Minute)
	}
	srv := httptest.NewServer(New(cfg, st, svc, b, limiter).Router())
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, svc: svc, bus: b}
}

func (e *testEnv) createPending(t *testing.T, objectID, rule string, sev models.Severity) models.DecisionItem {
	t.Helper()
	now := e.svc.Now()
	item, created, err := e.svc.Create(context.Background(), models.DecisionItem{
		DecisionType:      models.DecisionPolicyViolation,
		Title:             "Policy Violation: " + rule,
		Severity:          sev,
		RequiresApproval:  true,
		ApprovalDeadline:  now.Add(24 * time.Hour),
		RequiredRole:      models.RoleManager,
		RelatedObjectType: models.SubjectShipment,
		RelatedObjectID:   objectID,
		TriggerRule:       rule,
	})
	if err != nil || !created {
		t.Fatalf("create: created=%v err=%v", created, err)
	}
	return item
}

func (e *testEnv) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(e.server.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, path string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	if err != nil {
		t.Fatalf("get %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, 0)
	if resp := env.get(t, "/healthz", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.StatusCode)
	}
}

func TestListDecisionsBestFirst(t *testing.T) {
	env := newTestEnv(t, 0)
	low := env.createPending(t, "S-1", "route_deviation", models.SeverityLow)
	critical := env.createPending(t, "S-2", "critical_risk_level", models.SeverityCritical)

	var body struct {
		Items []models.DecisionItem `json:"items"`
	}
	if resp := env.get(t, "/decisions", &body); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.StatusCode)
	}
	if len(body.Items) != 2 || body.Items[0].ID != critical.ID || body.Items[1].ID != low.ID {
		t.Fatalf("unexpected queue order %+v", body.Items)
	}

	var one models.DecisionItem
	if resp := env.get(t, "/decisions/"+low.ID, &one); resp.StatusCode != http.StatusOK || one.TriggerRule != "route_deviation" {
		t.Fatalf("get decision: status=%d item=%+v", resp.StatusCode, one)
	}
	if resp := env.get(t, "/decisions/missing", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.StatusCode)
	}
}

func TestApproveThenConflict(t *testing.T) {
	env := newTestEnv(t, 0)
	item := env.createPending(t, "S-1", "high_value_shipment", models.SeverityHigh)

	resp := env.post(t, "/decisions/"+item.ID+"/approve", `{"actor":"alice","rationale":"cleared"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.StatusCode)
	}
	var approved models.DecisionItem
	if err := json.NewDecoder(resp.Body).Decode(&approved); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if approved.Status != models.StatusApproved || approved.DecisionMadeBy == nil || *approved.DecisionMadeBy != "alice" {
		t.Fatalf("unexpected approved item %+v", approved)
	}

	if resp := env.post(t, "/decisions/"+item.ID+"/reject", `{"actor":"bob"}`); resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.StatusCode)
	}

	var audit struct {
		Items []models.AuditLogEntry `json:"items"`
	}
	env.get(t, "/decisions/"+item.ID+"/audit", &audit)
	if len(audit.Items) != 2 || audit.Items[1].Action != "decision_approved" {
		t.Fatalf("unexpected audit trail %+v", audit.Items)
	}
}

func TestDecideValidation(t *testing.T) {
	env := newTestEnv(t, 0)
	item := env.createPending(t, "S-1", "high_value_shipment", models.SeverityHigh)

	if resp := env.post(t, "/decisions/"+item.ID+"/approve", `{`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json got %d", resp.StatusCode)
	}
	if resp := env.post(t, "/decisions/"+item.ID+"/approve", `{"rationale":"no actor"}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without actor got %d", resp.StatusCode)
	}
	if resp := env.post(t, "/decisions/missing/approve", `{"actor":"alice"}`); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.StatusCode)
	}
}

func TestDecideIsRateLimitedPerActor(t *testing.T) {
	env := newTestEnv(t, 1)
	item := env.createPending(t, "S-1", "high_value_shipment", models.SeverityHigh)

	if resp := env.post(t, "/decisions/missing/reject", `{"actor":"alice"}`); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.StatusCode)
	}
	resp := env.post(t, "/decisions/"+item.ID+"/approve", `{"actor":"alice"}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}
	if resp := env.post(t, "/decisions/"+item.ID+"/approve", `{"actor":"bob"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected other actor to pass got %d", resp.StatusCode)
	}
}

func TestNotificationsAndDLQ(t *testing.T) {
	env := newTestEnv(t, 0)
	env.createPending(t, "S-1", "high_value_shipment", models.SeverityHigh)
	msg := bus.Message{Stream: "risk.events", ID: "1-0", Data: []byte("{not json")}
	if err := env.bus.DeadLetter(context.Background(), msg, errors.New("decode failed")); err != nil {
		t.Fatalf("dead-letter: %v", err)
	}

	var notes struct {
		Items []models.Notification `json:"items"`
	}
	env.get(t, "/notifications", &notes)
	if len(notes.Items) != 1 || notes.Items[0].Type != "approval_required" {
		t.Fatalf("unexpected notifications %+v", notes.Items)
	}

	var dlq struct {
		Items []bus.DeadLetter `json:"items"`
	}
	env.get(t, "/dlq", &dlq)
	if len(dlq.Items) != 1 || dlq.Items[0].OriginalStream != "risk.events" {
		t.Fatalf("unexpected dlq %+v", dlq.Items)
	}
}
