package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vaultship/greenlight/internal/audit"
	"github.com/vaultship/greenlight/internal/task"
	"github.com/vaultship/greenlight/internal/vault"
)

func testSettings() Settings {
	return Settings{
		Enabled:      true,
		Host:         "127.0.0.1",
		Port:         0,
		MaxBodyBytes: DefaultMaxBodyBytes,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
		IdleTimeout:  DefaultIdleTimeout,
	}
}

func newTestServer(t *testing.T, opts ...Option) (*Server, vault.Store, string) {
	t.Helper()
	root := t.TempDir()
	store := vault.NewDir(filepath.Join(root, "vault"))
	if err := store.Init(); err != nil {
		t.Fatalf("init store: %v", err)
	}
	auditPath := filepath.Join(root, "audit.jsonl")
	return NewServer(testSettings(), store, auditPath, opts...), store, auditPath
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestServerHealth(t *testing.T) {
	server, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	health := decodeBody[healthResponse](t, rec)
	if health.Version != ProtocolVersion {
		t.Fatalf("unexpected version %q", health.Version)
	}
	if health.Status != string(StatusStarting) {
		t.Fatalf("unstarted server should report starting, got %q", health.Status)
	}
}

func TestServerCreateTaskLandsInInbox(t *testing.T) {
	var events []TaskEvent
	server, store, _ := newTestServer(t, WithProcessor(EventProcessorFunc(func(e TaskEvent) error {
		events = append(events, e)
		return nil
	})))

	payload := `{"action_type":"send_payment","source":"api","amount":42,"counterparty":"Acme Corp","body":"Pay invoice 77."}`
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/tasks", strings.NewReader(payload)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[createTaskResponse](t, rec)
	if created.ID == "" {
		t.Fatal("response missing task id")
	}
	if created.Compartment != string(vault.Inbox) {
		t.Fatalf("expected Inbox, got %s", created.Compartment)
	}

	doc, err := task.Load(store, vault.Inbox, created.Name)
	if err != nil {
		t.Fatalf("load created task: %v", err)
	}
	if doc.Meta.ActionType != "send_payment" {
		t.Fatalf("action_type = %q", doc.Meta.ActionType)
	}
	if doc.Meta.Status != "new" || doc.Meta.Revision != 1 {
		t.Fatalf("fresh task should be new at revision 1, got %s/%d", doc.Meta.Status, doc.Meta.Revision)
	}
	if value, ok := doc.Meta.AmountValue(); !ok || value != 42 {
		t.Fatalf("amount round trip failed: %v", doc.Meta.Amount)
	}
	if !strings.Contains(string(doc.Body), "Pay invoice 77.") {
		t.Fatalf("body lost: %q", doc.Body)
	}

	if len(events) != 1 || events[0].Kind != EventCreated || events[0].Name != created.Name {
		t.Fatalf("expected one created event, got %+v", events)
	}
}

func TestServerCreateTaskRejectsMissingActionType(t *testing.T) {
	server, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/tasks", strings.NewReader(`{"source":"api"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestServerCreateTaskRejectsOversizedPayload(t *testing.T) {
	server, _, _ := newTestServer(t)
	server.settings.MaxBodyBytes = 64

	payload := fmt.Sprintf(`{"action_type":"noop","body":%q}`, strings.Repeat("x", 256))
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/tasks", strings.NewReader(payload)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestServerListTasksFiltersByCompartment(t *testing.T) {
	server, store, _ := newTestServer(t)
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	inboxDoc := task.New("noop", "test", []byte("one"), now)
	pendingDoc := task.New("send_payment", "test", []byte("two"), now)
	for _, seed := range []struct {
		doc *task.Document
		c   vault.Compartment
	}{
		{inboxDoc, vault.Inbox},
		{pendingDoc, vault.PendingApproval},
	} {
		data, err := seed.doc.Encode()
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if err := store.CreateExclusive(seed.c, seed.doc.Name, data); err != nil {
			t.Fatalf("seed %s: %v", seed.c, err)
		}
	}

	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tasks?compartment=Pending_Approval", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	views := decodeBody[[]taskView](t, rec)
	if len(views) != 1 || views[0].ID != pendingDoc.Meta.ID {
		t.Fatalf("expected only the pending task, got %+v", views)
	}

	rec = httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tasks", nil))
	views = decodeBody[[]taskView](t, rec)
	if len(views) != 2 {
		t.Fatalf("expected both tasks without a filter, got %d", len(views))
	}

	rec = httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tasks?compartment=Nope", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown compartment should be 400, got %d", rec.Code)
	}
}

func TestServerGetTaskLocatesAcrossCompartments(t *testing.T) {
	server, store, _ := newTestServer(t)
	doc := task.New("noop", "test", []byte("find me"), time.Now().UTC())
	doc.Meta.Status = "done"
	data, err := doc.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := store.CreateExclusive(vault.Done, doc.Name, data); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tasks/"+doc.Meta.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	view := decodeBody[taskView](t, rec)
	if view.Compartment != string(vault.Done) {
		t.Fatalf("expected Done, got %s", view.Compartment)
	}

	rec = httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tasks/does-not-exist", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestServerAuditFilters(t *testing.T) {
	server, _, auditPath := newTestServer(t)
	log, err := audit.Open(auditPath, "worker-1")
	if err != nil {
		t.Fatalf("open audit: %v", err)
	}
	if _, err := log.Record("task-a", "Inbox", "In_Progress", audit.OutcomeSucceeded, ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := log.Record("task-b", "Approved", "Approved", audit.OutcomeRejected, "approved_by is required"); err != nil {
		t.Fatalf("record: %v", err)
	}

	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit?task_id=task-b", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	entries := decodeBody[[]audit.Entry](t, rec)
	if len(entries) != 1 || entries[0].TaskID != "task-b" {
		t.Fatalf("expected one task-b entry, got %+v", entries)
	}

	rec = httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit?since=not-a-time", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad since should be 400, got %d", rec.Code)
	}
}

func TestServerAuditEmptyLogReturnsEmptyList(t *testing.T) {
	server, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Fatalf("expected empty JSON array, got %q", body)
	}
}

func TestServerStartAndShutdown(t *testing.T) {
	server, _, _ := newTestServer(t)
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if server.Status() != StatusReady {
		t.Fatalf("expected ready, got %s", server.Status())
	}
	addr := server.Addr()
	if addr == "" {
		t.Fatal("expected a bound address")
	}

	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestServerStartRefusesWhenDisabled(t *testing.T) {
	settings := testSettings()
	settings.Enabled = false
	store := vault.NewDir(filepath.Join(t.TempDir(), "vault"))
	server := NewServer(settings, store, "")
	if err := server.Start(context.Background()); err == nil {
		t.Fatal("expected an error for a disabled server")
	}
}

func TestServerGetTaskReportsStateMismatch(t *testing.T) {
	server, store, _ := newTestServer(t)
	doc := task.New("noop", "test", []byte("body"), time.Now().UTC())
	data, err := doc.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// Status still "new", placed in Approved by hand.
	if err := store.CreateExclusive(vault.Approved, doc.Name, data); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tasks/"+doc.Meta.ID, nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a contradictory document, got %d", rec.Code)
	}
}

func TestServerAuditFiltersByTimestampRange(t *testing.T) {
	server, _, auditPath := newTestServer(t)
	stamp := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	log, err := audit.Open(auditPath, "worker-1", audit.WithClock(func() time.Time {
		stamp = stamp.Add(time.Hour)
		return stamp
	}))
	if err != nil {
		t.Fatalf("open audit: %v", err)
	}
	for _, id := range []string{"task-a", "task-b", "task-c"} { // 10:00, 11:00, 12:00
		if _, err := log.Record(id, "Inbox", "In_Progress", audit.OutcomeSucceeded, ""); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	target := "/v1/audit?since=2026-03-14T10:30:00Z&until=2026-03-14T11:30:00Z"
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	entries := decodeBody[[]audit.Entry](t, rec)
	if len(entries) != 1 || entries[0].TaskID != "task-b" {
		t.Fatalf("expected only the 11:00 entry, got %+v", entries)
	}

	rec = httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit?until=not-a-time", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad until should be 400, got %d", rec.Code)
	}
}
