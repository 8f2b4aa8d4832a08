package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vaultship/greenlight/internal/audit"
	"github.com/vaultship/greenlight/internal/task"
	"github.com/vaultship/greenlight/internal/vault"
)

func seedDoc(t *testing.T, store vault.Store, c vault.Compartment, actionType string, mutate func(*task.Document)) *task.Document {
	t.Helper()
	doc := task.New(actionType, "email", []byte("body"), time.Now().UTC())
	switch c {
	case vault.Done:
		doc.Meta.Status = "done"
	case vault.Approved:
		doc.Meta.Status = "approved"
	case vault.PendingApproval:
		doc.Meta.Status = "pending_approval"
	}
	if mutate != nil {
		mutate(doc)
	}
	data, err := doc.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := store.CreateExclusive(c, doc.Name, data); err != nil {
		t.Fatalf("seed %s: %v", c, err)
	}
	return doc
}

func newReportHarness(t *testing.T) (vault.Store, string, *Generator) {
	t.Helper()
	root := t.TempDir()
	store := vault.NewDir(filepath.Join(root, "vault"))
	if err := store.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	auditPath := filepath.Join(root, "audit.jsonl")
	return store, auditPath, NewGenerator(store, auditPath)
}

func TestGenerateCountsCompartments(t *testing.T) {
	store, _, gen := newReportHarness(t)
	seedDoc(t, store, vault.Inbox, "noop", nil)
	seedDoc(t, store, vault.Inbox, "noop", nil)
	seedDoc(t, store, vault.Done, "noop", func(d *task.Document) { d.Meta.Status = "done" })

	b, err := gen.Generate(24 * time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if b.CompartmentCount[vault.Inbox] != 2 {
		t.Fatalf("inbox count = %d", b.CompartmentCount[vault.Inbox])
	}
	if b.CompartmentCount[vault.Done] != 1 {
		t.Fatalf("done count = %d", b.CompartmentCount[vault.Done])
	}
	if len(b.Completed) != 1 {
		t.Fatalf("completed = %d", len(b.Completed))
	}
}

func TestGenerateGroupsCompletedTasks(t *testing.T) {
	store, _, gen := newReportHarness(t)
	seedDoc(t, store, vault.Done, "send_payment", nil)
	seedDoc(t, store, vault.Done, "send_payment", nil)
	seedDoc(t, store, vault.Done, "forward_invoice", func(d *task.Document) { d.Meta.Source = "slack" })

	b, err := gen.Generate(24 * time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if b.CompletedByType["send_payment"] != 2 || b.CompletedByType["forward_invoice"] != 1 {
		t.Fatalf("by type = %v", b.CompletedByType)
	}
	if b.CompletedBySource["email"] != 2 || b.CompletedBySource["slack"] != 1 {
		t.Fatalf("by source = %v", b.CompletedBySource)
	}
}

func TestGenerateSkipsOldCompletions(t *testing.T) {
	store, _, gen := newReportHarness(t)
	old := seedDoc(t, store, vault.Done, "noop", nil)

	stale := time.Now().Add(-48 * time.Hour)
	path := filepath.Join(store.(*vault.Dir).Root(), string(vault.Done), old.Name)
	if err := os.Chtimes(path, stale, stale); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	b, err := gen.Generate(24 * time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(b.Completed) != 0 {
		t.Fatalf("stale completion included: %+v", b.Completed)
	}
	if b.CompartmentCount[vault.Done] != 1 {
		t.Fatal("stale completion should still count toward the compartment total")
	}
}

func TestGenerateSummarizesAuditActivity(t *testing.T) {
	store, auditPath, _ := newReportHarness(t)
	log, err := audit.Open(auditPath, "worker-1")
	if err != nil {
		t.Fatalf("open audit: %v", err)
	}
	if _, err := log.Record("t-1", "Inbox", "In_Progress", audit.OutcomeSucceeded, ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := log.Record("t-2", "Approved", "Approved", audit.OutcomeRejected, "approved_by is required"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := log.Record("t-3", "Inbox", "Inbox", audit.OutcomeError, "boom"); err != nil {
		t.Fatalf("record: %v", err)
	}

	gen := NewGenerator(store, auditPath)
	b, err := gen.Generate(time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if b.AuditSucceeded != 1 || b.AuditRejected != 1 || b.AuditErrors != 1 {
		t.Fatalf("audit tallies = %d/%d/%d", b.AuditSucceeded, b.AuditRejected, b.AuditErrors)
	}
	if len(b.Denials) != 1 || b.Denials[0].Reason != "approved_by is required" {
		t.Fatalf("denials = %+v", b.Denials)
	}
}

func TestRenderAndWriteFile(t *testing.T) {
	store, _, gen := newReportHarness(t)
	seedDoc(t, store, vault.PendingApproval, "send_payment", func(d *task.Document) {
		d.Meta.Status = "pending_approval"
		d.Meta.Amount = 250
		d.Meta.Counterparty = "Acme Corp"
	})
	seedDoc(t, store, vault.NeedsAction, "noop", func(d *task.Document) {
		d.Meta.Status = "needs_action"
		d.Meta.Reason = "retry_limit_exceeded"
		d.Meta.RetryCount = 3
	})

	b, err := gen.Generate(24 * time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	rendered := b.Render()
	for _, want := range []string{
		"# Briefing",
		"pending_approvals: 1",
		"Acme Corp",
		"retry_limit_exceeded",
		"| Pending_Approval | 1 |",
	} {
		if !strings.Contains(rendered, want) {
			t.Fatalf("rendered briefing missing %q:\n%s", want, rendered)
		}
	}

	dir := t.TempDir()
	path, err := b.WriteFile(dir)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if filepath.Base(path) != FileName {
		t.Fatalf("unexpected file name %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != rendered {
		t.Fatal("written briefing differs from rendered output")
	}
}

func TestGenerateRejectsNonPositivePeriod(t *testing.T) {
	_, _, gen := newReportHarness(t)
	if _, err := gen.Generate(0); err == nil {
		t.Fatal("expected an error for a zero period")
	}
}
