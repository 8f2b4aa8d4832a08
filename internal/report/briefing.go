// Package report summarizes vault and audit activity into a briefing
// document a human can read at the start of the day: what finished, what
// failed, what is waiting on them, and what the workers have been doing.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vaultship/greenlight/internal/audit"
	"github.com/vaultship/greenlight/internal/task"
	"github.com/vaultship/greenlight/internal/vault"
)

// FileName is the well-known name of the generated briefing document.
const FileName = "Briefing.md"

// CompletedTask is one finished task included in the briefing period.
type CompletedTask struct {
	ID         string
	ActionType string
	Source     string
	Priority   string
	Created    time.Time
}

// PendingTask is a task waiting on a human decision.
type PendingTask struct {
	ID           string
	ActionType   string
	Counterparty string
	Amount       any
	Created      time.Time
}

// StuckTask is a task parked for operator attention.
type StuckTask struct {
	ID         string
	ActionType string
	Reason     string
	RetryCount int
}

// Briefing is the assembled summary for one reporting period.
type Briefing struct {
	GeneratedAt       time.Time
	PeriodStart       time.Time
	PeriodEnd         time.Time
	CompartmentCount  map[vault.Compartment]int
	Completed         []CompletedTask
	CompletedBySource map[string]int
	CompletedByType   map[string]int
	Pending           []PendingTask
	Stuck             []StuckTask
	AuditSucceeded    int
	AuditRejected     int
	AuditErrors       int
	Denials           []audit.Entry
}

// Generator assembles briefings from a store and an audit log path.
type Generator struct {
	store     vault.Store
	auditPath string
	now       func() time.Time
}

// Option customizes generator construction.
type Option func(*Generator)

// WithClock allows tests to control the reporting window.
func WithClock(clock func() time.Time) Option {
	return func(g *Generator) {
		if clock != nil {
			g.now = clock
		}
	}
}

// NewGenerator builds a generator over the given store and audit log.
func NewGenerator(store vault.Store, auditPath string, opts ...Option) *Generator {
	g := &Generator{
		store:     store,
		auditPath: auditPath,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Generate assembles a briefing covering the trailing period.
func (g *Generator) Generate(period time.Duration) (*Briefing, error) {
	if period <= 0 {
		return nil, fmt.Errorf("report: period must be positive")
	}
	now := g.now()
	b := &Briefing{
		GeneratedAt:       now,
		PeriodStart:       now.Add(-period),
		PeriodEnd:         now,
		CompartmentCount:  map[vault.Compartment]int{},
		CompletedBySource: map[string]int{},
		CompletedByType:   map[string]int{},
	}

	for _, c := range vault.Compartments {
		entries, err := g.store.List(c)
		if err != nil {
			return nil, fmt.Errorf("report: list %s: %w", c, err)
		}
		b.CompartmentCount[c] = len(entries)
		switch c {
		case vault.Done:
			g.collectCompleted(b, entries)
		case vault.Approved, vault.PendingApproval:
			g.collectPending(b, c, entries)
		case vault.NeedsAction:
			g.collectStuck(b, entries)
		}
	}

	if err := g.collectAudit(b); err != nil {
		return nil, err
	}

	sort.Slice(b.Completed, func(i, j int) bool { return b.Completed[i].Created.Before(b.Completed[j].Created) })
	sort.Slice(b.Pending, func(i, j int) bool { return b.Pending[i].Created.Before(b.Pending[j].Created) })
	return b, nil
}

func (g *Generator) collectCompleted(b *Briefing, entries []vault.Entry) {
	for _, entry := range entries {
		doc, err := task.Load(g.store, vault.Done, entry.Name)
		if err != nil {
			continue
		}
		if entry.ModTime.Before(b.PeriodStart) {
			continue
		}
		b.Completed = append(b.Completed, CompletedTask{
			ID:         doc.Meta.ID,
			ActionType: doc.Meta.ActionType,
			Source:     doc.Meta.Source,
			Priority:   doc.Meta.Priority,
			Created:    doc.Meta.Created,
		})
		source := doc.Meta.Source
		if source == "" {
			source = "unknown"
		}
		b.CompletedBySource[source]++
		b.CompletedByType[doc.Meta.ActionType]++
	}
}

func (g *Generator) collectPending(b *Briefing, c vault.Compartment, entries []vault.Entry) {
	for _, entry := range entries {
		doc, err := task.Load(g.store, c, entry.Name)
		if err != nil {
			continue
		}
		b.Pending = append(b.Pending, PendingTask{
			ID:           doc.Meta.ID,
			ActionType:   doc.Meta.ActionType,
			Counterparty: doc.Meta.Counterparty,
			Amount:       doc.Meta.Amount,
			Created:      doc.Meta.Created,
		})
	}
}

func (g *Generator) collectStuck(b *Briefing, entries []vault.Entry) {
	for _, entry := range entries {
		doc, err := task.Load(g.store, vault.NeedsAction, entry.Name)
		if err != nil {
			continue
		}
		b.Stuck = append(b.Stuck, StuckTask{
			ID:         doc.Meta.ID,
			ActionType: doc.Meta.ActionType,
			Reason:     doc.Meta.Reason,
			RetryCount: doc.Meta.RetryCount,
		})
	}
}

func (g *Generator) collectAudit(b *Briefing) error {
	entries, err := audit.Entries(g.auditPath, audit.Filter{Since: b.PeriodStart})
	if err != nil {
		return fmt.Errorf("report: read audit log: %w", err)
	}
	for _, entry := range entries {
		switch entry.Outcome {
		case audit.OutcomeSucceeded:
			b.AuditSucceeded++
		case audit.OutcomeRejected:
			b.AuditRejected++
			b.Denials = append(b.Denials, entry)
		case audit.OutcomeError:
			b.AuditErrors++
		}
	}
	return nil
}

// Render produces the briefing as a markdown document with frontmatter.
func (b *Briefing) Render() string {
	var sb strings.Builder
	day := b.GeneratedAt.Format("2006-01-02")

	sb.WriteString("---\n")
	fmt.Fprintf(&sb, "generated: %s\n", b.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "period_start: %s\n", b.PeriodStart.Format(time.RFC3339))
	fmt.Fprintf(&sb, "period_end: %s\n", b.PeriodEnd.Format(time.RFC3339))
	fmt.Fprintf(&sb, "tasks_completed: %d\n", len(b.Completed))
	fmt.Fprintf(&sb, "pending_approvals: %d\n", len(b.Pending))
	sb.WriteString("---\n\n")

	fmt.Fprintf(&sb, "# Briefing %s\n\n", day)

	sb.WriteString("## Vault\n\n")
	sb.WriteString("| Compartment | Tasks |\n|---|---|\n")
	for _, c := range vault.Compartments {
		fmt.Fprintf(&sb, "| %s | %d |\n", c, b.CompartmentCount[c])
	}
	sb.WriteString("\n")

	fmt.Fprintf(&sb, "## Completed (%d)\n\n", len(b.Completed))
	if len(b.Completed) == 0 {
		sb.WriteString("Nothing completed in this period.\n\n")
	} else {
		sb.WriteString("| Task | Type | Source | Priority |\n|---|---|---|---|\n")
		for _, t := range b.Completed {
			fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n", t.ID, t.ActionType, orDash(t.Source), orDash(t.Priority))
		}
		sb.WriteString("\n")
		writeCountTable(&sb, "By source", b.CompletedBySource)
		writeCountTable(&sb, "By type", b.CompletedByType)
	}

	fmt.Fprintf(&sb, "## Waiting on you (%d)\n\n", len(b.Pending))
	if len(b.Pending) == 0 {
		sb.WriteString("No tasks awaiting approval.\n\n")
	} else {
		sb.WriteString("| Task | Type | Counterparty | Amount |\n|---|---|---|---|\n")
		for _, t := range b.Pending {
			fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n", t.ID, t.ActionType, orDash(t.Counterparty), amountString(t.Amount))
		}
		sb.WriteString("\n")
	}

	if len(b.Stuck) > 0 {
		fmt.Fprintf(&sb, "## Needs action (%d)\n\n", len(b.Stuck))
		sb.WriteString("| Task | Type | Reason | Retries |\n|---|---|---|---|\n")
		for _, t := range b.Stuck {
			fmt.Fprintf(&sb, "| %s | %s | %s | %d |\n", t.ID, t.ActionType, orDash(t.Reason), t.RetryCount)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Activity\n\n")
	fmt.Fprintf(&sb, "- Transitions succeeded: %d\n", b.AuditSucceeded)
	fmt.Fprintf(&sb, "- Approvals denied: %d\n", b.AuditRejected)
	fmt.Fprintf(&sb, "- Errors: %d\n", b.AuditErrors)
	if len(b.Denials) > 0 {
		sb.WriteString("\nRecent denials:\n\n")
		for _, entry := range b.Denials {
			fmt.Fprintf(&sb, "- %s: %s\n", entry.TaskID, entry.Reason)
		}
	}
	sb.WriteString("\n")
	return sb.String()
}

// WriteFile renders the briefing into dir under the well-known name.
func (b *Briefing) WriteFile(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("report: create dir: %w", err)
	}
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(b.Render()), 0o644); err != nil {
		return "", fmt.Errorf("report: write briefing: %w", err)
	}
	return path, nil
}

func writeCountTable(sb *strings.Builder, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	fmt.Fprintf(sb, "%s:\n\n", title)
	for _, key := range keys {
		fmt.Fprintf(sb, "- %s: %d\n", key, counts[key])
	}
	sb.WriteString("\n")
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func amountString(amount any) string {
	if amount == nil {
		return "-"
	}
	return fmt.Sprintf("%v", amount)
}
