package engine

import (
	"strings"

	"github.com/vaultship/greenlight/internal/task"
)

// Class is the execution path a task is routed down.
type Class string

const (
	// Autonomous tasks execute directly without a human in the loop.
	Autonomous Class = "autonomous"
	// Sensitive tasks must pass through PendingApproval and the gate.
	Sensitive Class = "sensitive"
)

// Policy decides the execution path for a task snapshot. What counts as
// "pre-approved" is deployment-specific, so the predicate is injectable
// rather than baked in.
type Policy interface {
	Classify(meta task.Metadata) Class
}

// TablePolicy is a static lookup: an allow-list of action types, a monetary
// ceiling for payments, and an allow-list of known counterparties. Anything
// ambiguous or outside the tables classifies as Sensitive. Classification
// never depends on anything but the snapshot.
type TablePolicy struct {
	// AutonomousTypes is the closed set of action types that may run
	// without approval.
	AutonomousTypes map[string]bool
	// PaymentCeiling is the maximum autonomous payment amount, inclusive.
	PaymentCeiling float64
	// PreapprovedCounterparties are counterparties payments may go to
	// autonomously. Matching is case-insensitive on the trimmed name.
	PreapprovedCounterparties map[string]bool
}

// Classify routes a task. The default for any missing, unknown, or
// malformed field is Sensitive.
func (p TablePolicy) Classify(meta task.Metadata) Class {
	if !p.AutonomousTypes[meta.ActionType] {
		return Sensitive
	}
	if meta.ActionType != "payment" {
		return Autonomous
	}
	amount, ok := meta.AmountValue()
	if !ok || amount < 0 || amount > p.PaymentCeiling {
		return Sensitive
	}
	if !p.preapproved(meta.Counterparty) {
		return Sensitive
	}
	return Autonomous
}

func (p TablePolicy) preapproved(counterparty string) bool {
	name := strings.ToLower(strings.TrimSpace(counterparty))
	if name == "" {
		return false
	}
	for known := range p.PreapprovedCounterparties {
		if strings.ToLower(strings.TrimSpace(known)) == name {
			return true
		}
	}
	return false
}
