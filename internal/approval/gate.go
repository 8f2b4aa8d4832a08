// Package approval is the execution gate for sensitive tasks. Every check
// is mandatory, evaluated in order, and short-circuits on the first failure
// with the reason recorded. The gate never assumes approval: any missing,
// malformed, or ambiguous field denies.
package approval

import (
	"strings"

	"github.com/vaultship/greenlight/internal/task"
	"github.com/vaultship/greenlight/internal/vault"
)

// Decision is the gate's verdict. Reason is set only on denial.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason string) Decision {
	return Decision{Reason: reason}
}

// Gate checks task documents before execution.
type Gate struct {
	// PaymentCeiling is the amount above which payment_approved is
	// additionally required, even inside the approved compartment. This
	// guards against a human approving a reused template without noticing
	// the amount.
	PaymentCeiling float64
	// NewContactTypes are action types that imply a new external
	// counterparty and so additionally require new_contact_approved.
	NewContactTypes map[string]bool
}

// Check runs the full approval check against a document snapshot.
//
// Order matters: physical location first, so a document edited in place
// outside the trusted compartment can never pass on metadata alone.
func (g Gate) Check(doc *task.Document) Decision {
	if doc == nil {
		return deny("no task document")
	}
	if doc.Compartment != vault.Approved {
		return deny("task is not in the approved compartment")
	}
	if approved, ok := doc.Meta.Approved.(bool); !ok || !approved {
		return deny("approved must be boolean true")
	}
	if strings.TrimSpace(doc.Meta.ApprovedBy) == "" {
		return deny("approved_by is required")
	}
	if doc.Meta.ActionType == "payment" {
		amount, ok := doc.Meta.AmountValue()
		if !ok {
			return deny("payment amount must be numeric")
		}
		if amount > g.PaymentCeiling {
			if flag, ok := doc.Meta.PaymentApproved.(bool); !ok || !flag {
				return deny("payment_approved required above ceiling")
			}
		}
	}
	if g.NewContactTypes[doc.Meta.ActionType] {
		if flag, ok := doc.Meta.NewContactApproved.(bool); !ok || !flag {
			return deny("new_contact_approved required for new counterparty")
		}
	}
	return allow()
}
