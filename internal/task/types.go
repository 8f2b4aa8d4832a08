// Package task defines the task document: a markdown body under a YAML
// frontmatter block, stored in a vault compartment. Metadata is parsed
// leniently on purpose. Approval flags keep their raw YAML type so the
// approval gate can insist on the literal boolean true instead of trusting
// a coercion performed here.
package task

import (
	"strconv"
	"strings"
	"time"
)

// Metadata is the frontmatter of a task document. Revision increases on
// every metadata mutation and backs the optimistic concurrency check in
// Update. Fields the schema does not know about survive a round trip via
// Extra.
type Metadata struct {
	ID         string
	Created    time.Time
	Source     string
	Priority   string
	ActionType string
	Status     string
	Revision   int

	// Amount is kept untyped: the gate validates that payment tasks carry
	// a numeric amount rather than trusting whatever YAML produced.
	Amount       any
	Counterparty string

	// Approval fields, also untyped. `approved: "true"` must stay a string
	// all the way to the gate so the gate can reject it.
	Approved           any
	ApprovedBy         string
	ApprovedDate       string
	PaymentApproved    any
	NewContactApproved any

	RetryCount int
	Reason     string

	Extra map[string]any
}

// Clone returns a deep enough copy for patch-and-compare workflows.
func (m Metadata) Clone() Metadata {
	cloned := m
	cloned.Extra = cloneExtra(m.Extra)
	return cloned
}

// AmountValue reports the amount as a float64 when it is numeric. Quoted
// amounts from hand-edited frontmatter are accepted when the whole string
// parses as a number; anything else reports false and is treated as
// missing by policy and gate alike.
func (m Metadata) AmountValue() (float64, bool) {
	switch v := m.Amount.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func cloneExtra(extra map[string]any) map[string]any {
	if len(extra) == 0 {
		return nil
	}
	cloned := make(map[string]any, len(extra))
	for k, v := range extra {
		cloned[k] = v
	}
	return cloned
}
