// Package engine drives the task lifecycle: a fixed transition table maps
// (compartment, trigger) pairs to a target compartment and metadata patch,
// and the claim protocol makes pickup race-free over the vault's atomic
// move primitive.
package engine

import (
	"errors"
	"fmt"

	"github.com/vaultship/greenlight/internal/task"
	"github.com/vaultship/greenlight/internal/vault"
)

// Trigger names an event that may move a task between compartments.
type Trigger string

const (
	TriggerClaim             Trigger = "claim"
	TriggerSubmitForApproval Trigger = "submit_for_approval"
	TriggerComplete          Trigger = "complete"
	TriggerFail              Trigger = "fail"
	TriggerApprove           Trigger = "approve"
	TriggerReject            Trigger = "reject"
	TriggerExecute           Trigger = "execute"
	TriggerStale             Trigger = "stale"
	TriggerEscalate          Trigger = "escalate"
)

var (
	// ErrInvalidTransition indicates a (compartment, trigger) pair absent
	// from the transition table. This is a programming or configuration
	// error, never an expected runtime outcome.
	ErrInvalidTransition = errors.New("engine: invalid transition")
	// ErrAlreadyClaimed indicates another worker won the claim race. This
	// is an expected outcome, not a failure.
	ErrAlreadyClaimed = errors.New("engine: task already claimed")
)

// Proposal is a computed transition: where the task should go and how its
// metadata should change on the way.
type Proposal struct {
	From  vault.Compartment
	To    vault.Compartment
	Patch task.Patch
}

// transitionRule produces the target compartment and patch for one table
// entry. Rules are pure functions of the task snapshot.
type transitionRule struct {
	to    vault.Compartment
	patch func(meta task.Metadata) task.Patch
}

type tableKey struct {
	from    vault.Compartment
	trigger Trigger
}

var transitionTable = map[tableKey]transitionRule{
	{vault.Inbox, TriggerClaim}: {
		to:    vault.InProgress,
		patch: func(task.Metadata) task.Patch { return task.Patch{"status": "in_progress"} },
	},
	{vault.InProgress, TriggerSubmitForApproval}: {
		to:    vault.PendingApproval,
		patch: func(task.Metadata) task.Patch { return task.Patch{"status": "pending_approval"} },
	},
	{vault.InProgress, TriggerComplete}: {
		to:    vault.Done,
		patch: func(task.Metadata) task.Patch { return task.Patch{"status": "done"} },
	},
	{vault.InProgress, TriggerFail}: {
		to:    vault.Failed,
		patch: func(task.Metadata) task.Patch { return task.Patch{"status": "failed"} },
	},
	{vault.PendingApproval, TriggerApprove}: {
		to:    vault.Approved,
		patch: func(task.Metadata) task.Patch { return task.Patch{"status": "approved"} },
	},
	{vault.PendingApproval, TriggerReject}: {
		to:    vault.Rejected,
		patch: func(task.Metadata) task.Patch { return task.Patch{"status": "rejected"} },
	},
	{vault.Approved, TriggerExecute}: {
		to:    vault.InProgress,
		patch: func(task.Metadata) task.Patch { return task.Patch{"status": "executing"} },
	},
	{vault.InProgress, TriggerStale}: {
		to: vault.Inbox,
		patch: func(meta task.Metadata) task.Patch {
			return task.Patch{"status": "new", "retry_count": meta.RetryCount + 1, "reason": "stale_claim"}
		},
	},
	{vault.PendingApproval, TriggerStale}: {
		to: vault.Inbox,
		patch: func(meta task.Metadata) task.Patch {
			return task.Patch{"status": "new", "retry_count": meta.RetryCount + 1, "reason": "stale_claim"}
		},
	},
	{vault.InProgress, TriggerEscalate}: {
		to: vault.NeedsAction,
		patch: func(meta task.Metadata) task.Patch {
			return task.Patch{"status": "needs_action", "reason": "retry_limit_exceeded"}
		},
	},
	{vault.PendingApproval, TriggerEscalate}: {
		to: vault.NeedsAction,
		patch: func(meta task.Metadata) task.Patch {
			return task.Patch{"status": "needs_action", "reason": "retry_limit_exceeded"}
		},
	},
}

// ComputeTransition proposes the move and patch for a trigger against a task
// snapshot. It is pure: the same snapshot and trigger always produce the
// same proposal. A pair absent from the table returns ErrInvalidTransition,
// never a silent no-op.
func ComputeTransition(doc *task.Document, trigger Trigger) (Proposal, error) {
	rule, ok := transitionTable[tableKey{doc.Compartment, trigger}]
	if !ok {
		return Proposal{}, fmt.Errorf("engine: no rule for %s in %s: %w",
			trigger, doc.Compartment, ErrInvalidTransition)
	}
	return Proposal{From: doc.Compartment, To: rule.to, Patch: rule.patch(doc.Meta)}, nil
}

// Triggers lists the triggers valid from a compartment, for diagnostics.
func Triggers(from vault.Compartment) []Trigger {
	var out []Trigger
	for key := range transitionTable {
		if key.from == from {
			out = append(out, key.trigger)
		}
	}
	return out
}
