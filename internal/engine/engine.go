package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vaultship/greenlight/internal/audit"
	"github.com/vaultship/greenlight/internal/task"
	"github.com/vaultship/greenlight/internal/vault"
)

// Logger receives progress lines from the engine.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Recorder persists audit entries. Satisfied by *audit.Log.
type Recorder interface {
	Record(taskID, from, to string, outcome audit.Outcome, reason string) (audit.Entry, error)
}

// Engine applies transitions against a store and records every attempt.
type Engine struct {
	store    vault.Store
	recorder Recorder
	logger   Logger
}

// Option customizes an Engine during construction.
type Option func(*Engine)

// WithLogger attaches a progress logger.
func WithLogger(logger Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New builds an engine over a store and an audit recorder.
func New(store vault.Store, recorder Recorder, opts ...Option) *Engine {
	e := &Engine{store: store, recorder: recorder, logger: nopLogger{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store exposes the underlying vault store.
func (e *Engine) Store() vault.Store {
	return e.store
}

// Claim atomically relocates a document out of a shared compartment into
// InProgress. Ownership is defined as winning this single rename: when the
// source has vanished, Locate distinguishes a lost race (document now lives
// elsewhere) from a document that never existed. The status patch is applied
// only after the move, once the document is exclusively held, because shared
// compartments are never edited in place.
func (e *Engine) Claim(name string, from vault.Compartment, actor string) (*task.Document, error) {
	var trigger Trigger
	switch from {
	case vault.Inbox:
		trigger = TriggerClaim
	case vault.Approved:
		trigger = TriggerExecute
	default:
		return nil, fmt.Errorf("engine: claim from %s: %w", from, ErrInvalidTransition)
	}
	id := strings.TrimSuffix(name, ".md")
	err := e.store.Move(name, from, vault.InProgress)
	if err != nil {
		if !errors.Is(err, vault.ErrNotFound) {
			e.record(id, string(from), string(vault.InProgress), audit.OutcomeError,
				fmt.Sprintf("claim move failed: %v", err))
			return nil, err
		}
		if _, found, locErr := e.store.Locate(name); locErr == nil && found {
			e.record(id, string(from), string(vault.InProgress), audit.OutcomeRejected, "already claimed")
			return nil, fmt.Errorf("engine: claim %s from %s: %w", name, from, ErrAlreadyClaimed)
		}
		return nil, err
	}
	doc, err := task.Load(e.store, vault.InProgress, name)
	if err != nil {
		if errors.Is(err, task.ErrStateMismatch) {
			if qErr := e.Quarantine(name, vault.InProgress, "status does not match compartment"); qErr != nil {
				return nil, qErr
			}
		}
		return nil, err
	}
	rule := transitionTable[tableKey{from, trigger}]
	if err := task.Update(e.store, doc, rule.patch(doc.Meta)); err != nil {
		e.record(doc.Meta.ID, string(from), string(vault.InProgress), audit.OutcomeError,
			fmt.Sprintf("claim patch failed: %v", err))
		return nil, err
	}
	e.record(doc.Meta.ID, string(from), string(vault.InProgress), audit.OutcomeSucceeded, "")
	e.logger.Printf("engine: %s claimed %s -> %s by %s", doc.Meta.ID, from, vault.InProgress, actor)
	return doc, nil
}

// Apply computes and executes a transition: metadata patch first, then the
// atomic move, with an audit record for every attempt including failures.
// On success the document reflects its new compartment and metadata.
func (e *Engine) Apply(doc *task.Document, trigger Trigger, extra task.Patch) error {
	proposal, err := ComputeTransition(doc, trigger)
	if err != nil {
		e.record(doc.Meta.ID, string(doc.Compartment), string(doc.Compartment), audit.OutcomeError, err.Error())
		return err
	}
	patch := proposal.Patch
	for key, value := range extra {
		patch[key] = value
	}
	if err := task.Update(e.store, doc, patch); err != nil {
		e.record(doc.Meta.ID, string(proposal.From), string(proposal.To), audit.OutcomeError,
			fmt.Sprintf("metadata patch failed: %v", err))
		return err
	}
	if err := e.store.Move(doc.Name, proposal.From, proposal.To); err != nil {
		e.record(doc.Meta.ID, string(proposal.From), string(proposal.To), audit.OutcomeError,
			fmt.Sprintf("move failed: %v", err))
		return err
	}
	doc.Compartment = proposal.To
	e.record(doc.Meta.ID, string(proposal.From), string(proposal.To), audit.OutcomeSucceeded, doc.Meta.Reason)
	e.logger.Printf("engine: %s %s -> %s (%s)", doc.Meta.ID, proposal.From, proposal.To, trigger)
	return nil
}

// Quarantine relocates a document whose metadata cannot be trusted into
// NeedsAction and records why. It bypasses the transition table because the
// document's recorded state is the thing in dispute; the audit entry is
// keyed by file name since even the id field is suspect.
func (e *Engine) Quarantine(name string, from vault.Compartment, reason string) error {
	if err := e.store.Move(name, from, vault.NeedsAction); err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			return nil // someone else dealt with it
		}
		return fmt.Errorf("engine: quarantine %s from %s: %w", name, from, err)
	}
	e.record(name, string(from), string(vault.NeedsAction), audit.OutcomeRejected, reason)
	e.logger.Printf("engine: %s quarantined %s -> %s: %s", name, from, vault.NeedsAction, reason)
	return nil
}

// Deny records a rejected transition attempt without touching the document.
func (e *Engine) Deny(doc *task.Document, reason string) {
	e.record(doc.Meta.ID, string(doc.Compartment), string(doc.Compartment), audit.OutcomeRejected, reason)
	e.logger.Printf("engine: %s denied in %s: %s", doc.Meta.ID, doc.Compartment, reason)
}

func (e *Engine) record(taskID, from, to string, outcome audit.Outcome, reason string) {
	if e.recorder == nil {
		return
	}
	if _, err := e.recorder.Record(taskID, from, to, outcome, reason); err != nil {
		e.logger.Printf("engine: audit write failed for %s: %v", taskID, err)
	}
}
