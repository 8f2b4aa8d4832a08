// Package worker is the polling runtime: it claims new tasks from the
// inbox, routes them down the autonomous or gated path, and executes
// approved tasks through the handler registry. Many workers may poll the
// same vault; the claim protocol keeps them from colliding.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vaultship/greenlight/internal/action"
	"github.com/vaultship/greenlight/internal/approval"
	"github.com/vaultship/greenlight/internal/engine"
	"github.com/vaultship/greenlight/internal/task"
	"github.com/vaultship/greenlight/internal/vault"
)

// Logger receives progress lines from the worker.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Worker polls the shared compartments and drives tasks through their
// lifecycle.
type Worker struct {
	engine   *engine.Engine
	gate     approval.Gate
	policy   engine.Policy
	registry *action.Registry
	configs  map[string]action.Config
	actor    string
	interval time.Duration
	logger   Logger
	wake     <-chan struct{}

	// denied remembers gate denials by document name and the revision that
	// was denied, so an unchanged document is not re-checked every poll.
	// A human fixing the document bumps its revision and clears the skip.
	denied map[string]int
}

// Option customizes a Worker during construction.
type Option func(*Worker)

// WithLogger attaches a progress logger.
func WithLogger(logger Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithInterval sets the poll interval for Run.
func WithInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithWakeup attaches a channel that cuts the poll wait short. A send wakes
// the worker for an immediate pass; the channel is typically fed from vault
// watch events so new or approved documents do not wait out the interval.
func WithWakeup(wake <-chan struct{}) Option {
	return func(w *Worker) {
		w.wake = wake
	}
}

// WithHandlerConfig supplies construction config for one action type.
func WithHandlerConfig(actionType string, cfg action.Config) Option {
	return func(w *Worker) {
		if w.configs == nil {
			w.configs = map[string]action.Config{}
		}
		w.configs[actionType] = cfg
	}
}

// New builds a worker.
func New(eng *engine.Engine, gate approval.Gate, policy engine.Policy, registry *action.Registry, actor string, opts ...Option) *Worker {
	w := &Worker{
		engine:   eng,
		gate:     gate,
		policy:   policy,
		registry: registry,
		actor:    actor,
		interval: 5 * time.Second,
		logger:   nopLogger{},
		denied:   map[string]int{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// RunOnce performs a single poll pass: first the inbox, then the approved
// compartment. It returns the number of tasks this worker moved.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	processed, err := w.pollInbox(ctx)
	if err != nil {
		return processed, err
	}
	executed, err := w.pollApproved(ctx)
	processed += executed
	return processed, err
}

func (w *Worker) pollInbox(ctx context.Context) (int, error) {
	store := w.engine.Store()
	entries, err := store.List(vault.Inbox)
	if err != nil {
		return 0, fmt.Errorf("worker: list inbox: %w", err)
	}
	processed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		doc, err := w.engine.Claim(entry.Name, vault.Inbox, w.actor)
		if err != nil {
			if errors.Is(err, engine.ErrAlreadyClaimed) || errors.Is(err, vault.ErrNotFound) {
				continue // another worker got there first
			}
			if errors.Is(err, task.ErrStateMismatch) {
				w.logger.Printf("worker: %s quarantined, status disagrees with inbox", entry.Name)
				continue
			}
			return processed, err
		}
		if err := w.route(ctx, doc); err != nil {
			return processed, err
		}
		processed++
	}
	return processed, nil
}

// route sends a freshly claimed inbox task down the autonomous or gated
// path. The classification is a static table lookup; anything the table
// does not know is sensitive.
func (w *Worker) route(ctx context.Context, doc *task.Document) error {
	switch w.policy.Classify(doc.Meta) {
	case engine.Autonomous:
		w.logger.Printf("worker: %s classified autonomous (%s)", doc.Meta.ID, doc.Meta.ActionType)
		return w.execute(ctx, doc)
	default:
		w.logger.Printf("worker: %s classified sensitive (%s)", doc.Meta.ID, doc.Meta.ActionType)
		return w.engine.Apply(doc, engine.TriggerSubmitForApproval, nil)
	}
}

func (w *Worker) pollApproved(ctx context.Context) (int, error) {
	store := w.engine.Store()
	entries, err := store.List(vault.Approved)
	if err != nil {
		return 0, fmt.Errorf("worker: list approved: %w", err)
	}
	present := make(map[string]bool, len(entries))
	for _, entry := range entries {
		present[entry.Name] = true
	}
	for name := range w.denied {
		if !present[name] {
			delete(w.denied, name)
		}
	}
	executed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return executed, ctx.Err()
		}
		doc, err := task.Load(store, vault.Approved, entry.Name)
		if err != nil {
			if errors.Is(err, vault.ErrNotFound) {
				continue
			}
			if errors.Is(err, task.ErrStateMismatch) {
				// Someone placed a document in Approved without stamping
				// its status. That is never a protocol state, so pull it
				// out of the flow for a human to look at.
				if qErr := w.engine.Quarantine(entry.Name, vault.Approved, "status does not match compartment"); qErr != nil {
					return executed, qErr
				}
				continue
			}
			// A malformed document in Approved is a denial, not a crash.
			w.logger.Printf("worker: unreadable document %s in approved: %v", entry.Name, err)
			continue
		}
		if deniedRev, ok := w.denied[doc.Name]; ok && deniedRev == doc.Meta.Revision {
			continue
		}
		decision := w.gate.Check(doc)
		if !decision.Allowed {
			w.engine.Deny(doc, decision.Reason)
			w.denied[doc.Name] = doc.Meta.Revision
			continue
		}
		delete(w.denied, doc.Name)
		claimed, err := w.engine.Claim(doc.Name, vault.Approved, w.actor)
		if err != nil {
			if errors.Is(err, engine.ErrAlreadyClaimed) || errors.Is(err, vault.ErrNotFound) {
				continue
			}
			return executed, err
		}
		if err := w.execute(ctx, claimed); err != nil {
			return executed, err
		}
		executed++
	}
	return executed, nil
}

// execute resolves the handler for the claimed document and moves it to
// Done or Failed based on the result. Failures are terminal here; retrying
// a sensitive action is an operator decision, not an automatic one.
func (w *Worker) execute(ctx context.Context, doc *task.Document) error {
	handler, err := w.registry.Resolve(doc.Meta.ActionType, w.configs[doc.Meta.ActionType])
	if err != nil {
		return w.engine.Apply(doc, engine.TriggerFail, task.Patch{"reason": err.Error()})
	}
	result := handler.Execute(ctx, doc)
	if !result.Success {
		w.logger.Printf("worker: %s handler failed: %s", doc.Meta.ID, result.Reason)
		return w.engine.Apply(doc, engine.TriggerFail, task.Patch{"reason": result.Reason})
	}
	return w.engine.Apply(doc, engine.TriggerComplete, nil)
}

// Run polls until the context is cancelled. Store failures back the loop
// off exponentially up to a minute rather than hot-looping on a broken
// filesystem.
func (w *Worker) Run(ctx context.Context) error {
	backoff := w.interval
	for {
		if _, err := w.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Printf("worker: pass failed: %v", err)
			backoff *= 2
			if max := time.Minute; backoff > max {
				backoff = max
			}
		} else {
			backoff = w.interval
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		case <-w.wake: // nil when no watcher is attached, blocks forever
		}
	}
}
