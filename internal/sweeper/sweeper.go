// Package sweeper is the crash-recovery mechanism. There is no lease or
// heartbeat protocol: a worker that dies simply leaves its claimed document
// behind in a transient compartment, and the sweeper infers abandonment
// purely from the document's last-modified time.
package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/vaultship/greenlight/internal/engine"
	"github.com/vaultship/greenlight/internal/task"
	"github.com/vaultship/greenlight/internal/vault"
)

// Logger receives progress lines from the sweeper.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Sweeper reclaims stale documents from transient compartments. Documents
// under the retry ceiling go back to Inbox with reason=stale_claim; those
// at the ceiling escalate to NeedsAction and never re-enter the pipeline
// on their own.
type Sweeper struct {
	engine     *engine.Engine
	staleAfter time.Duration
	maxRetries int
	interval   time.Duration
	logger     Logger
	now        func() time.Time
}

// Option customizes a Sweeper during construction.
type Option func(*Sweeper)

// WithLogger attaches a progress logger.
func WithLogger(logger Logger) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the staleness clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(s *Sweeper) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithInterval sets the poll interval for Run.
func WithInterval(interval time.Duration) Option {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// New builds a sweeper over an engine.
func New(eng *engine.Engine, staleAfter time.Duration, maxRetries int, opts ...Option) *Sweeper {
	s := &Sweeper{
		engine:     eng,
		staleAfter: staleAfter,
		maxRetries: maxRetries,
		interval:   time.Minute,
		logger:     nopLogger{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep scans the transient compartments once and reclaims every stale
// document. It returns the number reclaimed (returned or escalated). A
// document that moves or changes underneath the sweep is simply skipped;
// it will be seen again on the next pass if it is genuinely stuck.
func (s *Sweeper) Sweep() (int, error) {
	store := s.engine.Store()
	cutoff := s.now().Add(-s.staleAfter)
	reclaimed := 0
	for _, c := range vault.Compartments {
		if !c.Transient() {
			continue
		}
		entries, err := store.List(c)
		if err != nil {
			return reclaimed, err
		}
		for _, entry := range entries {
			if entry.ModTime.After(cutoff) {
				continue
			}
			if s.reclaim(c, entry.Name) {
				reclaimed++
			}
		}
	}
	return reclaimed, nil
}

func (s *Sweeper) reclaim(c vault.Compartment, name string) bool {
	store := s.engine.Store()
	doc, err := task.Load(store, c, name)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			return false // moved on since the listing
		}
		// Stale and unreadable or self-contradictory: a transition that
		// crashed between its patch and its move, or a corrupted hand
		// edit. Neither is safe to replay, and skipping would strand the
		// document in a transient compartment forever.
		reason := "unreadable"
		if errors.Is(err, task.ErrStateMismatch) {
			reason = "status does not match compartment"
		}
		if qErr := s.engine.Quarantine(name, c, reason); qErr != nil {
			s.logger.Printf("sweeper: quarantine %s from %s failed: %v", name, c, qErr)
			return false
		}
		return true
	}
	trigger := engine.TriggerStale
	if doc.Meta.RetryCount >= s.maxRetries {
		trigger = engine.TriggerEscalate
	}
	if err := s.engine.Apply(doc, trigger, nil); err != nil {
		if errors.Is(err, vault.ErrNotFound) || errors.Is(err, task.ErrStaleRevision) {
			return false // a live worker beat us to it
		}
		s.logger.Printf("sweeper: reclaim %s from %s failed: %v", name, c, err)
		return false
	}
	s.logger.Printf("sweeper: %s %s -> %s (retry %d)", doc.Meta.ID, c, doc.Compartment, doc.Meta.RetryCount)
	return true
}

// Run sweeps on a fixed interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(); err != nil {
			s.logger.Printf("sweeper: sweep failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
