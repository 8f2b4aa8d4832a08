// Package watch turns filesystem notifications on the vault's compartment
// directories into task events. It exists so workers and the review console
// can react to a new document faster than their poll interval without ever
// trusting the notification alone; consumers still read the vault for truth.
package watch

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vaultship/greenlight/internal/bridge"
	"github.com/vaultship/greenlight/internal/vault"
)

const defaultDebounce = 500 * time.Millisecond

// Logger records watcher diagnostics.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Watcher observes every compartment directory under a vault root and
// forwards debounced change events to a processor. Editors and atomic
// renames produce bursts of notifications for one logical change, so
// events are held until a path stays quiet for the debounce window.
type Watcher struct {
	root      string
	processor bridge.EventProcessor
	debounce  time.Duration
	logger    Logger
	clock     func() time.Time

	notifier *fsnotify.Watcher
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// Option customizes watcher construction.
type Option func(*Watcher)

// WithDebounce overrides the quiet window before an event is forwarded.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(logger Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithClock allows tests to control event timestamps.
func WithClock(clock func() time.Time) Option {
	return func(w *Watcher) {
		if clock != nil {
			w.clock = clock
		}
	}
}

// New prepares a watcher over the vault rooted at root.
func New(root string, processor bridge.EventProcessor, opts ...Option) (*Watcher, error) {
	if processor == nil {
		return nil, fmt.Errorf("watch: processor is required")
	}
	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create notifier: %w", err)
	}
	w := &Watcher{
		root:      root,
		processor: processor,
		debounce:  defaultDebounce,
		logger:    nopLogger{},
		clock:     func() time.Time { return time.Now().UTC() },
		notifier:  notifier,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// Start registers every compartment directory and begins the event loop.
// The vault must be initialized first.
func (w *Watcher) Start() error {
	for _, c := range vault.Compartments {
		dir := filepath.Join(w.root, string(c))
		if err := w.notifier.Add(dir); err != nil {
			return fmt.Errorf("watch: add %s: %w", c, err)
		}
	}
	go w.loop()
	return nil
}

// Stop shuts the watcher down and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.notifier.Close()
	})
	<-w.done
}

func (w *Watcher) loop() {
	defer close(w.done)

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	pending := map[string]bridge.TaskEvent{}

	for {
		select {
		case <-w.stopCh:
			return

		case raw, ok := <-w.notifier.Events:
			if !ok {
				return
			}
			event, relevant := w.translate(raw)
			if !relevant {
				continue
			}
			// Later notifications for the same document replace
			// earlier ones; only the final state matters.
			pending[string(event.Compartment)+"/"+event.Name] = event
			timer.Reset(w.debounce)

		case <-timer.C:
			flush := pending
			pending = map[string]bridge.TaskEvent{}
			for _, event := range flush {
				if err := w.processor.HandleEvent(event); err != nil {
					w.logger.Printf("watch: processor error for %s: %v", event.Name, err)
				}
			}

		case err, ok := <-w.notifier.Errors:
			if !ok {
				return
			}
			w.logger.Printf("watch: notifier error: %v", err)
		}
	}
}

// translate maps one raw filesystem notification onto a task event, or
// reports it irrelevant. Hidden files and non-document files are skipped.
func (w *Watcher) translate(raw fsnotify.Event) (bridge.TaskEvent, bool) {
	name := filepath.Base(raw.Name)
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".md") {
		return bridge.TaskEvent{}, false
	}
	compartment := vault.Compartment(filepath.Base(filepath.Dir(raw.Name)))
	if !compartment.Valid() {
		return bridge.TaskEvent{}, false
	}

	var kind bridge.EventKind
	switch {
	case raw.Op.Has(fsnotify.Create):
		kind = bridge.EventCreated
	case raw.Op.Has(fsnotify.Write):
		kind = bridge.EventUpdated
	case raw.Op.Has(fsnotify.Rename) || raw.Op.Has(fsnotify.Remove):
		kind = bridge.EventRemoved
	default:
		return bridge.TaskEvent{}, false
	}

	return bridge.TaskEvent{
		Kind:        kind,
		Compartment: compartment,
		Name:        name,
		Time:        w.clock(),
	}, true
}
