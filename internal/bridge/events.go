// Package bridge is the outward face of the vault: a fanout router that
// delivers vault change notifications to in-process subscribers, and an
// HTTP server exposing task intake and read-only views over the store and
// the audit log.
package bridge

import (
	"fmt"
	"strings"
	"time"

	"github.com/vaultship/greenlight/internal/vault"
)

// EventKind classifies a vault change notification.
type EventKind string

const (
	// EventCreated fires when a document appears in a compartment.
	EventCreated EventKind = "created"
	// EventUpdated fires when a document is rewritten in place.
	EventUpdated EventKind = "updated"
	// EventRemoved fires when a document leaves a compartment.
	EventRemoved EventKind = "removed"
)

// TaskEvent is one vault change notification.
type TaskEvent struct {
	Kind        EventKind
	Compartment vault.Compartment
	Name        string
	Time        time.Time
}

// ID returns a dedupe key for the event.
func (e TaskEvent) ID() string {
	return fmt.Sprintf("%s|%s|%s|%d", e.Kind, e.Compartment, e.Name, e.Time.UnixNano())
}

// EventProcessor consumes vault events.
type EventProcessor interface {
	HandleEvent(TaskEvent) error
}

// EventProcessorFunc adapts a function into an EventProcessor.
type EventProcessorFunc func(TaskEvent) error

// HandleEvent executes f(e).
func (f EventProcessorFunc) HandleEvent(e TaskEvent) error {
	if f == nil {
		return nil
	}
	return f(e)
}

// Logger records bridge status information. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

func normalizeCompartment(c vault.Compartment) string {
	return strings.TrimSpace(string(c))
}
