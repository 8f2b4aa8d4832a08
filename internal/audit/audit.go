// Package audit keeps the append-only record of every transition attempt.
// Entries are JSON lines appended with O_APPEND whole-record writes and
// chained per writer with a SHA-256 hash, so tampering with or truncating a
// writer's history is detectable after the fact.
package audit

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Outcome classifies how a transition attempt ended.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeRejected  Outcome = "rejected"
	OutcomeError     Outcome = "error"
)

// Entry is one immutable audit record. Hash chains the entry to the writer's
// previous record; PrevHash is empty for a writer's first record.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	TaskID    string    `json:"task_id"`
	From      string    `json:"transition_from"`
	To        string    `json:"transition_to"`
	Actor     string    `json:"actor"`
	Outcome   Outcome   `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	PrevHash  string    `json:"prev_hash,omitempty"`
	Hash      string    `json:"hash"`
}

// Filter narrows an Entries scan. Zero values match everything.
type Filter struct {
	TaskID string
	Actor  string
	Since  time.Time
	Until  time.Time
}

func (f Filter) matches(e Entry) bool {
	if f.TaskID != "" && e.TaskID != f.TaskID {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// ErrChainBroken indicates VerifyChain found a record whose hash does not
// match its content or whose prev_hash does not match its predecessor.
var ErrChainBroken = errors.New("audit: hash chain broken")

// Log appends entries for a single writer process. Multiple processes may
// append to the same file; each maintains its own chain, distinguished by
// actor, and O_APPEND keeps whole-record writes from interleaving.
type Log struct {
	path  string
	actor string
	now   func() time.Time

	mu       sync.Mutex
	lastHash string
}

// Option customizes a Log during construction.
type Option func(*Log)

// WithClock overrides the timestamp clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(l *Log) {
		if clock != nil {
			l.now = clock
		}
	}
}

// Open prepares an append-only log at path for the given actor. The file is
// scanned once to seed the actor's chain from its last record.
func Open(path, actor string, opts ...Option) (*Log, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, fmt.Errorf("audit: actor is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: ensure log dir: %w", err)
	}
	l := &Log{path: path, actor: actor, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	last, err := lastHashFor(path, actor)
	if err != nil {
		return nil, err
	}
	l.lastHash = last
	return l, nil
}

// Path returns the file backing this log.
func (l *Log) Path() string {
	return l.path
}

// Record appends one entry. The timestamp, actor, chain link, and hash are
// filled in here; callers supply only the transition facts.
func (l *Log) Record(taskID, from, to string, outcome Outcome, reason string) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := Entry{
		Timestamp: l.now().UTC(),
		TaskID:    taskID,
		From:      from,
		To:        to,
		Actor:     l.actor,
		Outcome:   outcome,
		Reason:    reason,
		PrevHash:  l.lastHash,
	}
	entry.Hash = hashEntry(entry)
	line, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: encode entry: %w", err)
	}
	line = append(line, '\n')
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: open log: %w", err)
	}
	defer file.Close()
	if _, err := file.Write(line); err != nil {
		return Entry{}, fmt.Errorf("audit: append entry: %w", err)
	}
	l.lastHash = entry.Hash
	return entry, nil
}

// Entries reads the log and returns records matching the filter, in file
// order.
func Entries(path string, filter Filter) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: open log: %w", err)
	}
	defer file.Close()
	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("audit: decode entry: %w", err)
		}
		if filter.matches(entry) {
			entries = append(entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan log: %w", err)
	}
	return entries, nil
}

// VerifyChain recomputes every record's hash and walks each actor's chain.
// It returns the number of verified records, or ErrChainBroken at the first
// record that fails.
func VerifyChain(path string) (int, error) {
	entries, err := Entries(path, Filter{})
	if err != nil {
		return 0, err
	}
	lastByActor := make(map[string]string)
	for i, entry := range entries {
		want := hashEntry(entry)
		if entry.Hash != want {
			return i, fmt.Errorf("audit: record %d content hash mismatch: %w", i, ErrChainBroken)
		}
		if prev := lastByActor[entry.Actor]; entry.PrevHash != prev {
			return i, fmt.Errorf("audit: record %d chain link mismatch for %s: %w", i, entry.Actor, ErrChainBroken)
		}
		lastByActor[entry.Actor] = entry.Hash
	}
	return len(entries), nil
}

// hashEntry digests every field except Hash itself, in a fixed order.
func hashEntry(e Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s|%s|%s",
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.TaskID, e.From, e.To, e.Actor, e.Outcome, e.Reason, e.PrevHash)
	return hex.EncodeToString(h.Sum(nil))
}

func lastHashFor(path, actor string) (string, error) {
	entries, err := Entries(path, Filter{Actor: actor})
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", nil
	}
	return entries[len(entries)-1].Hash, nil
}
