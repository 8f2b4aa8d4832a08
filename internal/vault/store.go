// Package vault is the durable home of task documents. Compartments are
// named buckets; the only mutation primitives are atomic create-or-fail and
// atomic move-or-fail, which is deliberately the entire concurrency model:
// any backend that offers those two primitives (a directory tree, an object
// store with conditional put, a KV store with put-if-absent) can host the
// claim protocol without locks or leases.
package vault

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	// ErrExists indicates an exclusive create lost to an existing document.
	ErrExists = errors.New("vault: document already exists")
	// ErrNotFound indicates the named document is absent from the compartment.
	ErrNotFound = errors.New("vault: document not found")
)

// Entry describes one document as listed from a compartment.
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Store is the durable-store contract the engine coordinates over.
//
// CreateExclusive and Move are the two atomic primitives: both fail rather
// than overwrite, and when two callers race over the same source document
// exactly one Move succeeds while the loser observes ErrNotFound.
// Replace is only legal for documents the caller owns exclusively (claimed
// into a worker-held compartment); the store cannot enforce that, the
// protocol does.
type Store interface {
	Init() error
	CreateExclusive(c Compartment, name string, data []byte) error
	Move(name string, from, to Compartment) error
	Read(c Compartment, name string) ([]byte, error)
	Replace(c Compartment, name string, data []byte) error
	List(c Compartment) ([]Entry, error)
	Stat(c Compartment, name string) (Entry, error)
	Locate(name string) (Compartment, bool, error)
}

// Dir implements Store on a directory tree: one subdirectory per compartment,
// one file per document. Atomicity comes from link(2) and rename(2).
type Dir struct {
	root string
	now  func() time.Time
}

// DirOption customizes a Dir during construction.
type DirOption func(*Dir)

// WithClock overrides the clock used for staging names (primarily for tests).
func WithClock(clock func() time.Time) DirOption {
	return func(d *Dir) {
		if clock != nil {
			d.now = clock
		}
	}
}

// NewDir builds a filesystem-backed store rooted at the vault directory.
func NewDir(root string, opts ...DirOption) *Dir {
	d := &Dir{root: filepath.Clean(root), now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Root returns the vault root directory.
func (d *Dir) Root() string {
	return d.root
}

// Init creates the compartment directories and the hidden staging area.
func (d *Dir) Init() error {
	for _, c := range Compartments {
		if err := os.MkdirAll(d.compartmentDir(c), 0o755); err != nil {
			return fmt.Errorf("vault: ensure %s: %w", c, err)
		}
	}
	if err := os.MkdirAll(d.stagingDir(), 0o755); err != nil {
		return fmt.Errorf("vault: ensure staging dir: %w", err)
	}
	return nil
}

// CreateExclusive publishes a fully-written document into a compartment.
// The content is staged invisibly first and linked into place with
// create-or-fail semantics, so a reader can never observe a half-written
// document and two racing producers cannot both win the same name.
func (d *Dir) CreateExclusive(c Compartment, name string, data []byte) error {
	if err := validateName(name); err != nil {
		return err
	}
	if !c.Valid() {
		return fmt.Errorf("vault: unknown compartment %q", c)
	}
	staged := filepath.Join(d.stagingDir(), fmt.Sprintf("%s.%d", name, d.now().UnixNano()))
	if err := os.MkdirAll(d.stagingDir(), 0o755); err != nil {
		return fmt.Errorf("vault: ensure staging dir: %w", err)
	}
	if err := os.WriteFile(staged, data, 0o644); err != nil {
		return fmt.Errorf("vault: stage %s: %w", name, err)
	}
	defer os.Remove(staged)
	target := d.documentPath(c, name)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("vault: ensure %s: %w", c, err)
	}
	if err := os.Link(staged, target); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("vault: create %s in %s: %w", name, c, ErrExists)
		}
		return fmt.Errorf("vault: create %s in %s: %w", name, c, err)
	}
	return nil
}

// Move atomically relocates a document between compartments. When two
// callers race over the same source, rename(2) guarantees exactly one wins;
// the loser gets ErrNotFound because the source vanished underneath it.
func (d *Dir) Move(name string, from, to Compartment) error {
	if err := validateName(name); err != nil {
		return err
	}
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("vault: unknown compartment in move %s -> %s", from, to)
	}
	src := d.documentPath(from, name)
	dst := d.documentPath(to, name)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("vault: ensure %s: %w", to, err)
	}
	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("vault: move %s from %s: %w", name, from, ErrNotFound)
		}
		return fmt.Errorf("vault: move %s from %s to %s: %w", name, from, to, err)
	}
	return nil
}

// Read returns the full contents of a document.
func (d *Dir) Read(c Compartment, name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(d.documentPath(c, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("vault: read %s in %s: %w", name, c, ErrNotFound)
		}
		return nil, fmt.Errorf("vault: read %s in %s: %w", name, c, err)
	}
	return data, nil
}

// Replace atomically overwrites a document the caller owns. The new content
// is staged and renamed over the old file so readers see either the previous
// or the next revision, never a torn write.
func (d *Dir) Replace(c Compartment, name string, data []byte) error {
	if err := validateName(name); err != nil {
		return err
	}
	if _, err := os.Stat(d.documentPath(c, name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("vault: replace %s in %s: %w", name, c, ErrNotFound)
		}
		return fmt.Errorf("vault: replace %s in %s: %w", name, c, err)
	}
	staged := filepath.Join(d.stagingDir(), fmt.Sprintf("%s.%d", name, d.now().UnixNano()))
	if err := os.MkdirAll(d.stagingDir(), 0o755); err != nil {
		return fmt.Errorf("vault: ensure staging dir: %w", err)
	}
	if err := os.WriteFile(staged, data, 0o644); err != nil {
		return fmt.Errorf("vault: stage %s: %w", name, err)
	}
	if err := os.Rename(staged, d.documentPath(c, name)); err != nil {
		os.Remove(staged)
		return fmt.Errorf("vault: replace %s in %s: %w", name, c, err)
	}
	return nil
}

// List returns the documents in a compartment ordered by name.
func (d *Dir) List(c Compartment) ([]Entry, error) {
	entries, err := os.ReadDir(d.compartmentDir(c))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("vault: list %s: %w", c, err)
	}
	var docs []Entry
	for _, entry := range entries {
		if entry.IsDir() || hidden(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue // moved between readdir and stat
			}
			return nil, fmt.Errorf("vault: list %s: %w", c, err)
		}
		docs = append(docs, Entry{Name: entry.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}

// Stat returns the listing entry for a single document.
func (d *Dir) Stat(c Compartment, name string) (Entry, error) {
	if err := validateName(name); err != nil {
		return Entry{}, err
	}
	info, err := os.Stat(d.documentPath(c, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Entry{}, fmt.Errorf("vault: stat %s in %s: %w", name, c, ErrNotFound)
		}
		return Entry{}, fmt.Errorf("vault: stat %s in %s: %w", name, c, err)
	}
	return Entry{Name: name, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Locate scans the compartments for a document name. Used to distinguish a
// lost claim race (document moved elsewhere) from a document that never
// existed.
func (d *Dir) Locate(name string) (Compartment, bool, error) {
	if err := validateName(name); err != nil {
		return "", false, err
	}
	for _, c := range Compartments {
		_, err := os.Stat(d.documentPath(c, name))
		if err == nil {
			return c, true, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", false, fmt.Errorf("vault: locate %s: %w", name, err)
		}
	}
	return "", false, nil
}

func (d *Dir) compartmentDir(c Compartment) string {
	return filepath.Join(d.root, string(c))
}

func (d *Dir) stagingDir() string {
	return filepath.Join(d.root, ".staging")
}

func (d *Dir) documentPath(c Compartment, name string) string {
	return filepath.Join(d.compartmentDir(c), name)
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("vault: document name is required")
	}
	if name != filepath.Base(name) || name == "." || name == ".." {
		return fmt.Errorf("vault: invalid document name %q", name)
	}
	return nil
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~")
}
