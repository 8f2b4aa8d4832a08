package task

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vaultship/greenlight/internal/vault"
)

// ErrStaleRevision indicates a metadata patch was based on a revision that
// is no longer current. The caller re-reads and retries.
var ErrStaleRevision = errors.New("task: stale revision")

// ErrStateMismatch indicates a document's status field disagrees with the
// compartment it was read from. Neither side is trusted over the other;
// callers escalate the document instead of picking a winner.
var ErrStateMismatch = errors.New("task: status does not match compartment")

// statusCompartments lists where each status may legitimately be observed.
// Transitions patch metadata and move the file as two separate renames, so
// each status also tolerates the compartments a document passes through
// mid-transition: a claim moves first and patches after, every other
// transition patches first and moves after.
var statusCompartments = map[string]map[vault.Compartment]bool{
	"new":              {vault.Inbox: true, vault.InProgress: true, vault.PendingApproval: true},
	"in_progress":      {vault.InProgress: true},
	"pending_approval": {vault.PendingApproval: true, vault.InProgress: true},
	"approved":         {vault.Approved: true, vault.PendingApproval: true, vault.InProgress: true},
	"rejected":         {vault.Rejected: true, vault.PendingApproval: true},
	"executing":        {vault.InProgress: true},
	"done":             {vault.Done: true, vault.InProgress: true},
	"failed":           {vault.Failed: true, vault.InProgress: true},
	"needs_action":     {vault.NeedsAction: true, vault.InProgress: true, vault.PendingApproval: true},
}

// CheckPlacement verifies that a status field agrees with the compartment
// it was read from. NeedsAction accepts any status: documents land there
// precisely because their metadata is in dispute, and constraining it
// would make quarantined documents unreadable. Unknown statuses never
// agree anywhere else.
func CheckPlacement(status string, c vault.Compartment) error {
	if c == vault.NeedsAction {
		return nil
	}
	if statusCompartments[status][c] {
		return nil
	}
	return fmt.Errorf("task: status %q read from %s: %w", status, c, ErrStateMismatch)
}

// Document is a task as read from the vault: its file name, the compartment
// it was found in, and the decoded frontmatter and body.
type Document struct {
	Name        string
	Compartment vault.Compartment
	Meta        Metadata
	Body        []byte
}

// Patch is a sparse metadata update keyed by frontmatter field name.
// Unknown keys land in Extra rather than being rejected, so operators can
// annotate documents without a schema change.
type Patch map[string]any

// NewID returns a fresh task identifier.
func NewID() string {
	return uuid.NewString()
}

// FileName derives the vault file name for a task id.
func FileName(id string) string {
	return id + ".md"
}

// New assembles a first-revision document ready for CreateExclusive.
func New(actionType, source string, body []byte, now time.Time) *Document {
	id := NewID()
	return &Document{
		Name: FileName(id),
		Meta: Metadata{
			ID:         id,
			Created:    now.UTC(),
			Source:     source,
			ActionType: actionType,
			Status:     "new",
			Revision:   1,
		},
		Body: body,
	}
}

// Encode renders the document as frontmatter + body.
func (d *Document) Encode() ([]byte, error) {
	return WriteFrontMatter(d.Meta, d.Body)
}

// Load reads and decodes a document from a compartment. The compartment is
// derived from where the file physically lives and is cross-checked against
// the status field on every read; a document whose two sides disagree is
// rejected with ErrStateMismatch rather than returned.
func Load(store vault.Store, c vault.Compartment, name string) (*Document, error) {
	data, err := store.Read(c, name)
	if err != nil {
		return nil, err
	}
	meta, body, err := ParseFrontMatter(data)
	if err != nil {
		return nil, fmt.Errorf("task: load %s from %s: %w", name, c, err)
	}
	if err := CheckPlacement(meta.Status, c); err != nil {
		return nil, err
	}
	return &Document{Name: name, Compartment: c, Meta: meta, Body: body}, nil
}

// Update applies a metadata patch to the document and replaces it in its
// compartment. The write is optimistic: the document is re-read first, and
// if its revision moved past the revision the caller saw the patch is
// abandoned with ErrStaleRevision. This does not close the window entirely
// (two writers can still interleave between read and replace), which is why
// the protocol only permits Update on documents the caller has claimed.
func Update(store vault.Store, doc *Document, patch Patch) error {
	current, err := Load(store, doc.Compartment, doc.Name)
	if err != nil {
		return err
	}
	if current.Meta.Revision != doc.Meta.Revision {
		return fmt.Errorf("task: update %s: read revision %d, current %d: %w",
			doc.Name, doc.Meta.Revision, current.Meta.Revision, ErrStaleRevision)
	}
	next := current.Meta.Clone()
	if err := applyPatch(&next, patch); err != nil {
		return err
	}
	next.Revision = current.Meta.Revision + 1
	encoded, err := WriteFrontMatter(next, current.Body)
	if err != nil {
		return err
	}
	if err := store.Replace(doc.Compartment, doc.Name, encoded); err != nil {
		return err
	}
	doc.Meta = next
	doc.Body = current.Body
	return nil
}

func applyPatch(meta *Metadata, patch Patch) error {
	for key, value := range patch {
		switch key {
		case "status":
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("task: patch status must be a string, got %T", value)
			}
			meta.Status = s
		case "priority":
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("task: patch priority must be a string, got %T", value)
			}
			meta.Priority = s
		case "reason":
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("task: patch reason must be a string, got %T", value)
			}
			meta.Reason = s
		case "retry_count":
			n, ok := value.(int)
			if !ok {
				return fmt.Errorf("task: patch retry_count must be an int, got %T", value)
			}
			meta.RetryCount = n
		case "approved":
			meta.Approved = value
		case "approved_by":
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("task: patch approved_by must be a string, got %T", value)
			}
			meta.ApprovedBy = s
		case "approved_date":
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("task: patch approved_date must be a string, got %T", value)
			}
			meta.ApprovedDate = s
		case "payment_approved":
			meta.PaymentApproved = value
		case "new_contact_approved":
			meta.NewContactApproved = value
		case "amount":
			meta.Amount = value
		case "counterparty":
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("task: patch counterparty must be a string, got %T", value)
			}
			meta.Counterparty = s
		case "id", "created", "action_type", "revision":
			return fmt.Errorf("task: field %q is immutable", key)
		default:
			if meta.Extra == nil {
				meta.Extra = make(map[string]any)
			}
			meta.Extra[key] = value
		}
	}
	return nil
}
