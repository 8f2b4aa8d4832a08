package task

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingFrontMatter indicates the document did not start with a YAML fence.
	ErrMissingFrontMatter = errors.New("task: missing frontmatter")
	// ErrMalformedFrontMatter indicates the YAML block could not be parsed.
	ErrMalformedFrontMatter = errors.New("task: malformed frontmatter")
)

// ParseFrontMatter extracts the metadata block and body from a document that
// starts with `---` YAML fences.
func ParseFrontMatter(content []byte) (Metadata, []byte, error) {
	if len(content) == 0 {
		return Metadata{}, nil, ErrMissingFrontMatter
	}
	normalized := normalizeNewlines(content)
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return Metadata{}, nil, ErrMissingFrontMatter
	}
	rest := normalized[4:]
	parts := bytes.SplitN(rest, []byte("\n---\n"), 2)
	if len(parts) < 2 {
		return Metadata{}, nil, ErrMalformedFrontMatter
	}
	var envelope taskEnvelope
	if err := yaml.Unmarshal(parts[0], &envelope); err != nil {
		return Metadata{}, nil, fmt.Errorf("task: parse frontmatter: %w", err)
	}
	meta, err := envelope.toMetadata()
	if err != nil {
		return Metadata{}, nil, err
	}
	return meta, parts[1], nil
}

// WriteFrontMatter renders metadata + body with YAML fences.
func WriteFrontMatter(meta Metadata, body []byte) ([]byte, error) {
	if meta.ID == "" {
		return nil, fmt.Errorf("task: metadata missing id")
	}
	if meta.ActionType == "" {
		return nil, fmt.Errorf("task: metadata missing action type")
	}
	envelope := taskEnvelope{}
	envelope.fromMetadata(meta)
	data, err := yaml.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("task: encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(data, "\n"))
	buf.WriteString("\n---\n\n")
	buf.Write(body)
	return buf.Bytes(), nil
}

type taskEnvelope struct {
	ID                 string `yaml:"id"`
	Created            string `yaml:"created"`
	Source             string `yaml:"source,omitempty"`
	Priority           string `yaml:"priority,omitempty"`
	ActionType         string `yaml:"action_type"`
	Status             string `yaml:"status,omitempty"`
	Revision           int    `yaml:"revision"`
	Amount             any    `yaml:"amount,omitempty"`
	Counterparty       string `yaml:"counterparty,omitempty"`
	Approved           any    `yaml:"approved,omitempty"`
	ApprovedBy         string `yaml:"approved_by,omitempty"`
	ApprovedDate       string `yaml:"approved_date,omitempty"`
	PaymentApproved    any    `yaml:"payment_approved,omitempty"`
	NewContactApproved any    `yaml:"new_contact_approved,omitempty"`
	RetryCount         int    `yaml:"retry_count,omitempty"`
	Reason             string `yaml:"reason,omitempty"`

	Extra map[string]any `yaml:",inline"`
}

func (e taskEnvelope) toMetadata() (Metadata, error) {
	if e.ID == "" || e.ActionType == "" {
		return Metadata{}, ErrMalformedFrontMatter
	}
	if e.Revision < 1 {
		return Metadata{}, fmt.Errorf("task: revision must be positive: %w", ErrMalformedFrontMatter)
	}
	created, err := parseTime(e.Created)
	if err != nil {
		return Metadata{}, fmt.Errorf("task: parse created timestamp: %w", err)
	}
	return Metadata{
		ID:                 e.ID,
		Created:            created,
		Source:             e.Source,
		Priority:           e.Priority,
		ActionType:         e.ActionType,
		Status:             e.Status,
		Revision:           e.Revision,
		Amount:             e.Amount,
		Counterparty:       e.Counterparty,
		Approved:           e.Approved,
		ApprovedBy:         e.ApprovedBy,
		ApprovedDate:       e.ApprovedDate,
		PaymentApproved:    e.PaymentApproved,
		NewContactApproved: e.NewContactApproved,
		RetryCount:         e.RetryCount,
		Reason:             e.Reason,
		Extra:              cloneExtra(e.Extra),
	}, nil
}

func (e *taskEnvelope) fromMetadata(meta Metadata) {
	e.ID = meta.ID
	e.Created = meta.Created.UTC().Format(timeLayout)
	e.Source = meta.Source
	e.Priority = meta.Priority
	e.ActionType = meta.ActionType
	e.Status = meta.Status
	e.Revision = meta.Revision
	e.Amount = meta.Amount
	e.Counterparty = meta.Counterparty
	e.Approved = meta.Approved
	e.ApprovedBy = meta.ApprovedBy
	e.ApprovedDate = meta.ApprovedDate
	e.PaymentApproved = meta.PaymentApproved
	e.NewContactApproved = meta.NewContactApproved
	e.RetryCount = meta.RetryCount
	e.Reason = meta.Reason
	e.Extra = cloneExtra(meta.Extra)
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func parseTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("task: empty created timestamp")
	}
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func normalizeNewlines(content []byte) []byte {
	return bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
}
