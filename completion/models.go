package completion

import (
	"time"

	"signflow/document"
)

// Status is the state of a single recipient's portion.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Record tracks one recipient's portion of one document.
type Record struct {
	ID                string
	DocumentID        string
	RecipientIdentity string
	External          bool
	Token             string
	Status            Status
	FieldValues       map[string]any
	CaptureKey        string
	CompletedAt       *time.Time
	document.Audit
}

// SubmitRequest is a recipient's submission of their field values.
type SubmitRequest struct {
	DocumentID        string
	Token             string
	RecipientIdentity string
	FieldValues       map[string]any
}

// Receipt is returned for an accepted submission.
type Receipt struct {
	RecordID   string
	CaptureKey string
	Finalized  bool
}

// CompleteParams is the atomic write performed by a submission.
type CompleteParams struct {
	Token       string
	FieldValues map[string]any
	CaptureKey  string
	CompletedAt time.Time
}

// View is what a recipient sees when opening their completion link.
type View struct {
	DocumentID        string
	Title             string
	Fields            []document.Field
	CurrentRecipient  string
	External          bool
	Token             string
	ViewURL           string
	Status            document.Status
	ConsolidatedData  map[string]any
	RecipientComplete bool
}
