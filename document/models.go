package document

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a document.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusCompleted Status = "completed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusCompleted:
		return true
	default:
		return false
	}
}

// CanAdvanceTo reports whether the lifecycle allows moving from s to next.
// Status only moves forward and completed is terminal.
func (s Status) CanAdvanceTo(next Status) bool {
	switch s {
	case StatusDraft:
		return next == StatusPublished
	case StatusPublished:
		return next == StatusCompleted
	default:
		return false
	}
}

// Audit carries bookkeeping timestamps shared by persisted entities.
type Audit struct {
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Touch stamps the audit fields for a write happening at now.
func (a *Audit) Touch(now time.Time) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
}

// Field is a fillable region on a page, owned by a single recipient.
type Field struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	RecipientID string  `json:"recipientId"`
	Page        int     `json:"page"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	Required    bool    `json:"required,omitempty"`
}

// Recipient is a party the document is distributed to.
type Recipient struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	External bool   `json:"isExternal"`
}

// Identity is the key completion records are stored under: the email for
// external recipients and the internal user id otherwise.
func (r Recipient) Identity() string {
	if r.External || strings.TrimSpace(r.ID) == "" {
		return strings.TrimSpace(r.Email)
	}
	return r.ID
}

// DisplayName is the name used in mail greetings and clone titles.
func (r Recipient) DisplayName() string {
	if name := strings.TrimSpace(r.Name); name != "" {
		return name
	}
	return "User"
}

// Document is the template being completed by its recipients.
type Document struct {
	ID          string
	Title       string
	OwnerID     string
	BlobKey     string
	Pages       int
	Type        string
	Fields      []Field
	Recipients  []Recipient
	Status      Status
	CompletedAt *time.Time
	Audit
}

// HasRecipient reports whether identity belongs to the roster.
func (d Document) HasRecipient(identity string) bool {
	for _, r := range d.Recipients {
		if r.Identity() == identity {
			return true
		}
	}
	return false
}

// RosterComplete reports whether every roster identity appears in completed.
// Identities outside the roster are ignored. An empty roster is never complete.
func (d Document) RosterComplete(completed []string) bool {
	if len(d.Recipients) == 0 {
		return false
	}
	done := make(map[string]struct{}, len(completed))
	for _, identity := range completed {
		if d.HasRecipient(identity) {
			done[identity] = struct{}{}
		}
	}
	for _, r := range d.Recipients {
		if _, ok := done[r.Identity()]; !ok {
			return false
		}
	}
	return true
}

// MetadataPatch carries a partial update. Zero values mean "leave unchanged".
type MetadataPatch struct {
	BlobKey    string
	Pages      int
	Type       string
	Fields     []Field
	Recipients []Recipient
	Status     Status
}

// CreateParams contains the caller supplied values for a new document.
type CreateParams struct {
	Title   string
	OwnerID string
}
