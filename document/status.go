package document

import (
	"fmt"
	"strings"

	"signflow/errs"
)

var (
	// ErrNotFound signals an unknown document id.
	ErrNotFound = errs.New(errs.KindNotFound, "document: not found")
	// ErrDuplicateTitle signals a concurrent writer took the title first.
	ErrDuplicateTitle = errs.New(errs.KindConflict, "document: title already exists")
	// ErrStatusConflict signals a transition the lifecycle does not allow.
	ErrStatusConflict = errs.New(errs.KindConflict, "document: status transition not allowed")
	// ErrCompleted signals a write against a completed document.
	ErrCompleted = errs.New(errs.KindConflict, "document: document is completed")
	// ErrRosterFixed signals a recipient or field change after publish.
	ErrRosterFixed = errs.New(errs.KindConflict, "document: recipients and fields are fixed once published")
)

// Apply merges the non-empty fields of patch into d. Status is never moved
// by a patch: asking for a status other than the current one is a conflict.
// Recipients and fields may only change while the document is a draft.
func (d Document) Apply(patch MetadataPatch) (Document, error) {
	if d.Status == StatusCompleted {
		return Document{}, ErrCompleted
	}
	if d.Status == StatusPublished && (len(patch.Recipients) > 0 || len(patch.Fields) > 0) {
		return Document{}, ErrRosterFixed
	}
	if patch.Status != "" && patch.Status != d.Status {
		return Document{}, errs.Wrap(errs.KindConflict,
			fmt.Sprintf("document: status %s -> %s must go through the lifecycle", d.Status, patch.Status),
			ErrStatusConflict)
	}

	if key := strings.TrimSpace(patch.BlobKey); key != "" {
		d.BlobKey = key
	}
	if patch.Pages > 0 {
		d.Pages = patch.Pages
	}
	if typ := strings.TrimSpace(patch.Type); typ != "" {
		d.Type = typ
	}
	if len(patch.Fields) > 0 {
		d.Fields = append([]Field(nil), patch.Fields...)
	}
	if len(patch.Recipients) > 0 {
		d.Recipients = append([]Recipient(nil), patch.Recipients...)
	}
	return d, nil
}

// ValidateForPublish checks the roster before any side effect happens.
func (d Document) ValidateForPublish() error {
	if len(d.Recipients) == 0 {
		return errs.New(errs.KindValidation, "document: no recipients to publish to")
	}
	for i, r := range d.Recipients {
		if strings.TrimSpace(r.Email) == "" {
			return errs.New(errs.KindValidation, fmt.Sprintf("document: recipient %d has no email", i))
		}
	}
	return nil
}
