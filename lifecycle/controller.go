// Package lifecycle owns document status and the publish fan-out.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"signflow/completion"
	"signflow/document"
	"signflow/errs"
	"signflow/notify"
	"signflow/objectstore"
)

// Tracker is the completion surface the controller fans out to.
type Tracker interface {
	CreatePending(ctx context.Context, documentID, recipientIdentity string, external bool) (completion.Record, error)
	Consolidated(ctx context.Context, documentID string) (map[string]any, error)
}

// URLSigner produces presigned blob URLs.
type URLSigner interface {
	PresignedUploadURL(ctx context.Context, key string) (string, error)
	PresignedDownloadURL(ctx context.Context, key string) (string, error)
}

const (
	titleAttempts          = 5
	defaultBulkConcurrency = 4
)

// Controller drives documents through draft, published and completed.
type Controller struct {
	documents       document.Repository
	tracker         Tracker
	signer          URLSigner
	notifier        notify.Notifier
	links           notify.Links
	log             zerolog.Logger
	idGenerator     func() string
	now             func() time.Time
	bulkConcurrency int
}

func NewController(documents document.Repository, tracker Tracker, signer URLSigner, notifier notify.Notifier, links notify.Links) *Controller {
	return &Controller{
		documents:       documents,
		tracker:         tracker,
		signer:          signer,
		notifier:        notifier,
		links:           links,
		log:             zerolog.Nop(),
		idGenerator:     func() string { return uuid.NewString() },
		now:             time.Now,
		bulkConcurrency: defaultBulkConcurrency,
	}
}

func (c *Controller) WithIDGenerator(gen func() string) *Controller {
	c.idGenerator = gen
	return c
}

func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

func (c *Controller) WithLogger(log zerolog.Logger) *Controller {
	c.log = log.With().Str("component", "lifecycle").Logger()
	return c
}

// WithBulkConcurrency bounds how many clones a bulk publish builds at once.
func (c *Controller) WithBulkConcurrency(n int) *Controller {
	if n > 0 {
		c.bulkConcurrency = n
	}
	return c
}

// CreateDocument stores a new draft under a collision-free title.
func (c *Controller) CreateDocument(ctx context.Context, params document.CreateParams) (document.Document, error) {
	if strings.TrimSpace(params.OwnerID) == "" {
		return document.Document{}, errs.New(errs.KindValidation, "lifecycle: owner id required")
	}
	doc := document.Document{
		ID:      c.idGenerator(),
		Title:   document.NormalizeTitle(params.Title),
		OwnerID: params.OwnerID,
		Status:  document.StatusDraft,
	}
	return c.createWithUniqueTitle(ctx, doc)
}

func (c *Controller) createWithUniqueTitle(ctx context.Context, doc document.Document) (document.Document, error) {
	base := doc.Title
	doc.Touch(c.now())
	for attempt := 0; attempt < titleAttempts; attempt++ {
		taken, err := c.documents.TitlesWithPrefix(ctx, base)
		if err != nil {
			return document.Document{}, err
		}
		doc.Title = document.ResolveTitle(base, taken)

		created, err := c.documents.Create(ctx, doc)
		if errors.Is(err, document.ErrDuplicateTitle) {
			continue
		}
		if err != nil {
			return document.Document{}, err
		}
		return created, nil
	}
	return document.Document{}, errs.Wrap(errs.KindConflict,
		fmt.Sprintf("lifecycle: could not reserve a title for %q", base), document.ErrDuplicateTitle)
}

// UpdateMetadata applies a partial update.
func (c *Controller) UpdateMetadata(ctx context.Context, id string, patch document.MetadataPatch) (document.Document, error) {
	doc, err := c.documents.Get(ctx, id)
	if err != nil {
		return document.Document{}, err
	}
	patched, err := doc.Apply(patch)
	if err != nil {
		return document.Document{}, err
	}
	patched.Touch(c.now())
	return c.documents.Update(ctx, patched)
}

// Get returns a document by id.
func (c *Controller) Get(ctx context.Context, id string) (document.Document, error) {
	return c.documents.Get(ctx, id)
}

// List returns documents in any of statuses, or every document when none
// are given.
func (c *Controller) List(ctx context.Context, statuses ...document.Status) ([]document.Document, error) {
	return c.documents.ListByStatus(ctx, statuses...)
}

// Consolidated returns the merged field values of a document.
func (c *Controller) Consolidated(ctx context.Context, id string) (map[string]any, error) {
	if _, err := c.documents.Get(ctx, id); err != nil {
		return nil, err
	}
	return c.tracker.Consolidated(ctx, id)
}

// UploadURL presigns an upload of fileName as the document's source blob.
// The caller records the returned key through UpdateMetadata.
func (c *Controller) UploadURL(ctx context.Context, id, fileName string) (UploadTarget, error) {
	if strings.TrimSpace(fileName) == "" {
		return UploadTarget{}, errs.New(errs.KindValidation, "lifecycle: file name required")
	}
	if _, err := c.documents.Get(ctx, id); err != nil {
		return UploadTarget{}, err
	}
	key := objectstore.DesignerKey(id, fileName)
	url, err := c.signer.PresignedUploadURL(ctx, key)
	if err != nil {
		return UploadTarget{}, errs.Wrap(errs.KindStorage, "lifecycle: presign upload", err)
	}
	return UploadTarget{URL: url, Key: key}, nil
}

// ViewURL presigns a download of the document's source blob.
func (c *Controller) ViewURL(ctx context.Context, id string) (string, error) {
	doc, err := c.documents.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if doc.BlobKey == "" {
		return "", errs.New(errs.KindNotFound, "lifecycle: document has no blob")
	}
	url, err := c.signer.PresignedDownloadURL(ctx, doc.BlobKey)
	if err != nil {
		return "", errs.Wrap(errs.KindStorage, "lifecycle: presign download", err)
	}
	return url, nil
}
