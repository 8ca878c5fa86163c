// Package completion tracks each recipient's portion of a published document.
package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"signflow/document"
	"signflow/errs"
	"signflow/objectstore"
	"signflow/token"
)

// DocumentReader loads documents.
type DocumentReader interface {
	Get(ctx context.Context, id string) (document.Document, error)
}

// BlobStore is the object store surface a submission touches.
type BlobStore interface {
	Copy(ctx context.Context, srcKey, dstKey string) error
	PresignedDownloadURL(ctx context.Context, key string) (string, error)
}

// TokenIssuer mints capability tokens.
type TokenIssuer interface {
	Issue() (string, error)
}

// Finalizer decides whether a document is complete after a submission.
type Finalizer interface {
	Evaluate(ctx context.Context, documentID string) (bool, error)
}

const issueAttempts = 3

// Tracker owns completion records.
type Tracker struct {
	repo        Repository
	documents   DocumentReader
	store       BlobStore
	issuer      TokenIssuer
	finalizer   Finalizer
	log         zerolog.Logger
	idGenerator func() string
	now         func() time.Time
}

var _ token.Lookup = (*Tracker)(nil)

func NewTracker(repo Repository, documents DocumentReader, store BlobStore, issuer TokenIssuer) *Tracker {
	return &Tracker{
		repo:        repo,
		documents:   documents,
		store:       store,
		issuer:      issuer,
		log:         zerolog.Nop(),
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

// WithFinalizer sets the gate invoked after every accepted submission.
func (t *Tracker) WithFinalizer(f Finalizer) *Tracker {
	t.finalizer = f
	return t
}

func (t *Tracker) WithLogger(log zerolog.Logger) *Tracker {
	t.log = log.With().Str("component", "completion").Logger()
	return t
}

func (t *Tracker) WithIDGenerator(gen func() string) *Tracker {
	t.idGenerator = gen
	return t
}

func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// CreatePending mints a token and stores a pending record bound to it.
func (t *Tracker) CreatePending(ctx context.Context, documentID, recipientIdentity string, external bool) (Record, error) {
	if documentID == "" || strings.TrimSpace(recipientIdentity) == "" {
		return Record{}, errs.New(errs.KindValidation, "completion: document id and recipient identity required")
	}

	for attempt := 1; ; attempt++ {
		tok, err := t.issuer.Issue()
		if err != nil {
			return Record{}, errs.Wrap(errs.KindInternal, "completion: issue token", err)
		}

		rec := Record{
			ID:                t.idGenerator(),
			DocumentID:        documentID,
			RecipientIdentity: strings.TrimSpace(recipientIdentity),
			External:          external,
			Token:             tok,
			Status:            StatusPending,
			FieldValues:       map[string]any{},
		}
		rec.Touch(t.now())

		created, err := t.repo.Create(ctx, rec)
		if errors.Is(err, ErrDuplicateToken) && attempt < issueAttempts {
			continue
		}
		if err != nil {
			return Record{}, err
		}
		return created, nil
	}
}

// Submit accepts a recipient's field values. The blob snapshot is copied
// before anything is persisted, so a storage failure leaves the record
// untouched. A gate failure is returned together with the receipt.
func (t *Tracker) Submit(ctx context.Context, req SubmitRequest) (Receipt, error) {
	if strings.TrimSpace(req.DocumentID) == "" || strings.TrimSpace(req.RecipientIdentity) == "" {
		return Receipt{}, errs.New(errs.KindValidation, "completion: document id and recipient identity required")
	}
	if strings.TrimSpace(req.Token) == "" {
		return Receipt{}, errs.New(errs.KindValidation, "completion: token required")
	}

	tok, err := token.Parse(req.Token)
	if err != nil {
		return Receipt{}, err
	}
	rec, err := t.repo.GetByToken(ctx, tok)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return Receipt{}, token.ErrUnknown
		}
		return Receipt{}, err
	}
	if rec.DocumentID != req.DocumentID {
		return Receipt{}, errs.New(errs.KindConflict, "completion: token belongs to another document")
	}
	if !sameIdentity(rec, req.RecipientIdentity) {
		return Receipt{}, errs.New(errs.KindConflict, "completion: token belongs to another recipient")
	}

	doc, err := t.documents.Get(ctx, rec.DocumentID)
	if err != nil {
		return Receipt{}, err
	}
	if strings.TrimSpace(doc.BlobKey) == "" {
		return Receipt{}, errs.New(errs.KindNotFound, "completion: document has no blob")
	}

	captureKey := objectstore.CaptureKey(doc.ID, doc.BlobKey)
	if err := t.store.Copy(ctx, doc.BlobKey, captureKey); err != nil {
		if errors.Is(err, errs.ErrStorage) {
			return Receipt{}, err
		}
		return Receipt{}, errs.Wrap(errs.KindStorage, "completion: capture blob", err)
	}

	values := req.FieldValues
	if values == nil {
		values = map[string]any{}
	}
	updated, err := t.repo.Complete(ctx, CompleteParams{
		Token:       rec.Token,
		FieldValues: values,
		CaptureKey:  captureKey,
		CompletedAt: t.now(),
	})
	if err != nil {
		return Receipt{}, err
	}

	receipt := Receipt{RecordID: updated.ID, CaptureKey: captureKey}
	t.log.Info().
		Str("document_id", updated.DocumentID).
		Str("record_id", updated.ID).
		Msg("submission accepted")

	if t.finalizer == nil {
		return receipt, nil
	}
	finalized, err := t.finalizer.Evaluate(ctx, updated.DocumentID)
	if err != nil {
		t.log.Error().Err(err).Str("document_id", updated.DocumentID).Msg("completion gate failed")
		return receipt, fmt.Errorf("completion: evaluate gate: %w", err)
	}
	receipt.Finalized = finalized
	return receipt, nil
}

// ByToken returns the record bound to raw.
func (t *Tracker) ByToken(ctx context.Context, raw string) (Record, error) {
	tok, err := token.Parse(raw)
	if err != nil {
		return Record{}, err
	}
	return t.repo.GetByToken(ctx, tok)
}

// ByDocument returns every record of a document in creation order.
func (t *Tracker) ByDocument(ctx context.Context, documentID string) ([]Record, error) {
	return t.repo.ListByDocument(ctx, documentID)
}

// CountCompletedFor counts the completed records of a document.
func (t *Tracker) CountCompletedFor(ctx context.Context, documentID string) (int, error) {
	return t.repo.CountByDocumentAndStatus(ctx, documentID, StatusCompleted)
}

// CompletedIdentities lists the recipient identities that have completed.
func (t *Tracker) CompletedIdentities(ctx context.Context, documentID string) ([]string, error) {
	records, err := t.repo.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	var identities []string
	for _, rec := range records {
		if rec.Status == StatusCompleted {
			identities = append(identities, rec.RecipientIdentity)
		}
	}
	return identities, nil
}

// LookupToken implements token.Lookup.
func (t *Tracker) LookupToken(ctx context.Context, tok string) (token.Binding, error) {
	rec, err := t.repo.GetByToken(ctx, tok)
	if err != nil {
		return token.Binding{}, err
	}
	return token.Binding{
		DocumentID:        rec.DocumentID,
		RecipientIdentity: rec.RecipientIdentity,
		External:          rec.External,
	}, nil
}

// Consolidated merges every record's values for a document.
func (t *Tracker) Consolidated(ctx context.Context, documentID string) (map[string]any, error) {
	records, err := t.repo.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return Consolidate(records), nil
}

// FetchForCompletion assembles what a recipient needs to fill their portion.
func (t *Tracker) FetchForCompletion(ctx context.Context, raw string) (View, error) {
	binding, err := token.Resolve(ctx, t, raw)
	if err != nil {
		return View{}, err
	}
	tok, _ := token.Parse(raw)

	doc, err := t.documents.Get(ctx, binding.DocumentID)
	if err != nil {
		return View{}, err
	}
	if strings.TrimSpace(doc.BlobKey) == "" {
		return View{}, errs.New(errs.KindNotFound, "completion: document has no blob")
	}

	viewURL, err := t.store.PresignedDownloadURL(ctx, doc.BlobKey)
	if err != nil {
		if errors.Is(err, errs.ErrStorage) {
			return View{}, err
		}
		return View{}, errs.Wrap(errs.KindStorage, "completion: presign view url", err)
	}

	records, err := t.repo.ListByDocument(ctx, doc.ID)
	if err != nil {
		return View{}, err
	}
	var done bool
	for _, rec := range records {
		if rec.Token == tok {
			done = rec.Status == StatusCompleted
		}
	}

	title := strings.TrimSpace(doc.Title)
	if title == "" {
		title = "Document"
	}
	return View{
		DocumentID:        doc.ID,
		Title:             title,
		Fields:            doc.Fields,
		CurrentRecipient:  binding.RecipientIdentity,
		External:          binding.External,
		Token:             tok,
		ViewURL:           viewURL,
		Status:            doc.Status,
		ConsolidatedData:  Consolidate(records),
		RecipientComplete: done,
	}, nil
}

func sameIdentity(rec Record, identity string) bool {
	identity = strings.TrimSpace(identity)
	if rec.External {
		return strings.EqualFold(rec.RecipientIdentity, identity)
	}
	return rec.RecipientIdentity == identity
}
