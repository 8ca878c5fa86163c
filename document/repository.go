package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"signflow/errs"
)

// OutboxTopicDocumentCompleted is enqueued exactly once per document, in the
// same transaction that flips it to completed.
const OutboxTopicDocumentCompleted = "document.completed"

// Repository persists documents.
type Repository interface {
	Create(ctx context.Context, doc Document) (Document, error)
	TitlesWithPrefix(ctx context.Context, prefix string) ([]string, error)
	Get(ctx context.Context, id string) (Document, error)
	// Update writes metadata only; status is moved by SetStatus and MarkCompleted.
	Update(ctx context.Context, doc Document) (Document, error)
	// SetStatus moves id from one status to another if it is still in from.
	SetStatus(ctx context.Context, id string, from, to Status) (Document, error)
	ListByStatus(ctx context.Context, statuses ...Status) ([]Document, error)
	// MarkCompleted flips a published document to completed. It reports
	// false when the document was not in published anymore or, for stores
	// that hold completion records, when a roster member has not completed.
	MarkCompleted(ctx context.Context, id string, at time.Time) (bool, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed document repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const documentColumns = `id::text, title, owner_id, blob_key, pages, type, fields, recipients, status::text, completed_at, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, doc Document) (Document, error) {
	fields, recipients, err := encodeCollections(doc)
	if err != nil {
		return Document{}, err
	}

	const insertSQL = `
		INSERT INTO documents (id, title, owner_id, blob_key, pages, type, fields, recipients, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9::document_status, $10, $10)
		RETURNING ` + documentColumns

	created, err := scanDocument(r.pool.QueryRow(ctx, insertSQL,
		doc.ID, doc.Title, doc.OwnerID, doc.BlobKey, doc.Pages, doc.Type,
		fields, recipients, doc.Status, doc.CreatedAt,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Document{}, ErrDuplicateTitle
		}
		return Document{}, errs.Wrap(errs.KindStorage, "document: create", err)
	}
	return created, nil
}

func (r *PGRepository) TitlesWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT title FROM documents WHERE starts_with(title, $1)`, prefix)
	if err != nil {
		return nil, errs.Wrap(errs.KindStorage, "document: list titles", err)
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, errs.Wrap(errs.KindStorage, "document: scan title", err)
		}
		titles = append(titles, title)
	}
	return titles, rows.Err()
}

func (r *PGRepository) Get(ctx context.Context, id string) (Document, error) {
	doc, err := scanDocument(r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1::uuid`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, errs.Wrap(errs.KindStorage, "document: get", err)
	}
	return doc, nil
}

func (r *PGRepository) Update(ctx context.Context, doc Document) (Document, error) {
	fields, recipients, err := encodeCollections(doc)
	if err != nil {
		return Document{}, err
	}

	const updateSQL = `
		UPDATE documents
		SET blob_key = $2, pages = $3, type = $4, fields = $5::jsonb, recipients = $6::jsonb, updated_at = $7
		WHERE id = $1::uuid
		  AND (status = 'draft' OR (status = 'published' AND fields = $5::jsonb AND recipients = $6::jsonb))
		RETURNING ` + documentColumns

	updated, err := scanDocument(r.pool.QueryRow(ctx, updateSQL,
		doc.ID, doc.BlobKey, doc.Pages, doc.Type, fields, recipients, doc.UpdatedAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			current, getErr := r.Get(ctx, doc.ID)
			if getErr != nil {
				return Document{}, getErr
			}
			if current.Status == StatusPublished {
				return Document{}, ErrRosterFixed
			}
			return Document{}, ErrCompleted
		}
		return Document{}, errs.Wrap(errs.KindStorage, "document: update", err)
	}
	return updated, nil
}

func (r *PGRepository) SetStatus(ctx context.Context, id string, from, to Status) (Document, error) {
	if !from.CanAdvanceTo(to) {
		return Document{}, ErrStatusConflict
	}

	const updateSQL = `
		UPDATE documents
		SET status = $3::document_status, updated_at = now()
		WHERE id = $1::uuid AND status = $2::document_status
		RETURNING ` + documentColumns

	doc, err := scanDocument(r.pool.QueryRow(ctx, updateSQL, id, from, to))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.Get(ctx, id); getErr != nil {
				return Document{}, getErr
			}
			return Document{}, ErrStatusConflict
		}
		return Document{}, errs.Wrap(errs.KindStorage, "document: set status", err)
	}
	return doc, nil
}

func (r *PGRepository) ListByStatus(ctx context.Context, statuses ...Status) ([]Document, error) {
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
	}

	query := `SELECT ` + documentColumns + ` FROM documents`
	args := []any{}
	if len(names) > 0 {
		query += ` WHERE status::text = ANY($1)`
		args = append(args, names)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.KindStorage, "document: list", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, errs.Wrap(errs.KindStorage, "document: scan", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (r *PGRepository) MarkCompleted(ctx context.Context, id string, at time.Time) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, errs.Wrap(errs.KindStorage, "document: begin tx", err)
	}
	defer tx.Rollback(ctx)

	// The row lock serializes completion of id across processes. The roster
	// is rechecked under it so a stale caller cannot finalize early.
	doc, err := scanDocument(tx.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1::uuid FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, errs.Wrap(errs.KindStorage, "document: lock for completion", err)
	}
	if doc.Status != StatusPublished {
		return false, nil
	}

	rows, err := tx.Query(ctx, `
		SELECT recipient_identity FROM completion_records
		WHERE document_id = $1::uuid AND status = 'completed'
	`, id)
	if err != nil {
		return false, errs.Wrap(errs.KindStorage, "document: list completed identities", err)
	}
	done, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return false, errs.Wrap(errs.KindStorage, "document: scan completed identities", err)
	}
	if !doc.RosterComplete(done) {
		return false, nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE documents
		SET status = 'completed', completed_at = $2, updated_at = $2
		WHERE id = $1::uuid
	`, id, at); err != nil {
		return false, errs.Wrap(errs.KindStorage, "document: mark completed", err)
	}

	payload, err := json.Marshal(map[string]any{
		"document_id":  id,
		"completed_at": at.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return false, fmt.Errorf("document: encode outbox payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO outbox (topic, payload)
		VALUES ($1, $2::jsonb)
	`, OutboxTopicDocumentCompleted, string(payload)); err != nil {
		return false, errs.Wrap(errs.KindStorage, "document: enqueue outbox", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, errs.Wrap(errs.KindStorage, "document: commit completion", err)
	}
	return true, nil
}

func encodeCollections(doc Document) (string, string, error) {
	fields := doc.Fields
	if fields == nil {
		fields = []Field{}
	}
	recipients := doc.Recipients
	if recipients == nil {
		recipients = []Recipient{}
	}
	f, err := json.Marshal(fields)
	if err != nil {
		return "", "", fmt.Errorf("document: encode fields: %w", err)
	}
	rc, err := json.Marshal(recipients)
	if err != nil {
		return "", "", fmt.Errorf("document: encode recipients: %w", err)
	}
	return string(f), string(rc), nil
}

func scanDocument(row pgx.Row) (Document, error) {
	var (
		doc        Document
		fields     []byte
		recipients []byte
		status     string
	)
	err := row.Scan(
		&doc.ID,
		&doc.Title,
		&doc.OwnerID,
		&doc.BlobKey,
		&doc.Pages,
		&doc.Type,
		&fields,
		&recipients,
		&status,
		&doc.CompletedAt,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return Document{}, err
	}
	doc.Status = Status(status)
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &doc.Fields); err != nil {
			return Document{}, fmt.Errorf("decode fields: %w", err)
		}
	}
	if len(recipients) > 0 {
		if err := json.Unmarshal(recipients, &doc.Recipients); err != nil {
			return Document{}, fmt.Errorf("decode recipients: %w", err)
		}
	}
	return doc, nil
}
