package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"signflow/errs"
)

var (
	// ErrNotFound signals no record for the lookup key.
	ErrNotFound = errs.New(errs.KindNotFound, "completion: record not found")
	// ErrDuplicateToken signals a token collision on insert.
	ErrDuplicateToken = errs.New(errs.KindConflict, "completion: token already issued")
)

// Repository persists completion records.
type Repository interface {
	Create(ctx context.Context, rec Record) (Record, error)
	GetByToken(ctx context.Context, token string) (Record, error)
	// ListByDocument returns records in creation order.
	ListByDocument(ctx context.Context, documentID string) ([]Record, error)
	CountByDocumentAndStatus(ctx context.Context, documentID string, status Status) (int, error)
	// Complete writes values, capture key, status and completion time as a
	// single atomic update of the record behind the token.
	Complete(ctx context.Context, params CompleteParams) (Record, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const recordColumns = `id::text, document_id::text, recipient_identity, external, token, status::text, field_values, capture_key, completed_at, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, rec Record) (Record, error) {
	values, err := encodeValues(rec.FieldValues)
	if err != nil {
		return Record{}, err
	}

	const insertSQL = `
		INSERT INTO completion_records (id, document_id, recipient_identity, external, token, status, field_values, capture_key, created_at, updated_at)
		VALUES ($1, $2::uuid, $3, $4, $5, $6::completion_status, $7::jsonb, $8, $9, $9)
		RETURNING ` + recordColumns

	created, err := scanRecord(r.pool.QueryRow(ctx, insertSQL,
		rec.ID, rec.DocumentID, rec.RecipientIdentity, rec.External, rec.Token,
		rec.Status, values, rec.CaptureKey, rec.CreatedAt,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrDuplicateToken
		}
		return Record{}, errs.Wrap(errs.KindStorage, "completion: create record", err)
	}
	return created, nil
}

func (r *PGRepository) GetByToken(ctx context.Context, token string) (Record, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM completion_records WHERE token = $1`, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, errs.Wrap(errs.KindStorage, "completion: get by token", err)
	}
	return rec, nil
}

func (r *PGRepository) ListByDocument(ctx context.Context, documentID string) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM completion_records
		WHERE document_id = $1::uuid
		ORDER BY created_at, id
	`, documentID)
	if err != nil {
		return nil, errs.Wrap(errs.KindStorage, "completion: list by document", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errs.Wrap(errs.KindStorage, "completion: scan record", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindStorage, "completion: list by document", err)
	}
	return records, nil
}

func (r *PGRepository) CountByDocumentAndStatus(ctx context.Context, documentID string, status Status) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM completion_records
		WHERE document_id = $1::uuid AND status = $2::completion_status
	`, documentID, status).Scan(&n)
	if err != nil {
		return 0, errs.Wrap(errs.KindStorage, "completion: count", err)
	}
	return n, nil
}

func (r *PGRepository) Complete(ctx context.Context, params CompleteParams) (Record, error) {
	values, err := encodeValues(params.FieldValues)
	if err != nil {
		return Record{}, err
	}

	const updateSQL = `
		UPDATE completion_records
		SET status = 'completed', field_values = $2::jsonb, capture_key = $3, completed_at = $4, updated_at = $4
		WHERE token = $1
		RETURNING ` + recordColumns

	rec, err := scanRecord(r.pool.QueryRow(ctx, updateSQL, params.Token, values, params.CaptureKey, params.CompletedAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, errs.Wrap(errs.KindStorage, "completion: complete record", err)
	}
	return rec, nil
}

func encodeValues(values map[string]any) (string, error) {
	if values == nil {
		values = map[string]any{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", errs.Wrap(errs.KindValidation, "completion: encode field values", err)
	}
	return string(b), nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec    Record
		status string
		values []byte
	)
	err := row.Scan(
		&rec.ID,
		&rec.DocumentID,
		&rec.RecipientIdentity,
		&rec.External,
		&rec.Token,
		&status,
		&values,
		&rec.CaptureKey,
		&rec.CompletedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	rec.Status = Status(status)
	rec.FieldValues = map[string]any{}
	if len(values) > 0 {
		if err := json.Unmarshal(values, &rec.FieldValues); err != nil {
			return Record{}, fmt.Errorf("decode field values: %w", err)
		}
	}
	return rec, nil
}
