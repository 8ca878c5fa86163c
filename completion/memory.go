package completion

import (
	"context"
	"sync"
)

// MemoryRepository implements Repository in process.
type MemoryRepository struct {
	mu      sync.Mutex
	records []Record
	byToken map[string]int
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byToken: make(map[string]int)}
}

func (m *MemoryRepository) Create(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byToken[rec.Token]; ok {
		return Record{}, ErrDuplicateToken
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	rec = cloneRecord(rec)
	m.byToken[rec.Token] = len(m.records)
	m.records = append(m.records, rec)
	return cloneRecord(rec), nil
}

func (m *MemoryRepository) GetByToken(_ context.Context, token string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.byToken[token]
	if !ok {
		return Record{}, ErrNotFound
	}
	return cloneRecord(m.records[idx]), nil
}

func (m *MemoryRepository) ListByDocument(_ context.Context, documentID string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, rec := range m.records {
		if rec.DocumentID == documentID {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

func (m *MemoryRepository) CountByDocumentAndStatus(_ context.Context, documentID string, status Status) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for _, rec := range m.records {
		if rec.DocumentID == documentID && rec.Status == status {
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) Complete(_ context.Context, params CompleteParams) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.byToken[params.Token]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec := m.records[idx]
	at := params.CompletedAt
	rec.Status = StatusCompleted
	rec.FieldValues = params.FieldValues
	rec.CaptureKey = params.CaptureKey
	rec.CompletedAt = &at
	rec.UpdatedAt = at
	rec = cloneRecord(rec)
	m.records[idx] = rec
	return cloneRecord(rec), nil
}

func cloneRecord(rec Record) Record {
	values := make(map[string]any, len(rec.FieldValues))
	for k, v := range rec.FieldValues {
		values[k] = v
	}
	rec.FieldValues = values
	if rec.CompletedAt != nil {
		at := *rec.CompletedAt
		rec.CompletedAt = &at
	}
	return rec
}
