package document

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryRepository implements Repository in process. It backs the memory
// store driver and tests.
type MemoryRepository struct {
	mu     sync.Mutex
	docs   map[string]Document
	order  []string
	outbox []string
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{docs: make(map[string]Document)}
}

func (m *MemoryRepository) Create(_ context.Context, doc Document) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.docs {
		if existing.Title == doc.Title {
			return Document{}, ErrDuplicateTitle
		}
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}
	doc = clone(doc)
	m.docs[doc.ID] = doc
	m.order = append(m.order, doc.ID)
	return clone(doc), nil
}

func (m *MemoryRepository) TitlesWithPrefix(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var titles []string
	for _, doc := range m.docs {
		if strings.HasPrefix(doc.Title, prefix) {
			titles = append(titles, doc.Title)
		}
	}
	return titles, nil
}

func (m *MemoryRepository) Get(_ context.Context, id string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return clone(doc), nil
}

func (m *MemoryRepository) Update(_ context.Context, doc Document) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.docs[doc.ID]
	if !ok {
		return Document{}, ErrNotFound
	}
	if current.Status == StatusCompleted {
		return Document{}, ErrCompleted
	}
	if current.Status == StatusPublished &&
		(!slices.Equal(current.Fields, doc.Fields) || !slices.Equal(current.Recipients, doc.Recipients)) {
		return Document{}, ErrRosterFixed
	}
	current.BlobKey = doc.BlobKey
	current.Pages = doc.Pages
	current.Type = doc.Type
	current.Fields = doc.Fields
	current.Recipients = doc.Recipients
	current.UpdatedAt = doc.UpdatedAt
	current = clone(current)
	m.docs[doc.ID] = current
	return clone(current), nil
}

func (m *MemoryRepository) SetStatus(_ context.Context, id string, from, to Status) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !from.CanAdvanceTo(to) {
		return Document{}, ErrStatusConflict
	}
	doc, ok := m.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	if doc.Status != from {
		return Document{}, ErrStatusConflict
	}
	doc.Status = to
	doc.UpdatedAt = time.Now()
	m.docs[id] = doc
	return clone(doc), nil
}

func (m *MemoryRepository) ListByStatus(_ context.Context, statuses ...Status) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[Status]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var docs []Document
	for _, id := range m.order {
		doc := m.docs[id]
		if len(want) == 0 || want[doc.Status] {
			docs = append(docs, clone(doc))
		}
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].CreatedAt.After(docs[j].CreatedAt) })
	return docs, nil
}

func (m *MemoryRepository) MarkCompleted(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return false, ErrNotFound
	}
	if doc.Status != StatusPublished {
		return false, nil
	}
	doc.Status = StatusCompleted
	doc.CompletedAt = &at
	doc.UpdatedAt = at
	m.docs[id] = doc
	m.outbox = append(m.outbox, id)
	return true, nil
}

// CompletedEvents returns the ids enqueued under OutboxTopicDocumentCompleted.
func (m *MemoryRepository) CompletedEvents() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.outbox...)
}

func clone(doc Document) Document {
	doc.Fields = append([]Field(nil), doc.Fields...)
	doc.Recipients = append([]Recipient(nil), doc.Recipients...)
	if doc.CompletedAt != nil {
		at := *doc.CompletedAt
		doc.CompletedAt = &at
	}
	return doc
}
