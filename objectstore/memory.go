package objectstore

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"signflow/errs"
)

// MemoryStore keeps blobs in process. It backs local runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
	copies  int
	copyErr error
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{bucket: bucket, objects: make(map[string][]byte)}
}

// Put stores data under key.
func (m *MemoryStore) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
}

// Has reports whether key holds an object.
func (m *MemoryStore) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

// Copies returns how many Copy calls were made.
func (m *MemoryStore) Copies() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copies
}

// FailCopies makes every following Copy return err.
func (m *MemoryStore) FailCopies(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.copyErr = err
}

func (m *MemoryStore) Copy(_ context.Context, srcKey, dstKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.copies++
	if m.copyErr != nil {
		return errs.Wrap(errs.KindStorage, "objectstore: copy", m.copyErr)
	}
	data, ok := m.objects[srcKey]
	if !ok {
		return errs.New(errs.KindStorage, fmt.Sprintf("objectstore: copy: source %s missing", srcKey))
	}
	m.objects[dstKey] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryStore) PresignedUploadURL(_ context.Context, key string) (string, error) {
	return m.url(key, "put"), nil
}

func (m *MemoryStore) PresignedDownloadURL(_ context.Context, key string) (string, error) {
	return m.url(key, "get"), nil
}

func (m *MemoryStore) url(key, op string) string {
	u := url.URL{Scheme: "memory", Host: m.bucket, Path: "/" + key, RawQuery: "op=" + op}
	return u.String()
}
