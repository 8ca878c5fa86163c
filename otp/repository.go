package otp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals no active code for the email.
var ErrNotFound = errors.New("otp: no active code")

// Repository persists one-time codes.
type Repository interface {
	Create(ctx context.Context, code Code) error
	// LatestUnused returns the newest code for email that was not used yet.
	LatestUnused(ctx context.Context, email string) (Code, error)
	// MarkUsed consumes a code, reporting false if it was already used.
	MarkUsed(ctx context.Context, id string) (bool, error)
	// DeleteStale removes used codes and codes expired before now.
	DeleteStale(ctx context.Context, now time.Time) (int64, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Create(ctx context.Context, code Code) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO one_time_codes (id, email, code_hash, expires_at, used, created_at)
		VALUES ($1, $2, $3, $4, false, $5)
	`, code.ID, code.Email, code.Hash, code.ExpiresAt, code.CreatedAt)
	if err != nil {
		return fmt.Errorf("otp: create: %w", err)
	}
	return nil
}

func (r *PGRepository) LatestUnused(ctx context.Context, email string) (Code, error) {
	var c Code
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, email, code_hash, expires_at, used, created_at
		FROM one_time_codes
		WHERE email = $1 AND used = false
		ORDER BY created_at DESC
		LIMIT 1
	`, email).Scan(&c.ID, &c.Email, &c.Hash, &c.ExpiresAt, &c.Used, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Code{}, ErrNotFound
		}
		return Code{}, fmt.Errorf("otp: latest unused: %w", err)
	}
	return c, nil
}

func (r *PGRepository) MarkUsed(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE one_time_codes SET used = true WHERE id = $1::uuid AND used = false`, id)
	if err != nil {
		return false, fmt.Errorf("otp: mark used: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PGRepository) DeleteStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM one_time_codes WHERE used = true OR expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("otp: delete stale: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MemoryRepository implements Repository in process.
type MemoryRepository struct {
	mu    sync.Mutex
	codes map[string]Code
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{codes: make(map[string]Code)}
}

func (m *MemoryRepository) Create(_ context.Context, code Code) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[code.ID] = code
	return nil
}

func (m *MemoryRepository) LatestUnused(_ context.Context, email string) (Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var candidates []Code
	for _, c := range m.codes {
		if c.Email == email && !c.Used {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return Code{}, ErrNotFound
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.After(candidates[j].CreatedAt) })
	return candidates[0], nil
}

func (m *MemoryRepository) MarkUsed(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[id]
	if !ok || c.Used {
		return false, nil
	}
	c.Used = true
	m.codes[id] = c
	return true, nil
}

func (m *MemoryRepository) DeleteStale(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, c := range m.codes {
		if c.Used || c.ExpiresAt.Before(now) {
			delete(m.codes, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored codes.
func (m *MemoryRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.codes)
}
