// Package kv is the key-value capability sessions live in, with an
// in-process implementation and one backed by a SQL table.
package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"news/internal/db"
)

// Store is last-writer-wins. Entries past their TTL are never returned.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type entry struct {
	value   []byte
	expires time.Time
}

// Memory keeps entries in a map. Expired entries are dropped on access.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: map[string]entry{}, now: time.Now}
}

// WithClock swaps the time source, for tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Len counts stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// noExpiry marks SQL rows stored without a TTL.
const noExpiry = int64(1<<63 - 1)

// SQL stores entries in the kv_entries table.
type SQL struct {
	db  db.Querier
	now func() time.Time
}

func NewSQL(q db.Querier) *SQL {
	return &SQL{db: q, now: time.Now}
}

func (s *SQL) WithClock(now func() time.Time) *SQL {
	s.now = now
	return s
}

func (s *SQL) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var expires int64
	err := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM kv_entries WHERE key = ?`, key).Scan(&value, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv get: %w", err)
	}
	if expires <= s.now().UnixMilli() {
		if err := s.Delete(ctx, key); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	return value, true, nil
}

func (s *SQL) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	expires := noExpiry
	if ttl > 0 {
		expires = s.now().Add(ttl).UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO kv_entries (key, value, expires_at) VALUES (?, ?, ?)
        ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`, key, value, expires)
	if err != nil {
		return fmt.Errorf("kv put: %w", err)
	}
	return nil
}

func (s *SQL) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("kv delete: %w", err)
	}
	return nil
}

// Sweep removes rows past their TTL and reports how many went.
func (s *SQL) Sweep(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("kv sweep: %w", err)
	}
	return res.RowsAffected()
}
