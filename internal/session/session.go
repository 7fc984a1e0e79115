// Package session stores signed-in users in a key-value store under an
// unguessable bearer id. Records expire lazily: a read past expiresAt
// deletes the record and reports no session.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"

	"news/internal/kv"
)

// DefaultDuration is how long a session lives after sign-in.
const DefaultDuration = 7 * 24 * time.Hour

const keyPrefix = "session:"

// User is the identity copied from the OAuth provider at sign-in.
type User struct {
	ID    string  `cbor:"id" json:"id"`
	Email string  `cbor:"email" json:"email"`
	Name  string  `cbor:"name" json:"name"`
	Image *string `cbor:"image" json:"image"`
}

// Session is the stored record. The id is the store key, not part of it.
type Session struct {
	UserID    string `cbor:"userId"`
	User      User   `cbor:"user"`
	ExpiresAt int64  `cbor:"expiresAt"`
}

// Expired reports whether the session is no longer usable at now.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt <= now.UnixMilli()
}

// UserInfo is the userinfo payload from the provider.
type UserInfo struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// New builds a session record for info expiring duration after now.
func New(info UserInfo, now time.Time, duration time.Duration) Session {
	var image *string
	if info.Picture != "" {
		p := info.Picture
		image = &p
	}
	return Session{
		UserID: info.Sub,
		User: User{
			ID:    info.Sub,
			Email: info.Email,
			Name:  info.Name,
			Image: image,
		},
		ExpiresAt: now.Add(duration).UnixMilli(),
	}
}

// NewID returns 256 random bits, base64url encoded.
func NewID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Key is the store key for a session id.
func Key(id string) string {
	return keyPrefix + id
}

// Fingerprint is a short one-way digest of a session id, safe to log.
func Fingerprint(id string) string {
	sum := blake2b.Sum256([]byte(id))
	return hex.EncodeToString(sum[:6])
}

type Manager struct {
	store    kv.Store
	duration time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

func NewManager(store kv.Store, duration time.Duration, opts ...Option) *Manager {
	if duration <= 0 {
		duration = DefaultDuration
	}
	m := &Manager{store: store, duration: duration, now: time.Now, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Duration is the configured session lifetime.
func (m *Manager) Duration() time.Duration { return m.duration }

// Create stores a fresh session for info and returns its id.
func (m *Manager) Create(ctx context.Context, info UserInfo) (string, Session, error) {
	id, err := NewID()
	if err != nil {
		return "", Session{}, err
	}
	s := New(info, m.now(), m.duration)
	value, err := cbor.Marshal(s)
	if err != nil {
		return "", Session{}, fmt.Errorf("encode session: %w", err)
	}
	ttl := m.duration.Truncate(time.Second)
	if err := m.store.Put(ctx, Key(id), value, ttl); err != nil {
		return "", Session{}, fmt.Errorf("store session: %w", err)
	}
	m.log.Debug().Str("session", Fingerprint(id)).Str("user", s.UserID).Msg("session created")
	return id, s, nil
}

// Get returns the live session for id, or nil when there is none. Expired
// and unreadable records are deleted on the way out; failures of that
// cleanup are logged, not returned.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, nil
	}
	value, found, err := m.store.Get(ctx, Key(id))
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !found {
		return nil, nil
	}
	var s Session
	if err := cbor.Unmarshal(value, &s); err != nil {
		m.log.Warn().Err(err).Str("session", Fingerprint(id)).Msg("discarding malformed session")
		m.discard(ctx, id)
		return nil, nil
	}
	if s.Expired(m.now()) {
		m.discard(ctx, id)
		return nil, nil
	}
	return &s, nil
}

// Delete removes the session. Deleting an unknown id is not an error.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := m.store.Delete(ctx, Key(id)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (m *Manager) discard(ctx context.Context, id string) {
	if err := m.store.Delete(ctx, Key(id)); err != nil {
		m.log.Debug().Err(err).Str("session", Fingerprint(id)).Msg("stale session cleanup failed")
	}
}
