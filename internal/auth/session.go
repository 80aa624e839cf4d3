package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"zev/internal/storage"
)

// ErrSessionNotFound is returned for unknown and expired sessions.
var ErrSessionNotFound = errors.New("session not found")

// Session is the server-side state behind the session cookie.
type Session struct {
	ID          string
	Tenant      string
	Subject     string
	DisplayName string
	IDToken     string
	Token       *oauth2.Token
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Store keeps sessions between requests and for the upload worker.
type Store interface {
	Save(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	UpdateToken(ctx context.Context, id string, tok *oauth2.Token) error
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// SQLiteStore persists sessions in the sessions table so they survive
// restarts and are visible to cmd/zev-worker.
type SQLiteStore struct {
	repo *storage.SQLiteRepository
}

func NewSQLiteStore(repo *storage.SQLiteRepository) *SQLiteStore {
	return &SQLiteStore{repo: repo}
}

func (s *SQLiteStore) Save(ctx context.Context, sess Session) error {
	return s.repo.SaveSession(ctx, storage.SessionRecord(sess))
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Session, error) {
	rec, err := s.repo.GetSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	return Session(rec), nil
}

func (s *SQLiteStore) UpdateToken(ctx context.Context, id string, tok *oauth2.Token) error {
	return s.repo.UpdateSessionToken(ctx, id, tok)
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpiredSessions(ctx)
}

// MemoryStore keeps sessions in process memory; they are lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session), now: time.Now}
}

func (m *MemoryStore) Save(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok || !m.now().Before(s.ExpiresAt) {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (m *MemoryStore) UpdateToken(_ context.Context, id string, tok *oauth2.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.Token = tok
	m.sessions[id] = s
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) DeleteExpired(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var n int64
	for id, s := range m.sessions {
		if !now.Before(s.ExpiresAt) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}
