package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

const defaultTTL = 2 * time.Hour

// ErrSessionNotFound is returned when a session does not exist or expired.
var ErrSessionNotFound = errors.New("session not found")

// Store persists sessions for their lifetime. Implementations are
// session-scoped caches: entries expire with the TTL and nothing survives
// a logout.
type Store interface {
	Save(ctx context.Context, session *Session) error
	Load(ctx context.Context, sessionID string) (*Session, error)
	Delete(ctx context.Context, sessionID string) error
}

type memoryEntry struct {
	session   *Session
	expiresAt time.Time
}

// MemoryStore keeps sessions in process memory. It is the default backend.
type MemoryStore struct {
	mutex    sync.Mutex
	sessions map[string]memoryEntry
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryStore constructs a MemoryStore with the given TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &MemoryStore{
		sessions: make(map[string]memoryEntry),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Save stores the session, resetting its expiry.
func (store *MemoryStore) Save(_ context.Context, session *Session) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	store.sessions[session.ID] = memoryEntry{
		session:   session,
		expiresAt: store.now().Add(store.ttl),
	}
	return nil
}

// Load returns the stored session or ErrSessionNotFound.
func (store *MemoryStore) Load(_ context.Context, sessionID string) (*Session, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	entry, exists := store.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}
	if store.now().After(entry.expiresAt) {
		delete(store.sessions, sessionID)
		return nil, ErrSessionNotFound
	}
	return entry.session, nil
}

// Delete removes the session. Deleting an absent session is not an error.
func (store *MemoryStore) Delete(_ context.Context, sessionID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	delete(store.sessions, sessionID)
	return nil
}
