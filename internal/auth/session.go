package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zirunbi/tradesim/internal/clock"
)

// SessionStore maps opaque tokens to user ids. Tokens expire after the
// configured TTL; expired entries are dropped on lookup and by Purge.
type SessionStore struct {
	clock clock.Clock
	ttl   time.Duration

	mu       sync.RWMutex
	sessions map[string]session
}

type session struct {
	userID    string
	expiresAt time.Time
}

// NewSessionStore creates a session store with the given token lifetime.
func NewSessionStore(clk clock.Clock, ttl time.Duration) *SessionStore {
	return &SessionStore{
		clock:    clk,
		ttl:      ttl,
		sessions: make(map[string]session),
	}
}

// Create issues a new token for a user.
func (s *SessionStore) Create(userID string) string {
	token := uuid.NewString()
	s.mu.Lock()
	s.sessions[token] = session{
		userID:    userID,
		expiresAt: s.clock.Now().Add(s.ttl),
	}
	s.mu.Unlock()
	return token
}

// Get resolves a token to a user id. Expired tokens are removed.
func (s *SessionStore) Get(token string) (string, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[token]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if s.clock.Now().After(sess.expiresAt) {
		s.Delete(token)
		return "", false
	}
	return sess.userID, true
}

// Delete removes a token.
func (s *SessionStore) Delete(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// Purge drops every expired session and returns how many were removed.
func (s *SessionStore) Purge() int {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for token, sess := range s.sessions {
		if now.After(sess.expiresAt) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed
}
