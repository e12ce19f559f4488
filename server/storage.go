package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// authRequestTTL bounds how long a sign-in redirect may take.
const authRequestTTL = 10 * time.Minute

// InMemoryStore keeps ephemeral state for sessions and pending sign-ins.
type InMemoryStore struct {
	mu           sync.RWMutex
	sessions     map[string]Session
	authRequests map[string]AuthRequest
	now          func() time.Time
}

// NewInMemoryStore constructs the store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:     make(map[string]Session),
		authRequests: make(map[string]AuthRequest),
		now:          time.Now,
	}
}

// NewID generates a random identifier.
func (s *InMemoryStore) NewID() string {
	return uuid.NewString()
}

// SaveSession stores or replaces a session.
func (s *InMemoryStore) SaveSession(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
}

// GetSession retrieves a session by ID.
func (s *InMemoryStore) GetSession(id string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// UpdateSession applies fn to the stored session under the write lock and
// returns the updated copy.
func (s *InMemoryStore) UpdateSession(id string, fn func(*Session)) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	fn(&sess)
	s.sessions[id] = sess
	return sess, true
}

// DeleteSession removes a session.
func (s *InMemoryStore) DeleteSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// SaveAuthRequest stores a sign-in request awaiting callback, keyed by state.
func (s *InMemoryStore) SaveAuthRequest(req AuthRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.now()
	}
	s.authRequests[req.State] = req
}

// ConsumeAuthRequest retrieves and removes an auth request. Expired
// requests are removed and reported as missing.
func (s *InMemoryStore) ConsumeAuthRequest(state string) (AuthRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.authRequests[state]
	if !ok {
		return AuthRequest{}, false
	}
	delete(s.authRequests, state)
	if s.now().After(req.CreatedAt.Add(authRequestTTL)) {
		return AuthRequest{}, false
	}
	return req, true
}

// PurgeExpired drops expired sessions and stale auth requests.
func (s *InMemoryStore) PurgeExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			delete(s.sessions, id)
			removed++
		}
	}
	for state, req := range s.authRequests {
		if now.After(req.CreatedAt.Add(authRequestTTL)) {
			delete(s.authRequests, state)
			removed++
		}
	}
	return removed
}

// StartSweeper purges expired entries every interval until stop is closed.
func (s *InMemoryStore) StartSweeper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.PurgeExpired()
			case <-stop:
				return
			}
		}
	}()
}
