package server

import (
	"log/slog"
	"net/http"
	"time"
)

const (
	sessionCookieName = "linkdemo_session"
	authCookieName    = "linkdemo_auth"
)

// SessionManager handles cookie-backed sessions.
type SessionManager struct {
	store        *InMemoryStore
	logger       *slog.Logger
	ttl          time.Duration
	secure       bool
	sameSite     http.SameSite
	cookieDomain string
}

// NewSessionManager constructs a session manager honouring config.
func NewSessionManager(cfg Config, store *InMemoryStore, logger *slog.Logger) *SessionManager {
	// Lax is required: the sign-in and GitHub callbacks are top-level
	// cross-site navigations that must carry the cookie.
	return &SessionManager{
		store:        store,
		logger:       logger,
		ttl:          cfg.Sessions.TTL,
		secure:       !cfg.Server.DevMode,
		sameSite:     http.SameSiteLaxMode,
		cookieDomain: cfg.Server.CookieDomain,
	}
}

// Fetch returns the session associated with the request cookie if present.
func (sm *SessionManager) Fetch(r *http.Request) *Session {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil
	}
	now := sm.store.now()
	var expired bool
	sess, ok := sm.store.UpdateSession(cookie.Value, func(s *Session) {
		if now.After(s.ExpiresAt) {
			expired = true
			return
		}
		// Sliding expiration: extend on activity.
		s.ExpiresAt = now.Add(sm.ttl)
	})
	if !ok {
		return nil
	}
	if expired {
		sm.store.DeleteSession(sess.ID)
		sm.logger.Debug("session expired", "session_id", sess.ID)
		return nil
	}
	return &sess
}

// Create establishes a new session for id and sets the cookie.
func (sm *SessionManager) Create(w http.ResponseWriter, id Identity) *Session {
	now := sm.store.now()
	sess := Session{
		ID:        sm.store.NewID(),
		Subject:   id.Subject,
		Claims:    id.Claims,
		Token:     id.Token,
		IDToken:   id.IDToken,
		AuthTime:  now,
		ExpiresAt: now.Add(sm.ttl),
	}
	sm.store.SaveSession(sess)
	sm.setCookie(w, sessionCookieName, sess.ID, int(sm.ttl.Seconds()))
	return &sess
}

// Update mutates the stored session.
func (sm *SessionManager) Update(id string, fn func(*Session)) (*Session, bool) {
	sess, ok := sm.store.UpdateSession(id, fn)
	if !ok {
		return nil, false
	}
	return &sess, true
}

// Destroy removes the session from the store and clears the cookie.
func (sm *SessionManager) Destroy(w http.ResponseWriter, sess *Session) {
	if sess != nil {
		sm.store.DeleteSession(sess.ID)
	}
	sm.setCookie(w, sessionCookieName, "", -1)
}

// BindAuthRequest ties a pending sign-in to this browser.
func (sm *SessionManager) BindAuthRequest(w http.ResponseWriter, state string) {
	sm.setCookie(w, authCookieName, state, int(authRequestTTL.Seconds()))
}

// AuthRequestState returns the state bound to this browser, if any.
func (sm *SessionManager) AuthRequestState(r *http.Request) string {
	cookie, err := r.Cookie(authCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// ClearAuthRequest removes the sign-in binding cookie.
func (sm *SessionManager) ClearAuthRequest(w http.ResponseWriter) {
	sm.setCookie(w, authCookieName, "", -1)
}

func (sm *SessionManager) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   sm.cookieDomain,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: sm.sameSite,
		MaxAge:   maxAge,
	})
}
