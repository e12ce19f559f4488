package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestManager(ttl time.Duration) (*SessionManager, *InMemoryStore) {
	cfg := DefaultConfig()
	cfg.Sessions.TTL = ttl
	store := NewInMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewSessionManager(cfg, store, logger), store
}

func TestSessionManagerCreateSetsCookie(t *testing.T) {
	manager, _ := newTestManager(time.Hour)

	w := httptest.NewRecorder()
	sess := manager.Create(w, Identity{Subject: "user-123", Claims: map[string]any{"sub": "user-123"}})
	if sess.Subject != "user-123" {
		t.Fatalf("unexpected subject: %q", sess.Subject)
	}

	found := false
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionCookieName && c.Value == sess.ID {
			found = true
			if !c.HttpOnly || c.SameSite != http.SameSiteLaxMode {
				t.Fatalf("unexpected cookie attributes: %+v", c)
			}
		}
	}
	if !found {
		t.Fatalf("session cookie missing")
	}
}

func TestSessionManagerFetchExtendsExpiry(t *testing.T) {
	manager, store := newTestManager(time.Minute)

	sess := Session{ID: "session", Subject: "user", ExpiresAt: time.Now().Add(10 * time.Second)}
	store.SaveSession(sess)

	req := httptest.NewRequest("GET", "/step1", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sess.ID})

	returned := manager.Fetch(req)
	if returned == nil {
		t.Fatalf("expected session to be returned")
	}
	if !returned.ExpiresAt.After(time.Now().Add(30 * time.Second)) {
		t.Fatalf("expected sliding expiration to extend session")
	}
	stored, _ := store.GetSession(sess.ID)
	if !stored.ExpiresAt.Equal(returned.ExpiresAt) {
		t.Fatalf("extended expiry not persisted")
	}
}

func TestSessionManagerFetchExpired(t *testing.T) {
	manager, store := newTestManager(time.Minute)

	sess := Session{ID: "expired", Subject: "user", ExpiresAt: time.Now().Add(-time.Second)}
	store.SaveSession(sess)

	req := httptest.NewRequest("GET", "/step1", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sess.ID})

	if returned := manager.Fetch(req); returned != nil {
		t.Fatalf("expected expired session to be cleared")
	}
	if _, ok := store.GetSession(sess.ID); ok {
		t.Fatalf("expected expired session to be removed from store")
	}
}

func TestSessionManagerDestroyClearsCookie(t *testing.T) {
	manager, store := newTestManager(time.Hour)
	sess := manager.Create(httptest.NewRecorder(), Identity{Subject: "user"})

	w := httptest.NewRecorder()
	manager.Destroy(w, sess)

	if _, ok := store.GetSession(sess.ID); ok {
		t.Fatalf("session should be deleted")
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Fatalf("expected expiring cookie, got %+v", cookies)
	}
}

func TestConsumeAuthRequestOnceAndExpiry(t *testing.T) {
	store := NewInMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	store.SaveAuthRequest(AuthRequest{State: "fresh", Nonce: "n"})
	if _, ok := store.ConsumeAuthRequest("fresh"); !ok {
		t.Fatalf("expected fresh auth request")
	}
	if _, ok := store.ConsumeAuthRequest("fresh"); ok {
		t.Fatalf("auth request must be single use")
	}

	store.SaveAuthRequest(AuthRequest{State: "stale"})
	now = now.Add(authRequestTTL + time.Second)
	if _, ok := store.ConsumeAuthRequest("stale"); ok {
		t.Fatalf("expired auth request should be rejected")
	}
}

func TestPurgeExpired(t *testing.T) {
	store := NewInMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	store.SaveSession(Session{ID: "live", ExpiresAt: now.Add(time.Hour)})
	store.SaveSession(Session{ID: "dead", ExpiresAt: now.Add(-time.Hour)})
	store.SaveAuthRequest(AuthRequest{State: "old", CreatedAt: now.Add(-time.Hour)})

	if n := store.PurgeExpired(); n != 2 {
		t.Fatalf("expected 2 purged entries, got %d", n)
	}
	if _, ok := store.GetSession("live"); !ok {
		t.Fatalf("live session should remain")
	}
}

func TestVerificationRefValid(t *testing.T) {
	now := time.Now()
	if (VerificationRef{}).Valid(now) {
		t.Fatalf("empty ref should be invalid")
	}
	if (VerificationRef{ID: "x", ExpiresAt: now.Add(-time.Second)}).Valid(now) {
		t.Fatalf("expired ref should be invalid")
	}
	if !(VerificationRef{ID: "x", ExpiresAt: now.Add(time.Minute)}).Valid(now) {
		t.Fatalf("live ref should be valid")
	}
}
