package server

import (
	"crypto/tls"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if seen == "" || w.Header().Get("X-Request-ID") != seen {
		t.Fatalf("generated request id not propagated: ctx=%q header=%q", seen, w.Header().Get("X-Request-ID"))
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "abc" {
		t.Fatalf("incoming request id should be kept, got %q", seen)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := RecoveryMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	h := SecurityHeadersMiddleware(60)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest("GET", "/", nil)
	req.TLS = &tls.ConnectionState{}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("Strict-Transport-Security"); got != "max-age=60; includeSubDomains" {
		t.Fatalf("unexpected HSTS header %q", got)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Header().Get("Strict-Transport-Security") != "" {
		t.Fatalf("HSTS must not be sent over plain http")
	}
}

func TestRequireAuthStopsChain(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app := newApp(DefaultConfig(), &stubAuth{}, nil, "github", nil, logger)

	called := false
	h := app.RequireAuth(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", step1Path, nil))
	if called {
		t.Fatalf("next handler must not run without a session")
	}
	if w.Code != http.StatusFound || w.Header().Get("Location") != signInPath {
		t.Fatalf("expected redirect to sign-in, got %d %q", w.Code, w.Header().Get("Location"))
	}

	sess := app.Sessions.Create(httptest.NewRecorder(), Identity{Subject: "user"})
	req := httptest.NewRequest("GET", step1Path, nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sess.ID})
	h = app.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = SessionFromContext(r.Context()) != nil
	}))
	h.ServeHTTP(httptest.NewRecorder(), req)
	if !called {
		t.Fatalf("next handler should run with the session attached")
	}
}
