package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	signInPath   = "/logto/sign-in"
	callbackPath = "/logto/sign-in-callback"
	signOutPath  = "/logto/sign-out"
	step1Path    = "/step1"
	step2Path    = "/step2"
	step3Path    = "/step3"
)

// Routes constructs the HTTP router with the sign-in and wizard endpoints.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))
	if !a.Config.Server.DevMode {
		r.Use(SecurityHeadersMiddleware(a.Config.Server.TLS.HSTSMaxAge))
	}

	r.Get("/", a.handleHome)
	r.Get(signInPath, a.handleSignIn)
	r.Get(callbackPath, a.handleSignInCallback)
	r.Get(signOutPath, a.handleSignOut)

	r.Group(func(r chi.Router) {
		r.Use(a.RequireAuth)
		r.Get(step1Path, a.handleStep1Form)
		r.Post(step1Path, a.handleStep1Submit)
		r.Get(step2Path, a.handleStep2)
		r.Get(step3Path, a.handleStep3)
	})

	return r
}
