package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"sociallink/client"
	"sociallink/console"
	"sociallink/provision"
)

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Config   Config
	Logger   *slog.Logger
	Printer  *console.Printer
	Store    *InMemoryStore
	Sessions *SessionManager
	Auth     Authenticator
	// API talks to the default tenant on behalf of the signed-in user.
	// It carries no token; each request attaches the session's.
	API *client.Client
	// ConnectorID is the social connector used by the linking wizard.
	ConnectorID string
}

// NewApp wires together the application state. The provisioned application
// supplies the sign-in client credentials and connector.
func NewApp(ctx context.Context, cfg Config, provisioned provision.Result, api *client.Client, printer *console.Printer, logger *slog.Logger) (*App, error) {
	auth, err := NewOIDCAuthenticator(ctx, OIDCOptions{
		Issuer:       cfg.Issuer(),
		ClientID:     provisioned.Application.ID,
		ClientSecret: provisioned.Application.Secret,
		RedirectURL:  cfg.SignInRedirectURL(),
		HTTPClient:   api.HTTPClient(),
	}, logger)
	if err != nil {
		return nil, err
	}
	return newApp(cfg, auth, api, provisioned.Connector.ID, printer, logger), nil
}

func newApp(cfg Config, auth Authenticator, api *client.Client, connectorID string, printer *console.Printer, logger *slog.Logger) *App {
	if printer == nil {
		printer = console.Discard()
	}
	store := NewInMemoryStore()
	return &App{
		Config:      cfg,
		Logger:      logger,
		Printer:     printer,
		Store:       store,
		Sessions:    NewSessionManager(cfg, store, logger),
		Auth:        auth,
		API:         api,
		ConnectorID: connectorID,
	}
}

func (a *App) handleHome(w http.ResponseWriter, r *http.Request) {
	sess := a.Sessions.Fetch(r)
	if sess == nil {
		a.render(w, http.StatusOK, "home", homeView{})
		return
	}
	a.render(w, http.StatusOK, "home", homeView{SignedIn: true, Profile: prettyJSON(sess.Claims)})
}

func (a *App) handleSignIn(w http.ResponseWriter, r *http.Request) {
	req := AuthRequest{
		State:        randomToken(32),
		Nonce:        randomToken(32),
		CodeVerifier: oauth2.GenerateVerifier(),
	}
	a.Store.SaveAuthRequest(req)
	a.Sessions.BindAuthRequest(w, req.State)
	http.Redirect(w, r, a.Auth.AuthCodeURL(req.State, req.Nonce, req.CodeVerifier), http.StatusFound)
}

func (a *App) handleSignInCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	a.Sessions.ClearAuthRequest(w)

	if e := q.Get("error"); e != "" {
		a.Logger.Warn("sign-in rejected by provider", "error", e, "description", q.Get("error_description"))
		a.renderError(w, http.StatusBadRequest, errorView{
			Title:   "Sign-in failed",
			Message: e + ": " + q.Get("error_description"),
			Retry:   signInPath,
		})
		return
	}

	state := q.Get("state")
	bound := a.Sessions.AuthRequestState(r)
	if state == "" || subtle.ConstantTimeCompare([]byte(state), []byte(bound)) != 1 {
		a.renderError(w, http.StatusBadRequest, errorView{Title: "Sign-in failed", Message: "State mismatch.", Retry: signInPath})
		return
	}
	req, ok := a.Store.ConsumeAuthRequest(state)
	if !ok {
		a.renderError(w, http.StatusBadRequest, errorView{Title: "Sign-in failed", Message: "Sign-in request expired or unknown.", Retry: signInPath})
		return
	}

	code := q.Get("code")
	if code == "" {
		a.renderError(w, http.StatusBadRequest, errorView{Title: "Sign-in failed", Message: "Missing authorization code.", Retry: signInPath})
		return
	}

	id, err := a.Auth.Exchange(r.Context(), code, req.CodeVerifier, req.Nonce)
	if err != nil {
		a.Logger.Error("sign-in exchange failed", "error", err)
		a.renderError(w, http.StatusBadGateway, errorView{Title: "Sign-in failed", Message: err.Error(), Retry: signInPath})
		return
	}

	sess := a.Sessions.Create(w, id)
	a.Logger.Info("signed in", "user_sub", sess.Subject, "session_id", sess.ID)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (a *App) handleSignOut(w http.ResponseWriter, r *http.Request) {
	sess := a.Sessions.Fetch(r)
	var idToken string
	if sess != nil {
		idToken = sess.IDToken
		a.Logger.Info("signed out", "user_sub", sess.Subject, "session_id", sess.ID)
	}
	a.Sessions.Destroy(w, sess)

	target := a.Auth.EndSessionURL(idToken, a.Config.PostSignOutURL())
	if target == "" {
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// userAPI returns an Account API client holding the session's access token,
// refreshing it when needed. On failure the session is dropped, the browser
// is sent to sign in again and ok is false.
func (a *App) userAPI(w http.ResponseWriter, r *http.Request, sess *Session) (api *client.Client, ok bool) {
	tok, err := a.Auth.Refresh(r.Context(), sess.Token)
	if err != nil {
		a.Logger.Warn("access token unavailable", "user_sub", sess.Subject, "error", err)
		a.Sessions.Destroy(w, sess)
		http.Redirect(w, r, signInPath, http.StatusFound)
		return nil, false
	}
	if tok != sess.Token {
		a.Sessions.Update(sess.ID, func(s *Session) { s.Token = tok })
	}
	return a.API.WithToken(tok.AccessToken), true
}

// remoteFailure renders a provider failure as a 502 page with the provider body.
func (a *App) remoteFailure(w http.ResponseWriter, title string, err error, retry string) {
	a.Logger.Error("remote call failed", "step", title, "error", err)
	view := errorView{Title: title, Message: err.Error(), Retry: retry}
	var se *client.StatusError
	if errors.As(err, &se) {
		view.Message = http.StatusText(se.StatusCode)
		view.Body = prettyBody(se.Body)
	}
	a.renderError(w, http.StatusBadGateway, view)
}

func (a *App) now() time.Time {
	return a.Store.now()
}

func randomToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
