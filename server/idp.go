package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// ScopeIdentities grants access to the user's linked social identities.
const ScopeIdentities = "identities"

// Authenticator is the minimal behaviour required from the sign-in provider.
type Authenticator interface {
	AuthCodeURL(state, nonce, codeVerifier string) string
	Exchange(ctx context.Context, code, codeVerifier, expectedNonce string) (Identity, error)
	// Refresh returns a valid access token, refreshing tok when it expired.
	Refresh(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error)
	// EndSessionURL returns the provider logout URL, or "" when unsupported.
	EndSessionURL(idTokenHint, postLogoutRedirect string) string
}

// OIDCAuthenticator signs users in to the default tenant.
type OIDCAuthenticator struct {
	oauthConfig *oauth2.Config
	verifier    *oidc.IDTokenVerifier
	endSession  string
	httpClient  *http.Client
	logger      *slog.Logger
}

// OIDCOptions configures NewOIDCAuthenticator.
type OIDCOptions struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	// HTTPClient is used for discovery, code exchange and refresh.
	HTTPClient *http.Client
}

// NewOIDCAuthenticator initializes the provider via discovery.
func NewOIDCAuthenticator(ctx context.Context, opts OIDCOptions, logger *slog.Logger) (*OIDCAuthenticator, error) {
	if opts.Issuer == "" {
		return nil, errors.New("issuer required")
	}
	if opts.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, opts.HTTPClient)
	}

	op, err := oidc.NewProvider(ctx, opts.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discover provider %s: %w", opts.Issuer, err)
	}

	var meta struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := op.Claims(&meta); err != nil {
		logger.Warn("provider metadata unreadable", "issuer", opts.Issuer, "error", err)
	}

	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", oidc.ScopeOfflineAccess, ScopeIdentities}
	}

	return &OIDCAuthenticator{
		oauthConfig: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Endpoint:     op.Endpoint(),
			Scopes:       scopes,
		},
		verifier:   op.Verifier(&oidc.Config{ClientID: opts.ClientID}),
		endSession: meta.EndSessionEndpoint,
		httpClient: opts.HTTPClient,
		logger:     logger,
	}, nil
}

// AuthCodeURL constructs the authorization request with nonce and PKCE.
func (p *OIDCAuthenticator) AuthCodeURL(state, nonce, codeVerifier string) string {
	opts := []oauth2.AuthCodeOption{
		oidc.Nonce(nonce),
		oauth2.S256ChallengeOption(codeVerifier),
	}
	if hasScope(p.oauthConfig.Scopes, oidc.ScopeOfflineAccess) {
		// Refresh tokens are only issued after an explicit consent prompt.
		opts = append(opts, oauth2.SetAuthURLParam("prompt", "consent"))
	}
	return p.oauthConfig.AuthCodeURL(state, opts...)
}

// Exchange completes the code exchange and verifies the ID token.
func (p *OIDCAuthenticator) Exchange(ctx context.Context, code, codeVerifier, expectedNonce string) (Identity, error) {
	ctx = p.clientContext(ctx)
	tok, err := p.oauthConfig.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return Identity{}, fmt.Errorf("exchange code: %w", err)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return Identity{}, errors.New("id_token missing in response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return Identity{}, fmt.Errorf("verify id_token: %w", err)
	}
	if expectedNonce != "" && idToken.Nonce != expectedNonce {
		return Identity{}, errors.New("nonce mismatch")
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return Identity{}, fmt.Errorf("parse claims: %w", err)
	}

	return Identity{
		Subject: idToken.Subject,
		Claims:  claims,
		Token:   tok,
		IDToken: rawIDToken,
	}, nil
}

// Refresh returns tok when still valid, otherwise uses its refresh token.
func (p *OIDCAuthenticator) Refresh(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
	if tok == nil {
		return nil, errors.New("no token")
	}
	if tok.Valid() {
		return tok, nil
	}
	if tok.RefreshToken == "" {
		return nil, errors.New("access token expired and no refresh token available")
	}
	fresh, err := p.oauthConfig.TokenSource(p.clientContext(ctx), tok).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	p.logger.Debug("access token refreshed", "expiry", fresh.Expiry)
	return fresh, nil
}

// EndSessionURL builds the RP-initiated logout URL.
func (p *OIDCAuthenticator) EndSessionURL(idTokenHint, postLogoutRedirect string) string {
	if p.endSession == "" {
		return ""
	}
	u, err := url.Parse(p.endSession)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("client_id", p.oauthConfig.ClientID)
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	if postLogoutRedirect != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirect)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (p *OIDCAuthenticator) clientContext(ctx context.Context) context.Context {
	if p.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}
