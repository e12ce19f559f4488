package server

import (
	"time"

	"golang.org/x/oauth2"
)

// Session captures a signed-in browser session bound to a cookie.
type Session struct {
	ID        string
	Subject   string
	Claims    map[string]any
	Token     *oauth2.Token
	IDToken   string
	AuthTime  time.Time
	ExpiresAt time.Time

	// Wizard holds the account-linking progress of this session.
	Wizard WizardState
}

// WizardState records the verification records collected by the linking
// wizard. It is only ever visible to the session that created it.
type WizardState struct {
	Password VerificationRef
	Social   VerificationRef
	// SocialState is the CSRF state sent with the social authorization
	// request and expected back on the callback.
	SocialState string
}

// VerificationRef is a verification record id and the time it stops being usable.
type VerificationRef struct {
	ID        string
	ExpiresAt time.Time
}

// Valid reports whether the record is present and not expired at now.
func (v VerificationRef) Valid(now time.Time) bool {
	return v.ID != "" && now.Before(v.ExpiresAt)
}

// AuthRequest tracks an outstanding sign-in redirect.
type AuthRequest struct {
	State        string
	Nonce        string
	CodeVerifier string
	CreatedAt    time.Time
}

// Identity is the result of a completed sign-in.
type Identity struct {
	Subject string
	Claims  map[string]any
	Token   *oauth2.Token
	IDToken string
}
