package client

import (
	"context"
	"net/http"
	"time"
)

// VerificationIDHeader carries a password verification record on sensitive
// Account API calls.
const VerificationIDHeader = "logto-verification-id"

// VerificationRecord references a server-side verification.
type VerificationRecord struct {
	ID        string `json:"verificationRecordId"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

// Expiry parses ExpiresAt. ok is false when it is missing or malformed.
func (v VerificationRecord) Expiry() (t time.Time, ok bool) {
	if v.ExpiresAt == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, v.ExpiresAt)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SocialVerification is the response of POST api/verifications/social.
type SocialVerification struct {
	VerificationRecord
	AuthorizationURI string `json:"authorizationUri"`
}

// SocialVerificationInput starts a social verification.
type SocialVerificationInput struct {
	ConnectorID string `json:"connectorId"`
	RedirectURI string `json:"redirectUri"`
	State       string `json:"state"`
}

// CreatePasswordVerification verifies the signed-in user's password.
func (c *Client) CreatePasswordVerification(ctx context.Context, password string) (*VerificationRecord, error) {
	var rec VerificationRecord
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "api/verifications/password",
		in:     map[string]string{"password": password},
		out:    &rec,
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateSocialVerification requests an authorization URI for a social
// connector.
func (c *Client) CreateSocialVerification(ctx context.Context, in SocialVerificationInput) (*SocialVerification, error) {
	var sv SocialVerification
	if err := c.do(ctx, call{method: http.MethodPost, path: "api/verifications/social", in: in, out: &sv}); err != nil {
		return nil, err
	}
	return &sv, nil
}

// VerifySocialVerification submits the connector callback data for a social
// verification record.
func (c *Client) VerifySocialVerification(ctx context.Context, recordID string, connectorData map[string]string) (*VerificationRecord, error) {
	var rec VerificationRecord
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "api/verifications/social/verify",
		in: map[string]any{
			"connectorData":        connectorData,
			"verificationRecordId": recordID,
		},
		out: &rec,
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// LinkIdentity links the verified social identity to the signed-in user.
func (c *Client) LinkIdentity(ctx context.Context, passwordRecordID, socialRecordID string) error {
	return c.do(ctx, call{
		method: http.MethodPost,
		path:   "api/my-account/identities",
		header: http.Header{VerificationIDHeader: {passwordRecordID}},
		in:     map[string]string{"newIdentifierVerificationRecordId": socialRecordID},
	})
}
