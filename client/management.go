package client

import (
	"context"
	"net/http"
	"net/url"
)

// Application is a provider-side OIDC application.
type Application struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// ApplicationSecret is a client secret attached to an application.
type ApplicationSecret struct {
	ApplicationID string `json:"applicationId"`
	Name          string `json:"name"`
	Value         string `json:"value"`
}

// Connector is a configured third-party identity source.
type Connector struct {
	ID          string `json:"id"`
	ConnectorID string `json:"connectorId"`
}

// User is a tenant user.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	CreatedAt int64  `json:"createdAt"`
}

// OIDCClientMetadata carries the redirect URIs of an application.
type OIDCClientMetadata struct {
	RedirectURIs           []string `json:"redirectUris"`
	PostLogoutRedirectURIs []string `json:"postLogoutRedirectUris"`
}

// CreateApplicationInput is the body of POST api/applications.
type CreateApplicationInput struct {
	Type               string             `json:"type"`
	Name               string             `json:"name"`
	OIDCClientMetadata OIDCClientMetadata `json:"oidcClientMetadata"`
}

// CreateConnectorInput is the body of POST api/connectors.
type CreateConnectorInput struct {
	ConnectorID string         `json:"connectorId"`
	Config      map[string]any `json:"config"`
	ID          string         `json:"id"`
	SyncProfile bool           `json:"syncProfile"`
}

// CreateUserInput is the body of POST api/users.
type CreateUserInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AccountCenterSettings is the body of PATCH api/account-center.
type AccountCenterSettings struct {
	Enabled bool              `json:"enabled"`
	Fields  map[string]string `json:"fields"`
}

// FindApplicationByName returns the application whose name matches exactly,
// or nil when there is none.
func (c *Client) FindApplicationByName(ctx context.Context, name string) (*Application, error) {
	var apps []Application
	err := c.do(ctx, call{
		method: http.MethodGet,
		path:   "api/applications",
		query:  url.Values{"search.name": {name}, "mode.name": {"exact"}},
		out:    &apps,
	})
	if err != nil {
		return nil, err
	}
	if len(apps) == 0 {
		return nil, nil
	}
	return &apps[0], nil
}

// CreateApplication creates an application.
func (c *Client) CreateApplication(ctx context.Context, in CreateApplicationInput) (*Application, error) {
	var app Application
	if err := c.do(ctx, call{method: http.MethodPost, path: "api/applications", in: in, out: &app}); err != nil {
		return nil, err
	}
	return &app, nil
}

// ListApplicationSecrets lists the secrets of an application.
func (c *Client) ListApplicationSecrets(ctx context.Context, applicationID string) ([]ApplicationSecret, error) {
	var secrets []ApplicationSecret
	err := c.do(ctx, call{
		method: http.MethodGet,
		path:   "api/applications/" + url.PathEscape(applicationID) + "/secrets",
		out:    &secrets,
	})
	if err != nil {
		return nil, err
	}
	return secrets, nil
}

// GetConnector fetches a connector by id.
func (c *Client) GetConnector(ctx context.Context, id string) (*Connector, error) {
	var conn Connector
	if err := c.do(ctx, call{method: http.MethodGet, path: "api/connectors/" + url.PathEscape(id), out: &conn}); err != nil {
		return nil, err
	}
	return &conn, nil
}

// CreateConnector creates a connector.
func (c *Client) CreateConnector(ctx context.Context, in CreateConnectorInput) (*Connector, error) {
	var conn Connector
	if err := c.do(ctx, call{method: http.MethodPost, path: "api/connectors", in: in, out: &conn}); err != nil {
		return nil, err
	}
	return &conn, nil
}

// UpdateAccountCenter patches the tenant's account center settings.
func (c *Client) UpdateAccountCenter(ctx context.Context, settings AccountCenterSettings) error {
	return c.do(ctx, call{method: http.MethodPatch, path: "api/account-center", in: settings})
}

// FindUserByUsername returns the user whose username matches exactly, or nil
// when there is none.
func (c *Client) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	var users []User
	err := c.do(ctx, call{
		method: http.MethodGet,
		path:   "api/users",
		query:  url.Values{"search.username": {username}, "mode.username": {"exact"}},
		out:    &users,
	})
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}
	return &users[0], nil
}

// CreateUser creates a user with a password.
func (c *Client) CreateUser(ctx context.Context, in CreateUserInput) (*User, error) {
	var user User
	if err := c.do(ctx, call{method: http.MethodPost, path: "api/users", in: in, out: &user}); err != nil {
		return nil, err
	}
	return &user, nil
}
