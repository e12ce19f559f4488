// Package provision prepares a tenant for the linking demo: an application
// with a secret, a GitHub connector, the account center and a demo user.
// Every step is a get-or-create keyed by a natural key, so running it again
// against the same tenant creates nothing new.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"sociallink/client"
	"sociallink/console"
)

const (
	// GitHubConnectorID is the fixed id of the GitHub connector.
	GitHubConnectorID = "github"
	// GitHubConnectorFactory is the connector factory used when creating it.
	GitHubConnectorFactory = "github-universal"

	applicationType = "Traditional"
)

// ErrNoApplicationSecret is returned when the application has no secret.
var ErrNoApplicationSecret = errors.New("application secret is required, but not found")

// Options describes what to provision.
type Options struct {
	Application ApplicationOptions
	User        UserOptions
	GitHubApp   GitHubAppOptions
}

// ApplicationOptions names the OIDC application and its redirect URIs.
type ApplicationOptions struct {
	Name                   string
	RedirectURIs           []string
	PostLogoutRedirectURIs []string
}

// UserOptions are the demo user's credentials.
type UserOptions struct {
	Username string
	Password string
}

// GitHubAppOptions are the GitHub OAuth app credentials.
type GitHubAppOptions struct {
	ClientID     string
	ClientSecret string
}

// Result holds what the web application needs from provisioning.
type Result struct {
	Application ApplicationResult
	Connector   ConnectorResult
}

// ApplicationResult identifies the provisioned application.
type ApplicationResult struct {
	ID     string
	Secret string
}

// ConnectorResult identifies the provisioned connector.
type ConnectorResult struct {
	ID          string
	ConnectorID string
}

// Provisioner runs the provisioning sequence.
type Provisioner struct {
	// API is the management API client of the target tenant, without a token.
	API *client.Client
	// Machine are the credentials used to obtain a management token.
	Machine client.MachineCredentials
	// Validator, when set, verifies the management token before use.
	Validator *client.Validator
	Printer   *console.Printer
	Logger    *slog.Logger
}

// Run executes every step in order and stops at the first failure.
func (p *Provisioner) Run(ctx context.Context, opts Options) (Result, error) {
	p.info("Getting access token for default tenant")
	tok, err := client.MachineToken(ctx, p.API.HTTPClient(), p.Machine)
	if err != nil {
		return Result{}, fmt.Errorf("get machine token: %w", err)
	}
	if p.Validator != nil {
		claims, err := p.Validator.Validate(ctx, tok.AccessToken)
		if err != nil {
			return Result{}, fmt.Errorf("verify machine token: %w", err)
		}
		if err := claims.HasScopes(p.Machine.Scopes...); err != nil {
			return Result{}, fmt.Errorf("verify machine token: %w", err)
		}
		p.logger().Debug("machine token verified", "client_id", claims.ClientID, "aud", claims.Audiences, "expires_at", claims.ExpiresAt)
	}
	api := p.API.WithToken(tok.AccessToken)

	app, err := p.ensureApplication(ctx, api, opts.Application)
	if err != nil {
		return Result{}, err
	}
	secret, err := p.applicationSecret(ctx, api, app.ID)
	if err != nil {
		return Result{}, err
	}
	conn, err := p.ensureGitHubConnector(ctx, api, opts.GitHubApp)
	if err != nil {
		return Result{}, err
	}
	if err := p.enableAccountCenter(ctx, api); err != nil {
		return Result{}, err
	}
	user, err := p.ensureUser(ctx, api, opts.User)
	if err != nil {
		return Result{}, err
	}

	p.logger().Info("tenant provisioned",
		"application_id", app.ID,
		"connector_id", conn.ID,
		"user_id", user.ID,
	)
	return Result{
		Application: ApplicationResult{ID: app.ID, Secret: secret.Value},
		Connector:   ConnectorResult{ID: conn.ID, ConnectorID: conn.ConnectorID},
	}, nil
}

func (p *Provisioner) ensureApplication(ctx context.Context, api *client.Client, opts ApplicationOptions) (*client.Application, error) {
	p.info("Create application if not exists")
	app, err := api.FindApplicationByName(ctx, opts.Name)
	if err != nil {
		return nil, fmt.Errorf("find application %q: %w", opts.Name, err)
	}
	if app != nil {
		return app, nil
	}
	app, err = api.CreateApplication(ctx, client.CreateApplicationInput{
		Type: applicationType,
		Name: opts.Name,
		OIDCClientMetadata: client.OIDCClientMetadata{
			RedirectURIs:           nonNil(opts.RedirectURIs),
			PostLogoutRedirectURIs: nonNil(opts.PostLogoutRedirectURIs),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create application %q: %w", opts.Name, err)
	}
	return app, nil
}

func (p *Provisioner) applicationSecret(ctx context.Context, api *client.Client, applicationID string) (*client.ApplicationSecret, error) {
	p.info("Get application secrets")
	secrets, err := api.ListApplicationSecrets(ctx, applicationID)
	if err != nil {
		return nil, fmt.Errorf("list application secrets: %w", err)
	}
	if len(secrets) == 0 {
		return nil, ErrNoApplicationSecret
	}
	return &secrets[0], nil
}

// ensureGitHubConnector creates the connector only when the lookup reports
// 404. An existing connector is returned as is, even if its credentials
// differ from opts.
func (p *Provisioner) ensureGitHubConnector(ctx context.Context, api *client.Client, opts GitHubAppOptions) (*client.Connector, error) {
	p.info("Create GitHub connector if not exists")
	conn, err := api.GetConnector(ctx, GitHubConnectorID)
	if err == nil {
		return conn, nil
	}
	if !client.IsNotFound(err) {
		return nil, fmt.Errorf("get connector %q: %w", GitHubConnectorID, err)
	}
	conn, err = api.CreateConnector(ctx, client.CreateConnectorInput{
		ConnectorID: GitHubConnectorFactory,
		Config: map[string]any{
			"clientId":     opts.ClientID,
			"clientSecret": opts.ClientSecret,
		},
		ID:          GitHubConnectorID,
		SyncProfile: false,
	})
	if err != nil {
		return nil, fmt.Errorf("create connector %q: %w", GitHubConnectorID, err)
	}
	return conn, nil
}

func (p *Provisioner) enableAccountCenter(ctx context.Context, api *client.Client) error {
	p.info("Enable account center")
	err := api.UpdateAccountCenter(ctx, client.AccountCenterSettings{
		Enabled: true,
		Fields:  map[string]string{"social": "Edit"},
	})
	if err != nil {
		return fmt.Errorf("enable account center: %w", err)
	}
	return nil
}

func (p *Provisioner) ensureUser(ctx context.Context, api *client.Client, opts UserOptions) (*client.User, error) {
	p.info("Create user if not exists")
	user, err := api.FindUserByUsername(ctx, opts.Username)
	if err != nil {
		return nil, fmt.Errorf("find user %q: %w", opts.Username, err)
	}
	if user != nil {
		return user, nil
	}
	user, err = api.CreateUser(ctx, client.CreateUserInput{Username: opts.Username, Password: opts.Password})
	if err != nil {
		return nil, fmt.Errorf("create user %q: %w", opts.Username, err)
	}
	return user, nil
}

// Summary returns the result as printable rows.
func (r Result) Summary() [][2]string {
	return [][2]string{
		{"application.id", r.Application.ID},
		{"application.secret", mask(r.Application.Secret)},
		{"connector.id", r.Connector.ID},
		{"connector.connectorId", r.Connector.ConnectorID},
	}
}

func (p *Provisioner) info(msg string) {
	if p.Printer != nil {
		p.Printer.Info(msg)
	}
}

func (p *Provisioner) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func mask(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:4] + "****"
}

// IsAuthFailure reports whether err came from a rejected credential.
func IsAuthFailure(err error) bool {
	code := client.StatusCode(err)
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}
