package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Hardcoded defaults
const (
	DefaultSessionTTL = 12 * time.Hour
	DefaultAPITimeout = 30 * time.Second
	DefaultHSTSMaxAge = 63072000
)

// Environment variables that must be present at startup.
const (
	EnvGitHubClientID      = "GITHUB_APP_CLIENT_ID"
	EnvGitHubClientSecret  = "GITHUB_APP_CLIENT_SECRET"
	EnvDefaultTenantSecret = "DEFAULT_TENANT_SECRET"
	EnvAdminTenantSecret   = "ADMIN_TENANT_SECRET"
)

// Config captures the full application configuration loaded from YAML and environment variables.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tenants   TenantsConfig   `yaml:"tenants"`
	Provision ProvisionConfig `yaml:"provision"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	API       APIConfig       `yaml:"api"`
	Log       LogConfig       `yaml:"log"`

	// Secrets only ever come from the environment.
	Secrets Secrets `yaml:"-"`
}

// ServerConfig controls the listener and cookies.
type ServerConfig struct {
	PublicURL    string    `yaml:"public_url"`
	ListenAddr   string    `yaml:"listen_addr"`
	DevMode      bool      `yaml:"dev_mode"`
	CookieDomain string    `yaml:"cookie_domain"`
	TLS          TLSConfig `yaml:"tls"`
}

// TLSConfig defines autocert behaviour outside dev mode.
type TLSConfig struct {
	Domains    []string `yaml:"domains"`
	Email      string   `yaml:"email"`
	CacheDir   string   `yaml:"cache_dir"`
	HSTSMaxAge int      `yaml:"hsts_max_age"`

	// RedirectAddr serves ACME http-01 challenges and redirects to https.
	RedirectAddr string `yaml:"redirect_addr"`
}

// TenantsConfig locates the admin tenant (which issues machine tokens) and
// the tenant being provisioned.
type TenantsConfig struct {
	Admin   AdminTenant   `yaml:"admin"`
	Default DefaultTenant `yaml:"default"`
}

// AdminTenant hosts the machine-to-machine application.
type AdminTenant struct {
	Endpoint        string `yaml:"endpoint"`
	MachineClientID string `yaml:"machine_client_id"`
}

// DefaultTenant is the tenant users sign in to.
type DefaultTenant struct {
	Endpoint string `yaml:"endpoint"`
	Resource string `yaml:"resource"`
}

// ProvisionConfig names the resources created at boot.
type ProvisionConfig struct {
	ApplicationName string `yaml:"application_name"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	VerifyToken     bool   `yaml:"verify_token"`
}

// SessionsConfig controls browser sessions.
type SessionsConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// APIConfig controls outbound calls.
type APIConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// LogConfig controls console output.
type LogConfig struct {
	Color bool `yaml:"color"`
}

// Secrets holds credentials read from the environment.
type Secrets struct {
	GitHubClientID      string
	GitHubClientSecret  string
	DefaultTenantSecret string
	AdminTenantSecret   string
}

// LoadConfig reads the optional YAML config file, merges environment
// overrides and required secrets, and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		sanitized := stripYAMLComments(b)

		// Use strict unmarshaling to detect unknown fields
		decoder := yaml.NewDecoder(bytes.NewReader(sanitized))
		decoder.KnownFields(true)

		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
				slog.Error("Configuration contains unknown keys", "error", err, "file", path)
				return Config{}, fmt.Errorf("invalid config: %w (check for typos or deprecated fields)", err)
			}
			slog.Error("Failed to parse configuration", "error", err, "file", path)
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	secrets, err := loadSecrets()
	if err != nil {
		return Config{}, err
	}
	cfg.Secrets = secrets

	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return Config{}, err
	}

	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			PublicURL:  "http://localhost:3000",
			ListenAddr: "localhost:3000",
			DevMode:    true,
			TLS: TLSConfig{
				CacheDir:     ".secrets/tls",
				HSTSMaxAge:   DefaultHSTSMaxAge,
				RedirectAddr: ":80",
			},
		},
		Tenants: TenantsConfig{
			Admin: AdminTenant{
				Endpoint:        "http://localhost:3002/",
				MachineClientID: "m-default",
			},
			Default: DefaultTenant{
				Endpoint: "http://localhost:3001/",
				Resource: "https://default.logto.app/api",
			},
		},
		Provision: ProvisionConfig{
			ApplicationName: "test",
			Username:        "test",
			Password:        "test",
			VerifyToken:     true,
		},
		Sessions: SessionsConfig{TTL: DefaultSessionTTL},
		API:      APIConfig{Timeout: DefaultAPITimeout},
		Log:      LogConfig{Color: true},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

func stripYAMLComments(in []byte) []byte {
	lines := bytes.Split(in, []byte("\n"))
	out := make([][]byte, 0, len(lines))
	for _, line := range lines {
		trim := bytes.TrimLeft(line, " \t")
		if len(trim) > 0 && trim[0] == '#' {
			continue
		}
		out = append(out, line)
	}
	return bytes.Join(out, []byte("\n"))
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		"LINKDEMO_SERVER_PUBLIC_URL":  func(v string) { cfg.Server.PublicURL = v },
		"LINKDEMO_SERVER_LISTEN_ADDR": func(v string) { cfg.Server.ListenAddr = v },
		"LINKDEMO_SERVER_DEV_MODE":    func(v string) { cfg.Server.DevMode = parseBool(v, cfg.Server.DevMode) },
		"LINKDEMO_SERVER_TLS_DOMAINS": func(v string) { cfg.Server.TLS.Domains = splitAndTrim(v) },
		"LINKDEMO_SERVER_TLS_EMAIL":   func(v string) { cfg.Server.TLS.Email = v },
		"LINKDEMO_ADMIN_ENDPOINT":     func(v string) { cfg.Tenants.Admin.Endpoint = v },
		"LINKDEMO_DEFAULT_ENDPOINT":   func(v string) { cfg.Tenants.Default.Endpoint = v },
		"LINKDEMO_DEFAULT_RESOURCE":   func(v string) { cfg.Tenants.Default.Resource = v },
		"LINKDEMO_PROVISION_APP_NAME": func(v string) { cfg.Provision.ApplicationName = v },
		"LINKDEMO_PROVISION_USERNAME": func(v string) { cfg.Provision.Username = v },
		"LINKDEMO_PROVISION_PASSWORD": func(v string) { cfg.Provision.Password = v },
		"LINKDEMO_PROVISION_VERIFY":   func(v string) { cfg.Provision.VerifyToken = parseBool(v, cfg.Provision.VerifyToken) },
		"LINKDEMO_SESSION_TTL":        func(v string) { cfg.Sessions.TTL = parseDuration(v, cfg.Sessions.TTL) },
		"LINKDEMO_API_TIMEOUT":        func(v string) { cfg.API.Timeout = parseDuration(v, cfg.API.Timeout) },
		"LINKDEMO_LOG_COLOR":          func(v string) { cfg.Log.Color = parseBool(v, cfg.Log.Color) },
	}

	for key, fn := range overrides {
		if val, ok := os.LookupEnv(key); ok {
			fn(val)
		}
	}
}

func loadSecrets() (Secrets, error) {
	var missing []string
	get := func(key string) string {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}
	s := Secrets{
		GitHubClientID:      get(EnvGitHubClientID),
		GitHubClientSecret:  get(EnvGitHubClientSecret),
		DefaultTenantSecret: get(EnvDefaultTenantSecret),
		AdminTenantSecret:   get(EnvAdminTenantSecret),
	}
	if len(missing) > 0 {
		slog.Error("Missing required environment variables", "variables", missing)
		return Secrets{}, fmt.Errorf("%s is required. Please set it in the environment", strings.Join(missing, ", "))
	}
	return s, nil
}

func parseDuration(val string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

func parseBool(val string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate performs minimal sanity checks on the config.
func (c Config) Validate() error {
	if err := requireHTTPURL("server.public_url", c.Server.PublicURL); err != nil {
		return err
	}
	if c.Server.ListenAddr == "" {
		slog.Error("Missing required configuration", "field", "server.listen_addr")
		return errors.New("server.listen_addr is required")
	}
	if !c.Server.DevMode && len(c.Server.TLS.Domains) == 0 {
		slog.Error("Missing required configuration for production mode", "field", "server.tls.domains")
		return errors.New("server.tls.domains must be provided in production")
	}

	if err := requireHTTPURL("tenants.admin.endpoint", c.Tenants.Admin.Endpoint); err != nil {
		return err
	}
	if err := requireHTTPURL("tenants.default.endpoint", c.Tenants.Default.Endpoint); err != nil {
		return err
	}
	if c.Tenants.Default.Resource == "" {
		slog.Error("Missing required configuration", "field", "tenants.default.resource")
		return errors.New("tenants.default.resource is required")
	}
	if c.Tenants.Admin.MachineClientID == "" {
		slog.Error("Missing required configuration", "field", "tenants.admin.machine_client_id")
		return errors.New("tenants.admin.machine_client_id is required")
	}

	if c.Provision.ApplicationName == "" || c.Provision.Username == "" {
		slog.Error("Missing required provisioning configuration", "fields", []string{"provision.application_name", "provision.username"})
		return errors.New("provision.application_name and provision.username are required")
	}

	if c.Sessions.TTL <= 0 {
		return fmt.Errorf("sessions.ttl must be positive, got %s", c.Sessions.TTL)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive, got %s", c.API.Timeout)
	}

	// Cookie domain should be a suffix of the public URL host
	if c.Server.CookieDomain != "" {
		u, _ := url.Parse(c.Server.PublicURL)
		cookieDomain := strings.TrimPrefix(c.Server.CookieDomain, ".")
		if !strings.HasSuffix(u.Hostname(), cookieDomain) {
			slog.Error("Cookie domain mismatch",
				"field", "server.cookie_domain",
				"cookie_domain", c.Server.CookieDomain,
				"public_url_domain", u.Hostname())
			return fmt.Errorf("server.cookie_domain '%s' does not match server.public_url domain '%s'", c.Server.CookieDomain, u.Hostname())
		}
	}

	return nil
}

func requireHTTPURL(field, raw string) error {
	if raw == "" {
		slog.Error("Missing required configuration", "field", field)
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		slog.Error("Invalid configuration value", "field", field, "value", raw, "reason", "must be an absolute http(s) URL")
		return fmt.Errorf("%s must be an absolute http:// or https:// URL, got: %s", field, raw)
	}
	return nil
}

// PublicBase returns the public URL without a trailing slash.
func (c Config) PublicBase() string {
	return strings.TrimSuffix(c.Server.PublicURL, "/")
}

// SignInRedirectURL is the OIDC redirect URI registered on the application.
func (c Config) SignInRedirectURL() string {
	return c.PublicBase() + callbackPath
}

// PostSignOutURL is where the provider sends the browser after sign-out.
func (c Config) PostSignOutURL() string {
	return c.PublicBase() + "/"
}

// SocialCallbackURL receives the GitHub authorization callback.
func (c Config) SocialCallbackURL() string {
	return c.PublicBase() + step3Path
}

// Issuer is the OIDC issuer of the default tenant.
func (c Config) Issuer() string {
	return joinEndpoint(c.Tenants.Default.Endpoint, "oidc")
}

// AdminIssuer is the OIDC issuer of the admin tenant.
func (c Config) AdminIssuer() string {
	return joinEndpoint(c.Tenants.Admin.Endpoint, "oidc")
}

// MachineTokenURL is the admin tenant's token endpoint.
func (c Config) MachineTokenURL() string {
	return joinEndpoint(c.Tenants.Admin.Endpoint, "oidc/token")
}

// AdminJWKSURL is the admin tenant's key set.
func (c Config) AdminJWKSURL() string {
	return joinEndpoint(c.Tenants.Admin.Endpoint, "oidc/jwks")
}

func joinEndpoint(endpoint, path string) string {
	return strings.TrimSuffix(endpoint, "/") + "/" + strings.TrimPrefix(path, "/")
}
