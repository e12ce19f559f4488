package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvGitHubClientID, "gh-id")
	t.Setenv(EnvGitHubClientSecret, "gh-secret")
	t.Setenv(EnvDefaultTenantSecret, "default-secret")
	t.Setenv(EnvAdminTenantSecret, "admin-secret")
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Issuer() != "http://localhost:3001/oidc" {
		t.Fatalf("unexpected issuer %q", cfg.Issuer())
	}
	if cfg.MachineTokenURL() != "http://localhost:3002/oidc/token" {
		t.Fatalf("unexpected token url %q", cfg.MachineTokenURL())
	}
	if cfg.SignInRedirectURL() != "http://localhost:3000/logto/sign-in-callback" {
		t.Fatalf("unexpected redirect %q", cfg.SignInRedirectURL())
	}
	if cfg.SocialCallbackURL() != "http://localhost:3000/step3" {
		t.Fatalf("unexpected social callback %q", cfg.SocialCallbackURL())
	}
	if cfg.Secrets.DefaultTenantSecret != "default-secret" || cfg.Secrets.GitHubClientID != "gh-id" {
		t.Fatalf("secrets not loaded: %+v", cfg.Secrets)
	}
	if cfg.API.Timeout != DefaultAPITimeout {
		t.Fatalf("unexpected api timeout %s", cfg.API.Timeout)
	}
}

func TestLoadConfigAppliesEnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	path := writeConfig(t, `server:
  public_url: http://localhost:3000
  dev_mode: true
# comment lines are ignored
sessions:
  ttl: 2h
api:
  timeout: 5s
`)

	t.Setenv("LINKDEMO_SERVER_PUBLIC_URL", "https://demo.example.com/")
	t.Setenv("LINKDEMO_DEFAULT_ENDPOINT", "https://tenant.example.com")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Server.PublicURL != "https://demo.example.com/" {
		t.Fatalf("PublicURL override mismatch, got %q", cfg.Server.PublicURL)
	}
	if cfg.SocialCallbackURL() != "https://demo.example.com/step3" {
		t.Fatalf("trailing slash not trimmed: %q", cfg.SocialCallbackURL())
	}
	if cfg.Issuer() != "https://tenant.example.com/oidc" {
		t.Fatalf("issuer mismatch: %q", cfg.Issuer())
	}
	if cfg.Sessions.TTL != 2*time.Hour || cfg.API.Timeout != 5*time.Second {
		t.Fatalf("durations not decoded: ttl=%s timeout=%s", cfg.Sessions.TTL, cfg.API.Timeout)
	}
}

func TestLoadConfigMissingSecrets(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv(EnvGitHubClientSecret, "")
	t.Setenv(EnvAdminTenantSecret, "  ")

	_, err := LoadConfig("")
	if err == nil {
		t.Fatalf("expected error for missing environment variables")
	}
	for _, name := range []string{EnvGitHubClientSecret, EnvAdminTenantSecret} {
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("error should name %s, got: %v", name, err)
		}
	}
	if strings.Contains(err.Error(), EnvGitHubClientID) {
		t.Fatalf("error should not name variables that are set: %v", err)
	}
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	setRequiredEnv(t)
	path := writeConfig(t, `server:
  public_url: http://localhost:3000
  unknown_field: value
`)

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatalf("expected error for unknown field")
	}
	if !strings.Contains(err.Error(), "unknown_field") {
		t.Fatalf("error should mention unknown field, got: %v", err)
	}
}

func TestValidateInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"public url scheme", func(c *Config) { c.Server.PublicURL = "ftp://localhost" }, "server.public_url"},
		{"relative endpoint", func(c *Config) { c.Tenants.Default.Endpoint = "localhost:3001" }, "tenants.default.endpoint"},
		{"missing resource", func(c *Config) { c.Tenants.Default.Resource = "" }, "tenants.default.resource"},
		{"production without domains", func(c *Config) { c.Server.DevMode = false }, "server.tls.domains"},
		{"zero timeout", func(c *Config) { c.API.Timeout = 0 }, "api.timeout"},
		{"cookie domain mismatch", func(c *Config) { c.Server.CookieDomain = "example.com" }, "server.cookie_domain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error should mention %s, got: %v", tt.want, err)
			}
		})
	}
}

func TestSplitAndTrimRemovesEmpty(t *testing.T) {
	in := " a , ,b,, c "
	out := splitAndTrim(in)
	expected := []string{"a", "b", "c"}
	if len(out) != len(expected) {
		t.Fatalf("unexpected length: got %d want %d", len(out), len(expected))
	}
	for i := range expected {
		if out[i] != expected[i] {
			t.Fatalf("element %d mismatch: got %q want %q", i, out[i], expected[i])
		}
	}
}

func TestParseBoolFallback(t *testing.T) {
	if parseBool("", true) != true {
		t.Fatalf("empty input should return fallback true")
	}
	if parseBool("invalid", false) != false {
		t.Fatalf("invalid input should return fallback false")
	}
	if parseBool("YES", false) != true {
		t.Fatalf("expected true for yes")
	}
	if parseBool("0", true) != false {
		t.Fatalf("expected false for zero")
	}
}

func TestParseDurationFallback(t *testing.T) {
	fallback := 5 * time.Minute
	if parseDuration("bogus", fallback) != fallback {
		t.Fatalf("invalid duration should return fallback")
	}
	if parseDuration("30s", fallback) != 30*time.Second {
		t.Fatalf("parsed duration mismatch")
	}
}
