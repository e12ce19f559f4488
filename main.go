package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/acme/autocert"
	"gopkg.in/yaml.v3"

	"sociallink/client"
	"sociallink/console"
	"sociallink/provision"
	"sociallink/server"
)

const defaultConfigFile = "./config.yaml"

func main() {
	configPath := flag.String("config", os.Getenv("LINKDEMO_CONFIG"), "Path to YAML config")
	configCmd := flag.String("config-cmd", "", "Config command: 'init' or 'validate'")
	logLevel := flag.String("log-level", "info", "Logging level (debug, info, warn, error)")
	flag.StringVar(logLevel, "l", "info", "Alias for -log-level")
	flag.Parse()

	level, err := parseLogLevel(*logLevel)
	if err != nil {
		log.Fatalf("invalid log level %q: %v", *logLevel, err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Handle config commands (init/validate)
	if *configCmd != "" {
		configFile := *configPath
		if configFile == "" {
			configFile = defaultConfigFile
		}

		switch *configCmd {
		case "init":
			if err := runConfigInit(configFile, os.Stdin, logger); err != nil {
				log.Fatalf("config init failed: %v", err)
			}
			logger.Info("configuration initialized successfully", "path", configFile)
			return
		case "validate":
			if err := runConfigValidate(configFile, logger); err != nil {
				log.Fatalf("config validation failed: %v", err)
			}
			logger.Info("configuration is valid", "path", configFile)
			return
		default:
			log.Fatalf("unknown config command %q. Use 'init' or 'validate'", *configCmd)
		}
	}

	cfg, err := loadConfig(*configPath, logger)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	printer := console.New(os.Stderr, cfg.Log.Color)
	httpClient := client.NewHTTPClient(cfg.API.Timeout, printer)

	// Validate URLs are accessible on startup
	checkCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	validateStartupURLs(checkCtx, cfg, logger)
	cancel()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api, err := client.New(cfg.Tenants.Default.Endpoint, httpClient)
	if err != nil {
		log.Fatalf("init api client: %v", err)
	}

	result, err := newProvisioner(cfg, api, printer, logger).Run(ctx, provisionOptions(cfg))
	if err != nil {
		if provision.IsAuthFailure(err) {
			logger.Error("machine credentials rejected", "client_id", cfg.Tenants.Admin.MachineClientID, "hint", "check "+server.EnvDefaultTenantSecret)
		}
		log.Fatalf("provision tenant: %v", err)
	}
	printer.Summary("Provisioned", result.Summary())

	application, err := server.NewApp(ctx, cfg, result, api, printer, logger)
	if err != nil {
		log.Fatalf("init app: %v", err)
	}

	stopSweep := make(chan struct{})
	application.Store.StartSweeper(time.Minute, stopSweep)
	defer close(stopSweep)

	handler := application.Routes()

	var shutdownFns []func(context.Context) error

	if cfg.Server.DevMode {
		srv := &http.Server{
			Addr:         cfg.Server.ListenAddr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: cfg.API.Timeout + 15*time.Second,
		}
		shutdownFns = append(shutdownFns, srv.Shutdown)
		logger.Info("server listening", "mode", "dev", "addr", cfg.Server.ListenAddr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("server error", "error", err)
			}
		}()
	} else {
		m := &autocert.Manager{
			Cache:      autocert.DirCache(cfg.Server.TLS.CacheDir),
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.Server.TLS.Domains...),
			Email:      cfg.Server.TLS.Email,
		}
		tlsCfg := &tls.Config{
			GetCertificate: m.GetCertificate,
			MinVersion:     tls.VersionTLS12,
		}

		httpRedirect := &http.Server{
			Addr:    cfg.Server.TLS.RedirectAddr,
			Handler: m.HTTPHandler(http.HandlerFunc(redirectToHTTPS)),
		}
		shutdownFns = append(shutdownFns, httpRedirect.Shutdown)
		go func() {
			if err := httpRedirect.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("http redirect error", "error", err)
			}
		}()

		httpsSrv := &http.Server{
			Addr:      cfg.Server.ListenAddr,
			Handler:   handler,
			TLSConfig: tlsCfg,
		}
		shutdownFns = append(shutdownFns, httpsSrv.Shutdown)
		logger.Info("server listening", "mode", "prod", "addr", cfg.Server.ListenAddr)
		go func() {
			if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				logger.Error("https server error", "error", err)
			}
		}()
	}

	printer.Info(fmt.Sprintf("Application started at %s. Open it in your browser.", cfg.PublicBase()))

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	for _, fn := range shutdownFns {
		_ = fn(shutdownCtx)
	}
}

func redirectToHTTPS(w http.ResponseWriter, r *http.Request) {
	target := "https://" + r.Host + r.URL.RequestURI()
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

func newProvisioner(cfg server.Config, api *client.Client, printer *console.Printer, logger *slog.Logger) *provision.Provisioner {
	p := &provision.Provisioner{
		API: api,
		Machine: client.MachineCredentials{
			TokenURL:     cfg.MachineTokenURL(),
			ClientID:     cfg.Tenants.Admin.MachineClientID,
			ClientSecret: cfg.Secrets.DefaultTenantSecret,
			Resource:     cfg.Tenants.Default.Resource,
			Scopes:       []string{"all"},
		},
		Printer: printer,
		Logger:  logger,
	}
	if cfg.Provision.VerifyToken {
		p.Validator = client.NewValidator(client.ValidatorConfig{
			Issuer:           cfg.AdminIssuer(),
			JWKSURL:          cfg.AdminJWKSURL(),
			ExpectedAudience: cfg.Tenants.Default.Resource,
			HTTPClient:       api.HTTPClient(),
		})
	}
	return p
}

func provisionOptions(cfg server.Config) provision.Options {
	return provision.Options{
		Application: provision.ApplicationOptions{
			Name:                   cfg.Provision.ApplicationName,
			RedirectURIs:           []string{cfg.SignInRedirectURL()},
			PostLogoutRedirectURIs: []string{cfg.PostSignOutURL()},
		},
		User: provision.UserOptions{
			Username: cfg.Provision.Username,
			Password: cfg.Provision.Password,
		},
		GitHubApp: provision.GitHubAppOptions{
			ClientID:     cfg.Secrets.GitHubClientID,
			ClientSecret: cfg.Secrets.GitHubClientSecret,
		},
	}
}

// loadConfig reads path when given. Without a path, ./config.yaml is used
// if present and built-in defaults otherwise.
func loadConfig(path string, logger *slog.Logger) (server.Config, error) {
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err != nil {
			logger.Debug("no config file, using defaults")
			return server.LoadConfig("")
		}
		path = defaultConfigFile
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return server.Config{}, fmt.Errorf("config file not found at %s. Run with -config-cmd=init to create it", path)
		}
		return server.Config{}, fmt.Errorf("stat config: %w", err)
	}
	logger.Debug("loading config", "path", path)
	return server.LoadConfig(path)
}

func runConfigInit(path string, in io.Reader, logger *slog.Logger) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s. Remove it first or use a different path", path)
	}
	cfg := runSetup(bufio.NewReader(in), path)
	if err := writeConfigFile(path, cfg); err != nil {
		return err
	}
	logger.Info("configuration created", "path", path)
	return nil
}

func runConfigValidate(path string, logger *slog.Logger) error {
	cfg, err := server.LoadConfig(path)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("validating configuration URLs...")
	for _, target := range discoveryURLs(cfg) {
		if err := validateURL(ctx, target.url, nil); err != nil {
			logger.Error("tenant URL validation failed", "tenant", target.name, "url", target.url, "error", err)
		} else {
			logger.Info("tenant URL is accessible", "tenant", target.name, "url", target.url)
		}
	}
	logger.Info("configuration validation complete")
	return nil
}

type namedURL struct {
	name string
	url  string
}

func discoveryURLs(cfg server.Config) []namedURL {
	return []namedURL{
		{name: "admin", url: cfg.AdminIssuer() + "/.well-known/openid-configuration"},
		{name: "default", url: cfg.Issuer() + "/.well-known/openid-configuration"},
	}
}

func validateStartupURLs(ctx context.Context, cfg server.Config, logger *slog.Logger) {
	// Non-blocking, just warnings
	for _, target := range discoveryURLs(cfg) {
		if err := validateURL(ctx, target.url, nil); err != nil {
			logger.Warn("tenant URL may not be accessible",
				"tenant", target.name,
				"url", target.url,
				"error", err,
				"note", "provisioning will be attempted anyway")
		} else {
			logger.Debug("tenant URL is accessible", "tenant", target.name, "url", target.url)
		}
	}
}

func validateURL(ctx context.Context, urlStr string, httpClient *http.Client) error {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("received status %d", resp.StatusCode)
	}
	return nil
}

func runSetup(reader *bufio.Reader, path string) server.Config {
	fmt.Printf("Creating configuration at %s. Press Enter to accept defaults.\n", path)

	cfg := server.DefaultConfig()

	devMode := askYesNo(reader, "Run in development mode?", true)
	cfg.Server.DevMode = devMode

	if devMode {
		cfg.Server.PublicURL = strings.TrimSuffix(ask(reader, "Public URL", cfg.Server.PublicURL), "/")
		cfg.Server.ListenAddr = ask(reader, "Listen address", cfg.Server.ListenAddr)
	} else {
		domain := askRequired(reader, "Primary public domain (e.g. link.example.com)")
		cfg.Server.TLS.Domains = []string{domain}
		cfg.Server.PublicURL = "https://" + strings.TrimSuffix(domain, "/")
		cfg.Server.TLS.Email = ask(reader, "ACME contact email", cfg.Server.TLS.Email)
		cfg.Server.ListenAddr = ":443"
	}

	cfg.Tenants.Admin.Endpoint = ask(reader, "Admin tenant endpoint", cfg.Tenants.Admin.Endpoint)
	cfg.Tenants.Default.Endpoint = ask(reader, "Default tenant endpoint", cfg.Tenants.Default.Endpoint)
	cfg.Tenants.Default.Resource = ask(reader, "Default tenant management API resource", cfg.Tenants.Default.Resource)

	return cfg
}

func ask(reader *bufio.Reader, prompt, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", prompt, def)
	} else {
		fmt.Printf("%s: ", prompt)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return strings.TrimSpace(def)
	}
	return input
}

func askRequired(reader *bufio.Reader, prompt string) string {
	for {
		fmt.Printf("%s: ", prompt)
		input, err := reader.ReadString('\n')
		input = strings.TrimSpace(input)
		if input != "" {
			return input
		}
		if err != nil {
			return ""
		}
		fmt.Println("This value is required. Please enter a value.")
	}
}

func askYesNo(reader *bufio.Reader, prompt string, def bool) bool {
	defLabel := "Y"
	if !def {
		defLabel = "N"
	}
	for {
		fmt.Printf("%s [%s]: ", prompt, defLabel)
		input, err := reader.ReadString('\n')
		input = strings.TrimSpace(strings.ToLower(input))
		if input == "" {
			return def
		}
		switch input {
		case "y", "yes":
			return true
		case "n", "no":
			return false
		default:
			if err != nil {
				return def
			}
			fmt.Println("Please enter 'y' or 'n'.")
		}
	}
}

func parseLogLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level")
	}
}

func writeConfigFile(path string, cfg server.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
