package client_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sociallink/client"
	"sociallink/client/clienttest"
	"sociallink/console"
)

func machineClient(t *testing.T, srv *clienttest.Server, httpClient *http.Client) *client.Client {
	t.Helper()
	tok, err := client.MachineToken(context.Background(), httpClient, client.MachineCredentials{
		TokenURL:     srv.URL + "/oidc/token",
		ClientID:     clienttest.MachineClientID,
		ClientSecret: clienttest.MachineClientSecret,
		Resource:     clienttest.Resource,
		Scopes:       []string{"all"},
	})
	if err != nil {
		t.Fatalf("MachineToken returned error: %v", err)
	}
	c, err := client.New(srv.URL, httpClient)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return c.WithToken(tok.AccessToken)
}

func TestMachineTokenAndManagementCalls(t *testing.T) {
	srv := clienttest.NewServer()
	defer srv.Close()

	api := machineClient(t, srv, nil)
	ctx := context.Background()

	app, err := api.FindApplicationByName(ctx, "demo")
	if err != nil {
		t.Fatalf("FindApplicationByName returned error: %v", err)
	}
	if app != nil {
		t.Fatalf("expected no application, got %+v", app)
	}

	created, err := api.CreateApplication(ctx, client.CreateApplicationInput{Type: "Traditional", Name: "demo"})
	if err != nil {
		t.Fatalf("CreateApplication returned error: %v", err)
	}
	found, err := api.FindApplicationByName(ctx, "demo")
	if err != nil || found == nil || found.ID != created.ID {
		t.Fatalf("expected to find %q, got %+v (err=%v)", created.ID, found, err)
	}

	secrets, err := api.ListApplicationSecrets(ctx, created.ID)
	if err != nil {
		t.Fatalf("ListApplicationSecrets returned error: %v", err)
	}
	if len(secrets) != 1 || secrets[0].Value == "" {
		t.Fatalf("unexpected secrets: %+v", secrets)
	}
}

func TestMachineTokenRejectedIsStatusError(t *testing.T) {
	srv := clienttest.NewServer()
	defer srv.Close()

	_, err := client.MachineToken(context.Background(), nil, client.MachineCredentials{
		TokenURL:     srv.URL + "/oidc/token",
		ClientID:     clienttest.MachineClientID,
		ClientSecret: "wrong",
	})
	var se *client.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %T: %v", err, err)
	}
	if se.StatusCode != http.StatusUnauthorized || !strings.Contains(string(se.Body), "invalid_client") {
		t.Fatalf("unexpected status error: %+v", se)
	}
}

func TestErrorKinds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/connectors/github":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":"entity.not_found"}`))
		case "/api/users":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"broken":`))
		case "/api/applications":
			time.Sleep(200 * time.Millisecond)
		}
	}))
	defer srv.Close()

	api, err := client.New(srv.URL, &http.Client{Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	ctx := context.Background()

	_, err = api.GetConnector(ctx, "github")
	if !client.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	_, err = api.FindUserByUsername(ctx, "test")
	var de *client.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %T: %v", err, err)
	}

	_, err = api.FindApplicationByName(ctx, "slow")
	var te *client.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %T: %v", err, err)
	}
	if client.StatusCode(err) != 0 {
		t.Fatalf("transport error should carry no status")
	}
}

func TestNewRejectsRelativeEndpoint(t *testing.T) {
	if _, err := client.New("localhost:3001", nil); err == nil {
		t.Fatalf("expected error for endpoint without scheme")
	}
}

func TestAccountAPIFlow(t *testing.T) {
	srv := clienttest.NewServer()
	defer srv.Close()

	base, err := client.New(srv.URL+"/", nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	api := base.WithToken(clienttest.UserToken)
	ctx := context.Background()

	if _, err := api.CreatePasswordVerification(ctx, "wrong"); client.StatusCode(err) != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for wrong password, got %v", err)
	}

	pwd, err := api.CreatePasswordVerification(ctx, clienttest.UserPassword)
	if err != nil {
		t.Fatalf("CreatePasswordVerification returned error: %v", err)
	}
	if _, ok := pwd.Expiry(); !ok {
		t.Fatalf("expected parseable expiry, got %q", pwd.ExpiresAt)
	}

	social, err := api.CreateSocialVerification(ctx, client.SocialVerificationInput{
		ConnectorID: "github",
		RedirectURI: "http://localhost:3000/step3",
		State:       "state-123",
	})
	if err != nil {
		t.Fatalf("CreateSocialVerification returned error: %v", err)
	}
	if social.ID == "" || !strings.Contains(social.AuthorizationURI, "state=state-123") {
		t.Fatalf("unexpected social verification: %+v", social)
	}

	if _, err := api.VerifySocialVerification(ctx, social.ID, map[string]string{"code": "abc", "state": "state-123"}); err != nil {
		t.Fatalf("VerifySocialVerification returned error: %v", err)
	}
	if err := api.LinkIdentity(ctx, pwd.ID, social.ID); err != nil {
		t.Fatalf("LinkIdentity returned error: %v", err)
	}
	if linked := srv.Linked(); len(linked) != 1 || linked[0].PasswordRecordID != pwd.ID {
		t.Fatalf("unexpected linked identities: %+v", linked)
	}
}

func TestLoggingTransportPrintsExchange(t *testing.T) {
	srv := clienttest.NewServer()
	defer srv.Close()

	var buf bytes.Buffer
	httpClient := client.NewHTTPClient(5*time.Second, console.New(&buf, false))
	api := machineClient(t, srv, httpClient)

	if _, err := api.CreateUser(context.Background(), client.CreateUserInput{Username: "test", Password: "test"}); err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"POST /oidc/token HTTP/1.1",
		"grant_type=client_credentials",
		"POST /api/users HTTP/1.1",
		"content-type: application/json",
		"\n  \"username\": \"test\"",
		"HTTP/1.1 200 OK",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestLoggingTransportTruncatedBodyIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, buf, err := w.(http.Hijacker).Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		defer conn.Close()
		_, _ = buf.WriteString("HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nContent-Length: 200\r\n\r\n")
		_, _ = buf.WriteString(`[{"id":"app","name"`)
		_ = buf.Flush()
	}))
	defer srv.Close()

	var out bytes.Buffer
	api, err := client.New(srv.URL, client.NewHTTPClient(5*time.Second, console.New(&out, false)))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	_, err = api.FindApplicationByName(context.Background(), "demo")
	var te *client.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %T: %v", err, err)
	}
	var de *client.DecodeError
	if errors.As(err, &de) {
		t.Fatalf("truncated body must not be reported as a decode failure: %v", err)
	}
}

func TestValidatorChecksAudience(t *testing.T) {
	srv := clienttest.NewServer()
	defer srv.Close()

	tok, err := client.MachineToken(context.Background(), nil, client.MachineCredentials{
		TokenURL:     srv.URL + "/oidc/token",
		ClientID:     clienttest.MachineClientID,
		ClientSecret: clienttest.MachineClientSecret,
		Resource:     clienttest.Resource,
		Scopes:       []string{"all"},
	})
	if err != nil {
		t.Fatalf("MachineToken returned error: %v", err)
	}

	v := client.NewValidator(client.ValidatorConfig{
		Issuer:           srv.Issuer(),
		JWKSURL:          srv.URL + "/oidc/jwks",
		ExpectedAudience: clienttest.Resource,
	})
	claims, err := v.Validate(context.Background(), tok.AccessToken)
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if claims.ClientID != clienttest.MachineClientID {
		t.Fatalf("unexpected client id %q", claims.ClientID)
	}
	if err := claims.HasScopes("all"); err != nil {
		t.Fatalf("expected scope all: %v", err)
	}

	other := client.NewValidator(client.ValidatorConfig{
		JWKSURL:          srv.URL + "/oidc/jwks",
		ExpectedAudience: "https://admin.example.test/api",
	})
	if _, err := other.Validate(context.Background(), tok.AccessToken); err == nil {
		t.Fatalf("expected audience mismatch to be rejected")
	}

	if _, err := v.Validate(context.Background(), "not-a-jwt"); err == nil {
		t.Fatalf("expected malformed token to be rejected")
	}
}
