package provision

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"sociallink/client"
	"sociallink/client/clienttest"
	"sociallink/console"
)

func testOptions() Options {
	return Options{
		Application: ApplicationOptions{
			Name:                   "test",
			RedirectURIs:           []string{"http://localhost:3000/logto/sign-in-callback"},
			PostLogoutRedirectURIs: []string{"http://localhost:3000/"},
		},
		User:      UserOptions{Username: "test", Password: "test"},
		GitHubApp: GitHubAppOptions{ClientID: "gh-id", ClientSecret: "gh-secret"},
	}
}

func newProvisioner(t *testing.T, srv *clienttest.Server, secret string) *Provisioner {
	t.Helper()
	api, err := client.New(srv.URL, nil)
	if err != nil {
		t.Fatalf("client.New returned error: %v", err)
	}
	return &Provisioner{
		API: api,
		Machine: client.MachineCredentials{
			TokenURL:     srv.URL + "/oidc/token",
			ClientID:     clienttest.MachineClientID,
			ClientSecret: secret,
			Resource:     clienttest.Resource,
			Scopes:       []string{"all"},
		},
		Validator: client.NewValidator(client.ValidatorConfig{
			Issuer:           srv.Issuer(),
			JWKSURL:          srv.URL + "/oidc/jwks",
			ExpectedAudience: clienttest.Resource,
		}),
		Printer: console.Discard(),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestRunProvisionsTenant(t *testing.T) {
	srv := clienttest.NewServer()
	defer srv.Close()

	res, err := newProvisioner(t, srv, clienttest.MachineClientSecret).Run(context.Background(), testOptions())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if res.Application.ID == "" || res.Application.Secret == "" {
		t.Fatalf("application result incomplete: %+v", res.Application)
	}
	if res.Connector.ID != GitHubConnectorID || res.Connector.ConnectorID != GitHubConnectorFactory {
		t.Fatalf("unexpected connector: %+v", res.Connector)
	}
	ac := srv.AccountCenter()
	if ac == nil || !ac.Enabled || ac.Fields["social"] != "Edit" {
		t.Fatalf("account center not enabled: %+v", ac)
	}
	if users := srv.Users(); len(users) != 1 || users[0].Username != "test" {
		t.Fatalf("unexpected users: %+v", users)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	srv := clienttest.NewServer()
	defer srv.Close()

	p := newProvisioner(t, srv, clienttest.MachineClientSecret)
	first, err := p.Run(context.Background(), testOptions())
	if err != nil {
		t.Fatalf("first Run returned error: %v", err)
	}
	second, err := p.Run(context.Background(), testOptions())
	if err != nil {
		t.Fatalf("second Run returned error: %v", err)
	}

	if first != second {
		t.Fatalf("second run returned different result:\nfirst  %+v\nsecond %+v", first, second)
	}
	for key, want := range map[string]int{
		"POST /api/applications":    1,
		"POST /api/connectors":      1,
		"POST /api/users":           1,
		"PATCH /api/account-center": 2,
		"POST /oidc/token":          2,
	} {
		if got := srv.Calls(key); got != want {
			t.Fatalf("%s called %d times, want %d", key, got, want)
		}
	}
	if n := len(srv.Applications()); n != 1 {
		t.Fatalf("expected one application, got %d", n)
	}
	if n := srv.Connectors(); n != 1 {
		t.Fatalf("expected one connector, got %d", n)
	}
}

func TestRunFailsWithoutApplicationSecret(t *testing.T) {
	srv := clienttest.NewServer()
	defer srv.Close()
	srv.OmitSecrets = true

	_, err := newProvisioner(t, srv, clienttest.MachineClientSecret).Run(context.Background(), testOptions())
	if !errors.Is(err, ErrNoApplicationSecret) {
		t.Fatalf("expected ErrNoApplicationSecret, got %v", err)
	}
	if srv.Calls("GET /api/connectors/github") != 0 {
		t.Fatalf("provisioning should stop before the connector step")
	}
}

func TestRunConnectorLookupFailureIsNotTreatedAsMissing(t *testing.T) {
	srv := clienttest.NewServer()
	defer srv.Close()
	srv.ConnectorLookupStatus = http.StatusForbidden

	_, err := newProvisioner(t, srv, clienttest.MachineClientSecret).Run(context.Background(), testOptions())
	if err == nil {
		t.Fatalf("expected error when connector lookup is forbidden")
	}
	if !IsAuthFailure(err) {
		t.Fatalf("expected auth failure, got %v", err)
	}
	if srv.Calls("POST /api/connectors") != 0 {
		t.Fatalf("connector must not be created after a non-404 lookup failure")
	}
}

func TestRunRejectedMachineCredentials(t *testing.T) {
	srv := clienttest.NewServer()
	defer srv.Close()

	_, err := newProvisioner(t, srv, "wrong").Run(context.Background(), testOptions())
	if !IsAuthFailure(err) {
		t.Fatalf("expected auth failure, got %v", err)
	}
	if srv.Calls("GET /api/applications") != 0 {
		t.Fatalf("no management call expected without a token")
	}
}

func TestRunRejectsTokenForOtherAudience(t *testing.T) {
	srv := clienttest.NewServer()
	defer srv.Close()

	p := newProvisioner(t, srv, clienttest.MachineClientSecret)
	p.Validator = client.NewValidator(client.ValidatorConfig{
		JWKSURL:          srv.URL + "/oidc/jwks",
		ExpectedAudience: "https://other.example.test/api",
	})
	if _, err := p.Run(context.Background(), testOptions()); err == nil {
		t.Fatalf("expected audience mismatch to abort provisioning")
	}
}

func TestRunRejectsTokenWithoutRequestedScope(t *testing.T) {
	srv := clienttest.NewServer()
	defer srv.Close()
	srv.GrantedScope = "read:users"

	_, err := newProvisioner(t, srv, clienttest.MachineClientSecret).Run(context.Background(), testOptions())
	if err == nil || !strings.Contains(err.Error(), "missing scope all") {
		t.Fatalf("expected missing scope error, got %v", err)
	}
	if srv.Calls("GET /api/applications") != 0 {
		t.Fatalf("no management call expected with an under-scoped token")
	}
}

func TestSummaryMasksSecret(t *testing.T) {
	res := Result{Application: ApplicationResult{ID: "app", Secret: "supersecret"}}
	for _, row := range res.Summary() {
		if row[0] == "application.secret" && row[1] != "supe****" {
			t.Fatalf("secret not masked: %q", row[1])
		}
	}
}
