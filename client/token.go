package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// MachineCredentials identify a machine-to-machine application.
type MachineCredentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	// Resource is the API indicator the token is issued for.
	Resource string
	Scopes   []string
}

// MachineToken runs the client-credentials grant. Non-2xx replies surface as
// *StatusError, network failures as *TransportError.
func MachineToken(ctx context.Context, httpClient *http.Client, creds MachineCredentials) (*oauth2.Token, error) {
	cfg := clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     creds.TokenURL,
		Scopes:       creds.Scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if creds.Resource != "" {
		cfg.EndpointParams = url.Values{"resource": {creds.Resource}}
	}
	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}

	tok, err := cfg.Token(ctx)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil {
			return nil, &StatusError{
				Method:     http.MethodPost,
				URL:        creds.TokenURL,
				StatusCode: rerr.Response.StatusCode,
				Body:       rerr.Body,
			}
		}
		return nil, &TransportError{Method: http.MethodPost, URL: creds.TokenURL, Err: err}
	}
	return tok, nil
}
