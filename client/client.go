// Package client talks to the identity provider's management and Account
// REST APIs.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sociallink/console"
)

// DefaultTimeout bounds every outbound call unless configured otherwise.
const DefaultTimeout = 30 * time.Second

// Client issues JSON requests relative to a tenant endpoint. A Client is
// immutable; WithToken returns a copy bound to another bearer token.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	token   string
}

// New returns a client for the tenant endpoint. A nil httpClient means a
// default client with DefaultTimeout and no exchange logging.
func New(endpoint string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("endpoint %q must be an absolute URL", endpoint)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{baseURL: u, http: httpClient}, nil
}

// NewHTTPClient returns an HTTP client with a bounded timeout that prints
// every exchange through printer.
func NewHTTPClient(timeout time.Duration, printer *console.Printer) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &LoggingTransport{Base: http.DefaultTransport, Printer: printer},
	}
}

// WithToken returns a copy of the client that authenticates with token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// HTTPClient exposes the underlying HTTP client.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// TransportError reports a request that never produced a response.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError reports a non-2xx response. Body holds the raw response body.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, body)
}

// DecodeError reports a 2xx response whose body could not be decoded.
type DecodeError struct {
	Method string
	URL    string
	Body   []byte
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s %s: decode response: %v", e.Method, e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a 404 StatusError.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// StatusCode returns the HTTP status carried by a StatusError, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

type call struct {
	method  string
	path    string
	query   url.Values
	header  http.Header
	in      any
	out     any
	noToken bool
}

func (c *Client) do(ctx context.Context, cl call) error {
	ref := &url.URL{Path: strings.TrimPrefix(cl.path, "/")}
	if len(cl.query) > 0 {
		ref.RawQuery = cl.query.Encode()
	}
	target := c.baseURL.ResolveReference(ref).String()

	var body io.Reader
	if cl.in != nil {
		b, err := json.Marshal(cl.in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", cl.method, cl.path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, target, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if cl.in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" && !cl.noToken {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, vals := range cl.header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Method: cl.method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Method: cl.method, URL: target, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: cl.method, URL: target, StatusCode: resp.StatusCode, Body: raw}
	}

	if cl.out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, cl.out); err != nil {
		return &DecodeError{Method: cl.method, URL: target, Body: raw, Err: err}
	}
	return nil
}
