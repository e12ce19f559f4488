// Package httpfmt renders HTTP requests and responses as wire-like text for
// console logging.
package httpfmt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// Options controls rendering.
type Options struct {
	// Color enables ANSI syntax highlighting of the whole message.
	Color bool
}

type header struct {
	name  string
	value string
}

// Format renders a *http.Request or *http.Response.
func Format(v any, opts Options) (string, error) {
	switch m := v.(type) {
	case *http.Request:
		return FormatRequest(m, opts)
	case *http.Response:
		return FormatResponse(m, opts)
	default:
		return "", fmt.Errorf("httpfmt: unsupported type %T", v)
	}
}

// FormatRequest renders the request line, the headers sorted by name with a
// host header taken from the URL, and the body. The request body stays
// readable for the caller.
func FormatRequest(req *http.Request, opts Options) (string, error) {
	if req == nil || req.URL == nil {
		return "", fmt.Errorf("httpfmt: request has no URL")
	}
	body, err := copyRequestBody(req)
	if err != nil {
		return "", err
	}

	host := req.URL.Host
	if host == "" {
		host = req.Host
	}
	startLine := req.Method + " " + req.URL.RequestURI() + " HTTP/1.1"
	return render(startLine, sortedHeaders(req.Header, host), req.Header.Get("Content-Type"), body, opts), nil
}

// FormatResponse renders the status line, sorted headers and body. The
// response body stays readable for the caller.
func FormatResponse(resp *http.Response, opts Options) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("httpfmt: nil response")
	}
	body, err := copyResponseBody(resp)
	if err != nil {
		return "", err
	}

	startLine := fmt.Sprintf("HTTP/1.1 %d %s", resp.StatusCode, reasonPhrase(resp))
	return render(strings.TrimSpace(startLine), sortedHeaders(resp.Header, ""), resp.Header.Get("Content-Type"), body, opts), nil
}

func render(startLine string, headers []header, contentType string, body []byte, opts Options) string {
	var b strings.Builder
	b.WriteString(startLine)
	b.WriteByte('\n')
	for i, h := range headers {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(h.name)
		b.WriteString(": ")
		b.WriteString(h.value)
	}
	b.WriteString("\n\n")
	b.WriteString(FormatBody(contentType, body, Options{}))
	b.WriteByte('\n')

	if opts.Color {
		return highlight("http", b.String())
	}
	return b.String()
}

// FormatBody pretty-prints JSON bodies with two-space indentation and returns
// anything else verbatim.
func FormatBody(contentType string, body []byte, opts Options) string {
	if !strings.Contains(strings.ToLower(contentType), "application/json") || len(bytes.TrimSpace(body)) == 0 {
		return string(body)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, bytes.TrimSpace(body), "", "  "); err != nil {
		return string(body)
	}
	if opts.Color {
		return highlight("json", out.String())
	}
	return out.String()
}

// reasonPhrase prefers the phrase the server sent over the standard one.
func reasonPhrase(resp *http.Response) string {
	code := strconv.Itoa(resp.StatusCode)
	if reason, ok := strings.CutPrefix(resp.Status, code); ok {
		if reason = strings.TrimSpace(reason); reason != "" {
			return reason
		}
	}
	return http.StatusText(resp.StatusCode)
}

func sortedHeaders(h http.Header, host string) []header {
	out := make([]header, 0, len(h)+1)
	for name, values := range h {
		lower := strings.ToLower(name)
		if host != "" && lower == "host" {
			continue
		}
		out = append(out, header{name: lower, value: strings.Join(values, ", ")})
	}
	if host != "" {
		out = append(out, header{name: "host", value: host})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func copyRequestBody(req *http.Request) ([]byte, error) {
	if req.GetBody != nil {
		rc, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("httpfmt: clone request body: %w", err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	b, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("httpfmt: read request body: %w", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(b))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}
	return b, nil
}

func copyResponseBody(resp *http.Response) ([]byte, error) {
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, nil
	}
	b, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("httpfmt: read response body: %w", err)
	}
	return b, nil
}
