package client

import (
	"net/http"

	"sociallink/console"
	"sociallink/httpfmt"
)

// LoggingTransport prints every request before sending it and every response
// after receiving it. Bodies stay readable for the caller.
type LoggingTransport struct {
	Base    http.RoundTripper
	Printer *console.Printer
}

// RoundTrip implements http.RoundTripper.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.Printer == nil {
		return base.RoundTrip(req)
	}
	opts := httpfmt.Options{Color: t.Printer.Color()}

	// Formatting may replace a body without GetBody; do that on a clone.
	if req.GetBody == nil && req.Body != nil && req.Body != http.NoBody {
		req = req.Clone(req.Context())
	}
	if out, err := httpfmt.FormatRequest(req, opts); err == nil {
		t.Printer.Print(out)
	}

	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	// The body is read here, so a failed read is a failed round trip.
	out, err := httpfmt.FormatResponse(resp, opts)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	t.Printer.Print(out)
	return resp, nil
}
