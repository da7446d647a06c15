package fetch

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// HeaderTransport implements custom header injection.
type HeaderTransport struct {
	Headers map[string]string
	Base    http.RoundTripper
}

// RoundTrip sets the configured headers and a Referer derived from the
// request host, unless the caller already set one.
func (t *HeaderTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Referer") == "" {
		if ref := Referer(req.URL); ref != "" {
			req.Header.Set("Referer", ref)
		}
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// Referer returns "https://<host>/" for URLs whose host is a domain name.
// IP literals and host-less URLs get no referer.
func Referer(u *url.URL) string {
	host := u.Hostname()
	if host == "" || net.ParseIP(host) != nil {
		return ""
	}
	return "https://" + host + "/"
}

// TransportError reports a network failure or a non-2xx response.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
