// Package fetch issues the HTTP GETs used for playlists, keys and segments.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

const (
	// DefaultUserAgent is a desktop browser user agent; some CDNs reject Go's default.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

	// DefaultAcceptLanguage is sent with every request.
	DefaultAcceptLanguage = "en-US,en;q=0.9"

	// DefaultTimeout bounds a single request including reading the body.
	DefaultTimeout = 30 * time.Second
)

// Options configures a Fetcher.
type Options struct {
	// Timeout for a single request. Zero means DefaultTimeout.
	Timeout time.Duration

	// UserAgent overrides DefaultUserAgent when set.
	UserAgent string

	// Headers are added to every request after the browser defaults.
	Headers map[string]string

	// Fingerprint makes https requests with a Chrome TLS ClientHello.
	Fingerprint bool

	// Fs serves file:// URLs and bare local paths. Nil means the OS filesystem.
	Fs afero.Fs

	// Transport replaces the network transport. Used by tests.
	Transport http.RoundTripper
}

// Fetcher performs single-attempt GET requests with browser-like headers.
// It is safe for concurrent use.
type Fetcher struct {
	client *http.Client
	logger *slog.Logger
}

// New creates a Fetcher.
func New(opts Options, logger *slog.Logger) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}

	base := opts.Transport
	if base == nil {
		base = newTransport(opts.Fs)
	}
	if opts.Fingerprint {
		base = newFingerprintTransport(base)
	}

	headers := map[string]string{
		"User-Agent":      opts.UserAgent,
		"Accept":          "*/*",
		"Accept-Language": DefaultAcceptLanguage,
	}
	for k, v := range opts.Headers {
		headers[k] = v
	}

	return &Fetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &HeaderTransport{
				Headers: headers,
				Base:    base,
			},
		},
		logger: logger,
	}
}

// Fetch downloads the resource at rawURL. A bare filesystem path is read
// from the configured filesystem.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	target, err := requestURL(rawURL)
	if err != nil {
		return nil, &TransportError{URL: rawURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &TransportError{URL: rawURL, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &TransportError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &TransportError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{URL: rawURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read body: %w", err)}
	}

	f.logger.Debug("fetched", "url", rawURL, "bytes", len(data))
	return data, nil
}

// IsRemote reports whether rawURL is an http or https URL.
func IsRemote(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// requestURL turns bare paths into file:// URLs and leaves real URLs alone.
// A one-letter scheme is a Windows drive, not a scheme.
func requestURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err == nil && len(u.Scheme) > 1 {
		return rawURL, nil
	}

	abs, err := filepath.Abs(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid local path: %w", err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

func newTransport(fs afero.Fs) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 100
	t.MaxIdleConnsPerHost = 100
	t.IdleConnTimeout = 30 * time.Second
	t.RegisterProtocol("file", http.NewFileTransport(afero.NewHttpFs(fs).Dir("/")))
	return t
}
