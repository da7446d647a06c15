package crypt

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/agleyzer/hls2mp4/internal/parser"
	"github.com/agleyzer/hls2mp4/internal/segment"
)

const (
	// MethodNone disables encryption.
	MethodNone = "NONE"

	// MethodAES128 is full-segment AES-128-CBC with PKCS#7 padding.
	MethodAES128 = "AES-128"
)

// Fetcher retrieves key material.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// KeyResolver fetches the key signaled on the first segment of a playlist.
type KeyResolver struct {
	fetcher Fetcher
	logger  *slog.Logger
}

// NewKeyResolver creates a KeyResolver.
func NewKeyResolver(fetcher Fetcher, logger *slog.Logger) *KeyResolver {
	return &KeyResolver{
		fetcher: fetcher,
		logger:  logger,
	}
}

// Resolve returns the key for segments, or nil when the stream is not
// encrypted. Only the first segment is inspected; its key applies to every
// encrypted segment.
func (r *KeyResolver) Resolve(ctx context.Context, segments []segment.Segment, base *url.URL) (*Key, error) {
	if len(segments) == 0 {
		return nil, nil
	}

	ref := segments[0].Encryption
	if ref == nil || strings.EqualFold(ref.Method, MethodNone) {
		return nil, nil
	}
	if !strings.EqualFold(ref.Method, MethodAES128) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, ref.Method)
	}
	if ref.KeyURI == "" {
		return nil, ErrMissingKeyURI
	}

	iv, err := ParseIV(ref.IVHex)
	if err != nil {
		return nil, err
	}

	keyURL, err := parser.ResolveURL(base, ref.KeyURI)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve key URL: %w", err)
	}

	data, err := r.fetcher.Fetch(ctx, keyURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch key: %w", err)
	}
	if len(data) != 16 {
		return nil, fmt.Errorf("%w: key must be 16 bytes, got %d", ErrDecryption, len(data))
	}

	r.logger.Info("encryption key resolved", "method", ref.Method, "url", keyURL)

	return &Key{Key: data, IV: iv}, nil
}

// ParseIV decodes an EXT-X-KEY IV attribute. The 0x prefix is optional.
func ParseIV(ivHex string) ([]byte, error) {
	s := strings.TrimSpace(ivHex)
	if s == "" {
		return nil, ErrMissingIV
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
	}

	iv, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIV, err)
	}
	if len(iv) != 16 {
		return nil, &IVLengthError{Len: len(iv)}
	}
	return iv, nil
}
