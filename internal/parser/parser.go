// Package parser provides HLS playlist resolution: fetching, decoding,
// variant selection and URI resolution.
package parser

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strings"

	"github.com/agleyzer/hls2mp4/internal/fetch"
	"github.com/agleyzer/hls2mp4/internal/segment"
	"github.com/agleyzer/hls2mp4/internal/variant"
	"github.com/grafov/m3u8"
	"github.com/samber/lo"
)

// Fetcher retrieves raw playlist bytes.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// MediaPlaylist is a resolved media playlist.
type MediaPlaylist struct {
	// URL is where the media playlist was fetched from
	URL string

	// Segments in playback order; Segments[i].Index == i
	Segments []segment.Segment

	// TargetDuration is the maximum segment duration in seconds
	TargetDuration int

	// Variant is the selected variant when the input was a master playlist
	Variant *variant.Variant
}

// Duration returns the summed segment durations in seconds.
func (p *MediaPlaylist) Duration() float64 {
	var total float64
	for _, seg := range p.Segments {
		total += seg.Duration
	}
	return total
}

// Resolver turns a playlist URL into a media playlist.
type Resolver struct {
	fetcher Fetcher
	logger  *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(fetcher Fetcher, logger *slog.Logger) *Resolver {
	return &Resolver{
		fetcher: fetcher,
		logger:  logger,
	}
}

// Resolve fetches the playlist at playlistURL. A master playlist is followed
// to its best variant. The returned base URL is derived from playlistURL
// alone and resolves the segment and key URIs; it is nil for local inputs.
func (r *Resolver) Resolve(ctx context.Context, playlistURL string) (*MediaPlaylist, *url.URL, error) {
	playlist, listType, err := r.load(ctx, playlistURL)
	if err != nil {
		return nil, nil, err
	}

	base, err := BaseURL(playlistURL)
	if err != nil {
		return nil, nil, err
	}

	if listType == m3u8.MEDIA {
		media, ok := playlist.(*m3u8.MediaPlaylist)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnexpectedPlaylistType, playlistURL)
		}
		r.logger.Info("media playlist found", "url", playlistURL)
		result, err := newMediaPlaylist(playlistURL, media)
		if err != nil {
			return nil, nil, err
		}
		return result, base, nil
	}

	master, ok := playlist.(*m3u8.MasterPlaylist)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected playlist type %v", listType)
	}

	variants := variantsOf(master)
	r.logger.Info("master playlist found", "url", playlistURL, "variants", len(variants))

	best, ok := variant.Best(variants)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoVariant, playlistURL)
	}
	r.logger.Info("selected variant",
		"bandwidth", best.Bandwidth,
		"resolution", best.Resolution(),
		"uri", best.URI,
	)

	mediaURL, err := ResolveURL(base, best.URI)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve variant URL: %w", err)
	}

	playlist, listType, err = r.load(ctx, mediaURL)
	if err != nil {
		return nil, nil, err
	}
	media, ok := playlist.(*m3u8.MediaPlaylist)
	if listType != m3u8.MEDIA || !ok {
		return nil, nil, fmt.Errorf("%w: %s is not a media playlist", ErrUnexpectedPlaylistType, mediaURL)
	}

	result, err := newMediaPlaylist(mediaURL, media)
	if err != nil {
		return nil, nil, err
	}
	result.Variant = &best

	// Segment and key URIs resolve against the input URL, not the variant.
	return result, base, nil
}

func (r *Resolver) load(ctx context.Context, playlistURL string) (m3u8.Playlist, m3u8.ListType, error) {
	data, err := r.fetcher.Fetch(ctx, playlistURL)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch playlist: %w", err)
	}

	playlist, listType, err := m3u8.DecodeFrom(bytes.NewReader(data), true)
	if err != nil {
		return nil, 0, &ParseError{URL: playlistURL, Err: err}
	}
	return playlist, listType, nil
}

// variantsOf converts the decoded variants, skipping I-frame only streams.
func variantsOf(master *m3u8.MasterPlaylist) []variant.Variant {
	var variants []variant.Variant
	for _, v := range master.Variants {
		if v == nil || v.Iframe || v.URI == "" {
			continue
		}
		width, height := variant.ParseResolution(v.Resolution)
		variants = append(variants, variant.Variant{
			Bandwidth: int(v.Bandwidth),
			Width:     width,
			Height:    height,
			Codecs:    v.Codecs,
			URI:       v.URI,
		})
	}
	return variants
}

// newMediaPlaylist extracts segments in playlist order. An EXT-X-KEY applies
// to every following segment until the next EXT-X-KEY.
func newMediaPlaylist(playlistURL string, media *m3u8.MediaPlaylist) (*MediaPlaylist, error) {
	var segments []segment.Segment
	var current *segment.EncryptionRef

	for i, seg := range media.Segments {
		if seg == nil {
			break
		}

		if seg.Key != nil {
			current = encryptionRef(seg.Key)
		}

		segments = append(segments, segment.Segment{
			Index:      i,
			URI:        seg.URI,
			Duration:   seg.Duration,
			Encryption: current,
		})
	}

	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSegments, playlistURL)
	}

	return &MediaPlaylist{
		URL:            playlistURL,
		Segments:       segments,
		TargetDuration: targetDuration(media, segments),
	}, nil
}

// targetDuration falls back to the longest segment, rounded up, when the
// playlist omits EXT-X-TARGETDURATION.
func targetDuration(media *m3u8.MediaPlaylist, segments []segment.Segment) int {
	if media.TargetDuration > 0 {
		return int(math.Ceil(media.TargetDuration))
	}
	longest := lo.Max(lo.Map(segments, func(seg segment.Segment, _ int) float64 {
		return seg.Duration
	}))
	return int(math.Ceil(longest))
}

func encryptionRef(key *m3u8.Key) *segment.EncryptionRef {
	if key == nil {
		return nil
	}
	return &segment.EncryptionRef{
		Method: key.Method,
		KeyURI: key.URI,
		IVHex:  key.IV,
	}
}

// BaseURL strips the query and the final path segment of an http(s) URL.
// Local inputs have no base and yield nil.
func BaseURL(playlistURL string) (*url.URL, error) {
	if !fetch.IsRemote(playlistURL) {
		return nil, nil
	}

	u, err := url.Parse(playlistURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	pos := strings.LastIndex(u.Path, "/")
	if pos < 0 {
		return nil, nil
	}

	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.Path = u.Path[:pos+1]
	u.RawPath = ""
	return u, nil
}

// ResolveURL resolves a possibly relative URI against base. With a nil base
// the URI is returned unchanged.
func ResolveURL(base *url.URL, ref string) (string, error) {
	rel, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("invalid relative URL: %w", err)
	}

	if base == nil {
		return rel.String(), nil
	}
	return base.ResolveReference(rel).String(), nil
}
