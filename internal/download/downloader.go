// Package download fetches, decrypts and stores media segments with bounded
// concurrency.
package download

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/agleyzer/hls2mp4/internal/crypt"
	"github.com/agleyzer/hls2mp4/internal/parser"
	"github.com/agleyzer/hls2mp4/internal/progress"
	"github.com/agleyzer/hls2mp4/internal/segment"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// DefaultRetryDelay is the fixed pause between attempts for one segment.
const DefaultRetryDelay = 2 * time.Second

// Fetcher performs a single GET attempt.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Options configures a Downloader.
type Options struct {
	// Concurrency is the maximum number of segments in flight (min 1)
	Concurrency int

	// MaxAttempts is the number of GETs tried per segment (min 1)
	MaxAttempts int

	// RetryDelay is the pause between attempts. Zero means DefaultRetryDelay.
	RetryDelay time.Duration
}

// Downloader stores every segment of a playlist as seg_%05d.ts in a directory.
type Downloader struct {
	fetcher Fetcher
	fs      afero.Fs
	opts    Options
	logger  *slog.Logger
}

// New creates a Downloader. Out of range options are clamped.
func New(fetcher Fetcher, fs afero.Fs, opts Options, logger *slog.Logger) *Downloader {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}

	return &Downloader{
		fetcher: fetcher,
		fs:      fs,
		opts:    opts,
		logger:  logger,
	}
}

// DownloadAll downloads segments into dir and returns the file paths in index
// order. key may be nil for clear streams. counter may be nil.
//
// A failing segment does not stop the others; once every dispatched segment
// has settled the first failure is returned. Files already written are left
// in place.
func (d *Downloader) DownloadAll(ctx context.Context, segments []segment.Segment, key *crypt.Key, base *url.URL, dir string, counter *progress.Counter) ([]string, error) {
	if err := d.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, &PersistError{Path: dir, Err: err}
	}

	d.logger.Info("downloading segments",
		"count", len(segments),
		"concurrency", d.opts.Concurrency,
		"max_attempts", d.opts.MaxAttempts,
		"encrypted", key != nil,
	)

	paths := make([]string, len(segments))

	// Siblings keep running when one segment fails, so no derived context.
	var g errgroup.Group
	g.SetLimit(d.opts.Concurrency)

	for i, seg := range segments {
		path := filepath.Join(dir, segment.FileName(seg.Index))
		paths[i] = path

		g.Go(func() error {
			if err := d.downloadOne(ctx, seg, key, base, path); err != nil {
				d.logger.Error("segment failed", "index", seg.Index, "error", err)
				return err
			}
			counter.Inc()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	d.logger.Info("all segments downloaded", "count", len(segments))
	return paths, nil
}

func (d *Downloader) downloadOne(ctx context.Context, seg segment.Segment, key *crypt.Key, base *url.URL, path string) error {
	segURL, err := parser.ResolveURL(base, seg.URI)
	if err != nil {
		return fmt.Errorf("segment %d: failed to resolve URL: %w", seg.Index, err)
	}

	data, err := d.fetchWithRetry(ctx, seg.Index, segURL)
	if err != nil {
		return err
	}

	if key != nil && encrypted(seg) {
		data, err = key.Decrypt(data)
		if err != nil {
			return fmt.Errorf("segment %d: %w", seg.Index, err)
		}
	}

	if err := afero.WriteFile(d.fs, path, data, 0o644); err != nil {
		return &PersistError{Path: path, Err: err}
	}

	d.logger.Debug("segment stored", "index", seg.Index, "path", path, "bytes", len(data))
	return nil
}

// fetchWithRetry makes up to MaxAttempts GETs, sleeping RetryDelay between
// failed attempts.
func (d *Downloader) fetchWithRetry(ctx context.Context, index int, segURL string) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		data, err := d.fetcher.Fetch(ctx, segURL)
		if err == nil {
			return data, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, fmt.Errorf("segment %d: %w", index, ctx.Err())
		}

		d.logger.Warn("segment attempt failed",
			"index", index,
			"attempt", attempt,
			"max_attempts", d.opts.MaxAttempts,
			"error", err,
		)

		if attempt < d.opts.MaxAttempts {
			if err := sleep(ctx, d.opts.RetryDelay); err != nil {
				return nil, fmt.Errorf("segment %d: %w", index, err)
			}
		}
	}

	return nil, &SegmentExhaustedError{
		Index:    index,
		Attempts: d.opts.MaxAttempts,
		Err:      lastErr,
	}
}

func encrypted(seg segment.Segment) bool {
	return seg.Encryption != nil && !strings.EqualFold(seg.Encryption.Method, crypt.MethodNone)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
