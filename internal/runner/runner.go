// Package runner drives one download from playlist URL to transcoded output.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/agleyzer/hls2mp4/internal/crypt"
	"github.com/agleyzer/hls2mp4/internal/download"
	"github.com/agleyzer/hls2mp4/internal/merge"
	"github.com/agleyzer/hls2mp4/internal/parser"
	"github.com/agleyzer/hls2mp4/internal/progress"
	"github.com/agleyzer/hls2mp4/internal/segment"
	"github.com/agleyzer/hls2mp4/internal/tempdir"
	"github.com/agleyzer/hls2mp4/internal/transcode"
	"github.com/agleyzer/hls2mp4/internal/variant"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const (
	// MergedFileName is the concatenated transport stream inside the work directory.
	MergedFileName = "temp_merged.ts"

	// WorkDirPrefix prefixes the per-run work directory name.
	WorkDirPrefix = "hls2mp4-"
)

// Fetcher performs single GET attempts for playlists, keys and segments.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Deps are the collaborators of a Runner.
type Deps struct {
	// Fetcher is shared by every stage
	Fetcher Fetcher

	// Backends are probed in order; the first available one transcodes
	Backends []transcode.Backend

	// TempDir provides the parent of the work directory. Nil means tempdir.Current.
	TempDir tempdir.Provider

	// Fs holds work files. Nil means the OS filesystem.
	Fs afero.Fs

	Logger *slog.Logger

	// NewRunID names the work directory. Nil means a random UUID.
	NewRunID func() string

	// RetryDelay is the pause between segment attempts. Zero means download.DefaultRetryDelay.
	RetryDelay time.Duration

	// OnProgress is called after each downloaded or merged segment.
	OnProgress func(stage string, done, total int)
}

// Options is one run request.
type Options struct {
	URL    string
	Output string

	// Concurrency is the number of segments downloaded at once (min 1)
	Concurrency int

	// Retries is the number of attempts per segment (min 1)
	Retries int

	// VideoBitrate and AudioBitrate are kbit/s hints; 0 lets the encoder decide
	VideoBitrate int
	AudioBitrate int

	// KeepTemp leaves the merged transport stream and work directory in place
	KeepTemp bool

	// MaxDuration limits the download to the leading segments; 0 means all
	MaxDuration time.Duration
}

// normalize clamps values below their minimum.
func (o *Options) normalize() {
	o.Concurrency = max(o.Concurrency, 1)
	o.Retries = max(o.Retries, 1)
	o.VideoBitrate = max(o.VideoBitrate, 0)
	o.AudioBitrate = max(o.AudioBitrate, 0)
	o.MaxDuration = max(o.MaxDuration, 0)
}

// Result describes a completed run.
type Result struct {
	// Variant is the selected variant, nil for media playlist inputs
	Variant *variant.Variant

	Segments   int
	Encrypted  bool
	Transcoder string
	WorkDir    string

	// MergedPath is only left on disk when KeepTemp was set
	MergedPath string
	Output     string
	Elapsed    time.Duration
}

// Runner composes the pipeline stages.
type Runner struct {
	deps Deps
}

// New creates a Runner.
func New(deps Deps) *Runner {
	if deps.TempDir == nil {
		deps.TempDir = tempdir.Current{}
	}
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	if deps.NewRunID == nil {
		deps.NewRunID = func() string { return uuid.New().String() }
	}
	return &Runner{deps: deps}
}

// Run resolves the playlist, downloads and merges every segment and
// transcodes the result. The first failure aborts the run; work files are
// left in place on failure.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	opts.normalize()
	logger := r.deps.Logger
	start := time.Now()

	// No network activity happens without a transcoder.
	transcoder, err := transcode.Select(ctx, logger, r.deps.Backends...)
	if err != nil {
		return nil, err
	}

	media, base, err := parser.NewResolver(r.deps.Fetcher, logger).Resolve(ctx, opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve playlist: %w", err)
	}
	logger.Info("playlist resolved",
		"url", media.URL,
		"segments", len(media.Segments),
		"duration", media.Duration(),
		"target_duration", media.TargetDuration,
	)

	segments := segment.Prefix(media.Segments, opts.MaxDuration)
	if len(segments) < len(media.Segments) {
		logger.Info("applied max duration",
			"max_duration", opts.MaxDuration,
			"segments", len(segments),
		)
	}

	root, err := r.deps.TempDir.Dir()
	if err != nil {
		return nil, fmt.Errorf("failed to get temp directory: %w", err)
	}
	workDir := filepath.Join(root, WorkDirPrefix+r.deps.NewRunID())
	if err := r.deps.Fs.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	logger.Debug("work directory created", "path", workDir)

	key, err := crypt.NewKeyResolver(r.deps.Fetcher, logger).Resolve(ctx, segments, base)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve encryption key: %w", err)
	}

	total := len(segments)
	downloader := download.New(r.deps.Fetcher, r.deps.Fs, download.Options{
		Concurrency: opts.Concurrency,
		MaxAttempts: opts.Retries,
		RetryDelay:  r.deps.RetryDelay,
	}, logger)

	if _, err := downloader.DownloadAll(ctx, segments, key, base, workDir, r.counter("download", total)); err != nil {
		return nil, fmt.Errorf("failed to download segments: %w", err)
	}

	merged := filepath.Join(workDir, MergedFileName)
	if err := merge.NewWriter(r.deps.Fs, logger).Merge(ctx, workDir, total, merged, r.counter("merge", total)); err != nil {
		return nil, fmt.Errorf("failed to merge segments: %w", err)
	}

	if err := transcoder.Transcode(ctx, merged, opts.Output, opts.VideoBitrate, opts.AudioBitrate); err != nil {
		return nil, fmt.Errorf("failed to transcode: %w", err)
	}

	result := &Result{
		Variant:    media.Variant,
		Segments:   total,
		Encrypted:  key != nil,
		Transcoder: transcoder.Name(),
		WorkDir:    workDir,
		Output:     opts.Output,
	}

	if opts.KeepTemp {
		result.MergedPath = merged
		logger.Info("keeping temp files", "merged", merged)
	} else {
		if err := r.deps.Fs.Remove(merged); err != nil {
			logger.Warn("failed to remove merged file", "path", merged, "error", err)
		}
		if err := r.deps.Fs.RemoveAll(workDir); err != nil {
			logger.Warn("failed to remove work directory", "path", workDir, "error", err)
		}
	}

	result.Elapsed = time.Since(start)
	logger.Info("run complete", "output", opts.Output, "elapsed", result.Elapsed)
	return result, nil
}

func (r *Runner) counter(stage string, total int) *progress.Counter {
	return progress.NewCounter(stage, total, r.deps.OnProgress)
}
