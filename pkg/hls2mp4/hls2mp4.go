// Package hls2mp4 downloads an HLS stream and transcodes it into a single file.
//
// Run is the embedding entry point. Hosts without an ffmpeg binary supply
// their own encoder and writable directories through Platform.
package hls2mp4

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/agleyzer/hls2mp4/internal/fetch"
	"github.com/agleyzer/hls2mp4/internal/runner"
	"github.com/agleyzer/hls2mp4/internal/tempdir"
	"github.com/agleyzer/hls2mp4/internal/transcode"
	"github.com/spf13/afero"
)

// TranscodeFunc converts the merged transport stream at input into output.
// Bitrates are in kbit/s; 0 leaves the choice to the encoder.
type TranscodeFunc func(ctx context.Context, input, output string, videoKbps, audioKbps int) error

// TempDir is a writable directory candidate offered by the host.
type TempDir struct {
	Name string
	Path string
}

// Platform describes host capabilities.
type Platform struct {
	// FFmpegPath is the ffmpeg binary. Empty means "ffmpeg" from PATH.
	FFmpegPath string

	// Transcoder is used when ffmpeg is not available.
	Transcoder TranscodeFunc

	// TempDirs are probed in order before the system temp directories.
	// When empty the work directory is created in the current directory.
	TempDirs []TempDir
}

// Options configures one run.
type Options struct {
	URL    string
	Output string

	// Concurrency and Retries are clamped to at least 1
	Concurrency int
	Retries     int

	VideoBitrate int
	AudioBitrate int
	KeepTemp     bool

	// MaxDuration limits the download to the leading segments; 0 means all
	MaxDuration time.Duration

	// HTTP settings; zero values use browser-like defaults
	Timeout     time.Duration
	RetryDelay  time.Duration
	UserAgent   string
	Headers     map[string]string
	Fingerprint bool

	Platform Platform

	// Logger defaults to discarding output
	Logger *slog.Logger

	// Progress is called after each downloaded ("download") or merged
	// ("merge") segment. Calls for one stage are serialized.
	Progress func(stage string, done, total int)
}

// Result summarizes a successful run.
type Result struct {
	// Resolution of the selected variant, empty for media playlists
	Resolution string
	Bandwidth  int

	Segments   int
	Encrypted  bool
	Transcoder string

	// MergedPath is set when KeepTemp left the merged stream on disk
	MergedPath string
	Elapsed    time.Duration
}

// Run downloads opts.URL and writes the transcoded stream to opts.Output.
func Run(ctx context.Context, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	fs := afero.NewOsFs()

	fetcher := fetch.New(fetch.Options{
		Timeout:     opts.Timeout,
		UserAgent:   opts.UserAgent,
		Headers:     opts.Headers,
		Fingerprint: opts.Fingerprint,
		Fs:          fs,
	}, logger)

	r := runner.New(runner.Deps{
		Fetcher:    fetcher,
		Backends:   backends(opts.Platform, logger),
		TempDir:    tempDirProvider(fs, opts.Platform.TempDirs, logger),
		Fs:         fs,
		Logger:     logger,
		RetryDelay: opts.RetryDelay,
		OnProgress: opts.Progress,
	})

	res, err := r.Run(ctx, runner.Options{
		URL:          opts.URL,
		Output:       opts.Output,
		Concurrency:  opts.Concurrency,
		Retries:      opts.Retries,
		VideoBitrate: opts.VideoBitrate,
		AudioBitrate: opts.AudioBitrate,
		KeepTemp:     opts.KeepTemp,
		MaxDuration:  opts.MaxDuration,
	})
	if err != nil {
		return nil, fmt.Errorf("hls2mp4: %w", err)
	}

	out := &Result{
		Segments:   res.Segments,
		Encrypted:  res.Encrypted,
		Transcoder: res.Transcoder,
		MergedPath: res.MergedPath,
		Elapsed:    res.Elapsed,
	}
	if res.Variant != nil {
		out.Resolution = res.Variant.Resolution()
		out.Bandwidth = res.Variant.Bandwidth
	}
	return out, nil
}

// backends lists ffmpeg first, then the platform encoder.
func backends(p Platform, logger *slog.Logger) []transcode.Backend {
	list := []transcode.Backend{
		transcode.NewFFmpeg(transcode.FFmpegOptions{Path: p.FFmpegPath}, logger),
	}
	if p.Transcoder != nil {
		list = append(list, &transcode.Func{Label: "platform", Fn: p.Transcoder})
	}
	return list
}

func tempDirProvider(fs afero.Fs, dirs []TempDir, logger *slog.Logger) tempdir.Provider {
	if len(dirs) == 0 {
		return tempdir.Current{}
	}

	candidates := make([]tempdir.Candidate, len(dirs))
	for i, d := range dirs {
		candidates[i] = tempdir.Candidate{Name: d.Name, Path: d.Path}
	}
	return tempdir.NewProbing(fs, candidates, logger)
}
