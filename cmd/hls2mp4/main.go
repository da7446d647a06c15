// The hls2mp4 command downloads an HLS stream and transcodes it to MP4.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/agleyzer/hls2mp4/internal/config"
	"github.com/agleyzer/hls2mp4/pkg/hls2mp4"
	cc "github.com/ivanpirog/coloredcobra"
	"github.com/mattn/go-isatty"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	version = "1.0.0"
)

func main() {
	cmd := newRootCmd(hls2mp4.Platform{})
	if isatty.IsTerminal(os.Stdout.Fd()) {
		cc.Init(&cc.Config{
			RootCmd:       cmd,
			Headings:      cc.HiCyan + cc.Bold + cc.Underline,
			Example:       cc.Italic,
			ExecName:      cc.Bold,
			Flags:         cc.Bold,
			FlagsDataType: cc.Italic + cc.HiBlue,
		})
	}

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command. platform supplies the transcoder fallback
// and is overridden by tests.
func newRootCmd(platform hls2mp4.Platform) *cobra.Command {
	v := config.NewViper()
	var configFile string

	cmd := &cobra.Command{
		Use:   "hls2mp4 [flags] <playlist-url>",
		Short: "Download an HLS stream and transcode it to MP4",
		Long: `hls2mp4 fetches an HLS playlist (master or media), picks the highest
resolution variant, downloads and decrypts its segments concurrently and
hands the merged transport stream to ffmpeg.

Every flag can also be set with an HLS2MP4_ environment variable
(e.g. HLS2MP4_CONCURRENCY=16) or in a config file.`,
		Example: `  hls2mp4 https://example.com/master.m3u8
  hls2mp4 -o show.mp4 -n 16 --retries 5 https://example.com/master.m3u8
  hls2mp4 --video-bitrate 2500 --keep-temp ./local/index.m3u8
  hls2mp4 -H Referer=https://player.example.com/ https://cdn.example.com/index.m3u8`,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				v.Set("url", args[0])
			}

			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}

			logger := newLogger(cmd.ErrOrStderr(), cfg.Verbose)
			logger.Info("hls2mp4 starting", "version", version)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg, platform, logger); err != nil {
				logger.Error("application error", "error", err)
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "Config file (yaml, toml or json)")
	flags.StringP("output", "o", config.DefaultOutput, "Output file")
	flags.IntP("concurrency", "n", config.DefaultConcurrency, "Number of segments downloaded at once")
	flags.IntP("retries", "r", config.DefaultRetries, "Attempts per segment")
	flags.Int("video-bitrate", 0, "Video bitrate in kbit/s (0 = encoder default)")
	flags.Int("audio-bitrate", 0, "Audio bitrate in kbit/s (0 = 256)")
	flags.Bool("keep-temp", false, "Keep the merged transport stream")
	flags.Duration("max-duration", 0, "Only download the first part of the stream (e.g. '30s', '2m')")
	flags.Duration("timeout", config.DefaultTimeout, "HTTP request timeout")
	flags.Duration("retry-delay", config.DefaultRetryDelay, "Pause between segment attempts")
	flags.String("user-agent", "", "Override the browser User-Agent")
	flags.StringToStringP("headers", "H", nil, "Extra request headers (Name=value, repeatable)")
	flags.Bool("fingerprint", false, "Use a browser TLS fingerprint for https")
	flags.String("ffmpeg", "ffmpeg", "Path to ffmpeg executable")
	flags.StringSlice("temp-dirs", nil, "Directories probed for work files (default: current directory)")
	flags.BoolP("verbose", "v", false, "Enable verbose logging")

	lo.Must0(bindFlags(v, cmd))

	return cmd
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	return v.BindPFlags(cmd.Flags())
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

func run(ctx context.Context, cfg *config.Config, platform hls2mp4.Platform, logger *slog.Logger) error {
	platform.FFmpegPath = cfg.FFmpegPath
	for i, dir := range cfg.TempDirs {
		platform.TempDirs = append(platform.TempDirs, hls2mp4.TempDir{
			Name: fmt.Sprintf("temp-dir-%d", i),
			Path: dir,
		})
	}

	logger.Info("downloading", "url", cfg.URL, "output", cfg.Output)

	res, err := hls2mp4.Run(ctx, hls2mp4.Options{
		URL:          cfg.URL,
		Output:       cfg.Output,
		Concurrency:  cfg.Concurrency,
		Retries:      cfg.Retries,
		VideoBitrate: cfg.VideoBitrate,
		AudioBitrate: cfg.AudioBitrate,
		KeepTemp:     cfg.KeepTemp,
		MaxDuration:  cfg.MaxDuration,
		Timeout:      cfg.Timeout,
		RetryDelay:   cfg.RetryDelay,
		UserAgent:    cfg.UserAgent,
		Headers:      cfg.Headers,
		Fingerprint:  cfg.Fingerprint,
		Platform:     platform,
		Logger:       logger,
		Progress:     progressLogger(logger),
	})
	if err != nil {
		return err
	}

	attrs := []any{
		"output", cfg.Output,
		"segments", res.Segments,
		"encrypted", res.Encrypted,
		"transcoder", res.Transcoder,
		"elapsed", res.Elapsed,
	}
	if res.Resolution != "" {
		attrs = append(attrs, "resolution", res.Resolution, "bandwidth", res.Bandwidth)
	}
	if res.MergedPath != "" {
		attrs = append(attrs, "merged", res.MergedPath)
	}
	logger.Info("done", attrs...)
	return nil
}

// progressLogger logs every tenth of a stage and its completion.
func progressLogger(logger *slog.Logger) func(stage string, done, total int) {
	return func(stage string, done, total int) {
		step := max(total/10, 1)
		if done%step != 0 && done != total {
			return
		}
		logger.Info("progress",
			"stage", stage,
			"done", done,
			"total", total,
			"percent", done*100/max(total, 1),
		)
	}
}
