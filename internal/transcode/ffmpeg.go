package transcode

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// Accel is the video encoder family ffmpeg is driven with.
type Accel int

const (
	AccelCPU Accel = iota
	AccelNvidia
	AccelAMD
)

func (a Accel) String() string {
	switch a {
	case AccelNvidia:
		return "nvidia"
	case AccelAMD:
		return "amd"
	default:
		return "cpu"
	}
}

// DefaultAudioKbps is used when no audio bitrate is requested.
const DefaultAudioKbps = 256

// Command runs an external program to completion.
type Command func(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error

// ExecCommand runs the program with os/exec.
func ExecCommand(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

// FFmpegOptions configures the ffmpeg backend.
type FFmpegOptions struct {
	// Path is the ffmpeg binary. Empty means "ffmpeg" from PATH.
	Path string

	// Command replaces ExecCommand. Used by tests.
	Command Command
}

// FFmpeg transcodes with an external ffmpeg binary, using a hardware
// encoder when one is listed.
type FFmpeg struct {
	path    string
	command Command
	logger  *slog.Logger

	mu     sync.Mutex
	accel  Accel
	probed bool
}

// NewFFmpeg creates an ffmpeg backend.
func NewFFmpeg(opts FFmpegOptions, logger *slog.Logger) *FFmpeg {
	if opts.Path == "" {
		opts.Path = "ffmpeg"
	}
	if opts.Command == nil {
		opts.Command = ExecCommand
	}
	return &FFmpeg{
		path:    opts.Path,
		command: opts.Command,
		logger:  logger,
	}
}

// Name implements Transcoder.
func (f *FFmpeg) Name() string {
	return "ffmpeg"
}

// Available reports whether ffmpeg runs. When it does, the available
// hardware encoders are probed once and remembered.
func (f *FFmpeg) Available(ctx context.Context) bool {
	if err := f.command(ctx, f.path, []string{"-version"}, io.Discard, io.Discard); err != nil {
		f.logger.Debug("ffmpeg not usable", "path", f.path, "error", err)
		return false
	}
	f.Accel(ctx)
	return true
}

// Accel returns the detected encoder family, probing on first use.
// A failed probe falls back to AccelCPU.
func (f *FFmpeg) Accel(ctx context.Context) Accel {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.probed {
		return f.accel
	}

	var out bytes.Buffer
	if err := f.command(ctx, f.path, []string{"-hide_banner", "-encoders"}, &out, io.Discard); err != nil {
		f.logger.Warn("failed to list ffmpeg encoders", "error", err)
		f.accel = AccelCPU
	} else {
		f.accel = ParseEncoders(out.String())
	}
	f.probed = true

	f.logger.Info("ffmpeg acceleration", "accel", f.accel.String())
	return f.accel
}

// Transcode implements Transcoder.
func (f *FFmpeg) Transcode(ctx context.Context, input, output string, videoKbps, audioKbps int) error {
	accel := f.Accel(ctx)
	args := BuildArgs(accel, input, output, videoKbps, audioKbps)

	f.logger.Info("transcoding", "accel", accel.String(), "input", input, "output", output)
	f.logger.Debug("ffmpeg command", "path", f.path, "args", strings.Join(args, " "))

	stderr := newLineWriter(newHCLogger(f.logger, "ffmpeg"), 20)
	err := f.command(ctx, f.path, args, io.Discard, stderr)
	stderr.Flush()

	if err != nil {
		return fmt.Errorf("ffmpeg transcode failed: %w\n%s", err, strings.Join(stderr.Tail(), "\n"))
	}

	f.logger.Info("transcode complete", "output", output)
	return nil
}

// ParseEncoders picks the encoder family from `ffmpeg -encoders` output.
func ParseEncoders(list string) Accel {
	switch {
	case strings.Contains(list, "h264_nvenc"):
		return AccelNvidia
	case strings.Contains(list, "h264_amf"):
		return AccelAMD
	default:
		return AccelCPU
	}
}

// BuildArgs returns the ffmpeg arguments for one transcode.
func BuildArgs(accel Accel, input, output string, videoKbps, audioKbps int) []string {
	args := []string{"-hide_banner", "-loglevel", "info", "-y"}

	// CUDA decoding is an input option
	if accel == AccelNvidia {
		args = append(args, "-hwaccel", "cuda", "-hwaccel_output_format", "cuda", "-c:v", "h264_cuvid")
	}
	args = append(args, "-i", input, "-c:a", "aac")

	switch accel {
	case AccelNvidia:
		args = append(args, "-c:v", "h264_nvenc", "-preset", "p3", "-rc", "vbr")
	case AccelAMD:
		args = append(args, "-c:v", "h264_amf", "-rc", "vbr")
	default:
		args = append(args, "-c:v", "libx264", "-preset", "medium")
	}

	if videoKbps > 0 {
		args = append(args, "-b:v", strconv.Itoa(videoKbps)+"k")
	}
	if audioKbps <= 0 {
		audioKbps = DefaultAudioKbps
	}
	args = append(args, "-b:a", strconv.Itoa(audioKbps)+"k")

	return append(args, output)
}
