// Package transcode hands a merged transport stream to an encoder backend.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNoBackend is returned when no transcoder can run on this host.
var ErrNoBackend = errors.New("no transcoder backend available")

// Transcoder converts a transport stream file into the output container.
// Bitrates are in kbit/s; zero leaves the choice to the encoder.
type Transcoder interface {
	Name() string
	Transcode(ctx context.Context, input, output string, videoKbps, audioKbps int) error
}

// Backend is a Transcoder that can tell whether it is usable.
type Backend interface {
	Transcoder
	Available(ctx context.Context) bool
}

// Select returns the first available backend, probing in order.
// Nil backends are skipped.
func Select(ctx context.Context, logger *slog.Logger, backends ...Backend) (Transcoder, error) {
	for _, b := range backends {
		if b == nil {
			continue
		}
		if b.Available(ctx) {
			logger.Info("transcoder selected", "backend", b.Name())
			return b, nil
		}
		logger.Debug("transcoder unavailable", "backend", b.Name())
	}
	return nil, ErrNoBackend
}

// Func adapts a function into a Backend. It is available when Fn is set.
// Platforms that provide their own encoder register one of these.
type Func struct {
	Label string
	Fn    func(ctx context.Context, input, output string, videoKbps, audioKbps int) error
}

// Name implements Transcoder.
func (f *Func) Name() string {
	return f.Label
}

// Available implements Backend.
func (f *Func) Available(context.Context) bool {
	return f != nil && f.Fn != nil
}

// Transcode implements Transcoder.
func (f *Func) Transcode(ctx context.Context, input, output string, videoKbps, audioKbps int) error {
	if f.Fn == nil {
		return fmt.Errorf("%s: %w", f.Label, ErrNoBackend)
	}
	return f.Fn(ctx, input, output, videoKbps, audioKbps)
}
