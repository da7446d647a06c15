package hls2mp4

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/agleyzer/hls2mp4/internal/hlstest"
	"github.com/agleyzer/hls2mp4/internal/transcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// copyFile stands in for a platform encoder.
func copyFile(_ context.Context, input, output string, _, _ int) error {
	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	return os.WriteFile(output, data, 0o644)
}

func TestRun_PlatformTranscoder(t *testing.T) {
	origin := hlstest.NewOrigin(t)
	origin.AddPlaylist("/master.m3u8", hlstest.MasterPlaylist(
		hlstest.Variant{URI: "sd.m3u8", Bandwidth: 500000, Resolution: "640x360"},
		hlstest.Variant{URI: "hd.m3u8", Bandwidth: 1200000, Resolution: "1280x720"},
	))
	origin.AddPlaylist("/hd.m3u8", hlstest.MediaPlaylist(hlstest.Media{
		Segments: []string{"hd0.ts", "hd1.ts", "hd2.ts"},
	}))
	origin.Add("/hd0.ts", hlstest.Payload(1, 10))
	origin.Add("/hd1.ts", hlstest.Payload(2, 20))
	origin.Add("/hd2.ts", hlstest.Payload(3, 30))

	work := t.TempDir()
	output := filepath.Join(t.TempDir(), "video.mp4")

	var mu sync.Mutex
	downloaded := 0

	res, err := Run(context.Background(), Options{
		URL:         origin.URL("/master.m3u8"),
		Output:      output,
		Concurrency: 3,
		Retries:     2,
		RetryDelay:  10 * time.Millisecond,
		Platform: Platform{
			FFmpegPath: filepath.Join(work, "no-such-ffmpeg"),
			Transcoder: copyFile,
			TempDirs:   []TempDir{{Name: "test", Path: work}},
		},
		Progress: func(stage string, done, total int) {
			mu.Lock()
			defer mu.Unlock()
			if stage == "download" {
				downloaded = done
			}
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "1280x720", res.Resolution)
	assert.Equal(t, 1200000, res.Bandwidth)
	assert.Equal(t, 3, res.Segments)
	assert.Equal(t, "platform", res.Transcoder)
	assert.Equal(t, 3, downloaded)

	got, err := os.ReadFile(output)
	require.NoError(t, err)
	want := append(append(hlstest.Payload(1, 10), hlstest.Payload(2, 20)...), hlstest.Payload(3, 30)...)
	assert.Equal(t, want, got)

	// The run-scoped work directory is gone
	entries, err := os.ReadDir(work)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_NoBackend(t *testing.T) {
	origin := hlstest.NewOrigin(t)

	_, err := Run(context.Background(), Options{
		URL:    origin.URL("/index.m3u8"),
		Output: filepath.Join(t.TempDir(), "out.mp4"),
		Platform: Platform{
			FFmpegPath: filepath.Join(t.TempDir(), "no-such-ffmpeg"),
		},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, transcode.ErrNoBackend))
	assert.Equal(t, 0, origin.Hits("/index.m3u8"))
}
