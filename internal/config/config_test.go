package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "valid http url",
			config:  Config{URL: "https://example.com/master.m3u8"},
			wantErr: false,
		},
		{
			name:    "valid local path",
			config:  Config{URL: "/media/index.m3u8"},
			wantErr: false,
		},
		{
			name:    "valid file url",
			config:  Config{URL: "file:///media/index.m3u8"},
			wantErr: false,
		},
		{
			name:    "missing url",
			config:  Config{},
			wantErr: true,
		},
		{
			name:    "unsupported scheme",
			config:  Config{URL: "ftp://example.com/index.m3u8"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateDefaultsAndClamps(t *testing.T) {
	c := Config{
		URL:          "https://example.com/index.m3u8",
		Concurrency:  -4,
		Retries:      0,
		VideoBitrate: -100,
		AudioBitrate: 128,
	}
	require.NoError(t, c.Validate())

	assert.Equal(t, 1, c.Concurrency)
	assert.Equal(t, 1, c.Retries)
	assert.Equal(t, 0, c.VideoBitrate)
	assert.Equal(t, 128, c.AudioBitrate)
	assert.Equal(t, DefaultOutput, c.Output)
	assert.Equal(t, DefaultTimeout, c.Timeout)
	assert.Equal(t, DefaultRetryDelay, c.RetryDelay)
	assert.Equal(t, "ffmpeg", c.FFmpegPath)
}

func TestLoad_Defaults(t *testing.T) {
	v := NewViper()
	v.Set("url", "https://example.com/index.m3u8")

	cfg, err := Load(v, "")
	require.NoError(t, err)

	assert.Equal(t, DefaultConcurrency, cfg.Concurrency)
	assert.Equal(t, DefaultRetries, cfg.Retries)
	assert.Equal(t, DefaultOutput, cfg.Output)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.False(t, cfg.KeepTemp)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("HLS2MP4_URL", "https://example.com/env.m3u8")
	t.Setenv("HLS2MP4_CONCURRENCY", "16")
	t.Setenv("HLS2MP4_VIDEO_BITRATE", "3000")
	t.Setenv("HLS2MP4_KEEP_TEMP", "true")
	t.Setenv("HLS2MP4_RETRY_DELAY", "250ms")

	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/env.m3u8", cfg.URL)
	assert.Equal(t, 16, cfg.Concurrency)
	assert.Equal(t, 3000, cfg.VideoBitrate)
	assert.True(t, cfg.KeepTemp)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay)
}

func TestLoad_ConfigFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/hls2mp4.yaml", []byte(`
url: https://example.com/file.m3u8
output: /videos/show.mp4
retries: 5
audio-bitrate: 192
headers:
  Referer: https://player.example.com/
temp-dirs:
  - /cache
  - /files
`), 0o644))

	v := NewViper()
	v.SetFs(fs)

	cfg, err := Load(v, "/etc/hls2mp4.yaml")
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/file.m3u8", cfg.URL)
	assert.Equal(t, "/videos/show.mp4", cfg.Output)
	assert.Equal(t, 5, cfg.Retries)
	assert.Equal(t, 192, cfg.AudioBitrate)
	assert.Equal(t, []string{"/cache", "/files"}, cfg.TempDirs)

	// viper lowercases map keys read from files
	assert.Equal(t, "https://player.example.com/", cfg.Headers["referer"])
}

func TestLoad_MissingConfigFile(t *testing.T) {
	v := NewViper()
	v.SetFs(afero.NewMemMapFs())
	v.Set("url", "https://example.com/index.m3u8")

	_, err := Load(v, "/nope.yaml")
	assert.Error(t, err)
}
