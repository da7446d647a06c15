// Package config loads run settings from flags, environment and config files.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment variable names, e.g. HLS2MP4_CONCURRENCY.
const EnvPrefix = "HLS2MP4"

// Defaults applied by Validate.
const (
	DefaultOutput      = "output.mp4"
	DefaultConcurrency = 8
	DefaultRetries     = 3
	DefaultTimeout     = 30 * time.Second
	DefaultRetryDelay  = 2 * time.Second
)

// Config holds the settings of one run.
type Config struct {
	// URL is the playlist to download (http(s), file:// or a local path).
	URL string `mapstructure:"url"`
	// Output is the path of the transcoded file.
	Output string `mapstructure:"output"`
	// Concurrency is the number of segments downloaded at once.
	Concurrency int `mapstructure:"concurrency"`
	// Retries is the number of attempts per segment.
	Retries int `mapstructure:"retries"`
	// VideoBitrate is the target video bitrate in kbit/s; 0 is the encoder default.
	VideoBitrate int `mapstructure:"video-bitrate"`
	// AudioBitrate is the target audio bitrate in kbit/s; 0 is the encoder default.
	AudioBitrate int `mapstructure:"audio-bitrate"`
	// KeepTemp leaves the merged transport stream on disk.
	KeepTemp bool `mapstructure:"keep-temp"`
	// MaxDuration limits the download to the leading segments; 0 means all.
	MaxDuration time.Duration `mapstructure:"max-duration"`

	// Timeout bounds each HTTP request.
	Timeout time.Duration `mapstructure:"timeout"`
	// RetryDelay is the pause between segment attempts.
	RetryDelay time.Duration `mapstructure:"retry-delay"`
	// UserAgent overrides the browser user agent.
	UserAgent string `mapstructure:"user-agent"`
	// Headers are sent with every request.
	Headers map[string]string `mapstructure:"headers"`
	// Fingerprint sends a browser TLS ClientHello on https.
	Fingerprint bool `mapstructure:"fingerprint"`

	// FFmpegPath is the ffmpeg binary.
	FFmpegPath string `mapstructure:"ffmpeg"`
	// TempDirs are probed in order for a writable work directory. Empty
	// means the current directory.
	TempDirs []string `mapstructure:"temp-dirs"`

	// Verbose enables debug logging.
	Verbose bool `mapstructure:"verbose"`
}

// keys lists every setting, named as its command line flag.
var keys = []string{
	"url", "output", "concurrency", "retries", "video-bitrate", "audio-bitrate",
	"keep-temp", "max-duration", "timeout", "retry-delay", "user-agent", "headers", "fingerprint",
	"ffmpeg", "temp-dirs", "verbose",
}

// NewViper returns a viper instance reading HLS2MP4_* environment
// variables. Flag names map to variables with dashes as underscores.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees keys viper knows about
	for _, key := range keys {
		v.MustBindEnv(key)
	}

	v.SetDefault("output", DefaultOutput)
	v.SetDefault("concurrency", DefaultConcurrency)
	v.SetDefault("retries", DefaultRetries)
	v.SetDefault("timeout", DefaultTimeout)
	v.SetDefault("retry-delay", DefaultRetryDelay)
	v.SetDefault("ffmpeg", "ffmpeg")
	return v
}

// Load reads the optional config file and decodes v into a validated Config.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}

	if strings.Contains(c.URL, "://") {
		u, err := url.Parse(c.URL)
		if err != nil {
			return fmt.Errorf("invalid url %q: %w", c.URL, err)
		}
		switch u.Scheme {
		case "http", "https", "file":
		default:
			return fmt.Errorf("unsupported url scheme %q", u.Scheme)
		}
	}

	// Clamp to minimums
	c.Concurrency = max(c.Concurrency, 1)
	c.Retries = max(c.Retries, 1)
	c.VideoBitrate = max(c.VideoBitrate, 0)
	c.AudioBitrate = max(c.AudioBitrate, 0)
	c.MaxDuration = max(c.MaxDuration, 0)

	// Set defaults
	if c.Output == "" {
		c.Output = DefaultOutput
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}

	return nil
}
