// Package config loads service settings from the environment and command-line flags.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/text/language"

	"tourney/internal/replay"
)

// Config holds the server configuration.
type Config struct {
	HTTPAddr      string `env:"HTTP_ADDR" envDefault:":8080"`
	DatabaseURL   string `env:"DATABASE_URL"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	// ReplayDecode is "inflate" or "plain".
	ReplayDecode       string        `env:"REPLAY_DECODE" envDefault:"inflate"`
	ReplayConcurrency  int           `env:"REPLAY_CONCURRENCY" envDefault:"8"`
	ReplayFetchTimeout time.Duration `env:"REPLAY_FETCH_TIMEOUT" envDefault:"30s"`
	ReplayFetchRPS     float64       `env:"REPLAY_FETCH_RPS" envDefault:"0"`
	ReplayMaxBytes     int64         `env:"REPLAY_MAX_BYTES" envDefault:"67108864"`
	ReplayCacheBytes   int64         `env:"REPLAY_CACHE_BYTES" envDefault:"268435456"`
	DisplayTimezone    string        `env:"DISPLAY_TIMEZONE" envDefault:"UTC"`
	DefaultLang        string        `env:"DEFAULT_LANG" envDefault:"en-US"`
	UploadToken        string        `env:"UPLOAD_TOKEN"`
	Debug              bool          `env:"DEBUG"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads the environment, then applies flag overrides from args.
func Load(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fs.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "Postgres DSN (empty disables storage)")
	fs.StringVar(&cfg.PublicBaseURL, "public-base-url", cfg.PublicBaseURL, "base URL for resolving relative replay URLs")
	fs.StringVar(&cfg.ReplayDecode, "replay-decode", cfg.ReplayDecode, "replay decode policy: inflate or plain")
	fs.IntVar(&cfg.ReplayConcurrency, "replay-concurrency", cfg.ReplayConcurrency, "replays loaded at once per page")
	fs.DurationVar(&cfg.ReplayFetchTimeout, "replay-fetch-timeout", cfg.ReplayFetchTimeout, "replay download timeout")
	fs.Float64Var(&cfg.ReplayFetchRPS, "replay-fetch-rps", cfg.ReplayFetchRPS, "replay downloads per second (0 = unlimited)")
	fs.StringVar(&cfg.DisplayTimezone, "display-timezone", cfg.DisplayTimezone, "time zone for localized timestamps")
	fs.StringVar(&cfg.DefaultLang, "default-lang", cfg.DefaultLang, "locale used when the request names none")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that flags and env tags cannot express.
func (c Config) Validate() error {
	if _, err := c.DecodePolicy(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.Lang(); err != nil {
		return err
	}
	if c.ReplayConcurrency < 1 {
		return fmt.Errorf("replay concurrency must be positive, got %d", c.ReplayConcurrency)
	}
	return nil
}

// DecodePolicy returns the configured replay decode policy.
func (c Config) DecodePolicy() (replay.DecodePolicy, error) {
	return replay.ParseDecodePolicy(c.ReplayDecode)
}

// Location loads the display time zone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.DisplayTimezone)
	if err != nil {
		return nil, fmt.Errorf("load display timezone: %w", err)
	}
	return loc, nil
}

// Lang parses the default display locale.
func (c Config) Lang() (language.Tag, error) {
	tag, err := language.Parse(c.DefaultLang)
	if err != nil {
		return language.Und, fmt.Errorf("parse default lang: %w", err)
	}
	return tag, nil
}
