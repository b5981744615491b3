// Package config loads runtime settings from an optional config file and
// TIERED_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nstogner/tiered/pkg/agent"
	"github.com/nstogner/tiered/pkg/model/gemini"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Environment string
	LogLevel    string

	Gemini gemini.Config

	TiersFile  string
	WatchTiers bool

	ClassifierTimeout time.Duration
	Retry             agent.RetryPolicy

	StorePath  string
	ServerAddr string

	SandboxEnabled bool
	SandboxImage   string

	// Tools names the tools bound to sessions. Nil binds every tool.
	Tools []string
}

// Production reports whether error details must be hidden from clients.
func (c *Config) Production() bool { return c.Environment == EnvProduction }

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", EnvDevelopment)
	v.SetDefault("log.level", "info")
	v.SetDefault("gemini.backend", "gemini")
	v.SetDefault("gemini.location", "us-central1")
	v.SetDefault("tiers.file", "")
	v.SetDefault("tiers.watch", false)
	v.SetDefault("classifier.timeout", 10*time.Second)
	retry := agent.DefaultRetryPolicy()
	v.SetDefault("retry.max_attempts", retry.MaxAttempts)
	v.SetDefault("retry.base_delay", retry.BaseDelay)
	v.SetDefault("retry.max_delay", retry.MaxDelay)
	v.SetDefault("store.path", "data/tiered.db")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("sandbox.enabled", false)
	v.SetDefault("sandbox.image", "")
}

// New returns a viper instance with defaults and environment bindings. If
// path is empty, tiered.yaml is looked up in the working directory and in
// $HOME/.tiered; a missing file is not an error.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("tiered")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Names used by the Google SDKs.
	if err := v.BindEnv("gemini.api_key", "TIERED_GEMINI_API_KEY", "GEMINI_API_KEY"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("gemini.project", "TIERED_GEMINI_PROJECT", "GOOGLE_CLOUD_PROJECT"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tiered")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.tiered")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return v, nil
}

// Load reads and validates the settings held by v.
func Load(v *viper.Viper) (*Config, error) {
	c := &Config{
		Environment: strings.ToLower(v.GetString("environment")),
		LogLevel:    v.GetString("log.level"),
		Gemini: gemini.Config{
			APIKey:   v.GetString("gemini.api_key"),
			Backend:  v.GetString("gemini.backend"),
			Project:  v.GetString("gemini.project"),
			Location: v.GetString("gemini.location"),
		},
		TiersFile:         v.GetString("tiers.file"),
		WatchTiers:        v.GetBool("tiers.watch"),
		ClassifierTimeout: v.GetDuration("classifier.timeout"),
		Retry: agent.RetryPolicy{
			MaxAttempts: v.GetInt("retry.max_attempts"),
			BaseDelay:   v.GetDuration("retry.base_delay"),
			MaxDelay:    v.GetDuration("retry.max_delay"),
		},
		StorePath:      v.GetString("store.path"),
		ServerAddr:     v.GetString("server.addr"),
		SandboxEnabled: v.GetBool("sandbox.enabled"),
		SandboxImage:   v.GetString("sandbox.image"),
	}
	if v.IsSet("tools.enabled") {
		c.Tools = v.GetStringSlice("tools.enabled")
	}

	switch c.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		return nil, fmt.Errorf("environment must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Environment)
	}
	switch c.Gemini.Backend {
	case "gemini", "vertex":
	default:
		return nil, fmt.Errorf("gemini.backend must be \"gemini\" or \"vertex\", got %q", c.Gemini.Backend)
	}
	if c.Gemini.Backend == "vertex" && c.Gemini.Project == "" {
		return nil, errors.New("gemini.project is required for the vertex backend")
	}
	if c.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return nil, err
	}
	return c, nil
}

// ParseLevel maps a level name to a slog level. "trace" enables the Gemini
// REST dump.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "trace":
		return gemini.LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}
