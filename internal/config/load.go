package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal errors with "did you mean?"
// suggestions: silently ignoring a typo in a config file leads to
// hard-to-debug behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values. This supports the zero-config
// first-run experience: users can start without creating a config file.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolved is a fully merged and parsed configuration, ready for use.
// Duration fields are parsed from their string forms; paths are absolute.
type Resolved struct {
	BaseURL       string
	UploadTimeout time.Duration

	PollInterval time.Duration
	MaxPolls     int

	MaxAttempts int

	WatchDir   string
	Debounce   time.Duration
	Extensions []string

	LogLevel  string
	LogFormat string
	LogFile   string

	TokenPath  string
	LedgerPath string
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
// CLI flags always win, matching user expectations for one-off overrides
// without editing the config file.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	if env.BaseURL != "" {
		cfg.Backend.BaseURL = env.BaseURL
	}

	if cli.BaseURL != "" {
		cfg.Backend.BaseURL = cli.BaseURL
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return buildResolved(cfg, env)
}

// buildResolved parses validated string fields into their final types and
// fills in data paths.
func buildResolved(cfg *Config, env EnvOverrides) (*Resolved, error) {
	uploadTimeout, err := time.ParseDuration(cfg.Backend.UploadTimeout)
	if err != nil {
		return nil, fmt.Errorf("upload_timeout: %w", err)
	}

	pollInterval, err := time.ParseDuration(cfg.Polling.Interval)
	if err != nil {
		return nil, fmt.Errorf("polling interval: %w", err)
	}

	debounce, err := time.ParseDuration(cfg.Watch.Debounce)
	if err != nil {
		return nil, fmt.Errorf("watch debounce: %w", err)
	}

	dataDir := DefaultDataDir()
	if env.DataDir != "" {
		dataDir = env.DataDir
	}

	tokenPath := filepath.Join(dataDir, tokenFileName)
	if env.TokenFile != "" {
		tokenPath = env.TokenFile
	}

	return &Resolved{
		BaseURL:       cfg.Backend.BaseURL,
		UploadTimeout: uploadTimeout,
		PollInterval:  pollInterval,
		MaxPolls:      cfg.Polling.MaxPolls,
		MaxAttempts:   cfg.Retry.MaxAttempts,
		WatchDir:      cfg.Watch.Dir,
		Debounce:      debounce,
		Extensions:    cfg.Watch.Extensions,
		LogLevel:      cfg.Logging.LogLevel,
		LogFormat:     cfg.Logging.LogFormat,
		LogFile:       cfg.Logging.LogFile,
		TokenPath:     tokenPath,
		LedgerPath:    filepath.Join(dataDir, ledgerFileName),
	}, nil
}
