// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for listforge. Settings resolve through
// a three-layer override chain (defaults -> config file -> environment ->
// CLI flags); unknown keys in the config file are fatal, with "did you
// mean?" suggestions.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Backend BackendConfig `toml:"backend"`
	Polling PollingConfig `toml:"polling"`
	Retry   RetryConfig   `toml:"retry"`
	Watch   WatchConfig   `toml:"watch"`
	Logging LoggingConfig `toml:"logging"`
}

// BackendConfig controls how the processing backend is reached.
type BackendConfig struct {
	BaseURL       string `toml:"base_url"`
	UploadTimeout string `toml:"upload_timeout"`
}

// PollingConfig controls the status poll loop after an upload.
type PollingConfig struct {
	Interval string `toml:"interval"`
	MaxPolls int    `toml:"max_polls"`
}

// RetryConfig bounds manual retries of a failed job.
type RetryConfig struct {
	MaxAttempts int `toml:"max_attempts"`
}

// WatchConfig controls the directory watcher behind `listforge watch`.
type WatchConfig struct {
	Dir        string   `toml:"dir"`
	Debounce   string   `toml:"debounce"`
	Extensions []string `toml:"extensions"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogFile   string `toml:"log_file"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings.
type CLIOverrides struct {
	ConfigPath string // --config flag (empty = use default)
	BaseURL    string // --base-url flag
}

// Default values. These are "layer 0" of the override chain and work
// without any config file.
const (
	defaultBaseURL       = "https://api.listforge.dev"
	defaultUploadTimeout = "300s"
	defaultPollInterval  = "5s"
	defaultMaxPolls      = 60
	defaultMaxAttempts   = 3
	defaultDebounce      = "2s"
	defaultLogLevel      = "info"
	defaultLogFormat     = "auto"
)

// defaultExtensions are the image types picked up in watch mode.
var defaultExtensions = []string{"jpg", "jpeg", "png", "webp"}

// DefaultConfig returns a Config populated with all default values. It is
// both the starting point for TOML decoding (unset fields keep defaults)
// and the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:       defaultBaseURL,
			UploadTimeout: defaultUploadTimeout,
		},
		Polling: PollingConfig{
			Interval: defaultPollInterval,
			MaxPolls: defaultMaxPolls,
		},
		Retry: RetryConfig{
			MaxAttempts: defaultMaxAttempts,
		},
		Watch: WatchConfig{
			Debounce:   defaultDebounce,
			Extensions: append([]string(nil), defaultExtensions...),
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}
