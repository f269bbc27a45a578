package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validation range constants.
const (
	minUploadTimeout = 10 * time.Second
	minPollInterval  = 1 * time.Second
	minMaxPolls      = 1
	maxMaxPolls      = 1000
	minMaxAttempts   = 1
	maxMaxAttempts   = 10
	minDebounce      = 100 * time.Millisecond
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateBackend(&cfg.Backend)...)
	errs = append(errs, validatePolling(&cfg.Polling)...)
	errs = append(errs, validateRetry(&cfg.Retry)...)
	errs = append(errs, validateWatch(&cfg.Watch)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateBackend(b *BackendConfig) []error {
	var errs []error

	u, err := url.Parse(b.BaseURL)

	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("base_url: invalid URL %q: %w", b.BaseURL, err))
	case u.Scheme != "http" && u.Scheme != "https":
		errs = append(errs, fmt.Errorf("base_url: must be http or https, got %q", b.BaseURL))
	case u.Host == "":
		errs = append(errs, fmt.Errorf("base_url: missing host in %q", b.BaseURL))
	}

	errs = append(errs, validateDurationMin("upload_timeout", b.UploadTimeout, minUploadTimeout)...)

	return errs
}

func validatePolling(p *PollingConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("polling interval", p.Interval, minPollInterval)...)

	if p.MaxPolls < minMaxPolls || p.MaxPolls > maxMaxPolls {
		errs = append(errs, fmt.Errorf("max_polls: must be between %d and %d, got %d",
			minMaxPolls, maxMaxPolls, p.MaxPolls))
	}

	return errs
}

func validateRetry(r *RetryConfig) []error {
	if r.MaxAttempts < minMaxAttempts || r.MaxAttempts > maxMaxAttempts {
		return []error{fmt.Errorf("max_attempts: must be between %d and %d, got %d",
			minMaxAttempts, maxMaxAttempts, r.MaxAttempts)}
	}

	return nil
}

func validateWatch(w *WatchConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("debounce", w.Debounce, minDebounce)...)

	if len(w.Extensions) == 0 {
		errs = append(errs, errors.New("extensions: must not be empty"))
	}

	for _, ext := range w.Extensions {
		if ext == "" || strings.HasPrefix(ext, ".") {
			errs = append(errs, fmt.Errorf("extensions: entry %q must be a bare extension without the dot", ext))
		}
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

// validateDurationMin checks that a duration string is valid and meets a
// minimum.
func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}
