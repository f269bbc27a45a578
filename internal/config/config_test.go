package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
[backend]
base_url = "https://backend.example.com"
upload_timeout = "120s"

[polling]
interval = "2s"
max_polls = 30

[retry]
max_attempts = 5

[watch]
dir = "/photos/outbox"
debounce = "500ms"
extensions = ["jpg", "png"]

[logging]
log_level = "debug"
log_format = "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://backend.example.com", cfg.Backend.BaseURL)
	assert.Equal(t, "120s", cfg.Backend.UploadTimeout)
	assert.Equal(t, 30, cfg.Polling.MaxPolls)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, "/photos/outbox", cfg.Watch.Dir)
	assert.Equal(t, []string{"jpg", "png"}, cfg.Watch.Extensions)
	assert.Equal(t, "debug", cfg.Logging.LogLevel)
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
[backend]
base_url = "http://localhost:8080"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.Backend.BaseURL)
	assert.Equal(t, defaultUploadTimeout, cfg.Backend.UploadTimeout)
	assert.Equal(t, defaultMaxPolls, cfg.Polling.MaxPolls)
	assert.Equal(t, defaultExtensions, cfg.Watch.Extensions)
}

func TestLoad_UnknownKeySuggestion(t *testing.T) {
	path := writeConfig(t, `
[polling]
intervall = "2s"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"polling.intervall"`)
	assert.Contains(t, err.Error(), `did you mean "polling.interval"`)
}

func TestLoad_UnknownSection(t *testing.T) {
	path := writeConfig(t, `
[uploads]
timeout = "2s"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config section "uploads"`)
}

func TestLoad_AccumulatesValidationErrors(t *testing.T) {
	path := writeConfig(t, `
[backend]
base_url = "ftp://example.com"

[polling]
max_polls = 0

[logging]
log_level = "loud"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url")
	assert.Contains(t, err.Error(), "max_polls")
	assert.Contains(t, err.Error(), "log_level")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, defaultBaseURL, cfg.Backend.BaseURL)
}

func TestValidate_Defaults(t *testing.T) {
	require.NoError(t, Validate(DefaultConfig()))
}

func TestValidate_WatchExtensions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Watch.Extensions = []string{".jpg"}

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without the dot")
}

func TestResolve_PrecedenceChain(t *testing.T) {
	path := writeConfig(t, `
[backend]
base_url = "https://from-file.example.com"
`)

	// Env beats file.
	res, err := Resolve(EnvOverrides{ConfigPath: path, BaseURL: "https://from-env.example.com"}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "https://from-env.example.com", res.BaseURL)

	// CLI beats env.
	res, err = Resolve(
		EnvOverrides{ConfigPath: path, BaseURL: "https://from-env.example.com"},
		CLIOverrides{BaseURL: "https://from-cli.example.com"},
	)
	require.NoError(t, err)
	assert.Equal(t, "https://from-cli.example.com", res.BaseURL)
}

func TestResolve_ParsesDurationsAndPaths(t *testing.T) {
	path := writeConfig(t, `
[backend]
upload_timeout = "90s"

[polling]
interval = "3s"
`)

	dataDir := t.TempDir()

	res, err := Resolve(EnvOverrides{ConfigPath: path, DataDir: dataDir}, CLIOverrides{})
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, res.UploadTimeout)
	assert.Equal(t, 3*time.Second, res.PollInterval)
	assert.Equal(t, 2*time.Second, res.Debounce)
	assert.Equal(t, filepath.Join(dataDir, "tokens.json"), res.TokenPath)
	assert.Equal(t, filepath.Join(dataDir, "jobs.db"), res.LedgerPath)
}

func TestResolve_TokenFileOverride(t *testing.T) {
	res, err := Resolve(EnvOverrides{
		ConfigPath: filepath.Join(t.TempDir(), "absent.toml"),
		TokenFile:  "/secrets/listforge-tokens.json",
	}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "/secrets/listforge-tokens.json", res.TokenPath)
}

func TestDefaultPaths_XDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg-config")
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg-data")

	if dir := DefaultConfigDir(); dir != "" {
		switch {
		case filepath.Base(filepath.Dir(dir)) == "xdg-config":
			assert.Equal(t, "/tmp/xdg-config/listforge", dir)
		default:
			// Non-Linux platforms ignore XDG variables.
			assert.Contains(t, dir, "listforge")
		}
	}
}

func TestClosestMatch(t *testing.T) {
	assert.Equal(t, "polling.interval", closestMatch("polling.intervl", knownKeysList))
	assert.Empty(t, closestMatch("completely.unrelated", knownKeysList))
}
