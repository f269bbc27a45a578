package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig    = "LISTFORGE_CONFIG"
	EnvBaseURL   = "LISTFORGE_BASE_URL"
	EnvTokenFile = "LISTFORGE_TOKEN_FILE"
	EnvDataDir   = "LISTFORGE_DATA_DIR"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // LISTFORGE_CONFIG: override config file path
	BaseURL    string // LISTFORGE_BASE_URL: override backend base URL
	TokenFile  string // LISTFORGE_TOKEN_FILE: override token file path
	DataDir    string // LISTFORGE_DATA_DIR: override data directory
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. This does not modify the Config; callers apply the relevant
// fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		BaseURL:    os.Getenv(EnvBaseURL),
		TokenFile:  os.Getenv(EnvTokenFile),
		DataDir:    os.Getenv(EnvDataDir),
	}
}
