package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig    = "CARDSYNC_CONFIG"
	EnvWorkspace = "CARDSYNC_WORKSPACE"
	EnvRemoteURL = "CARDSYNC_REMOTE_URL"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // CARDSYNC_CONFIG: override config file path
	Workspace  string // CARDSYNC_WORKSPACE: active workspace
	RemoteURL  string // CARDSYNC_REMOTE_URL: remote store base URL
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Workspace:  os.Getenv(EnvWorkspace),
		RemoteURL:  os.Getenv(EnvRemoteURL),
	}
}
