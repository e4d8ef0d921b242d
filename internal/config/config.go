// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for cardsync. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Remote  RemoteConfig  `toml:"remote"`
	Sync    SyncConfig    `toml:"sync"`
	Logging LoggingConfig `toml:"logging"`
	Hub     HubConfig     `toml:"hub"`
}

// RemoteConfig controls the remote store client. max_retries defaults to 0:
// a failed call is retried by the next sync cycle, not within the current one.
type RemoteConfig struct {
	URL               string  `toml:"url"`
	ConnectTimeout    string  `toml:"connect_timeout"`
	RequestTimeout    string  `toml:"request_timeout"`
	MaxRetries        int     `toml:"max_retries"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// SyncConfig controls the sync engine, the realtime listener and the
// connectivity monitor.
type SyncConfig struct {
	Workspace      string `toml:"workspace"`
	DefaultSubject string `toml:"default_subject"`
	ProbeInterval  string `toml:"probe_interval"`
	Realtime       bool   `toml:"realtime"`
	Debounce       string `toml:"debounce"`
}

// LoggingConfig controls log output behavior: level, format, and rotation.
type LoggingConfig struct {
	LogLevel         string `toml:"log_level"`
	LogFormat        string `toml:"log_format"`
	LogFile          string `toml:"log_file"`
	LogMaxSizeMB     int    `toml:"log_max_size_mb"`
	LogRetentionDays int    `toml:"log_retention_days"`
}

// HubConfig configures the cardsync-hub development server. Users maps
// usernames to passwords; an empty table accepts any credentials.
type HubConfig struct {
	Listen        string            `toml:"listen"`
	SigningKey    string            `toml:"signing_key"`
	TokenLifetime string            `toml:"token_lifetime"`
	Users         map[string]string `toml:"users"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to the zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	Workspace  *string // --workspace flag
	RemoteURL  *string // --remote flag
	DataDir    *string // --data-dir flag
}
