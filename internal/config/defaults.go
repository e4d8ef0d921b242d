package config

// Default values for configuration options. These are "layer 0" of the
// four-layer override chain.
const (
	defaultRemoteURL         = "http://127.0.0.1:8787"
	defaultConnectTimeout    = "10s"
	defaultRequestTimeout    = "60s"
	defaultMaxRetries        = 0
	defaultDefaultSubject    = "General"
	defaultProbeInterval     = "30s"
	defaultDebounce          = "500ms"
	defaultLogLevel          = "info"
	defaultLogFormat         = "auto"
	defaultLogMaxSizeMB      = 10
	defaultLogRetentionDays  = 30
	defaultHubListen         = ":8787"
	defaultHubTokenLifetime  = "1h"
	defaultRequestsPerSecond = 0
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		Remote: RemoteConfig{
			URL:               defaultRemoteURL,
			ConnectTimeout:    defaultConnectTimeout,
			RequestTimeout:    defaultRequestTimeout,
			MaxRetries:        defaultMaxRetries,
			RequestsPerSecond: defaultRequestsPerSecond,
		},
		Sync: SyncConfig{
			DefaultSubject: defaultDefaultSubject,
			ProbeInterval:  defaultProbeInterval,
			Realtime:       true,
			Debounce:       defaultDebounce,
		},
		Logging: LoggingConfig{
			LogLevel:         defaultLogLevel,
			LogFormat:        defaultLogFormat,
			LogMaxSizeMB:     defaultLogMaxSizeMB,
			LogRetentionDays: defaultLogRetentionDays,
		},
		Hub: HubConfig{
			Listen:        defaultHubListen,
			TokenLifetime: defaultHubTokenLifetime,
		},
	}
}
