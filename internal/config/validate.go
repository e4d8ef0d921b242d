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
	minConnectTimeout = 1 * time.Second
	minRequestTimeout = 1 * time.Second
	minProbeInterval  = 1 * time.Second
	maxDebounce       = 1 * time.Minute
	maxRetriesLimit   = 10
	minLogRetention   = 1
	minLogSizeMB      = 1
	minTokenLifetime  = 1 * time.Minute
	minSigningKeyLen  = 16
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateRemote(&cfg.Remote)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateHub(&cfg.Hub)...)

	return errors.Join(errs...)
}

// ValidateHubSecrets checks the settings only the hub server needs. They are
// kept out of Validate so a client-only config need not carry a signing key.
func ValidateHubSecrets(h *HubConfig) error {
	if len(h.SigningKey) < minSigningKeyLen {
		return fmt.Errorf("hub.signing_key: must be at least %d characters", minSigningKeyLen)
	}

	return nil
}

func validateRemote(r *RemoteConfig) []error {
	var errs []error

	u, err := url.Parse(r.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("remote.url: must be an absolute http(s) URL, got %q", r.URL))
	}

	errs = append(errs, validateDuration("remote.connect_timeout", r.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDuration("remote.request_timeout", r.RequestTimeout, minRequestTimeout)...)

	if r.MaxRetries < 0 || r.MaxRetries > maxRetriesLimit {
		errs = append(errs, fmt.Errorf("remote.max_retries: must be between 0 and %d, got %d",
			maxRetriesLimit, r.MaxRetries))
	}

	if r.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("remote.requests_per_second: must be >= 0, got %g", r.RequestsPerSecond))
	}

	return errs
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if strings.TrimSpace(s.DefaultSubject) == "" {
		errs = append(errs, errors.New("sync.default_subject: must not be empty"))
	}

	if s.Workspace != strings.TrimSpace(s.Workspace) {
		errs = append(errs, fmt.Errorf("sync.workspace: must not have surrounding whitespace, got %q", s.Workspace))
	}

	errs = append(errs, validateDuration("sync.probe_interval", s.ProbeInterval, minProbeInterval)...)

	d, err := time.ParseDuration(s.Debounce)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("sync.debounce: invalid duration %q: %w", s.Debounce, err))
	case d < 0 || d > maxDebounce:
		errs = append(errs, fmt.Errorf("sync.debounce: must be between 0 and %s, got %s", maxDebounce, d))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	if l.LogMaxSizeMB < minLogSizeMB {
		errs = append(errs, fmt.Errorf("logging.log_max_size_mb: must be >= %d, got %d", minLogSizeMB, l.LogMaxSizeMB))
	}

	if l.LogRetentionDays < minLogRetention {
		errs = append(errs, fmt.Errorf("logging.log_retention_days: must be >= %d, got %d",
			minLogRetention, l.LogRetentionDays))
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

func validateHub(h *HubConfig) []error {
	var errs []error

	if h.Listen == "" {
		errs = append(errs, errors.New("hub.listen: must not be empty"))
	}

	errs = append(errs, validateDuration("hub.token_lifetime", h.TokenLifetime, minTokenLifetime)...)

	for user, pw := range h.Users {
		if user == "" || pw == "" {
			errs = append(errs, fmt.Errorf("hub.users: user %q needs a non-empty name and password", user))
		}
	}

	return errs
}

func validateDuration(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}
