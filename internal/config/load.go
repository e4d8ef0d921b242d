package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal, with "did you mean?" suggestions.
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

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolved is a fully merged configuration with durations parsed and file
// locations filled in.
type Resolved struct {
	*Config

	ConfigPath  string
	DataDir     string
	DBPath      string
	SessionPath string

	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	ProbeInterval  time.Duration
	Debounce       time.Duration
	TokenLifetime  time.Duration
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	// 1. Resolve config path: CLI > env > default
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	// 2. Load config file (returns defaults if no file exists)
	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	// 3. Apply env overrides
	if env.Workspace != "" {
		cfg.Sync.Workspace = env.Workspace
	}

	if env.RemoteURL != "" {
		cfg.Remote.URL = env.RemoteURL
	}

	// 4. Apply CLI overrides (pointer fields: nil = not specified)
	if cli.Workspace != nil {
		cfg.Sync.Workspace = *cli.Workspace
	}

	if cli.RemoteURL != nil {
		cfg.Remote.URL = *cli.RemoteURL
	}

	dataDir := DefaultDataDir()
	if cli.DataDir != nil {
		dataDir = *cli.DataDir
	}

	// 5. Overrides can break what the file alone satisfied.
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	if dataDir == "" {
		return nil, errors.New("config: cannot determine data directory (no home directory)")
	}

	r := &Resolved{
		Config:      cfg,
		ConfigPath:  cfgPath,
		DataDir:     dataDir,
		DBPath:      DBPath(dataDir),
		SessionPath: SessionPath(dataDir),
	}

	// Durations were validated above, so parsing cannot fail here.
	r.ConnectTimeout, _ = time.ParseDuration(cfg.Remote.ConnectTimeout)
	r.RequestTimeout, _ = time.ParseDuration(cfg.Remote.RequestTimeout)
	r.ProbeInterval, _ = time.ParseDuration(cfg.Sync.ProbeInterval)
	r.Debounce, _ = time.ParseDuration(cfg.Sync.Debounce)
	r.TokenLifetime, _ = time.ParseDuration(cfg.Hub.TokenLifetime)

	return r, nil
}
