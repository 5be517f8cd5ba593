package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal errors with "did you mean?"
// suggestions: a silently ignored typo in a table pair declaration would
// replicate the wrong columns.
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
// a Config populated with all default values. Commands that only read the
// audit database work without any config file.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// ResolveConfigPath applies the precedence chain for the config file path:
// CLI flag > environment > platform default.
func ResolveConfigPath(env EnvOverrides, cli CLIOverrides) string {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	return cfgPath
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags.
// It returns a fully resolved and validated Config ready for use.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, error) {
	// 1. Resolve config path: CLI > env > default
	cfgPath := ResolveConfigPath(env, cli)

	// 2. Load config file (returns defaults if no file exists)
	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	// 3. State DB path: CLI > env > file > platform default
	if env.StateDB != "" {
		cfg.StateDB = env.StateDB
	}

	if cli.StateDB != nil {
		cfg.StateDB = *cli.StateDB
	}

	if cfg.StateDB == "" {
		cfg.StateDB = DefaultStateDBPath()
	}

	// 4. Log level: CLI > env > file
	if env.LogLevel != "" {
		cfg.LogLevel = env.LogLevel
	}

	if cli.LogLevel != nil {
		cfg.LogLevel = *cli.LogLevel
	}

	// 5. Validate the final resolved config
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}
