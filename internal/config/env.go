package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig   = "ROWMARK_CONFIG"
	EnvStateDB  = "ROWMARK_STATE_DB"
	EnvLogLevel = "ROWMARK_LOG_LEVEL"
)

// EnvOverrides holds values derived from environment variables.
// These are resolved by ReadEnvOverrides and made available to callers.
type EnvOverrides struct {
	ConfigPath string // ROWMARK_CONFIG: override config file path
	StateDB    string // ROWMARK_STATE_DB: override state database path
	LogLevel   string // ROWMARK_LOG_LEVEL: override log level
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. This does not modify the Config; callers apply the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		StateDB:    os.Getenv(EnvStateDB),
		LogLevel:   os.Getenv(EnvLogLevel),
	}
}
