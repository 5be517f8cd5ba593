package config

// Default values for configuration options. These represent the "layer 0"
// of the four-layer override chain and are chosen so a minimal config file
// declaring only table pairs works out of the box.
const (
	defaultLogLevel         = "info"
	defaultLogFormat        = "auto"
	defaultDebounce         = "2s"
	defaultPollInterval     = "5m"
	defaultFailureThreshold = 3
	defaultFailureCooldown  = "30m"
	defaultListen           = "127.0.0.1:8460"
	defaultExportPrefix     = "rowmark"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
// StateDB is left empty here; Resolve fills it from the environment, CLI,
// or the platform data directory.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
		Tables:    make(map[string]Table),
		Watch:     defaultWatchConfig(),
		Serve:     defaultServeConfig(),
		Export:    defaultExportConfig(),
	}
}

func defaultWatchConfig() WatchConfig {
	return WatchConfig{
		Debounce:         defaultDebounce,
		PollInterval:     defaultPollInterval,
		FailureThreshold: defaultFailureThreshold,
		FailureCooldown:  defaultFailureCooldown,
	}
}

func defaultServeConfig() ServeConfig {
	return ServeConfig{
		Listen: defaultListen,
	}
}

func defaultExportConfig() ExportConfig {
	return ExportConfig{
		UseSSL: true,
		Prefix: defaultExportPrefix,
	}
}
