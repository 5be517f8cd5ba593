// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for rowmark. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags) and
// declares the replicated table pairs the engine operates on.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
// Table pairs are named sections under [tables.<name>]; the section name is
// the logical table name used in run records, CLI arguments, and the API.
type Config struct {
	StateDB   string           `toml:"state_db" json:"state_db"`
	LogLevel  string           `toml:"log_level" json:"log_level"`
	LogFormat string           `toml:"log_format" json:"log_format"`
	LogFile   string           `toml:"log_file" json:"log_file,omitempty"`
	Tables    map[string]Table `toml:"tables" json:"tables"`
	Watch     WatchConfig      `toml:"watch" json:"watch"`
	Serve     ServeConfig      `toml:"serve" json:"serve"`
	Export    ExportConfig     `toml:"export" json:"export"`
}

// Table declares one replicated pair: where changed rows come from, where
// they land, and which columns drive the replication. PayloadColumns is the
// opaque projection copied verbatim; the key and watermark columns must not
// appear in it.
//
// Paused and PausedUntil are managed by `rowmark pause` / `rowmark resume`
// via line-level config edits. Pointer types distinguish "key absent" from
// an explicit false/empty, which matters when clearing the keys on resume.
type Table struct {
	SourceDB        string   `toml:"source_db" json:"source_db"`
	SourceTable     string   `toml:"source_table" json:"source_table"`
	TargetDB        string   `toml:"target_db" json:"target_db"`
	TargetTable     string   `toml:"target_table" json:"target_table"`
	KeyColumn       string   `toml:"key_column" json:"key_column"`
	WatermarkColumn string   `toml:"watermark_column" json:"watermark_column"`
	PayloadColumns  []string `toml:"payload_columns" json:"payload_columns"`
	Paused          *bool    `toml:"paused" json:"paused,omitempty"`
	PausedUntil     *string  `toml:"paused_until" json:"paused_until,omitempty"`
}

// IsPaused reports whether the table is paused at the given instant. A timed
// pause whose paused_until has passed no longer counts as paused, even before
// the stale keys are cleared from the config file.
func (t Table) IsPaused(now time.Time) bool {
	if t.Paused == nil || !*t.Paused {
		return false
	}

	if t.PausedUntil != nil {
		until, err := time.Parse(time.RFC3339, *t.PausedUntil)
		if err == nil && !until.After(now) {
			return false
		}
	}

	return true
}

// WatchConfig controls the watch-mode trigger loop: how long to coalesce
// bursts of file events, how often to poll when no events arrive, and when
// to back off a persistently failing pair.
type WatchConfig struct {
	Debounce         string `toml:"debounce" json:"debounce"`
	PollInterval     string `toml:"poll_interval" json:"poll_interval"`
	FailureThreshold int    `toml:"failure_threshold" json:"failure_threshold"`
	FailureCooldown  string `toml:"failure_cooldown" json:"failure_cooldown"`
}

// ServeConfig controls the HTTP API. An empty auth_token disables the
// bearer check; set one whenever the listener is not loopback-only.
// The token never marshals to JSON, so `config show --json` stays safe
// to paste into a bug report.
type ServeConfig struct {
	Listen    string `toml:"listen" json:"listen"`
	AuthToken string `toml:"auth_token" json:"-"`
}

// ExportConfig controls the optional upload of audit exports to
// S3-compatible storage. Upload stays disabled until endpoint and bucket
// are both set. Credentials never marshal to JSON.
type ExportConfig struct {
	Endpoint  string `toml:"endpoint" json:"endpoint,omitempty"`
	Bucket    string `toml:"bucket" json:"bucket,omitempty"`
	AccessKey string `toml:"access_key" json:"-"`
	SecretKey string `toml:"secret_key" json:"-"`
	UseSSL    bool   `toml:"use_ssl" json:"use_ssl"`
	Prefix    string `toml:"prefix" json:"prefix,omitempty"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value", so an explicit empty flag value is
// not confused with an absent flag.
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	StateDB    *string // --state-db flag
	LogLevel   *string // --log-level flag
}
