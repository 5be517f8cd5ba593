package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Validation range constants.
const (
	minDebounce        = 100 * time.Millisecond
	minPollInterval    = 1 * time.Second
	minFailureCooldown = 1 * time.Second
	minFailureCount    = 1
)

// Valid enum values for logging settings.
var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"auto": true, "text": true, "json": true}
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateLogging(cfg)...)
	errs = append(errs, validateTables(cfg.Tables)...)
	errs = append(errs, validateWatch(&cfg.Watch)...)
	errs = append(errs, validateServe(&cfg.Serve)...)
	errs = append(errs, validateExport(&cfg.Export)...)

	return errors.Join(errs...)
}

func validateLogging(cfg *Config) []error {
	var errs []error

	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be debug, info, warn, or error, got %q", cfg.LogLevel))
	}

	if !validLogFormats[cfg.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be auto, text, or json, got %q", cfg.LogFormat))
	}

	return errs
}

func validateTables(tables map[string]Table) []error {
	var errs []error

	for name, t := range tables {
		if !validTableName(name) {
			errs = append(errs, fmt.Errorf(
				"tables.%s: name must contain only letters, digits, '.', '_', or '-'", name))
		}

		errs = append(errs, validateTable(name, &t)...)
	}

	return errs
}

// validateTable checks a single pair declaration. Column and table names
// are later quoted into generated SQL, so the checks here are about
// completeness and internal consistency, not SQL safety.
func validateTable(name string, t *Table) []error {
	var errs []error

	required := []struct {
		key   string
		value string
	}{
		{"source_db", t.SourceDB},
		{"source_table", t.SourceTable},
		{"target_db", t.TargetDB},
		{"target_table", t.TargetTable},
		{"key_column", t.KeyColumn},
		{"watermark_column", t.WatermarkColumn},
	}

	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, fmt.Errorf("tables.%s: %s is required", name, r.key))
		}
	}

	if len(t.PayloadColumns) == 0 {
		errs = append(errs, fmt.Errorf("tables.%s: payload_columns must list at least one column", name))
	}

	seen := make(map[string]bool, len(t.PayloadColumns))

	for _, col := range t.PayloadColumns {
		if strings.TrimSpace(col) == "" {
			errs = append(errs, fmt.Errorf("tables.%s: payload_columns contains an empty name", name))
			continue
		}

		if seen[col] {
			errs = append(errs, fmt.Errorf("tables.%s: payload column %q listed twice", name, col))
		}

		seen[col] = true

		if col == t.KeyColumn {
			errs = append(errs, fmt.Errorf("tables.%s: key_column %q must not appear in payload_columns", name, col))
		}

		if col == t.WatermarkColumn {
			errs = append(errs, fmt.Errorf("tables.%s: watermark_column %q must not appear in payload_columns", name, col))
		}
	}

	if t.PausedUntil != nil {
		if _, err := time.Parse(time.RFC3339, *t.PausedUntil); err != nil {
			errs = append(errs, fmt.Errorf("tables.%s: paused_until must be an RFC 3339 timestamp: %w", name, err))
		}
	}

	return errs
}

// validTableName reports whether a logical table name is safe to use in
// CLI arguments, URL paths, and log output.
func validTableName(name string) bool {
	if name == "" {
		return false
	}

	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '_', r == '-':
		default:
			return false
		}
	}

	return true
}

func validateWatch(w *WatchConfig) []error {
	var errs []error

	if w.Debounce != "" {
		if d, err := time.ParseDuration(w.Debounce); err != nil {
			errs = append(errs, fmt.Errorf("watch.debounce: %w", err))
		} else if d < minDebounce {
			errs = append(errs, fmt.Errorf("watch.debounce: must be at least %s, got %s", minDebounce, d))
		}
	}

	// poll_interval "0" disables the polling fallback entirely.
	if w.PollInterval != "" && w.PollInterval != "0" {
		if d, err := time.ParseDuration(w.PollInterval); err != nil {
			errs = append(errs, fmt.Errorf("watch.poll_interval: %w", err))
		} else if d < minPollInterval {
			errs = append(errs, fmt.Errorf("watch.poll_interval: must be at least %s, got %s", minPollInterval, d))
		}
	}

	if w.FailureThreshold < minFailureCount {
		errs = append(errs, fmt.Errorf("watch.failure_threshold: must be at least %d, got %d",
			minFailureCount, w.FailureThreshold))
	}

	if w.FailureCooldown != "" {
		if d, err := time.ParseDuration(w.FailureCooldown); err != nil {
			errs = append(errs, fmt.Errorf("watch.failure_cooldown: %w", err))
		} else if d < minFailureCooldown {
			errs = append(errs, fmt.Errorf("watch.failure_cooldown: must be at least %s, got %s",
				minFailureCooldown, d))
		}
	}

	return errs
}

func validateServe(s *ServeConfig) []error {
	var errs []error

	if s.Listen != "" {
		if _, _, err := net.SplitHostPort(s.Listen); err != nil {
			errs = append(errs, fmt.Errorf("serve.listen: %w", err))
		}
	}

	return errs
}

func validateExport(e *ExportConfig) []error {
	var errs []error

	// Upload is optional; when an endpoint is given the bucket and
	// credentials must come with it.
	if e.Endpoint == "" {
		return nil
	}

	if e.Bucket == "" {
		errs = append(errs, errors.New("export.bucket: required when export.endpoint is set"))
	}

	if e.AccessKey == "" || e.SecretKey == "" {
		errs = append(errs, errors.New("export: access_key and secret_key are required when export.endpoint is set"))
	}

	return errs
}
