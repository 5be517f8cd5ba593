package config

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "config show" command, giving
// users visibility into the effective values after all four override
// layers (defaults -> file -> env -> CLI) have been applied.
func RenderEffective(cfg *Config, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration\n\n")
	ew.printf("state_db   = %q\n", cfg.StateDB)
	ew.printf("log_level  = %q\n", cfg.LogLevel)
	ew.printf("log_format = %q\n", cfg.LogFormat)

	if cfg.LogFile != "" {
		ew.printf("log_file   = %q\n", cfg.LogFile)
	}

	ew.printf("\n")

	renderTableSections(ew, cfg.Tables)
	renderWatchSection(ew, &cfg.Watch)
	renderServeSection(ew, &cfg.Serve)
	renderExportSection(ew, &cfg.Export)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderTableSections(ew *errWriter, tables map[string]Table) {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		t := tables[name]

		ew.printf("[tables.%s]\n", name)
		ew.printf("  source_db        = %q\n", t.SourceDB)
		ew.printf("  source_table     = %q\n", t.SourceTable)
		ew.printf("  target_db        = %q\n", t.TargetDB)
		ew.printf("  target_table     = %q\n", t.TargetTable)
		ew.printf("  key_column       = %q\n", t.KeyColumn)
		ew.printf("  watermark_column = %q\n", t.WatermarkColumn)
		ew.printf("  payload_columns  = [%s]\n", joinQuoted(t.PayloadColumns))

		if t.Paused != nil {
			ew.printf("  paused           = %t\n", *t.Paused)
		}

		if t.PausedUntil != nil {
			ew.printf("  paused_until     = %q\n", *t.PausedUntil)
		}

		ew.printf("\n")
	}
}

func renderWatchSection(ew *errWriter, w *WatchConfig) {
	ew.printf("[watch]\n")
	ew.printf("  debounce          = %q\n", w.Debounce)
	ew.printf("  poll_interval     = %q\n", w.PollInterval)
	ew.printf("  failure_threshold = %d\n", w.FailureThreshold)
	ew.printf("  failure_cooldown  = %q\n", w.FailureCooldown)
	ew.printf("\n")
}

func renderServeSection(ew *errWriter, s *ServeConfig) {
	ew.printf("[serve]\n")
	ew.printf("  listen     = %q\n", s.Listen)
	ew.printf("  auth_token = %s\n", redacted(s.AuthToken))
	ew.printf("\n")
}

func renderExportSection(ew *errWriter, e *ExportConfig) {
	ew.printf("[export]\n")
	ew.printf("  endpoint   = %q\n", e.Endpoint)
	ew.printf("  bucket     = %q\n", e.Bucket)
	ew.printf("  access_key = %s\n", redacted(e.AccessKey))
	ew.printf("  secret_key = %s\n", redacted(e.SecretKey))
	ew.printf("  use_ssl    = %t\n", e.UseSSL)
	ew.printf("  prefix     = %q\n", e.Prefix)
}

// redacted masks secret values in rendered output while still showing
// whether one is set.
func redacted(secret string) string {
	if secret == "" {
		return `""`
	}

	return `"<redacted>"`
}

func joinQuoted(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = fmt.Sprintf("%q", v)
	}

	return strings.Join(quoted, ", ")
}
