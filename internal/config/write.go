package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// configFilePermissions is the standard permission mode for config files.
// Owner read/write only: the file may carry an API auth token or S3
// credentials.
const configFilePermissions = 0o600

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// configTemplate is the default config file content written by
// `rowmark config init`. All global settings are present as commented-out
// defaults so users can discover every option without reading docs, plus
// one commented example table pair. The template is written once and never
// regenerated.
const configTemplate = `# rowmark configuration
# Docs: https://github.com/rowmark/rowmark

# ── Global settings ──
# Uncomment and modify to override defaults.

# Audit/state database path (default: platform data directory)
# state_db = ""

# Log verbosity: debug, info, warn, error
# log_level = "info"

# Log output format: auto, text, json
# log_format = "auto"

# ── Table pairs ──
# One [tables.<name>] section per replicated table.
#
# [tables.orders]
# source_db = "/srv/app/app.db"
# source_table = "orders"
# target_db = "/srv/warehouse/replica.db"
# target_table = "orders"
# key_column = "id"
# watermark_column = "updated_at"
# payload_columns = ["customer", "total_cents", "status"]

# ── Watch mode ──
# [watch]
# debounce = "2s"
# poll_interval = "5m"
# failure_threshold = 3
# failure_cooldown = "30m"

# ── HTTP API ──
# [serve]
# listen = "127.0.0.1:8460"
# auth_token = ""

# ── Export upload (S3-compatible) ──
# [export]
# endpoint = "s3.example.com"
# bucket = "rowmark-exports"
# access_key = ""
# secret_key = ""
# use_ssl = true
# prefix = "rowmark"
`

// WriteDefault creates a new config file from the default template.
// Fails if the file already exists so a populated config is never
// clobbered. The write is atomic (temp file + rename) and parent
// directories are created as needed.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	slog.Info("writing default config file", "path", path)

	return atomicWriteFile(path, []byte(configTemplate))
}

// SetTableKey finds a [tables.<name>] section and sets a key-value pair.
// If the key already exists within the section, its line is replaced. If not
// found, the key is inserted on the line after the section header. Used by
// `rowmark pause` to set `paused = true` and `paused_until`.
//
// Edits are line-level so user comments and formatting elsewhere in the file
// survive. Value formatting: booleans ("true"/"false") are written without
// quotes; all other values are written as quoted strings.
func SetTableKey(path, table, key, value string) error {
	slog.Info("setting table key in config",
		"path", path,
		"table", table,
		"key", key,
		"value", value,
	)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	lines := strings.Split(string(data), "\n")

	headerLine, sectionStart := findSectionHeader(lines, table)
	if sectionStart < 0 {
		return fmt.Errorf("table section %q not found in config", table)
	}

	formattedValue := formatTOMLValue(value)
	newLine := fmt.Sprintf("%s = %s", key, formattedValue)

	lines = setKeyInSection(lines, headerLine, sectionStart, key, newLine)

	return atomicWriteFile(path, []byte(strings.Join(lines, "\n")))
}

// DeleteTableKey removes a single key line from a [tables.<name>] section.
// Deleting a key that is not present is a no-op, so clearing both pause keys
// on resume works whether or not a timed pause was set. A missing section is
// still an error.
func DeleteTableKey(path, table, key string) error {
	slog.Info("deleting table key from config",
		"path", path,
		"table", table,
		"key", key,
	)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	lines := strings.Split(string(data), "\n")

	headerLine, sectionStart := findSectionHeader(lines, table)
	if sectionStart < 0 {
		return fmt.Errorf("table section %q not found in config", table)
	}

	sectionEnd := findSectionEnd(lines, sectionStart)
	keyPrefix := key + " "
	keyPrefixEq := key + "="

	for i := headerLine + 1; i < sectionEnd; i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, keyPrefix) || strings.HasPrefix(trimmed, keyPrefixEq) {
			lines = append(lines[:i], lines[i+1:]...)

			return atomicWriteFile(path, []byte(strings.Join(lines, "\n")))
		}
	}

	return nil
}

// findSectionHeader locates the line index of a [tables.<name>] header.
// Both the bare form ([tables.orders]) and the quoted form
// ([tables."orders"]) are recognized. Returns the header line index and the
// section content start (header + 1), or -1 for both if not found.
func findSectionHeader(lines []string, table string) (int, int) {
	bare := fmt.Sprintf("[tables.%s]", table)
	quoted := fmt.Sprintf("[tables.%q]", table)

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == bare || trimmed == quoted {
			return i, i + 1
		}
	}

	return -1, -1
}

// findSectionEnd returns the index of the first line after the section's
// own content. Any following section header ([tables.x], [watch], ...) ends
// the section. Blank lines and comments that precede the next header are
// excluded (those belong to the next section's preamble, not this section's
// content).
func findSectionEnd(lines []string, sectionStart int) int {
	nextHeader := len(lines)

	for i := sectionStart; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, "[") {
			nextHeader = i

			break
		}
	}

	// Walk backwards from the next section header to skip blank lines and
	// comment lines that belong to the next section's preamble.
	end := nextHeader
	for end > sectionStart {
		trimmed := strings.TrimSpace(lines[end-1])
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			end--

			continue
		}

		break
	}

	return end
}

// setKeyInSection either replaces an existing key line or inserts a new
// one after the section header.
func setKeyInSection(lines []string, headerLine, sectionStart int, key, newLine string) []string {
	sectionEnd := findSectionEnd(lines, sectionStart)
	keyPrefix := key + " "
	keyPrefixEq := key + "="

	// Search for existing key within the section.
	for i := headerLine + 1; i < sectionEnd; i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, keyPrefix) || strings.HasPrefix(trimmed, keyPrefixEq) {
			lines[i] = newLine

			return lines
		}
	}

	// Key not found, insert after header.
	inserted := make([]string, 0, len(lines)+1)
	inserted = append(inserted, lines[:headerLine+1]...)
	inserted = append(inserted, newLine)
	inserted = append(inserted, lines[headerLine+1:]...)

	return inserted
}

// formatTOMLValue formats a value for TOML output. Booleans are written
// bare (true/false); all other values are quoted strings.
func formatTOMLValue(value string) string {
	if value == "true" || value == "false" {
		return value
	}

	return fmt.Sprintf("%q", value)
}

// atomicWriteFile writes data to path via a temp file and rename, so a
// crash mid-write never leaves a truncated config behind.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	// Clean up the temp file on any error path.
	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
