package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownGlobalKeys are the valid keys outside the [tables.*] sections.
// Section-qualified keys are stored with their section prefix.
var knownGlobalKeys = map[string]bool{
	"state_db": true, "log_level": true, "log_format": true, "log_file": true,
	// Watch settings
	"watch.debounce": true, "watch.poll_interval": true,
	"watch.failure_threshold": true, "watch.failure_cooldown": true,
	// Serve settings
	"serve.listen": true, "serve.auth_token": true,
	// Export settings
	"export.endpoint": true, "export.bucket": true, "export.access_key": true,
	"export.secret_key": true, "export.use_ssl": true, "export.prefix": true,
}

// knownGlobalKeysList is the sorted slice form of knownGlobalKeys for
// Levenshtein matching. Sorted for deterministic suggestions when two
// candidates have the same edit distance.
var knownGlobalKeysList = func() []string {
	keys := make([]string, 0, len(knownGlobalKeys))
	for k := range knownGlobalKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// knownTableKeys are the valid keys inside a [tables.<name>] section.
var knownTableKeys = map[string]bool{
	"source_db": true, "source_table": true, "target_db": true,
	"target_table": true, "key_column": true, "watermark_column": true,
	"payload_columns": true, "paused": true, "paused_until": true,
}

// knownTableKeysList is the sorted slice form for Levenshtein matching.
var knownTableKeysList = func() []string {
	keys := make([]string, 0, len(knownTableKeys))
	for k := range knownTableKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	for _, key := range undecoded {
		keyStr := key.String()

		if err := buildKeyError(keyStr); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// buildKeyError creates a descriptive error for an unknown key, optionally
// suggesting the closest known key. Keys under tables.<name> are checked
// against the table section vocabulary; everything else against the global
// one.
func buildKeyError(keyStr string) error {
	parts := strings.Split(keyStr, ".")

	if parts[0] == "tables" {
		// tables.<name>.<key>; a bare "tables.<name>" section is valid.
		if len(parts) < 3 {
			return nil
		}

		tableName := parts[1]
		leaf := parts[2]

		suggestion := closestMatch(leaf, knownTableKeysList)
		if suggestion != "" {
			return fmt.Errorf("unknown key %q in table %q, did you mean %q?", leaf, tableName, suggestion)
		}

		return fmt.Errorf("unknown key %q in table %q", leaf, tableName)
	}

	suggestion := closestMatch(keyStr, knownGlobalKeysList)
	if suggestion != "" {
		return fmt.Errorf("unknown config key %q, did you mean %q?", keyStr, suggestion)
	}

	return fmt.Errorf("unknown config key %q", keyStr)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Use single-row optimization to avoid allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := 0; i < len(a); i++ {
		curr[0] = i + 1

		for j := 0; j < len(b); j++ {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = minOf(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// minOf returns the minimum of three integers.
func minOf(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}
