// Package testutil provides shared helpers for the end-to-end tests. It
// depends only on stdlib so it can be used from test binaries that drive
// the built CLI rather than importing the replication engine directly.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// Pair describes one replicated table for a generated config file. The
// column layout is the one cmd/rowmark-seed creates: order_id key,
// customer and total payload, updated_at change column.
type Pair struct {
	Name        string
	SourceDB    string
	SourceTable string
	TargetDB    string
	TargetTable string
}

// ConfigTOML renders a config file for the given state DB and pairs.
func ConfigTOML(stateDB string, pairs []Pair) string {
	var b strings.Builder

	fmt.Fprintf(&b, "state_db = %q\n", stateDB)
	b.WriteString("log_level = \"warn\"\n")

	for _, p := range pairs {
		fmt.Fprintf(&b, "\n[tables.%s]\n", p.Name)
		fmt.Fprintf(&b, "source_db = %q\n", p.SourceDB)
		fmt.Fprintf(&b, "source_table = %q\n", p.SourceTable)
		fmt.Fprintf(&b, "target_db = %q\n", p.TargetDB)
		fmt.Fprintf(&b, "target_table = %q\n", p.TargetTable)
		b.WriteString(`key_column = "order_id"` + "\n")
		b.WriteString(`watermark_column = "updated_at"` + "\n")
		b.WriteString(`payload_columns = ["customer", "total"]` + "\n")
	}

	return b.String()
}
