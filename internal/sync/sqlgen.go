package sync

import (
	"strings"

	"github.com/rowmark/rowmark/internal/config"
)

// maxBindVars is the bind variable budget for generated multi-row
// statements. 999 is the lowest SQLITE_MAX_VARIABLE_NUMBER across
// supported SQLite builds, so chunking to it is safe everywhere.
const maxBindVars = 999

// pairSQL holds the SQL generated once per table pair. The static
// statements are built at pair open; the chunked statements (upsert,
// key probes) are assembled per batch from the stored fragments because
// their placeholder count depends on the batch size.
type pairSQL struct {
	selectChanges string
	sourceKeys    string
	countSource   string
	countTarget   string
	createTarget  string

	upsertPrefix     string
	upsertSuffix     string
	existsPrefix     string
	targetKeysPrefix string
	rowPlaceholder   string
	rowWidth         int
}

// buildPairSQL generates the statement set for one pair declaration.
// Identifiers are quoted, never interpolated raw; values always bind.
func buildPairSQL(t *config.Table) pairSQL {
	key := quoteIdent(t.KeyColumn)
	wm := quoteIdent(t.WatermarkColumn)
	source := quoteIdent(t.SourceTable)
	target := quoteIdent(t.TargetTable)

	payload := make([]string, len(t.PayloadColumns))
	for i, col := range t.PayloadColumns {
		payload[i] = quoteIdent(col)
	}

	// Column order is fixed as key, payload..., watermark and shared by
	// the extraction SELECT, the upsert, and the target DDL, so arguments
	// flatten positionally.
	valueCols := append(payload, wm)
	insertCols := append([]string{key}, valueCols...)

	assignments := make([]string, 0, len(valueCols))
	for _, col := range valueCols {
		assignments = append(assignments, col+" = excluded."+col)
	}

	return pairSQL{
		selectChanges: "SELECT " + strings.Join(insertCols, ", ") +
			" FROM " + source +
			" WHERE " + wm + " > ?" +
			" ORDER BY " + wm + " ASC, " + key + " ASC",
		sourceKeys: "SELECT " + key + ", " + wm +
			" FROM " + source +
			" ORDER BY " + key + " ASC",
		countSource: "SELECT COUNT(*) FROM " + source,
		countTarget: "SELECT COUNT(*) FROM " + target,
		createTarget: "CREATE TABLE IF NOT EXISTS " + target +
			" (" + key + " PRIMARY KEY, " + strings.Join(valueCols, ", ") + ")",

		upsertPrefix:     "INSERT INTO " + target + " (" + strings.Join(insertCols, ", ") + ") VALUES ",
		upsertSuffix:     " ON CONFLICT(" + key + ") DO UPDATE SET " + strings.Join(assignments, ", "),
		existsPrefix:     "SELECT " + key + " FROM " + target + " WHERE " + key + " IN (",
		targetKeysPrefix: "SELECT " + key + ", " + wm + " FROM " + target + " WHERE " + key + " IN (",
		rowPlaceholder:   "(" + placeholders(len(insertCols)) + ")",
		rowWidth:         len(insertCols),
	}
}

// upsertChunk returns the multi-row upsert statement for a batch of the
// given row count.
func (q *pairSQL) upsertChunk(rows int) string {
	var b strings.Builder

	b.WriteString(q.upsertPrefix)

	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}

		b.WriteString(q.rowPlaceholder)
	}

	b.WriteString(q.upsertSuffix)

	return b.String()
}

// existingKeysChunk returns the target key probe for n bound keys.
func (q *pairSQL) existingKeysChunk(n int) string {
	return q.existsPrefix + placeholders(n) + ")"
}

// targetKeysChunk returns the target key+watermark probe for n bound
// keys, used by verification.
func (q *pairSQL) targetKeysChunk(n int) string {
	return q.targetKeysPrefix + placeholders(n) + ")"
}

// maxRowsPerChunk returns how many rows fit a single statement within
// the bind variable budget.
func (q *pairSQL) maxRowsPerChunk() int {
	n := maxBindVars / q.rowWidth
	if n < 1 {
		n = 1
	}

	return n
}

// quoteIdent quotes a SQL identifier with double quotes, doubling any
// embedded quote characters.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// placeholders returns n comma-separated bind markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}

	return strings.Repeat("?, ", n-1) + "?"
}
