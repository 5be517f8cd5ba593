package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderEffective(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StateDB = "/tmp/state.db"
	cfg.Tables["orders"] = pairFixture()
	cfg.Tables["events"] = pairFixture()
	cfg.Serve.AuthToken = "hunter2"
	cfg.Export.SecretKey = "sk"

	var buf strings.Builder
	require.NoError(t, RenderEffective(cfg, &buf))

	out := buf.String()
	assert.Contains(t, out, `state_db   = "/tmp/state.db"`)
	assert.Contains(t, out, "[tables.orders]")
	assert.Contains(t, out, `payload_columns  = ["customer", "status"]`)
	assert.Contains(t, out, "[watch]")
	assert.Contains(t, out, "[serve]")

	// Sections render in sorted name order.
	assert.Less(t, strings.Index(out, "[tables.events]"), strings.Index(out, "[tables.orders]"))

	// Secrets never appear in rendered output.
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, `secret_key = "sk"`)
	assert.Contains(t, out, "<redacted>")
}

func TestRenderEffective_EmptyAuthTokenShownAsEmpty(t *testing.T) {
	cfg := DefaultConfig()

	var buf strings.Builder
	require.NoError(t, RenderEffective(cfg, &buf))

	assert.Contains(t, buf.String(), `auth_token = ""`)
}
