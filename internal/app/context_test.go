package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealguard/internal/config"
	"dealguard/internal/db"
)

func TestOpenWithDefaults(t *testing.T) {
	dir := t.TempDir()
	ws, err := Open(context.Background(), dir, "", "")
	require.NoError(t, err)
	defer ws.Close()
	assert.Equal(t, db.SQLite, ws.Dialect)
	assert.Equal(t, config.Default().Rules.Enabled, ws.Config.Rules.Enabled)
	_, err = os.Stat(db.Path(dir))
	assert.NoError(t, err)
}

func TestOpenReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	doc := "rules:\n  enabled: [won_status]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dealguard.yml"), []byte(doc), 0o644))
	ws, err := Open(context.Background(), dir, "", "")
	require.NoError(t, err)
	defer ws.Close()
	assert.Equal(t, []string{config.RuleWonStatus}, ws.Config.Rules.Enabled)
}

func TestOpenRejectsPostgresWithoutDSN(t *testing.T) {
	_, err := Open(context.Background(), t.TempDir(), "postgres", "")
	assert.Error(t, err)
}
