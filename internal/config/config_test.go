package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, []string{RuleQuoteDependency, RuleWonStatus, RuleActiveContract}, cfg.Rules.Enabled)
	assert.Contains(t, cfg.Rules.Message(RuleQuoteDependency), "quote")
	assert.Contains(t, cfg.Rules.Message(RuleWonStatus), "Won")
	assert.Contains(t, cfg.Rules.Message(RuleActiveContract), "active contracts")
}

func TestFromYAMLKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := FromYAML([]byte("logging:\n  level: debug\n"))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "won", cfg.Rules.WonStatus)
	assert.Equal(t, "/v0", cfg.Server.BasePath)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"unknown driver":     "store:\n  driver: mysql\n",
		"postgres dsn":       "store:\n  driver: postgres\n",
		"unknown rule":       "rules:\n  enabled: [nope]\n",
		"duplicate rule":     "rules:\n  enabled: [won_status, won_status]\n",
		"empty active state": "rules:\n  active_contract_states: [\"\"]\n",
		"bad format":         "logging:\n  format: xml\n",
		"webhook url":        "webhooks:\n  - events: [opportunity.deleted]\n",
		"broken yaml":        "rules: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(dir)
	require.Error(t, err)

	doc := "rules:\n  won_status: closed_won\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dealguard.yml"), []byte(doc), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "closed_won", cfg.Rules.WonStatus)
}
