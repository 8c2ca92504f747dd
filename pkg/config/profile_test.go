package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadProfileAppliesOverrides(t *testing.T) {
	path := writeProfile(t, `
name: small-council
agents: 5
rounds: 20
threshold: 0.66
backend: redis
vote_rule: 'proposal.action == "ADD"'
`)
	profile, err := LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "small-council", profile.Name)

	cfg := Load()
	profile.Apply(cfg)
	assert.Equal(t, 5, cfg.AgentCount)
	assert.Equal(t, 20, cfg.Rounds)
	assert.Equal(t, 0.66, cfg.Threshold)
	assert.Equal(t, "redis", cfg.Backend)
	assert.Equal(t, `proposal.action == "ADD"`, cfg.VoteRule)
	// Untouched fields keep their defaults.
	assert.Equal(t, 3, cfg.ExpiryRounds)
	assert.NoError(t, cfg.Validate())
}

func TestLoadProfileRejectsUnknownKeys(t *testing.T) {
	path := writeProfile(t, `
name: typo
agnets: 5
`)
	_, err := LoadProfile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid profile")
}

func TestLoadProfileRejectsOutOfRangeValues(t *testing.T) {
	path := writeProfile(t, `
name: bad-bounds
agents: 1
`)
	_, err := LoadProfile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid profile")
}

func TestLoadProfileRequiresName(t *testing.T) {
	path := writeProfile(t, `agents: 3`)
	_, err := LoadProfile(path)
	require.Error(t, err)
}

func TestLoadProfileVersionGate(t *testing.T) {
	ok := writeProfile(t, `
name: current
min_engine_version: 0.1.0
`)
	_, err := LoadProfile(ok)
	assert.NoError(t, err)

	future := writeProfile(t, `
name: future
min_engine_version: 9.0.0
`)
	_, err = LoadProfile(future)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires engine >= 9.0.0")
}

func TestLoadProfileMissingFile(t *testing.T) {
	_, err := LoadProfile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
