package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "scheduler.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestParseMergesOntoDefaults(t *testing.T) {
	path := writeTempConfig(t, "min_active_machines: 4\n")
	cfg, err := Parse(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.MinActiveMachines)
	assert.Equal(t, 1.0, cfg.MaxUtilization)
	assert.Equal(t, "greedy", cfg.PolicyVariant)
}

func TestParseRejectsMissingPolicyVariant(t *testing.T) {
	path := writeTempConfig(t, "policy_variant: \"\"\n")
	_, err := Parse(path)
	assert.Error(t, err)
}

func TestParseRequiresAtLeastOneFile(t *testing.T) {
	_, err := Parse()
	assert.Error(t, err)
}

func TestParseMissingFile(t *testing.T) {
	_, err := Parse(filepath.Join(os.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}
