package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tauanbinato/rust-lang-mcp/internal/config"
)

func TestConfigInit_WritesProjectFile(t *testing.T) {
	// Given: an empty working directory
	e := newEnv(t)

	// When: running config init
	out, err := e.run(t, "config", "init")

	// Then: the project file holds the defaults
	require.NoError(t, err)
	path := filepath.Join(e.workDir, config.ProjectConfigName)
	assert.Contains(t, out, path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "rrf_constant: 60")
}

func TestConfigInit_RefusesOverwrite(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "config", "init")
	require.NoError(t, err)

	_, err = e.run(t, "config", "init")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")
}

func TestConfigInit_ForceKeepsBackup(t *testing.T) {
	e := newEnv(t)
	path := filepath.Join(e.workDir, config.ProjectConfigName)
	require.NoError(t, os.WriteFile(path, []byte("search:\n  default_limit: 9\n"), 0o644))

	_, err := e.run(t, "config", "init", "--force")

	require.NoError(t, err)
	backups, err := config.ListBackups(path)
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestConfigShow(t *testing.T) {
	// Given: a project file overriding the lexical backend
	e := newEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(e.workDir, config.ProjectConfigName),
		[]byte("lexical:\n  backend: sqlite\n"), 0o644))

	// When: showing the effective config as YAML and JSON
	yamlOut, err := e.run(t, "config", "show")
	require.NoError(t, err)
	jsonOut, err := e.run(t, "config", "show", "--json")
	require.NoError(t, err)

	// Then: both reflect the override and the data dir flag
	assert.Contains(t, yamlOut, "backend: sqlite")
	assert.Contains(t, yamlOut, "data_dir: "+e.dataDir)
	assert.Contains(t, jsonOut, `"backend": "sqlite"`)
}
