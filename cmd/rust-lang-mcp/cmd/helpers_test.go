package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// env is an isolated working directory and data directory.
type env struct {
	workDir string
	dataDir string
}

// newEnv isolates config lookup and disables the embedding model.
func newEnv(t *testing.T) env {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("RUST_MCP_LOG_DIR", t.TempDir())
	t.Setenv("RUST_MCP_EMBEDDINGS", "false")
	for _, k := range []string{"RUST_MCP_DATA_DIR", "RUST_MCP_LEXICAL_BACKEND", "RUST_MCP_SEARCH_MODE"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	return env{workDir: t.TempDir(), dataDir: t.TempDir()}
}

// seedBook writes rust-book pages where the fetcher would have cloned them.
func (e env) seedBook(t *testing.T) {
	t.Helper()
	pages := map[string]string{
		"ch04-01-what-is-ownership.md": "# What is Ownership?\n\nOwnership is a set of rules that govern how a Rust program manages memory.\n",
		"ch08-01-vectors.md":           "# Storing Lists of Values with Vectors\n\nVectors allow you to store more than one value in a single data structure.\n",
		"ch10-02-traits.md":            "# Traits: Defining Shared Behavior\n\nA trait defines the functionality a particular type has and can share with other types.\n",
	}
	root := filepath.Join(e.dataDir, "book", "src")
	require.NoError(t, os.MkdirAll(root, 0o755))
	for name, content := range pages {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
	}
}

// run executes the root command with args and the env's directories.
func (e env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"-C", e.workDir, "--data-dir", e.dataDir}, args...))
	err := cmd.Execute()
	return buf.String(), err
}
