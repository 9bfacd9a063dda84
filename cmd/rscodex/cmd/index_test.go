package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRustFile(t *testing.T, root, relPath, content string) {
	t.Helper()
	full := filepath.Join(root, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestIndexCmdCreatesDataDirectory(t *testing.T) {
	testDir := t.TempDir()
	writeRustFile(t, testDir, "src/lib.rs", "fn parse_tokens() {}")

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"index", testDir})

	require.NoError(t, cmd.Execute())
	assert.DirExists(t, filepath.Join(testDir, ".rscodex"))
	assert.Contains(t, buf.String(), "files indexed:   1")
}

func TestIndexCmdThenSearchFindsSymbol(t *testing.T) {
	testDir := t.TempDir()
	writeRustFile(t, testDir, "src/lib.rs", "fn parse_tokens() {}")

	indexCmd := NewRootCmd()
	indexCmd.SetOut(new(bytes.Buffer))
	indexCmd.SetArgs([]string{"index", testDir})
	require.NoError(t, indexCmd.Execute())

	searchCmd := NewRootCmd()
	buf := new(bytes.Buffer)
	searchCmd.SetOut(buf)
	searchCmd.SetArgs([]string{"search", testDir, "parse_tokens"})
	require.NoError(t, searchCmd.Execute())
	assert.Contains(t, buf.String(), "parse_tokens")
}

func TestHealthCmdReportsDegradedBeforeIndexing(t *testing.T) {
	testDir := t.TempDir()

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"health", testDir})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "overall: degraded")
}

func TestHealthCmdReportsHealthyAfterIndexing(t *testing.T) {
	testDir := t.TempDir()
	writeRustFile(t, testDir, "src/lib.rs", "fn parse_tokens() {}")

	indexCmd := NewRootCmd()
	indexCmd.SetOut(new(bytes.Buffer))
	indexCmd.SetArgs([]string{"index", testDir})
	require.NoError(t, indexCmd.Execute())

	healthCmd := NewRootCmd()
	buf := new(bytes.Buffer)
	healthCmd.SetOut(buf)
	healthCmd.SetArgs([]string{"health", testDir})
	require.NoError(t, healthCmd.Execute())
	assert.Contains(t, buf.String(), "overall: healthy")
}
