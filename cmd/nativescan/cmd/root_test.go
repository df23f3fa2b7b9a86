package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	assert.NotNil(t, rootCmd)
	assert.Equal(t, "nativescan", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRootCommandHelp(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"--help"})
	t.Cleanup(func() { _ = rootCmd.Flags().Set("help", "false") })

	require.NoError(t, rootCmd.Execute())

	output := buf.String()
	assert.Contains(t, output, "scan sessions")
	assert.Contains(t, output, "Available Commands:")
	assert.Contains(t, output, "Usage:")
}

func TestRootCommandVersion(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"--version"})
	t.Cleanup(func() { _ = rootCmd.PersistentFlags().Set("version", "false") })

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "nativescan version dev")
}

func TestRootCommandSubcommands(t *testing.T) {
	names := make([]string, 0, len(rootCmd.Commands()))
	for _, sub := range rootCmd.Commands() {
		names = append(names, sub.Name())
	}
	for _, expected := range []string{"serve", "scan", "config"} {
		assert.Contains(t, names, expected, "Expected subcommand '%s' not found", expected)
	}
}

func TestConfigInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nativescan.yaml")

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"config", "init", path})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "Wrote "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "qr_min_elapsed")

	// refuses to overwrite without --force
	rootCmd.SetArgs([]string{"config", "init", path})
	assert.Error(t, rootCmd.Execute())

	rootCmd.SetArgs([]string{"config", "init", path, "--force"})
	require.NoError(t, rootCmd.Execute())
	require.NoError(t, configInitCmd.Flags().Set("force", "false"))
}

func TestConfigShowCommand(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"config", "show"})
	require.NoError(t, rootCmd.Execute())

	output := buf.String()
	assert.Contains(t, output, "Configuration file used:")
	assert.Contains(t, output, "Environment prefix: NATIVESCAN_")
	assert.Contains(t, output, "qr_min_elapsed: 1.2s")
	assert.Contains(t, output, "source: feed")
}
