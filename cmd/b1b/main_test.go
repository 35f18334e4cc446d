package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateLogFlagsRejectsBoth(t *testing.T) {
	err := validateLogFlags(true, true)
	assert.Error(t, err)
}

func TestValidateLogFlagsAcceptsEitherOrNeither(t *testing.T) {
	assert.NoError(t, validateLogFlags(true, false))
	assert.NoError(t, validateLogFlags(false, true))
	assert.NoError(t, validateLogFlags(false, false))
}

func TestResolveTagExplicitFlagsWin(t *testing.T) {
	assert.True(t, resolveTag(true, false, false))
	assert.True(t, resolveTag(true, false, true))
	assert.False(t, resolveTag(false, true, false))
	assert.False(t, resolveTag(false, true, true))
}

func TestResolveTagDefaultsToNotATerminal(t *testing.T) {
	assert.True(t, resolveTag(false, false, false))
	assert.False(t, resolveTag(false, false, true))
}

func TestLoadConfigEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "", cfg.Metrics.Addr)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "b1b.yaml")
	require.NoError(t, os.WriteFile(path, []byte("metrics:\n  addr: \":9110\"\n"), 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9110", cfg.Metrics.Addr)
}

func TestLoadConfigMissingFileErrors(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestNewRootCmdHasExpectedFlags(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"debug", "syslog", "stderr", "config"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing flag %q", name)
	}

	sub, _, err := cmd.Find([]string{"version"})
	require.NoError(t, err)
	assert.Equal(t, "version", sub.Name())
}
