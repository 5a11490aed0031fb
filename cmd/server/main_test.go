package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datagate/internal/config"
)

func TestSettingsFlagsOverrideEnv(t *testing.T) {
	t.Setenv("DATAGATE_CONFIG", "from-env.json")
	t.Setenv("DATAGATE_LOG_LEVEL", "warn")

	require.NoError(t, startCmd.ParseFlags([]string{"--config", "from-flag.json"}))
	t.Cleanup(func() {
		_ = startCmd.Flags().Set("config", "")
		startCmd.Flags().Lookup("config").Changed = false
	})

	s := settings(startCmd)
	assert.Equal(t, "from-flag.json", s.ConfigFile)
	assert.Equal(t, "warn", s.LogLevel)
}

func TestNewLoggerLevel(t *testing.T) {
	l := newLogger(config.Settings{LogLevel: "error"}, config.Development)
	assert.False(t, l.Enabled(context.Background(), -4))
	assert.True(t, l.Enabled(context.Background(), 8))

	l = newLogger(config.Settings{LogLevel: "bogus"}, config.Production)
	assert.True(t, l.Enabled(context.Background(), 0))
}

func TestValidateReportsIssues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dab-config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
	  "data-source": {"database-type": "postgresql", "connection-string": "host=localhost"},
	  "runtime": {"rest": {"path": "/data"}, "graphql": {"path": "/data"}, "host": {"mode": "staging"}},
	  "entities": {}
	}`), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"validate", "--skip-database", "--config", path})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "issue(s) found")
	assert.NotEmpty(t, out.String())
}
