package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datagate/internal/apierr"
)

func writeConfig(t *testing.T, path, restPath, mode string) {
	t.Helper()
	src := `{
  "data-source": {"database-type": "mssql", "connection-string": "Server=tcp:localhost;Database=lib"},
  "runtime": {
    "rest": {"path": "` + restPath + `"},
    "graphql": {"allow-introspection": false},
    "host": {"mode": "` + mode + `"}
  },
  "entities": {}
}`
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))
}

func TestProviderStateMachine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dab-config.json")
	writeConfig(t, path, "/api", "development")

	p := NewProvider(ProviderOptions{Path: path, HotReload: true})
	defer p.Close()
	assert.Equal(t, Unloaded, p.State())

	_, ok := p.TryGetConfig()
	assert.False(t, ok)

	cfg, err := p.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, "/api", cfg.Runtime.Rest.Path)
	assert.Equal(t, Watching, p.State())
	assert.NotNil(t, p.Watcher())
}

func TestHotReloadAppliesOnlyReloadableSubset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dab-config.json")
	writeConfig(t, path, "/api", "development")

	p := NewProvider(ProviderOptions{Path: path})
	live, err := p.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, Loaded, p.State())

	var notified atomic.Int32
	p.OnConfigChanged(func(*RuntimeConfig) { notified.Add(1) })

	writeConfig(t, path, "/rest", "production")
	require.NoError(t, p.HotReload())

	next, err := p.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, "/rest", next.Runtime.Rest.Path)
	assert.False(t, next.Runtime.GraphQL.AllowIntrospection)
	assert.Equal(t, Development, next.Runtime.Host.Mode, "host mode must not change on reload")
	assert.Equal(t, live.DefaultDataSourceName, next.DefaultDataSourceName)
	assert.Equal(t, "/api", live.Runtime.Rest.Path, "published snapshots are immutable")
	assert.EqualValues(t, 1, notified.Load())
}

func TestHotReloadLogsIgnoredHostModeChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dab-config.json")
	writeConfig(t, path, "/api", "development")

	var logs bytes.Buffer
	p := NewProvider(ProviderOptions{Path: path, Logger: slog.New(slog.NewTextHandler(&logs, nil))})
	_, err := p.GetConfig()
	require.NoError(t, err)

	writeConfig(t, path, "/rest", "development")
	require.NoError(t, p.HotReload())
	assert.NotContains(t, logs.String(), "host mode is not hot-reloadable")

	writeConfig(t, path, "/rest", "production")
	require.NoError(t, p.HotReload())
	assert.Contains(t, logs.String(), "host mode is not hot-reloadable")

	cfg, err := p.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, Development, cfg.Runtime.Host.Mode)
}

func TestHotReloadKeepsLastGoodConfigOnParseFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dab-config.json")
	writeConfig(t, path, "/api", "development")

	p := NewProvider(ProviderOptions{Path: path})
	before, err := p.GetConfig()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"data-source": `), 0o600))
	assert.Error(t, p.HotReload())
	assert.Error(t, p.LastReloadError())

	after, err := p.GetConfig()
	require.NoError(t, err)
	assert.Same(t, before, after)
}

func TestHotReloadRejectedByValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dab-config.json")
	writeConfig(t, path, "/api", "development")

	p := NewProvider(ProviderOptions{Path: path, Validate: func(c *RuntimeConfig) error {
		if c.Runtime.Rest.Path == c.Runtime.GraphQL.Path {
			return apierr.New(apierr.ConfigValidationError, "Conflicting GraphQL and REST path configuration.")
		}
		return nil
	}})
	before, err := p.GetConfig()
	require.NoError(t, err)

	writeConfig(t, path, "/graphql", "development")
	err = p.HotReload()
	require.Error(t, err)
	assert.True(t, apierr.IsSubStatus(err, apierr.ConfigValidationError))

	after, _ := p.GetConfig()
	assert.Same(t, before, after)
}

func TestLateConfiguration(t *testing.T) {
	p := NewProvider(ProviderOptions{})
	_, err := p.GetConfig()
	require.Error(t, err)

	cfg, err := p.Initialize([]byte(minimalConfig), "token-123")
	require.NoError(t, err)
	assert.True(t, p.IsLateConfigured())
	assert.Equal(t, "token-123", cfg.DataSources[cfg.DefaultDataSourceName].AccessToken)

	_, err = p.Initialize([]byte(minimalConfig), "")
	require.Error(t, err)
	assert.True(t, apierr.IsSubStatus(err, apierr.ConfigAlreadyLoaded))
}

func TestFileChangeTriggersReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dab-config.json")
	writeConfig(t, path, "/api", "development")

	p := NewProvider(ProviderOptions{Path: path, HotReload: true})
	defer p.Close()
	_, err := p.GetConfig()
	require.NoError(t, err)
	p.Watcher().SetDebounce(20 * time.Millisecond)

	writeConfig(t, path, "/v2", "development")
	require.Eventually(t, func() bool {
		c, _ := p.TryGetConfig()
		return c.Runtime.Rest.Path == "/v2"
	}, 5*time.Second, 20*time.Millisecond)
}
