package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyFiresOncePerDistinctContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dab-config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"v":1}`), 0o600))

	var events atomic.Int32
	w, err := NewFileWatcher(path, nil, func() { events.Add(1) })
	require.NoError(t, err)

	assert.False(t, w.Notify(), "unchanged content is not an event")

	require.NoError(t, os.WriteFile(path, []byte(`{"v":2}`), 0o600))
	assert.True(t, w.Notify())
	assert.False(t, w.Notify())

	require.NoError(t, os.WriteFile(path, []byte(`{"v":2}`), 0o600))
	assert.False(t, w.Notify())

	assert.EqualValues(t, 1, events.Load())
}

func TestWatcherIgnoresRepeatedWritesOfSameContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dab-config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"v":1}`), 0o600))

	var events atomic.Int32
	w, err := NewFileWatcher(path, nil, func() { events.Add(1) })
	require.NoError(t, err)
	w.SetDebounce(10 * time.Millisecond)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(`{"v":2}`), 0o600))
	require.Eventually(t, func() bool { return events.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(`{"v":2}`), 0o600))
	require.NoError(t, os.WriteFile(path, []byte(`{"v":2}`), 0o600))
	// Sibling files in the watched directory are not our concern.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0o600))

	assert.Never(t, func() bool { return events.Load() > 1 }, 300*time.Millisecond, 20*time.Millisecond)
}
