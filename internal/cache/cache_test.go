package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datagate/internal/config"
	"datagate/internal/metrics"
)

type memL2 struct {
	data   map[string][]byte
	failed bool
}

func (m *memL2) Get(_ context.Context, key string) ([]byte, bool, error) {
	if m.failed {
		return nil, false, errors.New("down")
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memL2) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if m.failed {
		return errors.New("down")
	}
	m.data[key] = value
	return nil
}

func (m *memL2) Close() error { return nil }

func lookups(t *testing.T, m *metrics.Metrics, level, result string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "datagate_cache_lookups_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := map[string]string{}
			for _, l := range metric.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["level"] == level && labels["result"] == result {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func newCache(t *testing.T, m *metrics.Metrics) *Cache {
	t.Helper()
	c, err := New(config.CacheOptions{Enabled: true, TTLSeconds: 10}, m, nil)
	require.NoError(t, err)
	return c
}

func TestDisabledCacheIsNil(t *testing.T) {
	c, err := New(config.CacheOptions{}, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, c)
	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
	c.Set(context.Background(), "k", []byte("v"), 0)
	assert.False(t, c.Enabled(&config.EntityCache{Enabled: true}))
}

func TestLevel1Expiry(t *testing.T) {
	c := newCache(t, nil)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.Set(context.Background(), "k", []byte("v"), 0)
	v, ok := c.Get(context.Background(), "k")
	require.True(t, ok)
	assert.Equal(t, "v", string(v))

	now = now.Add(10 * time.Second)
	_, ok = c.Get(context.Background(), "k")
	assert.False(t, ok)
}

func TestLevel2Fallback(t *testing.T) {
	m := metrics.New()
	l2 := &memL2{data: map[string][]byte{}}
	c := newCache(t, m).WithLevel2(l2)

	c.Set(context.Background(), "k", []byte("v"), time.Minute)
	assert.Equal(t, []byte("v"), l2.data["datagate:k"])

	c.Purge()
	v, ok := c.Get(context.Background(), "k")
	require.True(t, ok)
	assert.Equal(t, "v", string(v))
	assert.Equal(t, float64(1), lookups(t, m, "l1", "miss"))
	assert.Equal(t, float64(1), lookups(t, m, "l2", "hit"))

	// refilled into level 1
	_, ok = c.Get(context.Background(), "k")
	assert.True(t, ok)
	assert.Equal(t, float64(1), lookups(t, m, "l1", "hit"))
}

func TestLevel2FailureIsAMiss(t *testing.T) {
	c := newCache(t, nil).WithLevel2(&memL2{failed: true})
	c.Set(context.Background(), "k", []byte("v"), 0)
	c.Purge()
	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
}

func TestTTLResolution(t *testing.T) {
	c := newCache(t, nil)
	assert.Equal(t, 10*time.Second, c.TTL(nil))
	assert.Equal(t, 3*time.Second, c.TTL(&config.EntityCache{Enabled: true, TTLSeconds: 3}))
	assert.True(t, c.Enabled(&config.EntityCache{Enabled: true}))
	assert.False(t, c.Enabled(nil))
}

func TestKeyDependsOnArguments(t *testing.T) {
	a := Key("db", "SELECT 1 WHERE x = $1", []any{"u1"})
	assert.Equal(t, a, Key("db", "SELECT 1 WHERE x = $1", []any{"u1"}))
	assert.NotEqual(t, a, Key("db", "SELECT 1 WHERE x = $1", []any{"u2"}))
	assert.NotEqual(t, a, Key("other", "SELECT 1 WHERE x = $1", []any{"u1"}))
}

func TestLevel2Configuration(t *testing.T) {
	c, err := New(config.CacheOptions{Enabled: true, Level2: &config.Level2Options{
		Enabled: true, Provider: "redis", ConnectionString: "redis://localhost:6379/2", Partition: "blue",
	}}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "datagate:blue:", c.prefix)
	assert.IsType(t, &Redis{}, c.l2)
	require.NoError(t, c.Close())

	_, err = New(config.CacheOptions{Enabled: true, Level2: &config.Level2Options{Enabled: true, Provider: "memcached", ConnectionString: "x"}}, nil, nil)
	assert.Error(t, err)
	_, err = New(config.CacheOptions{Enabled: true, Level2: &config.Level2Options{Enabled: true}}, nil, nil)
	assert.Error(t, err)
}
