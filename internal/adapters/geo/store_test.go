package geo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xoelrdgz/authradar/internal/domain"
)

func sampleEntries() map[string]domain.CacheEntry {
	at := time.Unix(1_730_110_605, 0)
	return map[string]domain.CacheEntry{
		"8.8.8.8": domain.NewCacheEntry(domain.GeoRecord{
			Lat: domain.Float(37.4), Lon: domain.Float(-122.1),
			City: "Mountain View", Country: "United States", CountryCode: "US",
			Org: "Google LLC", ISP: "Google LLC", AS: "AS15169",
		}, at),
		"45.155.204.23": domain.NewCacheEntry(domain.UnknownGeo(), at),
	}
}

func TestJSONStore_MissingFileIsEmpty(t *testing.T) {
	s := NewJSONStore(filepath.Join(t.TempDir(), "cache", "ip_cache.json"))

	entries, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, entries)

	size, err := s.Size()
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestJSONStore_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "ip_cache.json")
	s := NewJSONStore(path)

	require.NoError(t, s.Save(sampleEntries()))

	loaded, err := s.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "Mountain View", loaded["8.8.8.8"].Geo.City)
	assert.InDelta(t, 1_730_110_605, loaded["8.8.8.8"].CachedAt, 1e-3)
	assert.Nil(t, loaded["45.155.204.23"].Geo.Lat)

	size, err := s.Size()
	require.NoError(t, err)
	assert.Positive(t, size)

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestJSONStore_FileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ip_cache.json")
	require.NoError(t, NewJSONStore(path).Save(sampleEntries()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Contains(t, raw, "8.8.8.8")
	assert.Contains(t, raw["8.8.8.8"], "data")
	assert.Contains(t, raw["8.8.8.8"], "cached_at")
}

func TestJSONStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ip_cache.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"8.8.8.8": {"data": `), 0o644))

	_, err := NewJSONStore(path).Load()
	require.Error(t, err)
}

func TestBoltStore_SaveLoadReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geo.db")
	s, err := OpenBoltStore(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(sampleEntries()))

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
	assert.Equal(t, "US", loaded["8.8.8.8"].Geo.CountryCode)

	only := map[string]domain.CacheEntry{"1.1.1.1": domain.NewCacheEntry(domain.UnknownGeo(), time.Now())}
	require.NoError(t, s.Save(only))

	loaded, err = s.Load()
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
	assert.Contains(t, loaded, "1.1.1.1")

	assert.Equal(t, "bolt", s.Backend())
	assert.Equal(t, path, s.Location())
	size, err := s.Size()
	require.NoError(t, err)
	assert.Positive(t, size)
}

func TestBoltStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geo.db")
	s, err := OpenBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(sampleEntries()))
	require.NoError(t, s.Close())

	s, err = OpenBoltStore(path)
	require.NoError(t, err)
	defer s.Close()

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
}

func writeRaw(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
