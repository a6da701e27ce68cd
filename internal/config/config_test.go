package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TILEDB_WORKSPACE", t.TempDir())
	t.Setenv("TILEDB_CONFIG", "")

	cfg, err := Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(defaultSegmentSize), cfg.SegmentSize)
	assert.Equal(t, int64(defaultTileCacheSize), cfg.TileCacheSize)
	assert.Equal(t, int64(defaultWriteStateMaxSize), cfg.WriteStateMaxSize)
}

func TestLoadMissingWorkspace(t *testing.T) {
	t.Setenv("TILEDB_WORKSPACE", "")
	_, err := Load(context.Background())
	require.Error(t, err)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiledb.conf")
	contents := "# sample config\n" +
		"sm.segment_size = 4096\n" +
		"sm.tile_cache_size=8192\n" +
		"sm.compute_concurrency_level = 3\n" +
		"sm.consolidation.timestamp_start = 10\n" +
		"sm.consolidation.timestamp_end = 20\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	t.Setenv("TILEDB_WORKSPACE", dir)
	t.Setenv("TILEDB_CONFIG", path)

	cfg, err := Load(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 4096, cfg.SegmentSize)
	assert.EqualValues(t, 8192, cfg.TileCacheSize)
	assert.Equal(t, 3, cfg.ComputeConcurrencyLevel)
	assert.EqualValues(t, 10, cfg.ConsolidationTimestampStart)
	assert.EqualValues(t, 20, cfg.ConsolidationTimestampEnd)
}

func TestLoadConfigFileUnknownKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiledb.conf")
	require.NoError(t, os.WriteFile(path, []byte("sm.bogus = 1\n"), 0o644))

	t.Setenv("TILEDB_WORKSPACE", dir)
	t.Setenv("TILEDB_CONFIG", path)

	_, err := Load(context.Background())
	require.Error(t, err)
}
