// Package config resolves the storage manager's tunables from
// TILEDB_WORKSPACE and TILEDB_CONFIG, the two environment variables
// spec §6 names in place of a full configuration-file format.
package config

import (
	"bufio"
	"context"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/pkg/errors"

	"github.com/tdb-core/tdb/xerrors"
)

const (
	mib = 1 << 20

	defaultSegmentSize       = 10 * mib
	defaultTileCacheSize     = 0
	defaultWriteStateMaxSize = 256 * mib
)

// Config holds the sm.* tunables (spec §6) that govern one storage
// manager instance.
type Config struct {
	Workspace string

	SegmentSize             int64
	TileCacheSize           int64
	WriteStateMaxSize       int64
	ComputeConcurrencyLevel int
	IOConcurrencyLevel      int

	ConsolidationTimestampStart int64
	ConsolidationTimestampEnd   int64
}

func defaults() Config {
	n := runtime.NumCPU()
	return Config{
		SegmentSize:             defaultSegmentSize,
		TileCacheSize:           defaultTileCacheSize,
		WriteStateMaxSize:       defaultWriteStateMaxSize,
		ComputeConcurrencyLevel: n,
		IOConcurrencyLevel:      n,
	}
}

// Load resolves a Config from TILEDB_WORKSPACE (required) and, if set,
// TILEDB_CONFIG: a flat `sm.key = value` file, one assignment per line,
// '#' starting a comment, overlaying the sm.* defaults of spec §6
// (segment_size 10 MiB, tile_cache_size 0, write_state_max_size 256 MiB).
func Load(ctx context.Context) (Config, error) {
	const op = "config.Load"
	cfg := defaults()

	ws := os.Getenv("TILEDB_WORKSPACE")
	if ws == "" {
		return Config{}, xerrors.E(op, xerrors.SchemaInvalid, "TILEDB_WORKSPACE is not set")
	}
	cfg.Workspace = ws

	if path := os.Getenv("TILEDB_CONFIG"); path != "" {
		if err := applyFile(ctx, &cfg, path); err != nil {
			return Config{}, xerrors.Wrap(op, xerrors.SchemaInvalid, err)
		}
	}
	return cfg, nil
}

func applyFile(ctx context.Context, cfg *Config, path string) error {
	f, err := file.Open(ctx, path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close(ctx) }()

	scanner := bufio.NewScanner(f.Reader(ctx))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			return errors.Errorf("%s:%d: expected key=value, got %q", path, lineNum, line)
		}
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		if err := assign(cfg, key, val); err != nil {
			return errors.Wrapf(err, "%s:%d", path, lineNum)
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	return nil
}

func assign(cfg *Config, key, val string) error {
	switch key {
	case "sm.segment_size":
		return assignInt64(&cfg.SegmentSize, key, val)
	case "sm.tile_cache_size":
		return assignInt64(&cfg.TileCacheSize, key, val)
	case "sm.write_state_max_size":
		return assignInt64(&cfg.WriteStateMaxSize, key, val)
	case "sm.compute_concurrency_level":
		return assignInt(&cfg.ComputeConcurrencyLevel, key, val)
	case "sm.io_concurrency_level":
		return assignInt(&cfg.IOConcurrencyLevel, key, val)
	case "sm.consolidation.timestamp_start":
		return assignInt64(&cfg.ConsolidationTimestampStart, key, val)
	case "sm.consolidation.timestamp_end":
		return assignInt64(&cfg.ConsolidationTimestampEnd, key, val)
	default:
		return errors.Errorf("unknown config key %q", key)
	}
}

func assignInt64(dst *int64, key, val string) error {
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return errors.Wrapf(err, "%s=%s", key, val)
	}
	*dst = n
	return nil
}

func assignInt(dst *int, key, val string) error {
	n, err := strconv.Atoi(val)
	if err != nil {
		return errors.Wrapf(err, "%s=%s", key, val)
	}
	*dst = n
	return nil
}
