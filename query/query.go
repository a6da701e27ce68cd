// Package query implements the query processor (spec §4.9):
// array_export, subarray, and subarray_buf, all built on top of the
// fragment read state (C8) and storage manager (C9). Every operation
// dispatches across the same axes — dense vs sparse array, regular vs
// irregular tiling, forward vs reverse, dense- vs sparse-shaped output —
// by composing one merged multi-fragment cursor (source.go) with a
// format-specific sink (export.go/subarray.go), rather than by
// generating a separate code path per combination the way the source's
// template-instantiated QueryProcessor does.
package query

import (
	"context"
	"math"

	"github.com/grailbio/base/file"

	"github.com/tdb-core/tdb/fragment"
	"github.com/tdb-core/tdb/schema"
	"github.com/tdb-core/tdb/storage"
	"github.com/tdb-core/tdb/tile"
	"github.com/tdb-core/tdb/xerrors"
)

// SnapshotLatest requests every committed fragment regardless of
// timestamp, i.e. a snapshot read at t = +infinity (spec §5).
const SnapshotLatest = int64(math.MaxInt64)

// openFragment is one visible fragment contributing to a merged,
// array-wide read.
type openFragment struct {
	fd   storage.FragmentDescriptor
	tsHi int64
}

// openVisibleFragments lists dir's committed fragments, keeps only
// those with timestamp_hi <= snapshot and a commit marker on disk
// (spec §5: "a reader opened at snapshot t observes exactly the
// fragments with timestamp_hi <= t that carry a commit marker"), and
// opens each in Read mode.
func openVisibleFragments(ctx context.Context, m *storage.Manager, ad storage.ArrayDescriptor, dir string, sparse bool, snapshot int64) (_ []*openFragment, err error) {
	const op = "query.openVisibleFragments"
	names, err := m.ListFragments(ctx, dir)
	if err != nil {
		return nil, xerrors.Wrap(op, xerrors.IoError, err)
	}
	var out []*openFragment
	defer func() {
		if err != nil {
			closeFragments(ctx, m, out)
		}
	}()
	for _, name := range names {
		parsed, perr := fragment.ParseName(name)
		if perr != nil {
			return nil, xerrors.Wrap(op, xerrors.Corrupted, perr)
		}
		if parsed.TimestampHi > snapshot {
			continue
		}
		if !hasCommitMarker(ctx, dir+"/"+name) {
			continue
		}
		fd, oerr := m.OpenFragment(ctx, ad, name, sparse, storage.Read)
		if oerr != nil {
			return nil, oerr
		}
		out = append(out, &openFragment{fd: fd, tsHi: parsed.TimestampHi})
	}
	return out, nil
}

func hasCommitMarker(ctx context.Context, fragDir string) bool {
	f, err := file.Open(ctx, fragDir+"/"+fragment.CommitMarkerName)
	if err != nil {
		return false
	}
	_ = f.Close(ctx)
	return true
}

func closeFragments(ctx context.Context, m *storage.Manager, opened []*openFragment) {
	for _, of := range opened {
		_ = m.CloseFragment(ctx, of.fd)
	}
}

// buildMergedReader opens a fragment.Reader per visible fragment and
// combines them into one array-wide MergedReader over range r.
func buildMergedReader(ctx context.Context, m *storage.Manager, s *schema.ArraySchema, sparse bool, opened []*openFragment, r tile.Range, attrIdxs []int) (*MergedReader, error) {
	srcs := make([]*fragSource, 0, len(opened))
	for _, of := range opened {
		src, err := newFragSource(m, s, sparse, of, r)
		if err != nil {
			return nil, err
		}
		srcs = append(srcs, src)
	}
	return newMergedReader(ctx, s, srcs, r, attrIdxs)
}

// projectSchema builds the schema for subarray's destination array:
// same dimensions and ordering configuration, attributes restricted to
// attrIdxs (spec §4.9: "a schema projected over the chosen attributes
// but same dimensions").
func projectSchema(s *schema.ArraySchema, attrIdxs []int) *schema.ArraySchema {
	attrs := make([]schema.Attribute, len(attrIdxs))
	for i, idx := range attrIdxs {
		attrs[i] = s.Attributes[idx]
	}
	return &schema.ArraySchema{
		ArrayName:         s.ArrayName,
		Dimensions:        append([]schema.Dimension(nil), s.Dimensions...),
		Attributes:        attrs,
		TileOrder:         s.TileOrder,
		CellOrder:         s.CellOrder,
		Capacity:          s.Capacity,
		ConsolidationStep: s.ConsolidationStep,
		CoordCompression:  s.CoordCompression,
	}
}
