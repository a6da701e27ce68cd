package query

import (
	"context"

	"github.com/grailbio/base/file"

	"github.com/tdb-core/tdb/bytebuf"
	"github.com/tdb-core/tdb/fragment"
	"github.com/tdb-core/tdb/storage"
	"github.com/tdb-core/tdb/tile"
	"github.com/tdb-core/tdb/xerrors"
)

// BufferTooSmallSize is returned (in spirit: embedded in the
// BufferTooSmall error) as the buf_size value a caller would see on
// overflow, per spec's subarray_buf contract
// ("BufferTooSmall with buf_size = u64::MAX"). Idiomatic Go reports the
// overflow through the error itself rather than an output parameter.
const BufferTooSmallSize = ^uint64(0)

// Subarray implements subarray: it opens the array at srcArrayDir in
// Read mode, creates a new array at destArrayDir whose schema is
// projected over attrIdxs but keeps the same dimensions, and writes
// every cell of srcArrayDir inside r — read in the array's global
// order across every visible fragment — into one new fragment of the
// destination array (spec §4.9).
func Subarray(ctx context.Context, m *storage.Manager, srcArrayDir, destArrayDir string, r tile.Range, attrIdxs []int, wopts fragment.WriteOptions, snapshot int64) (err error) {
	const op = "query.Subarray"
	if snapshot == 0 {
		snapshot = SnapshotLatest
	}

	srcAD, srcSchema, err := m.OpenArray(ctx, srcArrayDir)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.CloseArray(srcAD); cerr != nil && err == nil {
			err = cerr
		}
	}()

	sparse := !srcSchema.Dense()
	opened, err := openVisibleFragments(ctx, m, srcAD, srcArrayDir, sparse, snapshot)
	if err != nil {
		return err
	}
	defer closeFragments(ctx, m, opened)

	merged, err := buildMergedReader(ctx, m, srcSchema, sparse, opened, r, attrIdxs)
	if err != nil {
		return err
	}

	destSchema := projectSchema(srcSchema, attrIdxs)
	if err := m.DefineArray(ctx, destArrayDir, destSchema); err != nil {
		return xerrors.Wrap(op, xerrors.IoError, err)
	}
	destAD, _, err := m.OpenArray(ctx, destArrayDir)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.CloseArray(destAD); cerr != nil && err == nil {
			err = cerr
		}
	}()

	fw, err := fragment.NewWriter(ctx, destSchema, destArrayDir, sparse, wopts)
	if err != nil {
		return err
	}
	for {
		cell, ok, nerr := merged.Next(ctx)
		if nerr != nil {
			return nerr
		}
		if !ok {
			break
		}
		if werr := fw.Write(&fragment.Cell{Coords: cell.Coords, AttrBytes: cell.AttrBytes}); werr != nil {
			return werr
		}
	}
	if err := fw.Close(ctx); err != nil {
		return err
	}

	return m.RegisterFragment(ctx, destAD, file.Base(fw.Dir()))
}

// SubarrayBuf implements subarray_buf: the same range-restricted,
// attribute- and dimension-projected read as Subarray, serialized into
// the caller-supplied buf instead of a new fragment, using the query
// processor's binary cell format (coords then attribute values, spec
// §4.9). It returns the number of bytes written, or a BufferTooSmall
// error if buf is not large enough to hold the whole result.
func SubarrayBuf(ctx context.Context, m *storage.Manager, ad storage.ArrayDescriptor, arrayDir string, r tile.Range, dimIdxs, attrIdxs []int, buf []byte, snapshot int64) (n int, err error) {
	const op = "query.SubarrayBuf"
	if snapshot == 0 {
		snapshot = SnapshotLatest
	}

	_, s, err := m.OpenArray(ctx, arrayDir)
	if err != nil {
		return 0, err
	}

	sparse := !s.Dense()
	opened, err := openVisibleFragments(ctx, m, ad, arrayDir, sparse, snapshot)
	if err != nil {
		return 0, err
	}
	defer closeFragments(ctx, m, opened)

	merged, err := buildMergedReader(ctx, m, s, sparse, opened, r, attrIdxs)
	if err != nil {
		return 0, err
	}

	w := bytebuf.NewWriter(len(buf))
	for {
		cell, ok, nerr := merged.Next(ctx)
		if nerr != nil {
			return 0, nerr
		}
		if !ok {
			break
		}
		if encErr := encodeCellBinary(w, s, cell.Coords, dimIdxs, cell.AttrBytes); encErr != nil {
			return 0, xerrors.Wrap(op, xerrors.Unsupported, encErr)
		}
	}

	data := w.AllBytes()
	if len(data) > len(buf) {
		return 0, xerrors.E(op, xerrors.BufferTooSmall, "result needs %d bytes, caller buffer has %d (buf_size=%d)", len(data), len(buf), BufferTooSmallSize)
	}
	return copy(buf, data), nil
}
