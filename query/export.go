package query

import (
	"context"
	"io"

	kgzip "github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/tdb-core/tdb/bytebuf"
	"github.com/tdb-core/tdb/csvio"
	"github.com/tdb-core/tdb/datatype"
	"github.com/tdb-core/tdb/schema"
	"github.com/tdb-core/tdb/storage"
	"github.com/tdb-core/tdb/tile"
	"github.com/tdb-core/tdb/xerrors"
)

// Format selects array_export's per-row encoding.
type Format uint8

const (
	FormatCSV Format = iota
	FormatBinary
)

// Compression selects how array_export compresses its output stream,
// independent of the per-tile filter pipelines a fragment is stored
// with. Reuses klauspost/compress, the same package fragment's filter
// pipeline and book-keeping already depend on for gzip framing.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZstd
)

// ExportOptions configures one array_export call (spec §4.9).
type ExportOptions struct {
	Format      Format
	DimIdxs     []int // empty means every dimension, in schema order
	AttrIdxs    []int // empty means every attribute, in schema order
	Range       tile.Range
	Reverse     bool
	DenseOutput bool
	Compression Compression
	Delimiter   rune // CSV field delimiter; 0 means ','
	Precision   int  // floating-point decimal digits for CSV text
	Snapshot    int64
}

func (o ExportOptions) resolve(s *schema.ArraySchema) ExportOptions {
	if len(o.DimIdxs) == 0 {
		o.DimIdxs = identityIdxs(len(s.Dimensions))
	}
	if len(o.AttrIdxs) == 0 {
		o.AttrIdxs = identityIdxs(len(s.Attributes))
	}
	if o.Snapshot == 0 {
		o.Snapshot = SnapshotLatest
	}
	return o
}

func identityIdxs(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// Export implements array_export: it streams every qualifying cell of
// the array at ad, merged in global order across every visible
// fragment, to w as CSV or the binary cell format, forward or reverse,
// and (for dense arrays only) optionally filled out to every cell of
// the requested range with null sentinels for cells no fragment wrote
// (spec §4.9, §6's null sentinel table).
func Export(ctx context.Context, m *storage.Manager, ad storage.ArrayDescriptor, s *schema.ArraySchema, arrayDir string, w io.Writer, opts ExportOptions) (err error) {
	const op = "query.Export"
	opts = opts.resolve(s)

	dst, closeDst, err := wrapCompression(w, opts.Compression)
	if err != nil {
		return xerrors.Wrap(op, xerrors.Unsupported, err)
	}
	defer func() {
		if cerr := closeDst(); cerr != nil && err == nil {
			err = xerrors.Wrap(op, xerrors.IoError, cerr)
		}
	}()

	sparse := !s.Dense()
	opened, err := openVisibleFragments(ctx, m, ad, arrayDir, sparse, opts.Snapshot)
	if err != nil {
		return err
	}
	defer closeFragments(ctx, m, opened)

	merged, err := buildMergedReader(ctx, m, s, sparse, opened, opts.Range, opts.AttrIdxs)
	if err != nil {
		return err
	}

	sink, err := newRowSink(dst, s, opts)
	if err != nil {
		return err
	}
	if opts.Reverse {
		sink = &reverseSink{inner: sink}
	}

	if opts.DenseOutput && !sparse {
		err = emitDense(ctx, merged, s, opts, sink)
	} else {
		err = emitSparse(ctx, merged, sink)
	}
	if err != nil {
		return err
	}
	return sink.finish()
}

func emitSparse(ctx context.Context, merged *MergedReader, sink rowSink) error {
	for {
		cell, ok, err := merged.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := sink.emit(cell.Coords, cell.AttrBytes); err != nil {
			return err
		}
	}
}

// emitDense walks every coordinate of opts.Range in the schema's cell
// order, pairing it against the merged reader's (necessarily
// same-ordered) output: a coordinate the reader has not produced is an
// empty cell, filled with each attribute's null sentinel (spec §6).
// Hilbert cell order has no closed-form range walk implemented (it
// would require an inverse-Hilbert enumeration restricted to an
// arbitrary sub-rectangle, not just the full domain); dense-output
// export for a Hilbert-ordered array therefore returns an Unsupported
// error; no sparse-shaped output is produced in its place.
func emitDense(ctx context.Context, merged *MergedReader, s *schema.ArraySchema, opts ExportOptions, sink rowSink) error {
	const op = "query.emitDense"
	if s.CellOrder == schema.Hilbert {
		return xerrors.E(op, xerrors.Unsupported, "dense-output export is not implemented for hilbert cell order")
	}
	expected, err := enumerateRange(opts.Range, s.CellOrder)
	if err != nil {
		return xerrors.Wrap(op, xerrors.Unsupported, err)
	}

	cell, have, err := merged.Next(ctx)
	if err != nil {
		return err
	}
	for _, want := range expected {
		var attrBytes [][]byte
		if have {
			eq, eerr := coordsEqual(s, cell.Coords, want)
			if eerr != nil {
				return xerrors.Wrap(op, xerrors.IoError, eerr)
			}
			if eq {
				attrBytes = cell.AttrBytes
				cell, have, err = merged.Next(ctx)
				if err != nil {
					return err
				}
			}
		}
		if attrBytes == nil {
			attrBytes, err = nullAttrBytes(s, opts.AttrIdxs)
			if err != nil {
				return xerrors.Wrap(op, xerrors.Unsupported, err)
			}
		}
		if err := sink.emit(want, attrBytes); err != nil {
			return err
		}
	}
	return nil
}

func nullAttrBytes(s *schema.ArraySchema, attrIdxs []int) ([][]byte, error) {
	out := make([][]byte, len(attrIdxs))
	for i, attrIdx := range attrIdxs {
		a := s.Attributes[attrIdx]
		sentinel, err := a.Type.NullSentinel()
		if err != nil {
			return nil, err
		}
		enc, err := datatype.Encode(a.Type, sentinel)
		if err != nil {
			return nil, err
		}
		out[i] = enc
	}
	return out, nil
}

// enumerateRange materializes every coordinate inside r in cell order,
// stepping the fastest-varying dimension first: the last dimension for
// row-major (matching schema.rowMajorOffsets, where offset[last]=1) and
// the first dimension for column-major (matching
// schema.columnMajorOffsets, where offset[0]=1). This keeps the walk
// order identical to schema.ArraySchema.Precedes, which MergedReader's
// cells are already sorted by, so the two sequences can be zipped.
func enumerateRange(r tile.Range, order schema.Order) ([][]float64, error) {
	const op = "query.enumerateRange"
	n := len(r.Lo)
	dimOrder := make([]int, n) // slowest-varying first
	switch order {
	case schema.RowMajor:
		for i := 0; i < n; i++ {
			dimOrder[i] = i
		}
	case schema.ColumnMajor:
		for i := 0; i < n; i++ {
			dimOrder[i] = n - 1 - i
		}
	default:
		return nil, xerrors.E(op, xerrors.Unsupported, "dense range enumeration needs row-major or column-major cell order, got %s", order)
	}
	sizes := make([]int, n)
	total := 1
	for i, d := range dimOrder {
		sizes[i] = int(r.Hi[d]-r.Lo[d]) + 1
		total *= sizes[i]
	}
	out := make([][]float64, 0, total)
	idx := make([]int, n)
	for c := 0; c < total; c++ {
		coords := make([]float64, n)
		for i, d := range dimOrder {
			coords[d] = r.Lo[d] + float64(idx[i])
		}
		out = append(out, coords)
		for i := n - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < sizes[i] {
				break
			}
			idx[i] = 0
		}
	}
	return out, nil
}

// -- output sinks --

// rowSink receives cells in the order they must be written out.
type rowSink interface {
	emit(coords []float64, attrBytes [][]byte) error
	finish() error
}

// reverseSink buffers every row and flushes them back through inner in
// reverse, the substitute for the backward cursor array_export's
// reverse mode would otherwise need: fragment.Reader only supports
// forward iteration (see DESIGN.md).
type reverseSink struct {
	inner rowSink
	rows  []bufferedRow
}

type bufferedRow struct {
	coords    []float64
	attrBytes [][]byte
}

func (r *reverseSink) emit(coords []float64, attrBytes [][]byte) error {
	r.rows = append(r.rows, bufferedRow{coords: coords, attrBytes: attrBytes})
	return nil
}

func (r *reverseSink) finish() error {
	for i := len(r.rows) - 1; i >= 0; i-- {
		if err := r.inner.emit(r.rows[i].coords, r.rows[i].attrBytes); err != nil {
			return err
		}
	}
	return r.inner.finish()
}

func newRowSink(w io.Writer, s *schema.ArraySchema, opts ExportOptions) (rowSink, error) {
	switch opts.Format {
	case FormatCSV:
		return &csvSink{w: csvio.NewWriter(w, opts.Delimiter), s: s, opts: opts}, nil
	case FormatBinary:
		return &binarySink{w: w, s: s, opts: opts}, nil
	default:
		return nil, xerrors.E("query.newRowSink", xerrors.Unsupported, "unknown export format %d", opts.Format)
	}
}

type csvSink struct {
	w    *csvio.Writer
	s    *schema.ArraySchema
	opts ExportOptions
}

func (c *csvSink) emit(coords []float64, attrBytes [][]byte) error {
	const op = "query.csvSink.emit"
	fields := make([]string, 0, len(c.opts.DimIdxs)+len(c.opts.AttrIdxs))
	for _, di := range c.opts.DimIdxs {
		d := c.s.Dimensions[di]
		v, err := datatype.CoerceFromFloat64(d.Type, coords[di])
		if err != nil {
			return xerrors.Wrap(op, xerrors.Unsupported, err)
		}
		text, err := datatype.FormatText(d.Type, v, c.opts.Precision)
		if err != nil {
			return xerrors.Wrap(op, xerrors.Unsupported, err)
		}
		fields = append(fields, text)
	}
	for i, attrIdx := range c.opts.AttrIdxs {
		a := c.s.Attributes[attrIdx]
		v, err := datatype.Decode(a.Type, attrBytes[i])
		if err != nil {
			return xerrors.Wrap(op, xerrors.Corrupted, err)
		}
		text, err := datatype.FormatText(a.Type, v, c.opts.Precision)
		if err != nil {
			return xerrors.Wrap(op, xerrors.Unsupported, err)
		}
		fields = append(fields, text)
	}
	return c.w.WriteRecord(fields)
}

func (c *csvSink) finish() error { return c.w.Flush() }

type binarySink struct {
	w    io.Writer
	s    *schema.ArraySchema
	opts ExportOptions
}

func (b *binarySink) emit(coords []float64, attrBytes [][]byte) error {
	const op = "query.binarySink.emit"
	buf := bytebuf.NewWriter(64)
	if err := encodeCellBinary(buf, b.s, coords, b.opts.DimIdxs, attrBytes); err != nil {
		return xerrors.Wrap(op, xerrors.Unsupported, err)
	}
	if _, err := b.w.Write(buf.AllBytes()); err != nil {
		return xerrors.Wrap(op, xerrors.IoError, err)
	}
	return nil
}

func (b *binarySink) finish() error { return nil }

// wrapCompression wraps w with the requested output-stream compressor,
// returning a close function that flushes/closes the compressor (but
// never w itself, which the caller owns).
func wrapCompression(w io.Writer, c Compression) (io.Writer, func() error, error) {
	switch c {
	case CompressionNone:
		return w, func() error { return nil }, nil
	case CompressionGzip:
		gw := kgzip.NewWriter(w)
		return gw, gw.Close, nil
	case CompressionZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, nil, err
		}
		return zw, zw.Close, nil
	default:
		return nil, nil, xerrors.E("query.wrapCompression", xerrors.Unsupported, "unknown compression %d", c)
	}
}
