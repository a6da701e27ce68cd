package fragment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"

	"github.com/tdb-core/tdb/bytebuf"
	"github.com/tdb-core/tdb/filter"
	"github.com/tdb-core/tdb/schema"
	"github.com/tdb-core/tdb/tile"
	"github.com/tdb-core/tdb/xerrors"
)

// FormatVersion is the current (post-v12, gzip-framed) book-keeping
// layout version this package writes and expects on read (spec §9's
// open question about pre-v12 fallback is deliberately left
// unimplemented; see DESIGN.md).
const FormatVersion = 12

const (
	CommitMarkerName = "__commit"
	MetadataFileName = "__fragment_metadata"
	CoordsFileName   = "__coords.tdb"
)

// WriteOptions configures the external-sort write pipeline (spec §4.6).
type WriteOptions struct {
	// MaxRunSize bounds the in-memory run before it is sorted and
	// spilled, mirroring sm.write_state_max_size (spec §6).
	MaxRunSize int
	// Parallelism bounds the per-attribute compute fan-out used for
	// tiling, filtering, and flush (spec §5's compute pool).
	Parallelism int
	// Capacity is cells-per-tile for sparse/irregular arrays, or
	// cell_num_per_tile for regular-dense arrays.
	Capacity uint64
}

func (o WriteOptions) withDefaults() WriteOptions {
	if o.MaxRunSize <= 0 {
		o.MaxRunSize = DefaultSortBatchSize
	}
	if o.Parallelism <= 0 {
		o.Parallelism = 2
	}
	if o.Capacity == 0 {
		o.Capacity = 1
	}
	return o
}

// Name returns the fragment directory name encoding
// (timestamp_lo, timestamp_hi, uuid, format_version), per spec §6.
func Name(timestampLo, timestampHi int64, id uuid.UUID) string {
	return fmt.Sprintf("__%d_%d_%s_%d", timestampLo, timestampHi, id.String(), FormatVersion)
}

// Writer accepts cells (in any order) and produces a single immutable
// fragment: a globally-ordered, tile-packed, filtered, on-disk layout
// plus its book-keeping. It generalizes the teacher's
// cmd/bio-bam-sort/sorter external-sort pipeline from fixed SAM records
// to schema-driven cells.
type Writer struct {
	schema        *schema.ArraySchema
	sparse        bool
	opts          WriteOptions
	dir           string
	pending       []*Cell
	runs          [][]*Cell
	errs          errors.Once
	pipelines     []*filter.Pipeline
	coordPipeline *filter.Pipeline
}

// NewWriter creates a new fragment directory under arrayDir and returns
// a Writer ready to accept cells.
func NewWriter(ctx context.Context, s *schema.ArraySchema, arrayDir string, sparse bool, opts WriteOptions) (*Writer, error) {
	const op = "fragment.NewWriter"
	opts = opts.withDefaults()
	now := time.Now().UnixNano()
	dir := arrayDir + "/" + Name(now, now, uuid.New())

	pipelines := make([]*filter.Pipeline, len(s.Attributes))
	for i, a := range s.Attributes {
		specs := make([]filter.Spec, len(a.Filters))
		for j, f := range a.Filters {
			specs[j] = filter.Spec{Tag: f.Tag, Params: f.Params}
		}
		p, err := filter.Build(specs)
		if err != nil {
			return nil, xerrors.Wrap(op, xerrors.SchemaInvalid, err)
		}
		pipelines[i] = p
	}
	// Dimensions carry no filter spec of their own (spec §3 attaches
	// filters to attributes only); the coordinate tile is written
	// through an identity pipeline.
	coordPipeline, err := filter.Build(nil)
	if err != nil {
		return nil, xerrors.Wrap(op, xerrors.SchemaInvalid, err)
	}

	w := &Writer{
		schema:        s,
		sparse:        sparse,
		opts:          opts,
		dir:           dir,
		pipelines:     pipelines,
		coordPipeline: coordPipeline,
	}
	return w, nil
}

// Dir returns the fragment's directory path.
func (w *Writer) Dir() string { return w.dir }

// Write accumulates one cell. It computes the cell's tile id and cell id
// from the schema, overwriting any values already set (spec §4.6 step
// 1). For sparse fragments, and for arrays without a tile order, the
// tile id is cell id / Capacity; in a sparse fragment it only orders the
// cells, and tileCells numbers the stored tiles itself.
func (w *Writer) Write(c *Cell) error {
	const op = "Writer.Write"
	if w.sparse || w.schema.TileOrder == schema.OrderNone {
		id, err := w.schema.CellID(c.Coords)
		if err != nil {
			return xerrors.Wrap(op, xerrors.DomainOutOfRange, err)
		}
		c.CellID = id
		c.TileID = id / w.opts.Capacity
	} else {
		tid, err := w.schema.TileID(c.Coords)
		if err != nil {
			return xerrors.Wrap(op, xerrors.DomainOutOfRange, err)
		}
		cid, err := w.schema.CellID(c.Coords)
		if err != nil {
			return xerrors.Wrap(op, xerrors.DomainOutOfRange, err)
		}
		c.TileID, c.CellID = tid, cid
	}
	w.pending = append(w.pending, c)
	if len(w.pending) >= w.opts.MaxRunSize {
		return w.spill()
	}
	return nil
}

func (w *Writer) spill() error {
	if err := sortRun(w.schema, w.pending); err != nil {
		return err
	}
	log.Debug.Printf("fragment %s: spilling run %d (%d cells)", w.dir, len(w.runs), len(w.pending))
	w.runs = append(w.runs, w.pending)
	w.pending = nil
	return nil
}

// Close finalizes the fragment: flushes the remaining run, merges every
// run into global order, tiles the result, filters and writes each
// attribute's data file, writes book-keeping, and finally the commit
// marker (spec §4.6 step 4, §4.5's finalize).
func (w *Writer) Close(ctx context.Context) (err error) {
	const op = "Writer.Close"
	defer func() {
		if err != nil {
			_ = file.RemoveAll(ctx, w.dir)
		}
	}()

	if len(w.pending) > 0 {
		if err = w.spill(); err != nil {
			return xerrors.Wrap(op, xerrors.IoError, err)
		}
	}
	log.Debug.Printf("fragment %s: merging %d runs", w.dir, len(w.runs))
	merged, err := mergeRuns(w.schema, w.runs)
	if err != nil {
		return xerrors.Wrap(op, xerrors.IoError, err)
	}

	attrTiles, coordTiles, bk, lastCellNum, err := tileCells(w.schema, w.sparse, merged, w.opts.Capacity)
	if err != nil {
		return err
	}

	// Attribute files are independent, so flushing them is the compute
	// pool's job (spec §5); w.errs.Set mirrors pam.Writer.err, keeping
	// only the first failure while the remaining workers still run to
	// completion instead of leaving goroutines blocked on the bk mutex.
	attrNum := len(w.schema.Attributes)
	traverse.Each(attrNum, func(i int) error { // nolint: errcheck
		if ferr := w.flushAttribute(ctx, i, attrTiles[i], bk); ferr != nil {
			w.errs.Set(ferr)
		}
		return nil
	})
	if w.sparse {
		if ferr := w.flushCoords(ctx, coordTiles, bk); ferr != nil {
			w.errs.Set(ferr)
		}
	}
	if err := w.errs.Err(); err != nil {
		return xerrors.Wrap(op, xerrors.IoError, err)
	}

	bk.LastTileCellNum = lastCellNum
	bk.Finalize()
	data, err := bk.Serialize()
	if err != nil {
		return xerrors.Wrap(op, xerrors.IoError, err)
	}
	if err := writeFile(ctx, w.dir+"/"+MetadataFileName, data); err != nil {
		return xerrors.Wrap(op, xerrors.IoError, err)
	}
	if err := writeFile(ctx, w.dir+"/"+CommitMarkerName, nil); err != nil {
		return xerrors.Wrap(op, xerrors.IoError, err)
	}
	log.Debug.Printf("fragment %s: committed, %d cells", w.dir, lastCellNum)
	return nil
}

func (w *Writer) flushAttribute(ctx context.Context, attrIdx int, tiles []*tile.Tile, bk *BookKeeping) (err error) {
	const op = "Writer.flushAttribute"
	name := w.schema.Attributes[attrIdx].Name
	f, err := file.Create(ctx, w.dir+"/"+name+".tdb")
	if err != nil {
		return xerrors.Wrap(op, xerrors.IoError, err)
	}
	defer file.CloseAndReport(ctx, f, &err)

	wr := f.Writer(ctx)
	var offset uint64
	varAttr := w.schema.Attributes[attrIdx].Var
	for _, t := range tiles {
		raw := t.Payload()
		if varAttr {
			raw = EncodeVarPayload(t)
		}
		encoded, encErr := w.pipelines[attrIdx].Encode(raw)
		if encErr != nil {
			return xerrors.Wrap(op, xerrors.Unsupported, encErr)
		}
		if _, writeErr := wr.Write(encoded); writeErr != nil {
			return xerrors.Wrap(op, xerrors.IoError, writeErr)
		}
		var varOffset, varSize *uint64
		if w.schema.Attributes[attrIdx].Var {
			vo := offset
			vs := uint64(len(encoded))
			varOffset, varSize = &vo, &vs
		}
		if appendErr := bk.AppendTileMetadata(attrIdx, offset, varOffset, varSize); appendErr != nil {
			return appendErr
		}
		offset += uint64(len(encoded))
	}
	return nil
}

func (w *Writer) flushCoords(ctx context.Context, tiles []*tile.Tile, bk *BookKeeping) (err error) {
	const op = "Writer.flushCoords"
	f, err := file.Create(ctx, w.dir+"/"+CoordsFileName)
	if err != nil {
		return xerrors.Wrap(op, xerrors.IoError, err)
	}
	defer file.CloseAndReport(ctx, f, &err)

	wr := f.Writer(ctx)
	var offset uint64
	for _, t := range tiles {
		encoded, encErr := w.coordPipeline.Encode(t.Payload())
		if encErr != nil {
			return xerrors.Wrap(op, xerrors.Unsupported, encErr)
		}
		if _, writeErr := wr.Write(encoded); writeErr != nil {
			return xerrors.Wrap(op, xerrors.IoError, writeErr)
		}
		if appendErr := bk.AppendCoordOffset(offset); appendErr != nil {
			return appendErr
		}
		lo, hi := t.MBR()
		if appendErr := bk.AppendTile(t.ID, &Rect{Lo: lo, Hi: hi}, t.BoundingFirst(), t.BoundingLast()); appendErr != nil {
			return appendErr
		}
		offset += uint64(len(encoded))
	}
	return nil
}

func writeFile(ctx context.Context, path string, data []byte) error {
	f, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	if len(data) > 0 {
		if _, err := f.Writer(ctx).Write(data); err != nil {
			_ = f.Close(ctx)
			return err
		}
	}
	return f.Close(ctx)
}
