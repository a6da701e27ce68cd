package fragment

import (
	"context"

	"github.com/tdb-core/tdb/schema"
	"github.com/tdb-core/tdb/tile"
	"github.com/tdb-core/tdb/xerrors"
)

// Overlap classifies how a tile's cells relate to a query range (spec
// §4.7), matching core/include/fragment/read_state.h's OverlappingTile.
type Overlap uint8

const (
	OverlapNone Overlap = iota
	OverlapFull
	OverlapPartial
	// OverlapPartialSpecial is the axis-aligned dense case where the
	// qualifying cells form one contiguous on-disk slab.
	OverlapPartialSpecial
)

// TileLoader loads and decodes one attribute tile's bytes, given its
// rank. The storage manager (C9) supplies the concrete implementation
// (segment-staged disk read through the cache); tests can supply a
// simple in-memory stub. For sparse fragments LoadCoordTile reads the
// on-disk coordinate tile; for dense fragments there is no stored
// coordinate tile, so the implementation synthesizes one from the
// schema's tile/cell order arithmetic (tile id + cell position ->
// coordinates is the inverse of TileID/CellID).
type TileLoader interface {
	LoadTile(ctx context.Context, attrIdx, rank int) (*tile.Tile, error)
	LoadCoordTile(ctx context.Context, rank int) (*tile.Tile, error)
}

// Reader streams cells from one fragment that fall within a query
// range, in the array's global order, resuming across next_batch-style
// calls (spec §4.7).
type Reader struct {
	schema *schema.ArraySchema
	bk     *BookKeeping
	loader TileLoader
	sparse bool

	// cursor state, resumable across Next calls.
	rankIdx     int // index into the current overlap rank list
	ranks       []OverlapRank
	coordCursor *tile.Cursor
	curFull     bool
}

// NewReader opens a read over bk restricted to range r, enumerating
// overlapping tiles in global (ascending tile-id) order.
func NewReader(s *schema.ArraySchema, bk *BookKeeping, sparse bool, loader TileLoader, r tile.Range) (*Reader, error) {
	const op = "fragment.NewReader"
	rd := &Reader{
		schema: s,
		bk:     bk,
		loader: loader,
		sparse: sparse,
	}
	ranks, err := rd.overlappingRanks(r)
	if err != nil {
		return nil, xerrors.Wrap(op, xerrors.IoError, err)
	}
	rd.ranks = ranks
	return rd, nil
}

// overlappingRanks enumerates tile ranks overlapping r, in ascending
// tile-id order. Dense regular arrays carry no per-tile MBR in
// book-keeping, so each candidate tile's domain sub-rectangle is derived
// from its tile id via the schema's tile-order arithmetic instead (spec
// §4.7 step 1: "map the query range to tile coordinates").
func (rd *Reader) overlappingRanks(r tile.Range) ([]OverlapRank, error) {
	if rd.sparse {
		sr := Rect{Lo: r.Lo, Hi: r.Hi}
		return rd.bk.OverlappingTileRanks(sr)
	}
	const op = "fragment.Reader.overlappingRanks"
	out := make([]OverlapRank, 0, len(rd.bk.TileIDs))
	for rank, tileID := range rd.bk.TileIDs {
		lo, hi, err := rd.schema.TileRect(tileID)
		if err != nil {
			return nil, xerrors.Wrap(op, xerrors.SchemaInvalid, err)
		}
		if !r.Overlaps(lo, hi) {
			continue
		}
		out = append(out, OverlapRank{Rank: rank, Full: r.ContainsRect(lo, hi)})
	}
	return out, nil
}

// ReadCell is one delivered (coords, per-attribute bytes) record.
type ReadCell struct {
	Coords    []float64
	AttrBytes [][]byte
}

// Next advances to and returns the next qualifying cell within the
// query range, or (nil, false, nil) when the stream is exhausted. It
// implements the per-cell equivalent of next_batch: internally it walks
// overlapping tiles in order, loading (and caching, via the loader) each
// tile's attribute and coordinate payloads on demand, and resumes
// mid-tile across calls via the stored cursors.
func (rd *Reader) Next(ctx context.Context, r tile.Range, attrIdxs []int) (*ReadCell, bool, error) {
	const op = "fragment.Reader.Next"
	for {
		if rd.coordCursor == nil {
			if rd.rankIdx >= len(rd.ranks) {
				return nil, false, nil
			}
			orank := rd.ranks[rd.rankIdx]
			ct, err := rd.loader.LoadCoordTile(ctx, orank.Rank)
			if err != nil {
				return nil, false, xerrors.Wrap(op, xerrors.IoError, err)
			}
			rd.coordCursor = tile.NewCursor(ct)
			rd.curFull = orank.Full
		}

		for rd.coordCursor.Next() {
			inside := rd.curFull
			if !inside {
				var err error
				inside, err = rd.coordCursor.InsideRange(r)
				if err != nil {
					return nil, false, xerrors.Wrap(op, xerrors.IoError, err)
				}
			}
			if !inside {
				continue
			}
			coords, err := rd.coordCursor.Coord()
			if err != nil {
				return nil, false, xerrors.Wrap(op, xerrors.IoError, err)
			}
			attrBytes := make([][]byte, len(attrIdxs))
			rank := rd.ranks[rd.rankIdx].Rank
			for j, attrIdx := range attrIdxs {
				at, err := rd.loader.LoadTile(ctx, attrIdx, rank)
				if err != nil {
					return nil, false, xerrors.Wrap(op, xerrors.IoError, err)
				}
				cell, err := at.Cell(rd.coordCursor.Pos())
				if err != nil {
					return nil, false, xerrors.Wrap(op, xerrors.IoError, err)
				}
				attrBytes[j] = cell
			}
			return &ReadCell{Coords: coords, AttrBytes: attrBytes}, true, nil
		}

		rd.coordCursor = nil
		rd.rankIdx++
	}
}

