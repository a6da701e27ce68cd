package fragment

import (
	"github.com/tdb-core/tdb/datatype"
	"github.com/tdb-core/tdb/schema"
	"github.com/tdb-core/tdb/tile"
	"github.com/tdb-core/tdb/xerrors"
)

// tileCells packs a globally-ordered, merged cell stream into
// per-attribute tiles (and, for sparse arrays, a coordinate tile).
// Dense cells are grouped by tile id; sparse cells are packed capacity
// at a time into tiles numbered 0, 1, 2, ... in global order, mirroring
// write_state.h's append_tile round-robin invariant (spec §9's open
// question: kept as a hard invariant, not relaxed). Book-keeping is
// built alongside the tiling pass since tile id, MBR, and bounding
// coordinates are only known once a tile's cells are known.
func tileCells(s *schema.ArraySchema, sparse bool, cells []*Cell, capacity uint64) (attrTiles [][]*tile.Tile, coordTiles []*tile.Tile, bk *BookKeeping, lastCellNum uint64, err error) {
	const op = "fragment.tileCells"
	attrNum := s.AttrNum()
	attrTiles = make([][]*tile.Tile, attrNum)
	bk = NewBookKeeping(s, sparse)

	if len(cells) == 0 {
		bk.LastTileCellNum = 0
		return attrTiles, coordTiles, bk, 0, nil
	}

	dimNum := s.DimNum()
	coordSize, err := s.CoordSize()
	if err != nil {
		return nil, nil, nil, 0, xerrors.Wrap(op, xerrors.SchemaInvalid, err)
	}

	start := 0
	var nextSparseID uint64
	for start < len(cells) {
		tileID := cells[start].TileID
		if sparse {
			tileID = nextSparseID
			nextSparseID++
		}
		end := start + 1
		for end < len(cells) && (sparse || cells[end].TileID == tileID) {
			if sparse && uint64(end-start) >= capacity {
				break
			}
			end++
		}
		group := cells[start:end]

		for attrIdx := 0; attrIdx < attrNum; attrIdx++ {
			cellSize, csErr := s.CellSize(attrIdx)
			if csErr != nil {
				return nil, nil, nil, 0, xerrors.Wrap(op, xerrors.SchemaInvalid, csErr)
			}
			t := tile.New(tile.AttributeKind, s.Attributes[attrIdx].Type, tileID, cellSize, len(group))
			t.AttrIdx = attrIdx
			for _, c := range group {
				if cellSize == datatype.Var {
					if appendErr := t.AppendVarCell(c.AttrBytes[attrIdx]); appendErr != nil {
						return nil, nil, nil, 0, xerrors.Wrap(op, xerrors.IoError, appendErr)
					}
				} else {
					if appendErr := t.AppendCell(c.AttrBytes[attrIdx]); appendErr != nil {
						return nil, nil, nil, 0, xerrors.Wrap(op, xerrors.IoError, appendErr)
					}
				}
			}
			attrTiles[attrIdx] = append(attrTiles[attrIdx], t)
		}

		if sparse {
			coordSz := coordSize
			if coordSz == datatype.Var {
				coordSz = 8 * uint64(dimNum)
			}
			ct := tile.NewCoord(tileID, s.Dimensions[0].Type, dimNum, coordSz, len(group))
			for _, c := range group {
				if appendErr := ct.AppendCoords(c.Coords); appendErr != nil {
					return nil, nil, nil, 0, xerrors.Wrap(op, xerrors.IoError, appendErr)
				}
			}
			coordTiles = append(coordTiles, ct)
		} else {
			if appendErr := bk.AppendTile(tileID, nil, nil, nil); appendErr != nil {
				return nil, nil, nil, 0, appendErr
			}
		}

		lastCellNum = uint64(len(group))
		start = end
	}

	return attrTiles, coordTiles, bk, lastCellNum, nil
}
