// Package tile implements the fixed-capacity cell container that backs
// both attribute payloads and coordinate payloads: a growable byte
// buffer plus append/iterate operations and, for coordinate tiles, an
// MBR and bounding coordinates (spec §4.3).
package tile

import (
	"encoding/binary"
	"math"

	"github.com/tdb-core/tdb/datatype"
	"github.com/tdb-core/tdb/xerrors"
)

// Kind distinguishes an attribute-value tile from a coordinate tile.
type Kind uint8

const (
	AttributeKind Kind = iota
	CoordinateKind
)

// Tile is a fixed-capacity, append-only container of same-attribute
// cell values for one tile id.
type Tile struct {
	ID       uint64
	Kind     Kind
	AttrIdx  int
	CellType datatype.Datatype
	// CellSize is the fixed per-cell byte width, or datatype.Var for
	// variable-length attributes (an offset table is then maintained).
	CellSize uint64

	payload []byte
	offsets []uint64 // only used when CellSize == datatype.Var; len == CellCount+1

	dimNum int // only meaningful for CoordinateKind

	mbrLo, mbrHi           []float64 // len == dimNum
	boundingFirst, boundingLast []float64
	mbrSet bool
}

// New constructs an empty tile ready to receive cells.
func New(kind Kind, cellType datatype.Datatype, id uint64, cellSize uint64, initialCapacity int) *Tile {
	t := &Tile{ID: id, Kind: kind, CellType: cellType, CellSize: cellSize}
	if cellSize == datatype.Var {
		t.offsets = make([]uint64, 1, initialCapacity+1)
	}
	if cellSize != datatype.Var {
		t.payload = make([]byte, 0, int(cellSize)*initialCapacity)
	} else {
		t.payload = make([]byte, 0, initialCapacity*8)
	}
	return t
}

// NewCoord constructs an empty coordinate tile over dimNum dimensions.
func NewCoord(id uint64, cellType datatype.Datatype, dimNum int, cellSize uint64, initialCapacity int) *Tile {
	t := New(CoordinateKind, cellType, id, cellSize, initialCapacity)
	t.dimNum = dimNum
	t.mbrLo = make([]float64, dimNum)
	t.mbrHi = make([]float64, dimNum)
	return t
}

// CellCount returns the number of cells currently stored.
func (t *Tile) CellCount() int {
	if t.CellSize == datatype.Var {
		return len(t.offsets) - 1
	}
	if t.CellSize == 0 {
		return 0
	}
	return len(t.payload) / int(t.CellSize)
}

// AppendCell appends one fixed-size cell's raw bytes. len(data) must be a
// multiple of the element size (spec §4.3: "cell-size multiple of
// element size").
func (t *Tile) AppendCell(data []byte) error {
	const op = "Tile.AppendCell"
	if t.CellSize == datatype.Var {
		return xerrors.E(op, xerrors.SchemaInvalid, "tile has variable cell size; use AppendVarCell")
	}
	if uint64(len(data)) != t.CellSize {
		return xerrors.E(op, xerrors.SchemaInvalid, "cell size %d does not match tile cell size %d", len(data), t.CellSize)
	}
	t.payload = append(t.payload, data...)
	return nil
}

// AppendVarCell appends one variable-length cell, recording a new
// offset-table entry.
func (t *Tile) AppendVarCell(data []byte) error {
	const op = "Tile.AppendVarCell"
	if t.CellSize != datatype.Var {
		return xerrors.E(op, xerrors.SchemaInvalid, "tile has fixed cell size; use AppendCell")
	}
	t.payload = append(t.payload, data...)
	t.offsets = append(t.offsets, uint64(len(t.payload)))
	return nil
}

// Cell returns the raw bytes of the cell at pos.
func (t *Tile) Cell(pos int) ([]byte, error) {
	const op = "Tile.Cell"
	if t.CellSize == datatype.Var {
		if pos < 0 || pos+1 >= len(t.offsets) {
			return nil, xerrors.E(op, xerrors.BufferTooSmall, "position %d out of range", pos)
		}
		return t.payload[t.offsets[pos]:t.offsets[pos+1]], nil
	}
	if pos < 0 || pos >= t.CellCount() {
		return nil, xerrors.E(op, xerrors.BufferTooSmall, "position %d out of range", pos)
	}
	start := pos * int(t.CellSize)
	return t.payload[start : start+int(t.CellSize)], nil
}

// Offsets returns the variable-length offset table (len == CellCount()+1).
func (t *Tile) Offsets() []uint64 { return t.offsets }

// Payload returns the raw value bytes written so far.
func (t *Tile) Payload() []byte { return t.payload }

// SetPayload replaces the tile's raw bytes wholesale (used when loading
// a decoded tile back from disk).
func (t *Tile) SetPayload(data []byte) { t.payload = data }

// SetOffsets replaces the offset table wholesale.
func (t *Tile) SetOffsets(offsets []uint64) { t.offsets = offsets }

// AppendCoords appends one cell's coordinates to a coordinate tile,
// storing them as little-endian float64 (the in-memory coordinate
// representation used throughout this package; on-disk encoding uses
// the dimension's native Datatype, converted at the fragment layer) and
// updates the MBR and bounding coordinates.
func (t *Tile) AppendCoords(coords []float64) error {
	const op = "Tile.AppendCoords"
	if t.Kind != CoordinateKind {
		return xerrors.E(op, xerrors.SchemaInvalid, "AppendCoords called on a non-coordinate tile")
	}
	if len(coords) != t.dimNum {
		return xerrors.E(op, xerrors.SchemaInvalid, "expected %d coords, got %d", t.dimNum, len(coords))
	}
	buf := make([]byte, 8*len(coords))
	for i, c := range coords {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(c))
	}
	if err := t.AppendCell(buf); err != nil {
		return err
	}
	if !t.mbrSet {
		copy(t.mbrLo, coords)
		copy(t.mbrHi, coords)
		t.mbrSet = true
		t.boundingFirst = append([]float64(nil), coords...)
	} else {
		for i, c := range coords {
			if c < t.mbrLo[i] {
				t.mbrLo[i] = c
			}
			if c > t.mbrHi[i] {
				t.mbrHi[i] = c
			}
		}
	}
	t.boundingLast = append([]float64(nil), coords...)
	return nil
}

// Coord returns the coordinates stored at pos.
func (t *Tile) Coord(pos int) ([]float64, error) {
	raw, err := t.Cell(pos)
	if err != nil {
		return nil, err
	}
	out := make([]float64, t.dimNum)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return out, nil
}

// MBR returns the tile's minimum bounding rectangle (low, high per dim).
func (t *Tile) MBR() (lo, hi []float64) { return t.mbrLo, t.mbrHi }

// BoundingFirst returns the coordinates of the first cell appended.
func (t *Tile) BoundingFirst() []float64 { return t.boundingFirst }

// BoundingLast returns the coordinates of the most recently appended cell.
func (t *Tile) BoundingLast() []float64 { return t.boundingLast }

