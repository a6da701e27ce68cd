package tile

import "github.com/tdb-core/tdb/datatype"

// Range is a hyper-rectangular query range: inclusive [Lo[i], Hi[i]]
// per dimension.
type Range struct {
	Lo, Hi []float64
}

// Contains reports whether coords lie within r on every axis.
func (r Range) Contains(coords []float64) bool {
	for i, c := range coords {
		if c < r.Lo[i] || c > r.Hi[i] {
			return false
		}
	}
	return true
}

// ContainsRect reports whether the rectangle [lo,hi] is entirely
// contained in r (used to classify a tile's MBR as fully inside range).
func (r Range) ContainsRect(lo, hi []float64) bool {
	for i := range lo {
		if lo[i] < r.Lo[i] || hi[i] > r.Hi[i] {
			return false
		}
	}
	return true
}

// Overlaps reports whether rectangle [lo,hi] intersects r on every axis.
func (r Range) Overlaps(lo, hi []float64) bool {
	for i := range lo {
		if hi[i] < r.Lo[i] || lo[i] > r.Hi[i] {
			return false
		}
	}
	return true
}

// Cursor is a cell-level iterator over a Tile, replacing the source's
// C-style iterator classes (operator++/operator*) with an idiomatic
// next()-style cursor (spec §9).
type Cursor struct {
	t   *Tile
	pos int
}

// NewCursor returns a cursor positioned before the first cell.
func NewCursor(t *Tile) *Cursor { return &Cursor{t: t, pos: -1} }

// Next advances the cursor and reports whether a cell is available.
func (c *Cursor) Next() bool {
	c.pos++
	return c.pos < c.t.CellCount()
}

// Pos returns the cursor's current position.
func (c *Cursor) Pos() int { return c.pos }

// Seek positions the cursor at pos directly (used to resume a read that
// stopped mid-tile, per spec §4.7 step 5).
func (c *Cursor) Seek(pos int) { c.pos = pos }

// Cell returns the raw bytes of the current cell.
func (c *Cursor) Cell() ([]byte, error) { return c.t.Cell(c.pos) }

// Coord returns the coordinates of the current cell (coordinate tiles
// only).
func (c *Cursor) Coord() ([]float64, error) { return c.t.Coord(c.pos) }

// IsNull reports whether the current cell is a variable-length empty
// value used as a null marker; fixed-size nullability is tracked by a
// separate validity tile and is not modeled here.
func (c *Cursor) IsNull() bool {
	if c.t.CellSize == datatype.Var {
		cell, err := c.t.Cell(c.pos)
		return err == nil && len(cell) == 0
	}
	return false
}

// InsideRange reports whether the current cell's coordinates lie within
// r (coordinate tiles only).
func (c *Cursor) InsideRange(r Range) (bool, error) {
	coord, err := c.t.Coord(c.pos)
	if err != nil {
		return false, err
	}
	return r.Contains(coord), nil
}
