// Package schema models the array schema: dimensions, attributes,
// domains, tile/cell orders, and the coordinate-ordering arithmetic
// (tile-id, cell-id, precedes/succeeds) that every higher component
// dispatches through. It generalizes the source's per-type template
// dispatch into a Datatype-tagged switch (see [[datatype]]).
package schema

import (
	"math"

	"github.com/tdb-core/tdb/datatype"
	"github.com/tdb-core/tdb/xerrors"
)

// Order is the ordering discipline used for either tile layout or cell
// layout within a tile.
type Order uint8

const (
	// OrderNone is only valid as a tile order, for irregular (non-tiled)
	// layouts.
	OrderNone Order = iota
	RowMajor
	ColumnMajor
	Hilbert
)

func (o Order) String() string {
	switch o {
	case RowMajor:
		return "row-major"
	case ColumnMajor:
		return "column-major"
	case Hilbert:
		return "hilbert"
	default:
		return "none"
	}
}

// Dimension is one axis of the array's domain.
type Dimension struct {
	Name       string
	Type       datatype.Datatype
	Lo, Hi     float64 // inclusive closed domain [Lo, Hi]
	TileExtent float64 // 0 means "no tile extent on this axis"
	HasExtent  bool
}

// Range returns Hi - Lo + 1 in domain units.
func (d Dimension) Range() float64 { return d.Hi - d.Lo + 1 }

// NumTiles returns ceil(Range()/TileExtent), valid only when HasExtent.
func (d Dimension) NumTiles() uint64 {
	return uint64(math.Ceil(d.Range() / d.TileExtent))
}

// CompressionTag identifies one of the schema-file-format's legacy
// single-byte compression codes (spec §6); the richer per-filter
// pipeline (tag + parameter bytes, spec §4.4) is carried out-of-band in
// Attribute.Filters and is not part of the bit-exact schema layout.
type CompressionTag uint8

const (
	CompressionNone CompressionTag = iota
	CompressionGzip
	CompressionZstd
	CompressionLZ4
	CompressionRLE
	CompressionBzip2
	CompressionDoubleDelta
)

// FilterSpec is one entry of an attribute's ordered filter pipeline:
// a tag plus opaque parameter bytes (spec §3).
type FilterSpec struct {
	Tag    string
	Params []byte
}

// Attribute is a named per-cell value.
type Attribute struct {
	Name       string
	Type       datatype.Datatype
	Var        bool // variable-length (offset-table + bytes)
	Nullable   bool
	Filters    []FilterSpec
	Compressed CompressionTag // legacy single-byte wire compression code
}

// ArraySchema is the full definition of an array: its dimensions,
// attributes, and coordinate-ordering configuration.
type ArraySchema struct {
	ArrayName          string
	Dimensions         []Dimension
	Attributes         []Attribute
	TileOrder          Order
	CellOrder          Order
	Capacity           uint64
	ConsolidationStep  uint32
	CoordCompression   CompressionTag
}

// DimNum returns the number of dimensions.
func (s *ArraySchema) DimNum() int { return len(s.Dimensions) }

// AttrNum returns the number of attributes.
func (s *ArraySchema) AttrNum() int { return len(s.Attributes) }

// Dense reports whether every dimension carries a tile extent.
func (s *ArraySchema) Dense() bool {
	for _, d := range s.Dimensions {
		if !d.HasExtent {
			return false
		}
	}
	return len(s.Dimensions) > 0
}

// Validate enforces the invariants of spec §3's "Array schema invariants".
func (s *ArraySchema) Validate() error {
	const op = "ArraySchema.Validate"
	if len(s.Dimensions) == 0 {
		return xerrors.E(op, xerrors.SchemaInvalid, "array must have at least one dimension")
	}
	if len(s.Attributes) == 0 {
		return xerrors.E(op, xerrors.SchemaInvalid, "array must have at least one attribute")
	}
	seen := map[string]bool{}
	for _, d := range s.Dimensions {
		if seen[d.Name] {
			return xerrors.E(op, xerrors.SchemaInvalid, "duplicate dimension name %q", d.Name)
		}
		seen[d.Name] = true
		if d.Lo > d.Hi {
			return xerrors.E(op, xerrors.SchemaInvalid, "dimension %q has lo>hi", d.Name)
		}
		if !d.Type.IsNumeric() {
			return xerrors.E(op, xerrors.SchemaInvalid, "dimension %q has non-numeric type %s", d.Name, d.Type)
		}
		if d.HasExtent {
			if d.TileExtent < 1 || d.TileExtent > d.Range() {
				return xerrors.E(op, xerrors.SchemaInvalid, "dimension %q tile extent %v out of [1,%v]", d.Name, d.TileExtent, d.Range())
			}
		}
	}
	regular := s.Dense()
	irregularCount := 0
	for _, d := range s.Dimensions {
		if !d.HasExtent {
			irregularCount++
		}
	}
	if irregularCount != 0 && irregularCount != len(s.Dimensions) {
		return xerrors.E(op, xerrors.SchemaInvalid, "tile extents must be given for every dimension or none")
	}
	for _, a := range s.Attributes {
		if seen[a.Name] {
			return xerrors.E(op, xerrors.SchemaInvalid, "attribute name %q collides with a dimension name", a.Name)
		}
		if a.Name == "" {
			return xerrors.E(op, xerrors.SchemaInvalid, "attribute name must not be empty")
		}
		if seen["\x00attr\x00"+a.Name] {
			return xerrors.E(op, xerrors.SchemaInvalid, "duplicate attribute name %q", a.Name)
		}
		seen["\x00attr\x00"+a.Name] = true
	}
	if s.Capacity < 1 {
		return xerrors.E(op, xerrors.SchemaInvalid, "capacity must be >= 1")
	}
	if s.CellOrder == OrderNone {
		return xerrors.E(op, xerrors.SchemaInvalid, "cell_order must be row-major, column-major, or hilbert")
	}
	if regular {
		if s.TileOrder == OrderNone {
			return xerrors.E(op, xerrors.SchemaInvalid, "regular (dense) array must set a tile order")
		}
	} else if s.TileOrder != OrderNone {
		return xerrors.E(op, xerrors.SchemaInvalid, "irregular array must not set a tile order")
	}
	return nil
}

// CellSize returns the byte size of attribute index i's value, or
// datatype.Var for variable-length attributes.
func (s *ArraySchema) CellSize(i int) (uint64, error) {
	if i < 0 || i >= len(s.Attributes) {
		return 0, xerrors.E("ArraySchema.CellSize", xerrors.SchemaInvalid, "attribute index %d out of range", i)
	}
	a := s.Attributes[i]
	if a.Var {
		return datatype.Var, nil
	}
	return a.Type.Size()
}

// CoordSize returns the byte size of one full coordinate tuple (one cell's
// worth of dimension values), or datatype.Var if any dimension is
// variable-length (string dims are out of scope for the numeric domain
// model used here, so this currently always returns a fixed size).
func (s *ArraySchema) CoordSize() (uint64, error) {
	var total uint64
	for _, d := range s.Dimensions {
		sz, err := d.Type.Size()
		if err != nil {
			return 0, err
		}
		if sz == datatype.Var {
			return datatype.Var, nil
		}
		total += sz
	}
	return total, nil
}
